package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v2"
)

type SourceConfig struct {
	Name               string   `yaml:"name"`
	BaseURLs           []string `yaml:"base_urls"`
	StartURLs          []string `yaml:"start_urls"`
	Sitemaps           []string `yaml:"sitemaps"`
	FollowPatterns     []string `yaml:"follow_patterns"`
	PaginationPatterns []string `yaml:"pagination_patterns"`
	ExcludePatterns    []string `yaml:"exclude_patterns"`
	Category           string   `yaml:"category"`
	MaxPages           int      `yaml:"max_pages"`
	// Priority orders sources for discovery and refresh, highest first.
	Priority int `yaml:"priority"`
}

type DBConfig struct {
	// Driver is one of sqlite, postgres or mongo.
	Driver      string `yaml:"driver"`
	Connection  string `yaml:"connection"`
	Database    string `yaml:"database"`
	Collections struct {
		Items    string `yaml:"items"`
		History  string `yaml:"history"`
		Sessions string `yaml:"sessions"`
		Counters string `yaml:"counters"`
	} `yaml:"collections"`
}

type LogicConfig struct {
	DelayMS              int      `yaml:"delay_ms"`
	TimeoutSec           int      `yaml:"timeout_sec"`
	MaxRetries           int      `yaml:"max_retries"`
	RetryWaitMS          int      `yaml:"retry_wait_ms"`
	MaxRedirects         int      `yaml:"max_redirects"`
	MaxDepth             int      `yaml:"max_depth"`
	MaxConcurrentWorkers int      `yaml:"max_concurrent_workers"`
	RespectRobots        bool     `yaml:"respect_robots"`
	UserAgents           []string `yaml:"user_agents"`
	AcceptLanguage       string   `yaml:"accept_language"`
	Timezone             string   `yaml:"timezone"`
}

type MonitorConfig struct {
	PollIntervalSec  int `yaml:"poll_interval_sec"`
	MaxDurationMin   int `yaml:"max_duration_min"`
	LeadTimeMin      int `yaml:"lead_time_min"`
	WaitStepSec      int `yaml:"wait_step_sec"`
	SweepIntervalSec int `yaml:"sweep_interval_sec"`
}

type NotifyConfig struct {
	NATSURL      string `yaml:"nats_url"`
	NATSSubject  string `yaml:"nats_subject"`
	RedisAddr    string `yaml:"redis_addr"`
	RedisChannel string `yaml:"redis_channel"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	DB      DBConfig                `yaml:"db"`
	Logic   LogicConfig             `yaml:"logic"`
	Monitor MonitorConfig           `yaml:"monitor"`
	Notify  NotifyConfig            `yaml:"notify"`
	Log     LogConfig               `yaml:"log"`
	Sources map[string]SourceConfig `yaml:"sources"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration usable without a file: local SQLite and no sources.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Connection == "" && c.DB.Driver == "sqlite" {
		c.DB.Connection = "lotwatch.db"
	}
	if c.DB.Database == "" {
		c.DB.Database = "lotwatch"
	}
	if c.DB.Collections.Items == "" {
		c.DB.Collections.Items = "items"
	}
	if c.DB.Collections.History == "" {
		c.DB.Collections.History = "value_history"
	}
	if c.DB.Collections.Sessions == "" {
		c.DB.Collections.Sessions = "sessions"
	}
	if c.DB.Collections.Counters == "" {
		c.DB.Collections.Counters = "counters"
	}

	l := &c.Logic
	if l.TimeoutSec <= 0 {
		l.TimeoutSec = 30
	}
	if l.MaxRetries <= 0 {
		l.MaxRetries = 3
	}
	if l.RetryWaitMS <= 0 {
		l.RetryWaitMS = 2000
	}
	if l.MaxRedirects <= 0 {
		l.MaxRedirects = 15
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = 3
	}
	if l.MaxConcurrentWorkers <= 0 {
		l.MaxConcurrentWorkers = 4
	}
	if l.AcceptLanguage == "" {
		l.AcceptLanguage = "pt-BR,pt;q=0.9,en;q=0.8"
	}
	if l.Timezone == "" {
		l.Timezone = "America/Sao_Paulo"
	}

	m := &c.Monitor
	if m.PollIntervalSec <= 0 {
		m.PollIntervalSec = 30
	}
	if m.MaxDurationMin <= 0 {
		m.MaxDurationMin = 180
	}
	if m.LeadTimeMin <= 0 {
		m.LeadTimeMin = 120
	}
	if m.WaitStepSec <= 0 {
		m.WaitStepSec = 60
	}
	if m.SweepIntervalSec <= 0 {
		m.SweepIntervalSec = 300
	}

	if c.Notify.NATSSubject == "" {
		c.Notify.NATSSubject = "lots.changes"
	}
	if c.Notify.RedisChannel == "" {
		c.Notify.RedisChannel = "lots:changes"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	for name, src := range c.Sources {
		if src.Name == "" {
			src.Name = name
		}
		if src.MaxPages <= 0 {
			src.MaxPages = 10
		}
		c.Sources[name] = src
	}
}

func (c *Config) Validate() error {
	var errs []error
	switch c.DB.Driver {
	case "sqlite", "postgres", "mongo":
	default:
		errs = append(errs, fmt.Errorf("db.driver %q is not supported", c.DB.Driver))
	}
	if c.DB.Connection == "" {
		errs = append(errs, errors.New("db.connection is required"))
	}
	if _, err := time.LoadLocation(c.Logic.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("logic.timezone: %w", err))
	}
	for name, src := range c.Sources {
		if len(src.StartURLs) == 0 && len(src.Sitemaps) == 0 {
			errs = append(errs, fmt.Errorf("source %s: start_urls or sitemaps required", name))
		}
	}
	return errors.Join(errs...)
}

// SourceNames returns the configured source keys by descending priority,
// ties broken by key.
func (c *Config) SourceNames() []string {
	names := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		names = append(names, name)
	}
	slices.SortFunc(names, func(a, b string) int {
		if pa, pb := c.Sources[a].Priority, c.Sources[b].Priority; pa != pb {
			return pb - pa
		}
		return strings.Compare(a, b)
	})
	return names
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Logic.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (l LogicConfig) Timeout() time.Duration   { return time.Duration(l.TimeoutSec) * time.Second }
func (l LogicConfig) Delay() time.Duration     { return time.Duration(l.DelayMS) * time.Millisecond }
func (l LogicConfig) RetryWait() time.Duration { return time.Duration(l.RetryWaitMS) * time.Millisecond }

func (m MonitorConfig) PollInterval() time.Duration {
	return time.Duration(m.PollIntervalSec) * time.Second
}
func (m MonitorConfig) MaxDuration() time.Duration {
	return time.Duration(m.MaxDurationMin) * time.Minute
}
func (m MonitorConfig) LeadTime() time.Duration { return time.Duration(m.LeadTimeMin) * time.Minute }
func (m MonitorConfig) WaitStep() time.Duration { return time.Duration(m.WaitStepSec) * time.Second }
func (m MonitorConfig) SweepInterval() time.Duration {
	return time.Duration(m.SweepIntervalSec) * time.Second
}
