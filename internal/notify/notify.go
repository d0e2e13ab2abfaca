// Package notify publishes committed value changes.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"lotwatch/internal/config"
	"lotwatch/internal/models"
)

type Sink interface {
	Publish(ctx context.Context, change models.Change) error
	Close() error
}

// LogSink writes every change to the structured log.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, c models.Change) error {
	s.logger.InfoContext(ctx, "value changed",
		"item_id", c.ItemID,
		"site", c.SourceSite,
		"url", c.URL,
		"old", c.OldValue,
		"new", c.NewValue,
		"bids", c.BidCount,
	)
	return nil
}

func (s *LogSink) Close() error { return nil }

// Multi fans a change out to every sink. A failing sink does not keep the
// others from receiving it.
type Multi []Sink

func (m Multi) Publish(ctx context.Context, c models.Change) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FromConfig builds the log sink plus NATS and Redis sinks when configured.
// Sinks that fail to connect are skipped with a warning.
func FromConfig(cfg config.NotifyConfig) Multi {
	sinks := Multi{NewLogSink(nil)}

	if cfg.NATSURL != "" {
		s, err := NewNATSSink(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			slog.Warn("nats notifications disabled", "error", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.RedisAddr != "" {
		s, err := NewRedisSink(cfg.RedisAddr, cfg.RedisChannel)
		if err != nil {
			slog.Warn("redis notifications disabled", "error", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	return sinks
}
