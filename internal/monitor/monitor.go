// Package monitor polls the pages of live auction items and commits every
// value change it sees.
package monitor

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/dustin/go-humanize"

	"lotwatch/internal/config"
	"lotwatch/internal/extract"
	"lotwatch/internal/fetch"
	"lotwatch/internal/ledger"
	"lotwatch/internal/lifecycle"
	"lotwatch/internal/models"
	"lotwatch/internal/notify"
	"lotwatch/internal/syncer"
)

type State string

const (
	NotMonitored State = "not_monitored"
	Pending      State = "pending"
	Active       State = "active"
	Stopped      State = "stopped"
)

type Fetcher interface {
	Get(ctx context.Context, url string, followRedirects bool) (*fetch.Response, error)
}

type Committer interface {
	Commit(ctx context.Context, ref syncer.Ref, obs models.ValueObservation) (models.Change, bool, error)
}

type CandidateSource interface {
	ListMonitorCandidates(ctx context.Context) ([]models.Item, error)
}

type Options struct {
	PollInterval  time.Duration
	MaxDuration   time.Duration
	LeadTime      time.Duration
	WaitStep      time.Duration
	SweepInterval time.Duration
	Location      *time.Location
	// Now is the clock phases are computed against.
	Now func() time.Time
}

func OptionsFrom(cfg *config.Config) Options {
	return Options{
		PollInterval:  cfg.Monitor.PollInterval(),
		MaxDuration:   cfg.Monitor.MaxDuration(),
		LeadTime:      cfg.Monitor.LeadTime(),
		WaitStep:      cfg.Monitor.WaitStep(),
		SweepInterval: cfg.Monitor.SweepInterval(),
		Location:      cfg.Location(),
	}
}

type Deps struct {
	Fetcher    Fetcher
	Extractor  *extract.Extractor
	Committer  Committer
	Candidates CandidateSource
	Sink       notify.Sink
	Ledger     *ledger.Ledger
}

type task struct {
	item   models.Item
	state  State
	cancel context.CancelFunc
	done   chan struct{}

	// own copy of the bounds, refreshed from the page while polling
	start, end *time.Time
	closed     bool
	// unsynced is a recorded observation whose commit failed
	unsynced *models.ValueObservation
}

// Scheduler owns every monitor task of the process. At most one task runs
// per item; a task that stopped is not restarted until the process restarts.
type Scheduler struct {
	deps Deps
	opts Options

	mu      sync.Mutex
	tasks   map[int64]*task
	retired map[int64]bool
	wg      sync.WaitGroup
}

func New(deps Deps, opts Options) *Scheduler {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 3 * time.Hour
	}
	if opts.LeadTime <= 0 {
		opts.LeadTime = 2 * time.Hour
	}
	if opts.WaitStep <= 0 {
		opts.WaitStep = time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Extractor == nil {
		deps.Extractor = extract.New()
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.New()
	}
	if deps.Sink == nil {
		deps.Sink = notify.NewLogSink(nil)
	}
	return &Scheduler{
		deps:    deps,
		opts:    opts,
		tasks:   make(map[int64]*task),
		retired: make(map[int64]bool),
	}
}

func closedStatus(status string) bool {
	return status == models.LotSold || status == models.LotClosed
}

// Phase computes the item's phase now. Sold or closed lots are finished
// whatever their dates say.
func (s *Scheduler) Phase(item models.Item) models.Phase {
	if closedStatus(item.LotStatus) {
		return models.PhaseFinished
	}
	now := s.opts.Now()
	start, end := lifecycle.Bounds(item.AuctionStart, item.AuctionEnd, now, s.opts.Location)
	return lifecycle.Classify(now, start, end)
}

// Consider starts a task for item when it is eligible.
func (s *Scheduler) Consider(ctx context.Context, item models.Item) bool {
	now := s.opts.Now()
	start, _ := lifecycle.Bounds(item.AuctionStart, item.AuctionEnd, now, s.opts.Location)
	if !lifecycle.Eligible(now, s.Phase(item), start, s.opts.LeadTime) {
		return false
	}
	return s.Start(ctx, item)
}

// Start spawns the task for item unless one is live or already stopped.
func (s *Scheduler) Start(ctx context.Context, item models.Item) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[item.ID]; ok || s.retired[item.ID] {
		return false
	}

	tctx, cancel := context.WithCancel(ctx)
	t := &task{
		item:   item,
		state:  Pending,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.start, t.end = lifecycle.Bounds(item.AuctionStart, item.AuctionEnd, s.opts.Now(), s.opts.Location)
	t.closed = closedStatus(item.LotStatus)
	s.tasks[item.ID] = t

	s.wg.Add(1)
	go s.run(tctx, t)
	return true
}

// Stop cancels the task of id and waits for it to exit.
func (s *Scheduler) Stop(id int64) bool {
	s.mu.Lock()
	t, ok := s.tasks[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	t.cancel()
	<-t.done
	return true
}

func (s *Scheduler) StopAll() {
	s.mu.Lock()
	for _, t := range s.tasks {
		t.cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Wait blocks until every task has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Live returns the ids of items with a running task.
func (s *Scheduler) Live() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Scheduler) State(id int64) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tasks[id]; ok {
		return t.state
	}
	if s.retired[id] {
		return Stopped
	}
	return NotMonitored
}

func (s *Scheduler) setState(t *task, st State) {
	s.mu.Lock()
	t.state = st
	s.mu.Unlock()
}

// Sweep loads candidates from the store and starts tasks for the eligible
// ones. It returns how many were started.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	if s.deps.Candidates == nil {
		return 0, errors.New("no candidate source configured")
	}
	items, err := s.deps.Candidates.ListMonitorCandidates(ctx)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, item := range items {
		if s.Consider(ctx, item) {
			started++
		}
	}
	slog.Info("monitor sweep", "candidates", len(items), "started", started, "live", len(s.Live()))
	return started, nil
}

// Run sweeps every SweepInterval until ctx ends, then stops every task.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.StopAll()

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			slog.Error("monitor sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) run(ctx context.Context, t *task) {
	id := t.item.ID
	reason := "cancelled"
	activeSince := s.opts.Now()
	defer func() {
		s.mu.Lock()
		delete(s.tasks, id)
		s.retired[id] = true
		t.state = Stopped
		s.mu.Unlock()

		s.deps.Ledger.Forget(id)
		t.cancel()
		close(t.done)
		s.wg.Done()
		slog.Info("monitor stopped", "item_id", id, "reason", reason, "since", humanize.Time(activeSince))
	}()

	history := s.deps.Ledger.For(id)
	history.Seed(t.item.EffectiveValue(), t.item.BidCount, s.opts.Now())

	if t.start != nil && s.opts.Now().Before(*t.start) {
		slog.Info("monitor pending", "item_id", id, "starts", humanize.Time(*t.start))
		if !s.waitUntil(ctx, *t.start) {
			return
		}
	}

	s.setState(t, Active)
	activeSince = s.opts.Now()
	deadline := activeSince.Add(s.opts.MaxDuration)
	slog.Info("monitor active", "item_id", id, "url", t.item.URL(), "every", s.opts.PollInterval)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if r := s.stopReason(t, deadline); r != "" {
			reason = r
			return
		}
		s.poll(ctx, t, history)
		if r := s.stopReason(t, deadline); r != "" {
			reason = r
			return
		}
		timer.Reset(s.opts.PollInterval)
	}
}

func (s *Scheduler) stopReason(t *task, deadline time.Time) string {
	now := s.opts.Now()
	if t.closed || lifecycle.Classify(now, t.start, t.end) == models.PhaseFinished {
		return "finished"
	}
	if !now.Before(deadline) {
		return "max duration"
	}
	return ""
}

// waitUntil sleeps until at in WaitStep increments. It returns false when
// ctx ended first.
func (s *Scheduler) waitUntil(ctx context.Context, at time.Time) bool {
	for {
		remaining := at.Sub(s.opts.Now())
		if remaining <= 0 {
			return true
		}
		timer := time.NewTimer(min(remaining, s.opts.WaitStep))
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// poll runs one cycle. Fetch and extraction failures are logged and the
// cycle skipped.
func (s *Scheduler) poll(ctx context.Context, t *task, history *ledger.History) {
	id := t.item.ID
	pageURL := t.item.URL()

	resp, err := s.deps.Fetcher.Get(ctx, pageURL, true)
	if err != nil {
		if ctx.Err() == nil {
			slog.Warn("poll fetch failed", "item_id", id, "url", pageURL, "error", err)
		}
		return
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		slog.Warn("poll parse failed", "item_id", id, "error", err)
		return
	}

	now := s.opts.Now()
	bid, ok := s.deps.Extractor.CurrentBid(doc, extract.Context{
		URL:         resp.FinalURL,
		ExtractedAt: now,
		Location:    s.opts.Location,
	})
	if !ok {
		slog.Warn("poll found no value", "item_id", id, "url", pageURL)
		return
	}

	if bid.End != models.Unknown {
		if end, ok := lifecycle.Parse(bid.End, now, s.opts.Location); ok {
			t.end = &end
		}
	}
	if closedStatus(bid.Status) {
		t.closed = true
	}

	count := 0
	if bid.HasCount {
		count = bid.Count
	}
	obs, changed := history.Record(bid.Value, count, now)
	if !changed {
		if t.unsynced == nil {
			slog.Debug("value unchanged", "item_id", id, "value", bid.Value)
			return
		}
		obs = *t.unsynced
	}
	t.unsynced = nil

	change, committed, err := s.deps.Committer.Commit(ctx, syncer.Ref{ID: id}, obs)
	if err != nil {
		t.unsynced = &obs
		slog.Error("commit failed, retrying next cycle", "item_id", id, "value", obs.Value, "error", err)
		return
	}
	if !committed {
		return
	}
	if err := s.deps.Sink.Publish(ctx, change); err != nil {
		slog.Warn("change notification failed", "item_id", id, "error", err)
	}
}
