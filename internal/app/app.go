// Package app wires discovery and monitoring over one shared store.
package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"lotwatch/internal/config"
	"lotwatch/internal/db"
	"lotwatch/internal/dedup"
	"lotwatch/internal/extract"
	"lotwatch/internal/fetch"
	"lotwatch/internal/lifecycle"
	"lotwatch/internal/models"
	"lotwatch/internal/monitor"
	"lotwatch/internal/notify"
	"lotwatch/internal/syncer"
)

type App struct {
	config    *config.Config
	store     db.Store
	fetcher   *fetch.Client
	extractor *extract.Extractor
	guard     *dedup.Guard
	syncer    *syncer.Syncer
	scheduler *monitor.Scheduler
	sink      notify.Sink

	// monitorNew hands freshly created items to the scheduler.
	monitorNew bool
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	store, err := db.Open(ctx, cfg.DB)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, store, notify.FromConfig(cfg.Notify)), nil
}

func NewWithStore(cfg *config.Config, store db.Store, sink notify.Sink) *App {
	a := &App{
		config:    cfg,
		store:     store,
		fetcher:   fetch.New(fetch.OptionsFrom(cfg.Logic)),
		extractor: extract.New(),
		guard:     dedup.NewGuard(store),
		syncer:    syncer.New(store),
		sink:      sink,
	}
	a.scheduler = monitor.New(monitor.Deps{
		Fetcher:    a.fetcher,
		Extractor:  a.extractor,
		Committer:  a.syncer,
		Candidates: store,
		Sink:       sink,
	}, monitor.OptionsFrom(cfg))
	return a
}

func (a *App) Scheduler() *monitor.Scheduler { return a.scheduler }

// Discover crawls the named sources, every source by priority when names is
// empty, and returns the ids of the items it created.
func (a *App) Discover(ctx context.Context, names ...string) ([]int64, error) {
	if len(names) == 0 {
		names = a.config.SourceNames()
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created []int64
		errs    []error
	)
	for _, name := range names {
		sc, ok := a.config.Sources[name]
		if !ok {
			errs = append(errs, fmt.Errorf("unknown source %q", name))
			continue
		}
		spider, err := a.newSourceSpider(name, sc)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids, err := spider.Crawl(ctx)
			mu.Lock()
			defer mu.Unlock()
			created = append(created, ids...)
			if err != nil {
				errs = append(errs, fmt.Errorf("source %s: %w", name, err))
			}
		}()
	}
	wg.Wait()

	slices.Sort(created)
	return created, errors.Join(errs...)
}

// Monitor sweeps the store for eligible items and polls them until ctx ends.
func (a *App) Monitor(ctx context.Context) error {
	return a.scheduler.Run(ctx)
}

// Run monitors continuously and runs one discovery pass whose new items are
// monitored as soon as they are stored.
func (a *App) Run(ctx context.Context) error {
	a.monitorNew = true

	errc := make(chan error, 1)
	go func() { errc <- a.scheduler.Run(ctx) }()

	ids, err := a.Discover(ctx)
	if err != nil {
		slog.Error("discovery finished with errors", "error", err)
	}
	slog.Info("discovery finished", "created", len(ids), "monitored", len(a.scheduler.Live()))

	return <-errc
}

// Extraction is the result of extracting one page on demand.
type Extraction struct {
	URL      string
	FinalURL string
	Record   extract.Record
	Phase    models.Phase
}

func (a *App) ExtractURL(ctx context.Context, url string) (*Extraction, error) {
	resp, err := a.fetcher.Get(ctx, url, true)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}

	now := time.Now()
	loc := a.config.Location()
	rec := a.extractor.ExtractAll(doc, extract.Context{URL: resp.FinalURL, ExtractedAt: now, Location: loc})

	phase := lifecycle.ClassifyText(now, rec.Get(extract.FieldAuctionStart), rec.Get(extract.FieldAuctionEnd), loc)
	if s := rec.Get(extract.FieldLotStatus); s == models.LotSold || s == models.LotClosed {
		phase = models.PhaseFinished
	}
	return &Extraction{URL: url, FinalURL: resp.FinalURL, Record: rec, Phase: phase}, nil
}

func (a *App) Close() error {
	a.scheduler.StopAll()
	return errors.Join(a.sink.Close(), a.store.Close())
}
