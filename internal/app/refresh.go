package app

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"lotwatch/internal/extract"
	"lotwatch/internal/ledger"
	"lotwatch/internal/models"
	"lotwatch/internal/syncer"
)

// RefreshReport counts what a refresh pass did.
type RefreshReport struct {
	Checked   int
	Changed   int
	Unchanged int
	Failed    int
}

// Refresh re-reads the stored items of the named sources, every configured
// source by priority when none is named, at most limit items per source
// when limit > 0. Finished lots are included so their final price and
// status are kept.
func (a *App) Refresh(ctx context.Context, sources []string, limit int) (RefreshReport, error) {
	var items []models.Item
	if len(sources) == 0 {
		sources = a.config.SourceNames()
	}
	for _, site := range sources {
		found, err := a.store.ListItems(ctx, site, limit)
		if err != nil {
			return RefreshReport{}, err
		}
		items = append(items, found...)
	}
	slog.Info("refresh started", "items", len(items), "sources", sources)

	var (
		report RefreshReport
		mu     sync.Mutex
		wg     sync.WaitGroup
		work   = make(chan models.Item)
		hist   = ledger.New()
		delay  = a.config.Logic.Delay()
		start  = time.Now()
	)
	for i := 0; i < a.config.Logic.MaxConcurrentWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				changed, err := a.refreshItem(ctx, item, hist.For(item.ID))
				hist.Forget(item.ID)

				mu.Lock()
				report.Checked++
				switch {
				case err != nil:
					report.Failed++
				case changed:
					report.Changed++
				default:
					report.Unchanged++
				}
				mu.Unlock()

				if err != nil && ctx.Err() == nil {
					slog.Warn("refresh failed", "item_id", item.ID, "url", item.URL(), "error", err)
				}
				if delay > 0 {
					select {
					case <-ctx.Done():
					case <-time.After(delay):
					}
				}
			}
		}()
	}

feed:
	for _, item := range items {
		select {
		case <-ctx.Done():
			break feed
		case work <- item:
		}
	}
	close(work)
	wg.Wait()

	slog.Info("refresh finished",
		"checked", report.Checked,
		"changed", report.Changed,
		"unchanged", report.Unchanged,
		"failed", report.Failed,
		"took", time.Since(start).Round(time.Millisecond),
	)
	return report, ctx.Err()
}

// refreshItem stores the page's current value, status and end date for
// item and reports whether anything changed.
func (a *App) refreshItem(ctx context.Context, item models.Item, history *ledger.History) (bool, error) {
	resp, err := a.fetcher.Get(ctx, item.URL(), true)
	if err != nil {
		return false, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return false, fmt.Errorf("parse page: %w", err)
	}

	now := time.Now()
	bid, ok := a.extractor.CurrentBid(doc, extract.Context{
		URL:         resp.FinalURL,
		ExtractedAt: now,
		Location:    a.config.Location(),
	})
	if !ok {
		return false, errNoValue
	}

	changed := false
	status, end := item.LotStatus, item.AuctionEnd
	if bid.Status != models.Unknown {
		status = bid.Status
	}
	if bid.End != models.Unknown {
		end = bid.End
	}
	if status != item.LotStatus || end != item.AuctionEnd {
		updated, err := a.store.UpdateItemLifecycle(ctx, item.ID, status, end)
		if err != nil {
			return false, err
		}
		changed = updated
	}

	count := 0
	if bid.HasCount {
		count = bid.Count
	}
	history.Seed(item.EffectiveValue(), item.BidCount, now)
	obs, moved := history.Record(bid.Value, count, now)
	if !moved {
		return changed, nil
	}

	change, committed, err := a.syncer.Commit(ctx, syncer.Ref{ID: item.ID}, obs)
	if err != nil {
		return changed, err
	}
	if !committed {
		return changed, nil
	}
	slog.Info("lot refreshed", "item_id", item.ID, "old", change.OldValue, "new", change.NewValue, "status", status)
	if err := a.sink.Publish(ctx, change); err != nil {
		slog.Warn("change notification failed", "item_id", item.ID, "error", err)
	}
	return true, nil
}
