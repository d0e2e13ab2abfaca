package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly"
	"github.com/gocolly/colly/extensions"
	"github.com/google/uuid"

	"lotwatch/internal/config"
	"lotwatch/internal/extract"
	"lotwatch/internal/models"
	"lotwatch/internal/money"
	urlqueue "lotwatch/internal/url_queue"
)

type PageType int

const (
	PageTypeUnknown PageType = iota
	PageTypeListing
	PageTypeLot
)

// SourceSpider runs one discovery pass over a catalog site: listing pages
// are crawled with colly, lot pages are then ingested by a worker pool.
type SourceSpider struct {
	app        *App
	source     string
	cfg        config.SourceConfig
	rules      *urlqueue.Rules
	pagination *urlqueue.Rules
	queue      *urlqueue.URLQueue

	mu    sync.Mutex
	cards map[string]cardRef

	pages     atomic.Int64
	requested atomic.Int64
}

type cardRef struct {
	card extract.Card
	page int
}

func (a *App) newSourceSpider(name string, sc config.SourceConfig) (*SourceSpider, error) {
	rules, err := urlqueue.CompileRules(sc.FollowPatterns, sc.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", name, err)
	}
	ss := &SourceSpider{
		app:    a,
		source: name,
		cfg:    sc,
		rules:  rules,
		queue:  urlqueue.NewURLQueue(name, 0),
		cards:  make(map[string]cardRef),
	}
	if len(sc.PaginationPatterns) > 0 {
		ss.pagination, err = urlqueue.CompileRules(sc.PaginationPatterns, sc.ExcludePatterns)
		if err != nil {
			return nil, fmt.Errorf("source %s: %w", name, err)
		}
	}
	return ss, nil
}

func (ss *SourceSpider) pageType(link string) PageType {
	if ss.pagination != nil && ss.pagination.ShouldFollow(link) {
		return PageTypeListing
	}
	if len(ss.cfg.FollowPatterns) > 0 && ss.rules.ShouldFollow(link) {
		return PageTypeLot
	}
	return PageTypeUnknown
}

// allowedDomains lists every host form colly may compare against.
func (ss *SourceSpider) allowedDomains() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(h string) {
		if h != "" && !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	for _, raw := range append(append([]string{}, ss.cfg.BaseURLs...), ss.cfg.StartURLs...) {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			continue
		}
		for _, h := range []string{u.Host, u.Hostname()} {
			add(h)
			if strings.HasPrefix(h, "www.") {
				add(strings.TrimPrefix(h, "www."))
			} else {
				add("www." + h)
			}
		}
	}
	return out
}

// Crawl discovers and stores the source's lots and returns the ids it created.
func (ss *SourceSpider) Crawl(ctx context.Context) ([]int64, error) {
	started := time.Now()
	session := &models.Session{
		ID:        uuid.NewString(),
		Source:    ss.source,
		Status:    models.SessionRunning,
		StartedAt: started,
	}
	if ss.cfg.Category != "" {
		session.Categories = []string{ss.cfg.Category}
	}
	ss.saveSession(ctx, session)
	slog.Info("discovery started", "source", ss.source, "name", ss.cfg.Name, "session", session.ID)

	ss.crawlListings(ctx)
	ss.seedSitemaps(ctx)
	ids := ss.ingestQueue(ctx, session.ID)

	finished := time.Now()
	session.FinishedAt = &finished
	session.Pages = int(ss.pages.Load())
	session.ItemsCreated = len(ids)
	session.Status = models.SessionDone
	var err error
	if ctx.Err() != nil {
		err = ctx.Err()
		session.Status = models.SessionFailed
		session.Error = err.Error()
	}
	ss.saveSession(context.WithoutCancel(ctx), session)

	slog.Info("discovery finished",
		"source", ss.source,
		"pages", session.Pages,
		"queued", len(ss.cards),
		"created", len(ids),
		"took", finished.Sub(started).Round(time.Millisecond),
	)
	return ids, err
}

func (ss *SourceSpider) saveSession(ctx context.Context, s *models.Session) {
	if err := ss.app.store.SaveSession(ctx, s); err != nil {
		slog.Warn("failed to save session", "source", ss.source, "session", s.ID, "error", err)
	}
}

func (ss *SourceSpider) newCollector() *colly.Collector {
	logic := ss.app.config.Logic

	c := colly.NewCollector(
		colly.AllowedDomains(ss.allowedDomains()...),
		colly.Async(true),
		colly.MaxDepth(logic.MaxDepth),
	)
	c.IgnoreRobotsTxt = !logic.RespectRobots
	c.SetRequestTimeout(logic.Timeout())

	extensions.RandomUserAgent(c)

	c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: logic.MaxConcurrentWorkers,
		Delay:       logic.Delay(),
		RandomDelay: logic.Delay() / 2,
	})
	return c
}

func (ss *SourceSpider) crawlListings(ctx context.Context) {
	c := ss.newCollector()
	maxPages := int64(ss.cfg.MaxPages)

	var accept func(string) bool
	if len(ss.cfg.FollowPatterns) > 0 {
		accept = func(link string) bool { return ss.pageType(link) == PageTypeLot }
	}

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
			return
		}
		if maxPages > 0 && ss.requested.Add(1) > maxPages {
			r.Abort()
			return
		}
		if lang := ss.app.config.Logic.AcceptLanguage; lang != "" {
			r.Headers.Set("Accept-Language", lang)
		}
	})

	c.OnHTML("html", func(e *colly.HTMLElement) {
		page := int(ss.pages.Add(1))

		added := 0
		for _, card := range extract.Cards(e.DOM, e.Request.URL, accept) {
			if !ss.rules.ShouldFollow(card.URL) {
				continue
			}
			if ss.enqueue(card, page) {
				added++
			}
		}
		slog.Debug("listing parsed", "source", ss.source, "url", e.Request.URL.String(), "page", page, "lots", added)

		if ss.pagination == nil {
			return
		}
		e.ForEach("a[href]", func(_ int, el *colly.HTMLElement) {
			next := e.Request.AbsoluteURL(el.Attr("href"))
			if next == "" || ss.pageType(next) != PageTypeListing {
				return
			}
			if err := e.Request.Visit(next); err != nil && !errors.Is(err, colly.ErrAlreadyVisited) {
				slog.Debug("listing skipped", "url", next, "error", err)
			}
		})
	})

	c.OnError(func(r *colly.Response, err error) {
		if errors.Is(err, colly.ErrRobotsTxtBlocked) {
			slog.Info("skipped by robots.txt", "url", r.Request.URL.String())
			return
		}
		slog.Warn("listing fetch failed", "source", ss.source, "url", r.Request.URL.String(), "status", r.StatusCode, "error", err)
	})

	for _, u := range ss.cfg.StartURLs {
		if err := c.Visit(u); err != nil {
			slog.Warn("cannot visit start url", "source", ss.source, "url", u, "error", err)
		}
	}
	c.Wait()
}

func (ss *SourceSpider) enqueue(card extract.Card, page int) bool {
	if !ss.queue.Add(card.URL) {
		return false
	}
	ss.mu.Lock()
	ss.cards[urlqueue.NormalizeURL(card.URL)] = cardRef{card: card, page: page}
	ss.mu.Unlock()
	return true
}

func (ss *SourceSpider) seedSitemaps(ctx context.Context) {
	if len(ss.cfg.Sitemaps) == 0 {
		return
	}
	load := func(ctx context.Context, u string) ([]byte, error) {
		resp, err := ss.app.fetcher.Get(ctx, u, true)
		if err != nil {
			return nil, err
		}
		return resp.Body, nil
	}
	for _, sm := range ss.cfg.Sitemaps {
		n, err := ss.queue.SeedFromSitemap(ctx, load, sm, ss.rules)
		if err != nil {
			slog.Warn("sitemap failed", "source", ss.source, "url", sm, "error", err)
		}
		slog.Info("sitemap seeded", "source", ss.source, "url", sm, "added", n)
	}
}

// ingestQueue drains the lot queue with MaxConcurrentWorkers workers.
func (ss *SourceSpider) ingestQueue(ctx context.Context, sessionID string) []int64 {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created []int64
	)
	for i := 0; i < ss.app.config.Logic.MaxConcurrentWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				link, ok := ss.queue.Get()
				if !ok {
					return
				}
				id, isNew, err := ss.ingest(ctx, link, sessionID)
				if err != nil {
					slog.Warn("lot skipped", "source", ss.source, "worker", workerID, "url", link, "error", err)
				} else if isNew {
					mu.Lock()
					created = append(created, id)
					mu.Unlock()
				}
				if d := ss.app.config.Logic.Delay(); d > 0 {
					select {
					case <-ctx.Done():
						return
					case <-time.After(d):
					}
				}
			}
		}(i)
	}
	wg.Wait()
	return created
}

var errNoValue = errors.New("no positive value")

// ingest fetches one lot page, extracts it and stores it unless known.
func (ss *SourceSpider) ingest(ctx context.Context, link, sessionID string) (int64, bool, error) {
	guard := ss.app.guard
	if known, err := guard.IsKnown(ctx, ss.source, link); err != nil || known {
		return 0, false, err
	}

	resp, err := ss.app.fetcher.Get(ctx, link, true)
	if err != nil {
		return 0, false, err
	}

	canonical := urlqueue.NormalizeURL(resp.FinalURL)
	item := models.Item{
		SourceSite:   ss.source,
		CanonicalURL: canonical,
		SessionID:    sessionID,
		CollectedAt:  time.Now(),
	}
	if canonical != link {
		item.OriginalURL = link
		if known, err := guard.IsKnown(ctx, ss.source, canonical); err != nil || known {
			guard.MarkKnown(ss.source, 0, link)
			return 0, false, err
		}
		if site := urlqueue.SiteOf(canonical); site != urlqueue.SiteOf(link) {
			item.RedirectedSite = site
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return 0, false, fmt.Errorf("parse page: %w", err)
	}

	ss.mu.Lock()
	ref, hasCard := ss.cards[link]
	ss.mu.Unlock()
	ectx := extract.Context{URL: canonical, ExtractedAt: item.CollectedAt, Location: ss.app.config.Location()}
	if hasCard {
		ectx.Hints = ref.card.Hints()
		item.Page = ref.page
	}
	rec := ss.app.extractor.ExtractAll(doc, ectx)

	value := rec.Get(extract.FieldValue)
	if _, err := money.ParsePositive(value); err != nil {
		guard.MarkKnown(ss.source, 0, link)
		return 0, false, fmt.Errorf("%w: %s", errNoValue, value)
	}

	item.Title = rec.Get(extract.FieldTitle)
	item.Description = rec.Get(extract.FieldDescription)
	item.Artist = rec.Get(extract.FieldArtist)
	item.LotNumber = rec.Get(extract.FieldLotNumber)
	item.Auctioneer = rec.Get(extract.FieldAuctioneer)
	item.Location = rec.Get(extract.FieldLocation)
	item.VisitCount = rec.Get(extract.FieldVisitCount)
	item.LotStatus = rec.Get(extract.FieldLotStatus)
	item.InitialValue = value
	item.AuctionStart = rec.Get(extract.FieldAuctionStart)
	item.AuctionEnd = rec.Get(extract.FieldAuctionEnd)
	item.Category = models.Unknown
	if ss.cfg.Category != "" {
		item.Category = ss.cfg.Category
	}
	if n, err := strconv.Atoi(rec.Get(extract.FieldBidCount)); err == nil {
		item.BidCount = n
	}

	id, created, err := guard.Admit(ctx, &item)
	if err != nil {
		return 0, false, err
	}
	if !created {
		return id, false, nil
	}

	slog.Info("lot stored", "source", ss.source, "id", id, "title", item.Title, "value", item.InitialValue)
	if ss.app.monitorNew {
		ss.app.scheduler.Consider(ctx, item)
	}
	return id, true, nil
}
