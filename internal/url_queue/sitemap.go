package urlqueue

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
)

type SitemapIndex struct {
	Sitemaps []SitemapEntry `xml:"sitemap"`
}

type URLSet struct {
	URLs []SitemapEntry `xml:"url"`
}

type SitemapEntry struct {
	Loc string `xml:"loc"`
}

// ParseSitemap reads either a sitemap index or a urlset document.
func ParseSitemap(data []byte) (pages, sitemaps []string, err error) {
	var probe struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(data, &probe); err != nil {
		return nil, nil, fmt.Errorf("parse sitemap: %w", err)
	}

	switch probe.XMLName.Local {
	case "sitemapindex":
		var si SitemapIndex
		if err := xml.Unmarshal(data, &si); err != nil {
			return nil, nil, fmt.Errorf("parse sitemap index: %w", err)
		}
		for _, s := range si.Sitemaps {
			sitemaps = append(sitemaps, s.Loc)
		}
	case "urlset":
		var us URLSet
		if err := xml.Unmarshal(data, &us); err != nil {
			return nil, nil, fmt.Errorf("parse urlset: %w", err)
		}
		for _, u := range us.URLs {
			pages = append(pages, u.Loc)
		}
	default:
		return nil, nil, fmt.Errorf("unexpected sitemap root <%s>", probe.XMLName.Local)
	}
	return pages, sitemaps, nil
}

// Loader fetches a sitemap document body.
type Loader func(ctx context.Context, url string) ([]byte, error)

const maxSitemapDepth = 3

// SeedFromSitemap walks sitemapURL (following nested indexes) and enqueues
// every page accepted by rules. It returns how many pages were added;
// unreachable nested sitemaps are logged and skipped.
func (q *URLQueue) SeedFromSitemap(ctx context.Context, load Loader, sitemapURL string, rules *Rules) (int, error) {
	added := 0
	var walk func(u string, depth int) error
	walk = func(u string, depth int) error {
		if depth > maxSitemapDepth {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := load(ctx, u)
		if err != nil {
			return err
		}
		pages, nested, err := ParseSitemap(data)
		if err != nil {
			return err
		}
		for _, p := range pages {
			if rules.ShouldFollow(p) && q.Add(p) {
				added++
			}
		}
		for _, n := range nested {
			if err := walk(n, depth+1); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				slog.Warn("skipping sitemap", "source", q.Source, "url", n, "error", err)
			}
		}
		return nil
	}

	if err := walk(sitemapURL, 0); err != nil {
		return added, fmt.Errorf("sitemap %s: %w", sitemapURL, err)
	}
	return added, nil
}
