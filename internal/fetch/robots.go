package fetch

import (
	"context"
	"log/slog"
	"net/url"
	"sync"

	"github.com/go-resty/resty/v2"
	"github.com/temoto/robotstxt"
)

const robotsAgent = "lotwatch"

// RobotsCache loads robots.txt once per host. Hosts whose robots.txt cannot
// be fetched or parsed are allowed.
type RobotsCache struct {
	http  *resty.Client
	agent string

	mu     sync.Mutex
	groups map[string]*robotstxt.Group
}

func NewRobotsCache(http *resty.Client, agent string) *RobotsCache {
	return &RobotsCache{http: http, agent: agent, groups: make(map[string]*robotstxt.Group)}
}

func (r *RobotsCache) Allowed(ctx context.Context, u *url.URL) bool {
	key := u.Scheme + "://" + u.Host

	r.mu.Lock()
	group, ok := r.groups[key]
	r.mu.Unlock()
	if !ok {
		group = r.load(ctx, key)
		r.mu.Lock()
		r.groups[key] = group
		r.mu.Unlock()
	}
	if group == nil {
		return true
	}

	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return group.Test(path)
}

func (r *RobotsCache) load(ctx context.Context, site string) *robotstxt.Group {
	res, err := r.http.R().SetContext(ctx).Get(site + "/robots.txt")
	if err != nil {
		slog.Warn("robots.txt unavailable, allowing all", "site", site, "error", err)
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(res.StatusCode(), res.Body())
	if err != nil {
		slog.Warn("robots.txt unparseable, allowing all", "site", site, "error", err)
		return nil
	}
	return data.FindGroup(r.agent)
}
