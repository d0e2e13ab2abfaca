package urlqueue

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
)

// URLQueue is the in-run FIFO of item pages for one source. A URL is
// admitted once per run, after normalization.
type URLQueue struct {
	URLs     map[string]bool
	Queue    []string
	Source   string
	MaxItems int
	mu       sync.Mutex
}

func NewURLQueue(source string, maxItems int) *URLQueue {
	return &URLQueue{
		URLs:     make(map[string]bool),
		Queue:    make([]string, 0),
		Source:   source,
		MaxItems: maxItems,
	}
}

// Add enqueues urlStr unless it was seen before or the queue reached
// MaxItems admissions.
func (q *URLQueue) Add(urlStr string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	normalized := NormalizeURL(urlStr)
	if q.URLs[normalized] {
		return false
	}
	if q.MaxItems > 0 && len(q.URLs) >= q.MaxItems {
		return false
	}
	q.URLs[normalized] = true
	q.Queue = append(q.Queue, normalized)
	return true
}

func (q *URLQueue) Get() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.Queue) == 0 {
		return "", false
	}
	u := q.Queue[0]
	q.Queue = q.Queue[1:]
	return u, true
}

func (q *URLQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.Queue)
}

// NormalizeURL is the canonical form items are keyed by: no fragment,
// lower-case scheme and host, no default port.
func NormalizeURL(urlStr string) string {
	parsed, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil {
		return urlStr
	}

	parsed.Fragment = ""
	parsed.RawFragment = ""
	if parsed.Scheme == "" {
		parsed.Scheme = "https"
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	if (parsed.Scheme == "https" && parsed.Port() == "443") || (parsed.Scheme == "http" && parsed.Port() == "80") {
		parsed.Host = parsed.Hostname()
	}
	if parsed.Path == "" && parsed.Host != "" {
		parsed.Path = "/"
	}

	return parsed.String()
}

// Resolve makes href absolute against base and normalizes it. Non-http
// links and bare fragments are dropped, and so is everything relative when
// base is nil.
func Resolve(base *url.URL, href string) (string, bool) {
	if base == nil {
		base = &url.URL{}
	}
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	return NormalizeURL(abs.String()), true
}

// SiteOf returns scheme://host of urlStr.
func SiteOf(urlStr string) string {
	u, err := url.Parse(urlStr)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// Rules holds the compiled follow/exclude patterns of a source.
type Rules struct {
	follow  []*regexp.Regexp
	exclude []*regexp.Regexp
}

func CompileRules(followPatterns, excludePatterns []string) (*Rules, error) {
	r := &Rules{}
	for _, p := range followPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("follow pattern %q: %w", p, err)
		}
		r.follow = append(r.follow, re)
	}
	for _, p := range excludePatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("exclude pattern %q: %w", p, err)
		}
		r.exclude = append(r.exclude, re)
	}
	return r, nil
}

// ShouldFollow rejects anything an exclude pattern matches, then accepts
// when there are no follow patterns or one of them matches.
func (r *Rules) ShouldFollow(urlStr string) bool {
	for _, re := range r.exclude {
		if re.MatchString(urlStr) {
			return false
		}
	}
	if len(r.follow) == 0 {
		return true
	}
	for _, re := range r.follow {
		if re.MatchString(urlStr) {
			return true
		}
	}
	return false
}
