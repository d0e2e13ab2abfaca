// Package fetch retrieves pages from catalog sites with bounded retries,
// manual redirect handling and charset decoding.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html/charset"

	"lotwatch/internal/config"
)

var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
}

var (
	// ErrExhausted is wrapped by every error returned after the last retry.
	ErrExhausted  = errors.New("retries exhausted")
	ErrDisallowed = errors.New("disallowed by robots.txt")
	ErrCaptcha    = errors.New("captcha detected")
	ErrRedirects  = errors.New("too many redirects")
)

// Error describes a request that could not produce a usable page.
type Error struct {
	URL      string
	Status   int
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d after %d attempt(s): %v", e.URL, e.Status, e.Attempts, e.Err)
	}
	return fmt.Sprintf("fetch %s after %d attempt(s): %v", e.URL, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Response struct {
	Status       int
	Body         []byte
	Header       http.Header
	RequestedURL string
	// FinalURL is where the redirect chain ended.
	FinalURL string
}

// Redirected reports whether the page was served from another URL.
func (r *Response) Redirected() bool {
	return r.FinalURL != r.RequestedURL
}

type Options struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryWait      time.Duration
	MaxRedirects   int
	UserAgents     []string
	AcceptLanguage string
	RespectRobots  bool
}

func OptionsFrom(l config.LogicConfig) Options {
	return Options{
		Timeout:        l.Timeout(),
		MaxRetries:     l.MaxRetries,
		RetryWait:      l.RetryWait(),
		MaxRedirects:   l.MaxRedirects,
		UserAgents:     l.UserAgents,
		AcceptLanguage: l.AcceptLanguage,
		RespectRobots:  l.RespectRobots,
	}
}

type Client struct {
	http   *resty.Client
	opts   Options
	robots *RobotsCache
}

func New(opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.MaxRedirects <= 0 {
		opts.MaxRedirects = 15
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if len(opts.UserAgents) == 0 {
		opts.UserAgents = DefaultUserAgents
	}

	rc := resty.New().
		SetTimeout(opts.Timeout).
		SetRedirectPolicy(resty.RedirectPolicyFunc(func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		})).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if opts.AcceptLanguage != "" {
		rc.SetHeader("Accept-Language", opts.AcceptLanguage)
	}

	c := &Client{http: rc, opts: opts}
	if opts.RespectRobots {
		c.robots = NewRobotsCache(rc, robotsAgent)
	}
	return c
}

func (c *Client) userAgent() string {
	return c.opts.UserAgents[rand.Intn(len(c.opts.UserAgents))]
}

// Get fetches rawURL. With followRedirects, 3xx responses are followed up to
// MaxRedirects hops and relative Location headers are resolved against the
// current URL. Without it, the 3xx response itself is returned.
func (c *Client) Get(ctx context.Context, rawURL string, followRedirects bool) (*Response, error) {
	current := rawURL
	for hop := 0; ; hop++ {
		resp, err := c.getOnce(ctx, current)
		if err != nil {
			return nil, err
		}
		if !followRedirects || !isRedirect(resp.Status) {
			resp.RequestedURL = rawURL
			resp.FinalURL = current
			return resp, nil
		}
		if hop >= c.opts.MaxRedirects {
			return nil, &Error{URL: rawURL, Status: resp.Status, Attempts: hop + 1, Err: ErrRedirects}
		}

		next, err := resolveLocation(current, resp.Header.Get("Location"))
		if err != nil {
			return nil, &Error{URL: current, Status: resp.Status, Attempts: 1, Err: err}
		}
		slog.Debug("following redirect", "from", current, "to", next, "status", resp.Status)
		current = next
	}
}

// getOnce issues one logical request, retrying transient failures.
func (c *Client) getOnce(ctx context.Context, target string) (*Response, error) {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		return nil, &Error{URL: target, Err: fmt.Errorf("invalid url %q", target)}
	}
	if c.robots != nil && !c.robots.Allowed(ctx, u) {
		return nil, &Error{URL: target, Err: ErrDisallowed}
	}

	var (
		lastErr    error
		lastStatus int
	)
	for attempt := 1; attempt <= c.opts.MaxRetries; attempt++ {
		resp, err := c.attempt(ctx, target)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, &Error{URL: target, Attempts: attempt, Err: ctx.Err()}
		}

		lastErr = err
		var se *statusError
		if errors.As(err, &se) {
			lastStatus = se.status
			if !retryable(se.status) {
				return nil, &Error{URL: target, Status: se.status, Attempts: attempt, Err: err}
			}
		}
		slog.Warn("fetch attempt failed", "url", target, "attempt", attempt, "of", c.opts.MaxRetries, "error", err)

		if attempt < c.opts.MaxRetries && c.opts.RetryWait > 0 {
			select {
			case <-ctx.Done():
				return nil, &Error{URL: target, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(c.opts.RetryWait):
			}
		}
	}
	return nil, &Error{
		URL:      target,
		Status:   lastStatus,
		Attempts: c.opts.MaxRetries,
		Err:      errors.Join(ErrExhausted, lastErr),
	}
}

type statusError struct {
	status int
}

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.status) }

func (c *Client) attempt(ctx context.Context, target string) (*Response, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetHeader("User-Agent", c.userAgent()).
		Get(target)
	if err != nil {
		return nil, err
	}

	status := res.StatusCode()
	if isRedirect(status) {
		return &Response{Status: status, Header: res.Header()}, nil
	}
	if status != http.StatusOK {
		return nil, &statusError{status: status}
	}

	body, err := decode(res.Body(), res.Header().Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	if looksLikeCaptcha(body) {
		return nil, ErrCaptcha
	}
	return &Response{Status: status, Body: body, Header: res.Header()}, nil
}

// decode converts body to UTF-8 using the declared or sniffed charset.
func decode(body []byte, contentType string) ([]byte, error) {
	r, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return body, nil
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return out, nil
}

var captchaMarkers = []string{
	"security check",
	"are you a robot",
	"verifique que você é humano",
	"confirme que você não é um robô",
	"<title>captcha",
	"cf-challenge",
}

func looksLikeCaptcha(body []byte) bool {
	lower := strings.ToLower(string(body))
	for _, m := range captchaMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func retryable(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout
}

func resolveLocation(current, location string) (string, error) {
	if location == "" {
		return "", errors.New("redirect without Location header")
	}
	base, err := url.Parse(current)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("bad Location %q: %w", location, err)
	}
	return base.ResolveReference(ref).String(), nil
}
