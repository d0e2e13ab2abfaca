package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testClient(opts Options) *Client {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	opts.Timeout = 5 * time.Second
	return New(opts)
}

func TestGetRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	var agents []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents = append(agents, r.Header.Get("User-Agent"))
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.Equal(t, "pt-BR", r.Header.Get("Accept-Language"))
		fmt.Fprint(w, "<html><body>Lote 42</body></html>")
	}))
	defer srv.Close()

	c := testClient(Options{AcceptLanguage: "pt-BR", RetryWait: time.Millisecond})
	resp, err := c.Get(context.Background(), srv.URL+"/lote/42", true)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.Status)
	require.Contains(t, string(resp.Body), "Lote 42")
	require.False(t, resp.Redirected())
	require.EqualValues(t, 3, calls.Load())
	for _, ua := range agents {
		require.Contains(t, DefaultUserAgents, ua)
	}
}

func TestGetReturnsTypedErrorWhenExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(Options{MaxRetries: 2, RetryWait: time.Millisecond}).Get(context.Background(), srv.URL, true)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrExhausted)

	var fe *Error
	require.True(t, errors.As(err, &fe))
	require.Equal(t, http.StatusBadGateway, fe.Status)
	require.Equal(t, 2, fe.Attempts)
}

func TestGetDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := testClient(Options{}).Get(context.Background(), srv.URL, true)
	var fe *Error
	require.True(t, errors.As(err, &fe))
	require.Equal(t, http.StatusNotFound, fe.Status)
	require.EqualValues(t, 1, calls.Load())
}

func TestGetFollowsRelativeRedirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/peca.asp", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/lote/7")
		w.WriteHeader(http.StatusFound)
	})
	mux.HandleFunc("/lote/7", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "../final/7")
		w.WriteHeader(http.StatusMovedPermanently)
	})
	mux.HandleFunc("/final/7", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "final page")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := testClient(Options{})
	resp, err := c.Get(context.Background(), srv.URL+"/peca.asp?ID=7", true)
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/final/7", resp.FinalURL)
	require.Equal(t, srv.URL+"/peca.asp?ID=7", resp.RequestedURL)
	require.True(t, resp.Redirected())
	require.Equal(t, "final page", string(resp.Body))

	raw, err := c.Get(context.Background(), srv.URL+"/peca.asp?ID=7", false)
	require.NoError(t, err)
	require.Equal(t, http.StatusFound, raw.Status)
	require.Equal(t, "/lote/7", raw.Header.Get("Location"))
}

func TestGetStopsRedirectLoops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", r.URL.Path)
		w.WriteHeader(http.StatusTemporaryRedirect)
	}))
	defer srv.Close()

	_, err := testClient(Options{MaxRedirects: 3}).Get(context.Background(), srv.URL+"/loop", true)
	require.ErrorIs(t, err, ErrRedirects)
}

func TestGetDecodesLatin1(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=ISO-8859-1")
		w.Write([]byte("Leil\xe3o de pintura"))
	}))
	defer srv.Close()

	resp, err := testClient(Options{}).Get(context.Background(), srv.URL, true)
	require.NoError(t, err)
	require.Equal(t, "Leilão de pintura", string(resp.Body))
}

func TestGetDetectsCaptcha(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><head><title>Security check</title></head></html>")
	}))
	defer srv.Close()

	_, err := testClient(Options{MaxRetries: 1}).Get(context.Background(), srv.URL, true)
	require.ErrorIs(t, err, ErrCaptcha)
	require.ErrorIs(t, err, ErrExhausted)
}

func TestGetHonoursRobots(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /privado/\n")
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	c := testClient(Options{RespectRobots: true})
	_, err := c.Get(context.Background(), srv.URL+"/privado/lote", true)
	require.ErrorIs(t, err, ErrDisallowed)

	resp, err := c.Get(context.Background(), srv.URL+"/lote/1", true)
	require.NoError(t, err)
	require.Equal(t, "ok", strings.TrimSpace(string(resp.Body)))
}

func TestGetStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := testClient(Options{MaxRetries: 10, RetryWait: time.Second}).Get(ctx, srv.URL, true)
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), 2*time.Second)
}
