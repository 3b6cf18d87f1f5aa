package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rki-case-scraper/internal/rki"
)

const page = `<html><body><div id="main"><div class="text"><p>Stand: 5.3.2021, 14:30 Uhr</p></div></div></body></html>`

func TestFetcher_FetchReturnsBody(t *testing.T) {
	t.Parallel()

	agents := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.UserAgent()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(page))
	}))
	defer srv.Close()

	f := New(Config{URL: srv.URL + "/Fallzahlen.html", UserAgent: "rki-test/1.0", Timeout: time.Second})
	got, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, got.StatusCode)
	require.Equal(t, page, string(got.Body))
	require.Equal(t, "rki-test/1.0", <-agents)

	// A second tick against the same URL must not be rejected as a revisit.
	again, err := f.Fetch(context.Background())
	require.NoError(t, err)
	require.Equal(t, page, string(again.Body))
}

func TestFetcher_FetchReportsStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer srv.Close()

	f := New(Config{URL: srv.URL, Timeout: time.Second})
	_, err := f.Fetch(context.Background())
	require.Error(t, err)

	var netErr *rki.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.Equal(t, http.StatusServiceUnavailable, netErr.StatusCode)
	require.Equal(t, len("maintenance"), netErr.BodySize)
	require.Equal(t, srv.URL, netErr.URL)
}

func TestFetcher_FetchConnectionRefused(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	_, err := New(Config{URL: target, Timeout: time.Second}).Fetch(context.Background())
	var netErr *rki.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.Zero(t, netErr.StatusCode)
}

func TestFetcher_FetchHonorsContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(Config{URL: srv.URL, Timeout: 5 * time.Second}).Fetch(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{URL: "https://example.com/page"})
	var (
		result   rki.RawPage
		fetchErr *rki.NetworkError
	)
	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("body"),
		Request:    &colly.Request{URL: mustParseURL(t, "https://example.com/page")},
	})
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "https://example.com/page", result.URL)
	require.Equal(t, "230d8358dc8e8890b4c58deeb62912ee2f20357ae92a5cc861b98e68fe31acb5", result.Digest)

	hooks.onError(&colly.Response{StatusCode: http.StatusNotFound, Body: []byte("nope")}, errors.New("Not Found"))
	require.NotNil(t, fetchErr)
	require.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
	require.Equal(t, 4, fetchErr.BodySize)
}

func TestNewAppliesDefaultTimeout(t *testing.T) {
	t.Parallel()

	f := New(Config{URL: "https://example.com"})
	require.Equal(t, defaultTimeout, f.cfg.Timeout)
	require.Equal(t, "https://example.com", f.URL())

	collector := f.buildCollector(time.Now(), &rki.RawPage{}, new(*rki.NetworkError))
	require.True(t, collector.IgnoreRobotsTxt)
	require.True(t, collector.AllowURLRevisit)
}

func mustParseURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
