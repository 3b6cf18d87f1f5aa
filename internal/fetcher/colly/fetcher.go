// Package collyfetcher implements rki.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/rki-case-scraper/internal/hash/sha256"
	"github.com/JakeFAU/rki-case-scraper/internal/rki"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	URL           string
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
}

// Fetcher retrieves the configured source page with a Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	hasher        *sha256.Hasher
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	// Every tick visits the same URL, so revisits must be allowed.
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		hasher:        sha256.New(),
	}
}

// URL returns the page this fetcher targets.
func (f *Fetcher) URL() string {
	return f.cfg.URL
}

// Fetch executes a single HTTP GET. It does not retry.
func (f *Fetcher) Fetch(ctx context.Context) (rki.RawPage, error) {
	var (
		page     rki.RawPage
		fetchErr *rki.NetworkError
	)
	collector := f.buildCollector(time.Now(), &page, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(f.cfg.URL)
	}()

	select {
	case <-ctx.Done():
		return rki.RawPage{}, &rki.NetworkError{URL: f.cfg.URL, Err: fmt.Errorf("colly fetch canceled: %w", ctx.Err())}
	case err := <-done:
		if fetchErr != nil {
			return rki.RawPage{}, fetchErr
		}
		if err != nil {
			return rki.RawPage{}, &rki.NetworkError{URL: f.cfg.URL, Err: fmt.Errorf("colly visit failed: %w", err)}
		}
		if page.StatusCode == 0 {
			return rki.RawPage{}, &rki.NetworkError{URL: f.cfg.URL, Err: errors.New("no response received")}
		}
		return page, nil
	}
}

func (f *Fetcher) buildCollector(start time.Time, page *rki.RawPage, fetchErr **rki.NetworkError) *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	collector.SetRequestTimeout(f.cfg.Timeout)

	f.configureCollectorHooks(collector, start, page, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	page *rki.RawPage,
	fetchErr **rki.NetworkError,
) {
	hooks.OnResponse(func(r *colly.Response) {
		*page = rki.RawPage{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Digest:     f.hasher.Hash(r.Body),
			Duration:   time.Since(start),
		}
	})

	// Colly reports transport failures and statuses >= 203 here.
	hooks.OnError(func(r *colly.Response, err error) {
		netErr := &rki.NetworkError{URL: f.cfg.URL, Err: err}
		if r != nil {
			netErr.StatusCode = r.StatusCode
			netErr.BodySize = len(r.Body)
		}
		*fetchErr = netErr
	})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
	}
}
