// Package static retrieves store pages with plain HTTP via Colly. It is
// the default strategy; stores that render prices client-side use the
// headless package instead.
package static

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/saddleworth/pricewatch/internal/fetcher"
)

// Config controls collector behavior.
type Config struct {
	Timeout    time.Duration
	Antidetect *fetcher.Antidetect
}

// Fetcher implements fetcher.PageFetcher using the Colly collector.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
}

// New builds a Fetcher. The base collector carries the pooled transport;
// each fetch clones it so per-request state never leaks between jobs.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.WithTransport(newTransport(cfg.Antidetect))
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{cfg: cfg, base: c}
}

// FetchPage executes a single GET and returns the raw page.
func (f *Fetcher) FetchPage(ctx context.Context, pageURL string) (fetcher.PageResult, error) {
	var (
		result   fetcher.PageResult
		fetchErr error
	)

	collector := f.base.Clone()
	collector.SetRequestTimeout(f.cfg.Timeout)
	if f.cfg.Antidetect != nil {
		collector.UserAgent = f.cfg.Antidetect.UserAgent()
	}

	collector.OnResponse(func(r *colly.Response) {
		result = fetcher.PageResult{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			FinalURL:   r.Request.URL.String(),
		}
	})
	collector.OnError(func(r *colly.Response, err error) {
		fetchErr = err
		if r != nil {
			result.StatusCode = r.StatusCode
			result.Body = append([]byte(nil), r.Body...)
		}
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return fetcher.PageResult{}, fmt.Errorf("static fetch canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return result, fmt.Errorf("static fetch failed: %w", fetchErr)
		}
		if err != nil {
			return result, fmt.Errorf("static visit failed: %w", err)
		}
		return result, nil
	}
}

// newTransport builds a pooled transport whose proxy rotates per request.
func newTransport(anti *fetcher.Antidetect) *http.Transport {
	proxyFunc := http.ProxyFromEnvironment
	if anti != nil {
		proxyFunc = func(_ *http.Request) (*url.URL, error) {
			p := anti.NextProxy()
			if p == "" {
				return nil, nil
			}
			proxyURL, err := url.Parse(p)
			if err != nil {
				return nil, fmt.Errorf("parse proxy %q: %w", p, err)
			}
			return proxyURL, nil
		}
	}
	return &http.Transport{
		Proxy: proxyFunc,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
