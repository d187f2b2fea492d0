// Package fetcher retrieves company pages over HTTP via Colly.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/skuwata/outreachd/internal/outreach"
)

// Config bounds one fetch.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyFetcher implements outreach.Fetcher using a shared Colly collector
// that is cloned per request.
type CollyFetcher struct {
	baseCollector *colly.Collector
	clock         outreach.Clock
	logger        *zap.Logger
}

// New constructs a configured Colly-based fetcher.
func New(cfg Config, clock outreach.Clock, logger *zap.Logger) (*CollyFetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "outreachd-bot/0.1"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(colly.UserAgent(cfg.UserAgent))
	base.AllowURLRevisit = true
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	if err := base.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 2,
		Delay:       500 * time.Millisecond,
	}); err != nil {
		return nil, err
	}

	return &CollyFetcher{baseCollector: base, clock: clock, logger: logger}, nil
}

type fetchResult struct {
	page outreach.Page
	err  error
}

// Fetch retrieves one page. Errors come back classified so the crawl queue
// can schedule retries for the transient ones.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (outreach.Page, error) {
	collector := f.baseCollector.Clone()
	resultCh := make(chan fetchResult, 1)
	var once sync.Once
	send := func(res fetchResult) {
		once.Do(func() {
			resultCh <- res
		})
	}

	collector.OnResponse(func(r *colly.Response) {
		send(fetchResult{page: outreach.Page{
			URL:       r.Request.URL.String(),
			HTML:      append([]byte{}, r.Body...),
			FetchedAt: f.clock.Now(),
		}})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		if r != nil && r.StatusCode == http.StatusTooManyRequests {
			err = outreach.E(outreach.KindRateLimited, "fetch "+rawURL, err)
		}
		send(fetchResult{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return outreach.Page{}, classify(rawURL, err)
	}
	collector.Wait()

	select {
	case res := <-resultCh:
		if err := ctx.Err(); err != nil {
			return outreach.Page{}, err
		}
		if res.err != nil {
			f.logger.Debug("fetch failed", zap.String("url", rawURL), zap.Error(res.err))
			return outreach.Page{}, classify(rawURL, res.err)
		}
		return res.page, nil
	default:
		return outreach.Page{}, fmt.Errorf("fetch %s produced no result", rawURL)
	}
}

// classify wraps raw transport errors with their failure kind so retry
// policy decisions stay out of the call sites.
func classify(rawURL string, err error) error {
	var tagged *outreach.Error
	if errors.As(err, &tagged) {
		return err
	}
	return outreach.E(outreach.Classify(err), "fetch "+rawURL, err)
}
