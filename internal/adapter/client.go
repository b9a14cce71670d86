package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hiresignal/jobscout/internal/pipeline"
)

// maxBodyBytes caps how much of a response we buffer. Board feeds fit well
// under this; anything larger is suspect.
const maxBodyBytes = 10 << 20

// crawlDelayCap bounds how far a published crawl-delay may widen the polite
// interval. A source asking for more than this effectively refuses polling.
const crawlDelayCap = time.Minute

// ClientConfig parameterizes one source's transport.
type ClientConfig struct {
	UserAgent          string
	RequestTimeout     time.Duration
	MinRequestInterval time.Duration
	MaxRetries         int
	BackoffInitial     time.Duration
	BackoffMax         time.Duration
}

// Page is one fetched response.
type Page struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Client is the shared per-source HTTP transport: polite rate limiting,
// jittered retries, and the error taxonomy the rest of the pipeline
// understands. One Client per source so limiter state is never shared across
// domains.
type Client struct {
	source   string
	http     *http.Client
	limiter  *rate.Limiter
	retry    *RetryPolicy
	ua       string
	interval time.Duration
	logger   *zap.Logger

	robotsMu sync.Mutex
	// robotsSeen marks hosts whose robots.txt has been consulted, so the
	// crawl-delay lookup happens once per host per process.
	robotsSeen map[string]bool
}

// NewClient builds a transport for one source.
func NewClient(source string, cfg ClientConfig, logger *zap.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	interval := cfg.MinRequestInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &Client{
		source: source,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
		limiter:    rate.NewLimiter(rate.Every(interval), 1),
		retry:      NewRetryPolicy(cfg.MaxRetries, cfg.BackoffInitial, cfg.BackoffMax),
		ua:         cfg.UserAgent,
		interval:   interval,
		logger:     logger,
		robotsSeen: make(map[string]bool),
	}
}

// Get fetches a URL, waiting for the polite interval and retrying transient
// failures. The first request to a host consults its robots.txt and widens
// the interval to any published crawl-delay. After retry exhaustion the error
// is a SourceUnavailableError.
func (c *Client) Get(ctx context.Context, rawURL string) (*Page, error) {
	c.honorCrawlDelay(ctx, rawURL)

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		page, err := c.do(ctx, rawURL)
		if err == nil {
			return page, nil
		}
		lastErr = err
		if !c.retry.ShouldRetry(err, attempt+1) {
			break
		}
		wait := c.retry.Backoff(attempt)
		c.logger.Debug("fetch retry",
			zap.String("source", c.source),
			zap.String("url", rawURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, &pipeline.SourceUnavailableError{SourceID: c.source, Err: lastErr}
}

// honorCrawlDelay fetches the host's robots.txt once and, when it publishes
// a crawl-delay longer than the configured polite interval, slows the limiter
// to match. A missing or unreadable robots.txt leaves the configured interval
// in place.
func (c *Client) honorCrawlDelay(ctx context.Context, rawURL string) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return
	}
	c.robotsMu.Lock()
	seen := c.robotsSeen[u.Host]
	c.robotsSeen[u.Host] = true
	c.robotsMu.Unlock()
	if seen {
		return
	}

	delay := c.fetchCrawlDelay(ctx, u.Scheme+"://"+u.Host+"/robots.txt")
	if delay <= c.interval {
		return
	}
	if delay > crawlDelayCap {
		c.logger.Warn("crawl-delay exceeds cap, clamping",
			zap.String("source", c.source),
			zap.String("host", u.Host),
			zap.Duration("published", delay),
			zap.Duration("cap", crawlDelayCap))
		delay = crawlDelayCap
	}
	c.limiter.SetLimit(rate.Every(delay))
	c.logger.Info("honoring published crawl-delay",
		zap.String("source", c.source),
		zap.String("host", u.Host),
		zap.Duration("delay", delay))
}

func (c *Client) fetchCrawlDelay(ctx context.Context, robotsURL string) time.Duration {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return 0
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("robots.txt fetch failed",
			zap.String("url", robotsURL), zap.Error(err))
		return 0
	}
	defer resp.Body.Close()

	robots, err := robotstxt.FromResponse(resp)
	if err != nil {
		c.logger.Debug("robots.txt unparsable",
			zap.String("url", robotsURL), zap.Error(err))
		return 0
	}
	return robots.FindGroup(c.ua).CrawlDelay
}

func (c *Client) do(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}
	req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, &httpStatusError{code: resp.StatusCode, url: rawURL}
	}
	return &Page{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// GetJSON fetches and decodes a JSON endpoint. A body that no longer decodes
// is parse drift, not a transient failure.
func (c *Client) GetJSON(ctx context.Context, rawURL string, v any) error {
	page, err := c.Get(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(page.Body, v); err != nil {
		return &pipeline.ParseDriftError{SourceID: c.source, Reason: "decode json body", Err: err}
	}
	return nil
}

// GetDocument fetches a page and parses it into a goquery document.
func (c *Client) GetDocument(ctx context.Context, rawURL string) (*goquery.Document, *Page, error) {
	page, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return nil, page, &pipeline.ParseDriftError{SourceID: c.source, Reason: "parse html", Err: err}
	}
	return doc, page, nil
}

// httpStatusError carries an HTTP error status through retry classification.
type httpStatusError struct {
	code int
	url  string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http %d fetching %s", e.code, e.url)
}

func (e *httpStatusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}
