package adapter

import (
	"context"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/pipeline"
)

const wwrBaseURL = "https://weworkremotely.com"

// wwrCategories are the listing pages worth crawling for engineering roles.
var wwrCategories = []string{
	"/categories/remote-programming-jobs",
	"/categories/remote-devops-sysadmin-jobs",
}

// WeWorkRemotely scrapes the We Work Remotely category listings. The board
// has no API, so this adapter rides a Colly collector over the HTML.
type WeWorkRemotely struct {
	baseURL   string
	userAgent string
	timeout   time.Duration
	interval  time.Duration
	logger    *zap.Logger
}

// NewWeWorkRemotely builds the WWR adapter.
func NewWeWorkRemotely(cfg ClientConfig, logger *zap.Logger) *WeWorkRemotely {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	interval := cfg.MinRequestInterval
	if interval <= 0 {
		interval = time.Second
	}
	return &WeWorkRemotely{
		baseURL:   wwrBaseURL,
		userAgent: cfg.UserAgent,
		timeout:   timeout,
		interval:  interval,
		logger:    logger,
	}
}

// Name implements pipeline.Adapter.
func (a *WeWorkRemotely) Name() string { return "weworkremotely" }

// Fetch implements pipeline.Adapter.
func (a *WeWorkRemotely) Fetch(ctx context.Context, spec pipeline.SearchSpec, emit pipeline.EmitFunc) error {
	collector := a.newCollector()

	var (
		emitErr  error
		fetchErr error
		lastBody []byte
		parsed   int
		emitted  int
	)

	collector.OnResponse(func(r *colly.Response) {
		lastBody = append([]byte{}, r.Body...)
	})

	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	collector.OnHTML("section.jobs li", func(e *colly.HTMLElement) {
		if emitErr != nil || (spec.Limit > 0 && emitted >= spec.Limit) {
			return
		}
		href := e.ChildAttr("a[href^='/remote-jobs/']", "href")
		title := cleanText(e.ChildText("span.title"))
		company := cleanText(e.ChildText("span.company"))
		region := cleanText(e.ChildText("span.region"))
		if href == "" || title == "" {
			return
		}
		parsed++
		if !specMatches(spec, title, company+" "+region) {
			return
		}
		raw := pipeline.RawPosting{
			SourceID: a.Name(),
			NativeID: nativeIDFromPath(href),
			Title:    title,
			Company:  company,
			Location: region,
			Remote:   true,
			URL:      absoluteURL(a.baseURL, href),
		}
		if err := emit(raw); err != nil {
			emitErr = err
			return
		}
		emitted++
	})

	for _, category := range wwrCategories {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := collector.Visit(a.baseURL + category); err != nil {
			fetchErr = err
		}
		collector.Wait()
		if emitErr != nil {
			return emitErr
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if fetchErr != nil && parsed == 0 {
		return &pipeline.SourceUnavailableError{SourceID: a.Name(), Err: fetchErr}
	}
	if parsed == 0 {
		// Pages loaded but the listing markup is gone: the board changed.
		return &pipeline.ParseDriftError{
			SourceID: a.Name(),
			Reason:   "no job listings matched the expected markup",
			Body:     lastBody,
		}
	}
	return nil
}

// Smoke implements pipeline.Adapter: one category page must load and contain
// at least one listing.
func (a *WeWorkRemotely) Smoke(ctx context.Context) error {
	collector := a.newCollector()

	found := false
	var fetchErr error
	collector.OnHTML("section.jobs li", func(*colly.HTMLElement) { found = true })
	collector.OnError(func(_ *colly.Response, err error) { fetchErr = err })

	if err := collector.Visit(a.baseURL + wwrCategories[0]); err != nil {
		return &pipeline.SourceUnavailableError{SourceID: a.Name(), Err: err}
	}
	collector.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if fetchErr != nil {
		return &pipeline.SourceUnavailableError{SourceID: a.Name(), Err: fetchErr}
	}
	if !found {
		return &pipeline.ParseDriftError{SourceID: a.Name(), Reason: "no job listings matched the expected markup"}
	}
	return nil
}

func (a *WeWorkRemotely) newCollector() *colly.Collector {
	collector := colly.NewCollector(colly.UserAgent(a.userAgent))
	collector.SetRequestTimeout(a.timeout)
	collector.Limit(&colly.LimitRule{
		DomainGlob: "*",
		Delay:      a.interval,
	})
	return collector
}

func nativeIDFromPath(href string) string {
	href = strings.TrimSuffix(href, "/")
	if idx := strings.LastIndex(href, "/"); idx >= 0 {
		return href[idx+1:]
	}
	return href
}
