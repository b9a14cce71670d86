package adapter

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/pipeline"
)

const diceBaseURL = "https://www.dice.com"

// Dice scrapes the Dice search results page. The page is a JS shell for most
// clients, so the adapter promotes the fetch to the headless renderer when
// the detector says the static body is unparseable.
type Dice struct {
	client   *Client
	renderer *Renderer
	detector *Detector
	baseURL  string
	logger   *zap.Logger
}

// NewDice builds the Dice adapter. A nil renderer is allowed; fetches then
// fail cleanly when the page turns out to need JavaScript.
func NewDice(client *Client, renderer *Renderer, logger *zap.Logger) *Dice {
	return &Dice{
		client:   client,
		renderer: renderer,
		detector: NewDetector(2048,
			[]string{`a[data-cy="card-title-link"]`},
			[]string{"enable javascript", "you need to enable javascript"}),
		baseURL: diceBaseURL,
		logger:  logger,
	}
}

// Name implements pipeline.Adapter.
func (a *Dice) Name() string { return "dice" }

// Fetch implements pipeline.Adapter.
func (a *Dice) Fetch(ctx context.Context, spec pipeline.SearchSpec, emit pipeline.EmitFunc) error {
	endpoint := a.searchURL(spec)
	page, err := a.client.Get(ctx, endpoint)
	if err != nil {
		return err
	}

	body := page.Body
	if a.detector.NeedsJS(body) {
		if a.renderer == nil {
			return &pipeline.SourceUnavailableError{SourceID: a.Name(), Err: ErrRendererDisabled}
		}
		a.logger.Debug("static page is a js shell, rendering", zap.String("url", endpoint))
		rendered, err := a.renderer.Render(ctx, endpoint)
		if err != nil {
			return &pipeline.SourceUnavailableError{SourceID: a.Name(), Err: err}
		}
		body = rendered
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return &pipeline.ParseDriftError{SourceID: a.Name(), Reason: "parse html", Err: err, Body: body}
	}

	emitted := 0
	var emitErr error
	doc.Find(`a[data-cy="card-title-link"]`).Each(func(_ int, s *goquery.Selection) {
		if emitErr != nil || (spec.Limit > 0 && emitted >= spec.Limit) {
			return
		}
		card := s.Closest("div")
		title := cleanText(s.Text())
		href, _ := s.Attr("href")
		id, _ := s.Attr("id")
		if id == "" {
			id = nativeIDFromPath(href)
		}
		company := cleanText(card.Find(`[data-cy="search-result-company-name"]`).First().Text())
		location := cleanText(card.Find(`[data-cy="search-result-location"]`).First().Text())
		if title == "" || href == "" {
			return
		}
		raw := pipeline.RawPosting{
			SourceID: a.Name(),
			NativeID: id,
			Title:    title,
			Company:  company,
			Location: location,
			Remote:   isRemote(location, title),
			URL:      absoluteURL(a.baseURL, href),
		}
		if err := emit(raw); err != nil {
			emitErr = err
			return
		}
		emitted++
	})
	if emitErr != nil {
		return emitErr
	}

	if emitted == 0 {
		return &pipeline.ParseDriftError{
			SourceID: a.Name(),
			Reason:   "no result cards matched the expected markup",
			Body:     body,
		}
	}
	return nil
}

// Smoke implements pipeline.Adapter: the landing page answering at all is
// enough; rendering is too expensive for a liveness probe.
func (a *Dice) Smoke(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := a.client.Get(ctx, a.baseURL)
	return err
}

func (a *Dice) searchURL(spec pipeline.SearchSpec) string {
	values := url.Values{}
	if len(spec.Keywords) > 0 {
		values.Set("q", strings.Join(spec.Keywords, " "))
	}
	if len(spec.Locations) > 0 {
		values.Set("location", spec.Locations[0])
	}
	if spec.Remote {
		values.Set("filters.workplaceTypes", "Remote")
	}
	return fmt.Sprintf("%s/jobs?%s", a.baseURL, values.Encode())
}
