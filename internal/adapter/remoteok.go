package adapter

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/pipeline"
)

const remoteOKBaseURL = "https://remoteok.com"

// RemoteOK fetches the RemoteOK public JSON feed. The feed is not queryable,
// so keyword filtering happens client-side.
type RemoteOK struct {
	client  *Client
	baseURL string
	logger  *zap.Logger
}

// NewRemoteOK builds the RemoteOK adapter.
func NewRemoteOK(client *Client, logger *zap.Logger) *RemoteOK {
	return &RemoteOK{client: client, baseURL: remoteOKBaseURL, logger: logger}
}

// Name implements pipeline.Adapter.
func (a *RemoteOK) Name() string { return "remoteok" }

type remoteOKItem struct {
	ID          json.Number `json:"id"`
	Slug        string      `json:"slug"`
	Position    string      `json:"position"`
	Company     string      `json:"company"`
	Location    string      `json:"location"`
	URL         string      `json:"url"`
	Description string      `json:"description"`
	SalaryMin   float64     `json:"salary_min"`
	SalaryMax   float64     `json:"salary_max"`
	Date        string      `json:"date"`
	// Legal is set only on the disclaimer element the feed prepends.
	Legal string `json:"legal"`
}

// Fetch implements pipeline.Adapter.
func (a *RemoteOK) Fetch(ctx context.Context, spec pipeline.SearchSpec, emit pipeline.EmitFunc) error {
	var items []remoteOKItem
	if err := a.client.GetJSON(ctx, a.baseURL+"/api", &items); err != nil {
		return err
	}

	emitted := 0
	for _, item := range items {
		if item.Legal != "" || item.ID.String() == "" {
			continue
		}
		if !specMatches(spec, item.Position, item.Description) {
			continue
		}
		raw := pipeline.RawPosting{
			SourceID:    a.Name(),
			NativeID:    item.ID.String(),
			Title:       cleanText(item.Position),
			Company:     cleanText(item.Company),
			Location:    cleanText(item.Location),
			Remote:      true, // the whole board is remote-only
			URL:         absoluteURL(a.baseURL, item.URL),
			Description: cleanText(item.Description),
			PostedAt:    parsePostedAt(item.Date),
		}
		if item.SalaryMin > 0 {
			v := item.SalaryMin
			raw.SalaryMin = &v
		}
		if item.SalaryMax > 0 {
			v := item.SalaryMax
			raw.SalaryMax = &v
		}
		if raw.Title == "" || raw.URL == "" {
			continue
		}
		if err := emit(raw); err != nil {
			return err
		}
		emitted++
		if spec.Limit > 0 && emitted >= spec.Limit {
			return nil
		}
	}

	if emitted == 0 && len(items) <= 1 {
		return &pipeline.ParseDriftError{
			SourceID: a.Name(),
			Reason:   "feed returned no job entries",
		}
	}
	return nil
}

// Smoke implements pipeline.Adapter with a cheap feed probe.
func (a *RemoteOK) Smoke(ctx context.Context) error {
	var items []remoteOKItem
	if err := a.client.GetJSON(ctx, a.baseURL+"/api", &items); err != nil {
		return err
	}
	if len(items) <= 1 {
		return &pipeline.ParseDriftError{SourceID: a.Name(), Reason: "feed returned no job entries"}
	}
	return nil
}

// specMatches applies client-side keyword filtering for feeds that cannot be
// queried server-side.
func specMatches(spec pipeline.SearchSpec, title, description string) bool {
	if len(spec.Keywords) == 0 {
		return true
	}
	haystack := strings.ToLower(title + " " + description)
	for _, kw := range spec.Keywords {
		if kw != "" && strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
