package adapter

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/pipeline"
)

const leverBaseURL = "https://api.lever.co"

// Lever fetches postings from per-company Lever boards.
type Lever struct {
	client  *Client
	baseURL string
	logger  *zap.Logger
}

// NewLever builds the Lever adapter.
func NewLever(client *Client, logger *zap.Logger) *Lever {
	return &Lever{client: client, baseURL: leverBaseURL, logger: logger}
}

// Name implements pipeline.Adapter.
func (a *Lever) Name() string { return "lever" }

type leverPosting struct {
	ID               string `json:"id"`
	Text             string `json:"text"`
	HostedURL        string `json:"hostedUrl"`
	DescriptionPlain string `json:"descriptionPlain"`
	CreatedAt        int64  `json:"createdAt"` // epoch millis
	Categories       struct {
		Location   string `json:"location"`
		Commitment string `json:"commitment"`
		Team       string `json:"team"`
	} `json:"categories"`
	SalaryRange *struct {
		Min      float64 `json:"min"`
		Max      float64 `json:"max"`
		Interval string  `json:"interval"`
	} `json:"salaryRange"`
}

// Fetch implements pipeline.Adapter.
func (a *Lever) Fetch(ctx context.Context, spec pipeline.SearchSpec, emit pipeline.EmitFunc) error {
	if len(spec.BoardSlugs) == 0 {
		return nil
	}

	emitted := 0
	for _, slug := range spec.BoardSlugs {
		endpoint := fmt.Sprintf("%s/v0/postings/%s?mode=json", a.baseURL, slug)
		var postings []leverPosting
		if err := a.client.GetJSON(ctx, endpoint, &postings); err != nil {
			return err
		}
		for _, p := range postings {
			if p.ID == "" || p.Text == "" {
				continue
			}
			desc := cleanText(p.DescriptionPlain)
			if !specMatches(spec, p.Text, desc) {
				continue
			}
			raw := pipeline.RawPosting{
				SourceID:    a.Name(),
				NativeID:    p.ID,
				Title:       cleanText(p.Text),
				Company:     companyFromSlug(slug),
				Location:    cleanText(p.Categories.Location),
				Remote:      isRemote(p.Categories.Location, p.Text),
				URL:         p.HostedURL,
				Description: desc,
			}
			if p.CreatedAt > 0 {
				ts := time.UnixMilli(p.CreatedAt).UTC()
				raw.PostedAt = &ts
			}
			if p.SalaryRange != nil && p.SalaryRange.Min > 0 {
				lo, hi := p.SalaryRange.Min, p.SalaryRange.Max
				raw.SalaryMin = &lo
				if hi > 0 {
					raw.SalaryMax = &hi
				}
			}
			if err := emit(raw); err != nil {
				return err
			}
			emitted++
			if spec.Limit > 0 && emitted >= spec.Limit {
				return nil
			}
		}
	}
	return nil
}

// Smoke implements pipeline.Adapter against Lever's own public board.
func (a *Lever) Smoke(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	var postings []leverPosting
	return a.client.GetJSON(ctx, a.baseURL+"/v0/postings/lever?mode=json&limit=1", &postings)
}
