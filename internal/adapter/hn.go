package adapter

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/pipeline"
)

const hnBaseURL = "https://hn.algolia.com"

// HN fetches job stories from the Hacker News Algolia search API.
type HN struct {
	client  *Client
	baseURL string
	logger  *zap.Logger
}

// NewHN builds the Hacker News adapter.
func NewHN(client *Client, logger *zap.Logger) *HN {
	return &HN{client: client, baseURL: hnBaseURL, logger: logger}
}

// Name implements pipeline.Adapter.
func (a *HN) Name() string { return "hn" }

type hnSearchResponse struct {
	Hits []hnHit `json:"hits"`
}

type hnHit struct {
	ObjectID  string `json:"objectID"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	StoryText string `json:"story_text"`
	CreatedAt string `json:"created_at"`
}

// Fetch implements pipeline.Adapter. Job stories are queried newest-first;
// the search spec's first keyword narrows the query server-side.
func (a *HN) Fetch(ctx context.Context, spec pipeline.SearchSpec, emit pipeline.EmitFunc) error {
	values := url.Values{}
	values.Set("tags", "job")
	values.Set("hitsPerPage", "100")
	if len(spec.Keywords) > 0 {
		values.Set("query", spec.Keywords[0])
	}
	endpoint := fmt.Sprintf("%s/api/v1/search_by_date?%s", a.baseURL, values.Encode())

	var resp hnSearchResponse
	if err := a.client.GetJSON(ctx, endpoint, &resp); err != nil {
		return err
	}

	emitted := 0
	for _, hit := range resp.Hits {
		if hit.ObjectID == "" || hit.Title == "" {
			continue
		}
		title, company := splitHNTitle(hit.Title)
		link := hit.URL
		if link == "" {
			link = fmt.Sprintf("https://news.ycombinator.com/item?id=%s", hit.ObjectID)
		}
		raw := pipeline.RawPosting{
			SourceID:    a.Name(),
			NativeID:    hit.ObjectID,
			Title:       title,
			Company:     company,
			Remote:      isRemote(hit.Title, hit.StoryText),
			URL:         link,
			Description: cleanText(hit.StoryText),
			PostedAt:    parsePostedAt(hit.CreatedAt),
		}
		if err := emit(raw); err != nil {
			return err
		}
		emitted++
		if spec.Limit > 0 && emitted >= spec.Limit {
			return nil
		}
	}
	return nil
}

// Smoke implements pipeline.Adapter: one tiny query proves the API answers.
func (a *HN) Smoke(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	var resp hnSearchResponse
	return a.client.GetJSON(ctx, a.baseURL+"/api/v1/search_by_date?tags=job&hitsPerPage=1", &resp)
}

// splitHNTitle pulls the company out of the conventional
// "Company (YC S24) is hiring a staff engineer" job title shape.
func splitHNTitle(full string) (title, company string) {
	full = cleanText(full)
	lower := strings.ToLower(full)
	idx := strings.Index(lower, " is hiring")
	if idx <= 0 {
		return full, ""
	}
	company = strings.TrimSpace(full[:idx])
	// Strip a trailing batch tag like "(YC S24)".
	if open := strings.LastIndex(company, "("); open > 0 && strings.HasSuffix(company, ")") {
		company = strings.TrimSpace(company[:open])
	}
	return full, company
}
