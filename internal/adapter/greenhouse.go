package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/pipeline"
)

const greenhouseBaseURL = "https://boards-api.greenhouse.io"

// Greenhouse fetches postings from per-company Greenhouse boards. The board
// slugs come from the search spec; one feed per slug.
type Greenhouse struct {
	client  *Client
	baseURL string
	logger  *zap.Logger
}

// NewGreenhouse builds the Greenhouse adapter.
func NewGreenhouse(client *Client, logger *zap.Logger) *Greenhouse {
	return &Greenhouse{client: client, baseURL: greenhouseBaseURL, logger: logger}
}

// Name implements pipeline.Adapter.
func (a *Greenhouse) Name() string { return "greenhouse" }

type greenhouseBoard struct {
	Jobs []greenhouseJob `json:"jobs"`
}

type greenhouseJob struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	AbsoluteURL string `json:"absolute_url"`
	UpdatedAt   string `json:"updated_at"`
	Content     string `json:"content"`
	Location    struct {
		Name string `json:"name"`
	} `json:"location"`
}

// Fetch implements pipeline.Adapter.
func (a *Greenhouse) Fetch(ctx context.Context, spec pipeline.SearchSpec, emit pipeline.EmitFunc) error {
	if len(spec.BoardSlugs) == 0 {
		return nil
	}

	emitted := 0
	for _, slug := range spec.BoardSlugs {
		board, err := a.fetchBoard(ctx, slug)
		if err != nil {
			return err
		}
		for _, job := range board.Jobs {
			if job.ID == 0 || job.Title == "" {
				continue
			}
			desc := cleanText(job.Content)
			if !specMatches(spec, job.Title, desc) {
				continue
			}
			raw := pipeline.RawPosting{
				SourceID:    a.Name(),
				NativeID:    fmt.Sprintf("%s/%d", slug, job.ID),
				Title:       cleanText(job.Title),
				Company:     companyFromSlug(slug),
				Location:    cleanText(job.Location.Name),
				Remote:      isRemote(job.Location.Name, job.Title),
				URL:         job.AbsoluteURL,
				Description: desc,
				PostedAt:    parsePostedAt(job.UpdatedAt),
			}
			raw.SalaryMin, raw.SalaryMax = parseSalaryRange(desc)
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

func (a *Greenhouse) fetchBoard(ctx context.Context, slug string) (*greenhouseBoard, error) {
	endpoint := fmt.Sprintf("%s/v1/boards/%s/jobs?content=true", a.baseURL, slug)
	var board greenhouseBoard
	if err := a.client.GetJSON(ctx, endpoint, &board); err != nil {
		return nil, err
	}
	return &board, nil
}

// Smoke implements pipeline.Adapter: the API root answers 200 even without a
// board slug, which is all a liveness probe needs.
func (a *Greenhouse) Smoke(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	_, err := a.client.Get(ctx, a.baseURL+"/v1/boards/greenhouse/jobs")
	return err
}

// companyFromSlug turns "acme-corp" into "Acme Corp" for display.
func companyFromSlug(slug string) string {
	words := strings.Split(strings.ReplaceAll(slug, "_", "-"), "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
