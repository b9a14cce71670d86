package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hiresignal/jobscout/internal/pipeline"
)

const greenhouseFixture = `{
  "jobs": [
    {"id": 555, "title": "Senior Go Engineer", "absolute_url": "https://boards.greenhouse.io/acme/jobs/555",
     "updated_at": "2025-05-15T10:00:00-04:00",
     "location": {"name": "Remote - US"},
     "content": "You will build services in Go. Salary range $140,000 - $180,000."},
    {"id": 556, "title": "Recruiter", "absolute_url": "https://boards.greenhouse.io/acme/jobs/556",
     "updated_at": "2025-05-14T10:00:00-04:00",
     "location": {"name": "New York"},
     "content": "Hire people."}
  ]
}`

func TestGreenhouse_FetchEmitsPerSlug(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(withoutRobots(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/boards/acme/jobs", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("content"))
		w.Write([]byte(greenhouseFixture))
	}))
	defer ts.Close()

	a := NewGreenhouse(NewClient("greenhouse", fastClientConfig(), zap.NewNop()), zap.NewNop())
	a.baseURL = ts.URL

	var emitted []pipeline.RawPosting
	spec := pipeline.SearchSpec{BoardSlugs: []string{"acme"}}
	err := a.Fetch(context.Background(), spec, collectEmitted(&emitted))
	require.NoError(t, err)
	require.Len(t, emitted, 2)

	first := emitted[0]
	require.Equal(t, "acme/555", first.NativeID)
	require.Equal(t, "Acme", first.Company)
	require.True(t, first.Remote)
	require.NotNil(t, first.SalaryMin)
	require.Equal(t, 140000.0, *first.SalaryMin)
	require.NotNil(t, first.SalaryMax)
	require.Equal(t, 180000.0, *first.SalaryMax)
}

func TestGreenhouse_NoSlugsIsNoOp(t *testing.T) {
	t.Parallel()

	a := NewGreenhouse(NewClient("greenhouse", fastClientConfig(), zap.NewNop()), zap.NewNop())
	a.baseURL = "http://127.0.0.1:1" // must never be contacted

	err := a.Fetch(context.Background(), pipeline.SearchSpec{}, func(pipeline.RawPosting) error {
		t.Fatal("emit should not be called")
		return nil
	})
	require.NoError(t, err)
}

func TestGreenhouse_KeywordFilter(t *testing.T) {
	t.Parallel()

	ts := httptest.NewServer(withoutRobots(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(greenhouseFixture))
	}))
	defer ts.Close()

	a := NewGreenhouse(NewClient("greenhouse", fastClientConfig(), zap.NewNop()), zap.NewNop())
	a.baseURL = ts.URL

	var emitted []pipeline.RawPosting
	spec := pipeline.SearchSpec{BoardSlugs: []string{"acme"}, Keywords: []string{"go"}}
	err := a.Fetch(context.Background(), spec, collectEmitted(&emitted))
	require.NoError(t, err)
	require.Len(t, emitted, 1)
	require.Equal(t, "Senior Go Engineer", emitted[0].Title)
}
