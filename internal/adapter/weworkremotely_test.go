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

const wwrFixture = `<html><body>
<section class="jobs">
  <ul>
    <li>
      <a href="/remote-jobs/acme-senior-go-engineer">
        <span class="company">Acme</span>
        <span class="title">Senior Go Engineer</span>
        <span class="region">Anywhere in the World</span>
      </a>
    </li>
    <li>
      <a href="/remote-jobs/umbrella-rails-developer">
        <span class="company">Umbrella</span>
        <span class="title">Rails Developer</span>
        <span class="region">Europe Only</span>
      </a>
    </li>
  </ul>
</section>
</body></html>`

func newWWRForTest(t *testing.T, handler http.HandlerFunc) (*WeWorkRemotely, func()) {
	t.Helper()
	ts := httptest.NewServer(handler)
	a := NewWeWorkRemotely(fastClientConfig(), zap.NewNop())
	a.baseURL = ts.URL
	return a, ts.Close
}

func TestWeWorkRemotely_FetchEmitsPostings(t *testing.T) {
	t.Parallel()

	a, closeFn := newWWRForTest(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(wwrFixture))
	})
	defer closeFn()

	var emitted []pipeline.RawPosting
	err := a.Fetch(context.Background(), pipeline.SearchSpec{}, collectEmitted(&emitted))
	require.NoError(t, err)
	// Both category pages serve the same fixture; the two listings appear
	// once per page.
	require.Len(t, emitted, 4)

	first := emitted[0]
	require.Equal(t, "weworkremotely", first.SourceID)
	require.Equal(t, "acme-senior-go-engineer", first.NativeID)
	require.Equal(t, "Senior Go Engineer", first.Title)
	require.Equal(t, "Acme", first.Company)
	require.True(t, first.Remote)
	require.Contains(t, first.URL, "/remote-jobs/acme-senior-go-engineer")
}

func TestWeWorkRemotely_KeywordFilter(t *testing.T) {
	t.Parallel()

	a, closeFn := newWWRForTest(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(wwrFixture))
	})
	defer closeFn()

	var emitted []pipeline.RawPosting
	spec := pipeline.SearchSpec{Keywords: []string{"rails"}}
	err := a.Fetch(context.Background(), spec, collectEmitted(&emitted))
	require.NoError(t, err)
	require.Len(t, emitted, 2)
	require.Equal(t, "Rails Developer", emitted[0].Title)
}

func TestWeWorkRemotely_MissingMarkupIsParseDrift(t *testing.T) {
	t.Parallel()

	a, closeFn := newWWRForTest(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html><body><p>We moved to a shiny new SPA!</p></body></html>"))
	})
	defer closeFn()

	err := a.Fetch(context.Background(), pipeline.SearchSpec{}, func(pipeline.RawPosting) error { return nil })
	require.True(t, pipeline.IsParseDrift(err))

	var drift *pipeline.ParseDriftError
	require.ErrorAs(t, err, &drift)
	require.NotEmpty(t, drift.Body, "page body kept for snapshotting")
}

func TestWeWorkRemotely_Smoke(t *testing.T) {
	t.Parallel()

	a, closeFn := newWWRForTest(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(wwrFixture))
	})
	defer closeFn()

	require.NoError(t, a.Smoke(context.Background()))
}
