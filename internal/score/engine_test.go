package score

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hiresignal/jobscout/internal/pipeline"
)

func testProfile() Profile {
	return Profile{
		Keywords:      []string{"go", "kubernetes"},
		Locations:     []string{"Berlin"},
		RemoteOK:      true,
		SalaryFloor:   80000,
		DenyCompanies: []string{"Bodyshop Inc"},
		Weights: Weights{
			Skills:   0.4,
			Salary:   0.2,
			Location: 0.15,
			Company:  0.1,
			Recency:  0.15,
		},
		Threshold:     0.6,
		MaxAgeDays:    30,
		SalaryNeutral: 0.5,
	}
}

func testPosting(now time.Time) pipeline.Posting {
	posted := now.Add(-24 * time.Hour)
	min, max := 90000.0, 120000.0
	return pipeline.Posting{
		IdentityKey: "hn:1",
		SourceID:    "hn",
		Title:       "Senior Go Engineer",
		Company:     "Acme",
		Location:    "Berlin, Germany",
		Description: "Build Kubernetes operators in Go.",
		SalaryMin:   &min,
		SalaryMax:   &max,
		PostedAt:    &posted,
		FirstSeenAt: now,
	}
}

func TestNewEngine_RejectsBadWeights(t *testing.T) {
	t.Parallel()

	p := testProfile()
	p.Weights.Skills = 0.9

	_, err := NewEngine(p)
	require.Error(t, err)
	var invalid *pipeline.ProfileInvalidError
	require.ErrorAs(t, err, &invalid)
}

func TestScore_Deterministic(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(testProfile())
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	posting := testPosting(now)

	first, firstBreakdown := engine.Score(posting, now)
	second, secondBreakdown := engine.Score(posting, now)

	require.Equal(t, first, second)
	require.Equal(t, firstBreakdown, secondBreakdown)
	require.Greater(t, first, 0.0)
	require.LessOrEqual(t, first, 1.0)
}

func TestScore_DenyListIsHardVeto(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(testProfile())
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	posting := testPosting(now)
	posting.Company = "bodyshop inc" // case-insensitive match

	score, breakdown := engine.Score(posting, now)
	require.Equal(t, 0.0, score)
	require.Equal(t, 0.0, breakdown[FactorCompany])
}

func TestScore_AllowBonusCappedAtOne(t *testing.T) {
	t.Parallel()

	p := testProfile()
	p.AllowCompanies = []string{"Acme"}
	// All weight on skills with a guaranteed full match drives the base sum
	// to 1.0; the allow bonus must not push past it.
	p.Weights = Weights{Skills: 1.0}
	engine, err := NewEngine(p)
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	posting := testPosting(now)

	score, _ := engine.Score(posting, now)
	require.Equal(t, 1.0, score)
}

func TestSalaryFactor_MissingSalaryIsNeutral(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(testProfile())
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	posting := testPosting(now)
	posting.SalaryMin = nil
	posting.SalaryMax = nil

	require.Equal(t, 0.5, engine.salaryFactor(posting))
}

func TestSalaryFactor_BelowFloorIsZero(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(testProfile())
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	posting := testPosting(now)
	min, max := 40000.0, 60000.0
	posting.SalaryMin = &min
	posting.SalaryMax = &max

	require.Equal(t, 0.0, engine.salaryFactor(posting))
}

func TestLocationFactor_RemoteSatisfiesAnyRequirement(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(testProfile())
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	posting := testPosting(now)
	posting.Location = "Tokyo"
	posting.Remote = true

	require.Equal(t, 1.0, engine.locationFactor(posting))
}

func TestLocationFactor_RemoteNeedsProfileOptIn(t *testing.T) {
	t.Parallel()

	profile := testProfile()
	profile.RemoteOK = false
	engine, err := NewEngine(profile)
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	posting := testPosting(now)
	posting.Location = "Tokyo"
	posting.Remote = true
	require.Equal(t, 0.0, engine.locationFactor(posting),
		"remote does not satisfy the location requirement when the profile declines remote work")

	posting.Location = "Berlin"
	require.Equal(t, 1.0, engine.locationFactor(posting),
		"a matching stated location still counts")
}

func TestRecencyFactor_Boundaries(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(testProfile())
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	atHorizon := now.Add(-30 * 24 * time.Hour)
	posting := testPosting(now)
	posting.PostedAt = &atHorizon
	require.Equal(t, 0.0, engine.recencyFactor(posting, now))

	dayBefore := now.Add(-29 * 24 * time.Hour)
	posting.PostedAt = &dayBefore
	factor := engine.recencyFactor(posting, now)
	require.Greater(t, factor, 0.0)
	require.Less(t, factor, 1.0)

	fresh := now
	posting.PostedAt = &fresh
	require.Equal(t, 1.0, engine.recencyFactor(posting, now))
}

func TestRecencyFactor_FallsBackToFirstSeen(t *testing.T) {
	t.Parallel()

	engine, err := NewEngine(testProfile())
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	posting := testPosting(now)
	posting.PostedAt = nil
	posting.FirstSeenAt = now.Add(-15 * 24 * time.Hour)

	require.InDelta(t, 0.5, engine.recencyFactor(posting, now), 1e-9)
}

func TestSkillsFactor_ExcludedKeywordZeroes(t *testing.T) {
	t.Parallel()

	p := testProfile()
	p.ExcludeKeywords = []string{"clearance"}
	engine, err := NewEngine(p)
	require.NoError(t, err)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	posting := testPosting(now)
	posting.Description = "Requires active security clearance."

	require.Equal(t, 0.0, engine.skillsFactor(posting))
}
