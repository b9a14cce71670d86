package score

import (
	"strings"
	"time"

	"github.com/hiresignal/jobscout/internal/pipeline"
)

// Factor names used as breakdown keys.
const (
	FactorSkills   = "skills"
	FactorSalary   = "salary"
	FactorLocation = "location"
	FactorCompany  = "company"
	FactorRecency  = "recency"
)

// allowBonus is added once when the company is allow-listed, capped so the
// total never exceeds 1.0.
const allowBonus = 0.05

// Engine scores postings against a single validated profile.
type Engine struct {
	profile Profile
}

// NewEngine validates the profile and returns a scorer bound to it.
func NewEngine(p Profile) (*Engine, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Engine{profile: p}, nil
}

// Profile returns the profile the engine scores against.
func (e *Engine) Profile() Profile {
	return e.profile
}

// Threshold returns the profile's above-threshold cutoff.
func (e *Engine) Threshold() float64 {
	return e.profile.Threshold
}

// Score produces a 0.0-1.0 score plus per-factor weighted contributions.
// The reference time is injected, never read from an ambient clock, so
// scoring stays deterministic and testable. A deny-listed company is a hard
// veto: the score is exactly 0.0 regardless of other factors.
func (e *Engine) Score(p pipeline.Posting, now time.Time) (float64, map[string]float64) {
	prof := e.profile

	if containsFold(prof.DenyCompanies, p.Company) {
		return 0.0, map[string]float64{FactorCompany: 0.0}
	}

	factors := map[string]float64{
		FactorSkills:   e.skillsFactor(p),
		FactorSalary:   e.salaryFactor(p),
		FactorLocation: e.locationFactor(p),
		FactorCompany:  e.companyFactor(p),
		FactorRecency:  e.recencyFactor(p, now),
	}

	breakdown := make(map[string]float64, len(factors))
	total := 0.0
	weights := map[string]float64{
		FactorSkills:   prof.Weights.Skills,
		FactorSalary:   prof.Weights.Salary,
		FactorLocation: prof.Weights.Location,
		FactorCompany:  prof.Weights.Company,
		FactorRecency:  prof.Weights.Recency,
	}
	for name, factor := range factors {
		contribution := weights[name] * factor
		breakdown[name] = contribution
		total += contribution
	}

	if containsFold(prof.AllowCompanies, p.Company) {
		total += allowBonus
	}

	return clamp01(total), breakdown
}

// skillsFactor is the fraction of profile keywords present in the posting's
// title or description. A hit on an excluded keyword zeroes the factor; a
// title-list match lifts it to at least 0.9.
func (e *Engine) skillsFactor(p pipeline.Posting) float64 {
	text := strings.ToLower(p.Title + " " + p.Description)

	for _, kw := range e.profile.ExcludeKeywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			return 0.0
		}
	}

	factor := 0.5 // no keywords configured: neutral
	if len(e.profile.Keywords) > 0 {
		matched := 0
		for _, kw := range e.profile.Keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				matched++
			}
		}
		factor = float64(matched) / float64(len(e.profile.Keywords))
	}

	title := strings.ToLower(p.Title)
	for _, want := range e.profile.Titles {
		if want != "" && strings.Contains(title, strings.ToLower(want)) {
			if factor < 0.9 {
				factor = 0.9
			}
			break
		}
	}
	return factor
}

// salaryFactor measures fit against the profile's floor. Postings without
// salary data get the configured neutral value rather than zero.
func (e *Engine) salaryFactor(p pipeline.Posting) float64 {
	if p.SalaryMin == nil && p.SalaryMax == nil {
		return e.profile.SalaryNeutral
	}
	floor := e.profile.SalaryFloor
	if floor <= 0 {
		return 1.0
	}
	low, high := salaryBounds(p)
	switch {
	case high < floor:
		return 0.0
	case low >= floor:
		return 1.0
	case high == low:
		return 1.0
	default:
		// The floor cuts through the advertised range.
		return (high - floor) / (high - low)
	}
}

func salaryBounds(p pipeline.Posting) (low, high float64) {
	switch {
	case p.SalaryMin != nil && p.SalaryMax != nil:
		return *p.SalaryMin, *p.SalaryMax
	case p.SalaryMin != nil:
		return *p.SalaryMin, *p.SalaryMin
	default:
		return *p.SalaryMax, *p.SalaryMax
	}
}

// locationFactor: a remote posting satisfies any location requirement, but
// only when the profile accepts remote work; otherwise the posting's stated
// location is matched like any other.
func (e *Engine) locationFactor(p pipeline.Posting) float64 {
	if p.Remote && e.profile.RemoteOK {
		return 1.0
	}
	if len(e.profile.Locations) == 0 {
		return 1.0
	}
	have := normalizeLocation(p.Location)
	if have == "" {
		return 0.0
	}
	best := 0.0
	for _, want := range e.profile.Locations {
		wantNorm := normalizeLocation(want)
		if wantNorm == "" {
			continue
		}
		switch {
		case have == wantNorm:
			return 1.0
		case strings.Contains(have, wantNorm) || strings.Contains(wantNorm, have):
			if best < 0.75 {
				best = 0.75
			}
		}
	}
	return best
}

func normalizeLocation(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// companyFactor: allow-listed companies score 1.0, unknown companies are
// neutral. Deny-listed companies never reach this point (hard veto upstream).
func (e *Engine) companyFactor(p pipeline.Posting) float64 {
	if containsFold(e.profile.AllowCompanies, p.Company) {
		return 1.0
	}
	return 0.5
}

// recencyFactor decays linearly from 1.0 (posted now) to 0.0 at the max-age
// horizon. Postings with unknown posted_at fall back to first_seen_at.
func (e *Engine) recencyFactor(p pipeline.Posting, now time.Time) float64 {
	ref := p.FirstSeenAt
	if p.PostedAt != nil {
		ref = *p.PostedAt
	}
	horizon := time.Duration(e.profile.MaxAgeDays) * 24 * time.Hour
	age := now.Sub(ref)
	if age < 0 {
		age = 0
	}
	if age >= horizon {
		return 0.0
	}
	return 1.0 - float64(age)/float64(horizon)
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if item != "" && strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
