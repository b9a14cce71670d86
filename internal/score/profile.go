// Package score implements the weighted multi-factor match between a job
// posting and a preference profile. Scoring is pure: the same posting,
// profile, and reference time always produce the same score and breakdown.
package score

import (
	"fmt"
	"math"

	"github.com/hiresignal/jobscout/internal/pipeline"
)

// weightEpsilon is the tolerance when checking that factor weights sum to 1.0.
const weightEpsilon = 0.001

// Weights holds the per-factor weights. They must sum to 1.0 ± weightEpsilon.
type Weights struct {
	Skills   float64 `mapstructure:"skills" json:"skills"`
	Salary   float64 `mapstructure:"salary" json:"salary"`
	Location float64 `mapstructure:"location" json:"location"`
	Company  float64 `mapstructure:"company" json:"company"`
	Recency  float64 `mapstructure:"recency" json:"recency"`
}

// Sum returns the total of all factor weights.
func (w Weights) Sum() float64 {
	return w.Skills + w.Salary + w.Location + w.Company + w.Recency
}

// Profile is the read-only preference profile supplied by the configuration
// collaborator. The core never mutates it.
type Profile struct {
	Keywords        []string `mapstructure:"keywords"`
	Titles          []string `mapstructure:"titles"`
	Locations       []string `mapstructure:"locations"`
	RemoteOK        bool     `mapstructure:"remote_ok"`
	SalaryFloor     float64  `mapstructure:"salary_floor"`
	AllowCompanies  []string `mapstructure:"allow_companies"`
	DenyCompanies   []string `mapstructure:"deny_companies"`
	ExcludeKeywords []string `mapstructure:"exclude_keywords"`
	Weights         Weights  `mapstructure:"weights"`
	// Threshold is the score above which a posting counts toward the run's
	// above-threshold tally and is served to the notification collaborator.
	Threshold float64 `mapstructure:"threshold"`
	// MaxAgeDays is the recency horizon: a posting this old scores 0.0 on
	// the recency factor.
	MaxAgeDays int `mapstructure:"max_age_days"`
	// SalaryNeutral is the salary factor used when a posting carries no
	// salary data, so such postings are not systematically down-ranked.
	SalaryNeutral float64 `mapstructure:"salary_neutral"`
}

// Validate rejects malformed profiles at the configuration boundary.
func (p Profile) Validate() error {
	if sum := p.Weights.Sum(); math.Abs(sum-1.0) > weightEpsilon {
		return &pipeline.ProfileInvalidError{
			Reason: fmt.Sprintf("factor weights sum to %.4f, want 1.0", sum),
		}
	}
	if p.Weights.Skills < 0 || p.Weights.Salary < 0 || p.Weights.Location < 0 ||
		p.Weights.Company < 0 || p.Weights.Recency < 0 {
		return &pipeline.ProfileInvalidError{Reason: "factor weights must be non-negative"}
	}
	if p.Threshold < 0 || p.Threshold > 1 {
		return &pipeline.ProfileInvalidError{Reason: "threshold must be in [0,1]"}
	}
	if p.MaxAgeDays <= 0 {
		return &pipeline.ProfileInvalidError{Reason: "max_age_days must be > 0"}
	}
	if p.SalaryNeutral < 0 || p.SalaryNeutral > 1 {
		return &pipeline.ProfileInvalidError{Reason: "salary_neutral must be in [0,1]"}
	}
	return nil
}
