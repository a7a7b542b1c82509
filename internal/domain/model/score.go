package model

import (
	"strings"
	"time"
)

// Tier is the categorical bucket derived from a score.
type Tier string

const (
	TierHot      Tier = "HOT"
	TierWarm     Tier = "WARM"
	TierCold     Tier = "COLD"
	TierInactive Tier = "INACTIVE"
)

// Tiers lists every tier from highest to lowest.
var Tiers = []Tier{TierHot, TierWarm, TierCold, TierInactive} //nolint:gochecknoglobals // fixed enumeration

// ParseTier accepts a tier name in any case.
func ParseTier(s string) (Tier, bool) {
	t := Tier(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Tiers {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// Trend is the direction of a score over the lookback window.
type Trend string

const (
	TrendRising  Trend = "RISING"
	TrendStable  Trend = "STABLE"
	TrendFalling Trend = "FALLING"
)

// Factor is one weighted input to a score.
type Factor struct {
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Value       float64 `json:"value"`
	Description string  `json:"description"`
}

// AccountScore is the current score of an account. One row per
// (organization, account), overwritten on every recomputation.
type AccountScore struct {
	OrganizationID string     `json:"organizationId"`
	AccountID      string     `json:"accountId"`
	Score          int        `json:"score"`
	Tier           Tier       `json:"tier"`
	Trend          Trend      `json:"trend"`
	SignalCount    int        `json:"signalCount"`
	UserCount      int        `json:"userCount"`
	LastSignalAt   *time.Time `json:"lastSignalAt"`
	ComputedAt     time.Time  `json:"computedAt"`
	Factors        []Factor   `json:"factors"`
}

// Breakdown is the score shape copied into a snapshot.
type Breakdown struct {
	Tier        Tier     `json:"tier"`
	Trend       Trend    `json:"trend"`
	SignalCount int      `json:"signalCount"`
	UserCount   int      `json:"userCount"`
	Factors     []Factor `json:"factors"`
}

// Breakdown copies the score's breakdown. Factors are cloned so the
// snapshot never aliases the live row.
func (a AccountScore) Breakdown() Breakdown {
	factors := make([]Factor, len(a.Factors))
	copy(factors, a.Factors)
	return Breakdown{
		Tier:        a.Tier,
		Trend:       a.Trend,
		SignalCount: a.SignalCount,
		UserCount:   a.UserCount,
		Factors:     factors,
	}
}

// ScoreSnapshot is an append-only historical score point.
type ScoreSnapshot struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organizationId"`
	CompanyID      string    `json:"companyId"`
	Score          int       `json:"score"`
	Breakdown      Breakdown `json:"breakdown"`
	CapturedAt     time.Time `json:"capturedAt"`
}

// DayOverview aggregates snapshots of one UTC day across an organization.
type DayOverview struct {
	Date      string       `json:"date"`
	MeanScore float64      `json:"meanScore"`
	MinScore  int          `json:"minScore"`
	MaxScore  int          `json:"maxScore"`
	Companies int          `json:"companies"`
	Snapshots int          `json:"snapshots"`
	Tiers     map[Tier]int `json:"tiers"`
}

// DedupStats summarizes ingestion and dedup counters over a window.
type DedupStats struct {
	Window        string  `json:"window"`
	TotalIngested int64   `json:"totalIngested"`
	TotalStored   int64   `json:"totalStored"`
	Deduplicated  int64   `json:"deduplicated"`
	DedupEligible int64   `json:"dedupEligible"`
	DedupRate     float64 `json:"dedupRate"`
}
