package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/okian/pqa/internal/domain/model"
)

// Dedup stats windows.
const (
	StatsWindowDay  = "24h"
	StatsWindowWeek = "7d"
)

var statsWindows = map[string]time.Duration{ //nolint:gochecknoglobals // fixed lookup
	StatsWindowDay:  24 * time.Hour,
	StatsWindowWeek: 7 * 24 * time.Hour,
}

// GetDeduplicationStats sums the org's ingestion counters over the trailing
// window. Counters are kept per hour, so the window starts at the top of
// the hour it covers.
func (s *Service) GetDeduplicationStats(ctx context.Context, orgID, window string) (model.DedupStats, error) {
	if strings.TrimSpace(orgID) == "" {
		return model.DedupStats{}, invalid("organizationId", "required")
	}
	d, ok := statsWindows[window]
	if !ok {
		return model.DedupStats{}, invalid("window", "must be 24h or 7d")
	}

	from := s.now().UTC().Add(-d).Truncate(time.Hour)
	c, err := s.store.SumIngestCounts(ctx, orgID, from)
	if err != nil {
		return model.DedupStats{}, fmt.Errorf("%w: sum ingest counts: %w", ErrPersistence, err)
	}
	return model.DedupStats{
		Window:        window,
		TotalIngested: c.Ingested,
		TotalStored:   c.Stored,
		Deduplicated:  c.Deduplicated,
		DedupEligible: c.Eligible,
		DedupRate:     dedupRate(c.Deduplicated, c.Eligible),
	}, nil
}

// dedupRate is deduplicated/eligible as a percentage with two decimals.
func dedupRate(deduplicated, eligible int64) float64 {
	if eligible <= 0 {
		return 0
	}
	rate := math.Round(float64(deduplicated)/float64(eligible)*10000) / 100
	return math.Max(0, math.Min(100, rate))
}
