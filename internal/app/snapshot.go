package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/pqa/internal/domain/model"
	"github.com/okian/pqa/pkg/logger"
	"github.com/okian/pqa/pkg/metrics"
)

// History window limits, in days.
const (
	defaultHistoryDays = 30
	maxHistoryDays     = 365
)

// ScoreOverview aggregates an org's snapshots per UTC day.
type ScoreOverview struct {
	OrganizationID string              `json:"organizationId"`
	Days           int                 `json:"days"`
	Series         []model.DayOverview `json:"series"`
	Totals         OverviewTotals      `json:"totals"`
}

// OverviewTotals summarizes the whole overview window.
type OverviewTotals struct {
	Snapshots int     `json:"snapshots"`
	Companies int     `json:"companies"`
	MeanScore float64 `json:"meanScore"`
}

// CaptureSnapshots appends one snapshot per scored account of the org and
// returns how many were captured. Accounts never scored are skipped.
func (s *Service) CaptureSnapshots(ctx context.Context, orgID string) (int, error) {
	if strings.TrimSpace(orgID) == "" {
		return 0, invalid("organizationId", "required")
	}
	scores, err := s.store.ListScores(ctx, orgID)
	if err != nil {
		return 0, fmt.Errorf("%w: list scores: %w", ErrPersistence, err)
	}
	if len(scores) == 0 {
		return 0, nil
	}

	now := s.now().UTC()
	snaps := make([]model.ScoreSnapshot, 0, len(scores))
	for _, sc := range scores {
		snaps = append(snaps, newSnapshot(sc, now))
	}
	if err := s.store.AppendSnapshots(ctx, snaps); err != nil {
		return 0, fmt.Errorf("%w: append snapshots: %w", ErrPersistence, err)
	}
	metrics.RecordSnapshotsCaptured(len(snaps))
	s.logger.Info(ctx, "score snapshots captured", logger.String("org_id", orgID), logger.Int("count", len(snaps)))
	return len(snaps), nil
}

// CaptureSnapshot appends one snapshot of the company's current score.
func (s *Service) CaptureSnapshot(ctx context.Context, orgID, companyID string) (model.ScoreSnapshot, error) {
	sc, err := s.GetAccountScore(ctx, orgID, companyID)
	if err != nil {
		return model.ScoreSnapshot{}, err
	}
	snap := newSnapshot(sc, s.now().UTC())
	if err := s.store.AppendSnapshots(ctx, []model.ScoreSnapshot{snap}); err != nil {
		return model.ScoreSnapshot{}, fmt.Errorf("%w: append snapshot: %w", ErrPersistence, err)
	}
	metrics.RecordSnapshotsCaptured(1)
	return snap, nil
}

// CaptureAllSnapshots runs CaptureSnapshots for every org holding scores.
// One org failing does not stop the others.
func (s *Service) CaptureAllSnapshots(ctx context.Context) (int, error) {
	orgs, err := s.store.ScoredOrganizations(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: scored organizations: %w", ErrPersistence, err)
	}
	var (
		total int
		errs  []error
	)
	for _, org := range orgs {
		n, err := s.CaptureSnapshots(ctx, org)
		if err != nil {
			errs = append(errs, fmt.Errorf("org %s: %w", org, err))
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}

func newSnapshot(sc model.AccountScore, at time.Time) model.ScoreSnapshot { //nolint:gocritic // hugeParam: score rows are values
	return model.ScoreSnapshot{
		ID:             uuid.NewString(),
		OrganizationID: sc.OrganizationID,
		CompanyID:      sc.AccountID,
		Score:          sc.Score,
		Breakdown:      sc.Breakdown(),
		CapturedAt:     at,
	}
}

// GetScoreHistory returns the company's snapshots of the last days days,
// oldest first. A days of 0 means the default window.
func (s *Service) GetScoreHistory(ctx context.Context, companyID, orgID string, days int) ([]model.ScoreSnapshot, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, invalid("organizationId", "required")
	}
	if strings.TrimSpace(companyID) == "" {
		return nil, invalid("companyId", "required")
	}
	from, err := s.historyStart(days)
	if err != nil {
		return nil, err
	}
	snaps, err := s.store.CompanySnapshots(ctx, orgID, companyID, from)
	if err != nil {
		return nil, fmt.Errorf("%w: company snapshots: %w", ErrPersistence, err)
	}
	if snaps == nil {
		snaps = []model.ScoreSnapshot{}
	}
	return snaps, nil
}

// GetScoreOverview aggregates the org's snapshots of the last days days by
// UTC day, oldest day first. Days without snapshots are omitted.
func (s *Service) GetScoreOverview(ctx context.Context, orgID string, days int) (ScoreOverview, error) {
	if strings.TrimSpace(orgID) == "" {
		return ScoreOverview{}, invalid("organizationId", "required")
	}
	if days == 0 {
		days = defaultHistoryDays
	}
	from, err := s.historyStart(days)
	if err != nil {
		return ScoreOverview{}, err
	}
	snaps, err := s.store.OrgSnapshots(ctx, orgID, from)
	if err != nil {
		return ScoreOverview{}, fmt.Errorf("%w: org snapshots: %w", ErrPersistence, err)
	}

	out := ScoreOverview{OrganizationID: orgID, Days: days, Series: []model.DayOverview{}}
	if len(snaps) == 0 {
		return out, nil
	}

	var (
		day       *model.DayOverview
		dayCos    map[string]struct{}
		daySum    int
		allCos    = make(map[string]struct{})
		sumScores int
	)
	flush := func() {
		if day == nil {
			return
		}
		day.Companies = len(dayCos)
		day.MeanScore = round2(float64(daySum) / float64(day.Snapshots))
		out.Series = append(out.Series, *day)
	}
	// Snapshots arrive in capturedAt order, so each UTC day is contiguous.
	for _, sn := range snaps {
		date := sn.CapturedAt.UTC().Format(time.DateOnly)
		if day == nil || day.Date != date {
			flush()
			day = &model.DayOverview{Date: date, MinScore: sn.Score, MaxScore: sn.Score, Tiers: emptyTierCounts()}
			dayCos = make(map[string]struct{})
			daySum = 0
		}
		day.Snapshots++
		day.MinScore = min(day.MinScore, sn.Score)
		day.MaxScore = max(day.MaxScore, sn.Score)
		day.Tiers[sn.Breakdown.Tier]++
		daySum += sn.Score
		dayCos[sn.CompanyID] = struct{}{}
		allCos[sn.CompanyID] = struct{}{}
		sumScores += sn.Score
	}
	flush()

	out.Totals = OverviewTotals{
		Snapshots: len(snaps),
		Companies: len(allCos),
		MeanScore: round2(float64(sumScores) / float64(len(snaps))),
	}
	return out, nil
}

func (s *Service) historyStart(days int) (time.Time, error) {
	if days == 0 {
		days = defaultHistoryDays
	}
	if days < 1 || days > maxHistoryDays {
		return time.Time{}, invalid("days", fmt.Sprintf("must be between 1 and %d", maxHistoryDays))
	}
	return s.now().UTC().AddDate(0, 0, -days), nil
}

func emptyTierCounts() map[model.Tier]int {
	counts := make(map[model.Tier]int, len(model.Tiers))
	for _, t := range model.Tiers {
		counts[t] = 0
	}
	return counts
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

