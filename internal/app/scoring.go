package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/pqa/internal/adapters/dispatch"
	"github.com/okian/pqa/internal/adapters/mq/queue"
	"github.com/okian/pqa/internal/adapters/repository"
	"github.com/okian/pqa/internal/domain/model"
	"github.com/okian/pqa/internal/domain/scoring"
	"github.com/okian/pqa/internal/domain/types"
	"github.com/okian/pqa/pkg/logger"
	"github.com/okian/pqa/pkg/metrics"
)

// Top accounts limits.
const (
	defaultTopLimit = 10
	maxTopLimit     = 100
)

// ComputeAccountScore recomputes the account's score from its trailing
// window and overwrites the current row. A score.changed event is queued
// when the score or tier moved, or when the account is scored for the
// first time.
func (s *Service) ComputeAccountScore(ctx context.Context, orgID, accountID string) (model.AccountScore, error) {
	start := time.Now()
	sc, err := s.computeAccountScore(ctx, orgID, accountID)
	if err != nil {
		metrics.RecordScoreComputeError()
		return model.AccountScore{}, err
	}
	metrics.RecordScoreComputed(float64(time.Since(start).Nanoseconds()) / 1e6)
	return sc, nil
}

func (s *Service) computeAccountScore(ctx context.Context, orgID, accountID string) (model.AccountScore, error) {
	orgID, accountID = strings.TrimSpace(orgID), strings.TrimSpace(accountID)
	if orgID == "" {
		return model.AccountScore{}, invalid("organizationId", "required")
	}
	if accountID == "" {
		return model.AccountScore{}, invalid("accountId", "required")
	}

	company, ok, err := s.store.GetCompany(ctx, orgID, accountID)
	if err != nil {
		return model.AccountScore{}, fmt.Errorf("%w: get company: %w", ErrPersistence, err)
	}
	if !ok {
		return model.AccountScore{}, fmt.Errorf("%w: account %s", ErrNotFound, accountID)
	}

	now := s.now().UTC()
	in, err := s.scoreInput(ctx, company, now)
	if err != nil {
		return model.AccountScore{}, err
	}
	res := s.engine.Compute(in, now)

	sc := model.AccountScore{
		OrganizationID: orgID,
		AccountID:      accountID,
		Score:          res.Score,
		Tier:           res.Tier,
		Trend:          res.Trend,
		SignalCount:    res.SignalCount,
		UserCount:      res.UserCount,
		LastSignalAt:   res.LastSignalAt,
		ComputedAt:     now,
		Factors:        res.Factors,
	}
	prev, err := s.store.UpsertScore(ctx, sc)
	if err != nil {
		return model.AccountScore{}, fmt.Errorf("%w: upsert score: %w", ErrPersistence, err)
	}

	if prev == nil || prev.Score != sc.Score || prev.Tier != sc.Tier {
		change := dispatch.ScoreChange{
			AccountID:  accountID,
			Score:      sc.Score,
			Tier:       sc.Tier,
			Trend:      sc.Trend,
			ComputedAt: now,
		}
		if prev != nil {
			score, tier := prev.Score, prev.Tier
			change.PreviousScore, change.PreviousTier = &score, &tier
		}
		s.logger.Debug(ctx, "account score changed",
			logger.String("org_id", orgID),
			logger.String("account_id", accountID),
			logger.Int("score", sc.Score),
			logger.String("tier", string(sc.Tier)),
			logger.Bool("tier_changed", change.TierChanged()),
		)
		s.enqueue(ctx, queue.Task{Kind: queue.KindScoreChanged, OrganizationID: orgID, AccountID: accountID, Payload: change})
	}
	return sc, nil
}

// scoreInput loads everything the engine needs for company as of now.
func (s *Service) scoreInput(ctx context.Context, company model.Company, now time.Time) (scoring.Input, error) {
	orgID := company.OrganizationID
	signals, err := s.store.AccountSignals(ctx, orgID, company.ID, now.Add(-s.engine.Window()), now)
	if err != nil {
		return scoring.Input{}, fmt.Errorf("%w: load signals: %w", ErrPersistence, err)
	}
	contacts, err := s.store.ListContactsByCompany(ctx, orgID, company.ID)
	if err != nil {
		return scoring.Input{}, fmt.Errorf("%w: load contacts: %w", ErrPersistence, err)
	}
	icp, err := s.store.GetICP(ctx, orgID)
	if err != nil {
		return scoring.Input{}, fmt.Errorf("%w: load icp: %w", ErrPersistence, err)
	}
	prior, err := s.store.LatestSnapshotAtOrBefore(ctx, orgID, company.ID, now.Add(-scoring.DefaultTrendLookback))
	if err != nil {
		return scoring.Input{}, fmt.Errorf("%w: load prior snapshot: %w", ErrPersistence, err)
	}

	in := scoring.Input{Signals: signals, Contacts: contacts, Company: &company, ICP: icp}
	if prior != nil {
		score := prior.Score
		in.PriorScore = &score
	}
	return in, nil
}

// GetAccountScore returns the stored score. ErrScoreNotComputed means the
// account was never scored; it is not recomputed on read.
func (s *Service) GetAccountScore(ctx context.Context, orgID, accountID string) (model.AccountScore, error) {
	if strings.TrimSpace(orgID) == "" {
		return model.AccountScore{}, invalid("organizationId", "required")
	}
	if strings.TrimSpace(accountID) == "" {
		return model.AccountScore{}, invalid("accountId", "required")
	}
	sc, err := s.store.GetScore(ctx, orgID, accountID)
	if errors.Is(err, repository.ErrNotFound) {
		return model.AccountScore{}, fmt.Errorf("%w: account %s", ErrScoreNotComputed, accountID)
	}
	if err != nil {
		return model.AccountScore{}, fmt.Errorf("%w: get score: %w", ErrPersistence, err)
	}
	return sc, nil
}

// GetTopAccounts ranks the org's accounts by score desc then account id.
// A limit of 0 means the default.
func (s *Service) GetTopAccounts(ctx context.Context, orgID string, limit int, tier *model.Tier) ([]types.RankedAccount, error) {
	if strings.TrimSpace(orgID) == "" {
		return nil, invalid("organizationId", "required")
	}
	if limit == 0 {
		limit = defaultTopLimit
	}
	if limit < 1 || limit > maxTopLimit {
		return nil, invalid("limit", fmt.Sprintf("must be between 1 and %d", maxTopLimit))
	}
	scores, err := s.store.TopScores(ctx, orgID, limit, tier)
	if err != nil {
		return nil, fmt.Errorf("%w: top scores: %w", ErrPersistence, err)
	}
	return types.Rank(scores), nil
}
