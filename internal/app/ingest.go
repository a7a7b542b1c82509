package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/okian/pqa/internal/adapters/mq/queue"
	"github.com/okian/pqa/internal/adapters/repository"
	"github.com/okian/pqa/internal/domain/dedupe"
	"github.com/okian/pqa/internal/domain/model"
	"github.com/okian/pqa/internal/domain/resolve"
	"github.com/okian/pqa/internal/domain/types"
	"github.com/okian/pqa/pkg/logger"
	"github.com/okian/pqa/pkg/metrics"
)

// Ingestion limits.
const (
	MaxBatchSize     = 1000
	maxIDLength      = 256
	maxFutureSkew    = 5 * time.Minute
	defaultPageLimit = 50
	maxPageLimit     = 200
)

var signalTypePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_.:-]{0,63}$`)

// SignalInput is an inbound signal as submitted by a source.
type SignalInput struct {
	SourceID       string          `json:"sourceId"`
	Type           string          `json:"type"`
	ActorID        *string         `json:"actorId,omitempty"`
	AccountID      *string         `json:"accountId,omitempty"`
	AnonymousID    *string         `json:"anonymousId,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	IdempotencyKey *string         `json:"idempotencyKey,omitempty"`
	// Timestamp is RFC 3339. Empty means now.
	Timestamp string `json:"timestamp,omitempty"`
}

// IngestResult is the outcome of one accepted signal. Signal is nil for a
// duplicate; the row stored by the first submission is left untouched.
type IngestResult struct {
	Signal       *model.Signal `json:"signal"`
	Deduplicated bool          `json:"deduplicated"`
	Resolution   string        `json:"resolution"`
}

// ItemResult is the outcome of one batch item.
type ItemResult struct {
	Index        int           `json:"index"`
	Success      bool          `json:"success"`
	Deduplicated bool          `json:"deduplicated"`
	Signal       *model.Signal `json:"signal,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// BatchSummary counts batch outcomes. A duplicate counts as succeeded and deduplicated.
type BatchSummary struct {
	Total        int `json:"total"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	Deduplicated int `json:"deduplicated"`
}

// BatchResult is the outcome of IngestBatch.
type BatchResult struct {
	Results []ItemResult `json:"results"`
	Summary BatchSummary `json:"summary"`
}

// IngestSingle validates, dedups, resolves and stores one signal, then hands
// scoring and dispatch to the background workers.
func (s *Service) IngestSingle(ctx context.Context, orgID string, in SignalInput) (IngestResult, error) { //nolint:gocritic // hugeParam: input is decoded by value
	res, err := s.ingest(ctx, orgID, in)
	if err != nil {
		metrics.RecordSignalFailed(failureReason(err))
	}
	return res, err
}

// IngestBatch ingests every item independently with bounded parallelism.
// The returned error is only set when the batch itself is unacceptable.
func (s *Service) IngestBatch(ctx context.Context, orgID string, items []SignalInput) (BatchResult, error) {
	if strings.TrimSpace(orgID) == "" {
		return BatchResult{}, invalid("organizationId", "required")
	}
	if len(items) == 0 || len(items) > MaxBatchSize {
		return BatchResult{}, invalid("signals", fmt.Sprintf("must contain 1..%d items", MaxBatchSize))
	}
	metrics.ObserveBatchSize(len(items))

	results := make([]ItemResult, len(items))
	var g errgroup.Group
	g.SetLimit(s.batchParallelism)
	for i := range items {
		g.Go(func() error {
			res, err := s.IngestSingle(ctx, orgID, items[i])
			item := ItemResult{Index: i, Success: err == nil, Deduplicated: res.Deduplicated, Signal: res.Signal}
			if err != nil {
				item.Error = err.Error()
			}
			results[i] = item
			return nil
		})
	}
	_ = g.Wait()

	summary := BatchSummary{Total: len(items)}
	for _, r := range results {
		switch {
		case !r.Success:
			summary.Failed++
		case r.Deduplicated:
			summary.Succeeded++
			summary.Deduplicated++
		default:
			summary.Succeeded++
		}
	}
	s.logger.Debug(ctx, "batch ingested",
		logger.String("org_id", orgID),
		logger.Int("total", summary.Total),
		logger.Int("failed", summary.Failed),
		logger.Int("deduplicated", summary.Deduplicated),
	)
	return BatchResult{Results: results, Summary: summary}, nil
}

func (s *Service) ingest(ctx context.Context, orgID string, in SignalInput) (IngestResult, error) { //nolint:gocritic // hugeParam: input is decoded by value
	now := s.now().UTC()
	sig, err := s.validate(orgID, in, now)
	if err != nil {
		return IngestResult{}, err
	}

	if s.requireKnownSources {
		src, ok, err := s.store.GetSource(ctx, sig.OrganizationID, sig.SourceID)
		if err != nil {
			return IngestResult{}, fmt.Errorf("%w: source lookup: %w", ErrPersistence, err)
		}
		if !ok || !src.Active {
			return IngestResult{}, invalid("sourceId", "unknown or inactive source")
		}
	}

	method := resolve.MethodProvided
	if sig.AccountID == nil {
		res, err := s.resolver.Resolve(ctx, sig.OrganizationID, resolve.Identity{
			ActorID:     deref(sig.ActorID),
			AnonymousID: deref(sig.AnonymousID),
		})
		if err != nil {
			return IngestResult{}, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		sig.AccountID, method = res.AccountID, res.Method
	} else {
		res, err := s.resolver.Resolve(ctx, sig.OrganizationID, resolve.Identity{AccountID: *sig.AccountID})
		if errors.Is(err, resolve.ErrForeignAccount) {
			return IngestResult{}, invalid("accountId", err.Error())
		}
		if err != nil {
			return IngestResult{}, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		method = res.Method
	}
	metrics.RecordResolution(string(method))

	key, eligible := s.keyer.Derive(dedupe.KeyInput{
		OrganizationID: sig.OrganizationID,
		SourceID:       sig.SourceID,
		Type:           sig.Type,
		ActorID:        deref(sig.ActorID),
		AnonymousID:    deref(sig.AnonymousID),
		IdempotencyKey: deref(sig.IdempotencyKey),
		Metadata:       sig.Metadata,
		Timestamp:      sig.Timestamp,
	})

	// Once a key is claimed the claim must be settled by a stored row or a
	// release, so the rest runs detached from the caller's cancellation.
	pctx := context.WithoutCancel(ctx)

	var claim dedupe.Claim
	if eligible {
		sig.DedupKey = &key
		claim = s.keyer.Claim(sig.OrganizationID, sig.SourceID, key, sig.Timestamp, now)
		seen, err := s.store.SeenAndRecord(pctx, claim)
		if err != nil {
			return IngestResult{}, fmt.Errorf("%w: claim dedup key: %w", ErrPersistence, err)
		}
		if seen {
			metrics.RecordSignalDuplicate()
			s.count(pctx, sig.OrganizationID, now, repository.IngestCounts{Ingested: 1, Deduplicated: 1, Eligible: 1})
			return IngestResult{Deduplicated: true, Resolution: string(method)}, nil
		}
	}

	if err := s.store.InsertSignal(pctx, sig); err != nil {
		if eligible {
			if uerr := s.store.Unrecord(pctx, claim); uerr != nil {
				s.logger.Error(ctx, "failed to release dedup claim", logger.String("org_id", sig.OrganizationID), logger.Error(uerr))
			}
		}
		return IngestResult{}, fmt.Errorf("%w: insert signal: %w", ErrPersistence, err)
	}
	metrics.RecordSignalStored()

	delta := repository.IngestCounts{Ingested: 1, Stored: 1}
	if eligible {
		delta.Eligible = 1
	}
	s.count(pctx, sig.OrganizationID, now, delta)

	if sig.AccountID != nil {
		s.enqueue(pctx, queue.Task{Kind: queue.KindScoreRecompute, OrganizationID: sig.OrganizationID, AccountID: *sig.AccountID})
	}
	s.enqueue(pctx, queue.Task{Kind: queue.KindSignalIngested, OrganizationID: sig.OrganizationID, AccountID: deref(sig.AccountID), Payload: sig})

	return IngestResult{Signal: &sig, Resolution: string(method)}, nil
}

// count records ingestion counters. Failures only cost stats accuracy.
func (s *Service) count(ctx context.Context, orgID string, now time.Time, delta repository.IngestCounts) {
	if err := s.store.AddIngestCounts(ctx, orgID, now, delta); err != nil {
		s.logger.Warn(ctx, "failed to record ingest counters", logger.String("org_id", orgID), logger.Error(err))
	}
}

// validate normalizes in into a signal or returns a *ValidationError.
func (s *Service) validate(orgID string, in SignalInput, now time.Time) (model.Signal, error) { //nolint:gocritic // hugeParam: input is decoded by value
	sig := model.Signal{
		ID:             uuid.NewString(),
		OrganizationID: strings.TrimSpace(orgID),
		SourceID:       strings.TrimSpace(in.SourceID),
		Type:           strings.TrimSpace(in.Type),
		ActorID:        optional(in.ActorID),
		AccountID:      optional(in.AccountID),
		AnonymousID:    optional(in.AnonymousID),
		IdempotencyKey: optional(in.IdempotencyKey),
		Timestamp:      now,
		CreatedAt:      now,
	}

	switch {
	case sig.OrganizationID == "":
		return model.Signal{}, invalid("organizationId", "required")
	case sig.SourceID == "":
		return model.Signal{}, invalid("sourceId", "required")
	case sig.Type == "":
		return model.Signal{}, invalid("type", "required")
	case !signalTypePattern.MatchString(sig.Type):
		return model.Signal{}, invalid("type", "must match "+signalTypePattern.String())
	}
	for _, f := range []struct {
		name  string
		value *string
	}{
		{"sourceId", &sig.SourceID},
		{"actorId", sig.ActorID},
		{"accountId", sig.AccountID},
		{"anonymousId", sig.AnonymousID},
		{"idempotencyKey", sig.IdempotencyKey},
	} {
		if f.value != nil && len(*f.value) > maxIDLength {
			return model.Signal{}, invalid(f.name, fmt.Sprintf("must be at most %d bytes", maxIDLength))
		}
	}

	if ts := strings.TrimSpace(in.Timestamp); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return model.Signal{}, invalid("timestamp", "must be an RFC 3339 date-time")
		}
		if parsed.After(now.Add(maxFutureSkew)) {
			return model.Signal{}, invalid("timestamp", "must not be in the future")
		}
		sig.Timestamp = parsed.UTC()
	}

	meta, err := decodeMetadata(in.Metadata)
	if err != nil {
		return model.Signal{}, err
	}
	sig.Metadata = meta
	return sig, nil
}

// decodeMetadata accepts a JSON object or nothing. Numbers keep their
// literal form so dedup digests are exact.
func decodeMetadata(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return map[string]any{}, nil
	}
	if trimmed[0] != '{' {
		return nil, invalid("metadata", "must be a JSON object")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var meta map[string]any
	if err := dec.Decode(&meta); err != nil {
		return nil, invalid("metadata", "must be a JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, invalid("metadata", "must be a single JSON object")
	}
	return meta, nil
}

// SignalQuery filters ListSignals. Limit 0 means the default page size.
type SignalQuery struct {
	Type      string
	SourceID  string
	AccountID string
	ActorID   string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// ListSignals returns one page of the org's signals, newest first.
func (s *Service) ListSignals(ctx context.Context, orgID string, q SignalQuery) (types.Page[model.Signal], error) { //nolint:gocritic // hugeParam: query is built by value
	var page types.Page[model.Signal]
	if strings.TrimSpace(orgID) == "" {
		return page, invalid("organizationId", "required")
	}
	if q.Limit == 0 {
		q.Limit = defaultPageLimit
	}
	if q.Limit < 1 || q.Limit > maxPageLimit {
		return page, invalid("limit", fmt.Sprintf("must be between 1 and %d", maxPageLimit))
	}
	if q.Offset < 0 {
		return page, invalid("offset", "must not be negative")
	}
	if q.From != nil && q.To != nil && q.From.After(*q.To) {
		return page, invalid("from", "must not be after to")
	}

	items, total, err := s.store.ListSignals(ctx, orgID, repository.SignalFilter{
		Type:      q.Type,
		SourceID:  q.SourceID,
		AccountID: q.AccountID,
		ActorID:   q.ActorID,
		From:      q.From,
		To:        q.To,
		Limit:     q.Limit,
		Offset:    q.Offset,
	})
	if err != nil {
		return page, fmt.Errorf("%w: list signals: %w", ErrPersistence, err)
	}
	if items == nil {
		items = []model.Signal{}
	}
	return types.Page[model.Signal]{Items: items, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	default:
		return "other"
	}
}

func optional(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
