// Package repository defines the storage contracts of the signal core.
// Implementations live in memstore (in-process) and pgstore (PostgreSQL).
package repository

import (
	"context"
	"time"

	"github.com/okian/pqa/internal/domain/dedupe"
	"github.com/okian/pqa/internal/domain/model"
	"github.com/okian/pqa/internal/domain/resolve"
)

// SignalFilter narrows ListSignals. Zero values do not filter.
type SignalFilter struct {
	Type      string
	SourceID  string
	AccountID string
	ActorID   string
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}

// SignalStore persists immutable signals.
type SignalStore interface {
	InsertSignal(ctx context.Context, s model.Signal) error
	// ListSignals returns one page ordered by timestamp desc then id desc, plus the total match count.
	ListSignals(ctx context.Context, orgID string, f SignalFilter) ([]model.Signal, int, error)
	// AccountSignals returns the account's signals with from <= timestamp <= to.
	AccountSignals(ctx context.Context, orgID, accountID string, from, to time.Time) ([]model.Signal, error)
}

// ScoreHead is the part of a previous score row needed to detect changes.
type ScoreHead struct {
	Score int
	Tier  model.Tier
}

// ScoreStore holds the current score per (organization, account).
type ScoreStore interface {
	// UpsertScore overwrites the current row in one atomic operation and
	// returns the head of the row it replaced, or nil for a first score.
	UpsertScore(ctx context.Context, s model.AccountScore) (*ScoreHead, error)
	// GetScore returns ErrNotFound when the account was never scored.
	GetScore(ctx context.Context, orgID, accountID string) (model.AccountScore, error)
	// TopScores orders by score desc then account id asc.
	TopScores(ctx context.Context, orgID string, limit int, tier *model.Tier) ([]model.AccountScore, error)
	ListScores(ctx context.Context, orgID string) ([]model.AccountScore, error)
	ScoredOrganizations(ctx context.Context) ([]string, error)
	TierCounts(ctx context.Context) (map[model.Tier]int, error)
}

// SnapshotStore is the append-only score history.
type SnapshotStore interface {
	AppendSnapshots(ctx context.Context, snaps []model.ScoreSnapshot) error
	// LatestSnapshotAtOrBefore returns nil when no snapshot was captured at or before at.
	LatestSnapshotAtOrBefore(ctx context.Context, orgID, companyID string, at time.Time) (*model.ScoreSnapshot, error)
	// CompanySnapshots returns snapshots captured at or after from, ascending.
	CompanySnapshots(ctx context.Context, orgID, companyID string, from time.Time) ([]model.ScoreSnapshot, error)
	// OrgSnapshots returns every snapshot of the org captured at or after from, ascending.
	OrgSnapshots(ctx context.Context, orgID string, from time.Time) ([]model.ScoreSnapshot, error)
}

// IngestCounts are the ingestion counters of one organization.
type IngestCounts struct {
	Ingested     int64
	Stored       int64
	Deduplicated int64
	Eligible     int64
}

// StatsStore keeps hourly ingestion counters.
type StatsStore interface {
	// AddIngestCounts atomically adds delta to the bucket starting at hour.
	AddIngestCounts(ctx context.Context, orgID string, hour time.Time, delta IngestCounts) error
	// SumIngestCounts adds every bucket starting at or after from.
	SumIngestCounts(ctx context.Context, orgID string, from time.Time) (IngestCounts, error)
}

// Directory is the read side of the collaborator stores: companies,
// contacts, sources and the ideal-customer profile.
type Directory interface {
	resolve.Directory
	GetSource(ctx context.Context, orgID, sourceID string) (model.Source, bool, error)
	ListContactsByCompany(ctx context.Context, orgID, companyID string) ([]model.Contact, error)
	// GetICP returns nil when the organization has no profile.
	GetICP(ctx context.Context, orgID string) (*model.ICP, error)
}

// Seeder writes collaborator records. Used by fixtures and tests.
type Seeder interface {
	PutCompany(ctx context.Context, c model.Company) error
	PutContact(ctx context.Context, c model.Contact) error
	PutSource(ctx context.Context, s model.Source) error
	PutICP(ctx context.Context, icp model.ICP) error
}

// Store is everything the service needs from persistence.
type Store interface {
	SignalStore
	ScoreStore
	SnapshotStore
	StatsStore
	Directory
	Seeder
	dedupe.Deduper
	Ping(ctx context.Context) error
	Close()
}
