// Package memstore provides an in-memory implementation of repository.Store.
// Suitable for dev and testing; state is lost on restart.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/pqa/internal/adapters/repository"
	"github.com/okian/pqa/internal/domain/dedupe"
	"github.com/okian/pqa/internal/domain/model"
	"github.com/okian/pqa/internal/domain/resolve"
	"github.com/okian/pqa/internal/domain/scoring"
)

var _ repository.Store = (*Store)(nil)

type statsKey struct {
	org  string
	hour int64
}

// Store holds every repository concern in memory under one lock.
// Claims are delegated to an in-memory deduper.
type Store struct {
	*dedupe.InMemoryDeduper

	mu        sync.RWMutex
	signals   map[string][]model.Signal // org -> signals in insert order
	signalIDs map[string]struct{}
	scores    map[string]map[string]model.AccountScore // org -> account -> score
	rankings  map[string]*ranking
	snapshots map[string][]model.ScoreSnapshot // org -> ascending by capturedAt, id
	stats     map[statsKey]repository.IngestCounts
	companies map[string]map[string]model.Company // org -> id -> company
	contacts  map[string]map[string]model.Contact // org -> actor id -> contact
	sources   map[string]map[string]model.Source  // org -> id -> source
	icps      map[string]model.ICP
}

// New initializes an empty Store. opts configure the embedded deduper.
func New(opts ...dedupe.Option) *Store {
	return &Store{
		InMemoryDeduper: dedupe.NewInMemoryDeduper(opts...),
		signals:         make(map[string][]model.Signal),
		signalIDs:       make(map[string]struct{}),
		scores:          make(map[string]map[string]model.AccountScore),
		rankings:        make(map[string]*ranking),
		snapshots:       make(map[string][]model.ScoreSnapshot),
		stats:           make(map[statsKey]repository.IngestCounts),
		companies:       make(map[string]map[string]model.Company),
		contacts:        make(map[string]map[string]model.Contact),
		sources:         make(map[string]map[string]model.Source),
		icps:            make(map[string]model.ICP),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() {}

// --- signals ---

// InsertSignal stores a copy of sig.
func (s *Store) InsertSignal(_ context.Context, sig model.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.signalIDs[sig.ID]; dup {
		return fmt.Errorf("signal %s: %w", sig.ID, repository.ErrDuplicateID)
	}
	s.signalIDs[sig.ID] = struct{}{}
	s.signals[sig.OrganizationID] = append(s.signals[sig.OrganizationID], cloneSignal(sig))
	return nil
}

// ListSignals implements repository.SignalStore.
func (s *Store) ListSignals(_ context.Context, orgID string, f repository.SignalFilter) ([]model.Signal, int, error) {
	s.mu.RLock()
	matched := make([]model.Signal, 0)
	for _, sig := range s.signals[orgID] {
		if matchSignal(sig, f) {
			matched = append(matched, sig)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].Timestamp.Equal(matched[j].Timestamp) {
			return matched[i].Timestamp.After(matched[j].Timestamp)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	if f.Offset >= total {
		return []model.Signal{}, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < total {
		end = f.Offset + f.Limit
	}
	page := make([]model.Signal, 0, end-f.Offset)
	for _, sig := range matched[f.Offset:end] {
		page = append(page, cloneSignal(sig))
	}
	return page, total, nil
}

func matchSignal(sig model.Signal, f repository.SignalFilter) bool {
	switch {
	case f.Type != "" && sig.Type != f.Type:
		return false
	case f.SourceID != "" && sig.SourceID != f.SourceID:
		return false
	case f.AccountID != "" && (sig.AccountID == nil || *sig.AccountID != f.AccountID):
		return false
	case f.ActorID != "" && (sig.ActorID == nil || *sig.ActorID != f.ActorID):
		return false
	case f.From != nil && sig.Timestamp.Before(*f.From):
		return false
	case f.To != nil && sig.Timestamp.After(*f.To):
		return false
	}
	return true
}

// AccountSignals implements repository.SignalStore.
func (s *Store) AccountSignals(_ context.Context, orgID, accountID string, from, to time.Time) ([]model.Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Signal
	for _, sig := range s.signals[orgID] {
		if sig.AccountID == nil || *sig.AccountID != accountID {
			continue
		}
		if sig.Timestamp.Before(from) || sig.Timestamp.After(to) {
			continue
		}
		out = append(out, cloneSignal(sig))
	}
	return out, nil
}

// --- scores ---

// UpsertScore implements repository.ScoreStore.
func (s *Store) UpsertScore(_ context.Context, sc model.AccountScore) (*repository.ScoreHead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byAccount, ok := s.scores[sc.OrganizationID]
	if !ok {
		byAccount = make(map[string]model.AccountScore)
		s.scores[sc.OrganizationID] = byAccount
	}
	var prev *repository.ScoreHead
	if old, ok := byAccount[sc.AccountID]; ok {
		prev = &repository.ScoreHead{Score: old.Score, Tier: old.Tier}
	}
	byAccount[sc.AccountID] = cloneScore(sc)

	r, ok := s.rankings[sc.OrganizationID]
	if !ok {
		r = newRanking()
		s.rankings[sc.OrganizationID] = r
	}
	r.set(sc.AccountID, sc.Score)
	return prev, nil
}

// GetScore implements repository.ScoreStore.
func (s *Store) GetScore(_ context.Context, orgID, accountID string) (model.AccountScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scores[orgID][accountID]
	if !ok {
		return model.AccountScore{}, repository.ErrNotFound
	}
	return cloneScore(sc), nil
}

// TopScores implements repository.ScoreStore.
func (s *Store) TopScores(_ context.Context, orgID string, limit int, tier *model.Tier) ([]model.AccountScore, error) {
	if limit < 1 {
		return nil, repository.ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rankings[orgID]
	if !ok {
		return []model.AccountScore{}, nil
	}
	ids := r.top(limit, tier, scoring.TierFor)
	out := make([]model.AccountScore, 0, len(ids))
	for _, id := range ids {
		out = append(out, cloneScore(s.scores[orgID][id]))
	}
	return out, nil
}

// ListScores returns every score of the org ordered by account id.
func (s *Store) ListScores(_ context.Context, orgID string) ([]model.AccountScore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AccountScore, 0, len(s.scores[orgID]))
	for _, sc := range s.scores[orgID] {
		out = append(out, cloneScore(sc))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// ScoredOrganizations implements repository.ScoreStore.
func (s *Store) ScoredOrganizations(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.scores))
	for org, byAccount := range s.scores {
		if len(byAccount) > 0 {
			out = append(out, org)
		}
	}
	sort.Strings(out)
	return out, nil
}

// TierCounts implements repository.ScoreStore.
func (s *Store) TierCounts(context.Context) (map[model.Tier]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.Tier]int, len(model.Tiers))
	for _, t := range model.Tiers {
		out[t] = 0
	}
	for _, byAccount := range s.scores {
		for _, sc := range byAccount {
			out[sc.Tier]++
		}
	}
	return out, nil
}

// --- snapshots ---

// AppendSnapshots implements repository.SnapshotStore. Existing snapshots are never touched.
func (s *Store) AppendSnapshots(_ context.Context, snaps []model.ScoreSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snaps {
		list := s.snapshots[snap.OrganizationID]
		i := sort.Search(len(list), func(i int) bool { return snapshotAfter(list[i], snap) })
		list = append(list, model.ScoreSnapshot{})
		copy(list[i+1:], list[i:])
		list[i] = cloneSnapshot(snap)
		s.snapshots[snap.OrganizationID] = list
	}
	return nil
}

func snapshotAfter(a, b model.ScoreSnapshot) bool {
	if !a.CapturedAt.Equal(b.CapturedAt) {
		return a.CapturedAt.After(b.CapturedAt)
	}
	return a.ID > b.ID
}

// LatestSnapshotAtOrBefore implements repository.SnapshotStore.
func (s *Store) LatestSnapshotAtOrBefore(_ context.Context, orgID, companyID string, at time.Time) (*model.ScoreSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.snapshots[orgID]
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].CompanyID == companyID && !list[i].CapturedAt.After(at) {
			snap := cloneSnapshot(list[i])
			return &snap, nil
		}
	}
	return nil, nil
}

// CompanySnapshots implements repository.SnapshotStore.
func (s *Store) CompanySnapshots(_ context.Context, orgID, companyID string, from time.Time) ([]model.ScoreSnapshot, error) {
	return s.filterSnapshots(orgID, from, func(snap model.ScoreSnapshot) bool { return snap.CompanyID == companyID }), nil
}

// OrgSnapshots implements repository.SnapshotStore.
func (s *Store) OrgSnapshots(_ context.Context, orgID string, from time.Time) ([]model.ScoreSnapshot, error) {
	return s.filterSnapshots(orgID, from, func(model.ScoreSnapshot) bool { return true }), nil
}

func (s *Store) filterSnapshots(orgID string, from time.Time, keep func(model.ScoreSnapshot) bool) []model.ScoreSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ScoreSnapshot, 0)
	for _, snap := range s.snapshots[orgID] {
		if snap.CapturedAt.Before(from) || !keep(snap) {
			continue
		}
		out = append(out, cloneSnapshot(snap))
	}
	return out
}

// --- stats ---

// AddIngestCounts implements repository.StatsStore.
func (s *Store) AddIngestCounts(_ context.Context, orgID string, hour time.Time, d repository.IngestCounts) error {
	k := statsKey{org: orgID, hour: hour.UTC().Truncate(time.Hour).Unix()}
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.stats[k]
	c.Ingested += d.Ingested
	c.Stored += d.Stored
	c.Deduplicated += d.Deduplicated
	c.Eligible += d.Eligible
	s.stats[k] = c
	return nil
}

// SumIngestCounts implements repository.StatsStore.
func (s *Store) SumIngestCounts(_ context.Context, orgID string, from time.Time) (repository.IngestCounts, error) {
	fromHour := from.UTC().Truncate(time.Hour).Unix()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sum repository.IngestCounts
	for k, c := range s.stats {
		if k.org != orgID || k.hour < fromHour {
			continue
		}
		sum.Ingested += c.Ingested
		sum.Stored += c.Stored
		sum.Deduplicated += c.Deduplicated
		sum.Eligible += c.Eligible
	}
	return sum, nil
}

// --- directory ---

// GetCompany implements resolve.Directory.
func (s *Store) GetCompany(_ context.Context, orgID, companyID string) (model.Company, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[orgID][companyID]
	return c, ok, nil
}

// GetContactByActor implements resolve.Directory.
func (s *Store) GetContactByActor(_ context.Context, orgID, actorID string) (model.Contact, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contacts[orgID][actorID]
	return c, ok, nil
}

// FindCompaniesByDomain implements resolve.Directory.
func (s *Store) FindCompaniesByDomain(_ context.Context, orgID, domain string) ([]model.Company, error) {
	domain = resolve.NormalizeDomain(domain)
	s.mu.RLock()
	var out []model.Company
	for _, c := range s.companies[orgID] {
		if domain != "" && resolve.NormalizeDomain(c.Domain) == domain {
			out = append(out, c)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetSource implements repository.Directory.
func (s *Store) GetSource(_ context.Context, orgID, sourceID string) (model.Source, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[orgID][sourceID]
	return src, ok, nil
}

// ListContactsByCompany implements repository.Directory.
func (s *Store) ListContactsByCompany(_ context.Context, orgID, companyID string) ([]model.Contact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Contact
	for _, c := range s.contacts[orgID] {
		if c.CompanyID != nil && *c.CompanyID == companyID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetICP implements repository.Directory.
func (s *Store) GetICP(_ context.Context, orgID string) (*model.ICP, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	icp, ok := s.icps[orgID]
	if !ok {
		return nil, nil
	}
	return &icp, nil
}

// --- seeder ---

// PutCompany implements repository.Seeder.
func (s *Store) PutCompany(_ context.Context, c model.Company) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Domain = resolve.NormalizeDomain(c.Domain)
	s.mu.Lock()
	defer s.mu.Unlock()
	putNested(s.companies, c.OrganizationID, c.ID, c)
	return nil
}

// PutContact implements repository.Seeder.
func (s *Store) PutContact(_ context.Context, c model.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	putNested(s.contacts, c.OrganizationID, c.ActorID, c)
	return nil
}

// PutSource implements repository.Seeder.
func (s *Store) PutSource(_ context.Context, src model.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	putNested(s.sources, src.OrganizationID, src.ID, src)
	return nil
}

// PutICP implements repository.Seeder.
func (s *Store) PutICP(_ context.Context, icp model.ICP) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.icps[icp.OrganizationID] = icp
	return nil
}

func putNested[V any](m map[string]map[string]V, org, id string, v V) {
	inner, ok := m[org]
	if !ok {
		inner = make(map[string]V)
		m[org] = inner
	}
	inner[id] = v
}

// --- copies ---

func cloneSignal(sig model.Signal) model.Signal {
	if sig.Metadata != nil {
		meta := make(map[string]any, len(sig.Metadata))
		for k, v := range sig.Metadata {
			meta[k] = v
		}
		sig.Metadata = meta
	}
	return sig
}

func cloneScore(sc model.AccountScore) model.AccountScore {
	sc.Factors = append([]model.Factor(nil), sc.Factors...)
	if sc.LastSignalAt != nil {
		t := *sc.LastSignalAt
		sc.LastSignalAt = &t
	}
	return sc
}

func cloneSnapshot(snap model.ScoreSnapshot) model.ScoreSnapshot {
	snap.Breakdown.Factors = append([]model.Factor(nil), snap.Breakdown.Factors...)
	return snap
}
