// Package pgstore provides a PostgreSQL implementation of repository.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/exaring/otelpgx"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/pqa/internal/adapters/repository"
	"github.com/okian/pqa/internal/domain/dedupe"
	"github.com/okian/pqa/internal/domain/model"
	"github.com/okian/pqa/internal/domain/resolve"
)

var tracer = otel.Tracer("github.com/okian/pqa/internal/adapters/repository/pgstore")

//go:embed schema.sql
var schema string

var _ repository.Store = (*Store)(nil)

// Store persists signals, claims, scores and history in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL, applies the schema, and returns a ready Store.
// Queries are traced through otelpgx.
func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.ConnConfig.Tracer = otelpgx.NewTracer()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close shuts down the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pgstore."+name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// --- dedup claims ---

// SeenAndRecord claims c in one statement. An expired claim is taken over.
func (s *Store) SeenAndRecord(ctx context.Context, c dedupe.Claim) (bool, error) {
	ctx, span := startSpan(ctx, "SeenAndRecord", "UPSERT")
	defer span.End()

	var expires *time.Time
	if !c.ExpiresAt.IsZero() {
		expires = &c.ExpiresAt
	}
	var key string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO dedup_keys (organization_id, source_id, dedup_key, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (organization_id, source_id, dedup_key) DO UPDATE
		 SET expires_at = EXCLUDED.expires_at
		 WHERE dedup_keys.expires_at IS NOT NULL AND dedup_keys.expires_at <= now()
		 RETURNING dedup_key`,
		c.OrganizationID, c.SourceID, c.Key, expires,
	).Scan(&key)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fail(span, fmt.Errorf("claim dedup key: %w", err))
	}
	return false, nil
}

// Unrecord releases c.
func (s *Store) Unrecord(ctx context.Context, c dedupe.Claim) error {
	ctx, span := startSpan(ctx, "Unrecord", "DELETE")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`DELETE FROM dedup_keys WHERE organization_id = $1 AND source_id = $2 AND dedup_key = $3`,
		c.OrganizationID, c.SourceID, c.Key,
	)
	if err != nil {
		return fail(span, fmt.Errorf("release dedup key: %w", err))
	}
	return nil
}

// PurgeExpired deletes claims that expired at or before now.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, span := startSpan(ctx, "PurgeExpired", "DELETE")
	defer span.End()

	tag, err := s.pool.Exec(ctx, `DELETE FROM dedup_keys WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fail(span, fmt.Errorf("purge dedup keys: %w", err))
	}
	return tag.RowsAffected(), nil
}

// --- signals ---

const signalColumns = `id, organization_id, source_id, type, actor_id, account_id, anonymous_id,
	metadata, ts, dedup_key, idempotency_key, created_at`

// InsertSignal stores sig.
func (s *Store) InsertSignal(ctx context.Context, sig model.Signal) error {
	ctx, span := startSpan(ctx, "InsertSignal", "INSERT")
	defer span.End()

	meta, err := json.Marshal(orEmpty(sig.Metadata))
	if err != nil {
		return fail(span, fmt.Errorf("marshal metadata: %w", err))
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO signals (`+signalColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		sig.ID, sig.OrganizationID, sig.SourceID, sig.Type, sig.ActorID, sig.AccountID, sig.AnonymousID,
		meta, sig.Timestamp, sig.DedupKey, sig.IdempotencyKey, sig.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			err = fmt.Errorf("signal %s: %w", sig.ID, repository.ErrDuplicateID)
		}
		return fail(span, fmt.Errorf("insert signal: %w", err))
	}
	return nil
}

// ListSignals implements repository.SignalStore.
func (s *Store) ListSignals(ctx context.Context, orgID string, f repository.SignalFilter) ([]model.Signal, int, error) {
	ctx, span := startSpan(ctx, "ListSignals", "SELECT")
	defer span.End()

	where, args := signalWhere(orgID, f)

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM signals WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fail(span, fmt.Errorf("count signals: %w", err))
	}

	query := `SELECT ` + signalColumns + ` FROM signals WHERE ` + where + ` ORDER BY ts DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	items, err := s.querySignals(ctx, query, args...)
	if err != nil {
		return nil, 0, fail(span, err)
	}
	return items, total, nil
}

func signalWhere(orgID string, f repository.SignalFilter) (string, []any) {
	conds := []string{"organization_id = $1"}
	args := []any{orgID}
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, col+" $"+strconv.Itoa(len(args)))
	}
	if f.Type != "" {
		add("type =", f.Type)
	}
	if f.SourceID != "" {
		add("source_id =", f.SourceID)
	}
	if f.AccountID != "" {
		add("account_id =", f.AccountID)
	}
	if f.ActorID != "" {
		add("actor_id =", f.ActorID)
	}
	if f.From != nil {
		add("ts >=", *f.From)
	}
	if f.To != nil {
		add("ts <=", *f.To)
	}
	return strings.Join(conds, " AND "), args
}

// AccountSignals implements repository.SignalStore.
func (s *Store) AccountSignals(ctx context.Context, orgID, accountID string, from, to time.Time) ([]model.Signal, error) {
	ctx, span := startSpan(ctx, "AccountSignals", "SELECT")
	defer span.End()

	items, err := s.querySignals(ctx,
		`SELECT `+signalColumns+` FROM signals
		 WHERE organization_id = $1 AND account_id = $2 AND ts >= $3 AND ts <= $4
		 ORDER BY ts, id`,
		orgID, accountID, from, to,
	)
	if err != nil {
		return nil, fail(span, err)
	}
	return items, nil
}

func (s *Store) querySignals(ctx context.Context, query string, args ...any) ([]model.Signal, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	out := make([]model.Signal, 0)
	for rows.Next() {
		var (
			sig  model.Signal
			meta []byte
		)
		if err := rows.Scan(
			&sig.ID, &sig.OrganizationID, &sig.SourceID, &sig.Type, &sig.ActorID, &sig.AccountID, &sig.AnonymousID,
			&meta, &sig.Timestamp, &sig.DedupKey, &sig.IdempotencyKey, &sig.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		if err := json.Unmarshal(meta, &sig.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata %s: %w", sig.ID, err)
		}
		sig.Timestamp = sig.Timestamp.UTC()
		sig.CreatedAt = sig.CreatedAt.UTC()
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate signals: %w", err)
	}
	return out, nil
}

// --- scores ---

const scoreColumns = `organization_id, account_id, score, tier, trend, signal_count, user_count,
	last_signal_at, computed_at, factors`

// UpsertScore overwrites the account's row and returns the replaced head.
// The replaced values are copied into prev_score/prev_tier by the conflict
// branch, which sees the latest committed row, so concurrent first writes
// report exactly one insert.
func (s *Store) UpsertScore(ctx context.Context, sc model.AccountScore) (*repository.ScoreHead, error) {
	ctx, span := startSpan(ctx, "UpsertScore", "UPSERT")
	defer span.End()

	factors, err := json.Marshal(sc.Factors)
	if err != nil {
		return nil, fail(span, fmt.Errorf("marshal factors: %w", err))
	}

	var (
		oldScore *int
		oldTier  *string
	)
	err = s.pool.QueryRow(ctx,
		`INSERT INTO account_scores (`+scoreColumns+`, prev_score, prev_tier)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NULL,NULL)
		 ON CONFLICT (organization_id, account_id) DO UPDATE SET
			prev_score     = account_scores.score,
			prev_tier      = account_scores.tier,
			score          = EXCLUDED.score,
			tier           = EXCLUDED.tier,
			trend          = EXCLUDED.trend,
			signal_count   = EXCLUDED.signal_count,
			user_count     = EXCLUDED.user_count,
			last_signal_at = EXCLUDED.last_signal_at,
			computed_at    = EXCLUDED.computed_at,
			factors        = EXCLUDED.factors
		 RETURNING prev_score, prev_tier`,
		sc.OrganizationID, sc.AccountID, sc.Score, string(sc.Tier), string(sc.Trend),
		sc.SignalCount, sc.UserCount, sc.LastSignalAt, sc.ComputedAt, factors,
	).Scan(&oldScore, &oldTier)
	if err != nil {
		return nil, fail(span, fmt.Errorf("upsert score: %w", err))
	}
	if oldScore == nil || oldTier == nil {
		return nil, nil //nolint:nilnil // first score of the account
	}
	return &repository.ScoreHead{Score: *oldScore, Tier: model.Tier(*oldTier)}, nil
}

// GetScore implements repository.ScoreStore.
func (s *Store) GetScore(ctx context.Context, orgID, accountID string) (model.AccountScore, error) {
	ctx, span := startSpan(ctx, "GetScore", "SELECT")
	defer span.End()

	list, err := s.queryScores(ctx,
		`SELECT `+scoreColumns+` FROM account_scores WHERE organization_id = $1 AND account_id = $2`,
		orgID, accountID,
	)
	if err != nil {
		return model.AccountScore{}, fail(span, err)
	}
	if len(list) == 0 {
		return model.AccountScore{}, repository.ErrNotFound
	}
	return list[0], nil
}

// TopScores implements repository.ScoreStore.
func (s *Store) TopScores(ctx context.Context, orgID string, limit int, tier *model.Tier) ([]model.AccountScore, error) {
	if limit < 1 {
		return nil, repository.ErrInvalidLimit
	}
	ctx, span := startSpan(ctx, "TopScores", "SELECT")
	defer span.End()

	var tierArg *string
	if tier != nil {
		t := string(*tier)
		tierArg = &t
	}
	list, err := s.queryScores(ctx,
		`SELECT `+scoreColumns+` FROM account_scores
		 WHERE organization_id = $1 AND ($2::text IS NULL OR tier = $2)
		 ORDER BY score DESC, account_id ASC
		 LIMIT $3`,
		orgID, tierArg, limit,
	)
	if err != nil {
		return nil, fail(span, err)
	}
	return list, nil
}

// ListScores implements repository.ScoreStore.
func (s *Store) ListScores(ctx context.Context, orgID string) ([]model.AccountScore, error) {
	ctx, span := startSpan(ctx, "ListScores", "SELECT")
	defer span.End()

	list, err := s.queryScores(ctx,
		`SELECT `+scoreColumns+` FROM account_scores WHERE organization_id = $1 ORDER BY account_id`,
		orgID,
	)
	if err != nil {
		return nil, fail(span, err)
	}
	return list, nil
}

// ScoredOrganizations implements repository.ScoreStore.
func (s *Store) ScoredOrganizations(ctx context.Context) ([]string, error) {
	ctx, span := startSpan(ctx, "ScoredOrganizations", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT DISTINCT organization_id FROM account_scores ORDER BY organization_id`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query organizations: %w", err))
	}
	orgs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fail(span, fmt.Errorf("collect organizations: %w", err))
	}
	return orgs, nil
}

// TierCounts implements repository.ScoreStore.
func (s *Store) TierCounts(ctx context.Context) (map[model.Tier]int, error) {
	ctx, span := startSpan(ctx, "TierCounts", "SELECT")
	defer span.End()

	rows, err := s.pool.Query(ctx, `SELECT tier, count(*) FROM account_scores GROUP BY tier`)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query tier counts: %w", err))
	}
	defer rows.Close()

	out := make(map[model.Tier]int, len(model.Tiers))
	for _, t := range model.Tiers {
		out[t] = 0
	}
	for rows.Next() {
		var (
			tier string
			n    int
		)
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, fail(span, fmt.Errorf("scan tier count: %w", err))
		}
		out[model.Tier(tier)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate tier counts: %w", err))
	}
	return out, nil
}

func (s *Store) queryScores(ctx context.Context, query string, args ...any) ([]model.AccountScore, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	out := make([]model.AccountScore, 0)
	for rows.Next() {
		var (
			sc          model.AccountScore
			tier, trend string
			factors     []byte
		)
		if err := rows.Scan(
			&sc.OrganizationID, &sc.AccountID, &sc.Score, &tier, &trend, &sc.SignalCount, &sc.UserCount,
			&sc.LastSignalAt, &sc.ComputedAt, &factors,
		); err != nil {
			return nil, fmt.Errorf("scan score: %w", err)
		}
		if err := json.Unmarshal(factors, &sc.Factors); err != nil {
			return nil, fmt.Errorf("unmarshal factors %s: %w", sc.AccountID, err)
		}
		sc.Tier = model.Tier(tier)
		sc.Trend = model.Trend(trend)
		sc.ComputedAt = sc.ComputedAt.UTC()
		if sc.LastSignalAt != nil {
			t := sc.LastSignalAt.UTC()
			sc.LastSignalAt = &t
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}
	return out, nil
}

// --- snapshots ---

const snapshotColumns = `id, organization_id, company_id, score, breakdown, captured_at`

// AppendSnapshots inserts snaps in one transaction. Rows are never updated.
func (s *Store) AppendSnapshots(ctx context.Context, snaps []model.ScoreSnapshot) error {
	ctx, span := startSpan(ctx, "AppendSnapshots", "INSERT")
	defer span.End()
	span.SetAttributes(attribute.Int("pqa.snapshots", len(snaps)))

	if len(snaps) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fail(span, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is harmless

	batch := &pgx.Batch{}
	for _, snap := range snaps {
		breakdown, err := json.Marshal(snap.Breakdown)
		if err != nil {
			return fail(span, fmt.Errorf("marshal breakdown %s: %w", snap.ID, err))
		}
		batch.Queue(`INSERT INTO score_snapshots (`+snapshotColumns+`) VALUES ($1,$2,$3,$4,$5,$6)`,
			snap.ID, snap.OrganizationID, snap.CompanyID, snap.Score, breakdown, snap.CapturedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fail(span, fmt.Errorf("insert snapshots: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(span, fmt.Errorf("commit: %w", err))
	}
	return nil
}

// LatestSnapshotAtOrBefore implements repository.SnapshotStore.
func (s *Store) LatestSnapshotAtOrBefore(ctx context.Context, orgID, companyID string, at time.Time) (*model.ScoreSnapshot, error) {
	ctx, span := startSpan(ctx, "LatestSnapshotAtOrBefore", "SELECT")
	defer span.End()

	list, err := s.querySnapshots(ctx,
		`SELECT `+snapshotColumns+` FROM score_snapshots
		 WHERE organization_id = $1 AND company_id = $2 AND captured_at <= $3
		 ORDER BY captured_at DESC, id DESC LIMIT 1`,
		orgID, companyID, at,
	)
	if err != nil {
		return nil, fail(span, err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// CompanySnapshots implements repository.SnapshotStore.
func (s *Store) CompanySnapshots(ctx context.Context, orgID, companyID string, from time.Time) ([]model.ScoreSnapshot, error) {
	ctx, span := startSpan(ctx, "CompanySnapshots", "SELECT")
	defer span.End()

	list, err := s.querySnapshots(ctx,
		`SELECT `+snapshotColumns+` FROM score_snapshots
		 WHERE organization_id = $1 AND company_id = $2 AND captured_at >= $3
		 ORDER BY captured_at, id`,
		orgID, companyID, from,
	)
	if err != nil {
		return nil, fail(span, err)
	}
	return list, nil
}

// OrgSnapshots implements repository.SnapshotStore.
func (s *Store) OrgSnapshots(ctx context.Context, orgID string, from time.Time) ([]model.ScoreSnapshot, error) {
	ctx, span := startSpan(ctx, "OrgSnapshots", "SELECT")
	defer span.End()

	list, err := s.querySnapshots(ctx,
		`SELECT `+snapshotColumns+` FROM score_snapshots
		 WHERE organization_id = $1 AND captured_at >= $2
		 ORDER BY captured_at, id`,
		orgID, from,
	)
	if err != nil {
		return nil, fail(span, err)
	}
	return list, nil
}

func (s *Store) querySnapshots(ctx context.Context, query string, args ...any) ([]model.ScoreSnapshot, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	out := make([]model.ScoreSnapshot, 0)
	for rows.Next() {
		var (
			snap      model.ScoreSnapshot
			breakdown []byte
		)
		if err := rows.Scan(&snap.ID, &snap.OrganizationID, &snap.CompanyID, &snap.Score, &breakdown, &snap.CapturedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		if err := json.Unmarshal(breakdown, &snap.Breakdown); err != nil {
			return nil, fmt.Errorf("unmarshal breakdown %s: %w", snap.ID, err)
		}
		snap.CapturedAt = snap.CapturedAt.UTC()
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// --- stats ---

// AddIngestCounts increments the hourly bucket in one statement.
func (s *Store) AddIngestCounts(ctx context.Context, orgID string, hour time.Time, d repository.IngestCounts) error {
	ctx, span := startSpan(ctx, "AddIngestCounts", "UPSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO ingest_stats (organization_id, hour, ingested, stored, deduplicated, eligible)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (organization_id, hour) DO UPDATE SET
			ingested     = ingest_stats.ingested + EXCLUDED.ingested,
			stored       = ingest_stats.stored + EXCLUDED.stored,
			deduplicated = ingest_stats.deduplicated + EXCLUDED.deduplicated,
			eligible     = ingest_stats.eligible + EXCLUDED.eligible`,
		orgID, hour.UTC().Truncate(time.Hour), d.Ingested, d.Stored, d.Deduplicated, d.Eligible,
	)
	if err != nil {
		return fail(span, fmt.Errorf("add ingest counts: %w", err))
	}
	return nil
}

// SumIngestCounts implements repository.StatsStore.
func (s *Store) SumIngestCounts(ctx context.Context, orgID string, from time.Time) (repository.IngestCounts, error) {
	ctx, span := startSpan(ctx, "SumIngestCounts", "SELECT")
	defer span.End()

	var c repository.IngestCounts
	err := s.pool.QueryRow(ctx,
		`SELECT coalesce(sum(ingested), 0), coalesce(sum(stored), 0),
		        coalesce(sum(deduplicated), 0), coalesce(sum(eligible), 0)
		 FROM ingest_stats WHERE organization_id = $1 AND hour >= $2`,
		orgID, from.UTC().Truncate(time.Hour),
	).Scan(&c.Ingested, &c.Stored, &c.Deduplicated, &c.Eligible)
	if err != nil {
		return repository.IngestCounts{}, fail(span, fmt.Errorf("sum ingest counts: %w", err))
	}
	return c, nil
}

// --- directory ---

const companyColumns = `id, organization_id, name, domain, industry, employee_count, country, created_at`

// GetCompany implements resolve.Directory.
func (s *Store) GetCompany(ctx context.Context, orgID, companyID string) (model.Company, bool, error) {
	ctx, span := startSpan(ctx, "GetCompany", "SELECT")
	defer span.End()

	list, err := s.queryCompanies(ctx,
		`SELECT `+companyColumns+` FROM companies WHERE organization_id = $1 AND id = $2`,
		orgID, companyID,
	)
	if err != nil {
		return model.Company{}, false, fail(span, err)
	}
	if len(list) == 0 {
		return model.Company{}, false, nil
	}
	return list[0], true, nil
}

// FindCompaniesByDomain implements resolve.Directory.
func (s *Store) FindCompaniesByDomain(ctx context.Context, orgID, domain string) ([]model.Company, error) {
	ctx, span := startSpan(ctx, "FindCompaniesByDomain", "SELECT")
	defer span.End()

	list, err := s.queryCompanies(ctx,
		`SELECT `+companyColumns+` FROM companies
		 WHERE organization_id = $1 AND domain = $2
		 ORDER BY created_at, id`,
		orgID, resolve.NormalizeDomain(domain),
	)
	if err != nil {
		return nil, fail(span, err)
	}
	return list, nil
}

func (s *Store) queryCompanies(ctx context.Context, query string, args ...any) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query companies: %w", err)
	}
	defer rows.Close()

	var out []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.Name, &c.Domain, &c.Industry, &c.EmployeeCount, &c.Country, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan company: %w", err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate companies: %w", err)
	}
	return out, nil
}

const contactColumns = `id, organization_id, actor_id, company_id, email, title`

// GetContactByActor implements resolve.Directory.
func (s *Store) GetContactByActor(ctx context.Context, orgID, actorID string) (model.Contact, bool, error) {
	ctx, span := startSpan(ctx, "GetContactByActor", "SELECT")
	defer span.End()

	list, err := s.queryContacts(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE organization_id = $1 AND actor_id = $2`,
		orgID, actorID,
	)
	if err != nil {
		return model.Contact{}, false, fail(span, err)
	}
	if len(list) == 0 {
		return model.Contact{}, false, nil
	}
	return list[0], true, nil
}

// ListContactsByCompany implements repository.Directory.
func (s *Store) ListContactsByCompany(ctx context.Context, orgID, companyID string) ([]model.Contact, error) {
	ctx, span := startSpan(ctx, "ListContactsByCompany", "SELECT")
	defer span.End()

	list, err := s.queryContacts(ctx,
		`SELECT `+contactColumns+` FROM contacts WHERE organization_id = $1 AND company_id = $2 ORDER BY id`,
		orgID, companyID,
	)
	if err != nil {
		return nil, fail(span, err)
	}
	return list, nil
}

func (s *Store) queryContacts(ctx context.Context, query string, args ...any) ([]model.Contact, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query contacts: %w", err)
	}
	defer rows.Close()

	var out []model.Contact
	for rows.Next() {
		var c model.Contact
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.ActorID, &c.CompanyID, &c.Email, &c.Title); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contacts: %w", err)
	}
	return out, nil
}

// GetSource implements repository.Directory.
func (s *Store) GetSource(ctx context.Context, orgID, sourceID string) (model.Source, bool, error) {
	ctx, span := startSpan(ctx, "GetSource", "SELECT")
	defer span.End()

	src := model.Source{ID: sourceID, OrganizationID: orgID}
	err := s.pool.QueryRow(ctx,
		`SELECT kind, active FROM sources WHERE organization_id = $1 AND id = $2`,
		orgID, sourceID,
	).Scan(&src.Kind, &src.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Source{}, false, nil
	}
	if err != nil {
		return model.Source{}, false, fail(span, fmt.Errorf("get source: %w", err))
	}
	return src, true, nil
}

// GetICP implements repository.Directory.
func (s *Store) GetICP(ctx context.Context, orgID string) (*model.ICP, error) {
	ctx, span := startSpan(ctx, "GetICP", "SELECT")
	defer span.End()

	icp := model.ICP{OrganizationID: orgID}
	err := s.pool.QueryRow(ctx,
		`SELECT industries, countries, min_employees, max_employees FROM icps WHERE organization_id = $1`,
		orgID,
	).Scan(&icp.Industries, &icp.Countries, &icp.MinEmployees, &icp.MaxEmployees)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fail(span, fmt.Errorf("get icp: %w", err))
	}
	return &icp, nil
}

// --- seeder ---

// PutCompany upserts c with a normalized domain.
func (s *Store) PutCompany(ctx context.Context, c model.Company) error {
	ctx, span := startSpan(ctx, "PutCompany", "UPSERT")
	defer span.End()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO companies (`+companyColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		 ON CONFLICT (organization_id, id) DO UPDATE SET
			name           = EXCLUDED.name,
			domain         = EXCLUDED.domain,
			industry       = EXCLUDED.industry,
			employee_count = EXCLUDED.employee_count,
			country        = EXCLUDED.country`,
		c.ID, c.OrganizationID, c.Name, resolve.NormalizeDomain(c.Domain), c.Industry, c.EmployeeCount, c.Country, c.CreatedAt,
	)
	if err != nil {
		return fail(span, fmt.Errorf("put company: %w", err))
	}
	return nil
}

// PutContact upserts c keyed by actor.
func (s *Store) PutContact(ctx context.Context, c model.Contact) error {
	ctx, span := startSpan(ctx, "PutContact", "UPSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO contacts (`+contactColumns+`) VALUES ($1,$2,$3,$4,$5,$6)
		 ON CONFLICT (organization_id, actor_id) DO UPDATE SET
			id         = EXCLUDED.id,
			company_id = EXCLUDED.company_id,
			email      = EXCLUDED.email,
			title      = EXCLUDED.title`,
		c.ID, c.OrganizationID, c.ActorID, c.CompanyID, c.Email, c.Title,
	)
	if err != nil {
		return fail(span, fmt.Errorf("put contact: %w", err))
	}
	return nil
}

// PutSource upserts src.
func (s *Store) PutSource(ctx context.Context, src model.Source) error {
	ctx, span := startSpan(ctx, "PutSource", "UPSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources (organization_id, id, kind, active) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (organization_id, id) DO UPDATE SET kind = EXCLUDED.kind, active = EXCLUDED.active`,
		src.OrganizationID, src.ID, src.Kind, src.Active,
	)
	if err != nil {
		return fail(span, fmt.Errorf("put source: %w", err))
	}
	return nil
}

// PutICP upserts the organization's profile.
func (s *Store) PutICP(ctx context.Context, icp model.ICP) error {
	ctx, span := startSpan(ctx, "PutICP", "UPSERT")
	defer span.End()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO icps (organization_id, industries, countries, min_employees, max_employees)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (organization_id) DO UPDATE SET
			industries    = EXCLUDED.industries,
			countries     = EXCLUDED.countries,
			min_employees = EXCLUDED.min_employees,
			max_employees = EXCLUDED.max_employees`,
		icp.OrganizationID, orEmptySlice(icp.Industries), orEmptySlice(icp.Countries), icp.MinEmployees, icp.MaxEmployees,
	)
	if err != nil {
		return fail(span, fmt.Errorf("put icp: %w", err))
	}
	return nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
