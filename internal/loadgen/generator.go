package loadgen

import (
	"context"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/okian/pqa/pkg/logger"
)

// signalKind describes how one signal type is generated.
type signalKind struct {
	typ      string
	metadata func(r *rand.Rand) map[string]any
}

var kinds = []signalKind{ //nolint:gochecknoglobals // static generation table
	{typ: "page_view", metadata: func(r *rand.Rand) map[string]any {
		return map[string]any{"url": "/docs/" + uuid.NewString(), "referrer": pick(r, "google", "github", "direct")}
	}},
	{typ: "repo_star", metadata: func(*rand.Rand) map[string]any {
		return map[string]any{"repo": "org/" + uuid.NewString()}
	}},
	{typ: "package_download", metadata: func(r *rand.Rand) map[string]any {
		return map[string]any{"package": "pqa-" + uuid.NewString(), "version": "1." + strconv.Itoa(r.IntN(10)) + ".0"}
	}},
	{typ: "api_call", metadata: func(r *rand.Rand) map[string]any {
		return map[string]any{"request_id": uuid.NewString(), "endpoint": pick(r, "/v1/query", "/v1/ingest", "/v1/export")}
	}},
	{typ: "community_mention", metadata: func(*rand.Rand) map[string]any {
		return map[string]any{"url": "https://forum.example.com/t/" + uuid.NewString()}
	}},
	{typ: "signup", metadata: func(r *rand.Rand) map[string]any {
		return map[string]any{"plan": pick(r, "free", "team", "enterprise")}
	}},
}

// Workload is a generated run: the signals in submission order and how
// many of them replay an earlier one.
type Workload struct {
	Signals    []SignalInput
	Unique     int
	Duplicates int
}

// Generate builds cfg.NumSignals unique signals plus replays of randomly
// chosen ones, shuffled. Every unique signal is dedup-eligible so each
// replay is expected to be reported as a duplicate. Signal types without
// registered key fields always carry an idempotency key.
func Generate(ctx context.Context, cfg *Config, now time.Time) Workload {
	r := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)) //nolint:gosec // load shaping, not security

	unique := make([]SignalInput, cfg.NumSignals)
	for i := range unique {
		unique[i] = generateSignal(r, cfg, now)
	}

	dups := int(float64(cfg.NumSignals) * cfg.DuplicateRatio)
	all := make([]SignalInput, 0, cfg.NumSignals+dups)
	all = append(all, unique...)
	for range dups {
		all = append(all, unique[r.IntN(len(unique))])
	}
	r.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })

	logger.Get().Info(ctx, "generated signals",
		logger.Int("unique", len(unique)),
		logger.Int("duplicates", dups),
		logger.Int("accounts", len(cfg.Accounts)),
	)
	return Workload{Signals: all, Unique: len(unique), Duplicates: dups}
}

func generateSignal(r *rand.Rand, cfg *Config, now time.Time) SignalInput {
	kind := kinds[r.IntN(len(kinds))]
	ts := now.Add(-time.Duration(r.Int64N(int64(maxTimestampSpread)))).UTC()

	sig := SignalInput{
		SourceID:  cfg.SourceID,
		Type:      kind.typ,
		Metadata:  kind.metadata(r),
		Timestamp: ts.Format(time.RFC3339Nano),
	}
	if r.IntN(4) == 0 {
		sig.AnonymousID = "anon-" + uuid.NewString()
	} else {
		sig.ActorID = "user-" + strconv.Itoa(r.IntN(cfg.NumSignals/4+1))
	}
	if len(cfg.Accounts) > 0 {
		sig.AccountID = cfg.Accounts[r.IntN(len(cfg.Accounts))]
	}
	if kind.typ == "signup" || r.IntN(2) == 0 {
		sig.IdempotencyKey = uuid.NewString()
	}
	return sig
}

func pick(r *rand.Rand, options ...string) string {
	return options[r.IntN(len(options))]
}
