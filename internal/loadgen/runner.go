package loadgen

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/pqa/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0o750
	filePermission      = 0o600
)

// Run executes a complete load run: health check, generation, batch
// submission, account scoring and verification against the service's
// own counters.
func Run(ctx context.Context, cfg *Config) (*Stats, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	log := logger.Get()
	stats := &Stats{StartTime: time.Now()}

	log.Info(ctx, "starting load run",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("org", cfg.OrgID),
		logger.Int("signals", cfg.NumSignals),
		logger.Float64("duplicateRatio", cfg.DuplicateRatio),
		logger.Int("batchSize", cfg.BatchSize),
		logger.Int("workers", cfg.Workers),
	)

	client := NewClient(cfg)
	if err := client.Health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	before, err := client.DedupStats(ctx, statsWindow)
	if err != nil {
		return nil, fmt.Errorf("read dedup stats: %w", err)
	}

	work := Generate(ctx, cfg, time.Now())
	stats.SignalsGenerated = len(work.Signals)
	stats.DuplicatesInjected = work.Duplicates

	if cfg.OutputFile != "" {
		if err := saveSignals(cfg.OutputFile, work.Signals); err != nil {
			log.Warn(ctx, "failed to save signals", logger.Error(err))
		}
	}

	submitBatches(ctx, cfg, client, work.Signals, stats)

	after, err := client.DedupStats(ctx, statsWindow)
	if err != nil {
		return nil, fmt.Errorf("read dedup stats: %w", err)
	}

	var ranked []RankedAccount
	if len(cfg.Accounts) > 0 {
		ranked, err = scoreAccounts(ctx, cfg, client, stats)
		if err != nil {
			return nil, err
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayFinalStats(ctx, stats)

	if err := Verify(work, stats, before, after, ranked); err != nil {
		return stats, fmt.Errorf("verification failed: %w", err)
	}
	log.Info(ctx, "load run verified")
	return stats, nil
}

// submitBatches posts the signals in batches with bounded concurrency. A
// failed batch is counted and logged; the run goes on.
func submitBatches(ctx context.Context, cfg *Config, client *Client, signals []SignalInput, stats *Stats) {
	log := logger.Get()
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(cfg.Workers)

	for start := 0; start < len(signals); start += cfg.BatchSize {
		batch := signals[start:min(start+cfg.BatchSize, len(signals))]
		g.Go(func() error {
			summary, err := client.PostBatch(ctx, batch)

			mu.Lock()
			defer mu.Unlock()
			stats.BatchesSent++
			if err != nil {
				stats.BatchesFailed++
				stats.Failed += len(batch)
				log.Warn(ctx, "batch failed", logger.Int("size", len(batch)), logger.Error(err))
				return nil
			}
			stats.Succeeded += summary.Succeeded
			stats.Deduplicated += summary.Deduplicated
			stats.Failed += summary.Failed
			if cfg.Verbose {
				log.Debug(ctx, "batch submitted",
					logger.Int("batches", stats.BatchesSent),
					logger.Int("succeeded", stats.Succeeded),
					logger.Int("deduplicated", stats.Deduplicated),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info(ctx, "signal submission completed",
		logger.Int("batches", stats.BatchesSent),
		logger.Int("batchesFailed", stats.BatchesFailed),
		logger.Int("succeeded", stats.Succeeded),
		logger.Int("deduplicated", stats.Deduplicated),
		logger.Int("failed", stats.Failed),
	)
}

// scoreAccounts recomputes every configured account and returns the ranking.
func scoreAccounts(ctx context.Context, cfg *Config, client *Client, stats *Stats) ([]RankedAccount, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, id := range cfg.Accounts {
		g.Go(func() error {
			if err := client.ComputeScore(gctx, id); err != nil {
				return fmt.Errorf("compute score of %s: %w", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	stats.AccountsScored = len(cfg.Accounts)

	ranked, err := client.TopAccounts(ctx, topAccountsLimit)
	if err != nil {
		return nil, fmt.Errorf("top accounts: %w", err)
	}
	return ranked, nil
}

// saveSignals writes the generated signals as a JSON array.
func saveSignals(filename string, signals []SignalInput) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(signals, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}
	return nil
}

// displayFinalStats logs the run statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var dedupShare, signalsPerSecond float64
	if stats.SignalsGenerated > 0 {
		dedupShare = float64(stats.Deduplicated) / float64(stats.SignalsGenerated) * percentageMultiplier
	}
	if stats.Duration > 0 {
		signalsPerSecond = float64(stats.SignalsGenerated) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("signalsGenerated", stats.SignalsGenerated),
		logger.Int("duplicatesInjected", stats.DuplicatesInjected),
		logger.Int("succeeded", stats.Succeeded),
		logger.Int("deduplicated", stats.Deduplicated),
		logger.Int("failed", stats.Failed),
		logger.Int("accountsScored", stats.AccountsScored),
		logger.Duration("duration", stats.Duration),
		logger.Float64("dedupShare", dedupShare),
		logger.Float64("signalsPerSecond", signalsPerSecond),
	)
}
