package loadgen

import (
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Config holds configuration for a load run.
type Config struct {
	BaseURL        string        // Base URL of the service
	OrgID          string        // Organization the signals are sent to
	NumSignals     int           // Unique signals to generate
	DuplicateRatio float64       // Share of extra replays of already generated signals
	BatchSize      int           // Signals per batch request
	Workers        int           // Concurrent batch requests
	Accounts       []string      // Account ids known to the service; empty sends unresolved signals
	SourceID       string        // Source id stamped on every signal
	Seed           uint64        // Seeds the type, actor, account and replay mix; ids stay random
	Timeout        time.Duration // HTTP request timeout
	MaxRetries     uint          // Retries of a rate limited or failed batch
	OutputFile     string        // Optional file receiving the generated signals
	Verbose        bool          // Enable verbose logging
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if u, err := url.Parse(c.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("url must be absolute, got %q", c.BaseURL))
	}
	if c.OrgID == "" {
		errs = append(errs, errors.New("org must not be empty"))
	}
	if c.NumSignals <= 0 {
		errs = append(errs, fmt.Errorf("signals must be positive, got %d", c.NumSignals))
	}
	if c.DuplicateRatio < 0 || c.DuplicateRatio > 1 {
		errs = append(errs, fmt.Errorf("dup-ratio must be within [0, 1], got %g", c.DuplicateRatio))
	}
	if c.BatchSize <= 0 || c.BatchSize > MaxBatchSize {
		errs = append(errs, fmt.Errorf("batch must be between 1 and %d, got %d", MaxBatchSize, c.BatchSize))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.SourceID == "" {
		errs = append(errs, errors.New("source must not be empty"))
	}
	return errors.Join(errs...)
}

// SignalInput is one signal as the ingestion API accepts it.
type SignalInput struct {
	SourceID       string         `json:"sourceId"`
	Type           string         `json:"type"`
	ActorID        string         `json:"actorId,omitempty"`
	AccountID      string         `json:"accountId,omitempty"`
	AnonymousID    string         `json:"anonymousId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
	Timestamp      string         `json:"timestamp"`
}

// BatchSummary mirrors the summary of a batch response.
type BatchSummary struct {
	Total        int `json:"total"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	Deduplicated int `json:"deduplicated"`
}

// DedupStats mirrors one window of the dedup stats response.
type DedupStats struct {
	Window        string  `json:"window"`
	TotalIngested int64   `json:"totalIngested"`
	TotalStored   int64   `json:"totalStored"`
	Deduplicated  int64   `json:"deduplicated"`
	DedupEligible int64   `json:"dedupEligible"`
	DedupRate     float64 `json:"dedupRate"`
}

// RankedAccount mirrors one entry of the top accounts response.
type RankedAccount struct {
	Rank      int    `json:"rank"`
	AccountID string `json:"accountId"`
	Score     int    `json:"score"`
	Tier      string `json:"tier"`
}

// Stats holds run statistics.
type Stats struct {
	SignalsGenerated   int
	DuplicatesInjected int
	BatchesSent        int
	BatchesFailed      int
	Succeeded          int
	Deduplicated       int
	Failed             int
	AccountsScored     int
	StartTime          time.Time
	EndTime            time.Time
	Duration           time.Duration
}
