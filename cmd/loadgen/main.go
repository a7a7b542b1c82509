package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/okian/pqa/internal/loadgen"
)

// Default configuration constants.
const (
	defaultNumSignals     = 10_000
	defaultDuplicateRatio = 0.2
	defaultBatchSize      = 500
	defaultWorkers        = 2 // multiplier for runtime.NumCPU()
	defaultTimeout        = 30 * time.Second
	defaultRunTimeout     = 10 * time.Minute
	defaultMaxRetries     = 5
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:9080", "Base URL of the service")
		orgID      = flag.String("org", "loadgen", "Organization the signals are sent to")
		numSignals = flag.Int("signals", defaultNumSignals, "Number of unique signals to generate")
		dupRatio   = flag.Float64("dup-ratio", defaultDuplicateRatio, "Replays injected per unique signal, within [0, 1]")
		batchSize  = flag.Int("batch", defaultBatchSize, "Signals per batch request")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkers, "Concurrent batch requests")
		accounts   = flag.String("accounts", "", "Comma separated account ids known to the service")
		sourceID   = flag.String("source", "loadgen", "Source id stamped on every signal")
		seed       = flag.Uint64("seed", uint64(time.Now().UnixNano()), "Generator seed") //nolint:gosec // non-negative clock
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		runTimeout = flag.Duration("run-timeout", defaultRunTimeout, "Timeout of the whole run")
		retries    = flag.Uint("retries", defaultMaxRetries, "Retries of a rate limited or failed request")
		outputFile = flag.String("output", "", "Write the generated signals to this JSON file")
		logFile    = flag.String("log", "", "Also write the log to this file")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	)
	flag.Usage = func() {
		_, _ = fmt.Fprint(flag.CommandLine.Output(), loadgen.Usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	release, err := loadgen.SetupLogging(*logFile, *verbose)
	if err != nil {
		_, _ = os.Stderr.WriteString("failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *runTimeout)
	defer cancel()

	cfg := &loadgen.Config{
		BaseURL:        strings.TrimRight(*baseURL, "/"),
		OrgID:          *orgID,
		NumSignals:     *numSignals,
		DuplicateRatio: *dupRatio,
		BatchSize:      *batchSize,
		Workers:        *workers,
		Accounts:       splitList(*accounts),
		SourceID:       *sourceID,
		Seed:           *seed,
		Timeout:        *timeout,
		MaxRetries:     *retries,
		OutputFile:     *outputFile,
		Verbose:        *verbose,
	}

	if _, err := loadgen.Run(ctx, cfg); err != nil {
		_, _ = os.Stderr.WriteString("load run failed: " + err.Error() + "\n")
		release()
		os.Exit(1) //nolint:gocritic // release already ran
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
