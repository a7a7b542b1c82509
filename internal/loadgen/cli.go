package loadgen

import (
	"fmt"
	"io"
	"os"

	"github.com/okian/pqa/pkg/logger"
)

// SetupLogging initializes the global logger on stdout, and also on
// logFile when one is given. The returned func releases the file.
func SetupLogging(logFile string, verbose bool) (func(), error) {
	var (
		out     io.Writer = os.Stdout
		release           = func() {}
	)
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePermission) //nolint:gosec // operator supplied path
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		release = func() { _ = f.Close() }
	}
	if err := logger.InitWithOptions(logger.Options{Output: out}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	if verbose {
		_ = logger.SetLevelString("debug")
	}
	return release, nil
}

// Usage is printed by -help.
const Usage = `PQA load generator
==================

Generates product signals with a known share of replays, submits them in
batches to a running service and checks that the service deduplicated
exactly the replays.

Usage:
  loadgen [options]

Examples:
  # 10k signals, 20% replays, unresolved accounts
  loadgen -signals 10000 -dup-ratio 0.2

  # Attribute signals to seeded accounts and verify the ranking
  loadgen -org org-1 -accounts acme,globex,initech

Options:
`
