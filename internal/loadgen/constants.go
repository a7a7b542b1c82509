package loadgen

import "time"

// MaxBatchSize is the largest batch the ingestion API accepts.
const MaxBatchSize = 1000

// Runner configuration constants.
const (
	statsWindow          = "24h"
	topAccountsLimit     = 100
	retryInitialInterval = 200 * time.Millisecond
	percentageMultiplier = 100
	maxTimestampSpread   = time.Hour
)
