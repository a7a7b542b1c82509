package loadgen

import (
	"errors"
	"fmt"
)

// ErrMismatch is returned when the service's results disagree with the workload.
var ErrMismatch = errors.New("result mismatch")

// Verify checks the run against what the workload guarantees. before and
// after are the org's dedup counters around the submission; the org is
// assumed to receive no other traffic meanwhile.
func Verify(work Workload, stats *Stats, before, after DedupStats, ranked []RankedAccount) error {
	var errs []error
	mismatch := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrMismatch}, args...)...))
	}

	if stats.Failed > 0 {
		mismatch("%d signals failed", stats.Failed)
	}
	if stats.Deduplicated != work.Duplicates {
		mismatch("responses reported %d duplicates, injected %d", stats.Deduplicated, work.Duplicates)
	}
	if stats.Succeeded != len(work.Signals) {
		mismatch("%d of %d signals succeeded", stats.Succeeded, len(work.Signals))
	}

	if got := after.TotalStored - before.TotalStored; got != int64(work.Unique) {
		mismatch("stored counter grew by %d, want %d", got, work.Unique)
	}
	if got := after.Deduplicated - before.Deduplicated; got != int64(work.Duplicates) {
		mismatch("deduplicated counter grew by %d, want %d", got, work.Duplicates)
	}
	if got := after.TotalIngested - before.TotalIngested; got != int64(len(work.Signals)) {
		mismatch("ingested counter grew by %d, want %d", got, len(work.Signals))
	}

	if err := verifyRanking(ranked); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// verifyRanking checks ranks run 1..n and order is score desc then account id asc.
func verifyRanking(ranked []RankedAccount) error {
	for i, acc := range ranked {
		if acc.Rank != i+1 {
			return fmt.Errorf("%w: entry %d has rank %d", ErrMismatch, i, acc.Rank)
		}
		if acc.Score < 0 || acc.Score > 100 {
			return fmt.Errorf("%w: account %s has score %d", ErrMismatch, acc.AccountID, acc.Score)
		}
		if i == 0 {
			continue
		}
		prev := ranked[i-1]
		if acc.Score > prev.Score || (acc.Score == prev.Score && acc.AccountID < prev.AccountID) {
			return fmt.Errorf("%w: %s ranked after %s", ErrMismatch, acc.AccountID, prev.AccountID)
		}
	}
	return nil
}
