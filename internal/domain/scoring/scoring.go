// Package scoring computes the PQA score of an account from its trailing
// signal window. Computation is a pure function of its inputs.
package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/okian/pqa/internal/domain/model"
)

// Default scoring configuration constants.
const (
	DefaultWindow         = 30 * 24 * time.Hour
	DefaultTrendLookback  = 7 * 24 * time.Hour
	DefaultTrendThreshold = 5

	minScore = 0
	maxScore = 100
)

// Factor names and weights. Weights sum to 1.0.
const (
	FactorSignalVelocity    = "signal_velocity"
	FactorUserGrowth        = "user_growth"
	FactorFeatureBreadth    = "feature_breadth"
	FactorEngagementRecency = "engagement_recency"
	FactorSeniorityMix      = "seniority_mix"
	FactorFirmographicFit   = "firmographic_fit"

	weightSignalVelocity    = 0.25
	weightUserGrowth        = 0.20
	weightFeatureBreadth    = 0.15
	weightEngagementRecency = 0.20
	weightSeniorityMix      = 0.10
	weightFirmographicFit   = 0.10
)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithWindow sets the trailing signal window.
func WithWindow(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.window = d
		}
	}
}

// WithTrendThreshold sets the score delta beyond which a trend is not STABLE.
func WithTrendThreshold(delta int) Option {
	return func(e *Engine) {
		if delta > 0 {
			e.trendThreshold = delta
		}
	}
}

// Input is everything a score depends on.
type Input struct {
	Signals  []model.Signal
	Contacts []model.Contact
	Company  *model.Company
	ICP      *model.ICP
	// PriorScore is the score captured at least the trend lookback ago, if any.
	PriorScore *int
}

// Result is a computed score.
type Result struct {
	Score        int
	Tier         model.Tier
	Trend        model.Trend
	SignalCount  int
	UserCount    int
	LastSignalAt *time.Time
	Factors      []model.Factor
}

// Engine computes account scores.
type Engine struct {
	window         time.Duration
	trendThreshold int
}

// NewEngine creates a scoring engine with configuration options.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		window:         DefaultWindow,
		trendThreshold: DefaultTrendThreshold,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Window returns the trailing signal window.
func (e *Engine) Window() time.Duration { return e.window }

// Compute scores in as of now. Signals outside [now-window, now] are ignored.
func (e *Engine) Compute(in Input, now time.Time) Result {
	signals := e.inWindow(in.Signals, now)

	var (
		factors []model.Factor
		w       *windowStats
	)
	if len(signals) == 0 {
		factors = zeroFactors()
	} else {
		w = newWindowStats(signals, now, e.window)
		factors = []model.Factor{
			signalVelocity(w),
			userGrowth(w),
			featureBreadth(w),
			engagementRecency(w, now),
			seniorityMix(w, in.Contacts),
			firmographicFit(in.Company, in.ICP),
		}
	}

	var total float64
	for i := range factors {
		factors[i].Value = clampValue(factors[i].Value)
		total += factors[i].Value * factors[i].Weight
	}
	score := clampScore(total)

	res := Result{
		Score:       score,
		Tier:        TierFor(score),
		Trend:       TrendFor(score, in.PriorScore, e.trendThreshold),
		SignalCount: len(signals),
		Factors:     factors,
	}
	if w != nil {
		res.UserCount = len(w.firstSeen)
		last := w.last
		res.LastSignalAt = &last
	}
	return res
}

func (e *Engine) inWindow(all []model.Signal, now time.Time) []model.Signal {
	from := now.Add(-e.window)
	out := make([]model.Signal, 0, len(all))
	for _, s := range all {
		if s.Timestamp.Before(from) || s.Timestamp.After(now) {
			continue
		}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// TierFor maps a score to its tier. Lower bounds are inclusive.
func TierFor(score int) model.Tier {
	switch {
	case score >= 70:
		return model.TierHot
	case score >= 40:
		return model.TierWarm
	case score >= 20:
		return model.TierCold
	default:
		return model.TierInactive
	}
}

// TrendFor compares score with prior. No prior is STABLE.
func TrendFor(score int, prior *int, threshold int) model.Trend {
	if prior == nil {
		return model.TrendStable
	}
	delta := score - *prior
	switch {
	case delta > threshold:
		return model.TrendRising
	case delta < -threshold:
		return model.TrendFalling
	default:
		return model.TrendStable
	}
}

func zeroFactors() []model.Factor {
	return []model.Factor{
		{Name: FactorSignalVelocity, Weight: weightSignalVelocity, Description: "no signals in window"},
		{Name: FactorUserGrowth, Weight: weightUserGrowth, Description: "no signals in window"},
		{Name: FactorFeatureBreadth, Weight: weightFeatureBreadth, Description: "no signals in window"},
		{Name: FactorEngagementRecency, Weight: weightEngagementRecency, Description: "no signals in window"},
		{Name: FactorSeniorityMix, Weight: weightSeniorityMix, Description: "no signals in window"},
		{Name: FactorFirmographicFit, Weight: weightFirmographicFit, Description: "no signals in window"},
	}
}

// clampValue bounds a factor value to [0,100]; NaN and infinities become 0.
func clampValue(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Max(minScore, math.Min(maxScore, v))
}

func clampScore(v float64) int {
	return int(math.Round(clampValue(v)))
}
