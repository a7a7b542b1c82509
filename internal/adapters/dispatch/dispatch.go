// Package dispatch publishes ingestion and score events to downstream
// consumers such as the webhook dispatcher and the alert evaluator.
//
// Delivery is at-least-once. Every event carries a ULID that stays the same
// across redeliveries, so consumers can drop repeats.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/okian/pqa/internal/domain/model"
	"github.com/okian/pqa/pkg/logger"
)

// Event types.
const (
	TypeSignalIngested = "signal.ingested"
	TypeScoreChanged   = "score.changed"
)

// Event is the envelope sent downstream.
type Event struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	OrganizationID string    `json:"organizationId"`
	AccountID      string    `json:"accountId,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
	Data           any       `json:"data"`
}

// ScoreChange is the data of a score.changed event.
type ScoreChange struct {
	AccountID     string      `json:"accountId"`
	PreviousScore *int        `json:"previousScore"`
	PreviousTier  *model.Tier `json:"previousTier"`
	Score         int         `json:"score"`
	Tier          model.Tier  `json:"tier"`
	Trend         model.Trend `json:"trend"`
	ComputedAt    time.Time   `json:"computedAt"`
}

// TierChanged reports whether the account moved between tiers.
func (c ScoreChange) TierChanged() bool {
	return c.PreviousTier == nil || *c.PreviousTier != c.Tier
}

// NewEventID returns a new time-ordered event id.
func NewEventID() string {
	return ulid.Make().String()
}

// Dispatcher publishes events.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event) error
	Close() error
}

// LogDispatcher writes events to the log. Used when no broker is configured.
type LogDispatcher struct {
	logger logger.Logger
}

// NewLogDispatcher creates a dispatcher that logs every event.
func NewLogDispatcher(l logger.Logger) *LogDispatcher {
	if l == nil {
		l = logger.Nop()
	}
	return &LogDispatcher{logger: l}
}

// Dispatch implements Dispatcher.
func (d *LogDispatcher) Dispatch(ctx context.Context, e Event) error {
	d.logger.Info(ctx, "event dispatched",
		logger.String("event_id", e.ID),
		logger.String("type", e.Type),
		logger.String("org_id", e.OrganizationID),
		logger.String("account_id", e.AccountID),
	)
	return nil
}

// Close implements Dispatcher.
func (d *LogDispatcher) Close() error { return nil }

// Multi fans an event out to every dispatcher and joins their errors.
type Multi []Dispatcher

// Dispatch implements Dispatcher.
func (m Multi) Dispatch(ctx context.Context, e Event) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close implements Dispatcher.
func (m Multi) Close() error {
	var errs []error
	for _, d := range m {
		if err := d.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
