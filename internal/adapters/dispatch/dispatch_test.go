package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/pqa/internal/domain/model"
	"github.com/okian/pqa/pkg/logger"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed int
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed++
	return nil
}

type failing struct{ err error }

func (f failing) Dispatch(context.Context, Event) error { return f.err }
func (f failing) Close() error                          { return f.err }

func sampleEvent() Event {
	prev := 35
	prevTier := model.TierCold
	return Event{
		ID:             NewEventID(),
		Type:           TypeScoreChanged,
		OrganizationID: "org-1",
		AccountID:      "acme",
		OccurredAt:     time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Data: ScoreChange{
			AccountID: "acme", PreviousScore: &prev, PreviousTier: &prevTier,
			Score: 72, Tier: model.TierHot, Trend: model.TrendRising,
		},
	}
}

func TestKafkaDispatcher(t *testing.T) {
	Convey("Given a kafka dispatcher over a fake writer", t, func() {
		ctx := context.Background()
		w := &fakeWriter{}
		d := newKafkaDispatcher(w)
		e := sampleEvent()

		Convey("When an event is dispatched", func() {
			err := d.Dispatch(ctx, e)

			Convey("Then one keyed JSON message is written", func() {
				So(err, ShouldBeNil)
				So(len(w.msgs), ShouldEqual, 1)
				So(string(w.msgs[0].Key), ShouldEqual, "org-1:acme")
				So(string(w.msgs[0].Headers[0].Value), ShouldEqual, e.ID)

				var decoded map[string]any
				So(json.Unmarshal(w.msgs[0].Value, &decoded), ShouldBeNil)
				So(decoded["type"], ShouldEqual, TypeScoreChanged)
				So(decoded["data"].(map[string]any)["tier"], ShouldEqual, "HOT")
			})
		})

		Convey("When the writer fails", func() {
			w.err = errors.New("broker down")
			err := d.Dispatch(ctx, e)

			Convey("Then the error is returned for retry", func() {
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When the dispatcher is closed", func() {
			So(d.Close(), ShouldBeNil)
			So(d.Close(), ShouldBeNil)

			Convey("Then the writer closes once and dispatch is refused", func() {
				So(w.closed, ShouldEqual, 1)
				So(d.Dispatch(ctx, e), ShouldEqual, ErrClosed)
			})
		})
	})
}

func TestNewKafkaDispatcher(t *testing.T) {
	Convey("Given missing broker settings", t, func() {
		_, err := NewKafkaDispatcher(nil, "pqa.events")
		So(err, ShouldEqual, ErrNoBrokers)

		_, err = NewKafkaDispatcher([]string{"localhost:9092"}, "")
		So(err, ShouldEqual, ErrNoTopic)
	})
}

func TestMulti(t *testing.T) {
	Convey("Given a fan-out of dispatchers", t, func() {
		ctx := context.Background()
		boom := errors.New("boom")
		m := Multi{NewLogDispatcher(logger.Nop()), failing{err: boom}}

		Convey("Then errors from any member are joined", func() {
			So(errors.Is(m.Dispatch(ctx, sampleEvent()), boom), ShouldBeTrue)
			So(errors.Is(m.Close(), boom), ShouldBeTrue)
		})

		Convey("Then a healthy fan-out succeeds", func() {
			ok := Multi{NewLogDispatcher(nil)}
			So(ok.Dispatch(ctx, sampleEvent()), ShouldBeNil)
		})
	})
}

func TestScoreChange(t *testing.T) {
	Convey("Given score changes", t, func() {
		hot := model.TierHot
		So(ScoreChange{Tier: model.TierHot}.TierChanged(), ShouldBeTrue)
		So(ScoreChange{PreviousTier: &hot, Tier: model.TierHot}.TierChanged(), ShouldBeFalse)
		So(NewEventID(), ShouldNotEqual, NewEventID())
	})
}
