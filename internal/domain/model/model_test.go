package model_test

import (
	"testing"

	model "github.com/okian/pqa/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func strPtr(s string) *string { return &s }

func TestSignalIdentity(t *testing.T) {
	convey.Convey("Given signals with different identities", t, func() {
		convey.Convey("Then the actor id wins over the anonymous id", func() {
			s := model.Signal{ActorID: strPtr("gh:1"), AnonymousID: strPtr("jane@acme.com")}
			convey.So(s.Identity(), convey.ShouldEqual, "gh:1")
		})

		convey.Convey("Then an empty actor id falls back to the anonymous id", func() {
			s := model.Signal{ActorID: strPtr(""), AnonymousID: strPtr("jane@acme.com")}
			convey.So(s.Identity(), convey.ShouldEqual, "jane@acme.com")
		})

		convey.Convey("Then no identity yields an empty string", func() {
			convey.So(model.Signal{}.Identity(), convey.ShouldEqual, "")
		})
	})
}

func TestParseTier(t *testing.T) {
	convey.Convey("Given tier names", t, func() {
		tier, ok := model.ParseTier(" hot ")
		convey.So(ok, convey.ShouldBeTrue)
		convey.So(tier, convey.ShouldEqual, model.TierHot)

		_, ok = model.ParseTier("lukewarm")
		convey.So(ok, convey.ShouldBeFalse)
	})
}

func TestBreakdownDoesNotAlias(t *testing.T) {
	convey.Convey("Given an account score with factors", t, func() {
		score := model.AccountScore{
			Tier:    model.TierWarm,
			Factors: []model.Factor{{Name: "feature_breadth", Weight: 0.15, Value: 40}},
		}
		b := score.Breakdown()

		convey.Convey("When the live factors change", func() {
			score.Factors[0].Value = 99

			convey.Convey("Then the breakdown keeps the captured value", func() {
				convey.So(b.Factors[0].Value, convey.ShouldEqual, 40)
				convey.So(b.Tier, convey.ShouldEqual, model.TierWarm)
			})
		})
	})
}

func TestICPEmpty(t *testing.T) {
	convey.Convey("Given ICP profiles", t, func() {
		convey.So(model.ICP{}.Empty(), convey.ShouldBeTrue)
		convey.So(model.ICP{Countries: []string{"DE"}}.Empty(), convey.ShouldBeFalse)
		convey.So(model.ICP{MinEmployees: 50}.Empty(), convey.ShouldBeFalse)
	})
}
