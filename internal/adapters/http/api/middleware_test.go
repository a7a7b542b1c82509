package api

import (
	"strconv"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestOrgLimiterBounds(t *testing.T) {
	Convey("Given a limiter table holding at most three orgs", t, func() {
		now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
		l := newOrgLimiter(0.001, 1)
		l.max = 3
		l.now = func() time.Time { return now }

		Convey("When many distinct orgs are seen", func() {
			for i := range 100 {
				l.limiterFor("org-" + strconv.Itoa(i))
				now = now.Add(time.Second)
			}

			Convey("Then the table never grows past its bound", func() {
				So(l.size(), ShouldEqual, 3)
			})
		})

		Convey("When a busy org is seen alongside new ones", func() {
			busy := l.limiterFor("busy")
			So(busy.Allow(), ShouldBeTrue)
			for i := range 10 {
				now = now.Add(time.Second)
				So(l.limiterFor("busy"), ShouldEqual, busy)
				l.limiterFor("org-" + strconv.Itoa(i))
			}

			Convey("Then the busy org keeps its drained bucket", func() {
				So(l.limiterFor("busy"), ShouldEqual, busy)
				So(busy.Allow(), ShouldBeFalse)
			})
		})

		Convey("When buckets sit idle past the TTL", func() {
			l.limiterFor("a")
			l.limiterFor("b")
			l.limiterFor("c")
			now = now.Add(limiterIdleTTL)
			l.limiterFor("d")

			Convey("Then they are all dropped at once", func() {
				So(l.size(), ShouldEqual, 1)
			})
		})
	})
}
