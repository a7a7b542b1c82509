package memstore

import (
	"context"
	"math/rand/v2"
	"sort"
	"strconv"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/pqa/internal/domain/model"
	"github.com/okian/pqa/internal/domain/scoring"
)

// checkTreap verifies BST order, heap priorities and subtree sizes.
func checkTreap(n *node) bool {
	if n == nil {
		return true
	}
	if n.left != nil && (n.left.prio > n.prio || !less(n.left.score, n.left.id, n.score, n.id)) {
		return false
	}
	if n.right != nil && (n.right.prio > n.prio || !less(n.score, n.id, n.right.score, n.right.id)) {
		return false
	}
	if n.size != 1+nsize(n.left)+nsize(n.right) {
		return false
	}
	return checkTreap(n.left) && checkTreap(n.right)
}

func TestRanking(t *testing.T) {
	Convey("Given a ranking under random score updates", t, func() {
		r := newRanking()
		rng := rand.New(rand.NewPCG(1, 2))
		want := make(map[string]int)
		for range 5000 {
			id := "acct-" + strconv.Itoa(rng.IntN(500))
			v := rng.IntN(101)
			r.set(id, v)
			want[id] = v
		}

		Convey("Then the treap invariants hold", func() {
			So(checkTreap(r.root), ShouldBeTrue)
			So(r.len(), ShouldEqual, len(want))
		})

		Convey("Then the full ranking is score desc then id asc", func() {
			ids := make([]string, 0, len(want))
			for id := range want {
				ids = append(ids, id)
			}
			sort.Slice(ids, func(i, j int) bool { return less(want[ids[i]], ids[i], want[ids[j]], ids[j]) })
			So(r.top(len(want), nil, scoring.TierFor), ShouldResemble, ids)
		})

		Convey("Then a tier filter keeps only that tier", func() {
			tier := model.TierWarm
			for _, id := range r.top(len(want), &tier, scoring.TierFor) {
				So(scoring.TierFor(want[id]), ShouldEqual, model.TierWarm)
			}
		})

		Convey("Then setting an unchanged score keeps the size", func() {
			for id, v := range want {
				r.set(id, v)
				break
			}
			So(r.len(), ShouldEqual, len(want))
		})
	})
}

func BenchmarkUpsertScore(b *testing.B) {
	ctx := context.Background()
	s := New()
	rng := rand.New(rand.NewPCG(3, 4))
	b.ReportAllocs()
	b.ResetTimer()
	for i := range b.N {
		v := rng.IntN(101)
		_, _ = s.UpsertScore(ctx, model.AccountScore{
			OrganizationID: "org-1",
			AccountID:      "acct-" + strconv.Itoa(i%100_000),
			Score:          v,
			Tier:           scoring.TierFor(v),
		})
	}
}

func BenchmarkTopScores(b *testing.B) {
	ctx := context.Background()
	s := New()
	rng := rand.New(rand.NewPCG(5, 6))
	for i := range 100_000 {
		v := rng.IntN(101)
		_, _ = s.UpsertScore(ctx, model.AccountScore{
			OrganizationID: "org-1",
			AccountID:      "acct-" + strconv.Itoa(i),
			Score:          v,
			Tier:           scoring.TierFor(v),
		})
	}
	for _, limit := range []int{10, 100} {
		b.Run("limit="+strconv.Itoa(limit), func(b *testing.B) {
			b.ReportAllocs()
			for range b.N {
				_, _ = s.TopScores(ctx, "org-1", limit, nil)
			}
		})
	}
}
