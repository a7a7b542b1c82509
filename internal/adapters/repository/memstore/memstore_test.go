package memstore_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/okian/pqa/internal/adapters/repository"
	"github.com/okian/pqa/internal/adapters/repository/memstore"
	"github.com/okian/pqa/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func strPtr(s string) *string { return &s }

func score(acct string, v int, tier model.Tier) model.AccountScore {
	return model.AccountScore{
		OrganizationID: "org-1",
		AccountID:      acct,
		Score:          v,
		Tier:           tier,
		Factors:        []model.Factor{{Name: "signal_velocity", Weight: 0.25, Value: float64(v)}},
	}
}

func TestStoreScores(t *testing.T) {
	Convey("Given an empty memstore", t, func() {
		ctx := context.Background()
		s := memstore.New()

		Convey("When an account is scored for the first time", func() {
			prev, err := s.UpsertScore(ctx, score("acme", 55, model.TierWarm))

			Convey("Then there is no previous head", func() {
				So(err, ShouldBeNil)
				So(prev, ShouldBeNil)
			})

			Convey("And a rescore returns the replaced head", func() {
				prev, err := s.UpsertScore(ctx, score("acme", 72, model.TierHot))
				So(err, ShouldBeNil)
				So(prev, ShouldResemble, &repository.ScoreHead{Score: 55, Tier: model.TierWarm})

				got, err := s.GetScore(ctx, "org-1", "acme")
				So(err, ShouldBeNil)
				So(got.Score, ShouldEqual, 72)
			})
		})

		Convey("When reading an account that was never scored", func() {
			_, err := s.GetScore(ctx, "org-1", "ghost")

			Convey("Then ErrNotFound is returned", func() {
				So(err, ShouldEqual, repository.ErrNotFound)
			})
		})

		Convey("When ranking several accounts", func() {
			_, _ = s.UpsertScore(ctx, score("b", 80, model.TierHot))
			_, _ = s.UpsertScore(ctx, score("a", 80, model.TierHot))
			_, _ = s.UpsertScore(ctx, score("c", 45, model.TierWarm))
			_, _ = s.UpsertScore(ctx, score("d", 10, model.TierInactive))
			_, _ = s.UpsertScore(ctx, score("d", 50, model.TierWarm))

			Convey("Then top orders by score desc then id asc", func() {
				top, err := s.TopScores(ctx, "org-1", 10, nil)
				So(err, ShouldBeNil)
				ids := make([]string, 0, len(top))
				for _, sc := range top {
					ids = append(ids, sc.AccountID)
				}
				So(ids, ShouldResemble, []string{"a", "b", "d", "c"})
			})

			Convey("Then the tier filter keeps only that tier", func() {
				warm := model.TierWarm
				top, err := s.TopScores(ctx, "org-1", 1, &warm)
				So(err, ShouldBeNil)
				So(len(top), ShouldEqual, 1)
				So(top[0].AccountID, ShouldEqual, "d")
			})

			Convey("Then a non-positive limit is rejected", func() {
				_, err := s.TopScores(ctx, "org-1", 0, nil)
				So(err, ShouldEqual, repository.ErrInvalidLimit)
			})

			Convey("Then tier counts reflect the current rows", func() {
				counts, err := s.TierCounts(ctx)
				So(err, ShouldBeNil)
				So(counts[model.TierHot], ShouldEqual, 2)
				So(counts[model.TierWarm], ShouldEqual, 2)
				So(counts[model.TierInactive], ShouldEqual, 0)
			})

			Convey("Then the org is listed as scored", func() {
				orgs, err := s.ScoredOrganizations(ctx)
				So(err, ShouldBeNil)
				So(orgs, ShouldResemble, []string{"org-1"})
			})
		})

		Convey("When a caller mutates a returned score", func() {
			_, _ = s.UpsertScore(ctx, score("acme", 55, model.TierWarm))
			got, _ := s.GetScore(ctx, "org-1", "acme")
			got.Factors[0].Value = 999

			Convey("Then the stored row is unchanged", func() {
				again, _ := s.GetScore(ctx, "org-1", "acme")
				So(again.Factors[0].Value, ShouldEqual, 55)
			})
		})
	})
}

func TestStoreSnapshots(t *testing.T) {
	Convey("Given snapshots appended out of order", t, func() {
		ctx := context.Background()
		s := memstore.New()
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		snap := func(id, company string, day int, v int) model.ScoreSnapshot {
			return model.ScoreSnapshot{
				ID:             id,
				OrganizationID: "org-1",
				CompanyID:      company,
				Score:          v,
				Breakdown:      model.Breakdown{Factors: []model.Factor{{Name: "x", Value: float64(v)}}},
				CapturedAt:     base.AddDate(0, 0, day),
			}
		}
		So(s.AppendSnapshots(ctx, []model.ScoreSnapshot{
			snap("s3", "acme", 2, 30),
			snap("s1", "acme", 0, 10),
			snap("s2b", "acme", 1, 21),
			snap("s2a", "acme", 1, 20),
			snap("o1", "other", 1, 90),
		}), ShouldBeNil)

		Convey("Then company history is ascending by capture time then id", func() {
			hist, err := s.CompanySnapshots(ctx, "org-1", "acme", base)
			So(err, ShouldBeNil)
			ids := make([]string, 0, len(hist))
			for _, h := range hist {
				ids = append(ids, h.ID)
			}
			So(ids, ShouldResemble, []string{"s1", "s2a", "s2b", "s3"})
		})

		Convey("Then history respects the from bound", func() {
			hist, err := s.CompanySnapshots(ctx, "org-1", "acme", base.AddDate(0, 0, 2))
			So(err, ShouldBeNil)
			So(len(hist), ShouldEqual, 1)
		})

		Convey("Then org history includes every company", func() {
			hist, err := s.OrgSnapshots(ctx, "org-1", base)
			So(err, ShouldBeNil)
			So(len(hist), ShouldEqual, 5)
		})

		Convey("Then the latest snapshot at or before a time is found", func() {
			got, err := s.LatestSnapshotAtOrBefore(ctx, "org-1", "acme", base.AddDate(0, 0, 1).Add(time.Hour))
			So(err, ShouldBeNil)
			So(got, ShouldNotBeNil)
			So(got.ID, ShouldEqual, "s2b")

			none, err := s.LatestSnapshotAtOrBefore(ctx, "org-1", "acme", base.Add(-time.Second))
			So(err, ShouldBeNil)
			So(none, ShouldBeNil)
		})

		Convey("Then returned snapshots cannot change stored history", func() {
			hist, _ := s.CompanySnapshots(ctx, "org-1", "acme", base)
			hist[0].Score = 99
			hist[0].Breakdown.Factors[0].Value = 99

			again, _ := s.CompanySnapshots(ctx, "org-1", "acme", base)
			So(again[0].Score, ShouldEqual, 10)
			So(again[0].Breakdown.Factors[0].Value, ShouldEqual, 10)
		})
	})
}

func TestStoreSignals(t *testing.T) {
	Convey("Given stored signals", t, func() {
		ctx := context.Background()
		s := memstore.New()
		base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		for i := 0; i < 5; i++ {
			sig := model.Signal{
				ID:             fmt.Sprintf("sig-%d", i),
				OrganizationID: "org-1",
				SourceID:       "src-1",
				Type:           "page_view",
				Timestamp:      base.Add(time.Duration(i) * time.Hour),
			}
			if i%2 == 0 {
				sig.AccountID = strPtr("acme")
				sig.Type = "repo_star"
			}
			So(s.InsertSignal(ctx, sig), ShouldBeNil)
		}

		Convey("When inserting a duplicate id", func() {
			err := s.InsertSignal(ctx, model.Signal{ID: "sig-0", OrganizationID: "org-1"})

			Convey("Then ErrDuplicateID is returned", func() {
				So(errors.Is(err, repository.ErrDuplicateID), ShouldBeTrue)
			})
		})

		Convey("When listing without filters", func() {
			items, total, err := s.ListSignals(ctx, "org-1", repository.SignalFilter{Limit: 2})

			Convey("Then the newest page comes first with the full total", func() {
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 5)
				So(len(items), ShouldEqual, 2)
				So(items[0].ID, ShouldEqual, "sig-4")
				So(items[1].ID, ShouldEqual, "sig-3")
			})
		})

		Convey("When paging past the end", func() {
			items, total, err := s.ListSignals(ctx, "org-1", repository.SignalFilter{Limit: 2, Offset: 10})

			Convey("Then the page is empty", func() {
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 5)
				So(items, ShouldBeEmpty)
			})
		})

		Convey("When filtering by account and time range", func() {
			from := base.Add(time.Hour)
			items, total, err := s.ListSignals(ctx, "org-1", repository.SignalFilter{AccountID: "acme", From: &from})

			Convey("Then only matching signals are returned", func() {
				So(err, ShouldBeNil)
				So(total, ShouldEqual, 2)
				So(items[0].ID, ShouldEqual, "sig-4")
				So(items[1].ID, ShouldEqual, "sig-2")
			})
		})

		Convey("When reading an account window", func() {
			got, err := s.AccountSignals(ctx, "org-1", "acme", base, base.Add(2*time.Hour))

			Convey("Then both bounds are inclusive", func() {
				So(err, ShouldBeNil)
				So(len(got), ShouldEqual, 2)
			})
		})
	})
}

func TestStoreDirectory(t *testing.T) {
	Convey("Given seeded companies with the same domain", t, func() {
		ctx := context.Background()
		s := memstore.New()
		t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		So(s.PutCompany(ctx, model.Company{ID: "acme-2", OrganizationID: "org-1", Domain: "https://www.ACME.com/", CreatedAt: t0.Add(time.Hour)}), ShouldBeNil)
		So(s.PutCompany(ctx, model.Company{ID: "acme-1", OrganizationID: "org-1", Domain: "acme.com", CreatedAt: t0}), ShouldBeNil)
		So(s.PutCompany(ctx, model.Company{ID: "acme-x", OrganizationID: "org-2", Domain: "acme.com", CreatedAt: t0}), ShouldBeNil)

		Convey("Then the domain search is org scoped and oldest first", func() {
			got, err := s.FindCompaniesByDomain(ctx, "org-1", "Acme.com")
			So(err, ShouldBeNil)
			So(len(got), ShouldEqual, 2)
			So(got[0].ID, ShouldEqual, "acme-1")
			So(got[1].ID, ShouldEqual, "acme-2")
		})

		Convey("Then contacts are found by actor and by company", func() {
			So(s.PutContact(ctx, model.Contact{ID: "c1", OrganizationID: "org-1", ActorID: "u1", CompanyID: strPtr("acme-1")}), ShouldBeNil)
			c, ok, err := s.GetContactByActor(ctx, "org-1", "u1")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(c.ID, ShouldEqual, "c1")

			list, err := s.ListContactsByCompany(ctx, "org-1", "acme-1")
			So(err, ShouldBeNil)
			So(len(list), ShouldEqual, 1)
		})

		Convey("Then a missing ICP is nil", func() {
			icp, err := s.GetICP(ctx, "org-1")
			So(err, ShouldBeNil)
			So(icp, ShouldBeNil)
		})
	})
}

func TestStoreIngestCounts(t *testing.T) {
	Convey("Given hourly ingest counters", t, func() {
		ctx := context.Background()
		s := memstore.New()
		now := time.Date(2026, 3, 2, 12, 30, 0, 0, time.UTC)
		So(s.AddIngestCounts(ctx, "org-1", now, repository.IngestCounts{Ingested: 2, Stored: 1, Deduplicated: 1, Eligible: 2}), ShouldBeNil)
		So(s.AddIngestCounts(ctx, "org-1", now.Add(10*time.Minute), repository.IngestCounts{Ingested: 1, Stored: 1}), ShouldBeNil)
		So(s.AddIngestCounts(ctx, "org-1", now.Add(-48*time.Hour), repository.IngestCounts{Ingested: 7, Stored: 7}), ShouldBeNil)

		Convey("Then sums respect the from bound", func() {
			day, err := s.SumIngestCounts(ctx, "org-1", now.Add(-24*time.Hour))
			So(err, ShouldBeNil)
			So(day, ShouldResemble, repository.IngestCounts{Ingested: 3, Stored: 2, Deduplicated: 1, Eligible: 2})

			week, err := s.SumIngestCounts(ctx, "org-1", now.Add(-7*24*time.Hour))
			So(err, ShouldBeNil)
			So(week.Ingested, ShouldEqual, 10)
		})
	})
}
