package resolve_test

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/okian/pqa/internal/domain/model"
	"github.com/okian/pqa/internal/domain/resolve"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeDirectory struct {
	companies []model.Company
	contacts  []model.Contact
	err       error
}

func (f *fakeDirectory) GetCompany(_ context.Context, orgID, id string) (model.Company, bool, error) {
	if f.err != nil {
		return model.Company{}, false, f.err
	}
	for _, c := range f.companies {
		if c.OrganizationID == orgID && c.ID == id {
			return c, true, nil
		}
	}
	return model.Company{}, false, nil
}

func (f *fakeDirectory) GetContactByActor(_ context.Context, orgID, actorID string) (model.Contact, bool, error) {
	for _, c := range f.contacts {
		if c.OrganizationID == orgID && c.ActorID == actorID {
			return c, true, nil
		}
	}
	return model.Contact{}, false, nil
}

func (f *fakeDirectory) FindCompaniesByDomain(_ context.Context, orgID, domain string) ([]model.Company, error) {
	var out []model.Company
	for _, c := range f.companies {
		if c.OrganizationID == orgID && resolve.NormalizeDomain(c.Domain) == domain {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func strPtr(s string) *string { return &s }

func newDirectory() *fakeDirectory {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return &fakeDirectory{
		companies: []model.Company{
			{ID: "co-acme", OrganizationID: "org-1", Domain: "ACME.com", CreatedAt: t0},
			{ID: "co-acme-dup", OrganizationID: "org-1", Domain: "https://www.acme.com/", CreatedAt: t0.Add(time.Hour)},
			{ID: "co-globex", OrganizationID: "org-1", Domain: "globex.io", CreatedAt: t0},
			{ID: "co-other", OrganizationID: "org-2", Domain: "initech.com", CreatedAt: t0},
		},
		contacts: []model.Contact{
			{ID: "ct-1", OrganizationID: "org-1", ActorID: "gh:7", CompanyID: strPtr("co-globex")},
			{ID: "ct-2", OrganizationID: "org-1", ActorID: "gh:8"},
		},
	}
}

func TestResolve(t *testing.T) {
	Convey("Given a resolver over a directory", t, func() {
		ctx := context.Background()
		r := resolve.New(newDirectory())

		Convey("When the account is supplied and belongs to the org", func() {
			res, err := r.Resolve(ctx, "org-1", resolve.Identity{AccountID: "co-globex", AnonymousID: "jane@acme.com"})
			So(err, ShouldBeNil)
			So(*res.AccountID, ShouldEqual, "co-globex")
			So(res.Method, ShouldEqual, resolve.MethodProvided)
		})

		Convey("When the supplied account belongs to another org", func() {
			_, err := r.Resolve(ctx, "org-1", resolve.Identity{AccountID: "co-other"})
			So(errors.Is(err, resolve.ErrForeignAccount), ShouldBeTrue)
		})

		Convey("When the actor has a linked company", func() {
			res, err := r.Resolve(ctx, "org-1", resolve.Identity{ActorID: "gh:7"})
			So(err, ShouldBeNil)
			So(*res.AccountID, ShouldEqual, "co-globex")
			So(res.Method, ShouldEqual, resolve.MethodActor)
		})

		Convey("When the actor has no company but an email is present", func() {
			res, err := r.Resolve(ctx, "org-1", resolve.Identity{ActorID: "gh:8", AnonymousID: "bob@globex.io"})
			So(err, ShouldBeNil)
			So(*res.AccountID, ShouldEqual, "co-globex")
			So(res.Method, ShouldEqual, resolve.MethodEmailDomain)
		})

		Convey("When the anonymous id is an email of a known domain in another case", func() {
			res, err := r.Resolve(ctx, "org-1", resolve.Identity{AnonymousID: "Jane@ACME.COM"})

			Convey("Then the oldest matching company wins", func() {
				So(err, ShouldBeNil)
				So(*res.AccountID, ShouldEqual, "co-acme")
				So(res.Method, ShouldEqual, resolve.MethodEmailDomain)
			})
		})

		Convey("When the email domain is unknown", func() {
			res, err := r.Resolve(ctx, "org-1", resolve.Identity{AnonymousID: "jane@unknown.io"})
			So(err, ShouldBeNil)
			So(res.AccountID, ShouldBeNil)
			So(res.Method, ShouldEqual, resolve.MethodUnresolved)
		})

		Convey("When the domain exists only in another org", func() {
			res, err := r.Resolve(ctx, "org-1", resolve.Identity{AnonymousID: "p@initech.com"})
			So(err, ShouldBeNil)
			So(res.AccountID, ShouldBeNil)
		})

		Convey("When the directory fails", func() {
			dir := newDirectory()
			dir.err = errors.New("db down")
			_, err := resolve.New(dir).Resolve(ctx, "org-1", resolve.Identity{AccountID: "co-acme"})
			So(err, ShouldNotBeNil)
			So(errors.Is(err, resolve.ErrForeignAccount), ShouldBeFalse)
		})
	})
}

func TestEmailDomain(t *testing.T) {
	Convey("Given email-like strings", t, func() {
		cases := map[string]string{
			"jane@acme.com":       "acme.com",
			" Jane@Sub.ACME.com ": "sub.acme.com",
			"x@acme.com.":         "acme.com",
		}
		for in, want := range cases {
			got, ok := resolve.EmailDomain(in)
			So(ok, ShouldBeTrue)
			So(got, ShouldEqual, want)
		}

		for _, bad := range []string{"", "jane", "@acme.com", "a@b@c.com", "jane@localhost", "jane@.com", "ja ne@acme.com"} {
			_, ok := resolve.EmailDomain(bad)
			So(ok, ShouldBeFalse)
		}
	})
}

func TestNormalizeDomain(t *testing.T) {
	Convey("Given stored company domains", t, func() {
		So(resolve.NormalizeDomain("https://www.Acme.com/about"), ShouldEqual, "acme.com")
		So(resolve.NormalizeDomain("WWW.acme.com."), ShouldEqual, "acme.com")
		So(resolve.NormalizeDomain("acme.com:443"), ShouldEqual, "acme.com")
		So(resolve.NormalizeDomain("  "), ShouldEqual, "")
	})
}
