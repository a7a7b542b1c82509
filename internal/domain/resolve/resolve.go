// Package resolve attributes a signal's identity to a company account.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/okian/pqa/internal/domain/model"
	"github.com/okian/pqa/pkg/logger"
)

// Method names how an account was resolved.
type Method string

const (
	MethodProvided    Method = "provided"
	MethodActor       Method = "actor"
	MethodEmailDomain Method = "email_domain"
	MethodUnresolved  Method = "unresolved"
)

// ErrForeignAccount is returned when a supplied account does not belong to the organization.
var ErrForeignAccount = errors.New("account does not belong to organization")

// Directory is the read side of the company and contact stores.
type Directory interface {
	GetCompany(ctx context.Context, orgID, companyID string) (model.Company, bool, error)
	GetContactByActor(ctx context.Context, orgID, actorID string) (model.Contact, bool, error)
	// FindCompaniesByDomain returns companies whose normalized domain equals
	// domain, ordered by creation time then id.
	FindCompaniesByDomain(ctx context.Context, orgID, domain string) ([]model.Company, error)
}

// Identity is the inbound identity of a signal.
type Identity struct {
	ActorID     string
	AccountID   string
	AnonymousID string
}

// Resolution is the outcome of Resolve. AccountID is nil when unresolved.
type Resolution struct {
	AccountID *string
	Method    Method
}

// Resolver maps identities to company accounts.
type Resolver struct {
	dir Directory
	log logger.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(r *Resolver) {
		if l != nil {
			r.log = l
		}
	}
}

// New returns a Resolver backed by dir.
func New(dir Directory, opts ...Option) *Resolver {
	r := &Resolver{dir: dir, log: logger.Nop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve tries, in order: the supplied account, the actor's contact
// company, then the anonymous email's domain. No match is not an error.
func (r *Resolver) Resolve(ctx context.Context, orgID string, id Identity) (Resolution, error) {
	if accountID := strings.TrimSpace(id.AccountID); accountID != "" {
		_, ok, err := r.dir.GetCompany(ctx, orgID, accountID)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve: get company: %w", err)
		}
		if !ok {
			return Resolution{}, ErrForeignAccount
		}
		return resolved(accountID, MethodProvided), nil
	}

	if actorID := strings.TrimSpace(id.ActorID); actorID != "" {
		res, ok, err := r.byActor(ctx, orgID, actorID)
		if err != nil {
			return Resolution{}, err
		}
		if ok {
			return res, nil
		}
	}

	if domain, ok := EmailDomain(id.AnonymousID); ok {
		companies, err := r.dir.FindCompaniesByDomain(ctx, orgID, domain)
		if err != nil {
			return Resolution{}, fmt.Errorf("resolve: find by domain: %w", err)
		}
		if len(companies) > 0 {
			if len(companies) > 1 {
				r.log.Debug(ctx, "several companies share a domain, using the oldest",
					logger.String("org_id", orgID),
					logger.String("domain", domain),
					logger.Int("matches", len(companies)))
			}
			return resolved(companies[0].ID, MethodEmailDomain), nil
		}
	}

	return Resolution{Method: MethodUnresolved}, nil
}

func (r *Resolver) byActor(ctx context.Context, orgID, actorID string) (Resolution, bool, error) {
	contact, ok, err := r.dir.GetContactByActor(ctx, orgID, actorID)
	if err != nil {
		return Resolution{}, false, fmt.Errorf("resolve: get contact: %w", err)
	}
	if !ok || contact.CompanyID == nil || *contact.CompanyID == "" {
		return Resolution{}, false, nil
	}
	if _, ok, err := r.dir.GetCompany(ctx, orgID, *contact.CompanyID); err != nil {
		return Resolution{}, false, fmt.Errorf("resolve: get company: %w", err)
	} else if !ok {
		return Resolution{}, false, nil
	}
	return resolved(*contact.CompanyID, MethodActor), true, nil
}

func resolved(accountID string, m Method) Resolution {
	return Resolution{AccountID: &accountID, Method: m}
}

// EmailDomain extracts the normalized domain of an email-like string:
// exactly one '@', a non-empty local part, and a dotted domain.
func EmailDomain(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.Count(s, "@") != 1 {
		return "", false
	}
	local, domain, _ := strings.Cut(s, "@")
	if local == "" || strings.ContainsAny(s, " \t") {
		return "", false
	}
	domain = NormalizeDomain(domain)
	dot := strings.IndexByte(domain, '.')
	if dot <= 0 || dot == len(domain)-1 {
		return "", false
	}
	return domain, true
}

// NormalizeDomain lower-cases a domain or URL host and strips the scheme,
// path, port, a leading "www." and trailing dots.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	if d == "" {
		return ""
	}
	if strings.Contains(d, "://") {
		if u, err := url.Parse(d); err == nil && u.Host != "" {
			d = u.Host
		}
	}
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	if i := strings.LastIndexByte(d, ':'); i >= 0 {
		d = d[:i]
	}
	d = strings.TrimPrefix(d, "www.")
	return strings.TrimRight(d, ".")
}
