// Package model contains domain models passed between layers.
package model

import "time"

// Signal is a single usage or engagement event from a connected source.
// It is immutable once stored.
type Signal struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organizationId"`
	SourceID       string         `json:"sourceId"`
	Type           string         `json:"type"`
	ActorID        *string        `json:"actorId,omitempty"`
	AccountID      *string        `json:"accountId"`
	AnonymousID    *string        `json:"anonymousId,omitempty"`
	Metadata       map[string]any `json:"metadata"`
	Timestamp      time.Time      `json:"timestamp"`
	DedupKey       *string        `json:"dedupKey,omitempty"`
	IdempotencyKey *string        `json:"idempotencyKey,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Identity returns the actor id, else the anonymous id, else "".
func (s Signal) Identity() string {
	if s.ActorID != nil && *s.ActorID != "" {
		return *s.ActorID
	}
	if s.AnonymousID != nil {
		return *s.AnonymousID
	}
	return ""
}

// Source is a connected signal source owned by an organization.
type Source struct {
	ID             string `json:"id" yaml:"id"`
	OrganizationID string `json:"organizationId" yaml:"organizationId"`
	Kind           string `json:"kind" yaml:"kind"`
	Active         bool   `json:"active" yaml:"active"`
}

// Company is the account a signal is attributed to.
type Company struct {
	ID             string    `json:"id" yaml:"id"`
	OrganizationID string    `json:"organizationId" yaml:"organizationId"`
	Name           string    `json:"name" yaml:"name"`
	Domain         string    `json:"domain" yaml:"domain"`
	Industry       string    `json:"industry" yaml:"industry"`
	EmployeeCount  int       `json:"employeeCount" yaml:"employeeCount"`
	Country        string    `json:"country" yaml:"country"`
	CreatedAt      time.Time `json:"createdAt" yaml:"createdAt"`
}

// Contact links a source actor to a company.
type Contact struct {
	ID             string  `json:"id" yaml:"id"`
	OrganizationID string  `json:"organizationId" yaml:"organizationId"`
	ActorID        string  `json:"actorId" yaml:"actorId"`
	CompanyID      *string `json:"companyId" yaml:"companyId"`
	Email          string  `json:"email" yaml:"email"`
	Title          string  `json:"title" yaml:"title"`
}

// ICP is an organization's ideal-customer profile. Empty criteria are ignored.
type ICP struct {
	OrganizationID string   `json:"organizationId" yaml:"organizationId"`
	Industries     []string `json:"industries" yaml:"industries"`
	Countries      []string `json:"countries" yaml:"countries"`
	MinEmployees   int      `json:"minEmployees" yaml:"minEmployees"`
	MaxEmployees   int      `json:"maxEmployees" yaml:"maxEmployees"`
}

// Empty reports whether the profile has no criteria.
func (p ICP) Empty() bool {
	return len(p.Industries) == 0 && len(p.Countries) == 0 && p.MinEmployees <= 0 && p.MaxEmployees <= 0
}
