// Package ownership implements the file visibility policies the
// service has shipped with: global visibility, a single system-wide
// active file, and per-owner scoping by browser token. Exactly one
// policy runs per deployment, resolved once at startup.
package ownership

import (
	"fmt"

	"saleschat/pkg/domain"
	"saleschat/pkg/store"
)

// Policy tags new records with ownership state and scopes listings.
// Persist routes the record through the store operation the policy
// needs (the single-active policy requires an atomic flip-and-insert).
type Policy interface {
	Name() string
	TagNewRecord(rec *domain.FileRecord, ownerToken string)
	ScopeListing(ownerToken string) store.Listing
	Persist(s store.Store, rec domain.FileRecord) error
}

// Policy names accepted in configuration.
const (
	PolicyNone         = "none"
	PolicySingleActive = "single-active"
	PolicyPerOwner     = "per-owner"
)

// Resolve maps a configured policy name to its implementation.
// An empty name selects per-owner, the current deployment policy.
func Resolve(name string) (Policy, error) {
	switch name {
	case "", PolicyPerOwner:
		return perOwnerPolicy{}, nil
	case PolicyNone:
		return nonePolicy{}, nil
	case PolicySingleActive:
		return singleActivePolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown ownership policy %q", name)
	}
}

// nonePolicy: every uploaded file is globally visible.
type nonePolicy struct{}

func (nonePolicy) Name() string { return PolicyNone }

func (nonePolicy) TagNewRecord(*domain.FileRecord, string) {}

func (nonePolicy) ScopeListing(string) store.Listing { return store.Listing{} }

func (nonePolicy) Persist(s store.Store, rec domain.FileRecord) error {
	return s.SaveFile(rec)
}

// singleActivePolicy: a new upload deactivates every prior file; only
// the active file is listed. Deactivated files are never reactivated.
type singleActivePolicy struct{}

func (singleActivePolicy) Name() string { return PolicySingleActive }

func (singleActivePolicy) TagNewRecord(rec *domain.FileRecord, _ string) {
	rec.IsActive = true
}

func (singleActivePolicy) ScopeListing(string) store.Listing {
	return store.Listing{ActiveOnly: true}
}

func (singleActivePolicy) Persist(s store.Store, rec domain.FileRecord) error {
	return s.DeactivateAllThenSave(rec)
}

// perOwnerPolicy: uploads are tagged with the caller's browser token
// and listings are scoped to it. The token is client-supplied and
// unauthenticated, so this is visibility scoping, not access control.
type perOwnerPolicy struct{}

func (perOwnerPolicy) Name() string { return PolicyPerOwner }

func (perOwnerPolicy) TagNewRecord(rec *domain.FileRecord, ownerToken string) {
	rec.OwnerToken = ownerToken
}

func (perOwnerPolicy) ScopeListing(ownerToken string) store.Listing {
	// Exact match: a caller whose token resolution degraded to empty
	// must not fall through to an unscoped listing.
	return store.Listing{OwnerToken: ownerToken, MatchOwnerExactly: true}
}

func (perOwnerPolicy) Persist(s store.Store, rec domain.FileRecord) error {
	return s.SaveFile(rec)
}
