// Package visitors implements the site visit counter keyed by the
// anonymous owner token.
package visitors

import (
	"errors"
	"time"

	"saleschat/pkg/domain"
	"saleschat/pkg/store"
)

// ErrNoToken indicates a track call without an owner token.
var ErrNoToken = errors.New("no owner token provided")

// Service tracks visits and reports counts.
type Service struct {
	store store.Store
	now   func() time.Time
}

// New constructs the visitor service.
func New(s store.Store) *Service {
	return &Service{store: s, now: time.Now}
}

// Track records a visit for the given token and returns current stats.
func (s *Service) Track(ownerToken, userAgent string) (domain.VisitorStats, error) {
	if ownerToken == "" {
		return domain.VisitorStats{}, ErrNoToken
	}
	now := s.now().UTC()
	visitor, ok, err := s.store.GetVisitor(ownerToken)
	if err != nil {
		return domain.VisitorStats{}, err
	}
	if ok {
		visitor.LastVisit = now
		visitor.VisitCount++
		if userAgent != "" {
			visitor.UserAgent = userAgent
		}
	} else {
		visitor = domain.Visitor{
			OwnerToken: ownerToken,
			FirstVisit: now,
			LastVisit:  now,
			VisitCount: 1,
			UserAgent:  userAgent,
		}
	}
	if err := s.store.SaveVisitor(visitor); err != nil {
		return domain.VisitorStats{}, err
	}
	return s.Stats()
}

// Stats returns total unique visitors and those active today (UTC).
func (s *Service) Stats() (domain.VisitorStats, error) {
	total, err := s.store.CountVisitors()
	if err != nil {
		return domain.VisitorStats{}, err
	}
	midnight := s.now().UTC().Truncate(24 * time.Hour)
	active, err := s.store.CountVisitorsActiveSince(midnight)
	if err != nil {
		return domain.VisitorStats{}, err
	}
	return domain.VisitorStats{TotalVisitors: total, ActiveToday: active}, nil
}
