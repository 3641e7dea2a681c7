// Package quota enforces the active-configuration ceilings. For every
// ceiling: 0 disables the feature and rejects all connects, a negative
// value means unlimited, a positive value is a hard ceiling. Over a
// positive ceiling the policy is eviction of the least-recently-connected
// configuration in the exceeded ceiling's scope, never rejection.
package quota

import (
	"context"
	"time"

	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/internal/portal/db"
	"github.com/altivon/vpn-portal/internal/shared/errors"
)

// Tracker decides admission for new connections.
type Tracker struct {
	limits config.LimitsConfig
}

// NewTracker creates a quota tracker with the portal-wide limits.
func NewTracker(limits config.LimitsConfig) *Tracker {
	return &Tracker{limits: limits}
}

// Admit checks the ceilings in fixed order: per-profile limit, per-user
// limit, global limit. It returns the configurations that must be evicted
// before the new connection may be inserted. Counts are computed against
// the provided queries so the caller can hold them inside the same
// transaction as the subsequent insert.
func (t *Tracker) Admit(ctx context.Context, q *db.Queries, userID, profileID string, profileLimit int, now time.Time) ([]db.Configuration, error) {
	var evict []db.Configuration
	evicted := make(map[string]struct{})

	// Per-profile ceiling.
	profileConfigurations, err := q.ActiveProfileAPIConfigurations(ctx, userID, profileID, now)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to count profile configurations", err)
	}
	picked, err := pickEvictions(profileConfigurations, profileLimit, evicted)
	if err != nil {
		return nil, err
	}
	evict = append(evict, picked...)

	// Per-user ceiling across all profiles, when enabled.
	if t.limits.EnforceUserLimit {
		userConfigurations, err := q.ActiveAPIConfigurations(ctx, userID, now)
		if err != nil {
			return nil, errors.NewDatabaseError("failed to count user configurations", err)
		}
		picked, err := pickEvictions(userConfigurations, t.limits.MaxActiveUserConfigurations, evicted)
		if err != nil {
			return nil, err
		}
		evict = append(evict, picked...)
	}

	// Global ceiling.
	if t.limits.MaxActiveGlobalConfigurations >= 0 {
		globalConfigurations, err := q.GlobalActiveConfigurations(ctx, now)
		if err != nil {
			return nil, errors.NewDatabaseError("failed to count global configurations", err)
		}
		picked, err := pickEvictions(globalConfigurations, t.limits.MaxActiveGlobalConfigurations, evicted)
		if err != nil {
			return nil, err
		}
		evict = append(evict, picked...)
	}

	return evict, nil
}

// AdmitPortal is the admission check for portal-downloaded configurations.
// The per-user API ceiling does not apply to portal downloads; the profile
// ceiling and the global ceiling do.
func (t *Tracker) AdmitPortal(ctx context.Context, q *db.Queries, userID, profileID string, profileLimit int, now time.Time) ([]db.Configuration, error) {
	var evict []db.Configuration
	evicted := make(map[string]struct{})

	portalConfigurations, err := q.ActivePortalConfigurations(ctx, userID, profileID, now)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to count portal configurations", err)
	}
	picked, err := pickEvictions(portalConfigurations, profileLimit, evicted)
	if err != nil {
		return nil, err
	}
	evict = append(evict, picked...)

	if t.limits.MaxActiveGlobalConfigurations >= 0 {
		globalConfigurations, err := q.GlobalActiveConfigurations(ctx, now)
		if err != nil {
			return nil, errors.NewDatabaseError("failed to count global configurations", err)
		}
		picked, err := pickEvictions(globalConfigurations, t.limits.MaxActiveGlobalConfigurations, evicted)
		if err != nil {
			return nil, err
		}
		evict = append(evict, picked...)
	}

	return evict, nil
}

// pickEvictions returns the oldest configurations that must go so one more
// fits under limit. Configurations already picked by an earlier scope do
// not count as active and are not picked twice.
func pickEvictions(active []db.Configuration, limit int, evicted map[string]struct{}) ([]db.Configuration, error) {
	if limit < 0 {
		return nil, nil
	}
	if limit == 0 {
		return nil, errors.NewConnectionError(
			errors.ErrCodeCapacityDisabled,
			"no active configurations allowed",
			nil,
		)
	}

	remaining := make([]db.Configuration, 0, len(active))
	for _, c := range active {
		if _, gone := evicted[c.ConnectionID]; !gone {
			remaining = append(remaining, c)
		}
	}

	over := len(remaining) - limit + 1
	if over <= 0 {
		return nil, nil
	}

	// Oldest first; the lists arrive ordered by created_at.
	picked := remaining[:over]
	for _, c := range picked {
		evicted[c.ConnectionID] = struct{}{}
	}
	return picked, nil
}
