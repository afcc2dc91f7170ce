package trust

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ShareResource grants each target perms on resourceID on behalf of fromID.
// The sharer must be trusted, hold canShare and hold every permission it
// passes on. Every target must be trusted; the first one that is not is
// named in the error and nothing is written. expiresAt is optional.
func (m *Manager) ShareResource(ctx context.Context, resourceID, fromID string, targetIDs []string, perms Permissions, expiresAt *time.Time) ([]Grant, error) {
	if resourceID == "" {
		return nil, errors.New("trust: empty resource id")
	}
	if len(targetIDs) == 0 {
		return nil, fmt.Errorf("%w: no targets", ErrTargetNotTrusted)
	}
	now := m.now().UTC()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, ErrInvalidExpiry
	}

	from, err := m.store.GetDevice(ctx, fromID)
	if err != nil || !from.trusted() {
		return nil, fmt.Errorf("%w: %s", ErrSharerNotTrusted, fromID)
	}
	if !from.Permissions.CanShare {
		return nil, fmt.Errorf("%w: %s lacks canShare", ErrPermissionDenied, fromID)
	}
	if !from.Permissions.Covers(perms) {
		return nil, fmt.Errorf("%w: %s cannot grant permissions it does not hold", ErrPermissionDenied, fromID)
	}
	for _, id := range targetIDs {
		if !m.IsTrusted(ctx, id) {
			return nil, fmt.Errorf("%w: %s", ErrTargetNotTrusted, id)
		}
	}

	grants := make([]Grant, 0, len(targetIDs))
	for _, id := range targetIDs {
		g := Grant{
			ID:          uuid.NewString(),
			ResourceID:  resourceID,
			From:        fromID,
			Target:      id,
			Permissions: perms,
			CreatedAt:   now,
		}
		if expiresAt != nil {
			exp := expiresAt.UTC()
			g.ExpiresAt = &exp
		}
		if err := m.store.PutGrant(ctx, &g); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	m.log.Info().Str("resource_id", resourceID).Str("from", fromID).Int("targets", len(grants)).Msg("resource shared")
	return grants, nil
}

// CanAccess reports whether deviceID may use resourceID with perm through a
// live grant. Both ends of the grant must still be trusted. Never fails.
func (m *Manager) CanAccess(ctx context.Context, resourceID, deviceID string, perm Permission) bool {
	if !m.IsTrusted(ctx, deviceID) {
		return false
	}
	grants, err := m.store.Grants(ctx, resourceID, deviceID)
	if err != nil {
		m.log.Debug().Err(err).Str("resource_id", resourceID).Msg("grant lookup failed")
		return false
	}
	now := m.now()
	for _, g := range grants {
		if g.live(now) && g.Permissions.Has(perm) && m.IsTrusted(ctx, g.From) {
			return true
		}
	}
	return false
}
