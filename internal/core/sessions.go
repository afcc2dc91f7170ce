package core

import (
	"context"
	"fmt"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/audit"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/fingerprint"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/ratelimit"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/session"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/trust"
)

// SessionRequest proves device identity: the fingerprint on record and the
// device info it was computed from.
type SessionRequest struct {
	DeviceID    string
	Fingerprint string
	Info        fingerprint.DeviceInfo
	Meta        session.Meta
}

// CreateSession verifies the device's fingerprint and issues a session.
// A failed verification is reported as ErrIdentityUnverified regardless of
// the cause.
func (s *Service) CreateSession(ctx context.Context, c Caller, req SessionRequest) (*session.Issued, error) {
	if err := s.allow(ratelimit.Relaxed, "session.create", c); err != nil {
		return nil, err
	}
	if !s.fp.Verify(ctx, req.DeviceID, req.Fingerprint, req.Info) {
		s.record(ctx, audit.Event{Type: audit.SessionCreate, DeviceID: req.DeviceID}, ErrIdentityUnverified)
		return nil, ErrIdentityUnverified
	}
	issued, err := s.sessions.Issue(ctx, req.DeviceID, req.Meta)
	if err != nil {
		s.record(ctx, audit.Event{Type: audit.SessionCreate, DeviceID: req.DeviceID}, err)
		return nil, err
	}
	s.recordIssued(ctx, issued)
	return issued, nil
}

// RefreshSession trades a refresh token for a new token pair.
func (s *Service) RefreshSession(ctx context.Context, c Caller, refreshToken string, meta session.Meta) (*session.Issued, error) {
	if err := s.allow(ratelimit.Relaxed, "session.refresh", c); err != nil {
		return nil, err
	}
	issued, err := s.sessions.Refresh(ctx, refreshToken, meta)
	if err != nil {
		return nil, err
	}
	s.recordIssued(ctx, issued)
	return issued, nil
}

func (s *Service) recordIssued(ctx context.Context, issued *session.Issued) {
	s.record(ctx, audit.Event{
		Type:     audit.SessionCreate,
		DeviceID: issued.Session.DeviceID,
		TargetID: issued.Session.ID,
	}, nil)
	for _, ev := range issued.Evicted {
		s.record(ctx, audit.Event{
			Type:     audit.SessionEvict,
			DeviceID: ev.DeviceID,
			TargetID: ev.ID,
		}, nil)
	}
}

// RevokeSession ends one session. A non-empty actor may only revoke its own
// sessions.
func (s *Service) RevokeSession(ctx context.Context, sessionID, actor string) (*session.Session, error) {
	sess, err := s.revokeSession(ctx, sessionID, actor)
	e := audit.Event{Type: audit.SessionRevoke, Actor: actor, TargetID: sessionID}
	if sess != nil {
		e.DeviceID = sess.DeviceID
	}
	s.record(ctx, e, err)
	return sess, err
}

func (s *Service) revokeSession(ctx context.Context, sessionID, actor string) (*session.Session, error) {
	if actor != "" {
		sess, err := s.sessions.Get(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if sess.DeviceID != actor {
			return nil, fmt.Errorf("%w: session belongs to another device", trust.ErrPermissionDenied)
		}
	}
	return s.sessions.Revoke(ctx, sessionID)
}

// RevokeDeviceSessions ends every session of deviceID.
func (s *Service) RevokeDeviceSessions(ctx context.Context, deviceID, actor string) (int, error) {
	n, err := s.sessions.RevokeAllForDevice(ctx, deviceID, session.ReasonRevoked)
	s.record(ctx, audit.Event{Type: audit.SessionRevoke, Actor: actor, DeviceID: deviceID}, err)
	return n, err
}
