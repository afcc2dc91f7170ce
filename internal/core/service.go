// Package core is the operation surface the API layer calls. It sequences
// the trust, pairing, session and key components, applies rate limits and
// records an audit event for every mutation.
package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/audit"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/fingerprint"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/keys"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/pairing"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/ratelimit"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/session"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/trust"
)

var (
	ErrRateLimited        = errors.New("core: rate limited")
	ErrIdentityUnverified = errors.New("core: device identity not verified")
)

// Caller identifies who is asking, for rate limiting. DeviceID is empty for
// unauthenticated calls.
type Caller struct {
	IP       string
	DeviceID string
}

// Deps are the components the service sequences. Limits and Audit are
// optional.
type Deps struct {
	Devices     *trust.Manager
	Fingerprint *fingerprint.Service
	Pairing     *pairing.Issuer
	Sessions    *session.Manager
	Keys        *keys.Service
	Audit       *audit.Recorder
	Limits      *ratelimit.Set
}

type Service struct {
	devices  *trust.Manager
	fp       *fingerprint.Service
	pairing  *pairing.Issuer
	sessions *session.Manager
	keys     *keys.Service
	audit    *audit.Recorder
	limits   *ratelimit.Set

	log            zerolog.Logger
	rotateInterval time.Duration

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l.With().Str("component", "core").Logger() }
}

// WithRotationCheck sets how often Start checks whether keys are due for
// rotation.
func WithRotationCheck(d time.Duration) Option {
	return func(s *Service) { s.rotateInterval = d }
}

func New(d Deps, opts ...Option) (*Service, error) {
	if d.Devices == nil || d.Fingerprint == nil || d.Pairing == nil || d.Sessions == nil || d.Keys == nil {
		return nil, errors.New("core: devices, fingerprint, pairing, sessions and keys are required")
	}
	s := &Service{
		devices:        d.Devices,
		fp:             d.Fingerprint,
		pairing:        d.Pairing,
		sessions:       d.Sessions,
		keys:           d.Keys,
		audit:          d.Audit,
		limits:         d.Limits,
		log:            zerolog.Nop(),
		rotateInterval: time.Hour,
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	if s.audit == nil {
		s.audit = audit.NewRecorder(nil)
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Devices exposes the trust manager for read paths such as the auth
// middleware's device lookups.
func (s *Service) Devices() *trust.Manager { return s.devices }

func (s *Service) Sessions() *session.Manager { return s.sessions }

func (s *Service) allow(class ratelimit.Class, op string, c Caller) error {
	if s.limits == nil {
		return nil
	}
	if !s.limits.Allow(class, op, c.IP, c.DeviceID) {
		s.log.Warn().Str("op", op).Str("ip", c.IP).Str("device_id", c.DeviceID).Msg("rate limited")
		return ErrRateLimited
	}
	return nil
}

// record emits e with a result derived from err. Audit failures are logged
// by the recorder and never fail the operation.
func (s *Service) record(ctx context.Context, e audit.Event, err error) {
	if err != nil {
		e.Result = audit.ResultDenied
		if e.Detail == nil {
			e.Detail = map[string]string{}
		}
		e.Detail["error"] = err.Error()
	}
	_, _ = s.audit.Emit(ctx, e)
}
