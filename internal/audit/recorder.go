package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Recorder stamps events with a sequence number and chain link and hands
// them to every sink. A failing sink is logged and does not stop the others.
type Recorder struct {
	mu       sync.Mutex
	seq      uint64
	lastHash string
	sinks    []Sink
	log      zerolog.Logger
	now      func() time.Time
}

type Option func(*Recorder)

func WithLogger(l zerolog.Logger) Option {
	return func(r *Recorder) { r.log = l.With().Str("component", "audit").Logger() }
}

func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithChainHead continues an existing chain, e.g. the one in a SQLite sink.
func WithChainHead(seq uint64, hash string) Option {
	return func(r *Recorder) {
		r.seq = seq
		r.lastHash = hash
	}
}

func NewRecorder(sinks []Sink, opts ...Option) *Recorder {
	r := &Recorder{sinks: sinks, log: zerolog.Nop(), now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Emit chains e and records it. Sequence, time and hashes are assigned here.
func (r *Recorder) Emit(ctx context.Context, e Event) (Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.Result == "" {
		e.Result = ResultOK
	}
	e.Seq = r.seq + 1
	e.Time = r.now().UTC()
	e.PrevHash = r.lastHash
	sum, err := link(e)
	if err != nil {
		return Event{}, err
	}
	e.Hash = sum
	r.seq = e.Seq
	r.lastHash = sum

	var errs []error
	for _, s := range r.sinks {
		if err := s.Record(ctx, e); err != nil {
			r.log.Error().Err(err).Str("type", e.Type).Uint64("seq", e.Seq).Msg("audit sink failed")
			errs = append(errs, err)
		}
	}
	return e, errors.Join(errs...)
}

// Head returns the current chain head.
func (r *Recorder) Head() (uint64, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.seq, r.lastHash
}
