package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

func TestRecorderChainsEvents(t *testing.T) {
	mem := NewMemorySink()
	r := NewRecorder([]Sink{mem}, WithClock(fixedClock()))
	ctx := context.Background()

	_, err := r.Emit(ctx, Event{Type: DeviceRegister, DeviceID: "dev_a"})
	require.NoError(t, err)
	_, err = r.Emit(ctx, Event{Type: TrustGrant, DeviceID: "dev_b", Actor: "dev_a", Detail: map[string]string{"level": "trusted"}})
	require.NoError(t, err)
	_, err = r.Emit(ctx, Event{Type: TrustRevoke, DeviceID: "dev_b", Actor: "dev_a", Result: ResultDenied})
	require.NoError(t, err)

	events := mem.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "", events[0].PrevHash)
	assert.Equal(t, events[0].Hash, events[1].PrevHash)
	assert.Equal(t, ResultOK, events[0].Result)
	assert.Equal(t, ResultDenied, events[2].Result)
	assert.Equal(t, uint64(3), events[2].Seq)
	require.NoError(t, Verify(events))

	seq, head := r.Head()
	assert.Equal(t, uint64(3), seq)
	assert.Equal(t, events[2].Hash, head)
	assert.Len(t, mem.OfType(TrustGrant), 1)
}

func TestVerifyDetectsTampering(t *testing.T) {
	mem := NewMemorySink()
	r := NewRecorder([]Sink{mem}, WithClock(fixedClock()))
	for i := 0; i < 4; i++ {
		_, err := r.Emit(context.Background(), Event{Type: SessionRevoke, DeviceID: "dev_x"})
		require.NoError(t, err)
	}

	events := mem.Events()
	events[1].Actor = "someone-else"
	assert.ErrorIs(t, Verify(events), ErrChainBroken)

	events = mem.Events()
	dropped := append(events[:1:1], events[2:]...)
	assert.ErrorIs(t, Verify(dropped), ErrChainBroken)
}

type failingSink struct{}

func (failingSink) Record(context.Context, Event) error { return errors.New("disk full") }

func TestRecorderKeepsGoingWhenASinkFails(t *testing.T) {
	mem := NewMemorySink()
	r := NewRecorder([]Sink{failingSink{}, mem})
	_, err := r.Emit(context.Background(), Event{Type: KeyRotate})
	assert.Error(t, err)
	assert.Equal(t, 1, mem.Count())
}

func TestSQLiteSinkPersistsChain(t *testing.T) {
	ctx := context.Background()
	sink, err := NewSQLiteSink(":memory:")
	require.NoError(t, err)
	defer sink.Close()

	seq, hash, err := sink.Head(ctx)
	require.NoError(t, err)
	assert.Zero(t, seq)
	assert.Empty(t, hash)

	r := NewRecorder([]Sink{sink}, WithClock(fixedClock()))
	_, err = r.Emit(ctx, Event{Type: PairingIssue, DeviceID: "dev_a"})
	require.NoError(t, err)
	last, err := r.Emit(ctx, Event{Type: PairingRedeem, DeviceID: "dev_b", TargetID: "dev_a", Detail: map[string]string{"format": "short"}})
	require.NoError(t, err)

	events, err := sink.Events(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "short", events[1].Detail["format"])
	require.NoError(t, sink.Verify(ctx))

	seq, hash, err = sink.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, last.Seq, seq)
	assert.Equal(t, last.Hash, hash)

	// A recorder resumed from the stored head extends the same chain.
	resumed := NewRecorder([]Sink{sink}, WithChainHead(seq, hash), WithClock(fixedClock()))
	_, err = resumed.Emit(ctx, Event{Type: SessionCreate, DeviceID: "dev_b"})
	require.NoError(t, err)
	require.NoError(t, sink.Verify(ctx))

	tail, err := sink.Events(ctx, 2, 10)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, uint64(3), tail[0].Seq)
}

type capturePublisher struct {
	mu       sync.Mutex
	subjects []string
	payloads [][]byte
}

func (c *capturePublisher) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func TestNATSSinkPublishesPerType(t *testing.T) {
	pub := &capturePublisher{}
	sink := NewNATSSink(pub, "trust.audit")
	r := NewRecorder([]Sink{sink})
	_, err := r.Emit(context.Background(), Event{Type: TrustRoot, DeviceID: "dev_root", Actor: "admin"})
	require.NoError(t, err)

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, "trust.audit.trust.root", pub.subjects[0])
	var got Event
	require.NoError(t, json.Unmarshal(pub.payloads[0], &got))
	assert.Equal(t, "dev_root", got.DeviceID)
	assert.NotEmpty(t, got.Hash)
	assert.NoError(t, sink.Close())
}
