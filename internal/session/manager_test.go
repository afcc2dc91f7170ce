package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/auth"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeDevices struct {
	mu      sync.Mutex
	trusted map[string]bool
	active  map[string]bool
}

func (f *fakeDevices) Status(_ context.Context, id string) (bool, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.trusted[id], f.active[id], nil
}

func (f *fakeDevices) set(id string, trusted, active bool) {
	f.mu.Lock()
	f.trusted[id] = trusted
	f.active[id] = active
	f.mu.Unlock()
}

type fixture struct {
	m       *Manager
	store   *MemoryStore
	clock   *fakeClock
	devices *fakeDevices
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	clock := &fakeClock{t: time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)}
	tokens := auth.NewTokenIssuer(priv, "test", 15*time.Minute, 7*24*time.Hour)
	tokens.SetClock(clock.Now)
	devices := &fakeDevices{trusted: map[string]bool{}, active: map[string]bool{}}
	devices.set("dev_1", true, true)
	store := NewMemoryStore()
	m := NewManager(Config{MaxPerDevice: 5}, store, tokens, devices, WithClock(clock.Now))
	t.Cleanup(func() { _ = m.Close() })
	return &fixture{m: m, store: store, clock: clock, devices: devices}
}

func (f *fixture) issue(t *testing.T) *Issued {
	t.Helper()
	iss, err := f.m.Issue(context.Background(), "dev_1", Meta{IP: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	return iss
}

func TestSixthSessionEvictsOldest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var issued []*Issued
	for i := 0; i < 5; i++ {
		issued = append(issued, f.issue(t))
	}
	active, err := f.m.ActiveSessions(ctx, "dev_1")
	require.NoError(t, err)
	assert.Len(t, active, 5)

	sixth := f.issue(t)
	require.Len(t, sixth.Evicted, 1)
	assert.Equal(t, issued[0].Session.ID, sixth.Evicted[0].ID)

	active, err = f.m.ActiveSessions(ctx, "dev_1")
	require.NoError(t, err)
	assert.Len(t, active, 5)

	old, err := f.store.Get(ctx, issued[0].Session.ID)
	require.NoError(t, err)
	assert.False(t, old.Active)
	assert.Equal(t, ReasonEvicted, old.RevokeReason)

	_, err = f.m.GetByAccessToken(ctx, issued[0].Tokens.AccessToken)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.m.GetByAccessToken(ctx, issued[1].Tokens.AccessToken)
	assert.NoError(t, err)
}

func TestConcurrentCreatesRespectCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.Issue(ctx, "dev_1", Meta{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	active, err := f.store.ActiveForDevice(ctx, "dev_1")
	require.NoError(t, err)
	assert.Len(t, active, 5)
	assert.Equal(t, 25, f.store.Count())
}

func TestCreateStoresOnlyHashes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, evicted, err := f.m.Create(ctx, CreateParams{
		DeviceID:         "dev_1",
		AccessToken:      "raw-access",
		RefreshToken:     "raw-refresh",
		ExpiresAt:        f.clock.Now().Add(time.Minute),
		RefreshExpiresAt: f.clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Empty(t, evicted)
	assert.Equal(t, auth.HashToken("raw-access"), s.AccessHash)
	assert.NotContains(t, s.AccessHash+s.RefreshHash, "raw-")

	got, err := f.m.GetByAccessToken(ctx, "raw-access")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	got, err = f.m.GetByRefreshToken(ctx, "raw-refresh")
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
}

func TestAccessExpiryHidesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	iss := f.issue(t)

	f.clock.Advance(15 * time.Minute)
	_, err := f.m.GetByAccessToken(ctx, iss.Tokens.AccessToken)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = f.m.GetByRefreshToken(ctx, iss.Tokens.RefreshToken)
	assert.NoError(t, err, "refresh outlives access")
}

func TestRefreshIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.issue(t)

	next, err := f.m.Refresh(ctx, first.Tokens.RefreshToken, Meta{})
	require.NoError(t, err)
	assert.NotEqual(t, first.Session.ID, next.Session.ID)
	assert.Equal(t, "10.0.0.1", next.Session.IP)

	old, err := f.store.Get(ctx, first.Session.ID)
	require.NoError(t, err)
	assert.False(t, old.Active)
	assert.Equal(t, ReasonRefreshed, old.RevokeReason)

	_, err = f.m.Refresh(ctx, first.Tokens.RefreshToken, Meta{})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.m.Refresh(ctx, first.Tokens.AccessToken, Meta{})
	assert.ErrorIs(t, err, auth.ErrTokenInvalid)
}

func TestConcurrentRefreshOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.issue(t)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.m.Refresh(ctx, first.Tokens.RefreshToken, Meta{}); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestRefreshRequiresTrustedActiveDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	iss := f.issue(t)

	f.devices.set("dev_1", false, true)
	_, err := f.m.Refresh(ctx, iss.Tokens.RefreshToken, Meta{})
	assert.ErrorIs(t, err, ErrDeviceInactive)

	f.devices.set("dev_1", true, true)
	_, err = f.m.Refresh(ctx, iss.Tokens.RefreshToken, Meta{})
	assert.ErrorIs(t, err, ErrSessionNotFound, "failed refresh retires the session")
}

func TestRefreshAfterWindowFails(t *testing.T) {
	f := newFixture(t)
	iss := f.issue(t)
	f.clock.Advance(8 * 24 * time.Hour)
	_, err := f.m.Refresh(context.Background(), iss.Tokens.RefreshToken, Meta{})
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestIssueRejectsInactiveDevice(t *testing.T) {
	f := newFixture(t)
	f.devices.set("dev_2", false, false)
	_, err := f.m.Issue(context.Background(), "dev_2", Meta{})
	assert.ErrorIs(t, err, ErrDeviceInactive)
}

func TestRevokeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	iss := f.issue(t)

	s, err := f.m.Revoke(ctx, iss.Session.ID)
	require.NoError(t, err)
	assert.False(t, s.Active)
	s, err = f.m.Revoke(ctx, iss.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonRevoked, s.RevokeReason)

	_, err = f.m.GetByAccessToken(ctx, iss.Tokens.AccessToken)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = f.m.Revoke(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRevokeAllForDevice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.issue(t)
	}
	n, err := f.m.RevokeAllForDevice(ctx, "dev_1", ReasonDevice)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.m.RevokeAllForDevice(ctx, "dev_1", ReasonDevice)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestCleanupExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.issue(t)
	f.issue(t)

	n, err := f.m.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.clock.Advance(7 * 24 * time.Hour)
	n, err = f.m.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	active, err := f.store.ActiveForDevice(ctx, "dev_1")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestCleanupRetiresPastAccessExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	iss := f.issue(t)

	f.clock.Advance(16 * time.Minute)
	n, err := f.m.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, err := f.store.Get(ctx, iss.Session.ID)
	require.NoError(t, err)
	assert.False(t, s.Active)
	assert.Equal(t, ReasonExpired, s.RevokeReason)

	_, err = f.m.Refresh(ctx, iss.Tokens.RefreshToken, Meta{})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestAccessExpiredSessionsLeaveCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var stale []*Issued
	for i := 0; i < 5; i++ {
		stale = append(stale, f.issue(t))
	}

	f.clock.Advance(15 * time.Minute)
	fresh := f.issue(t)
	assert.Empty(t, fresh.Evicted)

	active, err := f.m.ActiveSessions(ctx, "dev_1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, fresh.Session.ID, active[0].ID)

	s, err := f.store.Get(ctx, stale[0].Session.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonExpired, s.RevokeReason)
}

func TestCleanupRacesWithTraffic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.m.Issue(ctx, "dev_1", Meta{})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.m.CleanupExpired(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	active, err := f.m.ActiveSessions(ctx, "dev_1")
	require.NoError(t, err)
	assert.Len(t, active, 5)
}

func TestCleanupLoopStops(t *testing.T) {
	f := newFixture(t)
	m := NewManager(Config{CleanupInterval: 5 * time.Millisecond}, f.store, nil, f.devices, WithClock(f.clock.Now))
	m.Start()
	m.Start()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
}
