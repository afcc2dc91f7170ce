package trust

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/fingerprint"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/keys"
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

func info() fingerprint.DeviceInfo {
	return fingerprint.DeviceInfo{
		DeviceType:    "browser-extension",
		DeviceVersion: "1.0.0",
		Platform:      "MacIntel",
		CPUCores:      8,
		MemoryGB:      16,
		ScreenWidth:   1440,
		ScreenHeight:  900,
		UserAgent:     "Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		Timezone:      "UTC",
		Language:      "en-US",
	}
}

type fixture struct {
	m     *Manager
	store *MemoryStore
	clock *fakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fp, err := fingerprint.New([]byte("salt"))
	require.NoError(t, err)
	clock := &fakeClock{t: time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	return &fixture{m: NewManager(store, fp, WithClock(clock.Now)), store: store, clock: clock}
}

func (f *fixture) register(t *testing.T, user string) string {
	t.Helper()
	reg, err := f.m.Register(context.Background(), user, info(), nil)
	require.NoError(t, err)
	return reg.DeviceID
}

func (f *fixture) root(t *testing.T, user string) string {
	t.Helper()
	id := f.register(t, user)
	_, err := f.m.BootstrapRoot(context.Background(), id, "test")
	require.NoError(t, err)
	return id
}

func TestRegisterStartsUntrustedAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	reg, err := f.m.Register(ctx, "user-1", info(), nil)
	require.NoError(t, err)
	assert.True(t, reg.RequiresTrust)
	assert.True(t, reg.Created)
	assert.False(t, f.m.IsTrusted(ctx, reg.DeviceID))

	d, err := f.m.Get(ctx, reg.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, StatusUntrusted, d.Status)
	assert.Equal(t, Permissions{}, d.Permissions)
	assert.True(t, d.Active)

	f.clock.Advance(time.Minute)
	again, err := f.m.Register(ctx, "user-1", info(), nil)
	require.NoError(t, err)
	assert.Equal(t, reg.DeviceID, again.DeviceID)
	assert.False(t, again.Created)
	assert.True(t, again.RequiresTrust)
	assert.Equal(t, f.clock.Now(), again.Device.LastSeenAt)

	other, err := f.m.Register(ctx, "user-2", info(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, reg.DeviceID, other.DeviceID)
}

func TestRegisterValidatesPublicKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.m.Register(ctx, "u", info(), []byte("not-a-key"))
	assert.ErrorIs(t, err, keys.ErrInvalidKeyFormat)

	kp, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	reg, err := f.m.Register(ctx, "u", info(), kp.Public)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, reg.Device.PublicKey)
}

func TestReRegisterKeepsPublicKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := keys.GenerateKeyPair()
	require.NoError(t, err)
	b, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	reg, err := f.m.Register(ctx, "alice", info(), a.Public)
	require.NoError(t, err)
	assert.NotEmpty(t, reg.Fingerprint)
	_, err = f.m.BootstrapRoot(ctx, reg.DeviceID, "test")
	require.NoError(t, err)

	_, err = f.m.Register(ctx, "alice", info(), b.Public)
	assert.ErrorIs(t, err, ErrPublicKeyConflict)

	again, err := f.m.Register(ctx, "alice", info(), a.Public)
	require.NoError(t, err)
	assert.Empty(t, again.Fingerprint)
	assert.False(t, again.RequiresTrust)

	d, err := f.m.Get(ctx, reg.DeviceID)
	require.NoError(t, err)
	assert.Equal(t, a.Public, d.PublicKey)
	assert.True(t, d.Trusted)
}

func TestSetPublicKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "u")
	kp, err := keys.GenerateKeyPair()
	require.NoError(t, err)

	_, err = f.m.SetPublicKey(ctx, id, []byte("short"))
	assert.ErrorIs(t, err, keys.ErrInvalidKeyFormat)
	_, err = f.m.SetPublicKey(ctx, "missing", kp.Public)
	assert.ErrorIs(t, err, ErrUnknownDevice)

	d, err := f.m.SetPublicKey(ctx, id, kp.Public)
	require.NoError(t, err)
	assert.Equal(t, kp.Public, d.PublicKey)

	_, err = f.m.Register(ctx, "u", info(), kp.Public)
	assert.NoError(t, err, "re-registering with the current key is fine")

	_, err = f.m.Deactivate(ctx, id)
	require.NoError(t, err)
	_, err = f.m.SetPublicKey(ctx, id, kp.Public)
	assert.ErrorIs(t, err, ErrDeviceInactive)
}

func TestTrustRequiresTrustedGrantor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a")
	b := f.register(t, "b")

	_, err := f.m.Trust(ctx, a, b, Permissions{CanRead: true})
	assert.ErrorIs(t, err, ErrGrantorNotTrusted)
	assert.False(t, f.m.IsTrusted(ctx, a))

	_, err = f.m.BootstrapRoot(ctx, b, "ops")
	require.NoError(t, err)
	d, err := f.m.Trust(ctx, a, b, Permissions{CanRead: true})
	require.NoError(t, err)
	assert.True(t, d.Trusted)
	assert.Equal(t, b, d.TrustedBy)
	assert.True(t, f.m.IsTrusted(ctx, a))
	assert.True(t, f.m.HasPermission(ctx, a, PermRead))
	assert.False(t, f.m.HasPermission(ctx, a, PermWrite))
	assert.False(t, f.m.HasPermission(ctx, a, PermShare))
}

func TestTrustUnknownAndSelf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.root(t, "r")

	_, err := f.m.Trust(ctx, "dev_missing", r, Permissions{})
	assert.ErrorIs(t, err, ErrUnknownDevice)
	_, err = f.m.Trust(ctx, r, "dev_missing", Permissions{})
	assert.ErrorIs(t, err, ErrUnknownDevice)
	_, err = f.m.Trust(ctx, r, r, Permissions{})
	assert.ErrorIs(t, err, ErrSelfTrust)
}

func TestRevokeAndRepromote(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.root(t, "r")
	a := f.register(t, "a")
	u := f.register(t, "u")

	_, err := f.m.Trust(ctx, a, r, AllPermissions())
	require.NoError(t, err)

	_, err = f.m.Revoke(ctx, a, u)
	assert.ErrorIs(t, err, ErrGrantorNotTrusted)
	assert.True(t, f.m.IsTrusted(ctx, a))

	d, err := f.m.Revoke(ctx, a, r)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, d.Status)
	assert.False(t, f.m.IsTrusted(ctx, a))
	assert.False(t, f.m.HasPermission(ctx, a, PermRead))

	e, err := f.m.Relationship(ctx, r, a)
	require.NoError(t, err)
	assert.False(t, e.Active)

	d, err = f.m.Trust(ctx, a, r, Permissions{CanWrite: true})
	require.NoError(t, err)
	assert.Equal(t, StatusTrusted, d.Status)
	assert.Nil(t, d.RevokedAt)
	assert.True(t, f.m.HasPermission(ctx, a, PermWrite))
	assert.False(t, f.m.HasPermission(ctx, a, PermRead))
}

func TestRevokeUntrustedIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.root(t, "r")
	a := f.register(t, "a")
	d, err := f.m.Revoke(ctx, a, r)
	require.NoError(t, err)
	assert.Equal(t, StatusUntrusted, d.Status)
}

func TestTrustLevelsBoundGrantor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.root(t, "r")
	a := f.register(t, "a")
	b := f.register(t, "b")
	c := f.register(t, "c")

	// a stays trusted but its only inbound edge drops to VERIFIED.
	_, err := f.m.Trust(ctx, a, r, Permissions{CanRead: true})
	require.NoError(t, err)
	_, err = f.m.TrustAtLevel(ctx, a, r, Permissions{}, LevelVerified, nil)
	require.NoError(t, err)
	lvl, err := f.m.EffectiveLevel(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, LevelVerified, lvl)

	_, err = f.m.Trust(ctx, b, a, Permissions{CanRead: true})
	assert.ErrorIs(t, err, ErrInsufficientTrustLevel)
	assert.False(t, f.m.IsTrusted(ctx, b))

	_, err = f.m.TrustAtLevel(ctx, b, a, Permissions{}, LevelVerified, []byte("sealed"))
	require.NoError(t, err)
	e, err := f.m.Relationship(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, LevelVerified, e.Level)
	assert.Equal(t, []byte("sealed"), e.Payload)
	assert.False(t, f.m.IsTrusted(ctx, b), "levels below trusted only record the edge")

	_, err = f.m.TrustAtLevel(ctx, c, r, Permissions{}, LevelNone, nil)
	assert.ErrorIs(t, err, ErrInvalidLevel)
}

func TestPairCreatesPairedEdgeOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.root(t, "r")
	x := f.register(t, "x")

	e, err := f.m.Pair(ctx, r, x, nil)
	require.NoError(t, err)
	assert.Equal(t, LevelPaired, e.Level)
	assert.True(t, e.Active)
	assert.False(t, f.m.IsTrusted(ctx, x))

	_, err = f.m.Trust(ctx, x, r, Permissions{CanRead: true})
	require.NoError(t, err)
	e, err = f.m.Pair(ctx, r, x, nil)
	require.NoError(t, err)
	assert.Equal(t, LevelTrusted, e.Level, "pairing never lowers an edge")

	u := f.register(t, "u")
	_, err = f.m.Pair(ctx, u, x, nil)
	assert.ErrorIs(t, err, ErrGrantorNotTrusted)
}

func TestDeactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.root(t, "r")
	a := f.register(t, "a")
	_, err := f.m.Trust(ctx, a, r, AllPermissions())
	require.NoError(t, err)

	d, err := f.m.Deactivate(ctx, a)
	require.NoError(t, err)
	assert.False(t, d.Active)
	assert.False(t, f.m.IsTrusted(ctx, a))

	_, err = f.m.Trust(ctx, a, r, AllPermissions())
	assert.ErrorIs(t, err, ErrDeviceInactive)
	assert.ErrorIs(t, f.m.Heartbeat(ctx, a), ErrDeviceInactive)
	_, err = f.m.Register(ctx, "a", info(), nil)
	assert.ErrorIs(t, err, ErrDeviceInactive)
	_, err = f.m.Fingerprint(ctx, a)
	assert.ErrorIs(t, err, ErrDeviceInactive)

	_, err = f.m.Get(ctx, a)
	assert.NoError(t, err, "deactivated devices are kept")
}

func TestHeartbeat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a")
	f.clock.Advance(time.Hour)
	require.NoError(t, f.m.Heartbeat(ctx, a))
	d, err := f.m.Get(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), d.LastSeenAt)
	assert.ErrorIs(t, f.m.Heartbeat(ctx, "dev_missing"), ErrUnknownDevice)
}

func TestReadGatesNeverFail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	assert.False(t, f.m.IsTrusted(ctx, "nope"))
	assert.False(t, f.m.HasPermission(ctx, "nope", PermRead))
	assert.False(t, f.m.CanAccess(ctx, "res", "nope", PermRead))
}

func TestConcurrentGrantsDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a")
	var grantors []string
	for _, u := range []string{"g1", "g2", "g3", "g4", "g5", "g6"} {
		grantors = append(grantors, f.root(t, u))
	}

	var (
		wg sync.WaitGroup
		ok atomic.Int32
	)
	for _, g := range grantors {
		wg.Add(1)
		go func(g string) {
			defer wg.Done()
			if _, err := f.m.Trust(ctx, a, g, Permissions{CanRead: true}); err == nil {
				ok.Add(1)
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, int32(len(grantors)), ok.Load())

	edges, err := f.m.InboundRelationships(ctx, a)
	require.NoError(t, err)
	assert.Len(t, edges, len(grantors))
	d, err := f.m.Get(ctx, a)
	require.NoError(t, err)
	assert.Contains(t, grantors, d.TrustedBy)
}
