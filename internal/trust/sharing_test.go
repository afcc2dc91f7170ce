package trust

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareResource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.root(t, "r")
	a := f.register(t, "a")
	b := f.register(t, "b")
	u := f.register(t, "u")
	_, err := f.m.Trust(ctx, a, r, Permissions{CanRead: true})
	require.NoError(t, err)
	_, err = f.m.Trust(ctx, b, r, Permissions{CanRead: true})
	require.NoError(t, err)

	grants, err := f.m.ShareResource(ctx, "note-1", r, []string{a, b}, Permissions{CanRead: true}, nil)
	require.NoError(t, err)
	assert.Len(t, grants, 2)
	assert.True(t, f.m.CanAccess(ctx, "note-1", a, PermRead))
	assert.False(t, f.m.CanAccess(ctx, "note-1", a, PermWrite))
	assert.False(t, f.m.CanAccess(ctx, "note-2", a, PermRead))

	_, err = f.m.ShareResource(ctx, "note-1", r, []string{a, u, "dev_missing"}, Permissions{CanRead: true}, nil)
	require.ErrorIs(t, err, ErrTargetNotTrusted)
	assert.Contains(t, err.Error(), u)
	assert.False(t, f.m.CanAccess(ctx, "note-1", u, PermRead))

	_, err = f.m.ShareResource(ctx, "note-1", u, []string{a}, Permissions{CanRead: true}, nil)
	assert.ErrorIs(t, err, ErrSharerNotTrusted)

	_, err = f.m.ShareResource(ctx, "note-1", a, []string{b}, Permissions{CanRead: true}, nil)
	assert.ErrorIs(t, err, ErrPermissionDenied, "a lacks canShare")
}

func TestShareCannotEscalate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.root(t, "r")
	a := f.register(t, "a")
	b := f.register(t, "b")
	_, err := f.m.Trust(ctx, a, r, Permissions{CanRead: true, CanShare: true})
	require.NoError(t, err)
	_, err = f.m.Trust(ctx, b, r, Permissions{})
	require.NoError(t, err)

	_, err = f.m.ShareResource(ctx, "doc", a, []string{b}, Permissions{CanWrite: true}, nil)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.m.ShareResource(ctx, "doc", a, []string{b}, Permissions{CanRead: true}, nil)
	assert.NoError(t, err)
}

func TestShareExpiryAndRevocation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.root(t, "r")
	a := f.register(t, "a")
	_, err := f.m.Trust(ctx, a, r, Permissions{CanRead: true})
	require.NoError(t, err)

	past := f.clock.Now().Add(-time.Second)
	_, err = f.m.ShareResource(ctx, "doc", r, []string{a}, Permissions{CanRead: true}, &past)
	assert.ErrorIs(t, err, ErrInvalidExpiry)

	exp := f.clock.Now().Add(time.Hour)
	_, err = f.m.ShareResource(ctx, "doc", r, []string{a}, Permissions{CanRead: true}, &exp)
	require.NoError(t, err)
	assert.True(t, f.m.CanAccess(ctx, "doc", a, PermRead))

	f.clock.Advance(time.Hour)
	assert.False(t, f.m.CanAccess(ctx, "doc", a, PermRead), "grant expired")

	_, err = f.m.ShareResource(ctx, "doc2", r, []string{a}, Permissions{CanRead: true}, nil)
	require.NoError(t, err)
	_, err = f.m.Revoke(ctx, a, r)
	require.NoError(t, err)
	assert.False(t, f.m.CanAccess(ctx, "doc2", a, PermRead), "revoked target loses access")
}
