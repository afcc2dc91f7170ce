package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/auth"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/crypto"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/keys"
)

func TestSplitThenCombine(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, run([]string{"split", "--devices", "dev_a, dev_b,dev_c", "--t", "2", "--out", dir}, strings.NewReader(""), &out))
	fields := strings.Fields(out.String())
	require.Len(t, fields, 2)

	out.Reset()
	require.NoError(t, run([]string{"combine", filepath.Join(dir, "dev_c.share"), filepath.Join(dir, "dev_a.share")}, strings.NewReader(""), &out))
	assert.Equal(t, fields[1], strings.TrimSpace(out.String()))

	err := run([]string{"combine", filepath.Join(dir, "dev_a.share")}, strings.NewReader(""), &out)
	assert.Error(t, err)
}

func TestEscrowThenRecover(t *testing.T) {
	dir := t.TempDir()
	key := strings.Repeat("ab", 32)
	var out bytes.Buffer
	require.NoError(t, run([]string{"escrow", "--dir", dir, "--devices", "dev_a,dev_b"}, strings.NewReader(key+"\nhunter2 hunter2\n"), &out))
	lines := strings.Split(strings.TrimSpace(out.String()), " ")
	id := lines[len(lines)-1]
	require.True(t, strings.HasPrefix(id, "esc_"), out.String())

	out.Reset()
	require.NoError(t, run([]string{"recover", "--dir", dir, "--id", id, "--device", "dev_b"}, strings.NewReader("hunter2 hunter2\n"), &out))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out.String()), key))

	err := run([]string{"recover", "--dir", dir, "--id", id, "--device", "dev_z"}, strings.NewReader("hunter2 hunter2\n"), &out)
	assert.ErrorIs(t, err, keys.ErrEscrowNotFound)
	err = run([]string{"recover", "--dir", dir, "--id", id, "--device", "dev_a"}, strings.NewReader("wrong\n"), &out)
	assert.ErrorIs(t, err, keys.ErrDecryptionFailed)
}

func TestHashAdminVerifies(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"hash-admin"}, strings.NewReader("s3cret-token\n"), &out))
	hash := strings.TrimSpace(strings.TrimPrefix(out.String(), "Admin token: "))
	ok, err := auth.VerifySecret("s3cret-token", hash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestKeygenWritesLoadableKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.key")
	require.NoError(t, run([]string{"keygen", "--out", path}, strings.NewReader(""), &bytes.Buffer{}))
	priv, err := crypto.LoadSigningKey(path)
	require.NoError(t, err)
	assert.Len(t, priv, 64)
}

func TestFingerprintPrintsDeviceID(t *testing.T) {
	var out bytes.Buffer
	in := `{"deviceType":"browser-extension","platform":"Win32","cpuCores":8,"memoryGB":16,"userAgent":"Mozilla/5.0 Firefox/125.0","language":"en-US"}`
	require.NoError(t, run([]string{"fingerprint", "--salt", "cli-salt", "--user", "u1"}, strings.NewReader(in), &out))
	var got map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Len(t, got["fingerprint"], 64)
	assert.True(t, strings.HasPrefix(got["deviceId"].(string), "dev_"))
}

func TestUnknownCommand(t *testing.T) {
	assert.ErrorIs(t, run([]string{"nope"}, strings.NewReader(""), &bytes.Buffer{}), errUsage)
	assert.ErrorIs(t, run(nil, strings.NewReader(""), &bytes.Buffer{}), errUsage)
}

func TestSealOpenBetweenDevices(t *testing.T) {
	dir := t.TempDir()
	pub := map[string]string{}
	for _, name := range []string{"a", "b"} {
		var out bytes.Buffer
		require.NoError(t, run([]string{"x25519", "--out", filepath.Join(dir, name)}, strings.NewReader(""), &out))
		pub[name] = strings.TrimSpace(out.String())
		require.Len(t, pub[name], 64)
	}

	var sealed bytes.Buffer
	require.NoError(t, run([]string{"seal", "--key", filepath.Join(dir, "a"), "--peer", pub["b"], "--context", "rel_1"}, strings.NewReader("shared note"), &sealed))

	var opened bytes.Buffer
	require.NoError(t, run([]string{"open", "--key", filepath.Join(dir, "b"), "--peer", pub["a"], "--context", "rel_1"}, strings.NewReader(sealed.String()), &opened))
	assert.Equal(t, "shared note", opened.String())

	err := run([]string{"open", "--key", filepath.Join(dir, "b"), "--peer", pub["a"], "--context", "rel_2"}, strings.NewReader(sealed.String()), &opened)
	assert.ErrorIs(t, err, keys.ErrDecryptionFailed)
	err = run([]string{"seal", "--key", filepath.Join(dir, "a"), "--peer", pub["b"]}, strings.NewReader("x"), &opened)
	assert.Error(t, err)
}
