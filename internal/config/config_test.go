package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/pairing"
)

const testSalt = "0123456789abcdef-salt"

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "trustd.yaml", `
http:
  addr: ":9090"
fingerprint:
  salt: "`+testSalt+`"
pairing:
  default_ttl: 5m
  default_format: numeric
sessions:
  max_per_device: 3
tokens:
  access_ttl: 10m
log:
  format: console
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Pairing.DefaultTTL)
	assert.Equal(t, time.Hour, cfg.Pairing.MaxTTL)
	assert.Equal(t, pairing.FormatNumeric, cfg.Pairing.DefaultFormat)
	assert.Equal(t, 3, cfg.Sessions.MaxPerDevice)
	assert.Equal(t, 10*time.Minute, cfg.Tokens.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Tokens.RefreshTTL)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadTOML(t *testing.T) {
	p := writeFile(t, "trustd.toml", `
[fingerprint]
salt = "`+testSalt+`"

[ratelimit]
strict_per_minute = 4

[audit]
sqlite_path = "/var/lib/trustd/audit.db"
`)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.RateLimit.StrictPerMinute)
	assert.Equal(t, 300, cfg.RateLimit.RelaxedPerMinute)
	assert.Equal(t, "/var/lib/trustd/audit.db", cfg.Audit.SQLitePath)
	assert.Equal(t, "trust.audit", cfg.Audit.NATSSubject)
}

func TestMissingFileUsesDefaultsAndEnv(t *testing.T) {
	t.Setenv("TRUST_FINGERPRINT_SALT", testSalt)
	t.Setenv("TRUST_MAX_SESSIONS", "7")
	t.Setenv("TRUST_PAIRING_TTL", "2m")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 7, cfg.Sessions.MaxPerDevice)
	assert.Equal(t, 2*time.Minute, cfg.Pairing.DefaultTTL)
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeFile(t, "trustd.yml", "fingerprint:\n  salt: short\n")
	t.Setenv("TRUST_FINGERPRINT_SALT", testSalt)
	cfg, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, testSalt, cfg.Fingerprint.Salt)
}

func TestValidate(t *testing.T) {
	_, err := Load("")
	assert.ErrorContains(t, err, "fingerprint.salt is required")

	t.Setenv("TRUST_FINGERPRINT_SALT", testSalt)
	t.Setenv("TRUST_PAIRING_TTL", "2h")
	_, err = Load("")
	assert.ErrorContains(t, err, "pairing.default_ttl")

	t.Setenv("TRUST_PAIRING_TTL", "nope")
	_, err = Load("")
	assert.ErrorContains(t, err, "TRUST_PAIRING_TTL")
}

func TestUnsupportedExtension(t *testing.T) {
	p := writeFile(t, "trustd.ini", "x=1")
	_, err := Load(p)
	assert.ErrorContains(t, err, "unsupported format")
}
