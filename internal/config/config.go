// Package config loads trustd configuration from YAML or TOML with TRUST_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/keys"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/pairing"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/session"
)

type HTTPConfig struct {
	Addr              string        `yaml:"addr" toml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" toml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" toml:"idle_timeout"`
	MaxBodyBytes      int64         `yaml:"max_body_bytes" toml:"max_body_bytes"`
}

// MongoConfig enables Mongo-backed stores when URI is set.
type MongoConfig struct {
	URI              string `yaml:"uri" toml:"uri"`
	Database         string `yaml:"database" toml:"database"`
	CollectionPrefix string `yaml:"collection_prefix" toml:"collection_prefix"`
}

type TokenConfig struct {
	Issuer     string        `yaml:"issuer" toml:"issuer"`
	AccessTTL  time.Duration `yaml:"access_ttl" toml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl" toml:"refresh_ttl"`
	// SigningKeyPath points at a PEM Ed25519 key. Empty means an ephemeral
	// key, which invalidates every token on restart.
	SigningKeyPath string `yaml:"signing_key_path" toml:"signing_key_path"`
}

type FingerprintConfig struct {
	Salt string `yaml:"salt" toml:"salt"`
}

type AuditConfig struct {
	SQLitePath  string `yaml:"sqlite_path" toml:"sqlite_path"`
	NATSURL     string `yaml:"nats_url" toml:"nats_url"`
	NATSSubject string `yaml:"nats_subject" toml:"nats_subject"`
}

type RateLimitConfig struct {
	StrictPerMinute  int `yaml:"strict_per_minute" toml:"strict_per_minute"`
	RelaxedPerMinute int `yaml:"relaxed_per_minute" toml:"relaxed_per_minute"`
}

type LogConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

type AdminConfig struct {
	// TokenHash is an argon2id hash of the admin bearer token.
	TokenHash string `yaml:"token_hash" toml:"token_hash"`
}

type BlobConfig struct {
	Dir string `yaml:"dir" toml:"dir"`
}

type Config struct {
	HTTP        HTTPConfig        `yaml:"http" toml:"http"`
	Mongo       MongoConfig       `yaml:"mongo" toml:"mongo"`
	Tokens      TokenConfig       `yaml:"tokens" toml:"tokens"`
	Pairing     pairing.Config    `yaml:"pairing" toml:"pairing"`
	Sessions    session.Config    `yaml:"sessions" toml:"sessions"`
	Keys        keys.Config       `yaml:"keys" toml:"keys"`
	Fingerprint FingerprintConfig `yaml:"fingerprint" toml:"fingerprint"`
	Audit       AuditConfig       `yaml:"audit" toml:"audit"`
	RateLimit   RateLimitConfig   `yaml:"ratelimit" toml:"ratelimit"`
	Log         LogConfig         `yaml:"log" toml:"log"`
	Admin       AdminConfig       `yaml:"admin" toml:"admin"`
	Blobs       BlobConfig        `yaml:"blobs" toml:"blobs"`
}

// Load reads path (a missing file means defaults), applies environment
// overrides, fills defaults and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err = toml.Decode(string(data), cfg)
	default:
		return fmt.Errorf("config: unsupported format %q", filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadHeaderTimeout <= 0 {
		c.HTTP.ReadHeaderTimeout = 5 * time.Second
	}
	if c.HTTP.ReadTimeout <= 0 {
		c.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.HTTP.WriteTimeout <= 0 {
		c.HTTP.WriteTimeout = 15 * time.Second
	}
	if c.HTTP.IdleTimeout <= 0 {
		c.HTTP.IdleTimeout = 60 * time.Second
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		c.HTTP.MaxBodyBytes = 1 << 20
	}
	if c.Mongo.Database == "" {
		c.Mongo.Database = "trust"
	}
	if c.Tokens.Issuer == "" {
		c.Tokens.Issuer = "trustd"
	}
	if c.Tokens.AccessTTL <= 0 {
		c.Tokens.AccessTTL = 15 * time.Minute
	}
	if c.Tokens.RefreshTTL <= 0 {
		c.Tokens.RefreshTTL = 7 * 24 * time.Hour
	}
	if c.Audit.NATSSubject == "" {
		c.Audit.NATSSubject = "trust.audit"
	}
	if c.RateLimit.StrictPerMinute <= 0 {
		c.RateLimit.StrictPerMinute = 10
	}
	if c.RateLimit.RelaxedPerMinute <= 0 {
		c.RateLimit.RelaxedPerMinute = 300
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	// pairing, session and keys fill their own defaults at construction;
	// mirror them here so Validate sees real values.
	if c.Pairing.DefaultTTL <= 0 {
		c.Pairing.DefaultTTL = 10 * time.Minute
	}
	if c.Pairing.MaxTTL <= 0 {
		c.Pairing.MaxTTL = time.Hour
	}
	if c.Sessions.MaxPerDevice <= 0 {
		c.Sessions.MaxPerDevice = 5
	}
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Fingerprint.Salt == "" {
		errs = append(errs, errors.New("fingerprint.salt is required"))
	} else if len(c.Fingerprint.Salt) < 16 {
		errs = append(errs, errors.New("fingerprint.salt must be at least 16 characters"))
	}
	if c.Tokens.RefreshTTL < c.Tokens.AccessTTL {
		errs = append(errs, errors.New("tokens.refresh_ttl must not be shorter than tokens.access_ttl"))
	}
	if c.Pairing.DefaultTTL > c.Pairing.MaxTTL {
		errs = append(errs, errors.New("pairing.default_ttl exceeds pairing.max_ttl"))
	}
	if c.Pairing.DefaultFormat != "" {
		if _, err := pairing.ParseFormat(string(c.Pairing.DefaultFormat)); err != nil {
			errs = append(errs, fmt.Errorf("pairing.default_format: %w", err))
		}
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be json or console", c.Log.Format))
	}
	if c.Keys.PBKDF2Iterations != 0 && c.Keys.PBKDF2Iterations < 1000 {
		errs = append(errs, errors.New("keys.pbkdf2_iterations must be at least 1000"))
	}
	return errors.Join(errs...)
}

// ApplyEnvOverrides applies TRUST_* environment variables over file values.
func (c *Config) ApplyEnvOverrides() error {
	str := map[string]*string{
		"TRUST_HTTP_ADDR":          &c.HTTP.Addr,
		"TRUST_MONGO_URI":          &c.Mongo.URI,
		"TRUST_MONGO_DB":           &c.Mongo.Database,
		"TRUST_TOKEN_ISSUER":       &c.Tokens.Issuer,
		"TRUST_SIGNING_KEY_PATH":   &c.Tokens.SigningKeyPath,
		"TRUST_FINGERPRINT_SALT":   &c.Fingerprint.Salt,
		"TRUST_AUDIT_SQLITE_PATH":  &c.Audit.SQLitePath,
		"TRUST_AUDIT_NATS_URL":     &c.Audit.NATSURL,
		"TRUST_AUDIT_NATS_SUBJECT": &c.Audit.NATSSubject,
		"TRUST_LOG_LEVEL":          &c.Log.Level,
		"TRUST_LOG_FORMAT":         &c.Log.Format,
		"TRUST_ADMIN_TOKEN_HASH":   &c.Admin.TokenHash,
		"TRUST_BLOB_DIR":           &c.Blobs.Dir,
	}
	for name, dst := range str {
		if v, ok := os.LookupEnv(name); ok {
			*dst = v
		}
	}

	durations := map[string]*time.Duration{
		"TRUST_ACCESS_TTL":      &c.Tokens.AccessTTL,
		"TRUST_REFRESH_TTL":     &c.Tokens.RefreshTTL,
		"TRUST_PAIRING_TTL":     &c.Pairing.DefaultTTL,
		"TRUST_PAIRING_MAX_TTL": &c.Pairing.MaxTTL,
		"TRUST_SESSION_CLEANUP": &c.Sessions.CleanupInterval,
		"TRUST_KEY_ROTATION":    &c.Keys.RotationInterval,
	}
	var errs []error
	for name, dst := range durations {
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		*dst = d
	}

	ints := map[string]*int{
		"TRUST_MAX_SESSIONS":      &c.Sessions.MaxPerDevice,
		"TRUST_PBKDF2_ITERATIONS": &c.Keys.PBKDF2Iterations,
		"TRUST_RATE_STRICT":       &c.RateLimit.StrictPerMinute,
		"TRUST_RATE_RELAXED":      &c.RateLimit.RelaxedPerMinute,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		*dst = n
	}
	return errors.Join(errs...)
}
