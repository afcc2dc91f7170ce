// Command trustd serves device registration, pairing, trust and sessions
// over HTTP.
package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/audit"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/auth"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/config"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/core"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/crypto"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/fingerprint"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/keys"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/logging"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/pairing"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/platform"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/ratelimit"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/server"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/session"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/storage"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/trust"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("TRUST_CONFIG"), "path to YAML or TOML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	log := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("trustd exited")
	}
}

// stores groups the backends picked by configuration.
type stores struct {
	devices  trust.Store
	sessions session.Store
	codes    pairing.Store
	blobs    storage.BlobStore
	client   *mongo.Client
}

func openStores(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*stores, error) {
	if cfg.Mongo.URI == "" {
		st := &stores{
			devices:  trust.NewMemoryStore(),
			sessions: session.NewMemoryStore(),
			codes:    pairing.NewMemoryStore(),
			blobs:    storage.NewMemoryBlobStore(),
		}
		if cfg.Blobs.Dir != "" {
			fs, err := storage.NewFileBlobStore(cfg.Blobs.Dir)
			if err != nil {
				return nil, err
			}
			st.blobs = fs
		}
		log.Warn().Msg("no mongo uri configured, device and session state is in memory")
		return st, nil
	}

	client, db, err := storage.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return nil, err
	}
	prefix := cfg.Mongo.CollectionPrefix
	st := &stores{client: client, blobs: storage.NewMongoBlobStore(db.Collection(prefix + "escrows"))}
	if st.devices, err = trust.NewMongoStore(ctx, db, prefix); err != nil {
		return nil, err
	}
	if st.sessions, err = session.NewMongoStore(ctx, db.Collection(prefix+"sessions")); err != nil {
		return nil, err
	}
	if st.codes, err = pairing.NewMongoStore(ctx, db.Collection(prefix+"pairing_codes")); err != nil {
		return nil, err
	}
	log.Info().Str("database", cfg.Mongo.Database).Msg("mongo stores ready")
	return st, nil
}

func signingKey(cfg *config.Config, log zerolog.Logger) (ed25519.PrivateKey, error) {
	if cfg.Tokens.SigningKeyPath != "" {
		return crypto.LoadSigningKey(cfg.Tokens.SigningKeyPath)
	}
	log.Warn().Msg("using an ephemeral signing key, tokens will not survive a restart")
	_, priv, err := crypto.NewSigningKey()
	return priv, err
}

func auditRecorder(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*audit.Recorder, func(), error) {
	var (
		sinks   []audit.Sink
		closers []func() error
	)
	opts := []audit.Option{audit.WithLogger(log)}
	if cfg.Audit.SQLitePath != "" {
		sq, err := audit.NewSQLiteSink(cfg.Audit.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		seq, hash, err := sq.Head(ctx)
		if err != nil {
			_ = sq.Close()
			return nil, nil, err
		}
		sinks = append(sinks, sq)
		closers = append(closers, sq.Close)
		opts = append(opts, audit.WithChainHead(seq, hash))
		log.Info().Str("path", cfg.Audit.SQLitePath).Uint64("seq", seq).Msg("audit log opened")
	}
	if cfg.Audit.NATSURL != "" {
		ns, err := audit.DialNATS(audit.NATSConfig{URL: cfg.Audit.NATSURL, Subject: cfg.Audit.NATSSubject}, log)
		if err != nil {
			for _, c := range closers {
				_ = c()
			}
			return nil, nil, err
		}
		sinks = append(sinks, ns)
		closers = append(closers, ns.Close)
	}
	if len(sinks) == 0 {
		log.Warn().Msg("no audit sink configured, audit events are only chained in memory")
	}
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn().Err(err).Msg("closing audit sink")
			}
		}
	}
	return audit.NewRecorder(sinks, opts...), closeAll, nil
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	if err := platform.Harden(); err != nil {
		log.Warn().Err(err).Msg("process hardening incomplete")
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	if st.client != nil {
		defer func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = st.client.Disconnect(dctx)
		}()
	}

	fp, err := fingerprint.New([]byte(cfg.Fingerprint.Salt), fingerprint.WithLogger(log))
	if err != nil {
		return err
	}
	devices := trust.NewManager(st.devices, fp, trust.WithLogger(log))
	fp.SetRegistry(devices)

	priv, err := signingKey(cfg, log)
	if err != nil {
		return err
	}
	if err := crypto.LockMemory(priv); err != nil {
		log.Warn().Err(err).Msg("could not lock signing key in memory")
	}
	defer func() { _ = crypto.UnlockMemory(priv) }()
	tokens := auth.NewTokenIssuer(priv, cfg.Tokens.Issuer, cfg.Tokens.AccessTTL, cfg.Tokens.RefreshTTL)

	recorder, closeAudit, err := auditRecorder(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeAudit()

	svc, err := core.New(core.Deps{
		Devices:     devices,
		Fingerprint: fp,
		Pairing:     pairing.NewIssuer(cfg.Pairing, st.codes, pairing.WithLogger(log)),
		Sessions:    session.NewManager(cfg.Sessions, st.sessions, tokens, devices, session.WithLogger(log)),
		Keys:        keys.New(cfg.Keys, st.blobs, keys.WithLogger(log)),
		Audit:       recorder,
		Limits:      ratelimit.NewSet(cfg.RateLimit.StrictPerMinute, cfg.RateLimit.RelaxedPerMinute),
	}, core.WithLogger(log))
	if err != nil {
		return err
	}
	svc.Start()
	defer func() {
		if err := svc.Close(); err != nil {
			log.Warn().Err(err).Msg("closing core")
		}
	}()

	var admin *auth.SecretHash
	if cfg.Admin.TokenHash != "" {
		if admin, err = auth.ParseSecretHash(cfg.Admin.TokenHash); err != nil {
			return fmt.Errorf("admin token hash: %w", err)
		}
	}
	srv := server.New(svc, tokens,
		server.WithLogger(log),
		server.WithAdminToken(admin),
		server.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
		server.WithPairingTTL(cfg.Pairing.DefaultTTL),
	)
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("listening")
		errc <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(sctx)
}
