package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"syscall"
	"time"

	_ "github.com/lib/pq" // Postgres Driver
	_ "modernc.org/sqlite"

	"github.com/statsgallery/sponsorship/pkg/api"
	"github.com/statsgallery/sponsorship/pkg/audit"
	"github.com/statsgallery/sponsorship/pkg/auth"
	"github.com/statsgallery/sponsorship/pkg/badge"
	"github.com/statsgallery/sponsorship/pkg/config"
	"github.com/statsgallery/sponsorship/pkg/funds"
	"github.com/statsgallery/sponsorship/pkg/observability"
	"github.com/statsgallery/sponsorship/pkg/ownership"
	"github.com/statsgallery/sponsorship/pkg/policy"
	"github.com/statsgallery/sponsorship/pkg/sponsorship"
	"github.com/statsgallery/sponsorship/pkg/store"
)

//nolint:gocognit,gocyclo // boot wiring is linear
func runServer() int {
	cfg := config.Load()
	initLogger(cfg.LogLevel)

	fmt.Fprintf(os.Stdout, "%ssponsord v%s starting...%s\n", ColorBold+ColorBlue, version, ColorReset)
	ctx := context.Background()

	profile, err := config.LoadProfile(cfg.ProfilePath)
	if err != nil {
		slog.Error("profile load failed", "path", cfg.ProfilePath, "error", err)
		return 1
	}
	slog.Info("profile loaded",
		"owner", profile.Owner,
		"proposal_duration", profile.Duration().String(),
		"min_deposit", profile.MinDeposit,
		"tags", profile.Tags,
	)

	keys, treasuryKey, err := loadKeyMaterial(cfg.MasterSeed)
	if err != nil {
		slog.Error("key material failed", "error", err)
		return 1
	}

	// Audit fan-out: JSON lines for operators, in-memory trail for the
	// evidence exporter.
	trail := audit.NewTrail()
	auditor := audit.Multi(audit.NewLogger(), trail)

	exporter := audit.NewExporter(trail)
	if cfg.ArchiveBucket != "" {
		arch, archErr := audit.NewS3Archive(ctx, audit.S3ArchiveConfig{
			Bucket: cfg.ArchiveBucket,
			Region: cfg.ArchiveRegion,
		})
		if archErr != nil {
			slog.Error("evidence archive init failed", "bucket", cfg.ArchiveBucket, "error", archErr)
			return 1
		}
		exporter = exporter.WithArchive(arch)
		slog.Info("evidence archive enabled", "bucket", cfg.ArchiveBucket)
	}

	var (
		db       *sql.DB
		sink     funds.ReceiptSink
		recorder store.ProposalStore
		idem     api.IdempotencyStore = api.NewMemoryIdempotencyStore(24 * time.Hour)
	)
	if cfg.DatabaseURL == "" {
		fmt.Fprintf(os.Stdout, "DATABASE_URL not set. Falling back to %sLite Mode%s (SQLite).\n", ColorBold+ColorCyan, ColorReset)
		db, err = openSQLite(cfg.LedgerDB)
		if err != nil {
			slog.Error("sqlite open failed", "path", cfg.LedgerDB, "error", err)
			return 1
		}
		sqliteSink, sinkErr := funds.NewSQLiteReceiptSink(db)
		if sinkErr != nil {
			slog.Error("receipt sink init failed", "error", sinkErr)
			return 1
		}
		sink = sqliteSink
		sqliteRec, recErr := store.NewSQLiteProposalStore(db)
		if recErr != nil {
			slog.Error("proposal store init failed", "error", recErr)
			return 1
		}
		recorder = sqliteRec
		slog.Info("lite mode", "db", cfg.LedgerDB)
	} else {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("postgres open failed", "error", err)
			return 1
		}
		if err := db.PingContext(ctx); err != nil {
			slog.Error("postgres ping failed", "error", err)
			return 1
		}
		pgSink := funds.NewPostgresReceiptSink(db)
		if err := pgSink.Migrate(ctx); err != nil {
			slog.Error("receipt sink migrate failed", "error", err)
			return 1
		}
		sink = pgSink
		pgRec := store.NewPostgresProposalStore(db)
		if err := pgRec.Migrate(ctx); err != nil {
			slog.Error("proposal store migrate failed", "error", err)
			return 1
		}
		recorder = pgRec
		pgIdem := api.NewPostgresIdempotencyStore(db, 24*time.Hour)
		if err := pgIdem.Migrate(ctx); err != nil {
			slog.Error("idempotency store migrate failed", "error", err)
			return 1
		}
		idem = pgIdem
		go func() {
			t := time.NewTicker(time.Hour)
			defer t.Stop()
			for range t.C {
				pgIdem.Cleanup()
			}
		}()
		slog.Info("postgres connected")
	}
	defer func() { _ = db.Close() }()

	ledger := funds.NewLedger().WithSigner(treasuryKey).WithSink(sink)

	owners, err := ownership.NewRegistry(auth.AccountID(profile.Owner))
	if err != nil {
		slog.Error("ownership registry failed", "error", err)
		return 1
	}
	owners = owners.WithAuditor(auditor)

	issuer, err := badge.NewIssuer(badge.Config{
		RatePerDay:         funds.Amount(profile.Badge.RatePerDay),
		MinCreationDeposit: funds.Amount(profile.Badge.MinCreationDeposit),
		MaxActive:          profile.Badge.MaxActive(),
	})
	if err != nil {
		slog.Error("badge issuer failed", "error", err)
		return 1
	}
	issuer = issuer.WithAuditor(auditor)

	vetters := []sponsorship.Vetter{issuer}
	if len(profile.Screen.Rules) > 0 {
		screen, screenErr := policy.NewScreen(profile.Screen.Rules...)
		if screenErr != nil {
			slog.Error("screen rules failed", "error", screenErr)
			return 1
		}
		vetters = append([]sponsorship.Vetter{screen}, vetters...)
		slog.Info("submission screen active", "rules", len(profile.Screen.Rules))
	}

	// The badge tags ride along so the issuer pipeline always works,
	// whatever the profile lists.
	tags := slices.Clone(profile.Tags)
	for _, t := range []string{badge.TagCreate, badge.TagExtend} {
		if !slices.Contains(tags, t) {
			tags = append(tags, t)
		}
	}

	book, err := sponsorship.NewStore(sponsorship.Config{
		ProposalDuration: profile.Duration(),
		MinDeposit:       funds.Amount(profile.MinDeposit),
		Tags:             tags,
	}, ledger, owners)
	if err != nil {
		slog.Error("proposal book failed", "error", err)
		return 1
	}
	book = book.
		WithVetter(sponsorship.Vetters(vetters...)).
		WithExecutor(issuer).
		WithRecorder(recorder).
		WithAuditor(auditor)

	obsCfg := telemetryConfig()
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		slog.Warn("telemetry init failed, continuing without exporters", "error", err)
		obsCfg.Enabled = false
		obs, _ = observability.New(ctx, obsCfg)
	}

	h := api.NewHandler(book, owners, ledger, issuer).WithExporter(exporter)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	var limiterStore api.LimiterStore = api.NewInMemoryLimiterStore()
	if cfg.RedisURL != "" {
		redisStore, redisErr := api.NewRedisLimiterStore(cfg.RedisURL)
		if redisErr != nil {
			slog.Error("redis limiter failed", "error", redisErr)
			return 1
		}
		limiterStore = redisStore
		slog.Info("redis rate limiting enabled")
	}

	// Innermost to outermost: replay protection and per-account limits
	// run behind auth so they see the principal; the IP limiter, CORS,
	// request ids, and telemetry wrap everything.
	var handler http.Handler = mux
	handler = api.IdempotencyMiddleware(idem)(handler)
	handler = api.AccountRateLimit(limiterStore, api.BackpressurePolicy{RPM: 300, Burst: 50})(handler)
	handler = auth.NewMiddleware(auth.NewVerifier(keys), api.WriteUnauthorized)(handler)
	handler = api.NewGlobalRateLimiter(50, 100).Middleware(handler)
	handler = api.CORSMiddleware(nil)(handler)
	handler = api.RequestIDMiddleware(handler)
	handler = obs.Middleware(handler)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			return 1
		}
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}
	return 0
}

func initLogger(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

// telemetryConfig enables OTLP export only when a collector endpoint is
// configured; otherwise spans and metrics stay in-process no-ops.
func telemetryConfig() *observability.Config {
	c := observability.DefaultConfig()
	c.ServiceVersion = version
	if env := os.Getenv("SPONSORD_ENV"); env != "" {
		c.Environment = env
	}
	if ep := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); ep != "" {
		c.OTLPEndpoint = ep
		c.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	} else {
		c.Enabled = false
	}
	return c
}

func openSQLite(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	return sql.Open("sqlite", path)
}
