// Command backend is the main entrypoint for the guild-mirror bot and API.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the gateway subscriber feeding the mirror pipeline, the group
//     prune sweep, and the optional Twitch chat bridge.
//   - Exposes the HTTP API with transcript files, archive search, health,
//     status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/guild-mirror/backend/bot"
	"github.com/onnwee/guild-mirror/backend/chat"
	"github.com/onnwee/guild-mirror/backend/config"
	"github.com/onnwee/guild-mirror/backend/db"
	"github.com/onnwee/guild-mirror/backend/discord"
	"github.com/onnwee/guild-mirror/backend/gateway"
	"github.com/onnwee/guild-mirror/backend/grouper"
	"github.com/onnwee/guild-mirror/backend/server"
	"github.com/onnwee/guild-mirror/backend/telemetry"
	"github.com/onnwee/guild-mirror/backend/transcript"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load("backend/.env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("guild-mirror", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Transcript store
	store, err := transcript.NewStore(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open transcript store", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("transcript store ready", slog.String("dir", store.Dir()))

	// DB (optional: the mirror degrades to transcripts-only when Postgres is
	// unreachable)
	database, err := db.Connect(context.Background(), cfg.DBDsn)
	if err != nil {
		slog.Warn("postgres unavailable, archive disabled", slog.Any("err", err))
		database = nil
	}
	if database != nil {
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()

		// Versioned migrations first, embedded SQL as the fallback for
		// deployments without a schema_migrations table.
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.RunMigrations(database); err != nil {
			slog.Warn("versioned migrations failed, attempting fallback to embedded SQL",
				slog.Any("err", err),
				slog.String("component", "db_migrate"))
			if err := db.Migrate(context.Background(), database); err != nil {
				slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
				os.Exit(1)
			}
			slog.Info("embedded SQL migration completed", slog.String("component", "db_migrate"))
		} else {
			slog.Info("versioned migrations completed", slog.String("component", "db_migrate"))
		}
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Grouper + prune sweep
	groups := grouper.New(cfg.GroupWindow, cfg.GroupPruneAfter)
	go groups.StartPruneSweep(ctx, cfg.GroupPruneInterval)

	// Gateway subscriber feeding the mirror pipeline
	client := discord.NewClient(cfg.APIBaseURL, cfg.BotToken)
	mirror := bot.New(cfg, client, store, database, groups)
	if err := cfg.ValidateBotReady(); err != nil {
		slog.Warn("gateway subscriber disabled", slog.Any("err", err))
	} else {
		sub := gateway.NewSubscriber(cfg.GatewayURL, cfg.BotToken, mirror, slog.Default())
		go func() {
			if err := sub.Start(ctx); err != nil && ctx.Err() == nil {
				slog.Error("gateway subscriber exited", slog.Any("err", err))
			}
		}()
	}

	// Optional Twitch chat bridge
	go chat.StartBridge(ctx, cfg, store, database, mirror)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (API, health, status, metrics)
	go func() {
		if err := server.Start(ctx, database, store, groups, cfg.FuzzyTolerance, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
