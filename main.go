// Command backend is the main entrypoint for the song request API and workers.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the Twitch chat listener and the Spotify token refresher.
//   - Exposes the HTTP API with song request, auth, health, and metrics routes.
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

	"github.com/dushky/requesty-pie/backend/chat"
	"github.com/dushky/requesty-pie/backend/config"
	"github.com/dushky/requesty-pie/backend/db"
	"github.com/dushky/requesty-pie/backend/oauth"
	"github.com/dushky/requesty-pie/backend/server"
	"github.com/dushky/requesty-pie/backend/session"
	"github.com/dushky/requesty-pie/backend/songrequest"
	"github.com/dushky/requesty-pie/backend/spotify"
	"github.com/dushky/requesty-pie/backend/telemetry"
	"github.com/dushky/requesty-pie/backend/twitchapi"
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
		// unknown level -> keep info but note once using temporary logger
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
	shutdown, err := telemetry.InitTracing("requesty-pie", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// DB
	database, err := db.Connect(cfg.DBDsn)
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Run database migrations: versioned migrations (golang-migrate) from
	// db/migrations/ first, with the embedded SQL fallback for deployments
	// that ship without the migrations directory on disk.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting embedded SQL fallback",
			slog.Any("err", err),
			slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db (both versioned and embedded SQL failed)", slog.Any("err", err))
			os.Exit(1)
		}
		slog.Info("embedded SQL migration completed", slog.String("component", "db_migrate"))
	} else {
		slog.Info("versioned migrations completed successfully", slog.String("component", "db_migrate"))
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Spotify app credentials token, kept fresh in the background. Catalog
	// lookups authenticate with this; playback calls use the owner token.
	appTokens := &spotify.TokenSource{
		ClientID:     cfg.SpotifyClientID,
		ClientSecret: cfg.SpotifyClientSecret,
	}
	if err := cfg.ValidateSpotifyReady(); err != nil {
		slog.Warn("spotify credentials incomplete, catalog lookups will fail", slog.Any("err", err))
	} else {
		go appTokens.KeepFresh(ctx, 0)
	}
	spotifyClient := &spotify.Client{AppTokenSource: appTokens}

	oauthCfg := spotify.NewOAuthConfig(
		cfg.SpotifyClientID,
		cfg.SpotifyClientSecret,
		cfg.SpotifyRedirectURI,
		strings.Fields(cfg.SpotifyScopes),
		spotify.DefaultAuthURL,
		spotify.DefaultTokenURL,
	)

	svc := &songrequest.Service{
		Store:    &db.RequestStore{DB: database},
		Catalog:  spotifyClient,
		Queue:    spotifyClient,
		Identity: spotifyClient,
	}

	issuer := session.NewServiceTokenIssuer(cfg.JWTSecret).WithTTL(cfg.ServiceTokenTTL)
	validator := &session.Validator{
		Issuer:              issuer,
		OAuth:               oauthCfg,
		RequireServiceToken: cfg.RequireServiceToken,
	}

	// Chat listener turns !sr commands into pending requests.
	if err := cfg.ValidateChatReady(); err != nil {
		slog.Info("chat listener disabled", slog.Any("err", err))
	} else {
		helix := &twitchapi.HelixClient{
			ClientID: cfg.TwitchClientID,
			AppTokenSource: &twitchapi.TokenSource{
				ClientID:     cfg.TwitchClientID,
				ClientSecret: cfg.TwitchClientSecret,
			},
		}
		listener := &chat.Listener{
			Channel:     cfg.TwitchChannel,
			BotUsername: cfg.TwitchBotUsername,
			OAuthToken:  cfg.TwitchOAuthToken,
			BotUserID:   cfg.TwitchBotUserID,
			Submitter:   svc,
			Helix:       helix,
		}
		go func() {
			if err := listener.Run(ctx); err != nil {
				slog.Error("chat listener exited", slog.Any("err", err))
			}
		}()
	}

	// Background refresh of the broadcaster's stored Spotify token so queueing
	// keeps working between dashboard visits.
	oauth.StartRefresher(ctx, database, "spotify", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		tok, err := spotify.RefreshUserToken(rctx, oauthCfg, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return tok.AccessToken, tok.RefreshToken, tok.Expiry, cfg.SpotifyScopes, nil
	})

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			// Use an http.Server with timeouts to satisfy G114 and avoid DoS risks
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

	deps := server.Deps{
		DB:           database,
		Service:      svc,
		Validator:    validator,
		Issuer:       issuer,
		OAuth:        oauthCfg,
		DashboardURL: cfg.DashboardURL,
	}
	go func() {
		if err := server.Start(ctx, deps, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}
