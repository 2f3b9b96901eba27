package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/anonto42/chyrp-lite/backend/internal/identity"
	"github.com/anonto42/chyrp-lite/backend/internal/jobs"
	"github.com/anonto42/chyrp-lite/backend/internal/models"
	"github.com/anonto42/chyrp-lite/backend/internal/realtime"
	"github.com/anonto42/chyrp-lite/backend/internal/repositories"
	"github.com/anonto42/chyrp-lite/backend/internal/router"
	"github.com/anonto42/chyrp-lite/backend/internal/services"
	"github.com/anonto42/chyrp-lite/backend/internal/session"
	"github.com/anonto42/chyrp-lite/backend/internal/storage"
	"github.com/anonto42/chyrp-lite/backend/pkg/config"
	"github.com/anonto42/chyrp-lite/backend/pkg/firebase"
	"github.com/anonto42/chyrp-lite/backend/pkg/logging"
	"github.com/anonto42/chyrp-lite/backend/validators"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database connections
	db, err := config.InitDB(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize databases")
	}
	defer db.CloseDB()

	if err := db.SQL.AutoMigrate(&models.LocalUser{}, &models.Inconsistency{}); err != nil {
		log.Fatal().Err(err).Msg("Failed to auto migrate models")
	}
	log.Info().Msg("Relational auto-migrations completed")

	// Initialize Firebase
	var fbApp *firebase.App
	if cfg.NeedsFirebase() {
		fbApp, err = firebase.InitFirebase(ctx, cfg.Firebase)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Firebase")
		}
		defer fbApp.Close()
	}

	store := openStore(cfg, db, fbApp)
	blobs := openBlobStore(cfg, fbApp)
	idp, verifier := openIdentity(ctx, cfg, db, fbApp)

	denylist, closeDenylist := openDenylist(ctx, cfg)
	defer closeDenylist()
	issuer := session.NewIssuer(cfg.Session.JWTSecret, cfg.Session.TTL)
	authenticator := session.NewAuthenticator(issuer, verifier, denylist)

	// --- Services ---
	retry := services.NewRetryPolicy(cfg.Retry)
	compensate := cfg.Consistency.Compensate
	ledger := services.NewLedger(repositories.NewPostgresInconsistencyRepository(db.SQL))
	feed := services.NewFeedSynchronizer(store.Posts, retry)
	profileService := services.NewProfileService(store.Profiles, idp, blobs, retry)
	commentService := services.NewCommentService(store.Posts, store.Comments, ledger, retry)
	followService := services.NewFollowService(store.Profiles, ledger, retry, compensate)

	feedCtx, stopFeed := context.WithCancel(context.Background())
	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		if err := feed.Run(feedCtx); err != nil {
			log.Error().Err(err).Msg("Feed synchronizer exited")
		}
	}()

	scheduler, err := jobs.NewScheduler(cfg.Jobs.ReconcileSchedule,
		services.NewReconciler(ledger, followService, commentService, profileService, idp, blobs))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to schedule reconcile job")
	}
	scheduler.Start()

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.Validator = validators.NewValidator()
	config.SetupMiddleware(e, cfg)
	router.SetupRoutes(e, router.Dependencies{
		Auth:           services.NewAuthService(idp, store.Profiles, issuer, denylist, ledger, retry, compensate),
		Profiles:       profileService,
		Posts:          services.NewPostService(store.Posts, blobs, ledger, retry, compensate),
		Comments:       commentService,
		Engagement:     services.NewEngagementService(store.Posts, feed, retry),
		Follows:        followService,
		Feed:           feed,
		Authenticator:  authenticator,
		Upgrader:       realtime.NewUpgrader(cfg.Server.AllowedOrigins),
		MaxUploadBytes: cfg.Uploads.MaxBytes,
		MaxUploadFiles: cfg.Uploads.MaxFiles,
		AuthRateLimit:  cfg.Server.AuthRateLimit,
	})

	// Websocket streams outlive Shutdown, which does not track hijacked
	// connections; they end when liveCtx is cancelled.
	liveCtx, stopLive := context.WithCancel(context.Background())
	e.Server.BaseContext = func(net.Listener) context.Context { return liveCtx }
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.ReadTimeout = 2 * time.Minute
	e.Server.WriteTimeout = 2 * time.Minute
	e.Server.IdleTimeout = 2 * time.Minute

	metricsServer := &http.Server{
		Addr:              ":" + cfg.Server.MetricsPort,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("port", cfg.Server.MetricsPort).Msg("Metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()

	// Start server
	go func() {
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	stopLive()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Metrics server shutdown failed")
	}
	scheduler.Stop()
	stopFeed()
	<-feedDone
	log.Info().Msg("Shutdown complete")
}

func metricsMux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// openStore selects the document store backend.
func openStore(cfg *config.Config, db *config.DB, fbApp *firebase.App) *repositories.Store {
	switch cfg.Store.Backend {
	case "firestore":
		log.Info().Msg("Using Firestore document store")
		return repositories.NewFirestoreStore(fbApp.Firestore)
	case "mongo":
		log.Info().Str("database", cfg.Store.MongoDatabase).Msg("Using MongoDB document store")
		return repositories.NewMongoStore(db.Mongo.Database(cfg.Store.MongoDatabase))
	}
	log.Warn().Msg("Using in-memory document store; data is lost on restart")
	store, _ := repositories.NewMemoryBackedStore()
	return store
}

// openBlobStore returns Cloud Storage behind a circuit breaker, or an
// in-memory store when no bucket is configured.
func openBlobStore(cfg *config.Config, fbApp *firebase.App) storage.BlobStore {
	var blobs storage.BlobStore
	if fbApp != nil && fbApp.Bucket != nil {
		blobs = storage.NewFirebaseStore(fbApp.Bucket, fbApp.BucketName, cfg.Uploads.ChunkSize)
	} else {
		log.Warn().Msg("No storage bucket configured; uploads are kept in memory")
		blobs = storage.NewMemoryStore()
	}
	return storage.NewBreakerStore(blobs, cfg.Uploads.BreakerFailures, cfg.Uploads.BreakerTimeout)
}

// openIdentity selects the identity provider. The verifier is nil for the
// local provider, which only accepts session tokens.
func openIdentity(ctx context.Context, cfg *config.Config, db *config.DB, fbApp *firebase.App) (identity.Provider, identity.TokenVerifier) {
	if cfg.Identity.Provider == "local" {
		log.Info().Msg("Using local identity provider")
		return identity.NewLocalProvider(repositories.NewPostgresUserRepository(db.SQL), identity.LogResetMailer), nil
	}

	var passwords identity.PasswordAPI
	if cfg.Firebase.APIKey != "" {
		toolkit, err := identity.NewToolkitPasswords(ctx, cfg.Firebase.APIKey)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create Identity Toolkit client")
		}
		passwords = toolkit
	}
	provider := identity.NewFirebaseProvider(fbApp.AuthClient, passwords)
	log.Info().Msg("Using Firebase identity provider")
	return provider, provider
}

// openDenylist tracks revoked tokens in Redis when configured and in process
// otherwise.
func openDenylist(ctx context.Context, cfg *config.Config) (session.Denylist, func()) {
	if cfg.Session.RedisURL != "" {
		client, err := session.NewRedisClient(ctx, cfg.Session.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		log.Info().Msg("Using Redis session denylist")
		return session.NewRedisDenylist(client), func() { _ = client.Close() }
	}
	denylist := session.NewMemoryDenylist()
	return denylist, denylist.Close
}
