package router

import (
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	eMiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/anonto42/chyrp-lite/backend/internal/handlers"
	"github.com/anonto42/chyrp-lite/backend/internal/middleware"
	"github.com/anonto42/chyrp-lite/backend/internal/services"
)

// Dependencies are the services the routes are wired to.
type Dependencies struct {
	Auth       *services.AuthService
	Profiles   *services.ProfileService
	Posts      *services.PostService
	Comments   *services.CommentService
	Engagement *services.EngagementService
	Follows    *services.FollowService
	Feed       *services.FeedSynchronizer

	Authenticator  middleware.Authenticator
	Upgrader       *websocket.Upgrader
	MaxUploadBytes int64
	MaxUploadFiles int
	// AuthRateLimit is requests per second per client IP on /api/v1/auth.
	// Zero disables the limiter.
	AuthRateLimit float64
}

// SetupRoutes configures all application routes and injects dependencies
func SetupRoutes(e *echo.Echo, d Dependencies) {
	// Health check - always accessible
	e.GET("/health", handlers.HealthCheck)

	requireAuth := middleware.SessionAuth(d.Authenticator)

	// --- Authentication routes ---
	authGroup := e.Group("/api/v1/auth")
	if d.AuthRateLimit > 0 {
		authGroup.Use(eMiddleware.RateLimiter(eMiddleware.NewRateLimiterMemoryStore(rate.Limit(d.AuthRateLimit))))
	}
	handlers.NewAuthHandler(d.Auth).RegisterAuthRoutes(authGroup, requireAuth)
	log.Info().Msg("Auth routes configured.")

	// Reads accept anonymous callers; writes require a session.
	public := e.Group("/api/v1", middleware.OptionalSessionAuth(d.Authenticator))
	protected := e.Group("/api/v1", requireAuth)

	handlers.NewProfileHandler(d.Profiles, d.Upgrader, d.MaxUploadBytes).RegisterProfileRoutes(public, protected)
	log.Info().Msg("Profile routes configured.")

	postHandler := handlers.NewPostHandler(d.Posts, d.Profiles, d.MaxUploadBytes, d.MaxUploadFiles)
	postHandler.RegisterPostRoutes(public, protected)
	postHandler.RegisterFeatherRoutes(public, protected)
	log.Info().Msg("Post routes configured.")

	handlers.NewFeedHandler(d.Feed, d.Upgrader).RegisterFeedRoutes(public)
	log.Info().Msg("Feed routes configured.")

	handlers.NewCommentHandler(d.Comments, d.Profiles, d.Upgrader).RegisterCommentRoutes(public, protected)
	log.Info().Msg("Comment routes configured.")

	handlers.NewLikeHandler(d.Engagement).RegisterLikeRoutes(protected)
	handlers.NewFollowHandler(d.Follows).RegisterFollowRoutes(protected)
	log.Info().Msg("Like and follow routes configured.")

	log.Info().Msg("All routes configured.")
}
