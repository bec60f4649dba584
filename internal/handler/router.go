package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mercybot/mercybot/internal/document"
	"github.com/mercybot/mercybot/internal/middleware"
	"github.com/mercybot/mercybot/internal/model"
	"github.com/mercybot/mercybot/pkg/logger"
)

type tokenVerifier interface {
	Verify(token string) (string, error)
}

type userGetter interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
}

// RouterConfig wires handlers and middleware into a router.
type RouterConfig struct {
	Logger *logger.Logger
	Tokens tokenVerifier
	Users  userGetter

	Auth   *AuthHandler
	Chat   *ChatHandler
	Upload *UploadHandler
	Health *HealthHandler

	CookieName        string
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// MaxChatBodyBytes caps POST /chat bodies. Zero sizes it from the
	// default upload ceiling.
	MaxChatBodyBytes int64
}

// ChatBodyLimit returns a /chat body cap that fits the extracted text of
// any upload accepted under maxUploadBytes. Extracted text can outgrow its
// compressed PDF, and JSON escaping adds more.
func ChatBodyLimit(maxUploadBytes int64) int64 {
	if maxUploadBytes <= 0 {
		maxUploadBytes = document.DefaultMaxBytes
	}
	return 2*maxUploadBytes + 1<<20
}

// NewRouter builds the HTTP surface.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.CORSOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	gate := middleware.Auth(cfg.Tokens, cfg.Users, cfg.CookieName, cfg.Logger)

	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
			r.Use(middleware.LimitJSONBody)
			r.Post("/register", cfg.Auth.Register)
			r.Post("/login", cfg.Auth.Login)
			r.Post("/token-login", cfg.Auth.TokenLogin)
			r.Post("/logout", cfg.Auth.Logout)
		})
		r.With(gate).Get("/check", cfg.Auth.Check)
	})

	chatBodyLimit := cfg.MaxChatBodyBytes
	if chatBodyLimit <= 0 {
		chatBodyLimit = ChatBodyLimit(document.DefaultMaxBytes)
	}

	r.Route("/chat", func(r chi.Router) {
		r.Use(gate)
		r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Use(middleware.LimitBody(chatBodyLimit))

		r.Get("/", cfg.Chat.List)
		r.Post("/", cfg.Chat.Post)
		r.Get("/{chatId}", cfg.Chat.Get)
	})

	r.Route("/upload-pdf", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Get("/", cfg.Upload.Status)
		r.Post("/", cfg.Upload.Upload)
	})

	return r
}
