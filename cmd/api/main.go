// Package main is the entry point for the chat server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mercybot/mercybot/internal/auth"
	"github.com/mercybot/mercybot/internal/config"
	"github.com/mercybot/mercybot/internal/document"
	"github.com/mercybot/mercybot/internal/handler"
	"github.com/mercybot/mercybot/internal/llm"
	"github.com/mercybot/mercybot/internal/memstore"
	mongostore "github.com/mercybot/mercybot/internal/mongo"
	natsclient "github.com/mercybot/mercybot/internal/nats"
	"github.com/mercybot/mercybot/internal/postgres"
	"github.com/mercybot/mercybot/internal/service"
	"github.com/mercybot/mercybot/pkg/logger"
	"github.com/mercybot/mercybot/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var (
		log *logger.Logger
		err error
	)
	if cfg.IsDevelopment() {
		log, err = logger.NewDevelopment()
	} else {
		log, err = logger.New(cfg.LogLevel)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	log.Info("starting chat server",
		zap.String("env", cfg.Env),
		zap.String("store", cfg.StoreBackend),
		zap.String("llm_provider", cfg.LLMProvider),
	)

	ctx := context.Background()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "mercybot", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to open stores", zap.Error(err))
	}
	defer st.close()

	// Optional event stream
	var opts []service.ManagerOption
	if cfg.NATSURL != "" {
		natsClient, err := natsclient.Connect(ctx, natsclient.Config{
			URL:            cfg.NATSURL,
			ConnectTimeout: cfg.NATSConnectTimeout,
			PublishTimeout: cfg.NATSPublishTimeout,
			MaxReconnects:  cfg.NATSMaxReconnects,
			CAFile:         cfg.NATSCAFile,
			CertFile:       cfg.NATSCertFile,
			KeyFile:        cfg.NATSKeyFile,
			Token:          cfg.NATSToken,
		}, log)
		if err != nil {
			log.Fatal("failed to connect to NATS", zap.Error(err))
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Fatal("failed to ensure stream", zap.Error(err))
		}
		opts = append(opts, service.WithPublisher(streamManager))
		st.checks = append(st.checks, handler.Check{Name: "nats", Ping: natsClient.Ping})
	}

	// Completion client; without a key every reply is the fallback text.
	var llmClient llm.Client
	if apiKey := cfg.APIKey(); apiKey == "" {
		log.Warn("no API key for completion provider, replies will use the fallback text",
			zap.String("provider", cfg.LLMProvider))
	} else {
		c, err := llm.NewClient(ctx, llm.Provider(cfg.LLMProvider), apiKey, cfg.LLMModel)
		if err != nil {
			log.Warn("failed to create completion client, replies will use the fallback text", zap.Error(err))
		} else {
			llmClient = c
		}
	}
	opts = append(opts, service.WithCompletionTimeout(cfg.CompletionTimeout))

	// Initialize services
	tokens := auth.NewTokenService(cfg.JWTSecret, cfg.JWTExpiration)
	authSvc := service.NewAuthService(st.users, tokens, cfg.BcryptCost, log)
	manager := service.NewConversationManager(st.conversations, llmClient, log, opts...)
	bridge := document.NewBridge(document.PDFText{}, cfg.MaxUploadBytes)

	// Create router
	router := handler.NewRouter(handler.RouterConfig{
		Logger: log,
		Tokens: tokens,
		Users:  st.users,
		Auth: handler.NewAuthHandler(authSvc, handler.CookieConfig{
			Name:   cfg.CookieName,
			Secure: cfg.CookieSecure,
			TTL:    tokens.TTL(),
		}, log),
		Chat:              handler.NewChatHandler(manager, log),
		Upload:            handler.NewUploadHandler(bridge, log),
		Health:            handler.NewHealthHandler(st.checks...),
		CookieName:        cfg.CookieName,
		CORSOrigins:       cfg.CORSAllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
		MaxChatBodyBytes:  handler.ChatBodyLimit(cfg.MaxUploadBytes),
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

type stores struct {
	users         service.UserRepo
	conversations service.ConversationRepo
	checks        []handler.Check
	closers       []func()
}

func (s *stores) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// openStores wires the configured backend. Users live in PostgreSQL
// whenever a DSN is set, otherwise in memory.
func openStores(ctx context.Context, cfg *config.Config, log *logger.Logger) (*stores, error) {
	st := &stores{}

	if cfg.DatabaseDSN != "" {
		pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
			DSN:      cfg.DatabaseDSN,
			MaxConns: cfg.DatabaseMaxConns,
			MinConns: cfg.DatabaseMinConns,
		})
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, pool.Close)

		if err := postgres.Migrate(ctx, pool); err != nil {
			st.close()
			return nil, err
		}

		users := postgres.NewUserRepo(pool)
		st.users = users
		st.checks = append(st.checks, handler.Check{Name: "postgres", Ping: users.Ping})
		if cfg.StoreBackend == config.StorePostgres {
			st.conversations = postgres.NewConversationRepo(pool)
		}
	} else {
		log.Warn("no DATABASE_DSN, users are kept in memory")
		st.users = memstore.NewUserStore()
	}

	switch cfg.StoreBackend {
	case config.StoreMongo:
		conversations, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			st.close()
			return nil, err
		}
		st.closers = append(st.closers, func() {
			if err := conversations.Close(context.Background()); err != nil {
				log.Warn("mongo disconnect", zap.Error(err))
			}
		})
		st.conversations = conversations
		st.checks = append(st.checks, handler.Check{Name: "mongo", Ping: conversations.Ping})
	case config.StoreMemory:
		st.conversations = memstore.NewConversationStore()
	}

	return st, nil
}
