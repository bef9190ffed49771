// Package portal is the browser-facing HTTP façade. Every browser gets its own
// Session Store keyed by a signed cookie; the bank credential stays server-side
// in the configured credential storage.
package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/bankportal/internal/customers"
	"github.com/MarkoPoloResearchLab/bankportal/internal/store"
	"github.com/MarkoPoloResearchLab/bankportal/pkg/bankapi"
	"github.com/MarkoPoloResearchLab/bankportal/pkg/session"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/text/language"
)

const (
	contextKeyBrowserSession = "browser_session"
	shutdownTimeout          = 5 * time.Second
)

var releaseMode sync.Once

// Server wires the router to the session registry and customer source.
type Server struct {
	cfg        Config
	logger     *zap.Logger
	cookies    cookieCodec
	sessions   *registry
	customers  customers.Source
	language   language.Tag
	httpClient bankapi.HTTPDoer
	clock      func() time.Time
	router     *gin.Engine
}

// Option customizes a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *zap.Logger) Option {
	return func(server *Server) {
		if logger != nil {
			server.logger = logger
		}
	}
}

// WithHTTPClient replaces the transport used to reach the remote API.
func WithHTTPClient(httpClient bankapi.HTTPDoer) Option {
	return func(server *Server) {
		if httpClient != nil {
			server.httpClient = httpClient
		}
	}
}

// WithClock overrides the time source for cookies and idle eviction.
func WithClock(clock func() time.Time) Option {
	return func(server *Server) {
		if clock != nil {
			server.clock = clock
		}
	}
}

// NewServer validates cfg and builds the router.
func NewServer(cfg Config, storage session.CredentialStorage, source customers.Source, options ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if storage == nil {
		return nil, fmt.Errorf("credential storage is required")
	}
	if source == nil {
		return nil, fmt.Errorf("customer source is required")
	}
	server := &Server{
		cfg:        cfg,
		logger:     zap.NewNop(),
		customers:  source,
		language:   cfg.languageTag(),
		httpClient: &http.Client{},
		clock:      func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(server)
	}
	server.cookies = cookieCodec{
		signingKey: []byte(cfg.SessionSigningKey),
		issuer:     cfg.SessionIssuer,
		ttl:        cfg.SessionTTL,
		clock:      server.clock,
	}
	server.sessions = newRegistry(storage, cfg.APIBaseURL, server.httpClient, server.logger, server.clock)
	server.router = server.setupRouter()
	return server, nil
}

// Handler exposes the router.
func (server *Server) Handler() http.Handler {
	return server.router
}

func (server *Server) setupRouter() *gin.Engine {
	releaseMode.Do(func() { gin.SetMode(gin.ReleaseMode) })
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     server.cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	authenticated := api.Group("")
	authenticated.Use(server.sessionMiddleware)
	authenticated.GET("/session", server.handleSession)
	authenticated.POST("/auth/login", server.handleLogin)
	authenticated.POST("/auth/register", server.handleRegister)
	authenticated.POST("/auth/logout", server.handleLogout)
	authenticated.GET("/dashboard", server.handleDashboard)
	authenticated.PUT("/profile", server.handleUpdateProfile)

	api.GET("/customers", server.handleListCustomers)
	api.POST("/customers", server.handleCreateCustomer)
	api.GET("/customers/:id", server.handleGetCustomer)
	api.PUT("/customers/:id", server.handleUpdateCustomer)
	api.DELETE("/customers/:id", server.handleDeleteCustomer)

	return router
}

// Run boots the portal using the supplied configuration.
func Run(ctx context.Context, cfg Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("zap init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.Validate(); err != nil {
		return err
	}
	backend, driver, err := store.Open(ctx, cfg.CredentialStoreURL, store.Options{RedisTTL: cfg.CredentialTTL})
	if err != nil {
		return fmt.Errorf("credential store: %w", err)
	}
	defer func() { _ = backend.Close() }()
	logger.Info("credential store ready", zap.String("driver", driver))

	server, err := NewServer(cfg, backend, customers.NewFixture(customers.DemoCustomers()), WithLogger(logger))
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	maintenanceCtx, stopMaintenance := context.WithCancel(ctx)
	defer stopMaintenance()
	go server.maintain(maintenanceCtx, backend)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("portal listening", zap.String("addr", cfg.ListenAddr), zap.String("api_base_url", cfg.APIBaseURL))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type expiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// maintain periodically drops idle browser sessions and, for SQL storage,
// credentials whose JWT expiry has passed.
func (server *Server) maintain(ctx context.Context, backend session.CredentialStorage) {
	interval := server.cfg.SessionTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	purger, canPurge := backend.(expiredPurger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := server.sessions.evictIdle(server.cfg.SessionTTL); evicted > 0 {
				server.logger.Info("evicted idle sessions", zap.Int("count", evicted))
			}
			if !canPurge {
				continue
			}
			purged, err := purger.PurgeExpired(ctx)
			if err != nil {
				server.logger.Warn("purge expired credentials", zap.Error(err))
				continue
			}
			if purged > 0 {
				server.logger.Info("purged expired credentials", zap.Int64("count", purged))
			}
		}
	}
}
