package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/information-sharing-networks/stp-demo/internal/config"
	"github.com/information-sharing-networks/stp-demo/internal/crypto"
	"github.com/information-sharing-networks/stp-demo/internal/logger"
	"github.com/information-sharing-networks/stp-demo/internal/server/handlers"
	"github.com/information-sharing-networks/stp-demo/internal/server/middleware"
	"github.com/information-sharing-networks/stp-demo/internal/store"
	"github.com/information-sharing-networks/stp-demo/internal/stp"
	"github.com/information-sharing-networks/stp-demo/internal/stp/stphandlers"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Dependencies are the runtime pieces shared by the routes.
//
// Open builds them from the configuration; tests construct them directly.
type Dependencies struct {
	Signer     *crypto.KeySigner
	Repository store.Repository

	// Pool is set when the repository is postgres; it backs the readiness check
	Pool *pgxpool.Pool

	// KeyManager resolves bank keys; required for the vendor
	KeyManager *stp.KeyManager

	// Client defaults to one built from PEER_SCHEME and PEER_TIMEOUT
	Client *stp.Client
}

type Server struct {
	config *config.ServerEnvironment
	logger *slog.Logger
	router *chi.Mux
	deps   Dependencies

	// exactly one of vendor and provider is set
	vendor   *stp.Vendor
	provider *stp.Provider
}

// NewServer creates the party runtime for cfg.Role and registers its routes
func NewServer(cfg *config.ServerEnvironment, appLogger *slog.Logger, deps Dependencies) (*Server, error) {
	if deps.Signer == nil || deps.Repository == nil {
		return nil, fmt.Errorf("a signer and a repository are required")
	}
	if deps.Client == nil {
		deps.Client = stp.NewClient(cfg.PeerScheme, cfg.PeerTimeout)
	}

	s := &Server{
		config: cfg,
		logger: appLogger,
		router: chi.NewRouter(),
		deps:   deps,
	}

	opts := stp.Options{
		PublicHost: cfg.PublicHost,
		Signer:     deps.Signer,
		Repository: deps.Repository,
		Client:     deps.Client,
		LockWait:   cfg.LockWait,
		Logger:     appLogger,
	}

	var err error
	switch cfg.Role {
	case stp.RoleVendor:
		if deps.KeyManager == nil {
			return nil, fmt.Errorf("the vendor requires a key manager")
		}
		s.vendor, err = stp.NewVendor(opts, deps.KeyManager, stp.VendorInfo{
			Name:    cfg.VendorName,
			LogoURL: cfg.VendorLogoURL,
			Address: cfg.VendorAddress,
		})
	case stp.RoleProvider:
		s.provider, err = stp.NewProvider(opts, cfg.BankBIC, cfg.BankName, cfg.AutoAcceptModifications)
	default:
		err = fmt.Errorf("unknown role %q", cfg.Role)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create the %s runtime: %w", cfg.Role, err)
	}

	s.setupMiddleware()
	if err := s.registerRoutes(); err != nil {
		return nil, err
	}

	return s, nil
}

// Router is the configured handler, used by tests to serve the routes on httptest servers
func (s *Server) Router() http.Handler {
	return s.router
}

// Vendor returns the vendor runtime, nil for a provider
func (s *Server) Vendor() *stp.Vendor { return s.vendor }

// Provider returns the provider runtime, nil for a vendor
func (s *Server) Provider() *stp.Provider { return s.provider }

func (s *Server) setupMiddleware() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(logger.RequestLogging(s.logger))
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.SecurityHeaders(s.config.Environment))
	s.router.Use(middleware.RateLimit(s.config.RateLimitRPS, s.config.RateLimitBurst))
	s.router.Use(middleware.RequestSizeLimit(s.config.MaxRequestSize))
	s.router.Use(chimiddleware.Timeout(s.config.RequestTimeout))
}

func (s *Server) registerRoutes() error {
	jwkSet, err := s.deps.Signer.JWKSet()
	if err != nil {
		return fmt.Errorf("failed to build the JWK set: %w", err)
	}

	var ready handlers.ReadinessCheck
	if s.deps.Pool != nil {
		ready = s.deps.Pool.Ping
	}

	s.router.Get("/health/live", handlers.HandleHealth)
	s.router.Get("/health/ready", handlers.HandleReadiness(ready))
	s.router.Get("/version", handlers.HandleVersion("stp-"+string(s.config.Role)))
	s.router.Get("/.well-known/jwks.json", handlers.HandleJWKS(jwkSet))

	switch s.config.Role {
	case stp.RoleVendor:
		s.registerVendorRoutes()
	case stp.RoleProvider:
		s.registerProviderRoutes()
	}
	return nil
}

func (s *Server) registerVendorRoutes() {
	protocol := stphandlers.NewVendorHandler(s.vendor, s.config.PINWaitTimeout)
	tokens := stphandlers.NewTokenAdminHandler(s.vendor)
	admin := stphandlers.NewVendorAdminHandler(s.vendor)

	s.router.Route("/api/stp", func(r chi.Router) {
		r.Get("/request/{uuid}/pin", protocol.HandlePIN)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireJSON)
			r.Post("/request/{uuid}", protocol.HandleHello)
			r.Post("/response/{uuid}", protocol.HandleConfirm)
			r.Post("/revision/{uuid}", protocol.HandleRevision)
		})
	})

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireJSON)
		r.Post("/requests", admin.HandleCreateRequest)
		s.registerTokenRoutes(r, tokens)
		r.Post("/tokens/{id}/refresh", admin.HandleRefresh)
		r.Post("/tokens/{id}/modify", admin.HandleModify)
	})
}

func (s *Server) registerProviderRoutes() {
	protocol := stphandlers.NewProviderHandler(s.provider)
	tokens := stphandlers.NewTokenAdminHandler(s.provider)
	admin := stphandlers.NewProviderAdminHandler(s.provider)

	s.router.Route("/api/stp", func(r chi.Router) {
		r.Use(middleware.RequireJSON)
		r.Post("/remediation/{uuid}", protocol.HandleRemediation)
	})

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.RequireJSON)
		r.Post("/negotiations", admin.HandleStartNegotiation)
		r.Get("/negotiations", admin.HandleListNegotiations)
		r.Post("/negotiations/{id}/decision", admin.HandleDecision)
		s.registerTokenRoutes(r, tokens)
		r.Get("/modifications", admin.HandleListModifications)
		r.Post("/modifications/{id}", admin.HandleResolveModification)
		r.Put("/settings/auto-accept", admin.HandleSetAutoAccept)
	})
}

func (s *Server) registerTokenRoutes(r chi.Router, tokens *stphandlers.TokenAdminHandler) {
	r.Get("/tokens", tokens.HandleListTokens)
	r.Get("/tokens/{id}", tokens.HandleGetToken)
	r.Post("/tokens/{id}/revoke", tokens.HandleRevoke)
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	serverAddr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	serverErrors := make(chan error, 1)

	go s.expireStale(ctx)

	go func() {
		s.logger.Info("service listening",
			slog.String("role", string(s.config.Role)),
			slog.String("environment", s.config.Environment),
			slog.String("address", serverAddr),
			slog.String("public_host", s.config.PublicHost))

		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.config.ServerShutdownTimeout)
	defer shutdownCancel()

	s.logger.Info("shutting down HTTP server")

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("HTTP server shutdown error", slog.String("error", err.Error()))
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}

	s.logger.Info("HTTP server shutdown complete")
	return nil
}

// expireStale periodically drops negotiation state older than NEGOTIATION_TTL until ctx ends
func (s *Server) expireStale(ctx context.Context) {
	ttl := s.config.NegotiationTTL
	if ttl <= 0 {
		return
	}
	ticker := time.NewTicker(ttl / 4)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx := logger.ContextWithLogger(ctx, s.logger)
			if s.vendor != nil {
				s.vendor.ExpireStale(sweepCtx, ttl)
			}
			if s.provider != nil {
				s.provider.ExpireStale(sweepCtx, ttl)
			}
		}
	}
}

// StoreShutdown closes the token store (and the postgres pool, if any)
func (s *Server) StoreShutdown() {
	if err := s.deps.Repository.Close(); err != nil {
		s.logger.Warn("token store close error", slog.String("error", err.Error()))
		return
	}
	s.logger.Info("token store closed", slog.String("backend", s.config.StoreBackend))
}
