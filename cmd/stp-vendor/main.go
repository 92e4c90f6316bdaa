package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/information-sharing-networks/stp-demo/internal/config"
	"github.com/information-sharing-networks/stp-demo/internal/logger"
	"github.com/information-sharing-networks/stp-demo/internal/server"
	"github.com/information-sharing-networks/stp-demo/internal/stp"
	"github.com/information-sharing-networks/stp-demo/internal/version"
	"github.com/spf13/cobra"
)

//	@title			stp-vendor
//	@description	stp-vendor is the merchant side of the Secure Transaction Protocol.
//	@description
//	@description	The vendor creates transaction requests, issues vendor-signed tokens to the customer's bank (the provider)
//	@description	and later refreshes, modifies or revokes the countersigned token.
//	@description
//	@description	## Protocol endpoints
//	@description	The `/api/stp` endpoints are called by providers. Every URL is handed out once and ends with a uuid.
//	@description	Protocol failures are answered with `200 {success:false, error_code, error_message}`;
//	@description	a malformed message gets a `400`.
//	@description
//	@description	## Admin endpoints
//	@description	The `/admin` endpoints are for the vendor's own operators. They are unprotected and for development and testing only.
//	@description	When the provider cannot be reached the admin call fails with `502` (`504` on timeout);
//	@description	a rejection by the provider is returned as a `409`.
//	@description
//	@description	## Common Error Responses
//	@description	All endpoints may return:
//	@description	- `413` Request body exceeds size limit
//	@description	- `429` Rate limit exceeded
//	@description	- `500` Internal server error
//	@description
//	@license.name	MIT

//	@servers.url			https://vendor.example.com
//	@servers.description	Production server
//	@servers.url			http://localhost:8080
//	@servers.description	Development server

//	@accept		json
//	@produce	json

//	@tag.name			Vendor
//	@tag.description	STP endpoints called by providers

//	@tag.name			Admin
//	@tag.description	Operator API

//	@tag.name			Common
//	@tag.description	Server API endpoints (jwks, health, readiness, version)

func main() {
	cmd := &cobra.Command{
		Use:   "stp-vendor",
		Short: "STP vendor server",
		Long:  `stp-vendor issues transaction tokens to customers' banks and manages them over their lifetime`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	v := version.Get()
	cmd.Version = fmt.Sprintf("%s (built %s, commit %s)", v.Version, v.BuildDate, v.GitCommit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.NewServerConfig(stp.RoleVendor)
	if err != nil {
		log.Printf("failed to load configuration: %v", err.Error())
		os.Exit(1)
	}

	appLogger := logger.InitLogger(logger.ParseLogLevel(cfg.LogLevel), cfg.Environment)

	appLogger.Info("Configuration loaded",
		slog.String("ENVIRONMENT", cfg.Environment),
		slog.String("HOST", cfg.Host),
		slog.Int("PORT", cfg.Port),
		slog.String("PUBLIC_HOST", cfg.PublicHost),
		slog.String("PEER_SCHEME", cfg.PeerScheme),
		slog.String("LOG_LEVEL", cfg.LogLevel),
		slog.String("STORE_BACKEND", cfg.StoreBackend),
		slog.String("SIGNING_KEY_PATH", cfg.SigningKeyPath),
		slog.String("REGISTRY_PATH", cfg.RegistryPath),
		slog.String("MANUAL_KEYS_DIR", cfg.ManualKeysDir),
		slog.String("VENDOR_NAME", cfg.VendorName),
	)
	appLogger.Info("Starting server", slog.String("version", version.Get().Version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx, cfg, appLogger); err != nil {
		appLogger.Error("Server error", slog.String("error", err.Error()))
		return err
	}

	appLogger.Info("server shutdown complete")
	return nil
}
