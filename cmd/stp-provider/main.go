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

//	@title			stp-provider
//	@description	stp-provider is the bank side of the Secure Transaction Protocol.
//	@description
//	@description	On behalf of its customer the provider answers a vendor's transaction request,
//	@description	countersigns the offered token once the customer accepts it with the verification PIN,
//	@description	and takes part in later refreshes, modifications and revocations.
//	@description
//	@description	## Protocol endpoints
//	@description	`/api/stp/remediation/{uuid}` is called by vendors. Protocol failures are answered with
//	@description	`200 {success:false, error_code, error_message}`; a malformed message gets a `400`.
//	@description
//	@description	## Admin endpoints
//	@description	The `/admin` endpoints stand in for the bank's customer-facing application.
//	@description	They are unprotected and for development and testing only.
//	@description	When the vendor cannot be reached the admin call fails with `502` (`504` on timeout);
//	@description	a rejection is returned as a `409`.
//	@description
//	@description	## Common Error Responses
//	@description	All endpoints may return:
//	@description	- `413` Request body exceeds size limit
//	@description	- `429` Rate limit exceeded
//	@description	- `500` Internal server error
//	@description
//	@license.name	MIT

//	@servers.url			https://bank.example.com
//	@servers.description	Production server
//	@servers.url			http://localhost:8081
//	@servers.description	Development server

//	@accept		json
//	@produce	json

//	@tag.name			Provider
//	@tag.description	STP endpoints called by vendors

//	@tag.name			Admin
//	@tag.description	Customer and operator API

//	@tag.name			Common
//	@tag.description	Server API endpoints (jwks, health, readiness, version)

func main() {
	cmd := &cobra.Command{
		Use:   "stp-provider",
		Short: "STP provider (bank) server",
		Long:  `stp-provider countersigns transaction tokens for the bank's customers and manages them over their lifetime`,
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
	cfg, err := config.NewServerConfig(stp.RoleProvider)
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
		slog.String("BANK_BIC", cfg.BankBIC),
		slog.Bool("AUTO_ACCEPT_MODIFICATIONS", cfg.AutoAcceptModifications),
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
