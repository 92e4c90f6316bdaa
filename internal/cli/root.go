// Package cli implements stp-cli, a command line client for the vendor and provider admin APIs.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/information-sharing-networks/stp-demo/internal/logger"
	"github.com/information-sharing-networks/stp-demo/internal/version"
	"github.com/spf13/cobra"
)

var (
	vendorURL    string
	providerURL  string
	outputFormat string
	timeout      time.Duration
	logLevel     string

	appLogger = slog.Default()
)

var rootCmd = &cobra.Command{
	Use:               "stp-cli",
	CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	Short:             "STP admin client",
	Long: `stp-cli drives a vendor and a provider through their admin APIs.

A typical issuance:
  stp-cli request create --amount 9.99 --currency GBP --period monthly --wait-pin
  stp-cli negotiation start <request-url> --customer-ref customer-42
  stp-cli negotiation accept <transaction-id> --pin <pin>`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if outputFormat != "json" && outputFormat != "yaml" {
			return fmt.Errorf("--output must be json or yaml, got %q", outputFormat)
		}
		appLogger = logger.InitLogger(logger.ParseLogLevel(logLevel), "dev")
		return nil
	},
}

func Execute() {
	v := version.Get()
	rootCmd.Version = fmt.Sprintf("%s (built %s, commit %s)", v.Version, v.BuildDate, v.GitCommit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&vendorURL, "vendor", envOr("STP_VENDOR_URL", "http://localhost:8080"), "Vendor admin base URL (env STP_VENDOR_URL)")
	flags.StringVar(&providerURL, "provider", envOr("STP_PROVIDER_URL", "http://localhost:8081"), "Provider admin base URL (env STP_PROVIDER_URL)")
	flags.StringVarP(&outputFormat, "output", "o", "json", "Output format: json or yaml")
	flags.DurationVar(&timeout, "timeout", 60*time.Second, "Request timeout")
	flags.StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error or none")

	rootCmd.AddCommand(requestCmd)
	rootCmd.AddCommand(negotiationCmd)
	rootCmd.AddCommand(tokensCmd)
	rootCmd.AddCommand(modificationsCmd)
	rootCmd.AddCommand(verifyCmd)
}
