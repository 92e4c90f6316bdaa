package cli

import (
	"fmt"
	"net/http"

	"github.com/information-sharing-networks/stp-demo/internal/stp/stphandlers"
	"github.com/spf13/cobra"
)

var tokensCmd = &cobra.Command{
	Use:     "tokens",
	Aliases: []string{"token"},
	Short:   "Inspect and revise issued tokens",
}

var (
	side           string
	modifyAmount   string
	modifyCurrency string
)

// sideURL resolves --side to the admin base URL
func sideURL() (string, error) {
	switch side {
	case "vendor":
		return vendorURL, nil
	case "provider":
		return providerURL, nil
	default:
		return "", fmt.Errorf("--side must be vendor or provider, got %q", side)
	}
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List issued tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := sideURL()
		if err != nil {
			return err
		}
		var list []stphandlers.TokenResponse
		if err := newAdminClient(base).do(cmd.Context(), http.MethodGet, "/admin/tokens", nil, &list); err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, list)
	},
}

var tokensGetCmd = &cobra.Command{
	Use:   "get <transaction-id>",
	Short: "Show an issued token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := sideURL()
		if err != nil {
			return err
		}
		var rec stphandlers.TokenResponse
		if err := newAdminClient(base).do(cmd.Context(), http.MethodGet, "/admin/tokens/"+args[0], nil, &rec); err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, rec)
	},
}

var tokensRevokeCmd = &cobra.Command{
	Use:   "revoke <transaction-id>",
	Short: "Revoke an issued token on both sides",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := sideURL()
		if err != nil {
			return err
		}
		if err := newAdminClient(base).do(cmd.Context(), http.MethodPost, "/admin/tokens/"+args[0]+"/revoke", nil, nil); err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, map[string]string{
			"transaction_id": args[0],
			"status":         "revoked",
		})
	},
}

var tokensRefreshCmd = &cobra.Command{
	Use:   "refresh <transaction-id>",
	Short: "Advance a recurring token to its next cycle (vendor)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var rec stphandlers.TokenResponse
		if err := newAdminClient(vendorURL).do(cmd.Context(), http.MethodPost, "/admin/tokens/"+args[0]+"/refresh", nil, &rec); err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, rec)
	},
}

var tokensModifyCmd = &cobra.Command{
	Use:   "modify <transaction-id>",
	Short: "Propose a new amount or currency (vendor)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var result stphandlers.ModificationResponse
		err := newAdminClient(vendorURL).do(cmd.Context(), http.MethodPost, "/admin/tokens/"+args[0]+"/modify",
			stphandlers.ModifyRequest{Amount: modifyAmount, Currency: modifyCurrency}, &result)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, result)
	},
}

func init() {
	for _, c := range []*cobra.Command{tokensListCmd, tokensGetCmd, tokensRevokeCmd} {
		c.Flags().StringVar(&side, "side", "vendor", "Which party to ask: vendor or provider")
	}

	tokensModifyCmd.Flags().StringVar(&modifyAmount, "amount", "", "New amount [required]")
	tokensModifyCmd.Flags().StringVar(&modifyCurrency, "currency", "", "New currency (default: unchanged)")
	_ = tokensModifyCmd.MarkFlagRequired("amount")

	tokensCmd.AddCommand(tokensListCmd)
	tokensCmd.AddCommand(tokensGetCmd)
	tokensCmd.AddCommand(tokensRevokeCmd)
	tokensCmd.AddCommand(tokensRefreshCmd)
	tokensCmd.AddCommand(tokensModifyCmd)
}
