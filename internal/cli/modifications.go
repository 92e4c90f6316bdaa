package cli

import (
	"fmt"
	"net/http"

	"github.com/information-sharing-networks/stp-demo/internal/stp"
	"github.com/information-sharing-networks/stp-demo/internal/stp/stphandlers"
	"github.com/spf13/cobra"
)

var modificationsCmd = &cobra.Command{
	Use:     "modifications",
	Aliases: []string{"modification"},
	Short:   "Decide on modifications proposed by vendors (provider)",
}

var modificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List modifications waiting for a decision",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var list []stp.PendingModification
		if err := newAdminClient(providerURL).do(cmd.Context(), http.MethodGet, "/admin/modifications", nil, &list); err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, list)
	},
}

func resolveCmd(use, short string, accept bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <transaction-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result stphandlers.ModificationResponse
			err := newAdminClient(providerURL).do(cmd.Context(), http.MethodPost, "/admin/modifications/"+args[0],
				stphandlers.ResolveModificationRequest{Accept: accept}, &result)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), outputFormat, result)
		},
	}
}

var modificationsAutoAcceptCmd = &cobra.Command{
	Use:       "auto-accept <on|off>",
	Short:     "Accept future modifications without asking",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		var enabled bool
		switch args[0] {
		case "on":
			enabled = true
		case "off":
		default:
			return fmt.Errorf("expected on or off, got %q", args[0])
		}

		var setting stphandlers.AutoAcceptSetting
		err := newAdminClient(providerURL).do(cmd.Context(), http.MethodPut, "/admin/settings/auto-accept",
			stphandlers.AutoAcceptSetting{Enabled: enabled}, &setting)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, setting)
	},
}

func init() {
	modificationsCmd.AddCommand(modificationsListCmd)
	modificationsCmd.AddCommand(resolveCmd("accept", "Accept a queued modification", true))
	modificationsCmd.AddCommand(resolveCmd("reject", "Reject a queued modification", false))
	modificationsCmd.AddCommand(modificationsAutoAcceptCmd)
}
