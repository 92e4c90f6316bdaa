package cli

import (
	"net/http"

	"github.com/information-sharing-networks/stp-demo/internal/stp"
	"github.com/information-sharing-networks/stp-demo/internal/stp/stphandlers"
	"github.com/spf13/cobra"
)

var negotiationCmd = &cobra.Command{
	Use:     "negotiation",
	Aliases: []string{"negotiations"},
	Short:   "Answer vendor requests (provider)",
}

var (
	customerRef string
	decisionPIN string
)

var negotiationStartCmd = &cobra.Command{
	Use:   "start <request-url>",
	Short: "Send a Hello to a vendor request URL and print the offer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var n stp.Negotiation
		err := newAdminClient(providerURL).do(cmd.Context(), http.MethodPost, "/admin/negotiations",
			stphandlers.StartNegotiationRequest{RequestURL: args[0], CustomerRef: customerRef}, &n)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, n)
	},
}

var negotiationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List offers waiting for a decision",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var list []stp.Negotiation
		if err := newAdminClient(providerURL).do(cmd.Context(), http.MethodGet, "/admin/negotiations", nil, &list); err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), outputFormat, list)
	},
}

var negotiationAcceptCmd = &cobra.Command{
	Use:   "accept <transaction-id>",
	Short: "Accept an offer with the PIN shown by the vendor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decide(cmd, args[0], true, decisionPIN)
	},
}

var negotiationDeclineCmd = &cobra.Command{
	Use:   "decline <transaction-id>",
	Short: "Decline an offer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := decide(cmd, args[0], false, "")
		// the provider reports a decline as a USER_DECLINED rejection
		if isRejection(err, stp.CodeUserDeclined) {
			return printResult(cmd.OutOrStdout(), outputFormat, map[string]string{
				"transaction_id": args[0],
				"status":         "declined",
			})
		}
		return err
	},
}

func decide(cmd *cobra.Command, id string, accept bool, pin string) error {
	var issued stphandlers.TokenResponse
	err := newAdminClient(providerURL).do(cmd.Context(), http.MethodPost, "/admin/negotiations/"+id+"/decision",
		stphandlers.DecisionRequest{Accept: accept, PIN: pin}, &issued)
	if err != nil {
		return err
	}
	return printResult(cmd.OutOrStdout(), outputFormat, issued)
}

func init() {
	negotiationStartCmd.Flags().StringVar(&customerRef, "customer-ref", "", "The bank's reference for the customer [required]")
	_ = negotiationStartCmd.MarkFlagRequired("customer-ref")

	negotiationAcceptCmd.Flags().StringVar(&decisionPIN, "pin", "", "Verification PIN shown by the vendor [required]")
	_ = negotiationAcceptCmd.MarkFlagRequired("pin")

	negotiationCmd.AddCommand(negotiationStartCmd)
	negotiationCmd.AddCommand(negotiationListCmd)
	negotiationCmd.AddCommand(negotiationAcceptCmd)
	negotiationCmd.AddCommand(negotiationDeclineCmd)
}
