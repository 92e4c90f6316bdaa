package cli

import (
	"fmt"
	"net/http"

	"github.com/information-sharing-networks/stp-demo/internal/stp/stphandlers"
	"github.com/information-sharing-networks/stp-demo/internal/token"
	"github.com/spf13/cobra"
)

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Create transaction requests (vendor)",
}

var (
	requestAmount   string
	requestCurrency string
	requestPeriod   string
	requestWaitPIN  bool
)

type createRequestResult struct {
	stphandlers.CreateRequestResponse
	PIN string `json:"pin,omitempty"`
}

var requestCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a transaction request and print its URL",
	Long: `Create a transaction request on the vendor.

Hand the printed request_url to the customer's bank. With --wait-pin the command then waits
for the bank's Hello and prints the verification PIN the customer must confirm.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		period := token.Period(requestPeriod)
		if period != "" && !period.Valid() {
			return fmt.Errorf("--period must be monthly, quarterly or annual, got %q", requestPeriod)
		}

		vendor := newAdminClient(vendorURL)

		var result createRequestResult
		if err := vendor.do(cmd.Context(), http.MethodPost, "/admin/requests", stphandlers.CreateRequestRequest{
			Amount:   requestAmount,
			Currency: requestCurrency,
			Period:   period,
		}, &result.CreateRequestResponse); err != nil {
			return err
		}

		if requestWaitPIN {
			fmt.Fprintf(cmd.ErrOrStderr(), "request url: %s\nwaiting for the bank...\n", result.RequestURL)
			pin, err := vendor.waitPIN(cmd.Context(), result.RequestID)
			if err != nil {
				return fmt.Errorf("failed to wait for the PIN: %w", err)
			}
			result.PIN = pin
		}

		return printResult(cmd.OutOrStdout(), outputFormat, result)
	},
}

func init() {
	requestCreateCmd.Flags().StringVar(&requestAmount, "amount", "", "Amount, e.g. 9.99 [required]")
	requestCreateCmd.Flags().StringVar(&requestCurrency, "currency", "", "ISO 4217 currency code, e.g. GBP [required]")
	requestCreateCmd.Flags().StringVar(&requestPeriod, "period", "", "monthly, quarterly or annual (omit for a one-off payment)")
	requestCreateCmd.Flags().BoolVar(&requestWaitPIN, "wait-pin", false, "Wait for the bank and print the verification PIN")
	_ = requestCreateCmd.MarkFlagRequired("amount")
	_ = requestCreateCmd.MarkFlagRequired("currency")

	requestCmd.AddCommand(requestCreateCmd)
}
