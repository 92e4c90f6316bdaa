package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/information-sharing-networks/stp-demo/internal/crypto"
	"github.com/information-sharing-networks/stp-demo/internal/token"
	"github.com/spf13/cobra"
)

// verifyCmd checks a token file offline
var verifyCmd = &cobra.Command{
	Use:   "verify <token-file>",
	Short: "Verify the signatures of a token",
	Long: `Verify a token exported with 'tokens get' (or its .token field) without contacting either party.

The vendor signature is always checked. The provider countersignature is checked when present,
and the token fingerprint is printed. With --bank-jwks the provider key must also be
published in that JWK set.

Example:
  stp-cli tokens get <transaction-id> | jq .token > token.json
  stp-cli verify token.json
  stp-cli verify token.json --bank-jwks https://bank.example.com/.well-known/jwks.json`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

type verifyResult struct {
	TransactionID string `json:"transaction_id"`
	VendorKey     string `json:"vendor_key"`
	Countersigned bool   `json:"countersigned"`
	Fingerprint   string `json:"fingerprint,omitempty"`
	ProviderKeyID string `json:"provider_key_id,omitempty"`
}

var bankJWKS string

func init() {
	verifyCmd.Flags().StringVar(&bankJWKS, "bank-jwks", "", "JWKS URL the provider key must be published at")
}

func runVerify(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read token file: %w", err)
	}

	t, err := token.Decode(data)
	if err != nil {
		return err
	}

	appLogger.Debug("verifying token", slog.String("transaction_id", t.Transaction.ID))

	if err := token.VerifyVendorSignature(t); err != nil {
		return fmt.Errorf("vendor signature: %w", err)
	}

	result := verifyResult{
		TransactionID: t.Transaction.ID,
		VendorKey:     t.Signatures.VendorKey,
	}
	if t.Signatures.Provider != "" {
		if err := token.VerifyFullyIssued(t); err != nil {
			return fmt.Errorf("provider signature: %w", err)
		}
		result.Countersigned = true
		result.Fingerprint = token.Fingerprint(t)

		result.ProviderKeyID, err = crypto.PortableKeyID(t.Signatures.ProviderKey)
		if err != nil {
			return fmt.Errorf("provider key: %w", err)
		}
	}

	if bankJWKS != "" {
		if !result.Countersigned {
			return fmt.Errorf("--bank-jwks needs a countersigned token")
		}
		if err := checkPublished(cmd.Context(), bankJWKS, result.ProviderKeyID); err != nil {
			return err
		}
	}

	return printResult(cmd.OutOrStdout(), outputFormat, result)
}

func checkPublished(ctx context.Context, url, keyID string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	set, err := crypto.FetchJWKSet(ctx, url)
	if err != nil {
		return err
	}
	if _, ok := set.LookupKeyID(keyID); !ok {
		return fmt.Errorf("provider key %s is not published at %s", keyID, url)
	}
	return nil
}
