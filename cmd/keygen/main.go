// keygen generates the signing keys used by vendors and providers.
//
// The private JWK is what SIGNING_KEY_PATH points at. The public JWK is what a vendor
// drops in MANUAL_KEYS_DIR for a bank that does not publish a JWKS endpoint.
package main

import (
	"crypto"
	"fmt"
	"os"
	"path/filepath"

	stpcrypto "github.com/information-sharing-networks/stp-demo/internal/crypto"
	"github.com/information-sharing-networks/stp-demo/internal/version"
	"github.com/spf13/cobra"
)

// file naming convention - name.public.jwk and name.private.jwk
const (
	publicKeyFileNameFormat  = "%s.public.jwk"
	privateKeyFileNameFormat = "%s.private.jwk"
)

var (
	name      string
	outputDir string
	keyType   string
	rsaSize   int
)

func main() {
	rootCmd := &cobra.Command{
		Use:               "keygen",
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		Short:             "JWK key generator for STP vendors and providers",
		Long: `Generate an Ed25519 or RSA key pair in JWK format.

The key id is always the RFC 7638 thumbprint of the public key; vendors list it in
the ManualKeyID column of their bank registry.`,
	}

	v := version.Get()
	rootCmd.Version = fmt.Sprintf("%s (built %s, commit %s)", v.Version, v.BuildDate, v.GitCommit)

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new key pair",
		Example: `  keygen generate --name vendor --type ed25519 --outputdir ./keys
  keygen generate --name DEMOGB2L --type rsa --size 2048 --outputdir ./keys`,
		RunE: runGenerate,
	}

	generateCmd.Flags().StringVarP(&name, "name", "n", "", "File name prefix, e.g. the vendor name or bank BIC [required]")
	generateCmd.Flags().StringVarP(&keyType, "type", "t", "ed25519", "Key type: ed25519 or rsa")
	generateCmd.Flags().StringVarP(&outputDir, "outputdir", "o", "", "Output directory for generated keys [required]")
	generateCmd.Flags().IntVarP(&rsaSize, "size", "s", 4096, "RSA key size in bits (2048 or 4096)")
	_ = generateCmd.MarkFlagRequired("name")
	_ = generateCmd.MarkFlagRequired("outputdir")

	rootCmd.AddCommand(generateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runGenerate(cmd *cobra.Command, args []string) error {
	var (
		privateKey crypto.Signer
		err        error
	)

	switch keyType {
	case "ed25519":
		fmt.Printf("Generating Ed25519 key pair: %s\n", name)
		privateKey, err = stpcrypto.GenerateEd25519KeyPair()
	case "rsa":
		if rsaSize != 2048 && rsaSize != 4096 {
			return fmt.Errorf("invalid RSA key size: %d (must be 2048 or 4096)", rsaSize)
		}
		fmt.Printf("Generating %d-bit RSA key pair: %s\n", rsaSize, name)
		privateKey, err = stpcrypto.GenerateRSAKeyPair(rsaSize)
	default:
		return fmt.Errorf("invalid key type: %s (must be 'ed25519' or 'rsa')", keyType)
	}
	if err != nil {
		return fmt.Errorf("failed to generate %s key: %w", keyType, err)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	publicKey := privateKey.Public()

	keyID, err := stpcrypto.KeyIDFromPublicKey(publicKey)
	if err != nil {
		return fmt.Errorf("failed to generate key ID: %w", err)
	}

	publicFile := fmt.Sprintf(publicKeyFileNameFormat, name)
	if err := stpcrypto.SaveKeyToJWKFile(publicKey, keyID, outputDir, publicFile); err != nil {
		return fmt.Errorf("failed to save public key: %w", err)
	}
	fmt.Printf("✓ Public JWK:  %s (kid: %s)\n", filepath.Join(outputDir, publicFile), keyID)

	privateFile := fmt.Sprintf(privateKeyFileNameFormat, name)
	if err := stpcrypto.SaveKeyToJWKFile(privateKey, keyID, outputDir, privateFile); err != nil {
		return fmt.Errorf("failed to save private key: %w", err)
	}
	fmt.Printf("✓ Private JWK: %s (kid: %s)\n", filepath.Join(outputDir, privateFile), keyID)

	return nil
}
