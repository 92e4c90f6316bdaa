// keymanager.go discovers, caches and looks up the public keys of the banks a vendor trusts.
//
// A bank's key is configured in one of two ways:
//   - JWKS endpoint: the key set is fetched from the bank's /.well-known/jwks.json and refreshed in the background
//   - Manual key: a single public JWK received out-of-band, loaded from the manual keys directory at startup
//
// # bank registry
// The registry lists the banks the vendor accepts Hellos from. It is a CSV file with the columns
//
//	BIC,Name,Site,JWKSEndpoint,ManualKeyID
//
// and exactly one of JWKSEndpoint and ManualKeyID set per bank. Keys of banks that are not in the
// registry are never loaded, so a Hello signed by an unknown bank fails verification.
//
// Manual key files must contain one key whose kid is the key thumbprint (see crypto.KeyIDFromPublicKey).
// For key rotation use a JWKS endpoint.
package stp

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rsa"
	"encoding/csv"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/information-sharing-networks/stp-demo/internal/crypto"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/lestrrat-go/jwx/v3/jws"
)

// Bank is a registry entry
type Bank struct {
	BIC  string
	Name string
	Site string

	// JWKSEndpoint is the full URL of the bank's key set, e.g. "https://bank.example/.well-known/jwks.json"
	JWKSEndpoint string

	// ManualKeyID is the kid of a key loaded from the manual keys directory
	ManualKeyID string
}

// PublicKeyInfo is a trusted bank key
type PublicKeyInfo struct {
	Bank  *Bank
	Key   jwk.Key
	KeyID string
}

// KeyManagerConfig holds configuration for the KeyManager.
type KeyManagerConfig struct {
	RegistryPath string

	// ManualKeysDir is optional. Supported file extensions: .jwk, .jwks, .jwks.json
	ManualKeysDir string

	// SkipJWKCache disables JWKS endpoint fetching (manual keys only)
	SkipJWKCache bool

	JWKCacheMinRefreshInterval time.Duration
	JWKCacheMaxRefreshInterval time.Duration
}

// KeyManager resolves bank keys for Hello verification.
// It implements jws.KeyProvider.
type KeyManager struct {
	// banks is keyed by BIC
	banks map[string]*Bank

	// manualKeys is keyed by kid
	manualKeys map[string]*PublicKeyInfo

	jwkCache *jwk.Cache
	logger   *slog.Logger

	// mu guards manualKeys; the maps are only written at startup
	mu sync.RWMutex

	config *KeyManagerConfig
}

// NewKeyManager loads the registry and manual keys and registers the JWKS endpoints with the cache.
// JWKS endpoints are fetched in the background so an unreachable bank does not block startup.
func NewKeyManager(ctx context.Context, config *KeyManagerConfig, logger *slog.Logger) (*KeyManager, error) {
	if config == nil {
		return nil, NewInternalError("config is nil")
	}
	if logger == nil {
		return nil, NewInternalError("logger cannot be nil")
	}

	km := &KeyManager{
		config:     config,
		banks:      make(map[string]*Bank),
		manualKeys: make(map[string]*PublicKeyInfo),
		logger:     logger,
	}

	logger.Info("initializing KeyManager",
		slog.String("REGISTRY_PATH", config.RegistryPath),
		slog.Bool("SKIP_JWK_CACHE", config.SkipJWKCache))

	if err := km.loadRegistry(); err != nil {
		return nil, crypto.WrapKeyManagementError(err, "failed to load bank registry")
	}
	km.logger.Info("bank registry loaded", slog.Int("banks", len(km.banks)))

	if config.ManualKeysDir != "" {
		if err := km.loadManualKeys(); err != nil {
			return nil, crypto.WrapKeyManagementError(err, "failed to load manual keys")
		}
		km.logger.Info("manual keys loaded", slog.Int("keys", len(km.manualKeys)))
	}

	if !config.SkipJWKCache {
		if err := km.initJWKCache(ctx); err != nil {
			return nil, crypto.WrapKeyManagementError(err, "failed to init JWK cache")
		}
	} else {
		km.logger.Info("JWK cache initialization skipped")
	}

	return km, nil
}

func (k *KeyManager) loadRegistry() error {
	data, err := os.ReadFile(k.config.RegistryPath)
	if err != nil {
		return err
	}

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return crypto.WrapKeyManagementError(err, "failed to parse registry csv")
	}

	for _, record := range records {
		if len(record) > 0 && record[0] == "BIC" {
			continue
		}
		if len(record) != 5 {
			return crypto.NewKeyManagementError(fmt.Sprintf("invalid registry record: %v", record))
		}

		bank := &Bank{
			BIC:          record[0],
			Name:         record[1],
			Site:         record[2],
			JWKSEndpoint: record[3],
			ManualKeyID:  record[4],
		}

		if err := ValidateBIC(bank.BIC); err != nil {
			return crypto.NewKeyManagementError(fmt.Sprintf("invalid registry record - bad BIC: %v", record))
		}
		if bank.Name == "" {
			return crypto.NewKeyManagementError(fmt.Sprintf("invalid registry record - name not set: %v", record))
		}
		if bank.Site != "" {
			if _, err := url.Parse(bank.Site); err != nil {
				return crypto.NewKeyManagementError(fmt.Sprintf("invalid registry record - invalid website: %v", record))
			}
		}
		if bank.JWKSEndpoint == "" && bank.ManualKeyID == "" {
			return crypto.NewKeyManagementError(fmt.Sprintf("invalid registry record - no jwks_endpoint or manual_key_id: %v", record))
		}
		if bank.JWKSEndpoint != "" && bank.ManualKeyID != "" {
			return crypto.NewKeyManagementError(fmt.Sprintf("invalid registry record - both jwks_endpoint and manual_key_id set: %v", record))
		}
		if bank.JWKSEndpoint != "" {
			u, err := url.Parse(bank.JWKSEndpoint)
			if err != nil || u.Host == "" {
				return crypto.NewKeyManagementError(fmt.Sprintf("invalid registry record - invalid jwks url: %v", record))
			}
		}

		if k.banks[bank.BIC] != nil {
			return crypto.NewKeyManagementError(fmt.Sprintf("duplicate BIC in registry: %s", bank.BIC))
		}
		k.banks[bank.BIC] = bank
	}

	return nil
}

// loadManualKeys loads single-key JWK files from the manual keys directory.
// Files that cannot be used are logged and skipped.
func (k *KeyManager) loadManualKeys() error {
	dir := k.config.ManualKeysDir
	k.logger.Info("loading manual keys", slog.String("dir", dir))

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return crypto.NewKeyManagementError(fmt.Sprintf("manual keys directory (%v) does not exist", dir))
		}
		return crypto.WrapKeyManagementError(err, "failed to stat manual keys directory")
	}
	if !info.IsDir() {
		return crypto.NewKeyManagementError(fmt.Sprintf("manual keys path is not a directory: %s", dir))
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return crypto.WrapKeyManagementError(err, "failed to open manual keys directory")
	}
	defer root.Close()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return crypto.WrapKeyManagementError(err, "failed to read manual keys directory")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		filename := entry.Name()
		isJWKFile := strings.HasSuffix(filename, ".jwk") ||
			strings.HasSuffix(filename, ".jwks") ||
			strings.HasSuffix(filename, ".jwks.json")
		if !isJWKFile {
			k.logger.Debug("skipping: non-JWK file", slog.String("file", filename))
			continue
		}

		data, err := root.ReadFile(filename)
		if err != nil {
			k.logger.Error("skipping: failed to read manual key file",
				slog.String("file", filename),
				slog.String("error", err.Error()))
			continue
		}

		keySet, err := jwk.Parse(data)
		if err != nil {
			k.logger.Error("skipping: failed to parse manual key data",
				slog.String("file", filename),
				slog.String("error", err.Error()))
			continue
		}
		if keySet.Len() != 1 {
			k.logger.Error("skipping: manual key file must contain exactly one key",
				slog.String("file", filename),
				slog.Int("key_count", keySet.Len()))
			continue
		}

		key, _ := keySet.Key(0)

		keyID, ok := key.KeyID()
		if !ok || keyID == "" {
			k.logger.Error("skipping: manual key missing kid", slog.String("file", filename))
			continue
		}

		var raw any
		if err := jwk.Export(key, &raw); err != nil {
			k.logger.Error("skipping: failed to export manual key",
				slog.String("file", filename),
				slog.String("error", err.Error()))
			continue
		}

		switch raw.(type) {
		case *rsa.PublicKey, ed25519.PublicKey:
		default:
			k.logger.Warn("skipping: file does not contain an RSA or Ed25519 public key",
				slog.String("file", filename),
				slog.String("key_type", fmt.Sprintf("%T", raw)))
			continue
		}

		var bank *Bank
		for _, b := range k.banks {
			if b.ManualKeyID == keyID {
				bank = b
				break
			}
		}
		if bank == nil {
			k.logger.Warn("skipping: kid not found in the bank registry",
				slog.String("file", filename),
				slog.String("kid", keyID))
			continue
		}

		k.manualKeys[keyID] = &PublicKeyInfo{Bank: bank, Key: key, KeyID: keyID}

		k.logger.Info("loaded manual key",
			slog.String("file", filename),
			slog.String("bic", bank.BIC),
			slog.String("kid", keyID))
	}

	return nil
}

func (k *KeyManager) initJWKCache(ctx context.Context) error {
	cache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return crypto.WrapKeyManagementError(err, "failed to create JWK cache")
	}
	k.jwkCache = cache

	registered := 0
	for _, bank := range k.banks {
		if bank.JWKSEndpoint == "" {
			continue
		}

		err := k.jwkCache.Register(ctx, bank.JWKSEndpoint,
			jwk.WithMinInterval(k.config.JWKCacheMinRefreshInterval),
			jwk.WithMaxInterval(k.config.JWKCacheMaxRefreshInterval),
			jwk.WithWaitReady(false),
		)
		if err != nil {
			k.logger.Warn("failed to register JWK endpoint",
				slog.String("bic", bank.BIC),
				slog.String("jwk_url", bank.JWKSEndpoint),
				slog.String("error", err.Error()))
			continue
		}

		registered++
		k.logger.Info("registered JWK endpoint for background fetch",
			slog.String("bic", bank.BIC),
			slog.String("jwk_url", bank.JWKSEndpoint))
	}

	k.logger.Info("JWK cache initialization complete", slog.Int("endpoints_registered", registered))
	return nil
}

// FetchKeys implements jws.KeyProvider: the key named by the kid header is added to the sink.
func (k *KeyManager) FetchKeys(ctx context.Context, sink jws.KeySink, sig *jws.Signature, _ *jws.Message) error {
	kid, ok := sig.ProtectedHeaders().KeyID()
	if !ok || kid == "" {
		return crypto.NewValidationError("kid is required in JWS header")
	}
	alg, ok := sig.ProtectedHeaders().Algorithm()
	if !ok {
		return crypto.NewValidationError("alg is required in JWS header")
	}

	info, err := k.GetKey(ctx, kid)
	if err != nil {
		return err
	}
	sink.Key(alg, info.Key)
	return nil
}

// GetKey returns the trusted key with the given kid.
// Manual keys are checked first, then the cached key sets of the JWKS banks.
func (k *KeyManager) GetKey(ctx context.Context, keyID string) (*PublicKeyInfo, error) {
	if keyID == "" {
		return nil, crypto.NewValidationError("kid is required")
	}

	k.mu.RLock()
	info, exists := k.manualKeys[keyID]
	k.mu.RUnlock()
	if exists {
		return info, nil
	}

	if k.jwkCache != nil {
		for _, bank := range k.banks {
			if bank.JWKSEndpoint == "" {
				continue
			}

			keySet, err := k.jwkCache.Lookup(ctx, bank.JWKSEndpoint)
			if err != nil {
				k.logger.Debug("failed to lookup JWK set from cache",
					slog.String("bic", bank.BIC),
					slog.String("jwk_url", bank.JWKSEndpoint),
					slog.String("error", err.Error()))
				continue
			}

			if key, found := keySet.LookupKeyID(keyID); found {
				return &PublicKeyInfo{Bank: bank, Key: key, KeyID: keyID}, nil
			}
		}
	}

	return nil, crypto.NewKeyManagementError(fmt.Sprintf("key not found: %s", keyID))
}

// Bank returns the registry entry for bic
func (k *KeyManager) Bank(bic string) (*Bank, bool) {
	b, ok := k.banks[bic]
	return b, ok
}

// VerifyURLSignature verifies a detached JWS over payload with the trusted key named in its header.
//
// It returns the bank that signed and the thumbprint kid of the verifying key.
func (k *KeyManager) VerifyURLSignature(ctx context.Context, signature string, payload []byte) (*Bank, string, error) {
	header, err := crypto.ParseHeader(signature)
	if err != nil {
		return nil, "", err
	}

	if _, err := jws.Verify([]byte(signature),
		jws.WithKeyProvider(k),
		jws.WithDetachedPayload(payload),
		jws.WithContext(ctx),
	); err != nil {
		return nil, "", crypto.WrapSignatureError(err, "signature does not verify with a trusted bank key")
	}

	info, err := k.GetKey(ctx, header.KeyID)
	if err != nil {
		return nil, "", err
	}

	pub, err := crypto.JWKToPublicKey(info.Key)
	if err != nil {
		return nil, "", err
	}
	thumbprint, err := crypto.KeyIDFromPublicKey(pub)
	if err != nil {
		return nil, "", err
	}

	return info.Bank, thumbprint, nil
}
