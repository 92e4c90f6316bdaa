//go:build integration

package integration

// Test environment setup and server lifecycle management.
//
// The integration tests start a provider and a vendor in-process, configured the way the
// binaries are (environment variables read by config.NewServerConfig), and drive them through
// their admin APIs. Signing keys and the vendor's bank registry are generated per test.
//
// The vendor does not hold a copy of the bank key: its registry points at the provider's
// /.well-known/jwks.json, so key resolution goes through the JWK cache.
//
// Token stores are bolt files in a temporary directory. When STP_TEST_DATABASE_URL is set
// (a connection URL for the postgres maintenance database) the provider uses a temporary
// postgres database instead, which is dropped when the test ends.
//
// By default the server logs are not included in the test output, you can enable them with:
//
//	ENABLE_SERVER_LOGS=true go test -tags=integration -v ./test/integration
//

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/information-sharing-networks/stp-demo/internal/config"
	"github.com/information-sharing-networks/stp-demo/internal/crypto"
	"github.com/information-sharing-networks/stp-demo/internal/logger"
	"github.com/information-sharing-networks/stp-demo/internal/server"
	"github.com/information-sharing-networks/stp-demo/internal/stp"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	testBankBIC     = "INTGGB2L"
	testDatabaseEnv = "STP_TEST_DATABASE_URL"
	testDBName      = "tmp_stp_integration_test"
)

// testEnv is one running party
type testEnv struct {
	baseURL  string
	cfg      *config.ServerEnvironment
	srv      *server.Server
	shutdown func()
}

// deployment is a provider and a vendor that trust each other
type deployment struct {
	dir      string
	provider *testEnv
	vendor   *testEnv
}

// generateKey writes name.private.jwk and name.public.jwk to dir and returns the key id
func generateKey(t *testing.T, dir, name string) string {
	t.Helper()

	privateKey, err := crypto.GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	keyID, err := crypto.KeyIDFromPublicKey(privateKey.Public())
	if err != nil {
		t.Fatalf("failed to compute key id: %v", err)
	}
	if err := crypto.SaveKeyToJWKFile(privateKey, keyID, dir, name+".private.jwk"); err != nil {
		t.Fatalf("failed to save private key: %v", err)
	}
	if err := crypto.SaveKeyToJWKFile(privateKey.Public(), keyID, dir, name+".public.jwk"); err != nil {
		t.Fatalf("failed to save public key: %v", err)
	}
	return keyID
}

// newDeployment generates keys, starts the provider and then a vendor that resolves the
// provider's key from its JWKS endpoint
func newDeployment(t *testing.T) *deployment {
	t.Helper()

	d := &deployment{dir: t.TempDir()}
	generateKey(t, d.dir, "provider")
	generateKey(t, d.dir, "vendor")

	providerEnv := map[string]string{
		"SIGNING_KEY_PATH": filepath.Join(d.dir, "provider.private.jwk"),
		"BANK_BIC":         testBankBIC,
		"BANK_NAME":        "Integration Bank",
		"STORE_BACKEND":    "bolt",
		"BOLT_PATH":        filepath.Join(d.dir, "provider.db"),
	}
	if adminURL := os.Getenv(testDatabaseEnv); adminURL != "" {
		providerEnv["STORE_BACKEND"] = "postgres"
		providerEnv["DATABASE_URL"] = setupTestDatabase(t, adminURL)
	}
	d.provider = startInProcessServer(t, stp.RoleProvider, findFreePort(t), providerEnv)
	t.Cleanup(d.provider.shutdown)

	d.writeRegistry(t)
	d.vendor = d.startVendor(t, findFreePort(t))
	t.Cleanup(func() { d.vendor.shutdown() })

	return d
}

func (d *deployment) writeRegistry(t *testing.T) {
	t.Helper()
	registry := fmt.Sprintf("BIC,Name,Site,JWKSEndpoint,ManualKeyID\n%s,Integration Bank,https://bank.example.com,%s/.well-known/jwks.json,\n",
		testBankBIC, d.provider.baseURL)
	if err := os.WriteFile(filepath.Join(d.dir, "banks.csv"), []byte(registry), 0o644); err != nil {
		t.Fatalf("failed to write registry: %v", err)
	}
}

// startVendor starts a vendor on port, reusing the deployment's key and bolt file
func (d *deployment) startVendor(t *testing.T, port int) *testEnv {
	t.Helper()
	return startInProcessServer(t, stp.RoleVendor, port, map[string]string{
		"SIGNING_KEY_PATH":      filepath.Join(d.dir, "vendor.private.jwk"),
		"REGISTRY_PATH":         filepath.Join(d.dir, "banks.csv"),
		"VENDOR_NAME":           "Integration Vendor",
		"VENDOR_LOGO_URL":       "https://vendor.example.com/logo.png",
		"JWK_CACHE_MIN_REFRESH": "1m",
		"JWK_CACHE_MAX_REFRESH": "1h",
		"STORE_BACKEND":         "bolt",
		"BOLT_PATH":             filepath.Join(d.dir, "vendor.db"),
	})
}

// startInProcessServer starts a party in-process with the common test settings plus extra
// and waits for it to report live
func startInProcessServer(t *testing.T, role stp.Role, port int, extra map[string]string) *testEnv {
	t.Helper()

	logLevel := "none"
	if os.Getenv("ENABLE_SERVER_LOGS") == "true" {
		logLevel = "debug"
	}

	vars := map[string]string{
		"ENVIRONMENT":       "test",
		"HOST":              "localhost",
		"PORT":              fmt.Sprintf("%d", port),
		"PUBLIC_HOST":       fmt.Sprintf("localhost:%d", port),
		"PEER_SCHEME":       "http",
		"PEER_TIMEOUT":      "5s",
		"LOCK_WAIT_TIMEOUT": "1s",
		"PIN_WAIT_TIMEOUT":  "20s",
		"REQUEST_TIMEOUT":   "30s",
		"RATE_LIMIT_RPS":    "0",
		"LOG_LEVEL":         logLevel,
	}
	for k, v := range extra {
		vars[k] = v
	}
	for k, v := range vars {
		t.Setenv(k, v)
	}

	cfg, err := config.NewServerConfig(role)
	if err != nil {
		t.Fatalf("failed to load %s configuration: %v", role, err)
	}

	appLogger := logger.InitLogger(logger.ParseLogLevel(cfg.LogLevel), cfg.Environment)

	ctx, cancel := context.WithCancel(context.Background())

	deps, err := server.Open(ctx, cfg, appLogger)
	if err != nil {
		cancel()
		t.Fatalf("failed to open %s dependencies: %v", role, err)
	}
	srv, err := server.NewServer(cfg, appLogger, deps)
	if err != nil {
		cancel()
		_ = deps.Repository.Close()
		t.Fatalf("failed to create %s server: %v", role, err)
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := srv.Start(ctx); err != nil {
			serverDone <- err
		}
	}()

	env := &testEnv{
		baseURL: fmt.Sprintf("http://localhost:%d", port),
		cfg:     cfg,
		srv:     srv,
	}

	stopped := false
	env.shutdown = func() {
		if stopped {
			return
		}
		stopped = true

		cancel()
		select {
		case err, ok := <-serverDone:
			if ok && err != nil {
				t.Logf("%s shut down with error: %v", role, err)
			}
		case <-time.After(5 * time.Second):
			t.Logf("%s shutdown timeout", role)
		}
		srv.StoreShutdown()
	}

	if !waitForServer(t, env.baseURL+"/health/live", 30*time.Second) {
		env.shutdown()
		t.Fatalf("%s failed to start within timeout", role)
	}

	t.Logf("%s started at %s", role, env.baseURL)
	return env
}

func findFreePort(t *testing.T) int {
	t.Helper()
	listener, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}

func waitForServer(t *testing.T, url string, timeout time.Duration) bool {
	t.Helper()

	client := &http.Client{Timeout: 1 * time.Second}
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return true
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// setupTestDatabase creates an empty database next to the one adminURL names and returns
// its URL. The schema is applied by the postgres repository when the provider opens it.
func setupTestDatabase(t *testing.T, adminURL string) string {
	t.Helper()
	ctx := context.Background()

	adminPool, err := pgxpool.New(ctx, adminURL)
	if err != nil {
		t.Fatalf("Unable to create postgres connection pool: %v", err)
	}
	if err := adminPool.Ping(ctx); err != nil {
		adminPool.Close()
		t.Fatalf("Can't ping PostgreSQL server: %v", err)
	}

	if _, err := adminPool.Exec(ctx, "DROP DATABASE IF EXISTS "+testDBName); err != nil {
		adminPool.Close()
		t.Fatalf("Failed to drop test database: %v", err)
	}
	if _, err := adminPool.Exec(ctx, "CREATE DATABASE "+testDBName); err != nil {
		adminPool.Close()
		t.Fatalf("Failed to create test database: %v", err)
	}

	// registered before the provider's shutdown so it runs after it
	t.Cleanup(func() {
		defer adminPool.Close()
		if _, err := adminPool.Exec(context.Background(), "DROP DATABASE IF EXISTS "+testDBName+" WITH (FORCE)"); err != nil {
			t.Logf("Failed to drop test database: %v", err)
		}
	})

	u, err := url.Parse(adminURL)
	if err != nil {
		t.Fatalf("invalid %s: %v", testDatabaseEnv, err)
	}
	u.Path = "/" + testDBName
	return u.String()
}
