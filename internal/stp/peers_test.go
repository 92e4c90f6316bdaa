package stp

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/information-sharing-networks/stp-demo/internal/crypto"
	"github.com/information-sharing-networks/stp-demo/internal/store"
	"github.com/information-sharing-networks/stp-demo/internal/token"
)

const (
	testBIC      = "TESTGB2L"
	testBankName = "Test Bank"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// testKey is a signer together with its raw public key so it can be written as a manual key
type testKey struct {
	signer *crypto.KeySigner
	public ed25519.PublicKey
}

func newTestKey(t *testing.T) testKey {
	t.Helper()
	pk, err := crypto.GenerateEd25519KeyPair()
	if err != nil {
		t.Fatalf("GenerateEd25519KeyPair() error = %v", err)
	}
	s, err := crypto.NewEd25519Signer(pk)
	if err != nil {
		t.Fatalf("NewEd25519Signer() error = %v", err)
	}
	return testKey{signer: s, public: pk.Public().(ed25519.PublicKey)}
}

// newTestKeyManager writes a registry listing each bank with a manual key and loads it
func newTestKeyManager(t *testing.T, banks map[string]testKey) *KeyManager {
	t.Helper()
	dir := t.TempDir()
	keysDir := filepath.Join(dir, "keys")
	if err := os.Mkdir(keysDir, 0o755); err != nil {
		t.Fatalf("failed to create keys dir: %v", err)
	}

	registry := "BIC,Name,Site,JWKSEndpoint,ManualKeyID\n"
	for bic, key := range banks {
		kid := key.signer.KeyID()
		registry += fmt.Sprintf("%s,Bank %s,https://%s.example.com,,%s\n", bic, bic, bic, kid)
		if err := crypto.SaveKeyToJWKFile(key.public, kid, keysDir, bic+".public.jwk"); err != nil {
			t.Fatalf("SaveKeyToJWKFile() error = %v", err)
		}
	}
	registryPath := filepath.Join(dir, "banks.csv")
	if err := os.WriteFile(registryPath, []byte(registry), 0o644); err != nil {
		t.Fatalf("failed to write registry: %v", err)
	}

	km, err := NewKeyManager(context.Background(), &KeyManagerConfig{
		RegistryPath:  registryPath,
		ManualKeysDir: keysDir,
		SkipJWKCache:  true,
	}, discardLogger)
	if err != nil {
		t.Fatalf("NewKeyManager() error = %v", err)
	}
	return km
}

// testPeers is a vendor and a provider talking to each other over real HTTP
type testPeers struct {
	vendor   *Vendor
	provider *Provider

	vendorKey   testKey
	providerKey testKey

	vendorServer   *httptest.Server
	providerServer *httptest.Server

	// client posts directly to either peer
	client *Client
}

func newTestPeers(t *testing.T) *testPeers {
	t.Helper()

	p := &testPeers{
		vendorKey:      newTestKey(t),
		providerKey:    newTestKey(t),
		vendorServer:   httptest.NewUnstartedServer(nil),
		providerServer: httptest.NewUnstartedServer(nil),
		client:         NewClient("http", 5*time.Second),
	}

	km := newTestKeyManager(t, map[string]testKey{testBIC: p.providerKey})

	vendor, err := NewVendor(Options{
		PublicHost: p.vendorServer.Listener.Addr().String(),
		Signer:     p.vendorKey.signer,
		Repository: store.NewMemoryRepository(),
		Client:     NewClient("http", 5*time.Second),
		LockWait:   500 * time.Millisecond,
		Logger:     discardLogger,
	}, km, VendorInfo{Name: "Test Shop", LogoURL: "https://shop.example.com/logo.png", Address: "1 High Street"})
	if err != nil {
		t.Fatalf("NewVendor() error = %v", err)
	}

	provider, err := NewProvider(Options{
		PublicHost: p.providerServer.Listener.Addr().String(),
		Signer:     p.providerKey.signer,
		Repository: store.NewMemoryRepository(),
		Client:     NewClient("http", 5*time.Second),
		LockWait:   500 * time.Millisecond,
		Logger:     discardLogger,
	}, testBIC, testBankName, false)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	p.vendor = vendor
	p.provider = provider

	p.vendorServer.Config.Handler = vendorMux(vendor)
	p.providerServer.Config.Handler = providerMux(provider)
	p.vendorServer.Start()
	p.providerServer.Start()
	t.Cleanup(p.vendorServer.Close)
	t.Cleanup(p.providerServer.Close)

	return p
}

// serve decodes msg from the request, runs fn and writes the reply the way the protocol routes do
func serve[M Message](w http.ResponseWriter, r *http.Request, msg M, fn func(context.Context, string, M) (any, error)) {
	if err := Decode(http.MaxBytesReader(w, r.Body, MaxMessageSize), msg); err != nil {
		RespondWithErrorResponse(w, r, err)
		return
	}
	reply, err := fn(r.Context(), r.PathValue("id"), msg)
	if err != nil {
		RespondToPeer(w, r, err)
		return
	}
	if raw, ok := reply.([]byte); ok {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)
		return
	}
	RespondWithJSONPayload(w, http.StatusOK, reply)
}

func vendorMux(v *Vendor) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+RequestPath+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, &Hello{}, func(ctx context.Context, id string, m *Hello) (any, error) {
			return v.HandleHello(ctx, id, m)
		})
	})
	mux.HandleFunc("POST "+ResponsePath+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, &Confirm{}, func(ctx context.Context, id string, m *Confirm) (any, error) {
			return v.HandleConfirm(ctx, id, m)
		})
	})
	mux.HandleFunc("POST "+RevisionPath+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, &Revise{}, func(ctx context.Context, id string, m *Revise) (any, error) {
			return v.HandleRevision(ctx, id, m)
		})
	})
	return mux
}

func providerMux(p *Provider) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+RemediationPath+"/{id}", func(w http.ResponseWriter, r *http.Request) {
		serve(w, r, &Revise{}, func(ctx context.Context, id string, m *Revise) (any, error) {
			return p.HandleRemediation(ctx, id, m)
		})
	})
	return mux
}

// negotiate runs a request, Hello and Offer and returns the negotiation id and the PIN seen by the vendor
func (p *testPeers) negotiate(t *testing.T, terms token.Terms) (string, string) {
	t.Helper()
	ctx := context.Background()

	requestURL, requestID, err := p.vendor.CreateRequest(ctx, terms)
	if err != nil {
		t.Fatalf("CreateRequest() error = %v", err)
	}

	pinCh := make(chan string, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		pin, err := p.vendor.AwaitPIN(ctx, requestID)
		if err != nil {
			pinCh <- ""
			return
		}
		pinCh <- pin
	}()

	n, err := p.provider.StartNegotiation(ctx, requestURL, "customer-42")
	if err != nil {
		t.Fatalf("StartNegotiation() error = %v", err)
	}

	pin := <-pinCh
	if pin == "" {
		t.Fatalf("vendor did not receive the PIN")
	}
	return n.TransactionID, pin
}

// issue runs a complete negotiation and returns the transaction id
func (p *testPeers) issue(t *testing.T, terms token.Terms) string {
	t.Helper()
	id, pin := p.negotiate(t, terms)
	if _, err := p.provider.Decide(context.Background(), id, true, pin); err != nil {
		t.Fatalf("Decide() error = %v", err)
	}
	return id
}

func oneOffTerms() token.Terms {
	return token.Terms{Amount: token.MustAmount("25.00"), Currency: "GBP"}
}

func monthlyTerms() token.Terms {
	return token.Terms{Amount: token.MustAmount("9.99"), Currency: "GBP", Period: token.PeriodMonthly}
}

// mustRecord returns a party's issued record for id
func mustRecord(t *testing.T, p *party, id string) *store.IssuedRecord {
	t.Helper()
	rec, err := p.GetToken(context.Background(), id)
	if err != nil {
		t.Fatalf("GetToken(%s) error = %v", id, err)
	}
	return rec
}
