package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/information-sharing-networks/stp-demo/internal/stp"
	"github.com/information-sharing-networks/stp-demo/internal/store"
)

// Environment variables with defaults
type ServerEnvironment struct {
	// Role is set by the binary, not the environment
	Role stp.Role

	// http server settings
	Environment           string        `env:"ENVIRONMENT,default=dev"`
	Host                  string        `env:"HOST,default=0.0.0.0"`
	Port                  int           `env:"PORT,default=8080"`
	LogLevel              string        `env:"LOG_LEVEL,default=debug"`
	ServerShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s"`
	ReadTimeout           time.Duration `env:"READ_TIMEOUT,default=15s"`
	WriteTimeout          time.Duration `env:"WRITE_TIMEOUT,default=60s"`
	IdleTimeout           time.Duration `env:"IDLE_TIMEOUT,default=60s"`
	RequestTimeout        time.Duration `env:"REQUEST_TIMEOUT,default=45s"`
	RateLimitRPS          int32         `env:"RATE_LIMIT_RPS,default=100"`
	RateLimitBurst        int32         `env:"RATE_LIMIT_BURST,default=200"`
	MaxRequestSize        int64         `env:"MAX_REQUEST_SIZE,default=1048576"`

	// protocol settings
	PublicHost     string        `env:"PUBLIC_HOST"`
	PeerScheme     string        `env:"PEER_SCHEME,default=https"`
	PeerTimeout    time.Duration `env:"PEER_TIMEOUT,default=10s"`
	LockWait       time.Duration `env:"LOCK_WAIT_TIMEOUT,default=2s"`
	PINWaitTimeout time.Duration `env:"PIN_WAIT_TIMEOUT,default=30s"`
	NegotiationTTL time.Duration `env:"NEGOTIATION_TTL,default=15m"`
	SigningKeyPath string        `env:"SIGNING_KEY_PATH,required=true"`

	// storage settings
	StoreBackend        string        `env:"STORE_BACKEND,default=memory"`
	BoltPath            string        `env:"BOLT_PATH,default=stp.db"`
	DatabaseURL         string        `env:"DATABASE_URL"`
	DBMaxConnections    int32         `env:"DB_MAX_CONNECTIONS,default=4"`
	DBMinConnections    int32         `env:"DB_MIN_CONNECTIONS,default=0"`
	DBMaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME,default=60m"`
	DBMaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME,default=30m"`
	DBConnectTimeout    time.Duration `env:"DB_CONNECT_TIMEOUT,default=5s"`
	DatabasePingTimeout time.Duration `env:"DATABASE_PING_TIMEOUT,default=10s"`

	// vendor settings: the bank registry used to verify Hello signatures
	RegistryPath       string        `env:"REGISTRY_PATH"`
	ManualKeysDir      string        `env:"MANUAL_KEYS_DIR"`
	SkipJWKCache       bool          `env:"SKIP_JWK_CACHE,default=false"`
	JWKCacheMinRefresh time.Duration `env:"JWK_CACHE_MIN_REFRESH,default=10m"`
	JWKCacheMaxRefresh time.Duration `env:"JWK_CACHE_MAX_REFRESH,default=12h"`
	VendorName         string        `env:"VENDOR_NAME,default=Demo Vendor"`
	VendorLogoURL      string        `env:"VENDOR_LOGO_URL"`
	VendorAddress      string        `env:"VENDOR_ADDRESS"`

	// provider settings
	BankBIC                 string `env:"BANK_BIC"`
	BankName                string `env:"BANK_NAME,default=Demo Bank"`
	AutoAcceptModifications bool   `env:"AUTO_ACCEPT_MODIFICATIONS,default=false"`
}

var validEnvs = map[string]bool{
	"dev":     true,
	"test":    true,
	"prod":    true,
	"staging": true,
}

var validSchemes = map[string]bool{
	"http":  true,
	"https": true,
}

// NewServerConfig loads the environment for the given role and validates it
func NewServerConfig(role stp.Role) (*ServerEnvironment, error) {
	var cfg ServerEnvironment

	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal environment variables: %w", err)
	}
	cfg.Role = role

	if cfg.PublicHost == "" {
		cfg.PublicHost = fmt.Sprintf("localhost:%d", cfg.Port)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validateConfig checks ranges and the settings required by the role
func validateConfig(cfg *ServerEnvironment) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if !validEnvs[cfg.Environment] {
		return fmt.Errorf("invalid ENVIRONMENT: %s", cfg.Environment)
	}
	if !validSchemes[cfg.PeerScheme] {
		return fmt.Errorf("PEER_SCHEME must be http or https, got %q", cfg.PeerScheme)
	}

	if cfg.PeerTimeout <= 0 {
		return fmt.Errorf("PEER_TIMEOUT must be positive")
	}
	if cfg.LockWait <= 0 {
		return fmt.Errorf("LOCK_WAIT_TIMEOUT must be positive")
	}
	// a peer waiting on our lock must get REVISION_IN_PROGRESS before its own call times out
	if cfg.LockWait >= cfg.PeerTimeout {
		return fmt.Errorf("LOCK_WAIT_TIMEOUT (%s) must be less than PEER_TIMEOUT (%s)", cfg.LockWait, cfg.PeerTimeout)
	}
	if cfg.PINWaitTimeout <= 0 {
		return fmt.Errorf("PIN_WAIT_TIMEOUT must be positive")
	}
	if cfg.PINWaitTimeout >= cfg.RequestTimeout || cfg.PeerTimeout >= cfg.RequestTimeout {
		return fmt.Errorf("PIN_WAIT_TIMEOUT and PEER_TIMEOUT must be less than REQUEST_TIMEOUT (%s)", cfg.RequestTimeout)
	}
	// a request must outlive the calls that consume it
	if cfg.NegotiationTTL < cfg.RequestTimeout {
		return fmt.Errorf("NEGOTIATION_TTL (%s) must be at least REQUEST_TIMEOUT (%s)", cfg.NegotiationTTL, cfg.RequestTimeout)
	}
	if cfg.MaxRequestSize < 1 {
		return fmt.Errorf("MAX_REQUEST_SIZE must be at least 1")
	}

	switch cfg.StoreBackend {
	case store.BackendMemory:
	case store.BackendBolt:
		if cfg.BoltPath == "" {
			return fmt.Errorf("BOLT_PATH is required when STORE_BACKEND is bolt")
		}
	case store.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
		}
		if cfg.DBMaxConnections < 1 {
			return fmt.Errorf("DB_MAX_CONNECTIONS must be at least 1")
		}
		if cfg.DBMinConnections < 0 {
			return fmt.Errorf("DB_MIN_CONNECTIONS must be 0 or greater")
		}
		if cfg.DBMinConnections > cfg.DBMaxConnections {
			return fmt.Errorf("DB_MIN_CONNECTIONS (%d) cannot be greater than DB_MAX_CONNECTIONS (%d)",
				cfg.DBMinConnections, cfg.DBMaxConnections)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be memory, bolt or postgres, got %q", cfg.StoreBackend)
	}

	switch cfg.Role {
	case stp.RoleVendor:
		if cfg.RegistryPath == "" {
			return fmt.Errorf("REGISTRY_PATH is required for the vendor")
		}
		if cfg.VendorName == "" {
			return fmt.Errorf("VENDOR_NAME must not be empty")
		}
	case stp.RoleProvider:
		if cfg.BankBIC == "" {
			return fmt.Errorf("BANK_BIC is required for the provider")
		}
		if err := stp.ValidateBIC(cfg.BankBIC); err != nil {
			return fmt.Errorf("invalid BANK_BIC: %w", err)
		}
	default:
		return fmt.Errorf("unknown role %q", cfg.Role)
	}

	return nil
}
