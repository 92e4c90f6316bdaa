package server

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/information-sharing-networks/stp-demo/internal/config"
	"github.com/information-sharing-networks/stp-demo/internal/crypto"
	"github.com/information-sharing-networks/stp-demo/internal/store"
	"github.com/information-sharing-networks/stp-demo/internal/stp"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Open loads the signing key and the token store and, for the vendor, the bank registry.
// The caller owns the returned repository (see Server.StoreShutdown).
func Open(ctx context.Context, cfg *config.ServerEnvironment, appLogger *slog.Logger) (Dependencies, error) {
	var deps Dependencies

	signer, err := crypto.NewSignerFromJWKFile(filepath.Dir(cfg.SigningKeyPath), filepath.Base(cfg.SigningKeyPath))
	if err != nil {
		return deps, fmt.Errorf("failed to load signing key %s: %w", cfg.SigningKeyPath, err)
	}
	deps.Signer = signer
	appLogger.Info("signing key loaded",
		slog.String("kid", signer.KeyID()),
		slog.String("alg", string(signer.Algorithm())))

	if cfg.Role == stp.RoleVendor {
		deps.KeyManager, err = stp.NewKeyManager(ctx, &stp.KeyManagerConfig{
			RegistryPath:               cfg.RegistryPath,
			ManualKeysDir:              cfg.ManualKeysDir,
			SkipJWKCache:               cfg.SkipJWKCache,
			JWKCacheMinRefreshInterval: cfg.JWKCacheMinRefresh,
			JWKCacheMaxRefreshInterval: cfg.JWKCacheMaxRefresh,
		}, appLogger)
		if err != nil {
			return deps, fmt.Errorf("failed to initialize KeyManager: %w", err)
		}
	}

	if cfg.StoreBackend == store.BackendPostgres {
		deps.Pool, err = openPool(ctx, cfg)
		if err != nil {
			return deps, err
		}
		appLogger.Info("connected to PostgreSQL")
	}

	deps.Repository, err = store.OpenRepository(ctx, store.Options{
		Backend:  cfg.StoreBackend,
		BoltPath: cfg.BoltPath,
		Pool:     deps.Pool,
	})
	if err != nil {
		if deps.Pool != nil {
			deps.Pool.Close()
		}
		return deps, fmt.Errorf("failed to open %s token store: %w", cfg.StoreBackend, err)
	}
	appLogger.Info("token store opened", slog.String("backend", cfg.StoreBackend))

	return deps, nil
}

func openPool(ctx context.Context, cfg *config.ServerEnvironment) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	poolConfig.MaxConns = cfg.DBMaxConnections
	poolConfig.MinConns = cfg.DBMinConnections
	poolConfig.MaxConnLifetime = cfg.DBMaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.DBMaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = cfg.DBConnectTimeout

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DatabasePingTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(pingCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging database via pool: %w", err)
	}
	return pool, nil
}

// Run opens the dependencies, serves until ctx is cancelled and closes the token store
func Run(ctx context.Context, cfg *config.ServerEnvironment, appLogger *slog.Logger) error {
	deps, err := Open(ctx, cfg, appLogger)
	if err != nil {
		return err
	}

	srv, err := NewServer(cfg, appLogger, deps)
	if err != nil {
		_ = deps.Repository.Close()
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.StoreShutdown()

	return srv.Start(ctx)
}
