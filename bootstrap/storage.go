package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"sentinel/config"
	"sentinel/storage"

	"go.uber.org/zap"
)

// redisRetryDelays spaces out the initial redis connection attempts
var redisRetryDelays = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}

// InitRepository opens the case repository selected by storage.backend.
func InitRepository(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (storage.CaseRepository, error) {
	switch cfg.Storage.Backend {
	case config.BackendSQLite:
		return initSQLite(cfg, sugar)
	case config.BackendRedis:
		return initRedis(ctx, cfg, sugar)
	case config.BackendMemory:
		sugar.Warn("Using in-memory storage: case data is lost on exit")
		return storage.NewMemoryRepository(), nil
	default:
		return nil, fmt.Errorf("%w: %q", storage.ErrUnknownBackend, cfg.Storage.Backend)
	}
}

func initSQLite(cfg *config.Config, sugar *zap.SugaredLogger) (storage.CaseRepository, error) {
	path := cfg.DataPaths.SQLitePath
	if err := EnsureDataDirectory(path, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	sqlite, err := storage.NewSQLite(path, sugar)
	if err != nil {
		printFatal("SQLite Initialization Failed", ClassifySQLiteError(err, path))
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}
	sugar.Infow("SQLite case store ready", "path", path)
	return sqlite, nil
}

func initRedis(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (storage.CaseRepository, error) {
	rc := cfg.Storage.Redis
	repo := storage.NewRedisRepository(storage.RedisOptions{
		Addr:      rc.Addr,
		Password:  rc.Password,
		DB:        rc.DB,
		PoolSize:  rc.PoolSize,
		KeyPrefix: rc.KeyPrefix,
	}, sugar)

	var lastErr error
	for attempt := 0; attempt <= len(redisRetryDelays); attempt++ {
		if attempt > 0 {
			delay := redisRetryDelays[attempt-1]
			sugar.Infow("Retrying Redis connection",
				"attempt", attempt,
				"max_retries", len(redisRetryDelays),
				"delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				repo.Close()
				return nil, ctx.Err()
			}
		}

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		lastErr = repo.Ping(pingCtx)
		cancel()
		if lastErr == nil {
			sugar.Infow("Connected to Redis", "addr", rc.Addr, "key_prefix", rc.KeyPrefix)
			return repo, nil
		}
		sugar.Warnw("Redis connection attempt failed", "attempt", attempt+1, "error", lastErr)
	}

	repo.Close()
	printFatal("Redis Connection Failed", ClassifyRedisError(lastErr, rc.Addr))
	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", len(redisRetryDelays)+1, lastErr)
}

func printFatal(title, detail string) {
	fmt.Fprintf(os.Stderr, "\n========================================\n")
	fmt.Fprintf(os.Stderr, "FATAL: %s\n", title)
	fmt.Fprintf(os.Stderr, "========================================\n")
	fmt.Fprintf(os.Stderr, "%s\n", detail)
	fmt.Fprintf(os.Stderr, "========================================\n\n")
}
