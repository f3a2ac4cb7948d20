package bootstrap

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"
)

// EnsureDataDirectory creates the directory holding the SQLite database and
// verifies it is writable.
func EnsureDataDirectory(sqlitePath string, sugar *zap.SugaredLogger) error {
	if sqlitePath == "" || sqlitePath == ":memory:" {
		return nil
	}
	dir, err := filepath.Abs(filepath.Dir(sqlitePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path for %s: %w", sqlitePath, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w\n"+
			"  Remediation: Ensure the parent directory exists and is writable\n"+
			"  For Docker: Check volume mount permissions", dir, err)
	}

	probe, err := os.CreateTemp(dir, ".sentinel_write_test_*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w\n"+
			"  Remediation: Check file system permissions or set SENTINEL_DATA_DIR", dir, err)
	}
	probe.Close()
	os.Remove(probe.Name())

	sugar.Infow("Data directory ready", "path", dir)
	return nil
}

// ClassifyRedisError turns a redis connection failure into an operator hint.
func ClassifyRedisError(err error, addr string) string {
	if err == nil {
		return ""
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to Redis at %s timed out.\n"+
			"  Remediation:\n"+
			"  - Check if Redis is running: redis-cli -h <host> ping\n"+
			"  - Verify network connectivity and firewall rules", addr)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" && errors.Is(opErr.Err, syscall.ECONNREFUSED) {
		return fmt.Sprintf("Connection refused by Redis at %s.\n"+
			"  This usually means Redis is not running.\n"+
			"  Remediation:\n"+
			"  - Start Redis: docker compose up -d redis\n"+
			"  - Verify storage.redis.addr or SENTINEL_REDIS_ADDR", addr)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such host"):
		return fmt.Sprintf("Cannot resolve hostname in Redis address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Try using an IP address instead of a hostname", addr)
	case strings.Contains(msg, "noauth") || strings.Contains(msg, "wrongpass") || strings.Contains(msg, "invalid password"):
		return fmt.Sprintf("Authentication failed for Redis at %s.\n"+
			"  Remediation:\n"+
			"  - Set storage.redis.password or SENTINEL_REDIS_PASSWORD", addr)
	}

	return fmt.Sprintf("Failed to connect to Redis at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure Redis is running and accessible\n"+
		"  - Check the storage.redis settings in config.yaml", addr, err)
}

// ClassifySQLiteError provides specific error messages based on the type of SQLite failure.
func ClassifySQLiteError(err error, dbPath string) string {
	if err == nil {
		return ""
	}

	msg := strings.ToLower(err.Error())
	absPath, _ := filepath.Abs(dbPath)
	parentDir := filepath.Dir(absPath)

	switch {
	case strings.Contains(msg, "permission denied") || strings.Contains(msg, "access denied"):
		return fmt.Sprintf("Permission denied accessing SQLite database at %s.\n"+
			"  Remediation:\n"+
			"  - Check file permissions: ls -la %s\n"+
			"  - Check directory permissions: ls -la %s",
			absPath, absPath, parentDir)

	case strings.Contains(msg, "database is locked") || strings.Contains(msg, "sqlite_busy"):
		return fmt.Sprintf("SQLite database at %s is locked by another process.\n"+
			"  Possible causes:\n"+
			"  - Another Sentinel instance is running against the same file\n"+
			"  Remediation:\n"+
			"  - Check for running processes: ps aux | grep sentinel\n"+
			"  - Use a separate SENTINEL_SQLITE_PATH per instance", absPath)

	case strings.Contains(msg, "disk full") || strings.Contains(msg, "no space") || strings.Contains(msg, "sqlite_full"):
		return fmt.Sprintf("Disk full - cannot write to SQLite database at %s.\n"+
			"  Remediation:\n"+
			"  - Check available disk space: df -h %s", absPath, parentDir)

	case strings.Contains(msg, "corrupt") || strings.Contains(msg, "malformed"):
		return fmt.Sprintf("SQLite database at %s appears to be corrupted.\n"+
			"  CRITICAL: Backup any existing data before proceeding!\n"+
			"  Remediation options:\n"+
			"  1. Check integrity: sqlite3 %s \"PRAGMA integrity_check;\"\n"+
			"  2. Try recovery: sqlite3 %s \".recover\" | sqlite3 %s.recovered",
			absPath, absPath, absPath, absPath)

	case strings.Contains(msg, "read-only"):
		return fmt.Sprintf("SQLite database location is on a read-only file system: %s.\n"+
			"  Remediation:\n"+
			"  - Move the database to a writable location via SENTINEL_SQLITE_PATH", absPath)
	}

	return fmt.Sprintf("Failed to initialize SQLite database at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure the directory %s exists and is writable", absPath, err, parentDir)
}
