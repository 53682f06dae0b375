// Package storage provides the shared BoltDB file the tool cache opens for
// its Record/Stats buckets (internal/toolcache).
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// OpenDB opens (creating if necessary) the BoltDB file at
// dataDir/search-mcp.db. On a lock timeout it backs up the existing file
// and retries once with a fresh one, rather than leaving the process
// wedged behind a stale lock from a crashed prior run.
func OpenDB(dataDir string, logger *zap.Logger) (*bbolt.DB, error) {
	dbPath := filepath.Join(dataDir, "search-mcp.db")

	db, err := bbolt.Open(dbPath, 0644, &bbolt.Options{Timeout: 10 * time.Second})
	if err == nil {
		return db, nil
	}

	logger.Warn("failed to open database on first attempt", zap.Error(err))

	if !errors.Is(err, bbolt.ErrTimeout) {
		return nil, fmt.Errorf("open bolt database: %w", err)
	}

	logger.Info("database lock timeout, attempting recovery")
	backupPath := dbPath + ".backup." + time.Now().Format("20060102-150405")
	if cpErr := copyFile(dbPath, backupPath); cpErr != nil {
		logger.Warn("failed to back up locked database", zap.Error(cpErr))
	}
	if rmErr := os.Remove(dbPath); rmErr != nil {
		logger.Warn("failed to remove locked database file", zap.Error(rmErr))
	}

	db, err = bbolt.Open(dbPath, 0644, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database after recovery attempt: %w", err)
	}
	return db, nil
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	return err
}
