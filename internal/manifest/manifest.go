// Package manifest keeps a sqlite ledger of export runs and downloaded
// assets, so a rerun can account for what is already on disk.
package manifest

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// Store handles manifest persistence.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Run is one recorded pipeline invocation.
type Run struct {
	ID         string     `db:"id"`
	Kind       string     `db:"kind"`
	ScopeID    int64      `db:"scope_id"`
	RowCount   int        `db:"row_count"`
	AssetCount int        `db:"asset_count"`
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
}

// Asset is one saved download.
type Asset struct {
	RunID     string    `db:"run_id"`
	MediaID   int64     `db:"media_id"`
	SourceURL string    `db:"source_url"`
	LocalPath string    `db:"local_path"`
	SizeBytes int64     `db:"size_bytes"`
	SavedAt   time.Time `db:"saved_at"`
}

// Open opens (creating if necessary) the manifest database at path.
func Open(path string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest database: %w", err)
	}

	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate manifest database: %w", err)
	}

	logger.Info("Manifest store initialized", zap.String("db_path", path))
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		scope_id INTEGER NOT NULL,
		row_count INTEGER DEFAULT 0,
		asset_count INTEGER DEFAULT 0,
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);

	CREATE TABLE IF NOT EXISTS assets (
		run_id TEXT NOT NULL,
		media_id INTEGER NOT NULL,
		source_url TEXT NOT NULL,
		local_path TEXT NOT NULL,
		size_bytes INTEGER NOT NULL,
		saved_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_assets_media ON assets(media_id, source_url);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun records the start of a pipeline invocation and returns its id.
func (s *Store) BeginRun(kind string, scopeID int64) (string, error) {
	runID := uuid.New().String()
	_, err := s.db.Exec(
		`INSERT INTO runs (id, kind, scope_id, started_at) VALUES (?, ?, ?, ?)`,
		runID, kind, scopeID, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return runID, nil
}

// FinishRun records the final row and asset counts for a run.
func (s *Store) FinishRun(runID string, rowCount, assetCount int) error {
	_, err := s.db.Exec(
		`UPDATE runs SET row_count = ?, asset_count = ?, finished_at = ? WHERE id = ?`,
		rowCount, assetCount, time.Now().UTC(), runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	return nil
}

// RecordAsset records one saved download.
func (s *Store) RecordAsset(runID string, mediaID int64, sourceURL, localPath string, sizeBytes int64) error {
	_, err := s.db.Exec(
		`INSERT INTO assets (run_id, media_id, source_url, local_path, size_bytes, saved_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		runID, mediaID, sourceURL, localPath, sizeBytes, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record asset: %w", err)
	}
	return nil
}

// AssetPath returns the most recently recorded local path for a media id and
// source URL, if any.
func (s *Store) AssetPath(mediaID int64, sourceURL string) (string, bool) {
	var path string
	err := s.db.Get(&path,
		`SELECT local_path FROM assets WHERE media_id = ? AND source_url = ?
		 ORDER BY saved_at DESC LIMIT 1`,
		mediaID, sourceURL,
	)
	if err != nil {
		return "", false
	}
	return path, true
}
