// Package storage provides SQLite implementation of the Storage interface.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/storyforge/internal/models"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps "check then insert" dedup serialised.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id TEXT NOT NULL,
		content TEXT NOT NULL,
		metadata TEXT,
		embedding BLOB,
		source_key TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_source ON records(source_key);

	CREATE TABLE IF NOT EXISTS ingested_files (
		key TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		mod_time INTEGER NOT NULL,
		size INTEGER NOT NULL
	);
	`
	_, err := db.Exec(schema)
	return err
}

// CreateRecord inserts a record. Returns ErrDuplicate if the ID already exists in its collection.
func (s *SQLiteStorage) CreateRecord(ctx context.Context, rec *models.Record) error {
	metadataJSON, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	rec.CreatedAt = time.Now()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (collection, id, content, metadata, embedding, source_key, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Collection, rec.ID, rec.Content, string(metadataJSON), EncodeEmbedding(rec.Embedding), rec.SourceKey, rec.CreatedAt,
	)
	if isConstraintErr(err) {
		return fmt.Errorf("%s/%s: %w", rec.Collection, rec.ID, ErrDuplicate)
	}
	return err
}

func isConstraintErr(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

// GetRecord returns a record by collection and ID.
func (s *SQLiteStorage) GetRecord(ctx context.Context, collection, id string) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT collection, id, content, metadata, embedding, source_key, created_at
		 FROM records WHERE collection = ? AND id = ?`, collection, id,
	)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record not found: %s/%s", collection, id)
	}
	return rec, err
}

// HasRecord reports whether (collection, id) exists.
func (s *SQLiteStorage) HasRecord(ctx context.Context, collection, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM records WHERE collection = ? AND id = ?`, collection, id,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// ListRecords returns a collection's records in insertion order. A limit <= 0 returns all.
func (s *SQLiteStorage) ListRecords(ctx context.Context, collection string, offset, limit int) ([]*models.Record, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT collection, id, content, metadata, embedding, source_key, created_at
		 FROM records WHERE collection = ? ORDER BY rowid LIMIT ? OFFSET ?`,
		collection, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// DeleteRecord removes one record.
func (s *SQLiteStorage) DeleteRecord(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE collection = ? AND id = ?`, collection, id)
	return err
}

// DeleteBySource removes all records harvested from sourceKey and returns them.
func (s *SQLiteStorage) DeleteBySource(ctx context.Context, sourceKey string) ([]*models.Record, error) {
	if sourceKey == "" {
		return nil, fmt.Errorf("source key cannot be empty")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT collection, id, content, metadata, embedding, source_key, created_at
		 FROM records WHERE source_key = ? ORDER BY rowid`, sourceKey,
	)
	if err != nil {
		return nil, err
	}
	removed, err := scanRecords(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE source_key = ?`, sourceKey); err != nil {
		return nil, err
	}
	return removed, tx.Commit()
}

// CountRecords returns the number of records in a collection.
func (s *SQLiteStorage) CountRecords(ctx context.Context, collection string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records WHERE collection = ?`, collection).Scan(&count)
	return count, err
}

// GetIngestedFile returns the stored harvest state for key, or nil when never harvested.
func (s *SQLiteStorage) GetIngestedFile(ctx context.Context, key string) (*models.IngestedFile, error) {
	var f models.IngestedFile
	err := s.db.QueryRowContext(ctx,
		`SELECT key, path, mod_time, size FROM ingested_files WHERE key = ?`, key,
	).Scan(&f.Key, &f.Path, &f.ModTime, &f.Size)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// PutIngestedFile upserts harvest state.
func (s *SQLiteStorage) PutIngestedFile(ctx context.Context, f *models.IngestedFile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ingested_files (key, path, mod_time, size) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET path = excluded.path, mod_time = excluded.mod_time, size = excluded.size`,
		f.Key, f.Path, f.ModTime, f.Size,
	)
	return err
}

// DeleteIngestedFile forgets harvest state for key.
func (s *SQLiteStorage) DeleteIngestedFile(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM ingested_files WHERE key = ?`, key)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var rec models.Record
	var metadataJSON sql.NullString
	var blob []byte
	if err := row.Scan(&rec.Collection, &rec.ID, &rec.Content, &metadataJSON, &blob, &rec.SourceKey, &rec.CreatedAt); err != nil {
		return nil, err
	}
	if metadataJSON.Valid && metadataJSON.String != "" && metadataJSON.String != "null" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	emb, err := DecodeEmbedding(blob)
	if err != nil {
		return nil, err
	}
	rec.Embedding = emb
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*models.Record, error) {
	var recs []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
