package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/veranemoloko/batchdl/internal/domain"
	_ "modernc.org/sqlite"
)

// schemaVersion is stored in PRAGMA user_version.
//
//	1: taskId NOT NULL
//	2: taskId nullable
//	3: method and headers columns
const schemaVersion = 3

const downloadColumns = "id, taskId, url, resumePath, destinationPath, status, batchId, method, headers"

// SQLiteStore persists batches and their downloads in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	file string
}

var _ DownloadsStore = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at filePath and migrates it.
func NewSQLiteStore(ctx context.Context, filePath string) (*SQLiteStore, error) {
	file := filepath.Clean(filePath)
	if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := "file:" + file +
		"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single writer; all access is serialized on one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, file: file}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	slog.Info("downloads database opened", "file_path", file, "schema_version", schemaVersion)
	return store, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version == schemaVersion {
		return nil
	}
	if version > schemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported %d", version, schemaVersion)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS batch (
			id INTEGER PRIMARY KEY AUTOINCREMENT
		)`); err != nil {
			return fmt.Errorf("create batch table: %w", err)
		}

		switch {
		case version < 2:
			// taskId has to become nullable and SQLite cannot drop a NOT NULL
			// constraint. Unfinished downloads can be requested again.
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS download"); err != nil {
				return fmt.Errorf("drop download table: %w", err)
			}
			if err := createDownloadTable(ctx, tx); err != nil {
				return err
			}
		case version == 2:
			for _, stmt := range []string{
				"ALTER TABLE download ADD COLUMN method TEXT NOT NULL DEFAULT 'GET'",
				"ALTER TABLE download ADD COLUMN headers TEXT",
			} {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("upgrade download table: %w", err)
				}
			}
		}

		if _, err := tx.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS download_url ON download(url)"); err != nil {
			return fmt.Errorf("create url index: %w", err)
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
			return fmt.Errorf("write schema version: %w", err)
		}
		slog.Info("downloads database migrated", "from_version", version, "to_version", schemaVersion)
		return nil
	})
}

func createDownloadTable(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS download (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		taskId INTEGER,
		url TEXT NOT NULL,
		resumePath TEXT NOT NULL,
		destinationPath TEXT NOT NULL,
		status INTEGER NOT NULL,
		batchId INTEGER NOT NULL REFERENCES batch(id) ON DELETE CASCADE,
		method TEXT NOT NULL DEFAULT 'GET',
		headers TEXT
	)`)
	if err != nil {
		return fmt.Errorf("create download table: %w", err)
	}
	return nil
}

// RetrieveAll returns every batch with its downloads, ordered by batch id.
func (s *SQLiteStore) RetrieveAll(ctx context.Context) ([]domain.DownloadBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.query(ctx, "SELECT "+downloadColumns+" FROM download ORDER BY batchId, id")
}

// Retrieve returns the batches holding downloads in the given status, with only those downloads.
func (s *SQLiteStore) Retrieve(ctx context.Context, status domain.DownloadStatus) ([]domain.DownloadBatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.query(ctx, "SELECT "+downloadColumns+" FROM download WHERE status = ? ORDER BY batchId, id", int(status))
}

func (s *SQLiteStore) query(ctx context.Context, query string, args ...interface{}) ([]domain.DownloadBatch, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query downloads: %w", err)
	}
	defer rows.Close()

	var batches []domain.DownloadBatch
	for rows.Next() {
		download, err := scanDownload(rows)
		if err != nil {
			return nil, err
		}
		last := len(batches) - 1
		if last < 0 || batches[last].ID != download.BatchID {
			batches = append(batches, domain.DownloadBatch{ID: download.BatchID})
			last++
		}
		batches[last].Downloads = append(batches[last].Downloads, download)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate downloads: %w", err)
	}

	slog.Debug("downloads retrieved", "batches_count", len(batches))
	return batches, nil
}

func scanDownload(rows *sql.Rows) (domain.Download, error) {
	var (
		download domain.Download
		taskID   sql.NullInt64
		status   int
		headers  sql.NullString
	)
	err := rows.Scan(
		&download.ID,
		&taskID,
		&download.Request.URL,
		&download.Request.ResumePath,
		&download.Request.DestinationPath,
		&status,
		&download.BatchID,
		&download.Request.Method,
		&headers,
	)
	if err != nil {
		return download, fmt.Errorf("failed to scan download: %w", err)
	}

	download.Status = domain.DownloadStatus(status)
	if taskID.Valid {
		download.TaskID = domain.TaskIDPtr(int(taskID.Int64))
	}
	if headers.Valid && headers.String != "" {
		if err := json.Unmarshal([]byte(headers.String), &download.Request.Headers); err != nil {
			return download, fmt.Errorf("failed to unmarshal headers of %s: %w", download.Request.URL, err)
		}
	}
	return download, nil
}

// Insert creates one batch and its downloads atomically.
func (s *SQLiteStore) Insert(ctx context.Context, request domain.BatchRequest, status domain.DownloadStatus) (domain.DownloadBatch, error) {
	var batch domain.DownloadBatch
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "INSERT INTO batch DEFAULT VALUES")
		if err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		batch.ID, err = res.LastInsertId()
		if err != nil {
			return fmt.Errorf("get batch id: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO download
			(taskId, url, resumePath, destinationPath, status, batchId, method, headers)
			VALUES (NULL, ?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare download insert: %w", err)
		}
		defer stmt.Close()

		for _, req := range request.Requests {
			req = req.Normalized()
			headers, err := encodeHeaders(req.Headers)
			if err != nil {
				return err
			}
			res, err := stmt.ExecContext(ctx, req.URL, req.ResumePath, req.DestinationPath, int(status), batch.ID, req.Method, headers)
			if err != nil {
				return fmt.Errorf("insert download %s: %w", req.URL, err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("get download id: %w", err)
			}
			batch.Downloads = append(batch.Downloads, domain.Download{
				ID:      id,
				Request: req,
				Status:  status,
				BatchID: batch.ID,
			})
		}
		return nil
	})
	if err != nil {
		return domain.DownloadBatch{}, fmt.Errorf("failed to insert batch: %w", err)
	}

	slog.Debug("batch inserted", "batch_id", batch.ID, "downloads_count", len(batch.Downloads))
	return batch, nil
}

func encodeHeaders(headers map[string]string) (interface{}, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("marshal headers: %w", err)
	}
	return string(data), nil
}

// Update writes status and task id of each download, matching rows by URL.
// Task ids are reassigned on every relaunch, URLs are stable.
func (s *SQLiteStore) Update(ctx context.Context, downloads []domain.Download) error {
	if len(downloads) == 0 {
		return nil
	}
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, "UPDATE download SET status = ?, taskId = ? WHERE url = ?")
		if err != nil {
			return fmt.Errorf("prepare download update: %w", err)
		}
		defer stmt.Close()

		for _, download := range downloads {
			var taskID interface{}
			if download.TaskID != nil {
				taskID = *download.TaskID
			}
			if _, err := stmt.ExecContext(ctx, int(download.Status), taskID, download.Request.URL); err != nil {
				return fmt.Errorf("update download %s: %w", download.Request.URL, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to update downloads: %w", err)
	}

	slog.Debug("downloads updated", "downloads_count", len(downloads))
	return nil
}

// Delete removes the batches and their downloads.
func (s *SQLiteStore) Delete(ctx context.Context, batchIDs []int64) error {
	if len(batchIDs) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(batchIDs)), ",")
	args := make([]interface{}, len(batchIDs))
	for i, id := range batchIDs {
		args[i] = id
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM download WHERE batchId IN ("+placeholders+")", args...); err != nil {
			return fmt.Errorf("delete downloads: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM batch WHERE id IN ("+placeholders+")", args...); err != nil {
			return fmt.Errorf("delete batches: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete batches: %w", err)
	}

	slog.Debug("batches deleted", "batch_ids", batchIDs)
	return nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
