package index

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/hpungsan/snapkeep/internal/capture"
	"github.com/hpungsan/snapkeep/internal/errors"
)

// Store implements registry.Index on top of an open database.
type Store struct {
	db *sql.DB
}

// NewStore wraps db. The caller keeps ownership of db.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load returns every indexed file for dir and requestName, sorted by name.
// Values are never stored; Path is left for the registry to fill.
func (s *Store) Load(dir, requestName string) ([]*capture.File, error) {
	rows, err := s.db.Query(`
		SELECT name, modified_at, size, comment, labels_json, source_request
		FROM capture_files
		WHERE dir = ? AND request_name = ?
		ORDER BY name
	`, dir, requestName)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var files []*capture.File
	for rows.Next() {
		var (
			f          capture.File
			modifiedAt int64
			labelsJSON sql.NullString
			sourceReq  sql.NullString
		)
		if err := rows.Scan(&f.Name, &modifiedAt, &f.Size, &f.Metadata.Comment, &labelsJSON, &sourceReq); err != nil {
			return nil, errors.NewInternal(err)
		}
		f.ModifiedAt = time.Unix(0, modifiedAt)
		f.Metadata.SourceRequest = sourceReq.String
		f.Metadata.Labels = []string{}
		if labelsJSON.Valid && labelsJSON.String != "" {
			if err := json.Unmarshal([]byte(labelsJSON.String), &f.Metadata.Labels); err != nil {
				return nil, errors.NewInternal(err)
			}
		}
		files = append(files, &f)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return files, nil
}

// Upsert inserts or replaces the rows for files in a single transaction.
func (s *Store) Upsert(dir, requestName string, files []*capture.File) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO capture_files (
			dir, request_name, name, modified_at, size,
			comment, labels_json, source_request, indexed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(dir, request_name, name) DO UPDATE SET
			modified_at = excluded.modified_at,
			size = excluded.size,
			comment = excluded.comment,
			labels_json = excluded.labels_json,
			source_request = excluded.source_request,
			indexed_at = excluded.indexed_at
	`)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer stmt.Close()

	now := time.Now().Unix()
	for _, f := range files {
		var labelsJSON sql.NullString
		if len(f.Metadata.Labels) > 0 {
			data, err := json.Marshal(f.Metadata.Labels)
			if err != nil {
				return errors.NewInternal(err)
			}
			labelsJSON = sql.NullString{String: string(data), Valid: true}
		}
		if _, err := stmt.Exec(
			dir, requestName, f.Name, f.ModifiedAt.UnixNano(), f.Size,
			f.Metadata.Comment, labelsJSON, toNullString(f.Metadata.SourceRequest), now,
		); err != nil {
			return errors.NewInternal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// Delete removes the rows for names.
func (s *Store) Delete(dir, requestName string, names []string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, name := range names {
		if _, err := tx.Exec(
			`DELETE FROM capture_files WHERE dir = ? AND request_name = ? AND name = ?`,
			dir, requestName, name,
		); err != nil {
			return errors.NewInternal(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// Count returns the number of indexed files across all directories.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM capture_files`).Scan(&n); err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
