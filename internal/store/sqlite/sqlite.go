// Package sqlite is the embedded single-file store backend.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"tablestore/internal/dbx"
	"tablestore/internal/model"
	"tablestore/internal/store"
	"tablestore/internal/store/migrations"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type Store struct {
	db     *sql.DB
	tables model.TableSet
}

// Open opens (creating if needed) the database file at path and applies
// pending migrations.
func Open(ctx context.Context, path string, tables model.TableSet) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serializes every write; readers queue behind it.
	db.SetMaxOpenConns(1)

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctxPing); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	if _, err := migrations.Up(ctx, db, migrations.SQLite); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, tables: tables}, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	return "file:" + path + "?" + q.Encode()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) checkTable(t model.Table) error {
	if !s.tables.Contains(t) {
		return fmt.Errorf("%w: %q", store.ErrInvalidTable, t)
	}
	return nil
}

func (s *Store) ListDocuments(ctx context.Context, t model.Table) ([]model.Document, error) {
	if err := s.checkTable(t); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, data FROM documents
		WHERE collection = ?
		ORDER BY seq ASC
	`, string(t))
	if err != nil {
		return nil, mapSQLiteErr(err)
	}
	defer rows.Close()

	out := []model.Document{}
	for rows.Next() {
		var d model.Document
		var data string
		if err := rows.Scan(&d.ID, &data); err != nil {
			return nil, mapSQLiteErr(err)
		}
		d.Data = []byte(data)
		out = append(out, d)
	}
	return out, mapSQLiteErr(rows.Err())
}

func (s *Store) ReplaceDocuments(ctx context.Context, t model.Table, docs []model.Document) (int, error) {
	if err := s.checkTable(t); err != nil {
		return 0, err
	}

	docs = store.CollapseDuplicates(docs)
	now := timestamp(time.Now())

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ?`, string(t)); err != nil {
			return err
		}
		for _, d := range docs {
			if err := upsertDocument(ctx, tx, t, d, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, mapSQLiteErr(err)
	}
	return len(docs), nil
}

func (s *Store) UpsertDocument(ctx context.Context, t model.Table, doc model.Document) error {
	if err := s.checkTable(t); err != nil {
		return err
	}
	return mapSQLiteErr(upsertDocument(ctx, s.db, t, doc, timestamp(time.Now())))
}

func upsertDocument(ctx context.Context, db dbx.DBTX, t model.Table, d model.Document, now string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE
		SET data = excluded.data,
		    updated_at = excluded.updated_at
	`, string(t), d.ID, string(d.Data), now)
	return err
}

func (s *Store) DeleteDocument(ctx context.Context, t model.Table, id string) error {
	if err := s.checkTable(t); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, string(t), id)
	return mapSQLiteErr(err)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func mapSQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return store.ErrConflict
		case sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_NOTNULL:
			return store.Rejected(store.ErrInvalidPayload, se.Error())
		case sqlite3.SQLITE_CONSTRAINT:
			// Primary code only: match on the message.
			if strings.Contains(se.Error(), "UNIQUE") {
				return store.ErrConflict
			}
			return store.Rejected(store.ErrInvalidPayload, se.Error())
		}
		return fmt.Errorf("sqlite_error %d: %w", se.Code(), err)
	}
	return err
}
