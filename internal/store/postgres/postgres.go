package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"tablestore/internal/model"
	"tablestore/internal/store"
	"tablestore/internal/store/migrations"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
)

type Store struct {
	pool   *pgxpool.Pool
	tables model.TableSet
}

func NewStore(databaseURL string, tables model.TableSet) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	// Ping to fail fast.
	ctxPing, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return &Store{pool: pool, tables: tables}, nil
}

// Migrate applies pending schema migrations over a short-lived database/sql
// connection.
func Migrate(ctx context.Context, databaseURL string) (int, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return 0, fmt.Errorf("open: %w", err)
	}
	defer db.Close()

	return migrations.Up(ctx, db, migrations.Postgres)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
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

	rows, err := s.pool.Query(ctx, `
		select id, data::text
		from public.documents
		where collection = $1
		order by seq asc
	`, string(t))
	if err != nil {
		return nil, mapPgErr(err)
	}
	defer rows.Close()

	out := []model.Document{}
	for rows.Next() {
		var d model.Document
		var data string
		if err := rows.Scan(&d.ID, &data); err != nil {
			return nil, mapPgErr(err)
		}
		d.Data = []byte(data)
		out = append(out, d)
	}
	return out, mapPgErr(rows.Err())
}

const upsertDocumentSQL = `
	insert into public.documents (collection, id, data)
	values ($1, $2, $3::json)
	on conflict (collection, id) do update
	set data = excluded.data,
	    updated_at = now()
`

// lockCollection serializes writers of one collection until the transaction ends.
func lockCollection(ctx context.Context, tx pgx.Tx, t model.Table) error {
	_, err := tx.Exec(ctx, `select pg_advisory_xact_lock(hashtext($1))`, string(t))
	return err
}

func (s *Store) ReplaceDocuments(ctx context.Context, t model.Table, docs []model.Document) (int, error) {
	if err := s.checkTable(t); err != nil {
		return 0, err
	}
	docs = store.CollapseDuplicates(docs)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, mapPgErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockCollection(ctx, tx, t); err != nil {
		return 0, mapPgErr(err)
	}
	if _, err := tx.Exec(ctx, `delete from public.documents where collection = $1`, string(t)); err != nil {
		return 0, mapPgErr(err)
	}

	if len(docs) > 0 {
		batch := &pgx.Batch{}
		for _, d := range docs {
			batch.Queue(upsertDocumentSQL, string(t), d.ID, string(d.Data))
		}
		br := tx.SendBatch(ctx, batch)
		for range docs {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return 0, mapPgErr(err)
			}
		}
		if err := br.Close(); err != nil {
			return 0, mapPgErr(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, mapPgErr(err)
	}
	return len(docs), nil
}

func (s *Store) UpsertDocument(ctx context.Context, t model.Table, doc model.Document) error {
	if err := s.checkTable(t); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapPgErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockCollection(ctx, tx, t); err != nil {
		return mapPgErr(err)
	}
	if _, err := tx.Exec(ctx, upsertDocumentSQL, string(t), doc.ID, string(doc.Data)); err != nil {
		return mapPgErr(err)
	}
	return mapPgErr(tx.Commit(ctx))
}

func (s *Store) DeleteDocument(ctx context.Context, t model.Table, id string) error {
	if err := s.checkTable(t); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return mapPgErr(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockCollection(ctx, tx, t); err != nil {
		return mapPgErr(err)
	}
	if _, err := tx.Exec(ctx, `delete from public.documents where collection = $1 and id = $2`, string(t), id); err != nil {
		return mapPgErr(err)
	}
	return mapPgErr(tx.Commit(ctx))
}

func mapPgErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return store.ErrConflict
		case "23502", "23514", "22P02":
			// not null, check, invalid text representation (bad json)
			return store.Rejected(store.ErrInvalidPayload, pgErr.Message)
		default:
			return fmt.Errorf("db_error %s: %s", pgErr.Code, pgErr.Message)
		}
	}
	return err
}
