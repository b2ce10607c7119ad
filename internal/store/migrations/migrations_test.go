package migrations

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func TestUp_SQLiteIsIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	n, err := Up(ctx, db, SQLite)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = Up(ctx, db, SQLite)
	require.NoError(t, err)
	assert.Zero(t, n)

	var count int
	require.NoError(t, db.QueryRow(`SELECT count(*) FROM documents`).Scan(&count))
	assert.Zero(t, count)
}

func TestUp_UnknownDialect(t *testing.T) {
	_, err := Up(context.Background(), nil, Dialect("oracle"))
	assert.Error(t, err)
}
