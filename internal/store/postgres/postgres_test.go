package postgres

import (
	"context"
	"os"
	"testing"

	"tablestore/internal/store"
	"tablestore/internal/store/storetest"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to TABLESTORE_TEST_DATABASE_URL, migrates and empties
// the schema. Tests are skipped when the variable is not set.
func setupTestDB(t *testing.T) *Store {
	databaseURL := os.Getenv("TABLESTORE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TABLESTORE_TEST_DATABASE_URL not set, skipping PostgreSQL tests")
	}
	ctx := context.Background()

	_, err := Migrate(ctx, databaseURL)
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, databaseURL)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `truncate public.documents, public.accounts`)
	require.NoError(t, err)
	pool.Close()

	s, err := NewStore(databaseURL, storetest.Tables)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return setupTestDB(t)
	})
}
