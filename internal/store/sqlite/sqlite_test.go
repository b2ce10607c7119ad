package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"tablestore/internal/model"
	"tablestore/internal/store"
	"tablestore/internal/store/storetest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(context.Background(), path, storetest.Tables)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openTestStore(t, filepath.Join(t.TempDir(), "contract.db"))
	})
}

func TestDataSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	ctx := context.Background()

	s, err := Open(ctx, path, storetest.Tables)
	require.NoError(t, err)
	_, err = s.ReplaceDocuments(ctx, "prompts", []model.Document{{ID: "1", Data: []byte(`{"id":"1","title":"x"}`)}})
	require.NoError(t, err)
	s.Close()

	reopened := openTestStore(t, path)
	docs, err := reopened.ListDocuments(ctx, "prompts")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, `{"id":"1","title":"x"}`, string(docs[0].Data))
}

func TestUpsertRejectsInvalidJSON(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "json.db"))

	err := s.UpsertDocument(context.Background(), "prompts", model.Document{ID: "1", Data: []byte(`{not json`)})
	assert.ErrorIs(t, err, store.ErrInvalidPayload)

	var rejected *store.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Detail, "CHECK")
	assert.NotContains(t, err.Error(), "CHECK")
}
