// Package storetest is the behavioural contract every store.Store backend
// must satisfy. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"tablestore/internal/model"
	"tablestore/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tables is the allow-list the suite opens stores with.
var Tables = model.MustTableSet("prompts", "comments")

// Opener returns a fresh, empty store configured with Tables.
type Opener func(t *testing.T) store.Store

func Run(t *testing.T, open Opener) {
	t.Run("ListEmpty", func(t *testing.T) { testListEmpty(t, open(t)) })
	t.Run("ReplaceThenList", func(t *testing.T) { testReplaceThenList(t, open(t)) })
	t.Run("ReplaceCollapsesDuplicates", func(t *testing.T) { testReplaceCollapsesDuplicates(t, open(t)) })
	t.Run("ReplaceRollsBackOnBadItem", func(t *testing.T) { testReplaceRollsBack(t, open(t)) })
	t.Run("ReplaceIsolatesTables", func(t *testing.T) { testReplaceIsolatesTables(t, open(t)) })
	t.Run("UpsertOverwrites", func(t *testing.T) { testUpsertOverwrites(t, open(t)) })
	t.Run("DeleteIsIdempotent", func(t *testing.T) { testDeleteIdempotent(t, open(t)) })
	t.Run("InvalidTable", func(t *testing.T) { testInvalidTable(t, open(t)) })
	t.Run("PromptsScenario", func(t *testing.T) { testPromptsScenario(t, open(t)) })
	t.Run("DataKeptVerbatim", func(t *testing.T) { testDataKeptVerbatim(t, open(t)) })

	t.Run("CreateAndGetAccount", func(t *testing.T) { testCreateAndGetAccount(t, open(t)) })
	t.Run("AccountUniqueness", func(t *testing.T) { testAccountUniqueness(t, open(t)) })
	t.Run("UpdateAccount", func(t *testing.T) { testUpdateAccount(t, open(t)) })
}

func doc(id, body string) model.Document {
	return model.Document{ID: id, Data: json.RawMessage(body)}
}

func ids(docs []model.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	return out
}

func testListEmpty(t *testing.T, s store.Store) {
	docs, err := s.ListDocuments(context.Background(), "prompts")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func testReplaceThenList(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.ReplaceDocuments(ctx, "prompts", []model.Document{
		doc("old-1", `{"id":"old-1"}`),
		doc("old-2", `{"id":"old-2"}`),
	})
	require.NoError(t, err)

	n, err := s.ReplaceDocuments(ctx, "prompts", []model.Document{
		doc("b", `{"id":"b","title":"second"}`),
		doc("a", `{"id":"a","title":"first"}`),
		doc("c", `{"id":"c","tags":["x","y"]}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	docs, err := s.ListDocuments(ctx, "prompts")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, ids(docs))
	assert.JSONEq(t, `{"id":"a","title":"first"}`, string(docs[1].Data))
	assert.JSONEq(t, `{"id":"c","tags":["x","y"]}`, string(docs[2].Data))

	n, err = s.ReplaceDocuments(ctx, "prompts", nil)
	require.NoError(t, err)
	assert.Zero(t, n)

	docs, err = s.ListDocuments(ctx, "prompts")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func testReplaceCollapsesDuplicates(t *testing.T, s store.Store) {
	ctx := context.Background()

	n, err := s.ReplaceDocuments(ctx, "prompts", []model.Document{
		doc("a", `{"id":"a","v":1}`),
		doc("b", `{"id":"b"}`),
		doc("a", `{"id":"a","v":2}`),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	docs, err := s.ListDocuments(ctx, "prompts")
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids(docs))
	assert.JSONEq(t, `{"id":"a","v":2}`, string(docs[0].Data))
}

func testReplaceRollsBack(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.ReplaceDocuments(ctx, "prompts", []model.Document{doc("keep", `{"id":"keep"}`)})
	require.NoError(t, err)

	_, err = s.ReplaceDocuments(ctx, "prompts", []model.Document{
		doc("new", `{"id":"new"}`),
		doc("", `{}`),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvalidPayload)

	docs, err := s.ListDocuments(ctx, "prompts")
	require.NoError(t, err)
	assert.Equal(t, []string{"keep"}, ids(docs))
}

func testReplaceIsolatesTables(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.ReplaceDocuments(ctx, "comments", []model.Document{doc("c1", `{"id":"c1"}`)})
	require.NoError(t, err)
	_, err = s.ReplaceDocuments(ctx, "prompts", []model.Document{doc("c1", `{"id":"c1","other":true}`)})
	require.NoError(t, err)
	_, err = s.ReplaceDocuments(ctx, "prompts", nil)
	require.NoError(t, err)

	docs, err := s.ListDocuments(ctx, "comments")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.JSONEq(t, `{"id":"c1"}`, string(docs[0].Data))
}

func testUpsertOverwrites(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.UpsertDocument(ctx, "prompts", doc("1", `{"id":"1","title":"x"}`)))
	require.NoError(t, s.UpsertDocument(ctx, "prompts", doc("2", `{"id":"2"}`)))
	require.NoError(t, s.UpsertDocument(ctx, "prompts", doc("1", `{"id":"1","body":"y"}`)))

	docs, err := s.ListDocuments(ctx, "prompts")
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2"}, ids(docs))
	// Full replacement, no merge of the old title.
	assert.JSONEq(t, `{"id":"1","body":"y"}`, string(docs[0].Data))
}

func testDeleteIdempotent(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.ReplaceDocuments(ctx, "prompts", []model.Document{
		doc("1", `{"id":"1"}`),
		doc("2", `{"id":"2"}`),
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteDocument(ctx, "prompts", "missing-id"))
	require.NoError(t, s.DeleteDocument(ctx, "prompts", "1"))
	require.NoError(t, s.DeleteDocument(ctx, "prompts", "1"))

	docs, err := s.ListDocuments(ctx, "prompts")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, ids(docs))
}

func testInvalidTable(t *testing.T, s store.Store) {
	ctx := context.Background()
	const bad = model.Table("menu_items")

	_, err := s.ListDocuments(ctx, bad)
	assert.ErrorIs(t, err, store.ErrInvalidTable)
	_, err = s.ReplaceDocuments(ctx, bad, []model.Document{doc("1", `{"id":"1"}`)})
	assert.ErrorIs(t, err, store.ErrInvalidTable)
	assert.ErrorIs(t, s.UpsertDocument(ctx, bad, doc("1", `{"id":"1"}`)), store.ErrInvalidTable)
	assert.ErrorIs(t, s.DeleteDocument(ctx, bad, "1"), store.ErrInvalidTable)
}

func testPromptsScenario(t *testing.T, s store.Store) {
	ctx := context.Background()

	n, err := s.ReplaceDocuments(ctx, "prompts", []model.Document{doc("1", `{"id":"1","title":"x"}`)})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.NoError(t, s.UpsertDocument(ctx, "prompts", doc("1", `{"id":"1","title":"y"}`)))
	docs, err := s.ListDocuments(ctx, "prompts")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.JSONEq(t, `{"id":"1","title":"y"}`, string(docs[0].Data))

	require.NoError(t, s.DeleteDocument(ctx, "prompts", "1"))
	docs, err = s.ListDocuments(ctx, "prompts")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func newAccount(n int) model.Account {
	return model.Account{
		Email:        fmt.Sprintf("User%d@Example.com", n),
		PasswordHash: "hash",
		Name:         fmt.Sprintf("User %d", n),
		Username:     fmt.Sprintf("user%d", n),
	}
}

func testCreateAndGetAccount(t *testing.T, s store.Store) {
	ctx := context.Background()

	created, err := s.CreateAccount(ctx, newAccount(1))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "user1@example.com", created.Email)
	assert.NotZero(t, created.CreatedAt)
	assert.NotZero(t, created.UpdatedAt)

	byID, err := s.GetAccountByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Username, byID.Username)
	assert.Equal(t, "hash", byID.PasswordHash)
	assert.Empty(t, byID.ProviderID)

	byEmail, err := s.GetAccountByEmail(ctx, " USER1@example.COM")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	fed := newAccount(2)
	fed.PasswordHash = ""
	fed.ProviderID = "google-2"
	fed.Avatar = "https://img/2.png"
	fedCreated, err := s.CreateAccount(ctx, fed)
	require.NoError(t, err)

	byProvider, err := s.GetAccountByProviderID(ctx, "google-2")
	require.NoError(t, err)
	assert.Equal(t, fedCreated.ID, byProvider.ID)
	assert.Empty(t, byProvider.PasswordHash)
	assert.Equal(t, "https://img/2.png", byProvider.Avatar)

	_, err = s.GetAccountByID(ctx, "no-such-id")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetAccountByEmail(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetAccountByProviderID(ctx, "google-404")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testAccountUniqueness(t *testing.T, s store.Store) {
	ctx := context.Background()

	first := newAccount(1)
	first.ProviderID = "g-1"
	_, err := s.CreateAccount(ctx, first)
	require.NoError(t, err)

	sameEmail := newAccount(2)
	sameEmail.Email = "user1@example.com"
	_, err = s.CreateAccount(ctx, sameEmail)
	assert.ErrorIs(t, err, store.ErrConflict)

	sameUsername := newAccount(3)
	sameUsername.Username = "user1"
	_, err = s.CreateAccount(ctx, sameUsername)
	assert.ErrorIs(t, err, store.ErrConflict)

	sameProvider := newAccount(4)
	sameProvider.ProviderID = "g-1"
	_, err = s.CreateAccount(ctx, sameProvider)
	assert.ErrorIs(t, err, store.ErrConflict)

	// Accounts without a provider id do not collide with each other.
	_, err = s.CreateAccount(ctx, newAccount(5))
	require.NoError(t, err)
	_, err = s.CreateAccount(ctx, newAccount(6))
	require.NoError(t, err)
}

func testUpdateAccount(t *testing.T, s store.Store) {
	ctx := context.Background()

	a, err := s.CreateAccount(ctx, newAccount(1))
	require.NoError(t, err)
	b, err := s.CreateAccount(ctx, newAccount(2))
	require.NoError(t, err)

	later := a.UpdatedAt.Add(time.Minute)
	a.Name = "Renamed"
	a.Bio = "hello"
	a.Avatar = "https://img/a.png"
	a.ProviderID = "g-a"
	a.UpdatedAt = later
	updated, err := s.UpdateAccount(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Name)

	got, err := s.GetAccountByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "hello", got.Bio)
	assert.Equal(t, "https://img/a.png", got.Avatar)
	assert.Equal(t, "g-a", got.ProviderID)
	assert.WithinDuration(t, later, got.UpdatedAt, time.Millisecond)
	assert.WithinDuration(t, a.CreatedAt, got.CreatedAt, time.Millisecond)

	b.Username = "user1"
	_, err = s.UpdateAccount(ctx, b)
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.UpdateAccount(ctx, model.Account{ID: "missing", Username: "zzz"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testDataKeptVerbatim(t *testing.T, st store.Store) {
	ctx := context.Background()
	// Key order and the NUL escape must come back untouched.
	data := `{"id":"v","zeta":1,"alpha":"a\u0000b","nested":{"b":2,"a":1}}`

	require.NoError(t, st.UpsertDocument(ctx, "prompts", model.Document{ID: "v", Data: json.RawMessage(data)}))

	docs, err := st.ListDocuments(ctx, "prompts")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, data, string(docs[0].Data))
}
