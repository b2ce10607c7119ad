package store

import (
	"context"
	"errors"

	"tablestore/internal/model"
)

var (
	ErrNotFound       = errors.New("not_found")
	ErrConflict       = errors.New("conflict")
	ErrInvalidTable   = errors.New("invalid_table")
	ErrInvalidPayload = errors.New("invalid_payload")
)

// RejectedError is a write the database refused. Detail holds the engine's
// message for logs; Error never includes it.
type RejectedError struct {
	Kind   error
	Detail string
}

func (e *RejectedError) Error() string {
	return e.Kind.Error() + ": rejected by storage"
}

func (e *RejectedError) Unwrap() error { return e.Kind }

// Rejected wraps an engine message as a RejectedError of the given kind.
func Rejected(kind error, detail string) error {
	return &RejectedError{Kind: kind, Detail: detail}
}

// CollectionStore persists opaque documents per allow-listed table.
type CollectionStore interface {
	// ListDocuments returns the table's documents in insertion order.
	ListDocuments(ctx context.Context, t model.Table) ([]model.Document, error)
	// ReplaceDocuments swaps the whole table for docs in one transaction and
	// returns the number of rows stored.
	ReplaceDocuments(ctx context.Context, t model.Table, docs []model.Document) (int, error)
	// UpsertDocument inserts doc or fully overwrites the row with its id.
	UpsertDocument(ctx context.Context, t model.Table, doc model.Document) error
	// DeleteDocument removes the row if present. A missing id is not an error.
	DeleteDocument(ctx context.Context, t model.Table, id string) error
}

type AccountStore interface {
	CreateAccount(ctx context.Context, a model.Account) (model.Account, error)
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	GetAccountByProviderID(ctx context.Context, providerID string) (*model.Account, error)
	// UpdateAccount overwrites every mutable column of an existing account.
	UpdateAccount(ctx context.Context, a model.Account) (model.Account, error)
}

type Store interface {
	CollectionStore
	AccountStore

	Ping(ctx context.Context) error
	Close()
}
