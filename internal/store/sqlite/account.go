package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"tablestore/internal/model"
	"tablestore/internal/store"

	"github.com/google/uuid"
)

const accountColumns = `id, email, coalesce(password_hash, ''), name, username,
	coalesce(avatar, ''), coalesce(bio, ''), coalesce(provider_id, ''), created_at, updated_at`

func (s *Store) CreateAccount(ctx context.Context, a model.Account) (model.Account, error) {
	a.Email = store.NormalizeEmail(a.Email)
	a.Username = strings.TrimSpace(a.Username)
	if strings.TrimSpace(a.ID) == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (id, email, password_hash, name, username, avatar, bio, provider_id, created_at, updated_at)
		VALUES (?, ?, nullif(?, ''), ?, ?, nullif(?, ''), nullif(?, ''), nullif(?, ''), ?, ?)
	`, a.ID, a.Email, a.PasswordHash, a.Name, a.Username, a.Avatar, a.Bio, a.ProviderID,
		timestamp(a.CreatedAt), timestamp(a.UpdatedAt))
	if err != nil {
		return model.Account{}, mapSQLiteErr(err)
	}
	return a, nil
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	return s.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return s.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, store.NormalizeEmail(email))
}

func (s *Store) GetAccountByProviderID(ctx context.Context, providerID string) (*model.Account, error) {
	if providerID == "" {
		return nil, store.ErrNotFound
	}
	return s.getAccount(ctx, `SELECT `+accountColumns+` FROM accounts WHERE provider_id = ?`, providerID)
}

func (s *Store) UpdateAccount(ctx context.Context, a model.Account) (model.Account, error) {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE accounts
		SET password_hash = nullif(?, ''),
		    name = ?,
		    username = ?,
		    avatar = nullif(?, ''),
		    bio = nullif(?, ''),
		    provider_id = nullif(?, ''),
		    updated_at = ?
		WHERE id = ?
	`, a.PasswordHash, a.Name, strings.TrimSpace(a.Username), a.Avatar, a.Bio, a.ProviderID,
		timestamp(a.UpdatedAt), a.ID)
	if err != nil {
		return model.Account{}, mapSQLiteErr(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return model.Account{}, store.ErrNotFound
	}

	out, err := s.GetAccountByID(ctx, a.ID)
	if err != nil {
		return model.Account{}, err
	}
	return *out, nil
}

func (s *Store) getAccount(ctx context.Context, query string, arg any) (*model.Account, error) {
	var a model.Account
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.Name,
		&a.Username,
		&a.Avatar,
		&a.Bio,
		&a.ProviderID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, store.ErrNotFound
		}
		return nil, mapSQLiteErr(err)
	}

	if a.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if a.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
