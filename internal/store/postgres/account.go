package postgres

import (
	"context"
	"strings"
	"time"

	"tablestore/internal/model"
	"tablestore/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, email, coalesce(password_hash, ''), name, username,
	coalesce(avatar, ''), coalesce(bio, ''), coalesce(provider_id, ''), created_at, updated_at`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&a.Name,
		&a.Username,
		&a.Avatar,
		&a.Bio,
		&a.ProviderID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, mapPgErr(err)
	}
	return &a, nil
}

func (s *Store) CreateAccount(ctx context.Context, a model.Account) (model.Account, error) {
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

	out, err := scanAccount(s.pool.QueryRow(ctx, `
		insert into public.accounts (id, email, password_hash, name, username, avatar, bio, provider_id, created_at, updated_at)
		values ($1, $2, nullif($3, ''), $4, $5, nullif($6, ''), nullif($7, ''), nullif($8, ''), $9, $10)
		returning `+accountColumns,
		a.ID, store.NormalizeEmail(a.Email), a.PasswordHash, a.Name, strings.TrimSpace(a.Username),
		a.Avatar, a.Bio, a.ProviderID, a.CreatedAt, a.UpdatedAt,
	))
	if err != nil {
		return model.Account{}, err
	}
	return *out, nil
}

func (s *Store) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `
		select `+accountColumns+`
		from public.accounts
		where id = $1
	`, id))
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	return scanAccount(s.pool.QueryRow(ctx, `
		select `+accountColumns+`
		from public.accounts
		where email = $1
	`, store.NormalizeEmail(email)))
}

func (s *Store) GetAccountByProviderID(ctx context.Context, providerID string) (*model.Account, error) {
	if providerID == "" {
		return nil, store.ErrNotFound
	}
	return scanAccount(s.pool.QueryRow(ctx, `
		select `+accountColumns+`
		from public.accounts
		where provider_id = $1
	`, providerID))
}

func (s *Store) UpdateAccount(ctx context.Context, a model.Account) (model.Account, error) {
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}

	out, err := scanAccount(s.pool.QueryRow(ctx, `
		update public.accounts
		set password_hash = nullif($2, ''),
		    name = $3,
		    username = $4,
		    avatar = nullif($5, ''),
		    bio = nullif($6, ''),
		    provider_id = nullif($7, ''),
		    updated_at = $8
		where id = $1
		returning `+accountColumns,
		a.ID, a.PasswordHash, a.Name, strings.TrimSpace(a.Username), a.Avatar, a.Bio, a.ProviderID, a.UpdatedAt,
	))
	if err != nil {
		return model.Account{}, err
	}
	return *out, nil
}
