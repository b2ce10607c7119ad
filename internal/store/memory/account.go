package memory

import (
	"context"
	"strings"
	"time"

	"tablestore/internal/model"
	"tablestore/internal/store"
)

func (s *Store) CreateAccount(_ context.Context, a model.Account) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a.Email = store.NormalizeEmail(a.Email)
	a.Username = strings.TrimSpace(a.Username)
	if a.Email == "" {
		return model.Account{}, errWithCode("email_required")
	}
	if a.Username == "" {
		return model.Account{}, errWithCode("username_required")
	}
	if strings.TrimSpace(a.ID) == "" {
		a.ID = newID()
	}
	if _, ok := s.accounts[a.ID]; ok {
		return model.Account{}, store.ErrConflict
	}
	if s.collidesLocked(a) {
		return model.Account{}, store.ErrConflict
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	s.accounts[a.ID] = a
	return a, nil
}

func (s *Store) GetAccountByID(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (s *Store) GetAccountByEmail(_ context.Context, email string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = store.NormalizeEmail(email)
	for _, a := range s.accounts {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetAccountByProviderID(_ context.Context, providerID string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if providerID == "" {
		return nil, store.ErrNotFound
	}
	for _, a := range s.accounts {
		if a.ProviderID == providerID {
			return &a, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateAccount(_ context.Context, a model.Account) (model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.accounts[a.ID]
	if !ok {
		return model.Account{}, store.ErrNotFound
	}

	a.Email = existing.Email
	a.CreatedAt = existing.CreatedAt
	a.Username = strings.TrimSpace(a.Username)
	if a.Username == "" {
		return model.Account{}, errWithCode("username_required")
	}
	if s.collidesLocked(a) {
		return model.Account{}, store.ErrConflict
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	s.accounts[a.ID] = a
	return a, nil
}

// collidesLocked reports whether a shares a unique column with another account.
func (s *Store) collidesLocked(a model.Account) bool {
	for id, other := range s.accounts {
		if id == a.ID {
			continue
		}
		if other.Email == a.Email || other.Username == a.Username {
			return true
		}
		if a.ProviderID != "" && other.ProviderID == a.ProviderID {
			return true
		}
	}
	return false
}
