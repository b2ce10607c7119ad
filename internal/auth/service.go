// Package auth implements account registration, login and session
// resolution on top of an account store and a session store.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"tablestore/internal/logging"
	"tablestore/internal/model"
	"tablestore/internal/session"
	"tablestore/internal/store"
)

const (
	defaultSessionTTL   = 7 * 24 * time.Hour
	usernameSuffixLen   = 5
	usernameMaxAttempts = 5
)

type Options struct {
	SessionTTL    time.Duration
	BcryptCost    int
	LoginBurst    int
	LoginInterval time.Duration
}

type Service struct {
	accounts store.AccountStore
	sessions session.Store
	tokens   *TokenIssuer
	hasher   *passwordHasher
	throttle *loginThrottle
	log      logging.Logger
	ttl      time.Duration
	now      func() time.Time
}

func NewService(accounts store.AccountStore, sessions session.Store, tokens *TokenIssuer, log logging.Logger, opts Options) *Service {
	if log == nil {
		log = logging.Discard()
	}
	ttl := opts.SessionTTL
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &Service{
		accounts: accounts,
		sessions: sessions,
		tokens:   tokens,
		hasher:   newPasswordHasher(opts.BcryptCost),
		throttle: newLoginThrottle(opts.LoginBurst, opts.LoginInterval),
		log:      log,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *Service) SessionTTL() time.Duration { return s.ttl }

// Grant is the outcome of a successful sign-in: the account, the new
// server-side session and a bearer token.
type Grant struct {
	Account model.Account
	Session *session.Session
	Token   string
}

// Identity is the caller resolved by Authenticate. Bearer identities carry a
// request-scoped session that was never persisted.
type Identity struct {
	Account model.Account
	Session *session.Session
	Bearer  bool
}

type RegisterInput struct {
	Email    string
	Password string
	Name     string
	Username string
	// PreviousSession is the caller's current session id, if any. It is
	// dropped once the new session exists.
	PreviousSession string
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*Grant, error) {
	email := store.NormalizeEmail(in.Email)
	name := strings.TrimSpace(in.Name)
	username := strings.TrimSpace(in.Username)
	if email == "" || in.Password == "" || name == "" || username == "" {
		return nil, fmt.Errorf("%w: email, password, name and username are required", ErrInvalidInput)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	acct, err := s.accounts.CreateAccount(ctx, model.Account{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Username:     username,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: email or username already in use", store.ErrConflict)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.log.Info(ctx, "account registered", "account_id", acct.ID)
	return s.issue(ctx, acct, in.PreviousSession)
}

type LoginInput struct {
	Email           string
	Password        string
	PreviousSession string

	// ClientIP scopes throttling so one client cannot lock out an email
	// for everyone else.
	ClientIP string
}

// Login checks a password. Unknown email, wrong password and password-less
// accounts all fail with ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, in LoginInput) (*Grant, error) {
	email := store.NormalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	if !s.throttle.Allow(email + "|" + in.ClientIP) {
		s.log.Warn(ctx, "login throttled", "email", email, "client_ip", in.ClientIP)
		return nil, ErrTooManyAttempts
	}

	acct, err := s.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.hasher.Burn(in.Password)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	if !acct.HasPassword() || !s.hasher.Matches(acct.PasswordHash, in.Password) {
		return nil, ErrInvalidCredentials
	}

	return s.issue(ctx, *acct, in.PreviousSession)
}

type FederatedInput struct {
	ProviderID      string
	Email           string
	Name            string
	Avatar          string
	PreviousSession string
}

// LoginFederated signs in with an identity asserted by an external provider.
// The assertion is trusted as given.
func (s *Service) LoginFederated(ctx context.Context, in FederatedInput) (*Grant, error) {
	providerID := strings.TrimSpace(in.ProviderID)
	email := store.NormalizeEmail(in.Email)
	if providerID == "" || email == "" {
		return nil, fmt.Errorf("%w: provider id and email are required", ErrInvalidInput)
	}
	avatar := strings.TrimSpace(in.Avatar)

	acct, err := s.accounts.GetAccountByProviderID(ctx, providerID)
	if err == nil {
		return s.issue(ctx, *acct, in.PreviousSession)
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get account by provider: %w", err)
	}

	acct, err = s.accounts.GetAccountByEmail(ctx, email)
	switch {
	case err == nil:
		if acct.ProviderID == "" {
			acct.ProviderID = providerID
			if avatar != "" {
				acct.Avatar = avatar
			}
			acct.UpdatedAt = s.now().UTC()
			updated, err := s.accounts.UpdateAccount(ctx, *acct)
			if err != nil {
				return nil, fmt.Errorf("link provider: %w", err)
			}
			s.log.Info(ctx, "provider linked", "account_id", updated.ID)
			return s.issue(ctx, updated, in.PreviousSession)
		}
		if acct.ProviderID != providerID {
			s.log.Warn(ctx, "email already linked to another provider id", "account_id", acct.ID)
		}
		return s.issue(ctx, *acct, in.PreviousSession)
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("get account by email: %w", err)
	}

	created, err := s.createFederated(ctx, providerID, email, strings.TrimSpace(in.Name), avatar)
	if err != nil {
		return nil, err
	}
	s.log.Info(ctx, "account registered", "account_id", created.ID, "federated", true)
	return s.issue(ctx, created, in.PreviousSession)
}

func (s *Service) createFederated(ctx context.Context, providerID, email, name, avatar string) (model.Account, error) {
	local, _, _ := strings.Cut(email, "@")
	if name == "" {
		name = local
	}

	var lastErr error
	for range usernameMaxAttempts {
		suffix, err := randomBase36(usernameSuffixLen)
		if err != nil {
			return model.Account{}, fmt.Errorf("generate username: %w", err)
		}
		acct, err := s.accounts.CreateAccount(ctx, model.Account{
			Email:      email,
			Name:       name,
			Username:   local + "_" + suffix,
			Avatar:     avatar,
			ProviderID: providerID,
		})
		if err == nil {
			return acct, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return model.Account{}, fmt.Errorf("create account: %w", err)
		}
		lastErr = err
	}
	return model.Account{}, fmt.Errorf("%w: could not allocate a username: %v", store.ErrConflict, lastErr)
}

// Authenticate resolves the caller from a session id first, then from a
// bearer token.
func (s *Service) Authenticate(ctx context.Context, sessionID, bearer string) (*Identity, error) {
	if sessionID != "" {
		sess, err := s.sessions.Get(ctx, sessionID)
		switch {
		case err == nil:
			acct, err := s.accounts.GetAccountByID(ctx, sess.AccountID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					// The account is gone; the session must not outlive it.
					if derr := s.sessions.Delete(ctx, sessionID); derr != nil {
						s.log.Warn(ctx, "delete orphaned session", "err", derr)
					}
					return nil, ErrUnauthorized
				}
				return nil, fmt.Errorf("get account: %w", err)
			}
			return &Identity{Account: *acct, Session: sess}, nil
		case !errors.Is(err, session.ErrNotFound):
			return nil, fmt.Errorf("get session: %w", err)
		}
	}

	if bearer == "" {
		return nil, ErrUnauthorized
	}
	accountID, exp, err := s.tokens.Parse(bearer)
	if err != nil {
		return nil, ErrUnauthorized
	}
	acct, err := s.accounts.GetAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return &Identity{
		Account: *acct,
		Session: &session.Session{
			AccountID: acct.ID,
			User:      *acct,
			CreatedAt: s.now().UTC(),
			ExpiresAt: exp,
		},
		Bearer: true,
	}, nil
}

// Logout drops the session. Unknown and empty ids are not an error.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ProfilePatch lists the profile fields to change; nil means untouched.
// Name, Username and Avatar ignore empty values. Bio may be cleared.
type ProfilePatch struct {
	Name     *string
	Username *string
	Avatar   *string
	Bio      *string
}

func (s *Service) UpdateProfile(ctx context.Context, id *Identity, p ProfilePatch) (model.Account, error) {
	if id == nil {
		return model.Account{}, ErrUnauthorized
	}
	acct, err := s.accounts.GetAccountByID(ctx, id.Account.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.Account{}, ErrUnauthorized
		}
		return model.Account{}, fmt.Errorf("get account: %w", err)
	}

	if v, ok := nonEmpty(p.Name); ok {
		acct.Name = v
	}
	if v, ok := nonEmpty(p.Username); ok {
		acct.Username = v
	}
	if v, ok := nonEmpty(p.Avatar); ok {
		acct.Avatar = v
	}
	if p.Bio != nil {
		acct.Bio = strings.TrimSpace(*p.Bio)
	}
	acct.UpdatedAt = s.now().UTC()

	updated, err := s.accounts.UpdateAccount(ctx, *acct)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return model.Account{}, fmt.Errorf("%w: username already in use", store.ErrConflict)
		}
		return model.Account{}, fmt.Errorf("update account: %w", err)
	}

	if !id.Bearer && id.Session != nil && id.Session.ID != "" {
		sess := *id.Session
		sess.User = updated
		if err := s.sessions.Save(ctx, &sess); err != nil {
			return model.Account{}, fmt.Errorf("save session: %w", err)
		}
		id.Session = &sess
	}
	id.Account = updated
	return updated, nil
}

func (s *Service) issue(ctx context.Context, acct model.Account, previous string) (*Grant, error) {
	if previous != "" {
		if err := s.sessions.Delete(ctx, previous); err != nil {
			s.log.Warn(ctx, "drop previous session", "err", err)
		}
	}

	sid, err := session.NewID()
	if err != nil {
		return nil, fmt.Errorf("new session id: %w", err)
	}
	now := s.now().UTC()
	sess := &session.Session{
		ID:        sid,
		AccountID: acct.ID,
		User:      acct,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	token, _, err := s.tokens.Issue(acct.ID)
	if err != nil {
		return nil, err
	}
	return &Grant{Account: acct, Session: sess, Token: token}, nil
}

func nonEmpty(p *string) (string, bool) {
	if p == nil {
		return "", false
	}
	v := strings.TrimSpace(*p)
	return v, v != ""
}

const base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

func randomBase36(n int) (string, error) {
	limit := big.NewInt(int64(len(base36)))
	b := make([]byte, n)
	for i := range b {
		v, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", err
		}
		b[i] = base36[v.Int64()]
	}
	return string(b), nil
}
