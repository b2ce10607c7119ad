package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"tablestore/internal/logging"
	"tablestore/internal/model"
	"tablestore/internal/session"
	"tablestore/internal/store"
	"tablestore/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fixture struct {
	svc      *Service
	accounts *memory.Store
	sessions *session.MemoryStore
	tokens   *TokenIssuer
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	tokens, err := NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)
	if opts.BcryptCost == 0 {
		opts.BcryptCost = bcrypt.MinCost
	}
	f := &fixture{
		accounts: memory.NewStore(model.MustTableSet("prompts")),
		sessions: session.NewMemoryStore(),
		tokens:   tokens,
	}
	f.svc = NewService(f.accounts, f.sessions, tokens, logging.Discard(), opts)
	return f
}

func (f *fixture) register(t *testing.T, email, username string) *Grant {
	t.Helper()
	g, err := f.svc.Register(context.Background(), RegisterInput{
		Email:    email,
		Password: "pw",
		Name:     "N",
		Username: username,
	})
	require.NoError(t, err)
	return g
}

func strp(s string) *string { return &s }

func TestRegister(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	g := f.register(t, " A@X.com ", "a1")
	assert.NotEmpty(t, g.Account.ID)
	assert.Equal(t, "a@x.com", g.Account.Email)
	assert.NotEqual(t, "pw", g.Account.PasswordHash)
	assert.NotEmpty(t, g.Token)
	require.NotNil(t, g.Session)
	assert.Equal(t, g.Account.ID, g.Session.AccountID)

	sess, err := f.sessions.Get(ctx, g.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, "a1", sess.User.Username)

	sub, _, err := f.tokens.Parse(g.Token)
	require.NoError(t, err)
	assert.Equal(t, g.Account.ID, sub)
}

func TestRegister_MissingFields(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	cases := []RegisterInput{
		{Password: "pw", Name: "N", Username: "u"},
		{Email: "a@x.com", Name: "N", Username: "u"},
		{Email: "a@x.com", Password: "pw", Username: "u"},
		{Email: "a@x.com", Password: "pw", Name: "N", Username: "  "},
	}
	for _, in := range cases {
		_, err := f.svc.Register(ctx, in)
		assert.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestRegister_Conflict(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t, "a@x.com", "a1")

	_, err := f.svc.Register(ctx, RegisterInput{Email: "A@x.com", Password: "pw", Name: "N", Username: "a2"})
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = f.svc.Register(ctx, RegisterInput{Email: "b@x.com", Password: "pw", Name: "N", Username: "a1"})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestRegister_PasswordTooLong(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.Register(context.Background(), RegisterInput{
		Email: "a@x.com", Password: strings.Repeat("x", 80), Name: "N", Username: "a1",
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLogin(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	f.register(t, "a@x.com", "a1")

	g, err := f.svc.Login(ctx, LoginInput{Email: "A@X.COM", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "a1", g.Account.Username)

	_, err = f.svc.Login(ctx, LoginInput{Email: "a@x.com", Password: "nope"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, LoginInput{Email: "ghost@x.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.svc.Login(ctx, LoginInput{Email: "a@x.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestLogin_PasswordlessAccount(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	_, err := f.svc.LoginFederated(ctx, FederatedInput{ProviderID: "g-1", Email: "fed@x.com"})
	require.NoError(t, err)

	_, err = f.svc.Login(ctx, LoginInput{Email: "fed@x.com", Password: "anything"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_Throttled(t *testing.T) {
	f := newFixture(t, Options{LoginBurst: 2, LoginInterval: time.Hour})
	ctx := context.Background()
	f.register(t, "a@x.com", "a1")

	for i := 0; i < 2; i++ {
		_, err := f.svc.Login(ctx, LoginInput{Email: "a@x.com", Password: "bad"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := f.svc.Login(ctx, LoginInput{Email: "a@x.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	// Other emails keep their own bucket.
	_, err = f.svc.Login(ctx, LoginInput{Email: "b@x.com", Password: "pw"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestLogin_ThrottleIsPerClient(t *testing.T) {
	f := newFixture(t, Options{LoginBurst: 2, LoginInterval: time.Hour})
	ctx := context.Background()
	f.register(t, "victim@x.com", "v1")

	for i := 0; i < 3; i++ {
		_, err := f.svc.Login(ctx, LoginInput{Email: "victim@x.com", Password: "guess", ClientIP: "203.0.113.9"})
		require.Error(t, err)
	}
	_, err := f.svc.Login(ctx, LoginInput{Email: "victim@x.com", Password: "pw", ClientIP: "203.0.113.9"})
	assert.ErrorIs(t, err, ErrTooManyAttempts)

	g, err := f.svc.Login(ctx, LoginInput{Email: "victim@x.com", Password: "pw", ClientIP: "198.51.100.7"})
	require.NoError(t, err)
	assert.Equal(t, "v1", g.Account.Username)
}

func TestLogin_RotatesSession(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	first := f.register(t, "a@x.com", "a1")

	g, err := f.svc.Login(ctx, LoginInput{Email: "a@x.com", Password: "pw", PreviousSession: first.Session.ID})
	require.NoError(t, err)
	assert.NotEqual(t, first.Session.ID, g.Session.ID)

	_, err = f.sessions.Get(ctx, first.Session.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = f.sessions.Get(ctx, g.Session.ID)
	assert.NoError(t, err)
}

func TestLoginFederated_CreatesAccount(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	g, err := f.svc.LoginFederated(ctx, FederatedInput{ProviderID: "g-1", Email: "Carol@x.com", Name: "Carol", Avatar: "http://a/c.png"})
	require.NoError(t, err)
	assert.Equal(t, "carol@x.com", g.Account.Email)
	assert.Equal(t, "Carol", g.Account.Name)
	assert.Equal(t, "http://a/c.png", g.Account.Avatar)
	assert.Regexp(t, `^carol_[0-9a-z]{5}$`, g.Account.Username)
	assert.False(t, g.Account.HasPassword())

	again, err := f.svc.LoginFederated(ctx, FederatedInput{ProviderID: "g-1", Email: "carol@x.com"})
	require.NoError(t, err)
	assert.Equal(t, g.Account.ID, again.Account.ID)
}

func TestLoginFederated_LinksExistingEmail(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	reg := f.register(t, "a@x.com", "a1")

	g, err := f.svc.LoginFederated(ctx, FederatedInput{ProviderID: "g-9", Email: "a@x.com", Avatar: "http://a/p.png"})
	require.NoError(t, err)
	assert.Equal(t, reg.Account.ID, g.Account.ID)
	assert.Equal(t, "http://a/p.png", g.Account.Avatar)

	acct, err := f.accounts.GetAccountByProviderID(ctx, "g-9")
	require.NoError(t, err)
	assert.Equal(t, reg.Account.ID, acct.ID)

	// Password login still works after linking.
	_, err = f.svc.Login(ctx, LoginInput{Email: "a@x.com", Password: "pw"})
	assert.NoError(t, err)
}

func TestLoginFederated_MissingFields(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.LoginFederated(context.Background(), FederatedInput{Email: "a@x.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.LoginFederated(context.Background(), FederatedInput{ProviderID: "g"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	g := f.register(t, "a@x.com", "a1")

	id, err := f.svc.Authenticate(ctx, g.Session.ID, "")
	require.NoError(t, err)
	assert.False(t, id.Bearer)
	assert.Equal(t, g.Account.ID, id.Account.ID)

	id, err = f.svc.Authenticate(ctx, "", g.Token)
	require.NoError(t, err)
	assert.True(t, id.Bearer)
	assert.Empty(t, id.Session.ID)
	assert.Equal(t, g.Account.ID, id.Session.AccountID)
	assert.Equal(t, 1, f.sessions.Len())

	// A stale cookie falls through to the bearer token.
	id, err = f.svc.Authenticate(ctx, "stale", g.Token)
	require.NoError(t, err)
	assert.True(t, id.Bearer)

	_, err = f.svc.Authenticate(ctx, "", "")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = f.svc.Authenticate(ctx, "", "garbage")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticate_OrphanedSession(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	sess := &session.Session{
		ID:        "orphan",
		AccountID: "gone",
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	require.NoError(t, f.sessions.Save(ctx, sess))

	_, err := f.svc.Authenticate(ctx, "orphan", "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = f.sessions.Get(ctx, "orphan")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestAuthenticate_BearerForUnknownAccount(t *testing.T) {
	f := newFixture(t, Options{})
	token, _, err := f.tokens.Issue("nobody")
	require.NoError(t, err)

	_, err = f.svc.Authenticate(context.Background(), "", token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestLogout(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	g := f.register(t, "a@x.com", "a1")

	require.NoError(t, f.svc.Logout(ctx, g.Session.ID))
	require.NoError(t, f.svc.Logout(ctx, g.Session.ID))
	require.NoError(t, f.svc.Logout(ctx, ""))

	_, err := f.svc.Authenticate(ctx, g.Session.ID, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	g := f.register(t, "a@x.com", "a1")
	f.register(t, "b@x.com", "b1")

	id, err := f.svc.Authenticate(ctx, g.Session.ID, "")
	require.NoError(t, err)

	updated, err := f.svc.UpdateProfile(ctx, id, ProfilePatch{
		Name: strp("Alice"),
		Bio:  strp("hello"),
		// Empty avatar is ignored.
		Avatar: strp(""),
	})
	require.NoError(t, err)
	assert.Equal(t, "Alice", updated.Name)
	assert.Equal(t, "hello", updated.Bio)
	assert.Equal(t, "a1", updated.Username)
	assert.False(t, updated.UpdatedAt.Before(g.Account.UpdatedAt))

	sess, err := f.sessions.Get(ctx, g.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", sess.User.Name)

	updated, err = f.svc.UpdateProfile(ctx, id, ProfilePatch{Bio: strp("")})
	require.NoError(t, err)
	assert.Empty(t, updated.Bio)
	assert.Equal(t, "Alice", updated.Name)

	_, err = f.svc.UpdateProfile(ctx, id, ProfilePatch{Username: strp("b1")})
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestUpdateProfile_Bearer(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	g := f.register(t, "a@x.com", "a1")

	id, err := f.svc.Authenticate(ctx, "", g.Token)
	require.NoError(t, err)

	updated, err := f.svc.UpdateProfile(ctx, id, ProfilePatch{Username: strp("renamed")})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Username)
	assert.Equal(t, 1, f.sessions.Len())
}
