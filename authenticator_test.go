package accounts_test

import (
	"context"
	"testing"

	"github.com/goliatone/go-accounts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestIdentity is a simple implementation of the Identity interface
type TestIdentity struct {
	id       string
	username string
	email    string
	userType string
}

func (t TestIdentity) ID() string       { return t.id }
func (t TestIdentity) Username() string { return t.username }
func (t TestIdentity) Email() string    { return t.email }
func (t TestIdentity) Type() string {
	if t.userType == "" {
		return accounts.TypeCommunity
	}
	return t.userType
}

// MockIdentityProvider implements accounts.IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) VerifyIdentity(ctx context.Context, identifier, password string) (accounts.Identity, error) {
	args := m.Called(ctx, identifier, password)
	identity, _ := args.Get(0).(accounts.Identity)
	return identity, args.Error(1)
}

func (m *MockIdentityProvider) FindIdentityByIdentifier(ctx context.Context, identifier string) (accounts.Identity, error) {
	args := m.Called(ctx, identifier)
	identity, _ := args.Get(0).(accounts.Identity)
	return identity, args.Error(1)
}

// testConfig implements accounts.Config
type testConfig struct{}

func (testConfig) GetSigningKey() string           { return "test-signing-key" }
func (testConfig) GetSigningMethod() string        { return "HS256" }
func (testConfig) GetContextKey() string           { return "user" }
func (testConfig) GetTokenExpiration() int         { return 24 }
func (testConfig) GetExtendedTokenDuration() int   { return 72 }
func (testConfig) GetIssuer() string               { return "test-issuer" }
func (testConfig) GetAudience() []string           { return []string{"test:audience"} }
func (testConfig) GetRejectedRouteKey() string     { return "rejected_route" }
func (testConfig) GetRejectedRouteDefault() string { return "/" }

func TestLogin(t *testing.T) {
	ctx := context.Background()
	provider := new(MockIdentityProvider)
	sink := &capturingSink{}

	authenticator := accounts.NewAuthenticator(provider, testConfig{}).
		WithLogger(testLogger{}).
		WithActivitySink(sink)

	identity := TestIdentity{
		id:       "49ab5a54-73d4-4e58-8678-5d53bebf2a59",
		username: "pepe.rone",
		email:    "pepe.rone@example.com",
	}

	provider.On("VerifyIdentity", ctx, "pepe.rone", "password12345").
		Return(identity, nil).Once()

	token, err := authenticator.Login(ctx, "pepe.rone", "password12345")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	// the issued token round-trips into a session
	session, err := authenticator.SessionFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, identity.ID(), session.GetUserID())
	assert.Equal(t, "test-issuer", session.GetIssuer())
	assert.Equal(t, []string{"test:audience"}, session.GetAudience())

	assert.Equal(t, []accounts.ActivityEventType{accounts.ActivityEventLoginSuccess}, sink.Types())

	provider.AssertExpectations(t)
}

func TestLoginBadCredentials(t *testing.T) {
	ctx := context.Background()
	provider := new(MockIdentityProvider)
	sink := &capturingSink{}

	authenticator := accounts.NewAuthenticator(provider, testConfig{}).
		WithLogger(testLogger{}).
		WithActivitySink(sink)

	provider.On("VerifyIdentity", ctx, "pepe.rone", "wrong").
		Return(nil, accounts.ErrMismatchedHashAndPassword).Once()

	token, err := authenticator.Login(ctx, "pepe.rone", "wrong")
	require.Error(t, err)
	assert.Empty(t, token)
	assert.Equal(t, accounts.ErrMismatchedHashAndPassword, err)

	assert.Equal(t, []accounts.ActivityEventType{accounts.ActivityEventLoginFailure}, sink.Types())
}

func TestLoginUnverifiedEmailYieldsNoToken(t *testing.T) {
	ctx := context.Background()
	provider := new(MockIdentityProvider)

	authenticator := accounts.NewAuthenticator(provider, testConfig{}).
		WithLogger(testLogger{})

	provider.On("VerifyIdentity", ctx, "pepe.rone", "password12345").
		Return(nil, accounts.ErrEmailNotVerified).Once()

	token, err := authenticator.Login(ctx, "pepe.rone", "password12345")
	require.Error(t, err)
	assert.Empty(t, token)
	assert.True(t, accounts.IsEmailNotVerified(err))
}

func TestSessionFromTokenRejectsGarbage(t *testing.T) {
	provider := new(MockIdentityProvider)
	authenticator := accounts.NewAuthenticator(provider, testConfig{}).
		WithLogger(testLogger{})

	_, err := authenticator.SessionFromToken("not-a-jwt")
	require.Error(t, err)

	_, err = authenticator.SessionFromToken("")
	require.Error(t, err)
}

func TestSessionFromTokenRejectsForeignSignature(t *testing.T) {
	provider := new(MockIdentityProvider)

	issuer := accounts.NewTokenService([]byte("a-different-key"), 24, "test-issuer", []string{"test:audience"}, testLogger{})
	token, err := issuer.Generate(TestIdentity{id: "some-id"})
	require.NoError(t, err)

	authenticator := accounts.NewAuthenticator(provider, testConfig{}).
		WithLogger(testLogger{})

	_, err = authenticator.SessionFromToken(token)
	require.Error(t, err)
}

func TestIdentityFromSession(t *testing.T) {
	ctx := context.Background()
	provider := new(MockIdentityProvider)

	authenticator := accounts.NewAuthenticator(provider, testConfig{}).
		WithLogger(testLogger{})

	identity := TestIdentity{id: "49ab5a54-73d4-4e58-8678-5d53bebf2a59", username: "pepe.rone"}

	provider.On("FindIdentityByIdentifier", ctx, identity.id).
		Return(identity, nil).Once()

	session := &accounts.SessionObject{UserID: identity.id}

	got, err := authenticator.IdentityFromSession(ctx, session)
	require.NoError(t, err)
	assert.Equal(t, identity.ID(), got.ID())

	provider.AssertExpectations(t)
}
