package accounts_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/goliatone/go-accounts"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func newVerifyFixture(t *testing.T, mailer accounts.Mailer) (*MockRepositoryManager, *MockUsers, *capturingSink, *accounts.VerificationTokens, *accounts.VerifyEmailHandler) {
	t.Helper()

	repo := &MockRepositoryManager{}
	users := &MockUsers{}
	sink := &capturingSink{}
	tokens := accounts.NewVerificationTokens([]byte("test-secret"))

	renderer, err := accounts.NewMailRenderer()
	require.NoError(t, err)

	handler := accounts.NewVerifyEmailHandler(
		repo,
		tokens,
		renderer,
		mailer,
		accounts.LinkBuilder{BaseURL: "https://example.com"},
	).
		WithActivitySink(sink).
		WithLogger(testLogger{})

	return repo, users, sink, tokens, handler
}

func TestVerifyEmailHandlerConfirms(t *testing.T) {
	ctx := context.Background()
	mailer := &capturingMailer{}
	repo, users, sink, tokens, handler := newVerifyFixture(t, mailer)

	user := testUser()
	token := tokens.Make(user, accounts.PurposeVerifyEmail)

	verified := *user
	verified.EmailVerified = true

	repo.On("Users").Return(users)
	users.On("GetByID", mock.Anything, user.ID.String()).Return(user, nil).Once()
	users.On("MarkEmailVerifiedTx", mock.Anything, mock.Anything, user.ID).
		Return(&verified, nil).Once()

	repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).
		Return(nil).
		Run(func(args mock.Arguments) {
			fn := args.Get(2).(func(context.Context, bun.Tx) error)
			var tx bun.Tx
			require.NoError(t, fn(args.Get(0).(context.Context), tx))
		}).Once()

	var resp *accounts.VerifyEmailResponse
	err := handler.Execute(ctx, accounts.VerifyEmailMessage{
		IDRef: accounts.EncodeID(user.ID),
		Token: token,
		OnResponse: func(r *accounts.VerifyEmailResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.False(t, resp.AlreadyVerified)
	assert.True(t, resp.User.EmailVerified)

	// the one-time welcome notification
	require.Len(t, mailer.Sent(), 1)
	assert.Equal(t, user.Email, mailer.Sent()[0].To)

	assert.Equal(t, []accounts.ActivityEventType{accounts.ActivityEventEmailVerified}, sink.Types())

	repo.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestVerifyEmailHandlerIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mailer := &capturingMailer{}
	repo, users, sink, tokens, handler := newVerifyFixture(t, mailer)

	user := testUser()
	user.EmailVerified = true

	// the token predates the flag flip and still checks out
	token := tokens.Make(user, accounts.PurposeVerifyEmail)

	repo.On("Users").Return(users)
	users.On("GetByID", mock.Anything, user.ID.String()).Return(user, nil).Once()

	var resp *accounts.VerifyEmailResponse
	err := handler.Execute(ctx, accounts.VerifyEmailMessage{
		IDRef: accounts.EncodeID(user.ID),
		Token: token,
		OnResponse: func(r *accounts.VerifyEmailResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.AlreadyVerified)

	// no second welcome, no second activity event
	assert.Empty(t, mailer.Sent())
	assert.Empty(t, sink.Types())

	users.AssertExpectations(t)
}

func TestVerifyEmailHandlerConcurrentConfirmWinsQuietly(t *testing.T) {
	ctx := context.Background()
	mailer := &capturingMailer{}
	repo, users, _, tokens, handler := newVerifyFixture(t, mailer)

	user := testUser()
	token := tokens.Make(user, accounts.PurposeVerifyEmail)

	repo.On("Users").Return(users)
	users.On("GetByID", mock.Anything, user.ID.String()).Return(user, nil).Once()
	users.On("MarkEmailVerifiedTx", mock.Anything, mock.Anything, user.ID).
		Return(nil, repository.NewRecordNotFound()).Once()

	repo.On("RunInTx", mock.Anything, (*sql.TxOptions)(nil), mock.Anything).
		Return(nil).
		Run(func(args mock.Arguments) {
			fn := args.Get(2).(func(context.Context, bun.Tx) error)
			var tx bun.Tx
			require.NoError(t, fn(args.Get(0).(context.Context), tx))
		}).Once()

	var resp *accounts.VerifyEmailResponse
	err := handler.Execute(ctx, accounts.VerifyEmailMessage{
		IDRef: accounts.EncodeID(user.ID),
		Token: token,
		OnResponse: func(r *accounts.VerifyEmailResponse) {
			resp = r
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.True(t, resp.AlreadyVerified)
	assert.Empty(t, mailer.Sent())

	repo.AssertExpectations(t)
	users.AssertExpectations(t)
}

func TestVerifyEmailHandlerFoldsFailures(t *testing.T) {
	ctx := context.Background()
	mailer := &capturingMailer{}
	repo, users, _, tokens, handler := newVerifyFixture(t, mailer)

	user := testUser()
	token := tokens.Make(user, accounts.PurposeVerifyEmail)

	repo.On("Users").Return(users)
	users.On("GetByID", mock.Anything, mock.Anything).
		Return(nil, repository.NewRecordNotFound())

	tests := []struct {
		name  string
		idRef string
		token string
	}{
		{
			name:  "malformed reference",
			idRef: "%%%not-base64%%%",
			token: token,
		},
		{
			name:  "unknown account",
			idRef: accounts.EncodeID(uuid.New()),
			token: token,
		},
		{
			name:  "wrong purpose token",
			idRef: accounts.EncodeID(user.ID),
			token: tokens.Make(user, accounts.PurposeResetPassword),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := handler.Execute(ctx, accounts.VerifyEmailMessage{
				IDRef: tt.idRef,
				Token: tt.token,
			})
			// every failure folds into the same outcome
			require.Error(t, err)
			assert.True(t, accounts.IsInvalidOrExpiredToken(err))
		})
	}

	assert.Empty(t, mailer.Sent())
}
