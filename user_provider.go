package accounts

import (
	"context"
	"strings"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// UserStore is the lookup surface the authentication gate needs
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)
}

// UserProvider resolves login identifiers and verifies credentials
type UserProvider struct {
	store  UserStore
	logger Logger
}

// NewUserProvider will create a new UserProvider
func NewUserProvider(store UserStore) *UserProvider {
	return &UserProvider{
		store:  store,
		logger: defLogger{},
	}
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	if l != nil {
		u.logger = l
	}
	return u
}

// ResolveIdentifier maps an email-shaped login input to the canonical
// username. A lookup miss is not an error: the input falls through unchanged
// and the credential check fails uniformly, so the response never reveals
// which identifiers exist.
func (u *UserProvider) ResolveIdentifier(ctx context.Context, identifier string) string {
	if !strings.Contains(identifier, "@") {
		return identifier
	}

	user, err := u.store.GetByEmail(ctx, identifier)
	if err != nil {
		return identifier
	}

	return user.Username
}

// VerifyIdentity will find the user, compare the password, enforce the
// verified-email policy, and return the identity
func (u *UserProvider) VerifyIdentity(ctx context.Context, identifier, password string) (Identity, error) {
	user, err := u.store.GetByIdentifier(ctx, u.ResolveIdentifier(ctx, identifier))
	if err != nil {
		if errors.IsNotFound(err) || repository.IsRecordNotFound(err) {
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user during verification")
	}

	if err := ensureAuthenticatableUser(user); err != nil {
		return nil, err
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, ErrMismatchedHashAndPassword
	}

	// correct credentials are still not a session; the account has to be
	// verified first, and the caller gets told which of the two it was
	if !user.EmailVerified {
		return nil, ErrEmailNotVerified
	}

	aid := authIdentity{
		id:       user.ID.String(),
		email:    user.Email,
		username: user.Username,
		userType: user.UserType,
	}

	return aid, nil
}

func (u *UserProvider) FindIdentityByIdentifier(ctx context.Context, identifier string) (Identity, error) {
	user, err := u.store.GetByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if err := ensureAuthenticatableUser(user); err != nil {
		return nil, err
	}

	aid := authIdentity{
		id:       user.ID.String(),
		email:    user.Email,
		username: user.Username,
		userType: user.UserType,
	}

	return aid, nil
}

type authIdentity struct {
	id       string
	username string
	email    string
	userType string
}

func (a authIdentity) ID() string {
	return a.id
}

func (a authIdentity) Username() string {
	return a.username
}

func (a authIdentity) Email() string {
	return a.email
}

func (a authIdentity) Type() string {
	if a.userType == "" {
		return TypeCommunity
	}
	return a.userType
}

var _ Identity = authIdentity{}

func ensureAuthenticatableUser(user *User) error {
	if user == nil {
		return ErrIdentityNotFound
	}

	// deactivated accounts fail the same way as bad credentials
	if !user.IsActive {
		return ErrMismatchedHashAndPassword
	}

	return nil
}
