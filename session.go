package accounts

import (
	"strings"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// SessionObject is the decoded representation of a session token.
type SessionObject struct {
	UserID   string         `json:"user_id"`
	Audience []string       `json:"aud,omitempty"`
	Issuer   string         `json:"iss,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
	IssuedAt *time.Time     `json:"iat,omitempty"`
	UserType string         `json:"user_type,omitempty"`
}

func (s SessionObject) GetUserID() string {
	return s.UserID
}

func (s SessionObject) GetUserUUID() (uuid.UUID, error) {
	id, err := uuid.Parse(s.UserID)
	if err != nil {
		return uuid.Nil, errors.Wrap(
			err,
			errors.CategoryBadInput,
			"unable to parse user ID as UUID",
		).WithMetadata(map[string]any{
			"user_id": s.UserID,
		})
	}
	return id, nil
}

func (s SessionObject) GetAudience() []string {
	return s.Audience
}

func (s SessionObject) GetIssuer() string {
	return s.Issuer
}

func (s SessionObject) GetIssuedAt() *time.Time {
	return s.IssuedAt
}

func (s SessionObject) GetData() map[string]any {
	return s.Data
}

func (s SessionObject) GetUserType() string {
	return s.UserType
}

// ClearCallerData removes caller-owned entries from the session data,
// keeping keys prefixed with "_" which belong to the framework. Used on
// logout so framework state survives while user state is dropped.
func (s *SessionObject) ClearCallerData() {
	if s.Data == nil {
		return
	}
	for key := range s.Data {
		if !strings.HasPrefix(key, "_") {
			delete(s.Data, key)
		}
	}
}

func sessionFromAuthClaims(claims AuthClaims) (*SessionObject, error) {
	if claims == nil {
		return nil, ErrUnableToMapClaims
	}

	jwtClaims, ok := claims.(*JWTClaims)
	if !ok {
		return nil, ErrUnableToMapClaims
	}

	session := &SessionObject{
		UserID:   jwtClaims.UserID(),
		Issuer:   jwtClaims.Issuer,
		Audience: jwtClaims.Audience,
		UserType: jwtClaims.UserType(),
		Data:     map[string]any{},
	}

	if issuedAt := jwtClaims.IssuedAt(); !issuedAt.IsZero() {
		session.IssuedAt = &issuedAt
	}

	for key, value := range jwtClaims.Metadata {
		session.Data[key] = value
	}

	return session, nil
}

var _ Session = (*SessionObject)(nil)
