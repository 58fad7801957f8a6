package accounts

import (
	"errors"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	// TextCodeDuplicateIdentity signals a username or email collision
	TextCodeDuplicateIdentity = "DUPLICATE_IDENTITY"
	// TextCodeMalformedReference signals an undecodable identity reference
	TextCodeMalformedReference = "MALFORMED_REFERENCE"
	// TextCodeInvalidOrExpiredToken is the single user-visible outcome for
	// bad tokens, purpose mismatches, decode failures, and unknown accounts
	TextCodeInvalidOrExpiredToken = "INVALID_OR_EXPIRED_TOKEN"
	// TextCodeEmailNotVerified blocks login for unverified accounts
	TextCodeEmailNotVerified = "EMAIL_NOT_VERIFIED"
	// TextCodeInvalidCredentials is the uniform bad-login outcome
	TextCodeInvalidCredentials = "INVALID_CREDENTIALS"
	// TextCodeDeliveryFailed signals an outbound notification failure
	TextCodeDeliveryFailed = "DELIVERY_FAILED"
	// TextCodeTokenExpired signals an expired session token
	TextCodeTokenExpired = "TOKEN_EXPIRED"
	// TextCodeTokenMalformed signals an unparseable session token
	TextCodeTokenMalformed = "TOKEN_MALFORMED"
)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = goerrors.New("identity not found", goerrors.CategoryNotFound).
	WithCode(goerrors.CodeNotFound)

// ErrDuplicateIdentity is returned when a username or email is already taken
var ErrDuplicateIdentity = goerrors.New("username or email already in use", goerrors.CategoryConflict).
	WithTextCode(TextCodeDuplicateIdentity).
	WithCode(goerrors.CodeConflict)

// ErrMalformedReference is returned when an identity reference fails to decode
var ErrMalformedReference = goerrors.New("malformed identity reference", goerrors.CategoryBadInput).
	WithTextCode(TextCodeMalformedReference).
	WithCode(goerrors.CodeBadRequest)

// ErrInvalidOrExpiredToken folds every token failure mode into one outcome so
// callers cannot distinguish a bad token from a non-existent account
var ErrInvalidOrExpiredToken = goerrors.New("the verification link is invalid or has expired", goerrors.CategoryValidation).
	WithTextCode(TextCodeInvalidOrExpiredToken).
	WithCode(goerrors.CodeBadRequest)

// ErrEmailNotVerified is the distinct login outcome for unverified accounts
var ErrEmailNotVerified = goerrors.New("please verify your email before logging in", goerrors.CategoryAuth).
	WithTextCode(TextCodeEmailNotVerified).
	WithCode(goerrors.CodeUnauthorized)

// ErrMismatchedHashAndPassword is the uniform invalid-credential outcome
var ErrMismatchedHashAndPassword = goerrors.New("invalid credentials", goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

// ErrDeliveryFailed is returned when the notification collaborator reports
// a non-ok outcome or times out
var ErrDeliveryFailed = goerrors.New("notification delivery failed", goerrors.CategoryOperation).
	WithTextCode(TextCodeDeliveryFailed)

// ErrNoEmptyString rejects empty values where content is required
var ErrNoEmptyString = goerrors.New("value should not be an empty string", goerrors.CategoryBadInput)

// ErrTokenExpired is returned for expired session tokens
var ErrTokenExpired = goerrors.New("session token is expired", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(goerrors.CodeUnauthorized)

// ErrTokenMalformed is returned for session tokens that fail to parse
var ErrTokenMalformed = goerrors.New("session token is malformed", goerrors.CategoryAuth).
	WithTextCode(TextCodeTokenMalformed).
	WithCode(goerrors.CodeUnauthorized)

// ErrUnableToFindSession is the error when our request has no cookie
var ErrUnableToFindSession = errors.New("unable to find session")

// ErrUnableToDecodeSession unable to decode JWT from session cookie
var ErrUnableToDecodeSession = errors.New("unable to decode session")

// ErrUnableToMapClaims unable to get claims from token
var ErrUnableToMapClaims = errors.New("unable to map claims")

// ErrUnableToParseData parse error
var ErrUnableToParseData = errors.New("unable to parse data")

// IsDuplicateIdentity will check for identity collisions
func IsDuplicateIdentity(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == TextCodeDuplicateIdentity
	}
	return false
}

// IsInvalidOrExpiredToken will check for the folded token failure outcome
func IsInvalidOrExpiredToken(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == TextCodeInvalidOrExpiredToken
	}
	return false
}

// IsEmailNotVerified will check for the unverified-login outcome
func IsEmailNotVerified(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == TextCodeEmailNotVerified
	}
	return false
}

// IsDeliveryError will check for notification delivery failures
func IsDeliveryError(err error) bool {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.TextCode == TextCodeDeliveryFailed
	}
	return false
}

// IsTokenExpiredError will check for expired tokens
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}

// isUniqueViolation sniffs driver errors for unique constraint failures so we
// can map them to ErrDuplicateIdentity regardless of engine
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "Duplicate entry")
}
