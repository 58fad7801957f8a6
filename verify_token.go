package accounts

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TokenPurpose distinguishes verification tokens from reset tokens. The two
// purposes derive disjoint MACs, one can never be replayed as the other.
type TokenPurpose = string

const (
	// PurposeVerifyEmail tags email verification tokens
	PurposeVerifyEmail TokenPurpose = "verify-email"
	// PurposeResetPassword tags password reset tokens
	PurposeResetPassword TokenPurpose = "reset-password"
)

// DefaultTokenMaxAge bounds token lifetime even when the fingerprinted
// record state never changes
const DefaultTokenMaxAge = 72 * time.Hour

// tokenBucket is the granularity of the timestamp embedded in each token.
// Tokens issued within the same bucket for unchanged record state are equal.
const tokenBucket = 24 * time.Hour

// EncodeID produces the URL-safe identity reference for a record. This is an
// obfuscation step only, the security boundary is the token.
func EncodeID(id uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id.String()))
}

// DecodeID reverses EncodeID. Any failure maps to ErrMalformedReference,
// callers fold it into the invalid-token outcome before it reaches a user.
func DecodeID(ref string) (uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(ref)
	if err != nil {
		return uuid.Nil, ErrMalformedReference
	}

	id, err := uuid.Parse(string(raw))
	if err != nil {
		return uuid.Nil, ErrMalformedReference
	}

	return id, nil
}

// VerificationTokens issues and checks stateless account tokens. A token is
// an HMAC over the record id, a fingerprint of its mutable credential state,
// the purpose, and a coarse timestamp bucket. Nothing is persisted: validity
// is recomputed from current record state, so any change to the fingerprinted
// fields invalidates every outstanding token for that record.
type VerificationTokens struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// VerificationTokensOption customizes token issuance and checking.
type VerificationTokensOption func(*VerificationTokens)

// WithTokenMaxAge overrides the default token lifetime.
func WithTokenMaxAge(maxAge time.Duration) VerificationTokensOption {
	return func(v *VerificationTokens) {
		if maxAge > 0 {
			v.maxAge = maxAge
		}
	}
}

// WithTokenClock injects a custom clock (useful for tests).
func WithTokenClock(clock func() time.Time) VerificationTokensOption {
	return func(v *VerificationTokens) {
		if clock != nil {
			v.now = clock
		}
	}
}

// NewVerificationTokens creates a token issuer/checker keyed by the server
// side secret.
func NewVerificationTokens(secret []byte, opts ...VerificationTokensOption) *VerificationTokens {
	v := &VerificationTokens{
		secret: secret,
		maxAge: DefaultTokenMaxAge,
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}

	return v
}

// Make issues a token for the user and purpose. Deterministic: the same user
// state within the same time bucket yields the same token.
func (v *VerificationTokens) Make(user *User, purpose TokenPurpose) string {
	bucket := v.currentBucket()
	return v.makeAt(user, purpose, bucket)
}

// Check recomputes the expected token from current record state and compares
// in constant time. False on any mismatch, malformed input, purpose mismatch,
// or a bucket outside the allowed lifetime.
func (v *VerificationTokens) Check(user *User, token string, purpose TokenPurpose) bool {
	if user == nil || token == "" {
		return false
	}

	bucketPart, _, found := strings.Cut(token, "-")
	if !found {
		return false
	}

	bucket, err := strconv.ParseInt(bucketPart, 36, 64)
	if err != nil {
		return false
	}

	current := v.currentBucket()
	if bucket > current {
		return false
	}

	maxBuckets := int64(v.maxAge / tokenBucket)
	if current-bucket > maxBuckets {
		return false
	}

	expected := v.makeAt(user, purpose, bucket)
	return hmac.Equal([]byte(expected), []byte(token))
}

func (v *VerificationTokens) makeAt(user *User, purpose TokenPurpose, bucket int64) string {
	mac := hmac.New(sha256.New, v.secret)
	fmt.Fprintf(mac, "%s\n%s\n%s\n%s", purpose, user.ID.String(), v.fingerprint(user), strconv.FormatInt(bucket, 36))

	digest := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return strconv.FormatInt(bucket, 36) + "-" + digest
}

// fingerprint derives the record-mutable state a token is bound to. The
// password hash and reset timestamp change on every credential mutation,
// which is what makes reset tokens single-use. The verification flag is
// deliberately excluded so confirming verification stays idempotent.
func (v *VerificationTokens) fingerprint(user *User) string {
	reseted := int64(0)
	if user.ResetedAt != nil {
		reseted = user.ResetedAt.Unix()
	}
	return user.PasswordHash + "\n" + strconv.FormatInt(reseted, 10)
}

func (v *VerificationTokens) currentBucket() int64 {
	return v.now().Unix() / int64(tokenBucket/time.Second)
}
