package accounts

import "strings"

// LinkBuilder constructs the URLs embedded in account notifications. The two
// path segments of a verification or reset link are opaque and must round
// trip through EncodeID and the token checker exactly.
type LinkBuilder struct {
	// BaseURL is scheme plus host, e.g. "https://example.com"
	BaseURL string
}

// Verification builds the email-verification link for an identity reference
// and token.
func (l LinkBuilder) Verification(idRef, token string) string {
	return l.join("accounts", "verify-email", idRef, token) + "/"
}

// PasswordReset builds the reset-confirmation link.
func (l LinkBuilder) PasswordReset(idRef, token string) string {
	return l.join("accounts", "password-reset-confirm", idRef, token) + "/"
}

// Login points at the sign-in page, used by the welcome notification.
func (l LinkBuilder) Login() string {
	return l.join("accounts", "login") + "/"
}

func (l LinkBuilder) join(segments ...string) string {
	base := strings.TrimRight(l.BaseURL, "/")
	return base + "/" + strings.Join(segments, "/")
}
