// Package accounts provides account-management primitives: registration with
// email verification, stateless verification and password-reset tokens, a
// username-or-email authentication gate, and self-service profile updates,
// plus the repositories and HTTP helpers to wire them into a host app.
package accounts
