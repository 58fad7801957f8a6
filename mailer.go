package accounts

import (
	"bytes"
	"context"
	"embed"
	"net/http"
	"strings"

	"github.com/gofiber/template/django/v3"
	goerrors "github.com/goliatone/go-errors"
)

//go:embed templates/*.html
var mailTemplates embed.FS

// Message is the outbound notification payload. The delivery mechanism is a
// collaborator, this package only cares about the contract.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer delivers notifications. Any non-nil error is treated as a hard
// delivery failure by the lifecycle handlers.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// MailerFunc adapts a function to the Mailer interface.
type MailerFunc func(ctx context.Context, msg Message) error

// Send implements Mailer.
func (f MailerFunc) Send(ctx context.Context, msg Message) error {
	if f == nil {
		return nil
	}
	return f(ctx, msg)
}

// LoggerMailer prints notifications instead of delivering them. Development
// stand-in, the host app provides the real transport.
type LoggerMailer struct {
	Logger Logger
}

func (m LoggerMailer) Send(ctx context.Context, msg Message) error {
	logger := m.Logger
	if logger == nil {
		logger = defLogger{}
	}
	logger.Info("====== SENDING EMAIL NOTIFICATION =======")
	logger.Info("to: %s", msg.To)
	logger.Info("subject: %s", msg.Subject)
	logger.Info("%s", msg.Text)
	return nil
}

// MailRenderer renders the account notification templates. Templates are
// Django-style and embedded, the text alternative is derived from the HTML.
type MailRenderer struct {
	engine *django.Engine
}

// NewMailRenderer loads the embedded templates.
func NewMailRenderer() (*MailRenderer, error) {
	engine := django.NewFileSystem(http.FS(mailTemplates), ".html")
	if err := engine.Load(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load mail templates")
	}

	return &MailRenderer{engine: engine}, nil
}

// Verification renders the address-verification email for the given link.
func (r *MailRenderer) Verification(user *User, verificationURL string) (Message, error) {
	return r.render("templates/verification", "Verify your email address", user, map[string]any{
		"user": user,
		"name": user.FullName(),
		"link": verificationURL,
	})
}

// Welcome renders the one-time post-verification email.
func (r *MailRenderer) Welcome(user *User, loginURL string) (Message, error) {
	return r.render("templates/welcome", "Welcome to our platform!", user, map[string]any{
		"user": user,
		"name": user.FullName(),
		"link": loginURL,
	})
}

// PasswordReset renders the reset-link email.
func (r *MailRenderer) PasswordReset(user *User, resetURL string) (Message, error) {
	return r.render("templates/password_reset", "Reset your password", user, map[string]any{
		"user": user,
		"name": user.FullName(),
		"link": resetURL,
	})
}

func (r *MailRenderer) render(template, subject string, user *User, binding map[string]any) (Message, error) {
	var buf bytes.Buffer
	if err := r.engine.Render(&buf, template, binding); err != nil {
		return Message{}, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render mail template").
			WithMetadata(map[string]any{"template": template})
	}

	html := buf.String()

	return Message{
		To:      user.Email,
		Subject: subject,
		HTML:    html,
		Text:    stripTags(html),
	}, nil
}

// stripTags produces the plain-text alternative from rendered HTML.
func stripTags(html string) string {
	var b strings.Builder
	inTag := false

	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}

	lines := strings.Split(b.String(), "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return strings.Join(out, "\n")
}
