package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

type VerifyEmailMessage struct {
	IDRef      string `json:"uid" doc:"URL-safe identity reference from the verification link"`
	Token      string `json:"token" doc:"Verification token from the link"`
	OnResponse func(resp *VerifyEmailResponse)
}

func (e VerifyEmailMessage) Type() string { return "user.verify_email" }

type VerifyEmailResponse struct {
	User            *User
	AlreadyVerified bool
}

// VerifyEmailHandler confirms an address-verification link. A record that
// cannot be decoded, found, or checked yields the same folded outcome, no
// caller can tell a bad token apart from a non-existent account. Confirming
// an already verified account is idempotent success and sends no second
// welcome notification.
type VerifyEmailHandler struct {
	repo            RepositoryManager
	tokens          *VerificationTokens
	renderer        *MailRenderer
	mailer          Mailer
	links           LinkBuilder
	activity        ActivitySink
	logger          Logger
	deliveryTimeout time.Duration
}

// NewVerifyEmailHandler creates a handler with sane defaults.
func NewVerifyEmailHandler(repo RepositoryManager, tokens *VerificationTokens, renderer *MailRenderer, mailer Mailer, links LinkBuilder) *VerifyEmailHandler {
	return &VerifyEmailHandler{
		repo:            repo,
		tokens:          tokens,
		renderer:        renderer,
		mailer:          mailer,
		links:           links,
		activity:        noopActivitySink{},
		logger:          defLogger{},
		deliveryTimeout: DefaultDeliveryTimeout,
	}
}

// WithActivitySink sets the sink used to emit verification events.
func (h *VerifyEmailHandler) WithActivitySink(sink ActivitySink) *VerifyEmailHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *VerifyEmailHandler) WithLogger(logger Logger) *VerifyEmailHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *VerifyEmailHandler) Execute(ctx context.Context, event VerifyEmailMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during email verification")
	default:
		return h.execute(ctx, event)
	}
}

func (h *VerifyEmailHandler) execute(ctx context.Context, event VerifyEmailMessage) error {
	resp := &VerifyEmailResponse{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	id, err := DecodeID(event.IDRef)
	if err != nil {
		return ErrInvalidOrExpiredToken
	}

	user, err := h.repo.Users().GetByID(ctx, id.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrInvalidOrExpiredToken
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for verification")
	}

	if !h.tokens.Check(user, event.Token, PurposeVerifyEmail) {
		return ErrInvalidOrExpiredToken
	}

	if user.EmailVerified {
		resp.User = user
		resp.AlreadyVerified = true
		if event.OnResponse != nil {
			event.OnResponse(resp)
		}
		return nil
	}

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		verified, err := h.repo.Users().MarkEmailVerifiedTx(ctx, tx, user.ID)
		if err != nil {
			// a concurrent confirmation won the race, still idempotent success
			if repository.IsRecordNotFound(err) {
				resp.AlreadyVerified = true
				resp.User = user.MarkEmailVerified()
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark email as verified")
		}

		resp.User = verified
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm email verification")
	}

	// the one-time welcome notification; the committed flag stands even if
	// delivery fails
	if !resp.AlreadyVerified {
		h.deliverWelcome(ctx, resp.User)
		h.recordActivity(ctx, resp.User)
	}

	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *VerifyEmailHandler) deliverWelcome(ctx context.Context, user *User) {
	msg, err := h.renderer.Welcome(user, h.links.Login())
	if err != nil {
		h.logger.Error("failed to render welcome email", "user_id", user.ID.String(), "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.deliveryTimeout)
	defer cancel()

	if err := h.mailer.Send(ctx, msg); err != nil {
		h.logger.Error("failed to deliver welcome email", "user_id", user.ID.String(), "error", err)
	}
}

func (h *VerifyEmailHandler) recordActivity(ctx context.Context, user *User) {
	event := ActivityEvent{
		EventType: ActivityEventEmailVerified,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:     user.ID.String(),
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during email verification: %v", err)
	}
}
