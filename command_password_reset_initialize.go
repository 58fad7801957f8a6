package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

type InitializePasswordResetMessage struct {
	Email      string `json:"email" example:"pepe.rone@example.com" doc:"Account email."`
	OnResponse func(resp *InitializePasswordResetResponse)
}

func (p InitializePasswordResetMessage) Type() string { return "user.password_reset" }

// InitializePasswordResetResponse reports only that the request was
// processed. It carries no found/not-found distinction so the HTTP layer can
// answer "check your email" without revealing whether an address is
// registered.
type InitializePasswordResetResponse struct {
	Email   string
	Success bool
}

// InitializePasswordResetHandler issues a reset token and mails the
// confirmation link. Unknown addresses take the same path minus delivery.
type InitializePasswordResetHandler struct {
	repo            RepositoryManager
	tokens          *VerificationTokens
	renderer        *MailRenderer
	mailer          Mailer
	links           LinkBuilder
	activity        ActivitySink
	logger          Logger
	deliveryTimeout time.Duration
}

// NewInitializePasswordResetHandler creates a handler with sane defaults.
func NewInitializePasswordResetHandler(repo RepositoryManager, tokens *VerificationTokens, renderer *MailRenderer, mailer Mailer, links LinkBuilder) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
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

// WithActivitySink sets the sink used to emit reset-request events.
func (h *InitializePasswordResetHandler) WithActivitySink(sink ActivitySink) *InitializePasswordResetHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *InitializePasswordResetHandler) WithLogger(logger Logger) *InitializePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset initialization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) error {
	resp := &InitializePasswordResetResponse{
		Email: event.Email,
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user, err := h.repo.Users().GetByEmail(ctx, event.Email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			// uniform outcome, the address not being registered is not
			// surfaced to the caller
			resp.Success = true
			if event.OnResponse != nil {
				event.OnResponse(resp)
			}
			return nil
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for password reset")
	}

	token := h.tokens.Make(user, PurposeResetPassword)
	link := h.links.PasswordReset(EncodeID(user.ID), token)

	msg, err := h.renderer.PasswordReset(user, link)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render password reset email")
	}

	sendCtx, sendCancel := context.WithTimeout(ctx, h.deliveryTimeout)
	defer sendCancel()

	if err := h.mailer.Send(sendCtx, msg); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "password reset email delivery failed").
			WithTextCode(TextCodeDeliveryFailed)
	}

	h.recordActivity(ctx, user)

	resp.Success = true
	if event.OnResponse != nil {
		event.OnResponse(resp)
	}

	return nil
}

func (h *InitializePasswordResetHandler) recordActivity(ctx context.Context, user *User) {
	event := ActivityEvent{
		EventType: ActivityEventPasswordResetRequest,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:     user.ID.String(),
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during password reset request: %v", err)
	}
}
