package accounts

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

// DefaultDeliveryTimeout bounds outbound notification delivery.
var DefaultDeliveryTimeout = 10 * time.Second

type RegisterUserMessage struct {
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	UserType   string `json:"user_type"`
	Password   string `json:"password"`
	UseHashid  bool
	OnResponse func(user *User)
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// RegisterUserHandler creates the account and delivers the verification
// link. Registration and first successful delivery are one logical
// transaction: a delivery failure rolls the record back, otherwise an
// orphaned account would sit unverified forever with no way to resend.
type RegisterUserHandler struct {
	repo            RepositoryManager
	tokens          *VerificationTokens
	renderer        *MailRenderer
	mailer          Mailer
	links           LinkBuilder
	activity        ActivitySink
	logger          Logger
	deliveryTimeout time.Duration
}

// NewRegisterUserHandler creates a handler with sane defaults.
func NewRegisterUserHandler(repo RepositoryManager, tokens *VerificationTokens, renderer *MailRenderer, mailer Mailer, links LinkBuilder) *RegisterUserHandler {
	return &RegisterUserHandler{
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

// WithActivitySink sets the sink used to emit registration events.
func (h *RegisterUserHandler) WithActivitySink(sink ActivitySink) *RegisterUserHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *RegisterUserHandler) WithLogger(logger Logger) *RegisterUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

// WithDeliveryTimeout overrides the notification delivery bound.
func (h *RegisterUserHandler) WithDeliveryTimeout(timeout time.Duration) *RegisterUserHandler {
	if timeout > 0 {
		h.deliveryTimeout = timeout
	}
	return h
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) error {
	user := &User{}
	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	userType := event.UserType
	if userType == "" {
		userType = TypeCommunity
	}
	if !ValidUserType(userType) {
		return goerrors.New("invalid user type", goerrors.CategoryValidation).
			WithMetadata(map[string]any{
				"user_type": event.UserType,
			})
	}

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		hash, err := HashPassword(event.Password)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		user.PasswordHash = hash
		user.Email = event.Email
		user.Phone = event.Phone
		user.FirstName = event.FirstName
		user.LastName = event.LastName
		user.UserType = userType
		user.Username = getUsername(event.Username, event.Email)
		user.EmailVerified = false
		if event.UseHashid {
			if id, err := hashid.NewUUID(event.Email); err == nil {
				user.ID = id
			}
		}

		if user, err = h.repo.Users().CreateTx(ctx, tx, user); err != nil {
			if IsDuplicateIdentity(err) {
				return err
			}
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}

		return goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	// the record is durably committed, attempt first delivery
	if err := h.deliverVerification(ctx, user); err != nil {
		h.rollback(ctx, user)
		return goerrors.Wrap(err, goerrors.CategoryOperation, "verification email delivery failed").
			WithTextCode(TextCodeDeliveryFailed)
	}

	h.recordActivity(ctx, user)

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}

func (h *RegisterUserHandler) deliverVerification(ctx context.Context, user *User) error {
	token := h.tokens.Make(user, PurposeVerifyEmail)
	link := h.links.Verification(EncodeID(user.ID), token)

	msg, err := h.renderer.Verification(user, link)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, h.deliveryTimeout)
	defer cancel()

	return h.mailer.Send(ctx, msg)
}

// rollback is the compensating delete after a failed first delivery. Best
// effort: a record that survives here can never log in, which is an
// acceptable degraded state.
func (h *RegisterUserHandler) rollback(ctx context.Context, user *User) {
	// a delivery timeout leaves the request context already expired, so the
	// delete runs on its own deadline
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := h.repo.Users().Delete(ctx, user); err != nil {
		h.logger.Error("failed to roll back user after delivery failure", "user_id", user.ID.String(), "error", err)
		return
	}

	event := ActivityEvent{
		EventType:  ActivityEventRegistrationRollback,
		Actor:      ActorRef{Type: "system"},
		UserID:     user.ID.String(),
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during registration rollback: %v", err)
	}
}

func (h *RegisterUserHandler) recordActivity(ctx context.Context, user *User) {
	event := ActivityEvent{
		EventType: ActivityEventUserRegistered,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID: user.ID.String(),
		Metadata: map[string]any{
			"username": user.Username,
		},
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during registration: %v", err)
	}
}

func getUsername(username, email string) string {
	if username != "" {
		return username
	}

	if strings.Contains(email, "@") {
		username = strings.Split(email, "@")[0]
	}

	return username
}
