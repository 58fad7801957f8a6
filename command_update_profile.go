package accounts

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/nyaruka/phonenumbers"
	"github.com/uptrace/bun"
)

// MaxBioLength caps the profile bio field.
const MaxBioLength = 500

type UpdateProfileMessage struct {
	UserID         string  `json:"user_id"`
	FirstName      *string `json:"first_name,omitempty"`
	LastName       *string `json:"last_name,omitempty"`
	Bio            *string `json:"bio,omitempty"`
	Phone          *string `json:"phone_number,omitempty"`
	ProfilePicture *string `json:"profile_picture,omitempty"`
	OnResponse     func(user *User)
}

func (e UpdateProfileMessage) Type() string { return "user.profile_update" }

// UpdateProfileHandler applies a self-service profile patch. The email
// address is immutable through this path, it only ever enters the system at
// registration where it is verified.
type UpdateProfileHandler struct {
	repo     RepositoryManager
	activity ActivitySink
	logger   Logger
}

// NewUpdateProfileHandler creates a handler with sane defaults.
func NewUpdateProfileHandler(repo RepositoryManager) *UpdateProfileHandler {
	return &UpdateProfileHandler{
		repo:     repo,
		activity: noopActivitySink{},
		logger:   defLogger{},
	}
}

// WithActivitySink sets the sink used to emit profile events.
func (h *UpdateProfileHandler) WithActivitySink(sink ActivitySink) *UpdateProfileHandler {
	h.activity = normalizeActivitySink(sink)
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *UpdateProfileHandler) WithLogger(logger Logger) *UpdateProfileHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *UpdateProfileHandler) Execute(ctx context.Context, event UpdateProfileMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during profile update")
	default:
		return h.execute(ctx, event)
	}
}

func (h *UpdateProfileHandler) execute(ctx context.Context, event UpdateProfileMessage) error {
	user := &User{}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	if err := validateProfilePatch(event); err != nil {
		return err
	}

	var err error
	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err = h.repo.Users().GetByIDTx(ctx, tx, event.UserID)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrIdentityNotFound
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user for profile update")
		}

		if event.FirstName != nil {
			user.FirstName = *event.FirstName
		}
		if event.LastName != nil {
			user.LastName = *event.LastName
		}
		if event.Bio != nil {
			user.Bio = *event.Bio
		}
		if event.Phone != nil {
			user.Phone = *event.Phone
		}
		if event.ProfilePicture != nil {
			user.ProfilePicture = *event.ProfilePicture
		}

		if user, err = h.repo.Users().UpdateTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to persist profile update")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "profile update transaction failed")
	}

	h.recordActivity(ctx, user)

	if event.OnResponse != nil {
		event.OnResponse(user)
	}

	return nil
}

func validateProfilePatch(event UpdateProfileMessage) error {
	if event.Bio != nil && len(*event.Bio) > MaxBioLength {
		return goerrors.New("bio exceeds maximum length", goerrors.CategoryValidation).
			WithMetadata(map[string]any{"max_length": MaxBioLength})
	}

	if event.Phone != nil && *event.Phone != "" {
		num, err := phonenumbers.Parse(*event.Phone, "")
		if err != nil || !phonenumbers.IsValidNumber(num) {
			return goerrors.New("invalid phone number", goerrors.CategoryValidation).
				WithMetadata(map[string]any{"phone": *event.Phone})
		}
	}

	return nil
}

func (h *UpdateProfileHandler) recordActivity(ctx context.Context, user *User) {
	event := ActivityEvent{
		EventType: ActivityEventProfileUpdated,
		Actor: ActorRef{
			ID:   user.ID.String(),
			Type: "user",
		},
		UserID:     user.ID.String(),
		OccurredAt: time.Now(),
	}

	if err := normalizeActivitySink(h.activity).Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during profile update: %v", err)
	}
}
