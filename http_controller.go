package accounts

import (
	"errors"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// GetRouterSession retrieves the decoded session a ProtectedRoute middleware
// stored in Locals.
func GetRouterSession(c router.Context, key string) (*SessionObject, error) {
	raw := c.Locals(key)
	if raw == nil {
		return nil, ErrUnableToFindSession
	}

	session, ok := raw.(*SessionObject)
	if session == nil || !ok {
		return nil, ErrUnableToDecodeSession
	}

	return session, nil
}

// RegisterAccountRoutes mounts the account management surface on the router.
func RegisterAccountRoutes[T any](app router.Router[T], opts ...AccountsControllerOption) {

	controller := NewAccountsController(opts...)
	protected := controller.Auther.ProtectedRoute(
		controller.Auther.MakeClientRouteAuthErrorHandler(false),
	)

	app.
		Get(controller.Routes.Login,
			controller.LoginShow,
		).
		SetName("sign-in.get")

	app.
		Post(
			controller.Routes.Login,
			controller.LoginPost,
		).
		SetName("sign-in.post")

	app.Get(controller.Routes.Logout, controller.LogOut).SetName("sign-out.get")

	app.Get(controller.Routes.Register, controller.RegistrationShow).
		SetName("register.get")
	app.Post(controller.Routes.Register, controller.RegistrationCreate).
		SetName("register.post")

	app.Get(fmt.Sprintf("%s/:uid/:token", controller.Routes.VerifyEmail), controller.VerifyEmail).
		SetName("verify-email.get")
	app.Get(controller.Routes.VerificationFailed, controller.VerificationFailed).
		SetName("verification-failed.get")

	app.Get(controller.Routes.PasswordReset, controller.PasswordResetGet).
		SetName("pwd-reset.get")
	app.Post(controller.Routes.PasswordReset, controller.PasswordResetPost).
		SetName("pwd-reset.post")

	app.Get(fmt.Sprintf("%s/:uid/:token", controller.Routes.PasswordResetConfirm), controller.PasswordResetForm).
		SetName("pwd-reset-do.get")
	app.Post(fmt.Sprintf("%s/:uid/:token", controller.Routes.PasswordResetConfirm), controller.PasswordResetExecute).
		SetName("pwd-reset-do.post")

	app.Get(controller.Routes.Profile, protected(controller.ProfileShow)).
		SetName("profile.get")
	app.Post(controller.Routes.Profile, protected(controller.ProfilePost)).
		SetName("profile.post")
}

type AccountsControllerRoutes struct {
	Login                string
	Logout               string
	Register             string
	VerifyEmail          string
	VerificationFailed   string
	PasswordReset        string
	PasswordResetConfirm string
	Profile              string
}

type AccountsControllerViews struct {
	Login                string
	Register             string
	VerificationFailed   string
	VerificationDone     string
	PasswordReset        string
	PasswordResetConfirm string
	PasswordResetDone    string
	Profile              string
}

type AccountsController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Tokens       *VerificationTokens
	Renderer     *MailRenderer
	Mailer       Mailer
	Links        LinkBuilder
	Routes       *AccountsControllerRoutes
	Views        *AccountsControllerViews
	Auther       HTTPAuthenticator
	ContextKey   string
	ErrorHandler router.ErrorHandler

	deliveryTimeout time.Duration

	register    *RegisterUserHandler
	verifyEmail *VerifyEmailHandler
	resetInit   *InitializePasswordResetHandler
	resetFinal  *FinalizePasswordResetHandler
	editProfile *UpdateProfileHandler
}

type AccountsControllerOption func(*AccountsController) *AccountsController

func WithControllerLogger(logger Logger) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.Logger = logger
		return c
	}
}

func WithControllerRepo(repo RepositoryManager) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.Repo = repo
		return c
	}
}

func WithControllerAuther(auther HTTPAuthenticator) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.Auther = auther
		return c
	}
}

func WithControllerTokens(tokens *VerificationTokens) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.Tokens = tokens
		return c
	}
}

func WithControllerMailer(renderer *MailRenderer, mailer Mailer) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.Renderer = renderer
		c.Mailer = mailer
		return c
	}
}

func WithControllerLinks(links LinkBuilder) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.Links = links
		return c
	}
}

func WithControllerDebug(debug bool) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.Debug = debug
		return c
	}
}

// WithControllerConfig derives the token checker, link builder, and delivery
// timeout from a host-provided configuration.
func WithControllerConfig(cfg LifecycleConfig) AccountsControllerOption {
	return func(c *AccountsController) *AccountsController {
		c.Tokens = NewVerificationTokens(
			[]byte(cfg.GetTokenSecret()),
			WithTokenMaxAge(cfg.GetTokenMaxAge()),
		)
		c.Links = LinkBuilder{BaseURL: cfg.GetBaseURL()}
		c.deliveryTimeout = cfg.GetDeliveryTimeout()
		return c
	}
}

func NewAccountsController(opts ...AccountsControllerOption) *AccountsController {
	c := &AccountsController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		ContextKey:   "user",
		Routes: &AccountsControllerRoutes{
			Login:                "/accounts/login",
			Logout:               "/accounts/logout",
			Register:             "/accounts/register",
			VerifyEmail:          "/accounts/verify-email",
			VerificationFailed:   "/accounts/verification-failed",
			PasswordReset:        "/accounts/password-reset",
			PasswordResetConfirm: "/accounts/password-reset-confirm",
			Profile:              "/accounts/profile",
		},
		Views: &AccountsControllerViews{
			Login:                "accounts/login",
			Register:             "accounts/register",
			VerificationFailed:   "accounts/verification_failed",
			VerificationDone:     "accounts/verification_done",
			PasswordReset:        "accounts/password_reset",
			PasswordResetConfirm: "accounts/password_reset_confirm",
			PasswordResetDone:    "accounts/password_reset_done",
			Profile:              "accounts/profile",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in accounts controller...")
	}

	if c.Auther == nil {
		panic("Missing HTTPAuthenticator in accounts controller...")
	}

	if c.Tokens == nil {
		panic("Missing VerificationTokens in accounts controller...")
	}

	if c.Mailer == nil {
		c.Mailer = LoggerMailer{Logger: c.Logger}
	}

	if c.Renderer == nil {
		renderer, err := NewMailRenderer()
		if err != nil {
			panic("Failed to load mail templates: " + err.Error())
		}
		c.Renderer = renderer
	}

	c.register = NewRegisterUserHandler(c.Repo, c.Tokens, c.Renderer, c.Mailer, c.Links).
		WithLogger(c.Logger)
	if c.deliveryTimeout > 0 {
		c.register = c.register.WithDeliveryTimeout(c.deliveryTimeout)
	}
	c.verifyEmail = NewVerifyEmailHandler(c.Repo, c.Tokens, c.Renderer, c.Mailer, c.Links).
		WithLogger(c.Logger)
	c.resetInit = NewInitializePasswordResetHandler(c.Repo, c.Tokens, c.Renderer, c.Mailer, c.Links).
		WithLogger(c.Logger)
	c.resetFinal = NewFinalizePasswordResetHandler(c.Repo, c.Tokens).
		WithLogger(c.Logger)
	c.editProfile = NewUpdateProfileHandler(c.Repo).
		WithLogger(c.Logger)

	return c
}

func (a *AccountsController) LoginShow(ctx router.Context) error {
	return ctx.Render(a.Views.Login, router.ViewContext{
		"errors": nil,
		"record": nil,
	})
}

// LoginRequest payload. The identifier is an email address or a username.
type LoginRequest struct {
	Identifier string `form:"identifier" json:"identifier"`
	Password   string `form:"password" json:"password"`
	RememberMe bool   `form:"remember_me" json:"remember_me"`
}

// GetIdentifier returns the identifier
func (r LoginRequest) GetIdentifier() string {
	return r.Identifier
}

// GetPassword will return the password
func (r LoginRequest) GetPassword() string {
	return r.Password
}

// GetExtendedSession reports whether the session should outlive the default
func (r LoginRequest) GetExtendedSession() bool {
	return r.RememberMe
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Identifier,
			validation.Required,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AccountsController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)
	errs := map[string]string{}

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("login parse payload", "error", err)
		return a.ErrorHandler(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return ctx.Render(a.Views.Login, router.ViewContext{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
		})
	}

	if a.Debug {
		fmt.Println("======= ACCOUNT LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(payload))
		fmt.Println("============================")
	}

	if err := a.Auther.Login(ctx, payload); err != nil {
		if IsEmailNotVerified(err) {
			errs["authentication"] = "Your email address has not been verified yet. Check your inbox for the verification link."
		} else {
			errs["authentication"] = "Invalid credentials"
		}
		return ctx.Render(a.Views.Login, router.ViewContext{
			"errors": errs,
			"record": payload,
		})
	}

	redirect := a.Auther.GetRedirect(ctx, "/")

	return ctx.Redirect(redirect, router.StatusSeeOther)
}

func (a *AccountsController) LogOut(ctx router.Context) error {
	a.Auther.Logout(ctx)
	return ctx.Redirect("/", router.StatusTemporaryRedirect)
}

func (a *AccountsController) RegistrationShow(ctx router.Context) error {
	return ctx.Render(a.Views.Register, router.ViewContext{
		"errors": map[string]string{},
		"record": RegisterUserMessage{},
	})
}

// RegistrationCreatePayload is the form payload
type RegistrationCreatePayload struct {
	FirstName       string `form:"first_name" json:"first_name"`
	LastName        string `form:"last_name" json:"last_name"`
	Username        string `form:"username" json:"username"`
	Email           string `form:"email" json:"email"`
	Phone           string `form:"phone_number" json:"phone_number"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r RegistrationCreatePayload) Validate() error {

	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.LastName, validation.Required, validation.Length(1, 200)),
		validation.Field(&r.Username, validation.Length(3, 100)),
		validation.Field(&r.Email, validation.Required, validation.Length(6, 100), is.Email),
		validation.Field(&r.Phone, validation.Length(10, 11), is.Digit),
		validation.Field(&r.Password, validation.Required, validation.Length(10, 100)),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AccountsController) RegistrationCreate(ctx router.Context) error {
	payload := new(RegistrationCreatePayload)

	if err := ctx.Bind(payload); err != nil {
		errs := map[string]string{}
		errs["form"] = "Failed to parse form"
		a.Logger.Error("register user parse payload: ", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.Register, router.ViewContext{
			"errors": errs,
			"record": payload,
		})
	}

	if err := payload.Validate(); err != nil {
		errs := FormatValidationErrorToMap(err)
		a.Logger.Error("register user validate payload: ", "error", err)

		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error validating payload",
		}).Render(a.Views.Register, router.ViewContext{
			"record":     payload,
			"validation": errs,
		})
	}

	req := RegisterUserMessage{
		FirstName: payload.FirstName,
		LastName:  payload.LastName,
		Username:  payload.Username,
		Email:     payload.Email,
		Phone:     payload.Phone,
		Password:  payload.Password,
	}

	if err := a.register.Execute(ctx.Context(), req); err != nil {
		a.Logger.Error("register user error: ", "error", err)

		errs := map[string]string{}
		switch {
		case IsDuplicateIdentity(err):
			errs["email"] = "An account with that email or username already exists"
		case IsDeliveryError(err):
			errs["email"] = "We could not deliver the verification email. Please try again."
		default:
			errs["form"] = "Registration failed"
		}

		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error registering account",
		}).Render(a.Views.Register, router.ViewContext{
			"record": payload,
			"errors": errs,
		})
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Account created. Check your email for the verification link.",
	}).Redirect(a.Routes.Login, fiber.StatusSeeOther)
}

func (a *AccountsController) VerifyEmail(ctx router.Context) error {
	req := VerifyEmailMessage{
		IDRef: ctx.Param("uid", ""),
		Token: ctx.Param("token", ""),
	}

	if err := a.verifyEmail.Execute(ctx.Context(), req); err != nil {
		a.Logger.Error("verify email error: ", "error", err)
		return ctx.Redirect(a.Routes.VerificationFailed, router.StatusSeeOther)
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Email verified. You can sign in now.",
	}).Render(a.Views.VerificationDone, router.ViewContext{
		"login_url": a.Routes.Login,
	})
}

func (a *AccountsController) VerificationFailed(ctx router.Context) error {
	return ctx.Render(a.Views.VerificationFailed, router.ViewContext{
		"register_url": a.Routes.Register,
	})
}

func (a *AccountsController) PasswordResetGet(ctx router.Context) error {
	return ctx.Render(a.Views.PasswordReset, router.ViewContext{
		"errors": nil,
		"record": nil,
	})
}

// PasswordResetRequestPayload holds values for password reset
type PasswordResetRequestPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r PasswordResetRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
	)
}

func (a *AccountsController) PasswordResetPost(ctx router.Context) error {
	payload := new(PasswordResetRequestPayload)

	if err := ctx.Bind(payload); err != nil {
		errs := map[string]string{}
		errs["form"] = "Failed to parse form"
		a.Logger.Error("password reset parse payload: ", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.PasswordReset, router.ViewContext{
			"errors": errs,
			"record": payload,
		})
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("password reset validate payload: ", "error", err)
		errs := FormatValidationErrorToMap(err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error validating payload",
		}).Render(a.Views.PasswordReset, router.ViewContext{
			"record":     payload,
			"validation": errs,
		})
	}

	req := InitializePasswordResetMessage{
		Email: payload.Email,
	}

	if err := a.resetInit.Execute(ctx.Context(), req); err != nil {
		a.Logger.Error("password reset error: ", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error processing request",
		}).Render(a.Views.PasswordReset, router.ViewContext{
			"record": payload,
			"errors": map[string]string{"form": "Could not process the request. Please try again."},
		})
	}

	// same answer for known and unknown addresses
	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "If an account exists for that address, a reset link is on its way.",
	}).Redirect(a.Routes.Login, fiber.StatusSeeOther)
}

func (a *AccountsController) PasswordResetForm(ctx router.Context) error {
	return ctx.Render(a.Views.PasswordResetConfirm, router.ViewContext{
		"errors": map[string]string{},
		"uid":    ctx.Param("uid", ""),
		"token":  ctx.Param("token", ""),
	})
}

// PasswordResetConfirmPayload holds the replacement credential
type PasswordResetConfirmPayload struct {
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r PasswordResetConfirmPayload) Validate() error {

	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(10, 100),
		),
		validation.Field(
			&r.ConfirmPassword,
			validation.Required,
			validation.Length(10, 100),
			validation.By(ValidateStringEquals(r.Password)),
		),
	)
}

func (a *AccountsController) PasswordResetExecute(ctx router.Context) error {
	uid := ctx.Param("uid", "")
	token := ctx.Param("token", "")

	errs := map[string]string{}
	payload := new(PasswordResetConfirmPayload)

	if err := ctx.Bind(payload); err != nil {
		errs["form"] = "Failed to parse form"
		a.Logger.Error("password reset confirm parse payload: ", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.PasswordResetConfirm, router.ViewContext{
			"errors": errs,
			"record": payload,
			"uid":    uid,
			"token":  token,
		})
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("password reset confirm validate payload: ", "error", err)
		errs = FormatValidationErrorToMap(err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error validating payload",
		}).Render(a.Views.PasswordResetConfirm, router.ViewContext{
			"record":     payload,
			"validation": errs,
			"uid":        uid,
			"token":      token,
		})
	}

	input := FinalizePasswordResetMessage{
		IDRef:    uid,
		Token:    token,
		Password: payload.Password,
	}

	if err := a.resetFinal.Execute(ctx.Context(), input); err != nil {
		errs["validation"] = "The reset link is invalid or has expired."
		return ctx.Render(a.Views.PasswordResetConfirm, router.ViewContext{
			"errors": errs,
			"uid":    uid,
			"token":  token,
		})
	}

	return ctx.Render(a.Views.PasswordResetDone, router.ViewContext{
		"login_url": a.Routes.Login,
	})
}

func (a *AccountsController) ProfileShow(ctx router.Context) error {
	session, err := GetRouterSession(ctx, a.ContextKey)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	user, err := a.Repo.Users().GetByID(ctx.Context(), session.GetUserID())
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.Render(a.Views.Profile, router.ViewContext{
		"errors": map[string]string{},
		"record": user,
	})
}

// ProfileUpdatePayload carries the editable profile fields. The email
// address is not among them.
type ProfileUpdatePayload struct {
	FirstName      string `form:"first_name" json:"first_name"`
	LastName       string `form:"last_name" json:"last_name"`
	Bio            string `form:"bio" json:"bio"`
	Phone          string `form:"phone_number" json:"phone_number"`
	ProfilePicture string `form:"profile_picture" json:"profile_picture"`
}

// Validate will validate the payload
func (r ProfileUpdatePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FirstName, validation.Length(0, 200)),
		validation.Field(&r.LastName, validation.Length(0, 200)),
		validation.Field(&r.Bio, validation.Length(0, MaxBioLength)),
		validation.Field(&r.ProfilePicture, is.URL),
	)
}

func (a *AccountsController) ProfilePost(ctx router.Context) error {
	session, err := GetRouterSession(ctx, a.ContextKey)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := new(ProfileUpdatePayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("profile parse payload: ", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error parsing body",
		}).Status(fiber.StatusBadRequest).Render(a.Views.Profile, router.ViewContext{
			"errors": map[string]string{"form": "Failed to parse form"},
			"record": payload,
		})
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Error("profile validate payload: ", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error validating payload",
		}).Render(a.Views.Profile, router.ViewContext{
			"record":     payload,
			"validation": FormatValidationErrorToMap(err),
		})
	}

	req := UpdateProfileMessage{
		UserID:         session.GetUserID(),
		FirstName:      &payload.FirstName,
		LastName:       &payload.LastName,
		Bio:            &payload.Bio,
		Phone:          &payload.Phone,
		ProfilePicture: &payload.ProfilePicture,
	}

	var updated *User
	req.OnResponse = func(user *User) {
		updated = user
	}

	if err := a.editProfile.Execute(ctx.Context(), req); err != nil {
		a.Logger.Error("profile update error: ", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Error updating profile",
		}).Render(a.Views.Profile, router.ViewContext{
			"record": payload,
			"errors": map[string]string{"form": err.Error()},
		})
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": "Profile updated",
	}).Render(a.Views.Profile, router.ViewContext{
		"errors": map[string]string{},
		"record": updated,
	})
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

// FormatValidationErrorToMap flattens ozzo validation errors into a
// field-to-message map for templates.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		for field, ferr := range verrs {
			if ferr != nil {
				out[field] = ferr.Error()
			}
		}
		return out
	}

	out["form"] = err.Error()
	return out
}

func defaultErrHandler(c router.Context, err error) error {
	return c.Render("errors/500", router.ViewContext{
		"message": err.Error(),
	})
}
