package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
)

const dateOfBirthLayout = "2006-01-02"

// RegisterAuthRoutes mounts the account endpoints on app, usually a
// group such as /api/v1/auth.
func RegisterAuthRoutes(app fiber.Router, opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)
	protected := controller.Auther.ProtectedRoute()

	app.Post(controller.Routes.Login, controller.LoginPost).Name("auth.login")
	app.Post(controller.Routes.Logout, controller.LogOut).Name("auth.logout")

	app.Post(controller.Routes.SendVerifyEmail, controller.SendVerifyEmail).Name("auth.send-verify-email")
	app.Post(controller.Routes.Signup, controller.Signup).Name("auth.signup")

	app.Post(controller.Routes.SendPasswordResetEmail, controller.SendPasswordResetEmail).Name("auth.send-password-reset-email")
	app.Post(controller.Routes.ResetPassword, controller.ResetPassword).Name("auth.reset-password")

	app.Get(controller.Routes.Me, protected, controller.Me).Name("auth.me.get")
	app.Post(controller.Routes.Me, protected, controller.Me).Name("auth.me.post")
	app.Patch(controller.Routes.Me, protected, controller.UpdateMe).Name("auth.me.patch")
	app.Delete(controller.Routes.Me, protected, controller.DeleteMe).Name("auth.me.delete")

	return controller
}

// Pinger is satisfied by *bun.DB and *sql.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// RegisterHealthRoutes mounts GET /health, which also pings the database
func RegisterHealthRoutes(app fiber.Router, db Pinger, logger Logger) {
	logger = normalizeLogger(logger)
	app.Get("/health", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()

		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				logger.Error("health check database ping failed: %v", err)
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"status":   "unhealthy",
					"database": "unreachable",
				})
			}
		}

		return c.JSON(fiber.Map{"status": "healthy", "database": "ok"})
	}).Name("health")
}

type AuthControllerRoutes struct {
	Login                  string
	Logout                 string
	Me                     string
	Signup                 string
	SendVerifyEmail        string
	SendPasswordResetEmail string
	ResetPassword          string
}

type AuthController struct {
	Debug   bool
	Logger  Logger
	Service *Service
	Routes  *AuthControllerRoutes
	Auther  *RouteAuthenticator
}

type AuthControllerOption func(*AuthController) *AuthController

// WithAuthService sets the account service backing the controller
func WithAuthService(service *Service) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Service = service
		return c
	}
}

// WithRouteAuthenticator sets the cookie and token guard
func WithRouteAuthenticator(auther *RouteAuthenticator) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Auther = auther
		return c
	}
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

// WithControllerDebug logs sanitized payloads at debug level
func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defaultLogger(),
		Routes: &AuthControllerRoutes{
			Login:                  "/login",
			Logout:                 "/logout",
			Me:                     "/me",
			Signup:                 "/signup",
			SendVerifyEmail:        "/send-verify-email",
			SendPasswordResetEmail: "/send-password-reset-email",
			ResetPassword:          "/reset-password",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Service == nil {
		panic("Missing Service in auth controller...")
	}

	if c.Auther == nil {
		panic("Missing RouteAuthenticator in auth controller...")
	}

	return c
}

// LoginRequest payload. Field names follow the OAuth2 password form.
type LoginRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Username, validation.Required),
		validation.Field(&r.Password, validation.Required),
	)
}

func (a *AuthController) LoginPost(ctx *fiber.Ctx) error {
	payload := new(LoginRequest)
	if err := ctx.BodyParser(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	if err := payload.Validate(); err != nil {
		return a.Auther.ErrorHandler(ctx, NewValidationError(err, "login payload is invalid"))
	}

	result, err := a.Auther.Login(ctx, payload.Username, payload.Password)
	if err != nil {
		return a.Auther.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"msg":          "Login successful",
		"access_token": result.Token,
		"token_type":   "bearer",
		"expires_at":   result.ExpiresAt.UTC(),
	})
}

func (a *AuthController) LogOut(ctx *fiber.Ctx) error {
	if err := a.Auther.Logout(ctx); err != nil {
		return a.Auther.ErrorHandler(ctx, err)
	}
	return ctx.JSON(fiber.Map{"msg": "Logged out successfully"})
}

func (a *AuthController) Me(ctx *fiber.Ctx) error {
	session, err := GetSession(ctx, DefaultSessionKey)
	if err != nil {
		return a.Auther.AuthErrorHandler(ctx, err)
	}
	return ctx.JSON(session.User)
}

// SendVerifyEmailPayload starts a signup
type SendVerifyEmailPayload struct {
	Email    string `form:"email" json:"email"`
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
}

func (a *AuthController) SendVerifyEmail(ctx *fiber.Ctx) error {
	payload := new(SendVerifyEmailPayload)
	if err := ctx.BodyParser(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	if a.Debug {
		a.Logger.Debug("send verify email payload: %s", print.MaybePrettyJSON(map[string]string{
			"email":    payload.Email,
			"username": payload.Username,
		}))
	}

	err := a.Service.RequestRegistration(ctx.UserContext(), payload.Email, payload.Username, payload.Password)
	if err != nil {
		return a.Auther.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{"msg": "Verification email sent successfully"})
}

// TokenPayload carries a mailed token
type TokenPayload struct {
	Token string `form:"token" json:"token"`
}

func (a *AuthController) Signup(ctx *fiber.Ctx) error {
	payload := new(TokenPayload)
	if err := ctx.BodyParser(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	user, err := a.Service.Register(ctx.UserContext(), payload.Token)
	if err != nil {
		return a.Auther.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"msg":     "User created successfully",
		"user_id": user.ID.String(),
	})
}

// PasswordResetRequestPayload holds values for password reset
type PasswordResetRequestPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r PasswordResetRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) SendPasswordResetEmail(ctx *fiber.Ctx) error {
	payload := new(PasswordResetRequestPayload)
	if err := ctx.BodyParser(payload); err != nil {
		return a.badRequest(ctx, err)
	}
	payload.Email = strings.TrimSpace(payload.Email)

	if err := payload.Validate(); err != nil {
		return a.Auther.ErrorHandler(ctx, NewValidationError(err, "password reset payload is invalid"))
	}

	if err := a.Service.RequestPasswordReset(ctx.UserContext(), payload.Email); err != nil {
		return a.Auther.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{"msg": "Password reset email sent successfully"})
}

// PasswordResetPayload completes a reset
type PasswordResetPayload struct {
	Token       string `form:"token" json:"token"`
	NewPassword string `form:"new_password" json:"new_password"`
}

func (a *AuthController) ResetPassword(ctx *fiber.Ctx) error {
	payload := new(PasswordResetPayload)
	if err := ctx.BodyParser(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	if err := a.Service.CompletePasswordReset(ctx.UserContext(), payload.Token, payload.NewPassword); err != nil {
		return a.Auther.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{"msg": "Password reset successfully"})
}

// UpdateProfilePayload holds the PATCH /me body. Absent fields are kept.
type UpdateProfilePayload struct {
	Username      *string `json:"username"`
	Email         *string `json:"email"`
	ContactNumber *string `json:"contact_number"`
	DateOfBirth   *string `json:"date_of_birth"`
}

func (a *AuthController) UpdateMe(ctx *fiber.Ctx) error {
	session, err := GetSession(ctx, DefaultSessionKey)
	if err != nil {
		return a.Auther.AuthErrorHandler(ctx, err)
	}

	payload := new(UpdateProfilePayload)
	if err := ctx.BodyParser(payload); err != nil {
		return a.badRequest(ctx, err)
	}

	if a.Debug {
		a.Logger.Debug("update profile payload: %s", print.MaybePrettyJSON(payload))
	}

	msg := UpdateProfileMessage{
		UserID:        session.User.ID,
		Username:      payload.Username,
		Email:         payload.Email,
		ContactNumber: payload.ContactNumber,
	}

	if payload.DateOfBirth != nil && *payload.DateOfBirth != "" {
		dob, err := time.Parse(dateOfBirthLayout, *payload.DateOfBirth)
		if err != nil {
			return a.Auther.ErrorHandler(ctx, NewValidationError(
				validation.Errors{"date_of_birth": errors.New("must be formatted as YYYY-MM-DD")},
				"date of birth is invalid",
			))
		}
		msg.DateOfBirth = &dob
	}

	user, emailChanged, err := a.Service.UpdateProfile(ctx.UserContext(), msg)
	if err != nil {
		return a.Auther.ErrorHandler(ctx, err)
	}

	// the token subject is the email, so the old token no longer resolves
	if emailChanged {
		if _, err := a.Auther.Refresh(ctx, user, session.Token); err != nil {
			return a.Auther.ErrorHandler(ctx, err)
		}
	}

	return ctx.JSON(user)
}

func (a *AuthController) DeleteMe(ctx *fiber.Ctx) error {
	session, err := GetSession(ctx, DefaultSessionKey)
	if err != nil {
		return a.Auther.AuthErrorHandler(ctx, err)
	}

	if err := a.Service.SoftDelete(ctx.UserContext(), session.Actor(), session.User.ID); err != nil {
		return a.Auther.ErrorHandler(ctx, err)
	}

	if err := a.Auther.Logout(ctx); err != nil {
		a.Logger.Warn("failed to revoke token after account deletion: %v", err)
	}

	return ctx.JSON(fiber.Map{"msg": "Account deleted successfully"})
}

func (a *AuthController) badRequest(ctx *fiber.Ctx, err error) error {
	a.Logger.Info("failed to parse request body path=%s: %v", ctx.Path(), err)
	return a.Auther.ErrorHandler(ctx, NewValidationError(err, "request body could not be parsed"))
}
