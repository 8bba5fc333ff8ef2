package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/utils"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"

	"github.com/dbd-fish/templete-web-system/middleware/jwtware"
)

// ErrorBody is the JSON shape of every error response
type ErrorBody struct {
	Code     int               `json:"code"`
	TextCode string            `json:"text_code"`
	Message  string            `json:"message"`
	Fields   map[string]string `json:"fields,omitempty"`
}

// RouteAuthenticator binds the account service to fiber: it guards
// protected routes and manages the auth cookie.
type RouteAuthenticator struct {
	service          *Service
	cfg              Config
	cookieDuration   time.Duration
	Logger           Logger
	AuthErrorHandler fiber.ErrorHandler
	ErrorHandler     fiber.ErrorHandler
}

func NewHTTPAuthenticator(service *Service, cfg Config) *RouteAuthenticator {
	cookieDuration := cfg.GetAccessTokenTTL()
	if cookieDuration <= 0 {
		cookieDuration = 240 * time.Minute
	}

	a := &RouteAuthenticator{
		service:        service,
		cfg:            cfg,
		Logger:         defaultLogger(),
		cookieDuration: cookieDuration,
	}

	a.ErrorHandler = a.defaultErrHandler
	a.AuthErrorHandler = a.defaultAuthErrHandler

	return a
}

// WithLogger sets the logger used by the error handlers
func (a *RouteAuthenticator) WithLogger(logger Logger) *RouteAuthenticator {
	a.Logger = normalizeLogger(logger)
	return a
}

func (a *RouteAuthenticator) GetCookieDuration() time.Duration {
	return a.cookieDuration
}

// TokenLookup is the cookie first, then the bearer header
func (a *RouteAuthenticator) TokenLookup() string {
	return "cookie:" + a.cfg.GetCookieName() + ",header:" + fiber.HeaderAuthorization
}

// ProtectedRoute rejects requests without a valid access token and
// stores the caller's *Session under DefaultSessionKey.
func (a *RouteAuthenticator) ProtectedRoute() fiber.Handler {
	return jwtware.New(jwtware.Config{
		ContextKey:  DefaultSessionKey,
		TokenLookup: a.TokenLookup(),
		AuthScheme:  "Bearer",
		TokenValidator: jwtware.TokenValidatorFunc(func(ctx context.Context, token string) (any, error) {
			user, claims, err := a.service.Authenticator().CurrentUser(ctx, token)
			if err != nil {
				return nil, err
			}
			return &Session{User: user, Token: token, Claims: claims}, nil
		}),
		ValidationListeners: []jwtware.ValidationListener{
			func(c *fiber.Ctx, subject any) error {
				if session, ok := subject.(*Session); ok {
					c.SetUserContext(WithSessionContext(c.UserContext(), session))
				}
				return nil
			},
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return a.AuthErrorHandler(c, err)
		},
	})
}

// RawToken returns the access token sent with the request, if any
func (a *RouteAuthenticator) RawToken(c *fiber.Ctx) string {
	token, err := jwtware.ExtractRawToken(c, jwtware.GetExtractors(a.TokenLookup(), "Bearer"))
	if err != nil {
		return ""
	}
	return token
}

// Login checks the credentials and sets the auth cookie
func (a *RouteAuthenticator) Login(c *fiber.Ctx, identifier, password string) (*LoginResult, error) {
	result, err := a.service.Authenticator().Login(c.UserContext(), identifier, password, ClientIP(c))
	if err != nil {
		return nil, err
	}
	a.setCookieToken(c, result.Token, result.MaxAge)
	return result, nil
}

// Refresh replaces the auth cookie with a token for user and revokes the old one
func (a *RouteAuthenticator) Refresh(c *fiber.Ctx, user *User, previous string) (*LoginResult, error) {
	auther := a.service.Authenticator()
	result, err := auther.IssueSession(c.UserContext(), user, ClientIP(c))
	if err != nil {
		return nil, err
	}
	if previous != "" {
		if err := auther.Logout(c.UserContext(), previous); err != nil {
			a.Logger.Warn("failed to revoke previous token: %v", err)
		}
	}
	a.setCookieToken(c, result.Token, result.MaxAge)
	return result, nil
}

// Logout revokes the request token, if any, and clears the cookie
func (a *RouteAuthenticator) Logout(c *fiber.Ctx) error {
	a.cookieDel(c)
	token := a.RawToken(c)
	if token == "" {
		return nil
	}
	return a.service.Authenticator().Logout(c.UserContext(), token)
}

func (a *RouteAuthenticator) setCookieToken(c *fiber.Ctx, val string, duration time.Duration) {
	if duration <= 0 {
		duration = a.cookieDuration
	}
	c.Cookie(&fiber.Cookie{
		Name:     a.cfg.GetCookieName(),
		Value:    val,
		Path:     "/",
		Domain:   a.cfg.GetCookieDomain(),
		MaxAge:   int(duration / time.Second),
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   a.cfg.GetCookieSecure(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (a *RouteAuthenticator) cookieDel(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     a.cfg.GetCookieName(),
		Value:    "",
		Path:     "/",
		Domain:   a.cfg.GetCookieDomain(),
		MaxAge:   -1,
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   a.cfg.GetCookieSecure(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// defaultAuthErrHandler answers 401 for every protected route failure.
// Expired tokens keep their own text code so clients can tell them apart.
func (a *RouteAuthenticator) defaultAuthErrHandler(c *fiber.Ctx, err error) error {
	richErr := ErrAuthenticationFailed
	if IsTokenExpiredError(err) {
		richErr = ErrTokenExpired
	} else if !errors.Is(err, ErrAuthenticationFailed) &&
		!errors.Is(err, jwtware.ErrJWTMissingOrMalformed) &&
		!IsTokenInvalidError(err) {
		return a.ErrorHandler(c, err)
	}

	a.Logger.Info("authentication error path=%s text_code=%s: %v", c.OriginalURL(), richErr.TextCode, err)

	c.Set(fiber.HeaderWWWAuthenticate, "Bearer")
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": ErrorBody{
			Code:     fiber.StatusUnauthorized,
			TextCode: richErr.TextCode,
			Message:  richErr.Message,
		},
	})
}

func (a *RouteAuthenticator) defaultErrHandler(c *fiber.Ctx, err error) error {
	return WriteError(c, a.Logger, err)
}

// WriteError renders err as an ErrorBody with the status from StatusCode.
// Internal failures are logged and their message is not exposed.
func WriteError(c *fiber.Ctx, logger Logger, err error) error {
	logger = normalizeLogger(logger)
	status := StatusCode(err)

	body := ErrorBody{
		Code:     status,
		TextCode: TextCode(err),
		Message:  "an unexpected server error occurred",
		Fields:   validationFields(err),
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		logger.Debug("request error category=%s details=%s", richErr.Category, print.MaybePrettyJSON(richErr.Metadata))
		if status < fiber.StatusInternalServerError {
			body.Message = richErr.Message
		}
	}

	if status >= fiber.StatusInternalServerError {
		logger.Error("request failed method=%s path=%s: %v", c.Method(), c.Path(), err)
	} else {
		logger.Info("request rejected method=%s path=%s status=%d: %v", c.Method(), c.Path(), status, err)
	}

	return c.Status(status).JSON(fiber.Map{"error": body})
}

// FiberErrorHandler is installed as the fiber app error handler so routing
// and body parsing failures share the JSON error shape.
func FiberErrorHandler(logger Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var fiberErr *fiber.Error
		if errors.As(err, &fiberErr) {
			return c.Status(fiberErr.Code).JSON(fiber.Map{
				"error": ErrorBody{
					Code:     fiberErr.Code,
					TextCode: strings.ToUpper(strings.ReplaceAll(utils.StatusMessage(fiberErr.Code), " ", "_")),
					Message:  fiberErr.Message,
				},
			})
		}
		return WriteError(c, logger, err)
	}
}

// LoginLimiter caps requests per peer address. The key is c.IP, which only
// reads the proxy header when the peer is listed in fiber's TrustedProxies.
func LoginLimiter(max int, window time.Duration) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusTooManyRequests, "too many login attempts")
		},
	})
}

// ClientIP prefers the first X-Forwarded-For hop. The header is client
// controlled, so the value is recorded for audit only.
func ClientIP(c *fiber.Ctx) string {
	if forwarded := c.Get(fiber.HeaderXForwardedFor); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}
	if ip := c.IP(); ip != "" {
		return ip
	}
	return "unknown"
}

func validationFields(err error) map[string]string {
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		var richErr *goerrors.Error
		if !goerrors.As(err, &richErr) || richErr.Source == nil || !errors.As(richErr.Source, &fieldErrs) {
			return nil
		}
	}

	out := make(map[string]string, len(fieldErrs))
	for field, fieldErr := range fieldErrs {
		if fieldErr != nil {
			out[field] = fieldErr.Error()
		}
	}
	return out
}
