package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

// TokenService issues and decodes stateless HMAC signed tokens.
// Validity depends only on the signature and the exp claim.
type TokenService struct {
	signingKey []byte
	method     *jwt.SigningMethodHMAC
	now        Clock
	logger     Logger
}

// TokenServiceOption configures a TokenService
type TokenServiceOption func(*TokenService)

// WithSigningMethod selects HS256, HS384 or HS512
func WithSigningMethod(alg string) TokenServiceOption {
	return func(ts *TokenService) {
		if m, ok := jwt.GetSigningMethod(strings.ToUpper(alg)).(*jwt.SigningMethodHMAC); ok {
			ts.method = m
		} else {
			ts.method = nil
		}
	}
}

// WithTokenClock injects the clock used for exp
func WithTokenClock(clock Clock) TokenServiceOption {
	return func(ts *TokenService) {
		if clock != nil {
			ts.now = clock
		}
	}
}

// WithTokenLogger sets the logger
func WithTokenLogger(logger Logger) TokenServiceOption {
	return func(ts *TokenService) {
		if logger != nil {
			ts.logger = logger
		}
	}
}

// NewTokenService creates a new TokenService instance
func NewTokenService(signingKey []byte, opts ...TokenServiceOption) (*TokenService, error) {
	ts := &TokenService{
		signingKey: signingKey,
		method:     jwt.SigningMethodHS256,
		now:        time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(ts)
		}
	}

	if len(ts.signingKey) == 0 {
		return nil, goerrors.New("signing key must not be empty", goerrors.CategoryValidation)
	}

	if ts.method == nil {
		return nil, goerrors.New("signing method must be one of HS256, HS384, HS512", goerrors.CategoryValidation)
	}

	ts.logger = normalizeLogger(ts.logger)

	return ts, nil
}

// Issue signs claims merged with exp = now + ttl. A non positive ttl
// yields a token that expires within the current second or is already expired.
func (ts *TokenService) Issue(claims Claims, ttl time.Duration) (string, error) {
	payload := jwt.MapClaims{}
	for k, v := range claims {
		payload[k] = v
	}
	payload[ClaimExpiresAt] = ts.now().Add(ttl).Unix()

	token := jwt.NewWithClaims(ts.method, payload)

	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to sign token")
	}

	return signed, nil
}

// Decode verifies the signature then the expiry. Expiry is checked at
// second precision and a token is expired once now is past exp.
func (ts *TokenService) Decode(tokenString string) (Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrTokenInvalid
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{ts.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	payload := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(tokenString, payload, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	})
	if err != nil || !token.Valid {
		ts.logger.Debug("token rejected: %v", err)
		return nil, ErrTokenInvalid
	}

	exp, err := payload.GetExpirationTime()
	if err != nil || exp == nil {
		ts.logger.Debug("token rejected: missing or invalid exp")
		return nil, ErrTokenInvalid
	}

	if ts.now().Unix() > exp.Unix() {
		return nil, ErrTokenExpired
	}

	claims := make(Claims, len(payload))
	for k, v := range payload {
		claims[k] = v
	}
	claims[ClaimExpiresAt] = exp.Unix()

	return claims, nil
}

// IssueAccessToken issues a session token for email. A token id is
// generated so the token can be revoked through a denylist.
func (ts *TokenService) IssueAccessToken(email, clientIP string, ttl time.Duration) (string, AccessClaims, error) {
	access := AccessClaims{
		Subject:   email,
		ClientIP:  clientIP,
		TokenID:   uuid.NewString(),
		ExpiresAt: time.Unix(ts.now().Add(ttl).Unix(), 0),
	}

	token, err := ts.Issue(access.toClaims(), ttl)
	if err != nil {
		return "", AccessClaims{}, err
	}
	return token, access, nil
}

// DecodeAccessToken decodes a session token, sub is required
func (ts *TokenService) DecodeAccessToken(token string) (AccessClaims, error) {
	claims, err := ts.Decode(token)
	if err != nil {
		return AccessClaims{}, err
	}

	if err := claims.requireStrings(ClaimSubject); err != nil {
		ts.logger.Debug("access token rejected: %v", err)
		return AccessClaims{}, ErrTokenInvalid
	}

	exp, _ := claims.ExpiresAt()

	return AccessClaims{
		Subject:   claims.String(ClaimSubject),
		ClientIP:  claims.String(ClaimClientIP),
		TokenID:   claims.String(ClaimTokenID),
		ExpiresAt: exp,
	}, nil
}

// IssueRegistrationToken embeds a pending signup, password included
func (ts *TokenService) IssueRegistrationToken(reg RegistrationClaims, ttl time.Duration) (string, error) {
	return ts.Issue(reg.toClaims(), ttl)
}

// DecodeRegistrationToken requires email, username and password claims
func (ts *TokenService) DecodeRegistrationToken(token string) (RegistrationClaims, error) {
	claims, err := ts.Decode(token)
	if err != nil {
		return RegistrationClaims{}, err
	}

	if err := claims.requireStrings(ClaimEmail, ClaimUsername, ClaimPassword); err != nil {
		ts.logger.Debug("registration token rejected: %v", err)
		return RegistrationClaims{}, ErrTokenInvalid
	}

	return RegistrationClaims{
		Email:    claims.String(ClaimEmail),
		Username: claims.String(ClaimUsername),
		Password: claims.String(ClaimPassword),
	}, nil
}

// IssuePasswordResetToken issues a token carrying only the email
func (ts *TokenService) IssuePasswordResetToken(email string, ttl time.Duration) (string, error) {
	return ts.Issue(Claims{ClaimEmail: email}, ttl)
}

// DecodePasswordResetToken requires the email claim. Registration tokens
// also carry email and are rejected by their signup claims.
func (ts *TokenService) DecodePasswordResetToken(token string) (PasswordResetClaims, error) {
	claims, err := ts.Decode(token)
	if err != nil {
		return PasswordResetClaims{}, err
	}

	if err := claims.requireStrings(ClaimEmail); err != nil {
		ts.logger.Debug("password reset token rejected: %v", err)
		return PasswordResetClaims{}, ErrTokenInvalid
	}

	if _, ok := claims[ClaimPassword]; ok {
		ts.logger.Debug("password reset token rejected: registration claims present")
		return PasswordResetClaims{}, ErrTokenInvalid
	}
	if _, ok := claims[ClaimUsername]; ok {
		ts.logger.Debug("password reset token rejected: registration claims present")
		return PasswordResetClaims{}, ErrTokenInvalid
	}

	return PasswordResetClaims{Email: claims.String(ClaimEmail)}, nil
}
