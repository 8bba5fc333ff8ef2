package config

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	auth "github.com/dbd-fish/templete-web-system"
)

var _ auth.Config = (*Config)(nil)

// TextCodeInvalidConfig marks configuration errors
const TextCodeInvalidConfig = "INVALID_CONFIG"

type Config struct {
	App      AppConfig
	HTTP     HTTPConfig
	Token    TokenConfig
	Cookie   CookieConfig
	Password PasswordConfig
	Links    LinkConfig
	Users    UsersConfig
	Database DatabaseConfig
	Redis    RedisConfig
	SMTP     SMTPConfig
	Log      LogConfig
}

type AppConfig struct {
	Name     string `env:"APP_NAME, default=templete-web-system"`
	URL      string `env:"APP_URL, default=http://localhost:3000"`
	Env      string `env:"APP_ENV, default=development"`
	HTTPAddr string `env:"HTTP_ADDR, default=:8000"`
}

type HTTPConfig struct {
	ProxyHeader    string        `env:"PROXY_HEADER"`
	TrustedProxies []string      `env:"TRUSTED_PROXIES"`
	LoginRateLimit int           `env:"LOGIN_RATE_LIMIT, default=10"`
	LoginWindow    time.Duration `env:"LOGIN_RATE_WINDOW, default=1m"`
}

type TokenConfig struct {
	SecretKey             string        `env:"SECRET_KEY"`
	Algorithm             string        `env:"ALGORITHM, default=HS256"`
	AccessTokenTTL        time.Duration `env:"ACCESS_TOKEN_TTL, default=240m"`
	RegistrationTokenTTL  time.Duration `env:"REGISTRATION_TOKEN_TTL, default=24h"`
	PasswordResetTokenTTL time.Duration `env:"PASSWORD_RESET_TOKEN_TTL, default=1h"`
}

type CookieConfig struct {
	Name   string `env:"AUTH_COOKIE_NAME, default=authToken"`
	Secure bool   `env:"AUTH_COOKIE_SECURE, default=true"`
	Domain string `env:"AUTH_COOKIE_DOMAIN"`
}

type PasswordConfig struct {
	HashCost          int `env:"PASSWORD_HASH_COST, default=12"`
	HashConcurrency   int `env:"PASSWORD_HASH_CONCURRENCY"`
	MinLength         int `env:"PASSWORD_MIN_LENGTH, default=8"`
	MaxLength         int `env:"PASSWORD_MAX_LENGTH, default=72"`
	UsernameMinLength int `env:"USERNAME_MIN_LENGTH, default=3"`
	UsernameMaxLength int `env:"USERNAME_MAX_LENGTH, default=50"`
}

type LinkConfig struct {
	VerifyEmailPath   string `env:"VERIFY_EMAIL_PATH, default=/signup-verify-complete"`
	ResetPasswordPath string `env:"RESET_PASSWORD_PATH, default=/reset-password"`
}

type UsersConfig struct {
	HashedIDs   bool   `env:"HASHED_USER_IDS, default=false"`
	PhoneRegion string `env:"PHONE_REGION, default=JP"`
}

type DatabaseConfig struct {
	Driver string `env:"DATABASE_DRIVER, default=sqlite"`
	DSN    string `env:"DATABASE_DSN, default=file:auth.db?cache=shared"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB, default=0"`
}

type SMTPConfig struct {
	Server   string `env:"SMTP_SERVER"`
	Port     int    `env:"SMTP_PORT, default=587"`
	Username string `env:"SMTP_USERNAME"`
	Password string `env:"SMTP_PASSWORD"`
	From     string `env:"MAIL_FROM"`
	Enabled  bool   `env:"ENABLE_EMAIL_SENDING, default=false"`
}

type LogConfig struct {
	Level  string `env:"LOG_LEVEL, default=info"`
	Pretty bool   `env:"LOG_PRETTY, default=false"`
}

// Load reads a .env file when present and then the process environment
func Load(ctx context.Context, files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && len(files) > 0 {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "load env files")
	}
	return process(ctx, envconfig.OsLookuper())
}

// LoadFromMap builds the configuration from m only
func LoadFromMap(ctx context.Context, m map[string]string) (*Config, error) {
	return process(ctx, envconfig.MapLookuper(m))
}

func process(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "process environment").
			WithTextCode(TextCodeInvalidConfig)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the server cannot start with
func (c *Config) Validate() error {
	var fields goerrors.ValidationErrors

	if len(c.Token.SecretKey) < 16 {
		fields = append(fields, goerrors.FieldError{Field: "SECRET_KEY", Message: "must be at least 16 characters"})
	}

	switch strings.ToUpper(c.Token.Algorithm) {
	case "HS256", "HS384", "HS512":
	default:
		fields = append(fields, goerrors.FieldError{Field: "ALGORITHM", Message: "is not supported", Value: c.Token.Algorithm})
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		fields = append(fields, goerrors.FieldError{Field: "DATABASE_DRIVER", Message: "is not supported", Value: c.Database.Driver})
	}

	if c.Cookie.Name == "" {
		fields = append(fields, goerrors.FieldError{Field: "AUTH_COOKIE_NAME", Message: "must not be empty"})
	}

	if c.HTTP.LoginRateLimit < 1 {
		fields = append(fields, goerrors.FieldError{Field: "LOGIN_RATE_LIMIT", Message: "must be positive"})
	}

	if len(fields) == 0 {
		return nil
	}

	return goerrors.NewValidation("invalid configuration", fields...).
		WithTextCode(TextCodeInvalidConfig)
}

// IsProduction reports whether APP_ENV names a production deployment
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.App.Env)
	return env == "production" || env == "prod"
}

// MailEnabled reports whether real mail can be sent
func (c *Config) MailEnabled() bool {
	return c.SMTP.Enabled && c.SMTP.Server != "" && c.SMTP.Username != "" && c.SMTP.Password != ""
}

// Redacted returns a copy safe to log
func (c Config) Redacted() Config {
	if c.Token.SecretKey != "" {
		c.Token.SecretKey = "***"
	}
	if c.SMTP.Password != "" {
		c.SMTP.Password = "***"
	}
	if c.Redis.Password != "" {
		c.Redis.Password = "***"
	}
	c.Database.DSN = redactDSN(c.Database.DSN)
	return c
}

func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return dsn
	}
	return dsn[:scheme+3] + "***" + dsn[at:]
}

func (c *Config) GetSigningKey() string {
	return c.Token.SecretKey
}

func (c *Config) GetSigningMethod() string {
	return strings.ToUpper(c.Token.Algorithm)
}

func (c *Config) GetAccessTokenTTL() time.Duration {
	return c.Token.AccessTokenTTL
}

func (c *Config) GetRegistrationTokenTTL() time.Duration {
	return c.Token.RegistrationTokenTTL
}

func (c *Config) GetPasswordResetTokenTTL() time.Duration {
	return c.Token.PasswordResetTokenTTL
}

func (c *Config) GetCookieName() string {
	return c.Cookie.Name
}

func (c *Config) GetCookieDomain() string {
	return c.Cookie.Domain
}

func (c *Config) GetCookieSecure() bool {
	return c.Cookie.Secure
}

func (c *Config) GetAppURL() string {
	return c.App.URL
}

func (c *Config) GetVerifyEmailPath() string {
	return c.Links.VerifyEmailPath
}

func (c *Config) GetResetPasswordPath() string {
	return c.Links.ResetPasswordPath
}

func (c *Config) GetPasswordPolicy() auth.PasswordPolicy {
	policy := auth.DefaultPasswordPolicy()
	policy.MinLength = c.Password.MinLength
	policy.MaxLength = c.Password.MaxLength
	policy.UsernameMinLength = c.Password.UsernameMinLength
	policy.UsernameMaxLength = c.Password.UsernameMaxLength
	return policy
}
