package auth_test

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
	"golang.org/x/crypto/bcrypt"

	auth "github.com/dbd-fish/templete-web-system"
)

const (
	testSecret   = "test-secret-key-0123456789"
	testPassword = "Passw0rdOk"
)

type testConfig struct {
	accessTTL time.Duration
	regTTL    time.Duration
	resetTTL  time.Duration
}

func newTestConfig() *testConfig {
	return &testConfig{
		accessTTL: 240 * time.Minute,
		regTTL:    24 * time.Hour,
		resetTTL:  time.Hour,
	}
}

func (c *testConfig) GetSigningKey() string                  { return testSecret }
func (c *testConfig) GetSigningMethod() string               { return "HS256" }
func (c *testConfig) GetAccessTokenTTL() time.Duration       { return c.accessTTL }
func (c *testConfig) GetRegistrationTokenTTL() time.Duration { return c.regTTL }
func (c *testConfig) GetPasswordResetTokenTTL() time.Duration {
	return c.resetTTL
}
func (c *testConfig) GetCookieName() string   { return "authToken" }
func (c *testConfig) GetCookieDomain() string { return "" }
func (c *testConfig) GetCookieSecure() bool   { return true }
func (c *testConfig) GetAppURL() string       { return "https://app.example.com/" }
func (c *testConfig) GetVerifyEmailPath() string {
	return "/signup-verify-complete"
}
func (c *testConfig) GetResetPasswordPath() string { return "/reset-password" }
func (c *testConfig) GetPasswordPolicy() auth.PasswordPolicy {
	return auth.DefaultPasswordPolicy()
}

// testClock is a settable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentMail struct {
	To      string
	Subject string
	Body    string
}

// recordingMailer keeps every message it was asked to send
type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *recordingMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: to, Subject: subject, Body: body})
	return m.err
}

func (m *recordingMailer) Sent() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMail, len(m.sent))
	copy(out, m.sent)
	return out
}

// recordingSink keeps every activity event
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func testLogger() auth.Logger {
	return auth.NewZerologLogger(zerolog.Nop())
}

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})

	require.NoError(t, auth.CreateSchema(context.Background(), db))
	return db
}

func newTestHasher() *auth.BcryptHasher {
	return auth.NewBcryptHasher(auth.WithHashCost(bcrypt.MinCost))
}

func newTestTokens(t *testing.T, clock *testClock) *auth.TokenService {
	t.Helper()
	tokens, err := auth.NewTokenService([]byte(testSecret),
		auth.WithTokenClock(clock.Now),
		auth.WithTokenLogger(testLogger()),
	)
	require.NoError(t, err)
	return tokens
}

type harness struct {
	cfg     *testConfig
	clock   *testClock
	db      *bun.DB
	repo    auth.RepositoryManager
	hasher  *auth.BcryptHasher
	tokens  *auth.TokenService
	mailer  *recordingMailer
	sink    *recordingSink
	service *auth.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		cfg:    newTestConfig(),
		clock:  newTestClock(),
		db:     newTestDB(t),
		hasher: newTestHasher(),
		mailer: &recordingMailer{},
		sink:   &recordingSink{},
	}
	h.repo = auth.NewRepositoryManager(h.db)
	h.tokens = newTestTokens(t, h.clock)

	templates, err := auth.NewMailTemplates("Test App")
	require.NoError(t, err)

	notifier := auth.NewNotifier(templates,
		auth.NewMailDispatcher(h.mailer, testLogger(), time.Second),
		h.cfg.GetAppURL(),
		testLogger(),
	)

	h.service = auth.NewService(auth.ServiceDeps{
		Repo:         h.repo,
		Hasher:       h.hasher,
		Tokens:       h.tokens,
		Notifier:     notifier,
		ActivitySink: h.sink,
		Logger:       testLogger(),
		Clock:        h.clock.Now,
	}, h.cfg)

	return h
}

// register runs both signup phases for a new active account
func (h *harness) register(t *testing.T, email, username, password string) *auth.User {
	t.Helper()
	ctx := context.Background()

	token, err := h.tokens.IssueRegistrationToken(auth.RegistrationClaims{
		Email:    email,
		Username: username,
		Password: password,
	}, h.cfg.GetRegistrationTokenTTL())
	require.NoError(t, err)

	user, err := h.service.Register(ctx, token)
	require.NoError(t, err)
	return user
}

func (h *harness) lastMailToken(t *testing.T) string {
	t.Helper()
	h.service.Wait()

	sent := h.mailer.Sent()
	require.NotEmpty(t, sent)
	return extractToken(t, sent[len(sent)-1].Body)
}
