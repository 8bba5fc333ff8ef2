package auth_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/dbd-fish/templete-web-system"
)

// extractToken returns the unescaped token query value of the first link in body
func extractToken(t *testing.T, body string) string {
	t.Helper()

	idx := strings.Index(body, "?token=")
	require.NotEqual(t, -1, idx, "mail body has no token link:\n%s", body)

	raw := body[idx+len("?token="):]
	if end := strings.IndexAny(raw, " \r\n\t"); end != -1 {
		raw = raw[:end]
	}

	token, err := url.QueryUnescape(raw)
	require.NoError(t, err)
	return token
}

func TestMailTemplates_Verification(t *testing.T) {
	templates, err := auth.NewMailTemplates("Test App")
	require.NoError(t, err)

	subject, body, err := templates.Verification("alice", "https://app.example.com/verify?token=abc", 24*time.Hour)
	require.NoError(t, err)

	assert.Equal(t, "[Test App] Confirm your email address", subject)
	assert.Contains(t, body, "Hello alice,")
	assert.Contains(t, body, "Test App")
	assert.Contains(t, body, "https://app.example.com/verify?token=abc")
	assert.Contains(t, body, "24 hours")
}

func TestMailTemplates_PasswordReset(t *testing.T) {
	templates, err := auth.NewMailTemplates("")
	require.NoError(t, err)

	subject, body, err := templates.PasswordReset("https://app.example.com/reset?token=xyz", time.Hour)
	require.NoError(t, err)

	assert.Equal(t, "[our service] Reset your password", subject)
	assert.Contains(t, body, "https://app.example.com/reset?token=xyz")
	assert.Contains(t, body, "1 hour.")
}

func TestMailTemplates_DurationWording(t *testing.T) {
	templates, err := auth.NewMailTemplates("Test App")
	require.NoError(t, err)

	tests := []struct {
		name     string
		validFor time.Duration
		expected string
	}{
		{name: "minutes", validFor: 30 * time.Minute, expected: "30 minutes"},
		{name: "single minute", validFor: time.Minute, expected: "1 minute"},
		{name: "hours", validFor: 3 * time.Hour, expected: "3 hours"},
		{name: "odd duration", validFor: 90 * time.Second, expected: "1m30s"},
		{name: "zero", validFor: 0, expected: "a moment"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, body, err := templates.PasswordReset("https://x.test/r?token=t", tt.validFor)
			require.NoError(t, err)
			assert.Contains(t, body, "expires in "+tt.expected)
		})
	}
}

func TestMailDispatcher_SendsInBackground(t *testing.T) {
	mailer := &recordingMailer{}
	dispatcher := auth.NewMailDispatcher(mailer, testLogger(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Dispatch(ctx, "alice@example.com", "subject", "body")
	cancel()

	dispatcher.Wait()

	sent := mailer.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@example.com", sent[0].To)
	assert.Equal(t, "subject", sent[0].Subject)
	assert.Equal(t, "body", sent[0].Body)
}

func TestMailDispatcher_SurvivesRequestCancellation(t *testing.T) {
	var sawCancelled atomic.Bool
	mailer := auth.MailerFunc(func(ctx context.Context, _, _, _ string) error {
		if ctx.Err() != nil {
			sawCancelled.Store(true)
		}
		return nil
	})

	dispatcher := auth.NewMailDispatcher(mailer, testLogger(), time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dispatcher.Dispatch(ctx, "alice@example.com", "subject", "body")
	dispatcher.Wait()

	assert.False(t, sawCancelled.Load())
}

func TestMailDispatcher_FailureIsSwallowed(t *testing.T) {
	mailer := &recordingMailer{err: errors.New("smtp down")}
	dispatcher := auth.NewMailDispatcher(mailer, testLogger(), time.Second)

	assert.NotPanics(t, func() {
		dispatcher.Dispatch(context.Background(), "alice@example.com", "subject", "body")
		dispatcher.Wait()
	})
	assert.Len(t, mailer.Sent(), 1)
}

func TestMailDispatcher_NilMailer(t *testing.T) {
	dispatcher := auth.NewMailDispatcher(nil, testLogger(), 0)
	dispatcher.Dispatch(context.Background(), "alice@example.com", "subject", "body")
	dispatcher.Wait()
}

func TestNotifier_BuildsEscapedLinks(t *testing.T) {
	templates, err := auth.NewMailTemplates("Test App")
	require.NoError(t, err)

	mailer := &recordingMailer{}
	notifier := auth.NewNotifier(templates,
		auth.NewMailDispatcher(mailer, testLogger(), time.Second),
		"https://app.example.com/",
		testLogger(),
	)

	token := "a.b+c/d="
	err = notifier.SendVerification(context.Background(), "alice@example.com", "alice", "signup-verify-complete", token, time.Hour)
	require.NoError(t, err)

	err = notifier.SendPasswordReset(context.Background(), "alice@example.com", "/reset-password", token, time.Hour)
	require.NoError(t, err)

	notifier.Wait()

	sent := mailer.Sent()
	require.Len(t, sent, 2)

	bySubject := map[string]string{}
	for _, m := range sent {
		bySubject[m.Subject] = m.Body
	}

	verification, ok := bySubject["[Test App] Confirm your email address"]
	require.True(t, ok)
	reset, ok := bySubject["[Test App] Reset your password"]
	require.True(t, ok)

	assert.Contains(t, verification, "https://app.example.com/signup-verify-complete?token="+url.QueryEscape(token))
	assert.Contains(t, reset, "https://app.example.com/reset-password?token="+url.QueryEscape(token))
	assert.Equal(t, token, extractToken(t, verification))
	assert.Equal(t, token, extractToken(t, reset))
}

func TestLogMailer_Send(t *testing.T) {
	mailer := auth.NewLogMailer(testLogger())
	assert.NoError(t, mailer.Send(context.Background(), "alice@example.com", "subject", "body"))
}
