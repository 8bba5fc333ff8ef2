package auth

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/template/django/v3"
	goerrors "github.com/goliatone/go-errors"
)

//go:embed templates/mail/*.django
var mailTemplatesFS embed.FS

const (
	verificationTemplate  = "verification"
	passwordResetTemplate = "password_reset"
)

// MailTemplates renders the bodies of account emails
type MailTemplates struct {
	engine  *django.Engine
	appName string
}

// NewMailTemplates loads the embedded django templates
func NewMailTemplates(appName string) (*MailTemplates, error) {
	sub, err := fs.Sub(mailTemplatesFS, "templates/mail")
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open mail templates")
	}

	engine := django.NewFileSystem(http.FS(sub), ".django")
	// plain text bodies
	engine.SetAutoEscape(false)
	if err := engine.Load(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load mail templates")
	}

	if appName == "" {
		appName = "our service"
	}

	return &MailTemplates{engine: engine, appName: appName}, nil
}

// Verification returns the subject and body of the signup confirmation mail
func (t *MailTemplates) Verification(username, link string, validFor time.Duration) (string, string, error) {
	body, err := t.render(verificationTemplate, map[string]any{
		"username":  username,
		"url":       link,
		"valid_for": humanDuration(validFor),
	})
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("[%s] Confirm your email address", t.appName), body, nil
}

// PasswordReset returns the subject and body of the reset link mail
func (t *MailTemplates) PasswordReset(link string, validFor time.Duration) (string, string, error) {
	body, err := t.render(passwordResetTemplate, map[string]any{
		"url":       link,
		"valid_for": humanDuration(validFor),
	})
	if err != nil {
		return "", "", err
	}
	return fmt.Sprintf("[%s] Reset your password", t.appName), body, nil
}

func (t *MailTemplates) render(name string, binding map[string]any) (string, error) {
	binding["app_name"] = t.appName

	var buf bytes.Buffer
	if err := t.engine.Render(&buf, name, binding); err != nil {
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to render mail template "+name)
	}
	return buf.String(), nil
}

// MailDispatcher sends mail in the background. Every message is attempted
// at most once and failures are only logged, the caller never sees them.
type MailDispatcher struct {
	mailer  Mailer
	logger  Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewMailDispatcher wraps mailer. timeout bounds each send, zero means 30s.
func NewMailDispatcher(mailer Mailer, logger Logger, timeout time.Duration) *MailDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &MailDispatcher{
		mailer:  mailer,
		logger:  normalizeLogger(logger),
		timeout: timeout,
	}
}

// Dispatch sends the message on its own goroutine and returns immediately.
// The send outlives ctx cancellation but keeps its values.
func (d *MailDispatcher) Dispatch(ctx context.Context, to, subject, body string) {
	if d == nil || d.mailer == nil {
		return
	}

	sendCtx := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ctx, cancel := context.WithTimeout(sendCtx, d.timeout)
		defer cancel()

		if err := d.mailer.Send(ctx, to, subject, body); err != nil {
			d.logger.Error("failed to send mail to=%s subject=%q: %v", to, subject, err)
			return
		}
		d.logger.Debug("mail sent to=%s subject=%q", to, subject)
	}()
}

// Wait blocks until every dispatched message was attempted
func (d *MailDispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}

// Notifier composes and dispatches the account emails
type Notifier struct {
	templates  *MailTemplates
	dispatcher *MailDispatcher
	appURL     string
	logger     Logger
}

// NewNotifier builds links against appURL
func NewNotifier(templates *MailTemplates, dispatcher *MailDispatcher, appURL string, logger Logger) *Notifier {
	return &Notifier{
		templates:  templates,
		dispatcher: dispatcher,
		appURL:     strings.TrimRight(appURL, "/"),
		logger:     normalizeLogger(logger),
	}
}

// SendVerification dispatches the signup confirmation mail
func (n *Notifier) SendVerification(ctx context.Context, email, username, path, token string, validFor time.Duration) error {
	link := n.link(path, token)
	subject, body, err := n.templates.Verification(username, link, validFor)
	if err != nil {
		n.logger.Error("failed to render verification mail: %v", err)
		return err
	}
	n.logger.Debug("queueing verification mail to=%s", email)
	n.dispatcher.Dispatch(ctx, email, subject, body)
	return nil
}

// SendPasswordReset dispatches the reset link mail
func (n *Notifier) SendPasswordReset(ctx context.Context, email, path, token string, validFor time.Duration) error {
	link := n.link(path, token)
	subject, body, err := n.templates.PasswordReset(link, validFor)
	if err != nil {
		n.logger.Error("failed to render password reset mail: %v", err)
		return err
	}
	n.logger.Debug("queueing password reset mail to=%s", email)
	n.dispatcher.Dispatch(ctx, email, subject, body)
	return nil
}

// Wait blocks until every dispatched mail was attempted
func (n *Notifier) Wait() {
	if n == nil {
		return
	}
	n.dispatcher.Wait()
}

func (n *Notifier) link(path, token string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return n.appURL + path + "?token=" + url.QueryEscape(token)
}

// LogMailer only logs messages. Used when mail sending is disabled or
// SMTP credentials are missing.
type LogMailer struct {
	logger Logger
}

// NewLogMailer returns a Mailer that never sends anything
func NewLogMailer(logger Logger) *LogMailer {
	return &LogMailer{logger: normalizeLogger(logger)}
}

// Send implements Mailer
func (m *LogMailer) Send(_ context.Context, to, subject, body string) error {
	m.logger.Warn("mail sending disabled, skipping message to=%s subject=%q", to, subject)
	m.logger.Debug("skipped mail body:\n%s", body)
	return nil
}

func humanDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "a moment"
	case d%time.Hour == 0 && d >= time.Hour:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	case d%time.Minute == 0 && d >= time.Minute:
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}
