package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Options configures an SMTP mailer
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP delivers plain text messages over STARTTLS with PLAIN auth
type SMTP struct {
	opts   Options
	from   mail.Address
	dialer net.Dialer
	now    func() time.Time
}

// NewSMTP validates opts. From defaults to Username.
func NewSMTP(opts Options) (*SMTP, error) {
	if opts.Host == "" {
		return nil, goerrors.New("smtp host is required", goerrors.CategoryValidation)
	}
	if opts.Port == 0 {
		opts.Port = 587
	}
	if opts.From == "" {
		opts.From = opts.Username
	}

	from, err := mail.ParseAddress(opts.From)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryValidation, "invalid sender address")
	}

	return &SMTP{
		opts:   opts,
		from:   *from,
		dialer: net.Dialer{Timeout: 10 * time.Second},
		now:    time.Now,
	}, nil
}

func (m *SMTP) addr() string {
	return net.JoinHostPort(m.opts.Host, strconv.Itoa(m.opts.Port))
}

// Send implements the auth Mailer interface. ctx bounds the whole exchange.
func (m *SMTP) Send(ctx context.Context, to, subject, body string) error {
	rcpt, err := mail.ParseAddress(to)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid recipient address")
	}

	msg, err := m.compose(rcpt, subject, body)
	if err != nil {
		return err
	}

	conn, err := m.dialer.DialContext(ctx, "tcp", m.addr())
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to connect to smtp server")
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, m.opts.Host)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "smtp handshake failed")
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: m.opts.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryOperation, "smtp starttls failed")
		}
	}

	if m.opts.Username != "" {
		auth := smtp.PlainAuth("", m.opts.Username, m.opts.Password, m.opts.Host)
		if err := client.Auth(auth); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryAuth, "smtp authentication failed")
		}
	}

	if err := client.Mail(m.from.Address); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "smtp MAIL FROM rejected")
	}
	if err := client.Rcpt(rcpt.Address); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "smtp RCPT TO rejected")
	}

	w, err := client.Data()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "smtp DATA rejected")
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return goerrors.Wrap(err, goerrors.CategoryOperation, "failed to write message")
	}
	if err := w.Close(); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryOperation, "smtp server rejected message")
	}

	return client.Quit()
}

func (m *SMTP) compose(to *mail.Address, subject, body string) ([]byte, error) {
	var buf bytes.Buffer

	headers := [][2]string{
		{"From", m.from.String()},
		{"To", to.String()},
		{"Subject", mime.QEncoding.Encode("utf-8", subject)},
		{"Date", m.now().Format(time.RFC1123Z)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/plain; charset=UTF-8"},
		{"Content-Transfer-Encoding", "8bit"},
	}
	for _, h := range headers {
		if _, err := fmt.Fprintf(&buf, "%s: %s\r\n", h[0], h[1]); err != nil {
			return nil, err
		}
	}
	buf.WriteString("\r\n")
	buf.Write(normalizeNewlines(body))
	buf.WriteString("\r\n")

	return buf.Bytes(), nil
}

func normalizeNewlines(body string) []byte {
	b := bytes.ReplaceAll([]byte(body), []byte("\r\n"), []byte("\n"))
	return bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n"))
}
