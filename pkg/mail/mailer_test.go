package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type nopWriteCloser struct{ *bytes.Buffer }

func (nopWriteCloser) Close() error { return nil }

type fakeSMTPClient struct {
	from    string
	rcpts   []string
	data    bytes.Buffer
	quit    bool
	rcptErr error
}

func (f *fakeSMTPClient) Mail(from string) error { f.from = from; return nil }
func (f *fakeSMTPClient) Rcpt(to string) error {
	if f.rcptErr != nil {
		return f.rcptErr
	}
	f.rcpts = append(f.rcpts, to)
	return nil
}
func (f *fakeSMTPClient) Data() (io.WriteCloser, error) { return nopWriteCloser{&f.data}, nil }
func (f *fakeSMTPClient) Quit() error                   { f.quit = true; return nil }
func (f *fakeSMTPClient) Close() error                  { return nil }
func (f *fakeSMTPClient) StartTLS(*tls.Config) error    { return nil }
func (f *fakeSMTPClient) Auth(smtp.Auth) error          { return nil }
func (f *fakeSMTPClient) Extension(string) (bool, string) {
	return false, ""
}

func newFakeMailer(t *testing.T, client *fakeSMTPClient) *smtpMailer {
	t.Helper()
	m, err := NewSMTPMailer(SMTPSettings{
		Enabled:  true,
		Host:     "smtp.example.com",
		Port:     587,
		From:     "alerts@example.com",
		FromName: "CosmicWatch Alerts",
	})
	require.NoError(t, err)

	sm := m.(*smtpMailer)
	sm.dialFn = func(ctx context.Context, cfg SMTPSettings) (net.Conn, smtpClient, error) {
		local, remote := net.Pipe()
		t.Cleanup(func() { _ = remote.Close() })
		return local, client, nil
	}
	sm.authFn = func(smtpClient, SMTPSettings) error { return nil }
	return sm
}

func TestNewSMTPMailerValidatesConfig(t *testing.T) {
	_, err := NewSMTPMailer(SMTPSettings{Enabled: true})
	require.ErrorContains(t, err, "host is required")

	_, err = NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com"})
	require.ErrorContains(t, err, "port is required")

	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, mailer)
}

func TestSMTPMailerSendDisabled(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: false})
	require.NoError(t, err)

	err = mailer.Send(context.Background(), Message{To: []string{"test@example.com"}, Subject: "Test", Body: "Hello"})
	require.ErrorIs(t, err, ErrSMTPDisabled)
}

func TestSMTPMailerDefaultTimeout(t *testing.T) {
	mailer, err := NewSMTPMailer(SMTPSettings{Enabled: true, Host: "smtp.example.com", Port: 465, UseTLS: true})
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, mailer.(*smtpMailer).cfg.Timeout)
}

func TestSMTPMailerSendValidation(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newFakeMailer(t, client)

	err := mailer.Send(context.Background(), Message{To: []string{"   ", "\t"}})
	require.ErrorContains(t, err, "at least one recipient")

	err = mailer.Send(context.Background(), Message{From: "invalid-from", To: []string{"user@example.com"}})
	require.ErrorContains(t, err, "invalid from address")

	err = mailer.Send(context.Background(), Message{To: []string{"user@example.com", "bad-address"}})
	require.ErrorContains(t, err, "invalid recipient address")

	mailer.cfg.From = ""
	err = mailer.Send(context.Background(), Message{To: []string{"user@example.com"}})
	require.ErrorContains(t, err, "sender address is required")
}

func TestSMTPMailerSendHonoursCancelledContext(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newFakeMailer(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := mailer.Send(ctx, Message{To: []string{"user@example.com"}, Subject: "x", Body: "y"})
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, client.from)
}

func TestSMTPMailerSendsMultipart(t *testing.T) {
	client := &fakeSMTPClient{}
	mailer := newFakeMailer(t, client)

	err := mailer.Send(context.Background(), Message{
		To:       []string{"user@example.com", "user@example.com"},
		Subject:  "Asteroid Alert: (2024 AB)",
		Body:     "plain text",
		HTMLBody: "<p>html</p>",
	})
	require.NoError(t, err)

	require.Equal(t, "alerts@example.com", client.from)
	require.Equal(t, []string{"user@example.com"}, client.rcpts)
	require.True(t, client.quit)

	body := client.data.String()
	require.Contains(t, body, `From: "CosmicWatch Alerts" <alerts@example.com>`)
	require.Contains(t, body, "multipart/alternative")
	require.Contains(t, body, "plain text")
	require.Contains(t, body, "<p>html</p>")
}

func TestSMTPMailerPropagatesRcptError(t *testing.T) {
	client := &fakeSMTPClient{rcptErr: errors.New("mailbox unavailable")}
	mailer := newFakeMailer(t, client)

	err := mailer.Send(context.Background(), Message{To: []string{"user@example.com"}, Body: "x"})
	require.ErrorContains(t, err, "rcpt to user@example.com")
}

func TestFormatMessage(t *testing.T) {
	content := formatMessage("from@example.com", []string{"to@example.com"}, Message{Subject: "Subject\r\nBreak", Body: "Body"})
	require.Contains(t, content, "From: from@example.com")
	require.Contains(t, content, "Subject: Subject  Break")
	require.Contains(t, content, "Content-Type: text/plain")
	require.True(t, strings.HasSuffix(content, "Body"))
}

func TestFormatMessageEncodesNonASCIISubject(t *testing.T) {
	content := formatMessage("from@example.com", []string{"to@example.com"}, Message{Subject: "🚨 Alert", Body: "Body"})
	require.Contains(t, content, "Subject: =?utf-8?q?")
}

func TestUniqueAddresses(t *testing.T) {
	result := uniqueAddresses([]string{"alice@example.com", "bob@example.com", " alice@example.com ", "", "bob@example.com"})
	require.Equal(t, []string{"alice@example.com", "bob@example.com"}, result)
}
