package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// SMTPClient is the production Mailer. It speaks SMTP over implicit
// TLS, the submission mode every major provider exposes on port 465.
type SMTPClient struct {
	host     string
	port     int
	username string
	password string
}

func NewSMTPClient(host string, port int, username, password string) *SMTPClient {
	return &SMTPClient{
		host:     host,
		port:     port,
		username: username,
		password: password,
	}
}

func (c *SMTPClient) SendText(ctx context.Context, from, to, subject, body string) error {
	addr := net.JoinHostPort(c.host, strconv.Itoa(c.port))
	dialer := &tls.Dialer{Config: &tls.Config{ServerName: c.host}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}

	client, err := smtp.NewClient(conn, c.host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer func() { _ = client.Close() }()

	auth := smtp.PlainAuth("", c.username, c.password, c.host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	payload := strings.Join([]string{
		"From: " + from,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")
	if _, err := writer.Write([]byte(payload)); err != nil {
		return fmt.Errorf("smtp payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("smtp payload: %w", err)
	}

	return client.Quit()
}
