package email

import (
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	"github.com/mcnijman/go-emailaddress"
)

// Config holds SMTP credentials.
type Config struct {
	Server   string
	Port     int
	Username string
	Password string
	FromName string
}

func (c Config) Valid() bool {
	return c.Server != "" && c.Port != 0 && c.Username != "" && c.Password != ""
}

// Message is a single plain-text email.
type Message struct {
	To      string
	Name    string
	Subject string
	Body    string
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Validate checks the recipient address syntax.
func Validate(address string) error {
	if _, err := emailaddress.Parse(address); err != nil {
		return fmt.Errorf("invalid email address %q: %w", address, err)
	}
	return nil
}

// Build renders the RFC 5322 message bytes.
func Build(cfg Config, m Message) []byte {
	from := cfg.Username
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", cfg.FromName), cfg.Username)
	}
	to := m.To
	if m.Name != "" {
		to = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", m.Name), m.To)
	}

	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", m.Subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(m.Body)
	b.WriteString("\r\n")
	return []byte(b.String())
}

// Send validates and delivers m through send (smtp.SendMail when nil).
func Send(cfg Config, m Message, send SendFunc) error {
	if !cfg.Valid() {
		return fmt.Errorf("missing Email configuration: SMTPServer, SMTPPort, Username, or Password is empty")
	}
	if err := Validate(m.To); err != nil {
		return err
	}
	if send == nil {
		send = smtp.SendMail
	}

	auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Server)
	addr := fmt.Sprintf("%s:%d", cfg.Server, cfg.Port)
	if err := send(addr, auth, cfg.Username, []string{m.To}, Build(cfg, m)); err != nil {
		return fmt.Errorf("failed to send email to %s: %w", m.To, err)
	}
	return nil
}
