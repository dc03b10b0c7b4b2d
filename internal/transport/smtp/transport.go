// Package smtp provides a mail transport that relays through an SMTP server
// using STARTTLS.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/bissquit/outreach-queue/internal/transport"
	"github.com/google/uuid"
)

// Config holds SMTP transport configuration.
type Config struct {
	Host        string
	Port        int
	User        string
	Password    string
	FromAddress string
	// InsecureSkipTLS disables STARTTLS, for local relays such as Mailpit.
	InsecureSkipTLS bool
	DialTimeout     time.Duration
}

// Transport sends mail through an SMTP relay.
type Transport struct {
	config Config
	auth   smtp.Auth
	domain string
}

// New creates a new SMTP transport.
func New(config Config) (*Transport, error) {
	if config.Host == "" {
		return nil, errors.New("smtp transport: host is required")
	}
	from, err := mail.ParseAddress(config.FromAddress)
	if err != nil {
		return nil, fmt.Errorf("smtp transport: invalid from address: %w", err)
	}

	if config.Port == 0 {
		config.Port = 587
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}

	var auth smtp.Auth
	if config.User != "" && config.Password != "" {
		auth = smtp.PlainAuth("", config.User, config.Password, config.Host)
	}

	slog.Info("smtp transport configured",
		"smtp_host", config.Host,
		"smtp_port", config.Port,
		"from_address", from.Address,
		"starttls", !config.InsecureSkipTLS,
	)

	return &Transport{
		config: config,
		auth:   auth,
		domain: domainOf(from.Address),
	}, nil
}

// Send delivers a single message.
func (t *Transport) Send(ctx context.Context, msg transport.Message) (transport.Receipt, error) {
	if _, err := mail.ParseAddress(msg.To); err != nil {
		return transport.Receipt{}, transport.NewNonRetryableError(fmt.Errorf("invalid recipient address: %w", err))
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), t.domain)
	data := t.buildMessage(msg, messageID)

	if err := t.deliver(ctx, msg.To, data); err != nil {
		return transport.Receipt{}, classify(err)
	}

	slog.Debug("smtp message sent", "message_id", messageID, "reference", msg.Reference)
	return transport.Receipt{MessageID: messageID}, nil
}

// buildMessage constructs the message with headers.
func (t *Transport) buildMessage(msg transport.Message, messageID string) []byte {
	from := mail.Address{Name: msg.FromName, Address: extractEmail(t.config.FromAddress)}
	to := mail.Address{Name: msg.ToName, Address: msg.To}

	var b strings.Builder

	// Headers in deterministic order
	fmt.Fprintf(&b, "From: %s\r\n", from.String())
	fmt.Fprintf(&b, "To: %s\r\n", to.String())
	fmt.Fprintf(&b, "Subject: %s\r\n", encodeHeader(msg.Subject))
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	if msg.Reference != "" {
		fmt.Fprintf(&b, "X-Outreach-Entry: %s\r\n", msg.Reference)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	return []byte(b.String())
}

func (t *Transport) deliver(ctx context.Context, rcpt string, data []byte) error {
	addr := net.JoinHostPort(t.config.Host, fmt.Sprint(t.config.Port))

	dialer := &net.Dialer{Timeout: t.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, t.config.Host)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if !t.config.InsecureSkipTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			tlsConfig := &tls.Config{
				ServerName: t.config.Host,
				MinVersion: tls.VersionTLS12,
			}
			if err := client.StartTLS(tlsConfig); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if t.auth != nil {
		if err := client.Auth(t.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(extractEmail(t.config.FromAddress)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(rcpt); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	// The relay accepted the message with its reply to DATA. A failing QUIT
	// must not turn that into a retry and a duplicate.
	if err := client.Quit(); err != nil {
		slog.Warn("smtp quit failed after message was accepted", "smtp_host", t.config.Host, "error", err)
	}
	return nil
}

// encodeHeader folds line breaks into spaces and RFC 2047 encodes non-ASCII
// text so user input cannot start a new header.
func encodeHeader(v string) string {
	v = strings.Join(strings.FieldsFunc(v, func(r rune) bool { return r == '\r' || r == '\n' }), " ")
	return mime.QEncoding.Encode("utf-8", v)
}

// classify marks SMTP 5xx replies as permanent. Everything else, including
// 4xx replies and network errors, is retryable.
func classify(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code >= 500 {
		switch protoErr.Code {
		// 552 (mailbox full) usually clears up. Authentication failures
		// (530, 534, 535) are relay-side and say nothing about the message.
		case 552, 530, 534, 535:
			return transport.NewRetryableError(err)
		}
		return transport.NewNonRetryableError(err)
	}
	return transport.NewRetryableError(err)
}

// extractEmail extracts the email address from formats like "Name <email@example.com>".
func extractEmail(address string) string {
	if addr, err := mail.ParseAddress(address); err == nil {
		return addr.Address
	}
	return address
}

func domainOf(address string) string {
	if idx := strings.LastIndex(address, "@"); idx != -1 && idx < len(address)-1 {
		return address[idx+1:]
	}
	return "localhost"
}
