package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/wneessen/go-mail"
)

// EmailOptions configure the SMTP relay.
type EmailOptions struct {
	Host      string
	Port      int
	Username  string
	Password  string
	From      string
	TLSPolicy string
	Timeout   time.Duration
}

// Email sends HTML alerts over SMTP.
type Email struct {
	opts   EmailOptions
	logger zerolog.Logger
}

// NewEmail constructs an SMTP notifier. The connection is opened per message.
func NewEmail(opts EmailOptions, logger zerolog.Logger) *Email {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Port <= 0 {
		opts.Port = 587
	}
	return &Email{opts: opts, logger: logger.With().Str("component", "alert_email").Logger()}
}

func (e *Email) Name() string { return "email" }

// Send delivers msg to msg.Recipient.
func (e *Email) Send(ctx context.Context, msg Message) error {
	m, err := e.buildMsg(msg)
	if err != nil {
		return fmt.Errorf("%w: email: %w", ErrNotify, err)
	}

	client, err := mail.NewClient(e.opts.Host, e.clientOptions()...)
	if err != nil {
		return fmt.Errorf("%w: email client: %w", ErrNotify, err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("%w: email to %s: %w", ErrNotify, msg.Recipient, err)
	}

	e.logger.Info().Str("recipient", msg.Recipient).Str("subject", msg.Subject).Msg("alert email sent")
	return nil
}

func (e *Email) buildMsg(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(e.opts.From); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", e.opts.From, err)
	}
	if err := m.To(msg.Recipient); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", msg.Recipient, err)
	}
	m.Subject(msg.Subject)
	if msg.HTML != "" {
		m.SetBodyString(mail.TypeTextHTML, msg.HTML)
		if msg.Text != "" {
			m.AddAlternativeString(mail.TypeTextPlain, msg.Text)
		}
	} else {
		m.SetBodyString(mail.TypeTextPlain, msg.Text)
	}
	return m, nil
}

func (e *Email) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(e.opts.Port),
		mail.WithTimeout(e.opts.Timeout),
		mail.WithTLSPolicy(tlsPolicy(e.opts.TLSPolicy)),
	}
	if e.opts.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}
	if e.opts.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(e.opts.Username),
			mail.WithPassword(e.opts.Password),
		)
	}
	return opts
}

func tlsPolicy(name string) mail.TLSPolicy {
	switch name {
	case "none":
		return mail.NoTLS
	case "opportunistic":
		return mail.TLSOpportunistic
	default:
		return mail.TLSMandatory
	}
}

var _ Notifier = (*Email)(nil)
