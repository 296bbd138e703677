package notification

import (
	"context"
	"fmt"
	"net"
	"time"

	"chatflow_backend/platform/apperr"
	"chatflow_backend/platform/config"

	gomail "github.com/wneessen/go-mail"
)

// Mailer sends operator e-mail.
type Mailer interface {
	Send(ctx context.Context, toEmail, subject, htmlContent string) error
}

// SMTPMailer delivers through an SMTP relay via go-mail.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// NewSMTPMailer returns nil when SMTP is not configured.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	if !cfg.IsSMTPEnabled() {
		return nil
	}
	port := cfg.GetSMTPPort()
	if port == 0 {
		port = 587
	}
	return &SMTPMailer{
		host:     cfg.GetSMTPHost(),
		port:     port,
		username: cfg.GetSMTPUsername(),
		password: cfg.GetSMTPPassword(),
		from:     cfg.GetSMTPFrom(),
	}
}

func (s *SMTPMailer) Send(ctx context.Context, toEmail, subject, htmlContent string) error {
	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return apperr.Wrap(apperr.KindValidation, "smtp from", err)
	}
	if err := msg.To(toEmail); err != nil {
		return apperr.Wrap(apperr.KindValidation, "smtp to", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextHTML, htmlContent)

	opts := []gomail.Option{
		gomail.WithPort(s.port),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15 * time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	}
	if s.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(s.username),
			gomail.WithPassword(s.password),
		)
	}

	client, err := gomail.NewClient(s.host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return apperr.Unavailable("smtp send", err)
	}
	return nil
}
