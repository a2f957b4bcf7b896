package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	mail "github.com/xhit/go-simple-mail/v2"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/pkg/logger"
)

// EmailSender delivers one plain-text message
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Notifier tells customers about codes and account changes
type Notifier interface {
	SendCode(ctx context.Context, email string, purpose models.CodePurpose, code string, expiresAt time.Time) error
	SendPasswordChanged(ctx context.Context, email string) error
}

// EmailNotifier renders notifications as plain text and hands them to a sender
type EmailNotifier struct {
	sender EmailSender
}

func NewEmailNotifier(sender EmailSender) *EmailNotifier {
	return &EmailNotifier{sender: sender}
}

func (n *EmailNotifier) SendCode(ctx context.Context, email string, purpose models.CodePurpose, code string, expiresAt time.Time) error {
	subject, intro := codeMessage(purpose)
	minutes := int(time.Until(expiresAt).Round(time.Minute).Minutes())
	if minutes < 1 {
		minutes = 1
	}

	body := fmt.Sprintf(`%s

Your code is: %s

It expires in %d minutes and can only be used once.
If you did not request this, you can ignore this email.
`, intro, code, minutes)

	return n.sender.Send(ctx, email, subject, body)
}

func (n *EmailNotifier) SendPasswordChanged(ctx context.Context, email string) error {
	body := `The password for your account was just changed and every signed-in device was signed out.

If you did not make this change, reset your password immediately and contact support.
`
	return n.sender.Send(ctx, email, "Your password was changed", body)
}

func codeMessage(purpose models.CodePurpose) (subject, intro string) {
	switch purpose {
	case models.PurposePasswordReset:
		return "Reset your password", "We received a request to reset your password."
	case models.PurposeEmailVerification:
		return "Verify your email address", "Use the code below to verify your email address."
	case models.PurposeAccountUnlock:
		return "Unlock your account", "Your account was locked after several failed sign-in attempts. Use the code below to unlock it."
	}
	return "Your verification code", "Use the code below to continue."
}

// sesAPI is the slice of the SES client used here
type sesAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESEmailSender sends emails using AWS SES
type SESEmailSender struct {
	client      sesAPI
	fromAddress string
	logger      *slog.Logger
}

// NewSESEmailSender creates a sender from the default AWS credential chain
func NewSESEmailSender(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESEmailSender, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESEmailSender{
		client:      ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		logger:      logger,
	}, nil
}

func (s *SESEmailSender) Send(ctx context.Context, to, subject, body string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(subject)},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(body)},
			},
		},
	}

	result, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", logger.SanitizedEmail(to)),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent via SES",
		slog.String("email", logger.SanitizedEmail(to)),
		slog.String("message_id", aws.ToString(result.MessageId)))
	return nil
}

// SMTPEmailSender sends emails through an SMTP relay with STARTTLS
type SMTPEmailSender struct {
	server *mail.SMTPServer
	from   string
	logger *slog.Logger
}

func NewSMTPEmailSender(host string, port int, username, password, from string, logger *slog.Logger) *SMTPEmailSender {
	server := mail.NewSMTPClient()
	server.Host = host
	server.Port = port
	server.Username = username
	server.Password = password
	server.Encryption = mail.EncryptionSTARTTLS
	server.KeepAlive = false
	server.ConnectTimeout = 10 * time.Second
	server.SendTimeout = 10 * time.Second

	return &SMTPEmailSender{
		server: server,
		from:   from,
		logger: logger,
	}
}

func (s *SMTPEmailSender) Send(ctx context.Context, to, subject, body string) error {
	client, err := s.server.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}

	msg := mail.NewMSG()
	msg.SetFrom(s.from).AddTo(to).SetSubject(subject)
	msg.SetBody(mail.TextPlain, body)
	if msg.Error != nil {
		return fmt.Errorf("failed to build email: %w", msg.Error)
	}

	if err := msg.Send(client); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent via smtp", slog.String("email", logger.SanitizedEmail(to)))
	return nil
}

// LogEmailSender writes messages to the log instead of delivering them.
// Development only; config rejects it in production.
type LogEmailSender struct {
	logger *slog.Logger
}

func NewLogEmailSender(logger *slog.Logger) *LogEmailSender {
	return &LogEmailSender{logger: logger}
}

func (s *LogEmailSender) Send(ctx context.Context, to, subject, body string) error {
	s.logger.Info("email not delivered (log provider)",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.String("body", body))
	return nil
}
