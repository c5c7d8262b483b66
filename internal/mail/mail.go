// Package mail delivers invoice emails over SMTP.
package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/ukschat/ukschat/internal/config"
	"gopkg.in/gomail.v2"
)

const invoiceSubject = "Your UKSChat Subscription Invoice"

// Sender sends a composed message.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends invoices through SMTP.
type Mailer struct {
	from   string
	sender Sender
}

// NewMailer constructs a mailer from cfg. It returns nil when SMTP is not configured.
func NewMailer(cfg config.SMTPConfig) *Mailer {
	if !cfg.Enabled() {
		return nil
	}
	from := strings.TrimSpace(cfg.From)
	if from == "" {
		from = strings.TrimSpace(cfg.Username)
	}
	if from == "" {
		from = "no-reply@" + cfg.Host
		log.Infof("smtp from not set, using default sender: %s", from)
	}
	return &Mailer{
		from:   from,
		sender: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}
}

// NewMailerWithSender constructs a mailer around an explicit sender.
func NewMailerWithSender(from string, sender Sender) *Mailer {
	return &Mailer{from: from, sender: sender}
}

// SendInvoice mails the invoice at attachmentPath to email.
func (m *Mailer) SendInvoice(ctx context.Context, email, attachmentPath string) error {
	if m == nil || m.sender == nil {
		return errors.New("mail: smtp not configured")
	}
	if errCtx := ctx.Err(); errCtx != nil {
		return errCtx
	}
	msg := BuildInvoiceMessage(m.from, email, attachmentPath)
	if errSend := m.sender.DialAndSend(msg); errSend != nil {
		return fmt.Errorf("mail: send invoice: %w", errSend)
	}
	log.WithField("to", email).Info("invoice email sent")
	return nil
}

// BuildInvoiceMessage composes the invoice email with its attachment.
func BuildInvoiceMessage(from, to, attachmentPath string) *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", invoiceSubject)
	msg.SetBody("text/plain", "Thank you for your purchase! Your invoice is attached.")
	if attachmentPath != "" {
		msg.Attach(attachmentPath)
	}
	return msg
}
