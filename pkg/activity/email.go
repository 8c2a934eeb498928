package activity

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"text/template"
)

var reminderTemplate = template.Must(template.New("reminder").Parse(
	`Subject: Reminder: Follow up on your application to {{.Company}}

Dear Applicant,

This is a reminder that you applied for the {{.Role}} position at {{.Company}}.
It's been a while since you submitted your application, and you might want to follow up.

Application ID: {{.ApplicationID}}

Consider:
- Sending a polite follow-up email
- Connecting with the hiring manager on LinkedIn
- Checking for any updates on the company's career page

Best regards,
Job Tracker
`))

// ReminderMessage renders the reminder email, subject line first.
func ReminderMessage(req ReminderRequest) (subject, body string, err error) {
	var buf bytes.Buffer

	err = reminderTemplate.Execute(&buf, req)
	if err != nil {
		return "", "", fmt.Errorf("failed to render reminder: %w", err)
	}

	first, rest, _ := strings.Cut(buf.String(), "\n")

	return strings.TrimPrefix(first, "Subject: "), strings.TrimLeft(rest, "\n"), nil
}

// LogSender writes reminders to the log instead of delivering them.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) SendReminder(ctx context.Context, req ReminderRequest) error {
	subject, body, err := ReminderMessage(req)
	if err != nil {
		return Permanent(err)
	}

	s.Logger.InfoContext(ctx, "reminder notification sent",
		"application_id", req.ApplicationID,
		"recipient", req.Email,
		"subject", subject,
		"body", body)

	return nil
}

// SMTPSender delivers reminders through an SMTP relay.
type SMTPSender struct {
	Addr     string
	From     string
	Username string
	Password string
}

// SendReminder delivers one reminder. The connection honours the deadline
// and cancellation of ctx.
func (s SMTPSender) SendReminder(ctx context.Context, req ReminderRequest) error {
	subject, body, err := ReminderMessage(req)
	if err != nil {
		return Permanent(err)
	}

	host, _, err := net.SplitHostPort(s.Addr)
	if err != nil {
		return Permanent(fmt.Errorf("invalid smtp address %q: %w", s.Addr, err))
	}

	msg := "From: " + s.From + "\r\n" +
		"To: " + req.Email + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
		strings.ReplaceAll(body, "\n", "\r\n")

	err = s.deliver(ctx, host, req.Email, []byte(msg))
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("smtp delivery to %s interrupted: %w", req.Email, ctx.Err())
		}

		return fmt.Errorf("smtp delivery to %s failed: %w", req.Email, err)
	}

	return nil
}

func (s SMTPSender) deliver(ctx context.Context, host, to string, msg []byte) error {
	var dialer net.Dialer

	conn, err := dialer.DialContext(ctx, "tcp", s.Addr)
	if err != nil {
		return err
	}

	if deadline, ok := ctx.Deadline(); ok {
		err = conn.SetDeadline(deadline)
		if err != nil {
			_ = conn.Close()

			return err
		}
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()

		return err
	}

	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		err = client.StartTLS(&tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
		if err != nil {
			return err
		}
	}

	if s.Username != "" {
		if ok, _ := client.Extension("AUTH"); !ok {
			return Permanent(errors.New("smtp server does not support AUTH"))
		}

		err = client.Auth(smtp.PlainAuth("", s.Username, s.Password, host))
		if err != nil {
			return err
		}
	}

	err = client.Mail(s.From)
	if err != nil {
		return err
	}

	err = client.Rcpt(to)
	if err != nil {
		return err
	}

	w, err := client.Data()
	if err != nil {
		return err
	}

	_, err = w.Write(msg)
	if err != nil {
		return err
	}

	err = w.Close()
	if err != nil {
		return err
	}

	return client.Quit()
}
