// Package email sends transactional mail over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"net/smtp"
	"strings"
	texttemplate "text/template"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Send delivers a multipart/alternative message with a text and an HTML part.
func (s *Service) Send(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	msg := buildMessage(s.fromHeader(), to, subject, textBody, htmlBody)
	if err := s.send(s.server, s.auth, s.config.From, to, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

func (s *Service) fromHeader() string {
	if s.config.FromName == "" {
		return s.config.From
	}
	return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
}

func buildMessage(from string, to []string, subject, textBody, htmlBody string) []byte {
	const boundary = "boundary-agora"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

// VisitorInvitation is everything the invitation mail shows.
type VisitorInvitation struct {
	AppName     string
	To          string
	VisitorName string
	PollTitle   string
	InviteURL   string
}

// SendVisitorInvitation mails a poll invitation link to a visitor.
func (s *Service) SendVisitorInvitation(data VisitorInvitation) error {
	if data.AppName == "" {
		data.AppName = "Agora"
	}
	text, html, err := renderVisitorInvitation(data)
	if err != nil {
		return err
	}
	subject := fmt.Sprintf("You're invited to vote: %s", data.PollTitle)
	return s.Send([]string{data.To}, subject, text, html)
}

func renderVisitorInvitation(data VisitorInvitation) (string, string, error) {
	var text bytes.Buffer
	if err := visitorInvitationText.Execute(&text, data); err != nil {
		return "", "", fmt.Errorf("render invitation text: %w", err)
	}
	var html bytes.Buffer
	if err := visitorInvitationHTML.Execute(&html, data); err != nil {
		return "", "", fmt.Errorf("render invitation html: %w", err)
	}
	return text.String(), html.String(), nil
}

var visitorInvitationText = texttemplate.Must(texttemplate.New("invitation.txt").Parse(`Hi{{if .VisitorName}} {{.VisitorName}}{{end}},

You have been invited to take part in "{{.PollTitle}}" on {{.AppName}}.

Open this link to vote. No account is needed:
{{.InviteURL}}

If you were not expecting this invitation you can ignore this email.
`))

var visitorInvitationHTML = htmltemplate.Must(htmltemplate.New("invitation.html").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.PollTitle}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #2f6f4f; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #2f6f4f; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #2f6f4f; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi{{if .VisitorName}} {{.VisitorName}}{{end}},</p>
    <p>You have been invited to take part in <strong>{{.PollTitle}}</strong>. No account is needed.</p>

    <p>
        <a href="{{.InviteURL}}" class="button">Open the poll</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.InviteURL}}</p>

    <div class="footer">
        <p>If you were not expecting this invitation you can ignore this email.</p>
    </div>
</body>
</html>`))
