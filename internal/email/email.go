package email

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"

	"portal-backend/internal/config"
)

type EmailSender struct {
	config *config.Config
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
	logger *slog.Logger
}

func NewEmailSender(cfg *config.Config, logger *slog.Logger) *EmailSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailSender{config: cfg, send: smtp.SendMail, logger: logger}
}

var reminderTemplate = template.Must(template.New("reminder").Parse(`
		<html>
			<body>
				<h2>Hola{{if .Name}} {{.Name}}{{end}},</h2>
				<p>You have {{.Unread}} unread {{if eq .Unread 1}}message{{else}}messages{{end}} from our support team.</p>
				<p><a href="{{.PortalURL}}">Open the portal</a> to read and reply.</p>
			</body>
		</html>
`))

// SendUnreadReminder tells a client that staff replies are waiting.
func (s *EmailSender) SendUnreadReminder(toEmail, name string, unread int) error {
	var body bytes.Buffer
	err := reminderTemplate.Execute(&body, struct {
		Name      string
		Unread    int
		PortalURL string
	}{name, unread, s.config.Chat.PortalURL})
	if err != nil {
		return fmt.Errorf("failed to render email: %w", err)
	}
	return s.sendHTML(toEmail, "You have unread messages", body.String())
}

func (s *EmailSender) sendHTML(toEmail, subject, body string) error {
	// If SMTP credentials are not set, fallback to logging
	if s.config.SMTP.Email == "" || s.config.SMTP.Password == "" {
		s.logger.Info("SMTP credentials not set, mocking email", "to", toEmail, "subject", subject)
		return nil
	}

	from := s.config.SMTP.Email
	password := s.config.SMTP.Password
	host := s.config.SMTP.Host
	port := s.config.SMTP.Port
	address := host + ":" + port

	header := "From: " + from + "\n" +
		"To: " + toEmail + "\n" +
		"Subject: " + subject + "\n"
	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"

	message := []byte(header + mime + body)

	auth := smtp.PlainAuth("", from, password, host)

	if err := s.send(address, auth, from, []string{toEmail}, message); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	return nil
}
