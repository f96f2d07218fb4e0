package reminder

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
)

const (
	DefaultSubject = "Welcome to Med-Ivrit – Finish your registration 🇮🇱"
	DefaultAppName = "Med-Ivrit"
	DefaultAppURL  = "https://med-ivrit.netlify.app"
)

//go:embed reminder.html
var reminderHTML string

var reminderTemplate = template.Must(template.New("reminder").Parse(reminderHTML))

// TemplateData fills the reminder body. Every recipient gets the same text.
type TemplateData struct {
	AppName string
	AppURL  string
}

// Message is a rendered reminder email.
type Message struct {
	Subject string
	HTML    string
}

// NewMessage renders the reminder body.
func NewMessage(subject string, data TemplateData) (Message, error) {
	var buf bytes.Buffer

	err := reminderTemplate.Execute(&buf, data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to render reminder email: %w", err)
	}

	return Message{Subject: subject, HTML: buf.String()}, nil
}
