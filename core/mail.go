package core

import (
	"bytes"
	htmltmpl "html/template"
	"net/mail"
	texttmpl "text/template"
)

type (
	EmailMessage struct {
		To      []mail.Address
		Cc      []mail.Address
		Bcc     []mail.Address
		Subject string
		BodyStr string // simple text/plain, non-templated content

		// templated contents
		TextTemplate string
		HTMLTemplate string
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	ContextData struct {
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

// Render fills TextContent and HTMLContent. frontendURL is exposed to templates as .FrontendBaseURL.
func (m *EmailMessage) Render(frontendURL string) error {
	data := ContextData{FrontendBaseURL: frontendURL, Data: m.TemplateData}

	switch {
	case m.BodyStr != "":
		m.TextContent = m.BodyStr
	case m.TextTemplate != "":
		tmpl, err := texttmpl.New("text").Option("missingkey=error").Parse(m.TextTemplate)
		if err != nil {
			return err
		}
		var buff bytes.Buffer
		if err = tmpl.Execute(&buff, data); err != nil {
			return err
		}
		m.TextContent = buff.String()
	}

	if m.HTMLTemplate != "" {
		tmpl, err := htmltmpl.New("html").Option("missingkey=error").Parse(m.HTMLTemplate)
		if err != nil {
			return err
		}
		var buff bytes.Buffer
		if err = tmpl.Execute(&buff, data); err != nil {
			return err
		}
		m.HTMLContent = buff.String()
	}
	return nil
}

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return (m.TextContent != "") || (m.HTMLContent != "") }
