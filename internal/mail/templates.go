// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 TheraNote Contributors

package mail

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	texttemplate "text/template"

	"github.com/samber/oops"
)

//go:embed templates/*
var templateFS embed.FS

type templateData struct {
	Product string
	Name    string
	Link    string
}

type emailTemplate struct {
	name    string
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

var (
	verificationTemplate = mustTemplate("verification", "Confirm your {{.Product}} email address")
	welcomeTemplate      = mustTemplate("welcome", "Welcome to {{.Product}}")
	resetTemplate        = mustTemplate("reset", "Reset your {{.Product}} password")
)

func mustTemplate(name, subject string) *emailTemplate {
	return &emailTemplate{
		name:    name,
		subject: texttemplate.Must(texttemplate.New(name + ".subject").Parse(subject)),
		text:    texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/"+name+".txt")),
		html:    htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/"+name+".html")),
	}
}

func (t *emailTemplate) render(to string, data templateData) (Message, error) {
	var subject, text, html bytes.Buffer
	if err := t.subject.Execute(&subject, data); err != nil {
		return Message{}, oops.Code("MAIL_RENDER_FAILED").With("template", t.name).Wrap(err)
	}
	if err := t.text.Execute(&text, data); err != nil {
		return Message{}, oops.Code("MAIL_RENDER_FAILED").With("template", t.name).Wrap(err)
	}
	if err := t.html.Execute(&html, data); err != nil {
		return Message{}, oops.Code("MAIL_RENDER_FAILED").With("template", t.name).Wrap(err)
	}
	return Message{To: to, Subject: subject.String(), Text: text.String(), HTML: html.String()}, nil
}
