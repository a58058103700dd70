package service

import (
	"bytes"
	"embed"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"

	"github.com/aussiebroadwan/lapse/internal/auth/domain"
	"github.com/aussiebroadwan/lapse/pkg/mailx"
)

const (
	magicLinkSubject = "Your sign-in link"
	magicLinkTag     = "magic-link"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var (
	magicLinkHTML = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/magic_link.html.tmpl"))
	magicLinkText = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/magic_link.txt.tmpl"))
)

type magicLinkEmail struct {
	Identity domain.Identity
	Link     string
	Minutes  int
}

func renderMagicLinkEmail(to domain.Identity, link string, ttl time.Duration) (mailx.Message, error) {
	data := magicLinkEmail{
		Identity: to,
		Link:     link,
		Minutes:  max(int(ttl.Round(time.Minute)/time.Minute), 1),
	}

	var html, text bytes.Buffer
	if err := magicLinkHTML.Execute(&html, data); err != nil {
		return mailx.Message{}, err
	}
	if err := magicLinkText.Execute(&text, data); err != nil {
		return mailx.Message{}, err
	}

	return mailx.Message{
		To:       to.String(),
		Subject:  magicLinkSubject,
		HTMLBody: html.String(),
		TextBody: text.String(),
		Tag:      magicLinkTag,
	}, nil
}
