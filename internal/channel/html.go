package channel

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"regexp"
	"strings"
)

//go:embed templates/email.html
var templateFS embed.FS

var emailTemplate = template.Must(template.ParseFS(templateFS, "templates/email.html"))

// DefaultBrand is the shop name printed in the email header.
const DefaultBrand = "Fix Zone"

// ItemRow is one line of the invoice table shown in emails.
type ItemRow struct {
	Description string
	Quantity    string
	UnitPrice   string
	Total       string
}

// Layout is the data for the branded RTL email.
type Layout struct {
	Subject string
	Brand   string
	Address string
	Body    string
	Items   []ItemRow
}

type layoutData struct {
	Layout
	Paragraphs []string
}

// RenderHTML wraps plain text in the branded template. Each line becomes a paragraph.
func RenderHTML(l Layout) (string, error) {
	if l.Brand == "" {
		l.Brand = DefaultBrand
	}

	data := layoutData{Layout: l}
	for _, line := range strings.Split(l.Body, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			data.Paragraphs = append(data.Paragraphs, line)
		}
	}

	var buf bytes.Buffer
	if err := emailTemplate.ExecuteTemplate(&buf, "email", data); err != nil {
		return "", fmt.Errorf("execute email template: %w", err)
	}
	return buf.String(), nil
}

var (
	blockTags = regexp.MustCompile(`(?i)<\s*(br|/p|/tr|/h[1-6]|/div)\s*/?>`)
	anyTag    = regexp.MustCompile(`(?s)<[^>]*>`)
	headBlock = regexp.MustCompile(`(?is)<(head|style|script)[^>]*>.*?</(head|style|script)>`)
	blankRuns = regexp.MustCompile(`\n\s*\n+`)
)

// PlainText derives the text alternative from an HTML body.
func PlainText(body string) string {
	text := headBlock.ReplaceAllString(body, "")
	text = blockTags.ReplaceAllString(text, "\n")
	text = anyTag.ReplaceAllString(text, "")
	text = html.UnescapeString(text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
