package email

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"finpulse/internal/notifications/digest"
	"finpulse/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// RenderedEmail holds the pre-rendered email content ready for transmission.
type RenderedEmail struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// templateData is the struct passed into the templates. Dates arrive
// pre-formatted; templates never do their own time math.
type templateData struct {
	Title     string
	Body      string
	RuleName  string
	Amount    string
	DueDate   string
	Dates     []string
	Remaining int
	Total     string
	ManageURL string
	Year      int
}

// noticeKinds lists every kind that ships with its own template pair.
var noticeKinds = []types.NoticeKind{
	types.NoticeOccurrenceDue,
	types.NoticeOccurrenceProcessed,
	types.NoticeUpcomingReminder,
	types.NoticeCatchUpDigest,
	types.NoticeSystemAlert,
}

// Renderer turns a Notification into subject, HTML and plain-text bodies
// using Go templates embedded in the binary. Each notice kind pairs a
// content block (spliced into the shared base layout) with a standalone
// text template.
type Renderer struct {
	htmlTemplates map[types.NoticeKind]*template.Template
	textTemplates map[types.NoticeKind]*texttemplate.Template
	manageURL     string
}

// NewRenderer parses the embedded templates and returns a Renderer. The
// baseURL is the engine's public address; the footer's settings link is
// derived from it.
func NewRenderer(baseURL string) (*Renderer, error) {
	r := &Renderer{
		htmlTemplates: make(map[types.NoticeKind]*template.Template, len(noticeKinds)),
		textTemplates: make(map[types.NoticeKind]*texttemplate.Template, len(noticeKinds)),
		manageURL:     strings.TrimSuffix(baseURL, "/") + "/settings/notifications",
	}

	baseHTML, err := templateFS.ReadFile("templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read base.html: %w", err)
	}

	for _, kind := range noticeKinds {
		name := string(kind)

		// HTML: base layout + kind-specific content block.
		htmlContent, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.html", name))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to read %s.html: %w", name, err)
		}
		htmlTmpl, err := template.New("base").Parse(string(baseHTML))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to parse base.html: %w", err)
		}
		if _, err := htmlTmpl.Parse(string(htmlContent)); err != nil {
			return nil, fmt.Errorf("renderer: failed to parse %s.html: %w", name, err)
		}
		r.htmlTemplates[kind] = htmlTmpl

		txtContent, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.txt", name))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to read %s.txt: %w", name, err)
		}
		txtTmpl, err := texttemplate.New(name).Parse(string(txtContent))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to parse %s.txt: %w", name, err)
		}
		r.textTemplates[kind] = txtTmpl
	}

	return r, nil
}

// Render produces the full email content for a notification. The subject
// is the notice title; the dispatcher already phrases titles for humans.
// Unknown kinds fall back to the plain alert layout, which needs nothing
// beyond title and body.
func (r *Renderer) Render(n *types.Notification) (*RenderedEmail, error) {
	if n == nil {
		return nil, fmt.Errorf("renderer: notification is nil")
	}

	kind := n.Kind
	if _, ok := r.htmlTemplates[kind]; !ok {
		kind = types.NoticeSystemAlert
	}

	data := r.buildTemplateData(n)

	var htmlBuf bytes.Buffer
	if err := r.htmlTemplates[kind].Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render HTML for %q: %w", kind, err)
	}

	var txtBuf bytes.Buffer
	if err := r.textTemplates[kind].Execute(&txtBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render text for %q: %w", kind, err)
	}

	return &RenderedEmail{
		Subject:  n.Title,
		HTMLBody: htmlBuf.String(),
		TextBody: txtBuf.String(),
	}, nil
}

func (r *Renderer) buildTemplateData(n *types.Notification) templateData {
	data := templateData{
		Title:     n.Title,
		Body:      n.Body,
		RuleName:  n.RuleName,
		Amount:    n.Amount,
		ManageURL: r.manageURL,
		Year:      time.Now().UTC().Year(),
	}

	if n.DueDate != nil {
		data.DueDate = n.DueDate.Format("Jan 2, 2006")
	}

	if content, ok := digest.FromExtra(n.Extra); ok {
		data.Total = content.Total
		data.Remaining = content.RemainingCount
		for _, d := range content.Dates {
			data.Dates = append(data.Dates, formatTemplateDate(d))
		}
	}

	return data
}

// formatTemplateDate reformats a digest line date ("2006-01-02") into a
// reader-facing form. Unparseable input passes through untouched.
func formatTemplateDate(date string) string {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return date
	}
	return t.Format("Jan 2, 2006")
}
