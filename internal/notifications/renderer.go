package notifications

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"text/template"
	"time"

	"github.com/bissquit/alert-relay/internal/domain"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// ErrTemplateNotFound is returned when a request names an unknown template.
var ErrTemplateNotFound = errors.New("template not found")

// Renderer turns a request's template id or inline template text plus
// TemplateData into the final subject and body.
type Renderer struct {
	templates map[string]*template.Template
	funcMap   template.FuncMap
}

// NewRenderer creates a renderer and loads the built-in templates. Template
// files are named <template id>.<channel>.tmpl and define "body" and,
// for email, "subject".
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"title":         titleCase,
		"upper":         strings.ToUpper,
		"lower":         strings.ToLower,
		"default":       defaultValue,
		"formatTime":    formatTime,
		"severityEmoji": severityEmoji,
	}

	r := &Renderer{
		templates: make(map[string]*template.Template),
		funcMap:   funcMap,
	}

	files, err := fs.Glob(templatesFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}

	for _, file := range files {
		content, err := templatesFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", file, err)
		}

		name := strings.TrimSuffix(path.Base(file), ".tmpl")
		tmpl, err := template.New(name).Funcs(funcMap).Option("missingkey=zero").Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}

		r.templates[name] = tmpl
	}

	return r, nil
}

// Render returns the subject and body for req on channel. Requests without
// a template id or template data are returned unchanged.
func (r *Renderer) Render(channel domain.ChannelType, req NotificationRequest) (subject, body string, err error) {
	if req.TemplateID != "" {
		return r.renderNamed(channel, req)
	}

	if len(req.TemplateData) == 0 {
		return req.Subject, req.MessageContent, nil
	}

	subject, err = r.renderInline("subject", req.Subject, req.TemplateData)
	if err != nil {
		return "", "", err
	}
	body, err = r.renderInline("message", req.MessageContent, req.TemplateData)
	if err != nil {
		return "", "", err
	}
	return subject, body, nil
}

// HasTemplate reports whether a built-in template exists for id and channel.
func (r *Renderer) HasTemplate(id string, channel domain.ChannelType) bool {
	_, ok := r.templates[templateKey(id, channel)]
	return ok
}

func (r *Renderer) renderNamed(channel domain.ChannelType, req NotificationRequest) (string, string, error) {
	key := templateKey(req.TemplateID, channel)
	tmpl, ok := r.templates[key]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrTemplateNotFound, key)
	}

	data := templateData(req)

	subject := req.Subject
	if tmpl.Lookup("subject") != nil {
		s, err := execute(tmpl, "subject", data)
		if err != nil {
			return "", "", err
		}
		subject = s
	}

	body, err := execute(tmpl, "body", data)
	if err != nil {
		return "", "", err
	}

	return subject, body, nil
}

func (r *Renderer) renderInline(name, text string, data map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New(name).Funcs(r.funcMap).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse %s template: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute %s template: %w", name, err)
	}
	return buf.String(), nil
}

func execute(tmpl *template.Template, name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("execute template %s/%s: %w", tmpl.Name(), name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func templateKey(id string, channel domain.ChannelType) string {
	return id + "." + string(channel)
}

// templateData exposes the request's own fields next to TemplateData so
// templates can fall back to the raw message.
func templateData(req NotificationRequest) map[string]any {
	data := make(map[string]any, len(req.TemplateData)+2)
	for k, v := range req.TemplateData {
		data[k] = v
	}
	if _, ok := data["message"]; !ok {
		data["message"] = req.MessageContent
	}
	if _, ok := data["subject"]; !ok {
		data["subject"] = req.Subject
	}
	return data
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(strings.ReplaceAll(s, "_", " "))
}

func defaultValue(def string, v any) string {
	if v == nil {
		return def
	}
	s := fmt.Sprint(v)
	if s == "" {
		return def
	}
	return s
}

// formatTime accepts RFC 3339 strings, which is how timestamps arrive in
// JSON template data.
func formatTime(v any) string {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format("Jan 2, 2006 15:04 UTC")
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return t
		}
		return parsed.UTC().Format("Jan 2, 2006 15:04 UTC")
	default:
		return ""
	}
}

func severityEmoji(severity any) string {
	s, _ := severity.(string)
	switch strings.ToLower(s) {
	case "low", "info":
		return "🟡"
	case "medium", "warning":
		return "🟠"
	case "high", "critical":
		return "🔴"
	default:
		return "⚪"
	}
}
