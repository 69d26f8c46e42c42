package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var noteTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}

	templateContent, err := templateFS.ReadFile("templates/note.html")
	if err != nil {
		noteTemplate = template.Must(template.New("note").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	noteTemplate = template.Must(template.New("note").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for note template rendering.
type TemplateData struct {
	Title       string
	ContentHTML template.HTML
	Author      string
	Version     int
	ChangeType  string
	Comment     string
	CreatedAt   time.Time
}

// RenderNoteHTML renders the note template with provided data.
func RenderNoteHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := noteTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ContentToHTML converts plain note text into escaped HTML paragraphs.
// Blank lines split paragraphs; single newlines become <br>.
func ContentToHTML(content string) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}

	var b strings.Builder
	for _, block := range strings.Split(content, "\n\n") {
		lines := strings.Split(block, "\n")
		for i := range lines {
			lines[i] = template.HTMLEscapeString(lines[i])
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br>"))
		b.WriteString("</p>\n")
	}
	return b.String()
}

// fallbackTemplate is used if the embedded template fails to load.
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">v{{.Version}} | {{.Author}} | {{.CreatedAt.Format "Jan 2, 2006"}}</div>
  <div>{{.ContentHTML}}</div>
</body>
</html>`
