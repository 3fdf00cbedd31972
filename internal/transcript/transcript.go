// Package transcript renders a chat as a standalone HTML page. Model replies
// are Markdown and are converted with goldmark; raw HTML in them is dropped.
package transcript

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"strings"

	"github.com/yuin/goldmark"

	"promptly-backend/internal/models"
)

var page = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body{font-family:system-ui,sans-serif;max-width:760px;margin:2rem auto;padding:0 1rem;background:#12101b;color:#ececec}
.turn{padding:.75rem 1rem;border-radius:12px;margin:1rem 0}
.user{background:#2c2937;margin-left:20%}
.model{background:transparent}
.img{font-size:.85rem;color:#9a98a6}
pre{overflow-x:auto;background:#1e1b29;padding:.75rem;border-radius:8px}
</style>
</head>
<body>
<h1>{{.Title}}</h1>
{{range .Turns}}<div class="turn {{.Role}}">
{{range .Images}}<p class="img">image: {{.}}</p>
{{end}}{{.Body}}</div>
{{end}}</body>
</html>
`))

type turnView struct {
	Role   string
	Images []string
	Body   template.HTML
}

// Markdown returns the chat as a Markdown document with one section per turn.
func Markdown(chat *models.Chat, title string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n", title)
	for _, t := range chat.History {
		heading := "You"
		if t.Role == models.RoleModel {
			heading = "Model"
		}
		fmt.Fprintf(&b, "\n## %s\n\n", heading)
		for _, p := range t.Parts {
			if p.ImageRef != "" {
				fmt.Fprintf(&b, "_image: %s_\n\n", p.ImageRef)
			}
			if p.Text != "" {
				b.WriteString(p.Text)
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// HTML writes the chat as an HTML page.
func HTML(w io.Writer, chat *models.Chat, title string) error {
	turns := make([]turnView, 0, len(chat.History))
	for _, t := range chat.History {
		view := turnView{Role: t.Role, Images: t.ImageRefs()}

		var text strings.Builder
		for _, p := range t.Parts {
			if p.Text != "" {
				text.WriteString(p.Text)
				text.WriteString("\n")
			}
		}

		if t.Role == models.RoleModel {
			var buf bytes.Buffer
			if err := goldmark.Convert([]byte(text.String()), &buf); err != nil {
				return fmt.Errorf("convert markdown: %w", err)
			}
			view.Body = template.HTML(buf.String())
		} else {
			view.Body = template.HTML("<p>" + template.HTMLEscapeString(strings.TrimSpace(text.String())) + "</p>")
		}
		turns = append(turns, view)
	}

	return page.Execute(w, struct {
		Title string
		Turns []turnView
	}{Title: title, Turns: turns})
}
