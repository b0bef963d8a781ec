package export

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"time"
)

//go:embed templates/transcript.html
var templateFS embed.FS

var transcriptTemplate = template.Must(
	template.New("transcript.html").
		Funcs(template.FuncMap{
			"formatDate": func(t time.Time, layout string) string {
				if t.IsZero() {
					return ""
				}
				return t.UTC().Format(layout)
			},
		}).
		ParseFS(templateFS, "templates/transcript.html"),
)

// RenderTranscriptHTML renders a transcript as a standalone HTML page.
func RenderTranscriptHTML(data Transcript) (string, error) {
	var buf bytes.Buffer
	if err := transcriptTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render transcript: %w", err)
	}
	return buf.String(), nil
}
