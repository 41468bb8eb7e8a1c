package handlers

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/tayteboss/bfl/internal/services"
)

//go:embed templates/*.html
var templateFS embed.FS

var summaryTemplate = template.Must(template.ParseFS(templateFS, "templates/summary.html"))

func renderSummary(view services.FormView) ([]byte, error) {
	var buf bytes.Buffer
	if err := summaryTemplate.ExecuteTemplate(&buf, "summary", view); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeHTML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
