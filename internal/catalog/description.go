package catalog

import (
	"bytes"
	"html/template"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// DescriptionRenderer turns markdown service and option descriptions into sanitized HTML.
type DescriptionRenderer struct {
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
}

// NewDescriptionRenderer builds a renderer with the storefront's description policy.
func NewDescriptionRenderer() *DescriptionRenderer {
	return &DescriptionRenderer{
		markdown: goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough)),
		policy:   newDescriptionPolicy(),
	}
}

func newDescriptionPolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("class").OnElements("p", "span")
	policy.RequireNoFollowOnLinks(true)
	return policy
}

// Render converts src to HTML. Markdown that fails to render falls back to escaped text.
func (r *DescriptionRenderer) Render(src string) template.HTML {
	src = strings.TrimSpace(src)
	if src == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := r.markdown.Convert([]byte(src), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(src))
	}
	return template.HTML(r.policy.SanitizeBytes(buf.Bytes()))
}
