package pipeline

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// document is the page skeleton every tag is rendered into.
type document struct {
	title       string
	header      string
	stylesheets []string
	scripts     []string
	body        templ.Component
	stateJSON   string
	nameJSON    string
}

func (d *document) Render(ctx context.Context, w io.Writer) error {
	var sb strings.Builder
	sb.WriteString("<!DOCTYPE html>\n<html>\n  <head>\n    <meta charset=\"utf-8\">\n")
	sb.WriteString("    <title>")
	sb.WriteString(templ.EscapeString(d.title))
	sb.WriteString("</title>\n")
	if d.header != "" {
		sb.WriteString("    ")
		sb.WriteString(d.header)
		sb.WriteString("\n")
	}
	for _, href := range d.stylesheets {
		sb.WriteString(`    <link rel="stylesheet" href="`)
		sb.WriteString(templ.EscapeString(href))
		sb.WriteString("\">\n")
	}
	sb.WriteString("  </head>\n  <body>\n    ")
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return err
	}

	if err := d.body.Render(ctx, w); err != nil {
		return err
	}

	sb.Reset()
	sb.WriteString("\n    <script>\n      window.state = ")
	sb.WriteString(d.stateJSON)
	sb.WriteString(";\n      window.tagName = ")
	sb.WriteString(d.nameJSON)
	sb.WriteString(";\n    </script>\n")
	for _, src := range d.scripts {
		sb.WriteString(`    <script src="`)
		sb.WriteString(templ.EscapeString(src))
		sb.WriteString("\"></script>\n")
	}
	sb.WriteString("  </body>\n</html>\n")
	_, err := io.WriteString(w, sb.String())
	return err
}
