// Package compiler turns tag source files into renderable templates.
//
// A tag source holds exactly one root element. The element name is the
// declared tag name and the root's content is a template body:
//
//	<todo-list class="todos">
//	  <h1>{{ .title }}</h1>
//	  <ul>{{ range .items }}<li>{{ . }}</li>{{ end }}</ul>
//	</todo-list>
//
// The root element is located with the golang.org/x/net/html tokenizer so
// template actions inside the body are never re-parsed as HTML. The body is
// compiled with html/template, which gives contextual escaping when the tag
// is rendered.
package compiler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// Dialect selects the expression syntax of tag bodies.
type Dialect string

const (
	// DialectGo uses {{ }} delimiters.
	DialectGo Dialect = "go"
	// DialectRiot uses riot-style { } delimiters.
	DialectRiot Dialect = "riot"
)

// Template functions available to tag bodies.
const (
	FuncIsServer = "isServer"
	FuncJSON     = "json"
	FuncMount    = "mount"
)

// Options configures compilation.
type Options struct {
	Dialect Dialect
	// ResolveImports enables the mount function, which renders another
	// registered tag inline. Bodies calling mount fail to compile when it
	// is disabled.
	ResolveImports bool
}

// DefaultOptions selects go delimiters and no import resolution.
func DefaultOptions() Options {
	return Options{Dialect: DialectGo}
}

// Compiled is the output of a successful compilation.
type Compiled struct {
	// Name is the declared tag name recovered from the root element.
	Name     string
	Attrs    []html.Attribute
	Template *template.Template
	Options  Options
}

// Instance returns a private copy of the template with funcs bound. The
// stored template is never executed, so it can be cloned concurrently.
func (c *Compiled) Instance(funcs template.FuncMap) (*template.Template, error) {
	t, err := c.Template.Clone()
	if err != nil {
		return nil, err
	}
	return t.Funcs(funcs), nil
}

// Compiler compiles tag sources.
type Compiler interface {
	Compile(source []byte, opts Options) (*Compiled, error)
}

// SyntaxError is a compiler diagnostic with a 1-based source line.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
	}
	return e.Msg
}

// TagCompiler is the default Compiler.
type TagCompiler struct{}

// New creates a TagCompiler.
func New() *TagCompiler {
	return &TagCompiler{}
}

// Compile parses source into a Compiled tag.
func (c *TagCompiler) Compile(source []byte, opts Options) (*Compiled, error) {
	if opts.Dialect == "" {
		opts.Dialect = DialectGo
	}

	root, err := splitRoot(source)
	if err != nil {
		return nil, err
	}

	t := template.New(root.name).Option("missingkey=zero")
	switch opts.Dialect {
	case DialectGo:
	case DialectRiot:
		t = t.Delims("{", "}")
	default:
		return nil, &SyntaxError{Msg: fmt.Sprintf("unsupported dialect %q", opts.Dialect)}
	}
	t = t.Funcs(placeholderFuncs(opts))

	if _, err := t.Parse(string(root.body)); err != nil {
		return nil, templateError(err, lineAt(source, root.bodyStart))
	}

	return &Compiled{
		Name:     root.name,
		Attrs:    root.attrs,
		Template: t,
		Options:  opts,
	}, nil
}

// placeholderFuncs declares every function a body may call so parsing
// succeeds; the renderer rebinds them per render.
func placeholderFuncs(opts Options) template.FuncMap {
	funcs := template.FuncMap{
		FuncIsServer: func() bool { return false },
		FuncJSON:     JSON,
	}
	if opts.ResolveImports {
		funcs[FuncMount] = func(name string) (template.HTML, error) {
			return "", errors.New("mount is only available while rendering")
		}
	}
	return funcs
}

// JSON encodes v for use inside a tag body.
func JSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

type rootElement struct {
	name      string
	attrs     []html.Attribute
	body      []byte
	bodyStart int
}

// splitRoot finds the root element of a tag source and the byte range of
// its content.
func splitRoot(source []byte) (*rootElement, error) {
	z := html.NewTokenizer(bytes.NewReader(source))

	var (
		root      *rootElement
		offset    int
		endStart  = -1
		dirtyTail bool
	)

	for {
		tt := z.Next()
		raw := z.Raw()
		start := offset
		offset += len(raw)

		if tt == html.ErrorToken {
			if z.Err() == io.EOF {
				break
			}
			return nil, &SyntaxError{Line: lineAt(source, start), Msg: z.Err().Error()}
		}

		if root == nil {
			switch tt {
			case html.CommentToken, html.DoctypeToken:
				continue
			case html.TextToken:
				if len(bytes.TrimSpace(raw)) == 0 {
					continue
				}
				return nil, &SyntaxError{Line: lineAt(source, start), Msg: "text before root element"}
			case html.StartTagToken, html.SelfClosingTagToken:
				tok := z.Token()
				if tok.Data == "" {
					return nil, &SyntaxError{Line: lineAt(source, start), Msg: "root element has no name"}
				}
				root = &rootElement{name: tok.Data, attrs: tok.Attr, bodyStart: offset}
				if tt == html.SelfClosingTagToken {
					endStart = offset
				}
				continue
			default:
				return nil, &SyntaxError{Line: lineAt(source, start), Msg: "unexpected closing tag before root element"}
			}
		}

		switch tt {
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == root.name {
				endStart = start
				dirtyTail = false
				continue
			}
		case html.CommentToken:
			continue
		case html.TextToken:
			if len(bytes.TrimSpace(raw)) == 0 {
				continue
			}
		}
		if endStart >= 0 {
			dirtyTail = true
		}
	}

	if root == nil {
		return nil, &SyntaxError{Msg: "no root element found"}
	}
	if endStart < 0 {
		return nil, &SyntaxError{Line: lineAt(source, len(source)), Msg: fmt.Sprintf("missing closing tag </%s>", root.name)}
	}
	if dirtyTail {
		return nil, &SyntaxError{Line: lineAt(source, len(source)), Msg: fmt.Sprintf("unexpected content after </%s>", root.name)}
	}

	root.body = source[root.bodyStart:endStart]
	return root, nil
}

var templateLine = regexp.MustCompile(`^template: [^:]+:(\d+):\s*(.*)$`)

// templateError converts an html/template parse error into a SyntaxError
// with a line number relative to the whole source file.
func templateError(err error, bodyLine int) error {
	msg := err.Error()
	m := templateLine.FindStringSubmatch(msg)
	if m == nil {
		return &SyntaxError{Line: bodyLine, Msg: msg}
	}
	line, convErr := strconv.Atoi(m[1])
	if convErr != nil {
		return &SyntaxError{Line: bodyLine, Msg: msg}
	}
	return &SyntaxError{Line: bodyLine + line - 1, Msg: strings.TrimSpace(m[2])}
}

func lineAt(source []byte, offset int) int {
	if offset > len(source) {
		offset = len(source)
	}
	return bytes.Count(source[:offset], []byte("\n")) + 1
}
