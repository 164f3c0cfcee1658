// Package render turns a document into a static HTML preview and applies
// the narrative checks the lint command runs over markdown cells.
package render

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"github.com/pairtext/pairtext/internal/notebook"
)

type Renderer struct {
	md goldmark.Markdown
}

func New() *Renderer {
	return &Renderer{
		md: goldmark.New(goldmark.WithExtensions(extension.GFM)),
	}
}

// HTML renders the whole document: narrative cells as markdown, executable
// cells as preformatted source followed by their captured outputs.
func (r *Renderer) HTML(nb *notebook.Notebook) ([]byte, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n", html.EscapeString(nb.Name))

	for i, cell := range nb.Cells {
		switch cell.Kind {
		case notebook.KindNarrative:
			if err := r.md.Convert([]byte(cell.Source), &b); err != nil {
				return nil, fmt.Errorf("render: %s: cell %d: %w", nb.Name, i, err)
			}
		case notebook.KindExecutable:
			fmt.Fprintf(&b, "<pre><code>%s</code></pre>\n", html.EscapeString(cell.Source))
			for _, out := range cell.Outputs {
				writeOutput(&b, out)
			}
		}
	}

	b.WriteString("</body>\n</html>\n")
	return b.Bytes(), nil
}

func writeOutput(b *bytes.Buffer, out notebook.Output) {
	switch out.Type {
	case notebook.OutputStream:
		fmt.Fprintf(b, "<pre class=\"output %s\">%s</pre>\n", out.StreamName, html.EscapeString(out.Text))
	case notebook.OutputExecuteResult:
		fmt.Fprintf(b, "<pre class=\"output result\">%s</pre>\n", html.EscapeString(out.Text))
	case notebook.OutputError:
		fmt.Fprintf(b, "<pre class=\"output error\">%s: %s</pre>\n", html.EscapeString(out.Ename), html.EscapeString(out.Evalue))
	}
}

// Issue is one narrative lint finding. Line is 1-based within the cell.
type Issue struct {
	Doc     string
	Cell    int
	Line    int
	Message string
}

func (i Issue) String() string {
	if i.Line > 0 {
		return fmt.Sprintf("%s: cell %d, line %d: %s", i.Doc, i.Cell, i.Line, i.Message)
	}
	return fmt.Sprintf("%s: cell %d: %s", i.Doc, i.Cell, i.Message)
}

// Lint applies the narrative checks: empty markdown cells, trailing
// whitespace, and heading levels that skip (an h1 followed by an h3 reads
// like a missing section in the rendered docs).
func (r *Renderer) Lint(nb *notebook.Notebook) []Issue {
	var issues []Issue
	lastLevel := 0

	for i, cell := range nb.Cells {
		if cell.Kind != notebook.KindNarrative {
			continue
		}
		if strings.TrimSpace(cell.Source) == "" {
			issues = append(issues, Issue{Doc: nb.Name, Cell: i, Message: "empty narrative cell"})
			continue
		}
		for n, line := range strings.Split(cell.Source, "\n") {
			if line != strings.TrimRight(line, " \t") {
				issues = append(issues, Issue{Doc: nb.Name, Cell: i, Line: n + 1, Message: "trailing whitespace"})
			}
		}

		source := []byte(cell.Source)
		root := r.md.Parser().Parse(text.NewReader(source))
		ast.Walk(root, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
			if !entering {
				return ast.WalkContinue, nil
			}
			if heading, ok := node.(*ast.Heading); ok {
				if lastLevel > 0 && heading.Level > lastLevel+1 {
					issues = append(issues, Issue{
						Doc:     nb.Name,
						Cell:    i,
						Message: fmt.Sprintf("heading level jumps from h%d to h%d", lastLevel, heading.Level),
					})
				}
				lastLevel = heading.Level
			}
			return ast.WalkContinue, nil
		})
	}
	return issues
}
