// Package script implements the percent-format text representation: a
// line-comment based encoding of a document's cells that stays pleasant to
// edit and diff. The format is strict so that Parse/Print round-trip byte
// for byte.
//
// A script starts with a runtime header, then one block per cell. Markers
// use the runtime's line-comment prefix ("//" shown here):
//
//	// ---
//	// runtime: go
//	// ---
//
//	// %% [markdown]
//	// # A narrative cell
//
//	// %%
//	x := 1 + 1
//
// Narrative bodies are commented line by line; executable bodies are raw
// source. Cells are separated by exactly one blank line. A body line that
// would itself read as a cell marker is escaped with one extra comment
// prefix on print and unescaped on parse.
package script

import (
	"fmt"
	"strings"

	"github.com/pairtext/pairtext/internal/notebook"
)

// Comment prefixes Parse recognizes when reading the header line.
var knownPrefixes = []string{"//", "#"}

const (
	markerCode     = "%%"
	markerMarkdown = "%% [markdown]"
	headerRule     = "---"
	headerRuntime  = "runtime:"
)

// Parse decodes a percent-format script into the shared notebook model and
// reports the comment prefix the file uses. All failures are
// *notebook.MappingError with a 1-based line number.
func Parse(doc string, data []byte) (*notebook.Notebook, string, error) {
	if len(data) == 0 {
		return nil, "", &notebook.MappingError{Doc: doc, Line: 1, Reason: "empty file: missing runtime header"}
	}
	if data[len(data)-1] != '\n' {
		lineCount := strings.Count(string(data), "\n") + 1
		return nil, "", &notebook.MappingError{Doc: doc, Line: lineCount, Reason: "missing trailing newline"}
	}

	lines := strings.Split(string(data), "\n")
	lines = lines[:len(lines)-1] // drop the artifact of the final newline

	prefix, ok := detectPrefix(lines[0])
	if !ok {
		return nil, "", &notebook.MappingError{Doc: doc, Line: 1, Reason: "missing runtime header (expected a comment line like \"// ---\")"}
	}

	p := &parser{doc: doc, prefix: prefix, lines: lines}
	nb, err := p.parse()
	if err != nil {
		return nil, "", err
	}
	return nb, prefix, nil
}

// Print is the inverse of Parse. The prefix must be the comment prefix of
// the notebook's runtime.
func Print(nb *notebook.Notebook, prefix string) []byte {
	var b strings.Builder

	b.WriteString(prefix + " " + headerRule + "\n")
	b.WriteString(prefix + " " + headerRuntime + " " + nb.Runtime + "\n")
	b.WriteString(prefix + " " + headerRule + "\n")

	for _, cell := range nb.Cells {
		b.WriteByte('\n')
		switch cell.Kind {
		case notebook.KindNarrative:
			b.WriteString(prefix + " " + markerMarkdown + "\n")
		default:
			b.WriteString(prefix + " " + markerCode + "\n")
		}
		if cell.Source == "" {
			continue
		}
		for _, line := range strings.Split(cell.Source, "\n") {
			if cell.Kind == notebook.KindNarrative {
				if line == "" {
					b.WriteString(prefix + "\n")
					continue
				}
				line = prefix + " " + line
			}
			if markerish(line, prefix) {
				line = prefix + " " + line
			}
			b.WriteString(line + "\n")
		}
	}
	return []byte(b.String())
}

// markerish reports whether line would be read as a cell marker after
// removing zero or more escape prefixes.
func markerish(line, prefix string) bool {
	for {
		if strings.HasPrefix(line, prefix+" "+markerCode) {
			return true
		}
		if !strings.HasPrefix(line, prefix+" "+prefix) {
			return false
		}
		line = strings.TrimPrefix(line, prefix+" ")
	}
}

func detectPrefix(first string) (string, bool) {
	for _, p := range knownPrefixes {
		if first == p+" "+headerRule {
			return p, true
		}
	}
	return "", false
}

type parser struct {
	doc    string
	prefix string
	lines  []string
	pos    int // index into lines
}

func (p *parser) errf(line int, format string, args ...any) error {
	return &notebook.MappingError{Doc: p.doc, Line: line, Reason: fmt.Sprintf(format, args...)}
}

func (p *parser) parse() (*notebook.Notebook, error) {
	runtimeName, err := p.parseHeader()
	if err != nil {
		return nil, err
	}

	nb := &notebook.Notebook{Name: p.doc, Runtime: runtimeName}

	// Header with no cells is a valid, if pointless, document.
	if p.pos == len(p.lines) {
		return nb, nil
	}
	if p.lines[p.pos] != "" {
		return nil, p.errf(p.pos+1, "expected blank line after header")
	}
	p.pos++

	for p.pos < len(p.lines) {
		cell, err := p.parseCell()
		if err != nil {
			return nil, err
		}
		nb.Cells = append(nb.Cells, cell)
	}
	return nb, nil
}

func (p *parser) parseHeader() (string, error) {
	// Line 1 was validated by detectPrefix.
	if len(p.lines) < 3 {
		return "", p.errf(len(p.lines), "truncated runtime header")
	}
	runtimeLine := p.lines[1]
	want := p.prefix + " " + headerRuntime
	if !strings.HasPrefix(runtimeLine, want) {
		return "", p.errf(2, "expected %q line in header", want)
	}
	name := strings.TrimSpace(strings.TrimPrefix(runtimeLine, want))
	if name == "" {
		return "", p.errf(2, "empty runtime name in header")
	}
	if p.lines[2] != p.prefix+" "+headerRule {
		return "", p.errf(3, "unterminated runtime header")
	}
	p.pos = 3
	return name, nil
}

func (p *parser) parseCell() (notebook.Cell, error) {
	markerLine := p.lines[p.pos]
	start := p.pos + 1

	var kind notebook.CellKind
	switch markerLine {
	case p.prefix + " " + markerMarkdown:
		kind = notebook.KindNarrative
	case p.prefix + " " + markerCode:
		kind = notebook.KindExecutable
	default:
		return notebook.Cell{}, p.errf(start, "malformed cell marker %q", markerLine)
	}
	p.pos++

	var body []string
	for p.pos < len(p.lines) {
		if p.isMarker(p.lines[p.pos]) {
			// The blank separator belongs to the format, not the cell.
			if len(body) == 0 || body[len(body)-1] != "" {
				return notebook.Cell{}, p.errf(p.pos+1, "missing blank line before cell marker")
			}
			body = body[:len(body)-1]
			break
		}
		body = append(body, p.lines[p.pos])
		p.pos++
	}

	if kind == notebook.KindNarrative {
		decoded, err := p.decodeNarrative(body, start)
		if err != nil {
			return notebook.Cell{}, err
		}
		body = decoded
	} else {
		for i, line := range body {
			if markerish(line, p.prefix) {
				body[i] = strings.TrimPrefix(line, p.prefix+" ")
			}
		}
	}
	return notebook.Cell{Kind: kind, Source: joinBody(body)}, nil
}

// isMarker reports whether a line opens a new cell. Anything that starts
// with "<prefix> %%" is treated as an attempted marker so that typos fail
// parsing instead of being swallowed into the previous cell's body.
func (p *parser) isMarker(line string) bool {
	return strings.HasPrefix(line, p.prefix+" "+markerCode)
}

func (p *parser) decodeNarrative(body []string, start int) ([]string, error) {
	decoded := make([]string, 0, len(body))
	for i, line := range body {
		switch {
		case line == p.prefix:
			decoded = append(decoded, "")
		case strings.HasPrefix(line, p.prefix+" "):
			content := strings.TrimPrefix(line, p.prefix+" ")
			if markerish(content, p.prefix) {
				content = strings.TrimPrefix(content, p.prefix+" ")
			}
			decoded = append(decoded, content)
		default:
			return nil, p.errf(start+1+i, "narrative line must start with %q", p.prefix+" ")
		}
	}
	return decoded, nil
}

func joinBody(body []string) string {
	if len(body) == 0 {
		return ""
	}
	return strings.Join(body, "\n")
}
