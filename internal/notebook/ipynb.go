package notebook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// nbformat version written by Encode. Decode accepts any 4.x file.
const (
	nbFormat      = 4
	nbFormatMinor = 5
)

type ipynbFile struct {
	Cells         []ipynbCell   `json:"cells"`
	Metadata      ipynbMetadata `json:"metadata"`
	NBFormat      int           `json:"nbformat"`
	NBFormatMinor int           `json:"nbformat_minor"`
}

type ipynbMetadata struct {
	Kernelspec ipynbKernelspec `json:"kernelspec"`
}

type ipynbKernelspec struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Language    string `json:"language"`
}

type ipynbCell struct {
	CellType       string         `json:"cell_type"`
	Metadata       map[string]any `json:"metadata"`
	Source         []string       `json:"source"`
	ExecutionCount *int           `json:"execution_count,omitempty"`
	Outputs        *[]ipynbOutput `json:"outputs,omitempty"` // present iff code cell
}

type ipynbOutput struct {
	OutputType     string              `json:"output_type"`
	Name           string              `json:"name,omitempty"`
	Text           []string            `json:"text,omitempty"`
	Data           map[string][]string `json:"data,omitempty"`
	ExecutionCount *int                `json:"execution_count,omitempty"`
	Metadata       map[string]any      `json:"metadata,omitempty"`
	Ename          string              `json:"ename,omitempty"`
	Evalue         string              `json:"evalue,omitempty"`
	Traceback      []string            `json:"traceback,omitempty"`
}

// Encode serializes the notebook as nbformat 4.5 JSON with a trailing
// newline. The encoding is deterministic so the sync engine can compare the
// on-disk file against a regenerated one byte for byte.
func Encode(nb *Notebook) ([]byte, error) {
	file := ipynbFile{
		Cells: make([]ipynbCell, 0, len(nb.Cells)),
		Metadata: ipynbMetadata{
			Kernelspec: ipynbKernelspec{
				Name:        nb.Runtime,
				DisplayName: nb.Runtime,
				Language:    nb.Runtime,
			},
		},
		NBFormat:      nbFormat,
		NBFormatMinor: nbFormatMinor,
	}

	for _, cell := range nb.Cells {
		out := ipynbCell{
			CellType: string(cell.Kind),
			Metadata: map[string]any{},
			Source:   splitLines(cell.Source),
		}
		if cell.Kind == KindExecutable {
			outputs := make([]ipynbOutput, 0, len(cell.Outputs))
			for _, o := range cell.Outputs {
				enc, err := encodeOutput(nb.Name, o, cell.ExecutionCount)
				if err != nil {
					return nil, err
				}
				outputs = append(outputs, enc)
			}
			out.Outputs = &outputs
			if cell.ExecutionCount > 0 {
				count := cell.ExecutionCount
				out.ExecutionCount = &count
			}
		}
		file.Cells = append(file.Cells, out)
	}

	raw, err := json.MarshalIndent(file, "", " ")
	if err != nil {
		return nil, fmt.Errorf("notebook: encode %s: %w", nb.Name, err)
	}
	return append(raw, '\n'), nil
}

// Decode parses nbformat JSON into the shared model. Structural problems are
// reported as MappingError so callers can treat both representations
// uniformly.
func Decode(name string, data []byte) (*Notebook, error) {
	var file ipynbFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &MappingError{Doc: name, Reason: fmt.Sprintf("invalid notebook JSON: %v", err)}
	}
	if file.NBFormat != nbFormat {
		return nil, &MappingError{Doc: name, Reason: fmt.Sprintf("unsupported nbformat %d", file.NBFormat)}
	}

	nb := &Notebook{
		Name:    name,
		Runtime: file.Metadata.Kernelspec.Name,
		Cells:   make([]Cell, 0, len(file.Cells)),
	}
	for i, cell := range file.Cells {
		var kind CellKind
		switch cell.CellType {
		case string(KindNarrative):
			kind = KindNarrative
		case string(KindExecutable):
			kind = KindExecutable
		default:
			return nil, &MappingError{Doc: name, Reason: fmt.Sprintf("cell %d: unsupported cell type %q", i, cell.CellType)}
		}

		decoded := Cell{Kind: kind, Source: strings.Join(cell.Source, "")}
		if kind == KindExecutable {
			if cell.ExecutionCount != nil {
				decoded.ExecutionCount = *cell.ExecutionCount
			}
			if cell.Outputs != nil {
				for _, o := range *cell.Outputs {
					out, err := decodeOutput(name, i, o)
					if err != nil {
						return nil, err
					}
					decoded.Outputs = append(decoded.Outputs, out)
				}
			}
		}
		nb.Cells = append(nb.Cells, decoded)
	}
	return nb, nil
}

func encodeOutput(doc string, o Output, executionCount int) (ipynbOutput, error) {
	switch o.Type {
	case OutputStream:
		return ipynbOutput{
			OutputType: string(OutputStream),
			Name:       o.StreamName,
			Text:       splitLines(o.Text),
		}, nil
	case OutputExecuteResult:
		out := ipynbOutput{
			OutputType: string(OutputExecuteResult),
			Data:       map[string][]string{"text/plain": splitLines(o.Text)},
			Metadata:   map[string]any{},
		}
		if executionCount > 0 {
			count := executionCount
			out.ExecutionCount = &count
		}
		return out, nil
	case OutputError:
		return ipynbOutput{
			OutputType: string(OutputError),
			Ename:      o.Ename,
			Evalue:     o.Evalue,
			Traceback:  o.Traceback,
		}, nil
	default:
		return ipynbOutput{}, &MappingError{Doc: doc, Reason: fmt.Sprintf("unsupported output type %q", o.Type)}
	}
}

func decodeOutput(doc string, cellIndex int, o ipynbOutput) (Output, error) {
	switch o.OutputType {
	case string(OutputStream):
		return Output{Type: OutputStream, StreamName: o.Name, Text: strings.Join(o.Text, "")}, nil
	case string(OutputExecuteResult):
		return Output{Type: OutputExecuteResult, Text: strings.Join(o.Data["text/plain"], "")}, nil
	case string(OutputError):
		return Output{Type: OutputError, Ename: o.Ename, Evalue: o.Evalue, Traceback: o.Traceback}, nil
	default:
		return Output{}, &MappingError{Doc: doc, Reason: fmt.Sprintf("cell %d: unsupported output type %q", cellIndex, o.OutputType)}
	}
}

// splitLines breaks source into nbformat's line list: every line keeps its
// trailing newline except the last when the source does not end with one.
func splitLines(s string) []string {
	if s == "" {
		return []string{}
	}
	var lines []string
	for {
		i := strings.IndexByte(s, '\n')
		if i < 0 {
			lines = append(lines, s)
			return lines
		}
		lines = append(lines, s[:i+1])
		s = s[i+1:]
		if s == "" {
			return lines
		}
	}
}
