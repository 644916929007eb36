// Package xlsx exposes a native read_spreadsheet tool that reads rows from
// an Excel workbook on disk, using xuri/excelize.
package xlsx

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/codayhq/coday/tool"
)

// ToolName is the unqualified name this tool registers under.
const ToolName tool.Ident = "read_spreadsheet"

// DefaultMaxRows caps how many rows one invocation returns when the caller
// does not ask for a different limit.
const DefaultMaxRows = 200

type args struct {
	Path    string `json:"path"`
	Sheet   string `json:"sheet,omitempty"`
	MaxRows int    `json:"maxRows,omitempty"`
}

// Result is the tool's return value: the sheet that was read, its rows as
// string cells, and truncation metadata when the row cap was applied.
type Result struct {
	Sheet string     `json:"sheet"`
	Rows  [][]string `json:"rows"`

	bounds tool.Bounds
}

// Bounds implements tool.BoundedResult.
func (r *Result) Bounds() tool.Bounds { return r.bounds }

// New builds the read_spreadsheet tool, restricted to reading files rooted
// at root.
func New(root string) tool.Tool {
	return tool.NewFunc(spec(), func(ctx context.Context, argsJSON string) (any, error) {
		var a args
		if err := tool.DecodeArgs(argsJSON, &a); err != nil {
			return nil, err
		}
		path, err := tool.ResolveInRoot(root, a.Path)
		if err != nil {
			return nil, err
		}
		maxRows := a.MaxRows
		if maxRows <= 0 {
			maxRows = DefaultMaxRows
		}
		return readSheet(path, a.Sheet, maxRows)
	}).WithIdempotent()
}

func spec() tool.Spec {
	return tool.Spec{
		Name:        ToolName,
		Description: "Reads rows from an Excel workbook relative to the project root.",
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "path to the workbook, relative to the project root"},
				"sheet":   map[string]any{"type": "string", "description": "sheet name; defaults to the first sheet"},
				"maxRows": map[string]any{"type": "integer", "description": "maximum rows to return; defaults to 200"},
			},
			"required":             []any{"path"},
			"additionalProperties": false,
		},
	}
}

func readSheet(path, sheet string, maxRows int) (*Result, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook %s has no sheets", path)
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q of %s: %w", sheet, path, err)
	}

	total := len(rows)
	truncated := total > maxRows
	if truncated {
		rows = rows[:maxRows]
	}

	return &Result{
		Sheet: sheet,
		Rows:  rows,
		bounds: tool.Bounds{
			Returned:       len(rows),
			Total:          &total,
			Truncated:      truncated,
			RefinementHint: refinementHint(truncated),
		},
	}, nil
}

func refinementHint(truncated bool) string {
	if !truncated {
		return ""
	}
	return "Pass a larger maxRows or read a specific sheet to see more."
}
