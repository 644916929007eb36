// Package pdf exposes a native read_pdf tool that extracts plain text from
// a PDF file on disk, using ledongthuc/pdf (pure Go, no CGO).
package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/codayhq/coday/tool"
)

// ToolName is the unqualified name this tool registers under.
const ToolName tool.Ident = "read_pdf"

type args struct {
	Path string `json:"path"`
}

// New builds the read_pdf tool, restricted to reading files rooted at root
// so an agent cannot be steered into reading arbitrary filesystem paths.
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
		return extractText(path)
	}).WithIdempotent()
}

func spec() tool.Spec {
	return tool.Spec{
		Name:        ToolName,
		Description: "Extracts plain text from a PDF file relative to the project root.",
		Schema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"path": map[string]any{"type": "string", "description": "path to the PDF, relative to the project root"}},
			"required":             []any{"path"},
			"additionalProperties": false,
		},
	}
}

func extractText(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read pdf %s: %w", path, err)
	}
	if len(content) == 0 {
		return "", fmt.Errorf("read pdf %s: empty file", path)
	}

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract text from %s: %w", path, err)
	}

	text, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read extracted text from %s: %w", path, err)
	}

	return strings.TrimSpace(string(text)), nil
}
