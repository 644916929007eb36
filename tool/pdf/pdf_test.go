package pdf

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractTextRejectsMissingFile(t *testing.T) {
	_, err := extractText(filepath.Join(t.TempDir(), "missing.pdf"))
	require.Error(t, err)
}

func TestExtractTextRejectsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.pdf")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := extractText(path)
	require.Error(t, err)
}

func TestNewToolRejectsPathEscapingRoot(t *testing.T) {
	root := t.TempDir()
	rdPDF := New(root)

	_, err := rdPDF.Invoke(context.Background(), `{"path":"../outside.pdf"}`)
	require.Error(t, err)
	require.Contains(t, err.Error(), "escapes project root")
}

func TestSpecDeclaresRequiredPath(t *testing.T) {
	rdPDF := New(t.TempDir())
	spec := rdPDF.Spec()
	require.Equal(t, ToolName, spec.Name)
	require.Contains(t, spec.Schema["required"], "path")
}
