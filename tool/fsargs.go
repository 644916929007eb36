package tool

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// DecodeArgs unmarshals a tool's argsJSON into dst. Native tools share this
// helper so argument-shape errors are reported uniformly.
func DecodeArgs(argsJSON string, dst any) error {
	if err := json.Unmarshal([]byte(argsJSON), dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// ResolveInRoot joins root and rel and confirms the result stays within
// root, rejecting `..` escapes so a tool call cannot read or write outside
// the project directory it was granted.
func ResolveInRoot(root, rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	joined := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes project root", rel)
	}
	return joined, nil
}
