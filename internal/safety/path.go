package safety

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CleanName validates a snapshot file name. It must be a single relative
// path element with no traversal.
func CleanName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("name is empty")
	}

	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || clean == ".." {
		return "", fmt.Errorf("name resolves to a directory: %q", name)
	}
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("absolute paths are not allowed: %q", name)
	}
	if strings.ContainsRune(clean, filepath.Separator) {
		return "", fmt.Errorf("nested paths are not allowed: %q", name)
	}
	return clean, nil
}

// JoinUnder joins name under root and verifies the result stays inside root.
func JoinUnder(root, name string) (string, error) {
	clean, err := CleanName(name)
	if err != nil {
		return "", err
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	joined := filepath.Join(rootAbs, clean)

	rel, err := filepath.Rel(rootAbs, joined)
	if err != nil {
		return "", fmt.Errorf("compare paths: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %q", name)
	}
	return joined, nil
}
