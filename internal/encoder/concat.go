package encoder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrEmptyPlan is returned when a manifest would contain no files.
var ErrEmptyPlan = errors.New("no playable files in plan")

// writeConcatFile writes an ffmpeg concat demuxer manifest and returns
// its path. Paths are made absolute and single quotes are escaped the
// way the demuxer expects.
func writeConcatFile(dir string, sessionID uint, label string, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", ErrEmptyPlan
	}
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create manifest directory: %w", err)
	}

	var b strings.Builder
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return "", fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		escaped := strings.ReplaceAll(abs, "'", `'\''`)
		fmt.Fprintf(&b, "file '%s'\n", escaped)
	}

	path := filepath.Join(dir, fmt.Sprintf("session_%d_%s.txt", sessionID, label))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("failed to write manifest: %w", err)
	}
	return path, nil
}
