package encoder

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Stats is the progress snapshot parsed out of an encoder log. Fields
// default to "N/A" when the encoder has not printed a progress line
// yet.
type Stats struct {
	Bitrate string `json:"bitrate"`
	FPS     string `json:"fps"`
	Speed   string `json:"speed"`
}

// TailLines returns up to n trailing lines of the file at path.
func TailLines(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

var errorKeywords = []string{"Error", "error", "failed", "timeout", "invalid", "cannot", "could not"}

// LastErrorLine scans the trailing lines of an encoder log for the
// most recent line that looks like a failure diagnosis.
func LastErrorLine(path string) string {
	lines, err := TailLines(path, 50)
	if err != nil {
		return ""
	}
	for i := len(lines) - 1; i >= 0; i-- {
		for _, kw := range errorKeywords {
			if strings.Contains(lines[i], kw) {
				return strings.TrimSpace(lines[i])
			}
		}
	}
	return ""
}

// ParseStats extracts the bitrate, fps, and speed tokens from the most
// recent encoder progress line. The encoder pads some values with a
// space after the key, so tokens are read past leading whitespace.
func ParseStats(lines []string) Stats {
	stats := Stats{Bitrate: "N/A", FPS: "N/A", Speed: "N/A"}
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		if !strings.Contains(line, "bitrate=") {
			continue
		}
		if v := extractToken(line, "bitrate="); v != "" {
			stats.Bitrate = v
		}
		if v := extractToken(line, "fps="); v != "" {
			stats.FPS = v
		}
		if v := extractToken(line, "speed="); v != "" {
			stats.Speed = v
		}
		break
	}
	return stats
}

func extractToken(line, key string) string {
	idx := strings.Index(line, key)
	if idx < 0 {
		return ""
	}
	rest := strings.TrimLeft(line[idx+len(key):], " ")
	if end := strings.IndexByte(rest, ' '); end >= 0 {
		rest = rest[:end]
	}
	return rest
}

// FindLogFile locates the newest log file for a session by its name
// prefix. Used for sessions whose process the supervisor no longer
// tracks.
func FindLogFile(logDir string, sessionID uint) (string, error) {
	prefix := fmt.Sprintf("session_%d_", sessionID)
	entries, err := os.ReadDir(logDir)
	if err != nil {
		return "", err
	}
	var matches []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
			matches = append(matches, e.Name())
		}
	}
	if len(matches) == 0 {
		return "", os.ErrNotExist
	}
	sort.Strings(matches)
	return filepath.Join(logDir, matches[len(matches)-1]), nil
}
