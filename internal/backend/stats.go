package backend

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// StatsReporter is implemented by backends whose engine writes statistics at the end of a session.
type StatsReporter interface {
	Stats(target string) (map[string]string, error)
}

// Stats reads the fuzzer_stats file AFL leaves in the session directory.
func (a *AFL) Stats(string) (map[string]string, error) {
	session := a.SessionDir()
	for _, path := range []string{
		filepath.Join(session, "default", "fuzzer_stats"),
		filepath.Join(session, "fuzzer_stats"),
	} {
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return parseFuzzerStats(f)
	}
	return nil, fmt.Errorf("no fuzzer_stats in %s", session)
}

// parseFuzzerStats reads "key : value" lines, skipping anything else.
func parseFuzzerStats(r io.Reader) (map[string]string, error) {
	stats := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		if key = strings.TrimSpace(key); key != "" {
			stats[key] = strings.TrimSpace(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanner error: %w", err)
	}
	return stats, nil
}
