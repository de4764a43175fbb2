// Package audiopath provides file and path helpers for audio artifacts.
package audiopath

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultDirPermissions  = 0o750
	invalidCharReplacement = "_"
)

// Audio file extensions accepted as prompts and output filenames.
const (
	extWAV = ".wav"
	extMP3 = ".mp3"
)

// EnsureDir ensures a directory exists at the given path, creating it if it
// doesn't.
func EnsureDir(path string) error {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		mkdirErr := os.MkdirAll(path, defaultDirPermissions)
		if mkdirErr != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, mkdirErr)
		}
	}

	return nil
}

// IsAudioFile reports whether a filename carries a supported audio extension.
// The check is case-insensitive.
func IsAudioFile(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case extWAV, extMP3:
		return true
	default:
		return false
	}
}

// SanitizeFilename replaces characters that are invalid in most filesystems.
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"<", invalidCharReplacement,
		">", invalidCharReplacement,
		":", invalidCharReplacement,
		"\"", invalidCharReplacement,
		"/", invalidCharReplacement,
		"\\", invalidCharReplacement,
		"|", invalidCharReplacement,
		"?", invalidCharReplacement,
		"*", invalidCharReplacement,
	)

	return replacer.Replace(filename)
}
