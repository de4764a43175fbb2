// Package prompt maintains the registry of reference-audio prompts.
//
// Prompts condition the speech engine's output voice. The registry enumerates
// the audio files of a configured directory, validates caller-supplied prompt
// names, and rotates through the available prompts when the caller leaves the
// choice to the service.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-task-service/internal/audiopath"
)

const (
	indexFileName        = "prompt_last_index.txt"
	indexFilePermissions = 0o600
)

var (
	// ErrPromptNotFound indicates a named prompt does not exist in the registry.
	ErrPromptNotFound = errors.New("prompt not found")
	// ErrNoPrompts indicates the prompt directory holds no audio files.
	ErrNoPrompts = errors.New("no prompt audio files available")
)

// Registry lists and resolves reference-audio prompts from a directory.
// The directory is re-scanned on every call, so dropping a new file in makes
// it visible without a restart.
type Registry struct {
	dir       string
	indexPath string
	log       *logger.Logger

	// rotateMu serializes sequential selection, which reads and rewrites the
	// persisted rotation index.
	rotateMu sync.Mutex
}

// New creates a registry over the given prompts directory, creating the
// directory if needed. The rotation index file lives next to the prompts.
func New(dir string, log *logger.Logger) (*Registry, error) {
	err := audiopath.EnsureDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare prompts directory: %w", err)
	}

	return &Registry{
		dir:       dir,
		indexPath: filepath.Join(dir, indexFileName),
		log:       log,
	}, nil
}

// List returns the sorted names of all prompt audio files.
func (r *Registry) List() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts directory %s: %w", r.dir, err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !audiopath.IsAudioFile(entry.Name()) {
			continue
		}

		names = append(names, entry.Name())
	}

	sort.Strings(names)

	return names, nil
}

// Resolve validates a prompt name against the registry and returns its
// absolute path. The name must be a bare filename, not a path.
func (r *Registry) Resolve(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || !audiopath.IsAudioFile(name) {
		return "", fmt.Errorf("%w: %q", ErrPromptNotFound, name)
	}

	path := filepath.Join(r.dir, name)

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", fmt.Errorf("%w: %q", ErrPromptNotFound, name)
	}

	return path, nil
}

// Next selects the next prompt in rotation and returns its path. The last
// used index is persisted to a file so consecutive auto-selected submissions
// cycle through every available voice, surviving restarts.
func (r *Registry) Next() (string, error) {
	r.rotateMu.Lock()
	defer r.rotateMu.Unlock()

	names, err := r.List()
	if err != nil {
		return "", err
	}

	if len(names) == 0 {
		return "", ErrNoPrompts
	}

	next := (r.readLastIndex() + 1) % len(names)

	writeErr := os.WriteFile(r.indexPath, []byte(strconv.Itoa(next)), indexFilePermissions)
	if writeErr != nil {
		// A stale index only repeats a voice; selection still works.
		r.log.Warn("Failed to persist prompt rotation index: %v", writeErr)
	}

	selected := names[next]
	r.log.Info("Sequentially selected prompt %s at index %d", selected, next)

	return filepath.Join(r.dir, selected), nil
}

// readLastIndex loads the persisted rotation index, returning -1 when the
// file is missing or unreadable so rotation restarts from the beginning.
func (r *Registry) readLastIndex() int {
	data, err := os.ReadFile(r.indexPath)
	if err != nil {
		return -1
	}

	last, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		r.log.Warn("Prompt index file %s is malformed, resetting rotation", r.indexPath)

		return -1
	}

	return last
}
