// Package manager provides the task manager facade consumed by the transport layer.
//
// The facade validates submissions synchronously, allocates ids, records
// pending tasks and hands them to the executor. It never blocks on synthesis:
// submission is fire-and-forget and status reads are plain store lookups.
package manager

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-task-service/internal/audiopath"
	"github.com/book-expert/tts-task-service/internal/core"
	"github.com/book-expert/tts-task-service/internal/prompt"
	"github.com/book-expert/tts-task-service/internal/task"
)

const (
	singleIDPrefix = "task"
	batchIDPrefix  = "batch"

	outputFilenameLayout = "20060102_150405"
	outputFileExtension  = ".wav"
)

var (
	// ErrEmptyText indicates a single submission without text.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrEmptyOutputPath indicates a single submission without an output directory.
	ErrEmptyOutputPath = errors.New("output path cannot be empty")
	// ErrEmptyOutputDirectory indicates a batch submission without an output directory.
	ErrEmptyOutputDirectory = errors.New("output directory cannot be empty")
	// ErrEmptyBatch indicates a batch submission with no items.
	ErrEmptyBatch = errors.New("batch must contain at least one speech")
	// ErrInvalidFilename indicates a batch filename without a supported audio extension.
	ErrInvalidFilename = errors.New("filename must end with .wav or .mp3")
	// ErrDuplicateFilename indicates the same filename twice in one batch.
	ErrDuplicateFilename = errors.New("duplicate filename in batch")
	// ErrEmptyItemText indicates a batch item with empty text.
	ErrEmptyItemText = errors.New("speech text cannot be empty")
)

// Enqueuer hands accepted tasks to the background executor.
type Enqueuer interface {
	Enqueue(id string)
}

// SingleRequest holds the validated-to-be inputs of a single submission.
type SingleRequest struct {
	Text string
	// OutputPath is the directory the generated file is placed in; the
	// filename itself is derived from the submission time.
	OutputPath string
	PromptName string
	InferMode  string
}

// BatchRequest holds the inputs of a batch submission. Items keep the
// caller-given order, which is also the execution order.
type BatchRequest struct {
	OutputDirectory string
	Items           []task.Item
	PromptName      string
	InferMode       string
}

// Manager composes the store, the prompt registry and the executor queue.
type Manager struct {
	store    *task.Store
	registry *prompt.Registry
	queue    Enqueuer
	log      *logger.Logger
	now      func() time.Time
}

// New creates a manager. Each manager owns its store instance, so independent
// managers (for example in tests) never interfere.
func New(store *task.Store, registry *prompt.Registry, queue Enqueuer, log *logger.Logger) *Manager {
	return &Manager{
		store:    store,
		registry: registry,
		queue:    queue,
		log:      log,
		now:      time.Now,
	}
}

// SubmitSingle validates the request, records a pending task and enqueues it.
// The returned id is available for polling immediately.
func (m *Manager) SubmitSingle(req SingleRequest) (string, error) {
	if strings.TrimSpace(req.Text) == "" {
		return "", ErrEmptyText
	}

	if req.OutputPath == "" {
		return "", ErrEmptyOutputPath
	}

	mode, err := core.ParseInferMode(req.InferMode)
	if err != nil {
		return "", err
	}

	promptPath, err := m.resolvePromptWithFallback(req.PromptName)
	if err != nil {
		return "", err
	}

	submittedAt := m.now()
	taskID := m.store.AllocateID(singleIDPrefix)
	outputPath := filepath.Join(
		req.OutputPath,
		submittedAt.Format(outputFilenameLayout)+outputFileExtension,
	)

	err = m.store.Put(task.Task{
		ID:         taskID,
		Kind:       task.KindSingle,
		Status:     task.StatusPending,
		Text:       req.Text,
		PromptPath: promptPath,
		Mode:       mode,
		OutputPath: outputPath,
		CreatedAt:  submittedAt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to store task: %w", err)
	}

	m.queue.Enqueue(taskID)
	m.log.Info("Created task %s (prompt %s)", taskID, filepath.Base(promptPath))

	return taskID, nil
}

// SubmitBatch validates every item, pins one prompt for the whole batch and
// enqueues it. Returns the task id and the fixed total file count.
//
// Unlike single submissions, an unknown named prompt fails the whole batch
// up front: silently switching voices mid-product is worse than rejecting.
func (m *Manager) SubmitBatch(req BatchRequest) (string, int, error) {
	if req.OutputDirectory == "" {
		return "", 0, ErrEmptyOutputDirectory
	}

	if len(req.Items) == 0 {
		return "", 0, ErrEmptyBatch
	}

	mode, err := core.ParseInferMode(req.InferMode)
	if err != nil {
		return "", 0, err
	}

	err = validateItems(req.Items)
	if err != nil {
		return "", 0, err
	}

	promptPath, err := m.resolvePromptStrict(req.PromptName)
	if err != nil {
		return "", 0, err
	}

	taskID := m.store.AllocateID(batchIDPrefix)

	err = m.store.Put(task.Task{
		ID:              taskID,
		Kind:            task.KindBatch,
		Status:          task.StatusPending,
		PromptPath:      promptPath,
		Mode:            mode,
		OutputDirectory: req.OutputDirectory,
		Items:           req.Items,
		TotalFiles:      len(req.Items),
		ItemErrors:      map[string]string{},
		CreatedAt:       m.now(),
	})
	if err != nil {
		return "", 0, fmt.Errorf("failed to store batch task: %w", err)
	}

	m.queue.Enqueue(taskID)
	m.log.Info("Created batch task %s with %d files (prompt %s)",
		taskID, len(req.Items), filepath.Base(promptPath))

	return taskID, len(req.Items), nil
}

// GetStatus returns a read-only snapshot of the task.
func (m *Manager) GetStatus(taskID string) (task.Task, error) {
	record, err := m.store.Get(taskID)
	if err != nil {
		return task.Task{}, err
	}

	return record, nil
}

// ListPrompts returns the sorted names of all available reference-audio prompts.
func (m *Manager) ListPrompts() ([]string, error) {
	names, err := m.registry.List()
	if err != nil {
		return nil, fmt.Errorf("failed to list prompts: %w", err)
	}

	return names, nil
}

// resolvePromptWithFallback resolves a named prompt, falling back to sequential
// rotation when the name is unknown or absent.
func (m *Manager) resolvePromptWithFallback(name string) (string, error) {
	if name != "" {
		path, err := m.registry.Resolve(name)
		if err == nil {
			return path, nil
		}

		if !errors.Is(err, prompt.ErrPromptNotFound) {
			return "", err
		}

		m.log.Warn("Prompt %q not found, selecting one sequentially instead", name)
	}

	path, err := m.registry.Next()
	if err != nil {
		return "", err
	}

	return path, nil
}

// resolvePromptStrict resolves the prompt pinned for a whole batch: a named
// prompt must exist, and only an absent name falls back to rotation.
func (m *Manager) resolvePromptStrict(name string) (string, error) {
	if name != "" {
		path, err := m.registry.Resolve(name)
		if err != nil {
			return "", err
		}

		return path, nil
	}

	path, err := m.registry.Next()
	if err != nil {
		return "", err
	}

	return path, nil
}

func validateItems(items []task.Item) error {
	seen := make(map[string]struct{}, len(items))

	for _, item := range items {
		if !audiopath.IsAudioFile(item.Filename) || item.Filename != filepath.Base(item.Filename) {
			return fmt.Errorf("%w: %q", ErrInvalidFilename, item.Filename)
		}

		if _, duplicate := seen[item.Filename]; duplicate {
			return fmt.Errorf("%w: %q", ErrDuplicateFilename, item.Filename)
		}

		seen[item.Filename] = struct{}{}

		if strings.TrimSpace(item.Text) == "" {
			return fmt.Errorf("%w: %q", ErrEmptyItemText, item.Filename)
		}
	}

	return nil
}

// IsValidationError reports whether err belongs to the submission-time
// validation class, as opposed to not-found or internal faults.
func IsValidationError(err error) bool {
	validationErrors := []error{
		ErrEmptyText,
		ErrEmptyOutputPath,
		ErrEmptyOutputDirectory,
		ErrEmptyBatch,
		ErrInvalidFilename,
		ErrDuplicateFilename,
		ErrEmptyItemText,
		core.ErrInvalidInferMode,
		prompt.ErrPromptNotFound,
		prompt.ErrNoPrompts,
	}

	for _, validationErr := range validationErrors {
		if errors.Is(err, validationErr) {
			return true
		}
	}

	return false
}
