// Package task holds the task data model and the in-memory task store.
package task

import (
	"time"

	"github.com/book-expert/tts-task-service/internal/core"
)

// Status is the lifecycle state of a task. Transitions only move forward:
// pending -> processing -> completed | failed.
type Status string

const (
	// StatusPending marks a task that has been accepted but not picked up.
	StatusPending Status = "pending"
	// StatusProcessing marks a task owned by a worker.
	StatusProcessing Status = "processing"
	// StatusCompleted marks a terminal successful task. A batch with partial
	// item failures still completes; failures live in ItemErrors.
	StatusCompleted Status = "completed"
	// StatusFailed marks a terminal failed task.
	StatusFailed Status = "failed"
)

// rank orders statuses along the legal lifecycle path.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Kind distinguishes single-file tasks from batch tasks.
type Kind string

const (
	// KindSingle is a one-text, one-file task.
	KindSingle Kind = "single"
	// KindBatch is an ordered sequence of named text items sharing one prompt.
	KindBatch Kind = "batch"
)

// Item is one named text entry of a batch task. Order is the caller-submitted
// order and is also the execution order.
type Item struct {
	Filename string
	Text     string
}

// Task is the unit of client-visible work tracked by the store.
type Task struct {
	ID         string
	Kind       Kind
	Status     Status
	Text       string
	PromptPath string
	Mode       core.InferMode

	// OutputPath is set for single tasks, OutputDirectory for batch tasks.
	OutputPath      string
	OutputDirectory string

	// Batch fields.
	Items          []Item
	TotalFiles     int
	ProcessedFiles int
	ItemErrors     map[string]string

	// Error is set only when a single task fails.
	Error string

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// ProcessTime returns the elapsed synthesis time in seconds once the task has
// both started and finished.
func (t *Task) ProcessTime() (float64, bool) {
	if t.StartedAt.IsZero() || t.FinishedAt.IsZero() {
		return 0, false
	}

	return t.FinishedAt.Sub(t.StartedAt).Seconds(), true
}

// Clone returns a deep copy so callers can never observe a half-written
// record or mutate the stored one.
func (t *Task) Clone() Task {
	clone := *t

	if t.Items != nil {
		clone.Items = make([]Item, len(t.Items))
		copy(clone.Items, t.Items)
	}

	if t.ItemErrors != nil {
		clone.ItemErrors = make(map[string]string, len(t.ItemErrors))
		for filename, reason := range t.ItemErrors {
			clone.ItemErrors[filename] = reason
		}
	}

	return clone
}
