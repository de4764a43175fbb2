// Package worker_test tests the task execution pool.
package worker_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-task-service/internal/core"
	"github.com/book-expert/tts-task-service/internal/task"
	"github.com/book-expert/tts-task-service/internal/worker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

var errSynthRefused = errors.New("synthesizer refused the text")

// recordingSynthesizer records every invocation in order. Texts containing
// "FAIL" produce an error.
type recordingSynthesizer struct {
	mu        sync.Mutex
	calls     []core.SynthesisRequest
	active    int
	maxActive int
	reentrant bool
}

func (s *recordingSynthesizer) Reentrant() bool {
	return s.reentrant
}

func (s *recordingSynthesizer) Synthesize(_ context.Context, req core.SynthesisRequest) ([]byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.active++

	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	s.mu.Unlock()

	// Give overlapping invocations a chance to be observed.
	time.Sleep(2 * time.Millisecond)

	s.mu.Lock()
	s.active--
	s.mu.Unlock()

	if strings.Contains(req.Text, "FAIL") {
		return nil, errSynthRefused
	}

	return []byte("RIFF....WAVE"), nil
}

func (s *recordingSynthesizer) texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	texts := make([]string, len(s.calls))
	for i, call := range s.calls {
		texts[i] = call.Text
	}

	return texts
}

// recordingSink captures published artifacts.
type recordingSink struct {
	mu        sync.Mutex
	artifacts []core.Artifact
	fail      bool
}

func (s *recordingSink) Publish(_ context.Context, artifact core.Artifact) error {
	if s.fail {
		return errors.New("sink unavailable")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.artifacts = append(s.artifacts, artifact)

	return nil
}

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	return log
}

type poolFixture struct {
	store *task.Store
	synth *recordingSynthesizer
	sink  *recordingSink
	pool  *worker.Pool
}

func startPool(t *testing.T, workers int) *poolFixture {
	t.Helper()

	return startPoolWith(t, workers, false)
}

func startPoolWith(t *testing.T, workers int, reentrant bool) *poolFixture {
	t.Helper()

	fixture := &poolFixture{
		store: task.NewStore(),
		synth: &recordingSynthesizer{reentrant: reentrant},
		sink:  &recordingSink{},
		pool:  nil,
	}

	fixture.pool = worker.New(fixture.store, fixture.synth, fixture.sink, newTestLogger(t), worker.Options{
		Workers:       workers,
		QueueSize:     64,
		InvokeTimeout: time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		fixture.pool.Run(ctx)
		close(done)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	return fixture
}

func submitSingle(t *testing.T, fixture *poolFixture, text, outputPath string) string {
	t.Helper()

	id := fixture.store.AllocateID("task")
	err := fixture.store.Put(task.Task{
		ID:         id,
		Kind:       task.KindSingle,
		Status:     task.StatusPending,
		Text:       text,
		PromptPath: "/prompts/voice.wav",
		Mode:       core.InferModeNormal,
		OutputPath: outputPath,
		CreatedAt:  time.Now(),
	})
	require.NoError(t, err)

	fixture.pool.Enqueue(id)

	return id
}

func submitBatch(t *testing.T, fixture *poolFixture, outputDir string, items []task.Item) string {
	t.Helper()

	id := fixture.store.AllocateID("batch")
	err := fixture.store.Put(task.Task{
		ID:              id,
		Kind:            task.KindBatch,
		Status:          task.StatusPending,
		PromptPath:      "/prompts/voice.wav",
		Mode:            core.InferModeNormal,
		OutputDirectory: outputDir,
		Items:           items,
		TotalFiles:      len(items),
		CreatedAt:       time.Now(),
	})
	require.NoError(t, err)

	fixture.pool.Enqueue(id)

	return id
}

func waitTerminal(t *testing.T, store *task.Store, id string) task.Task {
	t.Helper()

	require.Eventually(t, func() bool {
		record, err := store.Get(id)

		return err == nil && record.Status.Terminal()
	}, waitFor, tick)

	record, err := store.Get(id)
	require.NoError(t, err)

	return record
}

func TestPool_SingleTask_Completes(t *testing.T) {
	t.Parallel()

	fixture := startPool(t, 1)
	outputPath := filepath.Join(t.TempDir(), "out", "speech.wav")

	id := submitSingle(t, fixture, "hello world", outputPath)
	record := waitTerminal(t, fixture.store, id)

	assert.Equal(t, task.StatusCompleted, record.Status)
	assert.Empty(t, record.Error)
	assert.False(t, record.StartedAt.IsZero())
	assert.False(t, record.FinishedAt.IsZero())

	_, known := record.ProcessTime()
	assert.True(t, known)

	audio, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("RIFF....WAVE"), audio)
}

func TestPool_SingleTask_FailureRecorded(t *testing.T) {
	t.Parallel()

	fixture := startPool(t, 1)
	outputPath := filepath.Join(t.TempDir(), "speech.wav")

	id := submitSingle(t, fixture, "FAIL this one", outputPath)
	record := waitTerminal(t, fixture.store, id)

	assert.Equal(t, task.StatusFailed, record.Status)
	assert.Contains(t, record.Error, "synthesizer refused")
	assert.False(t, record.FinishedAt.IsZero())

	_, statErr := os.Stat(outputPath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestPool_BatchTask_StrictSubmissionOrder(t *testing.T) {
	t.Parallel()

	fixture := startPool(t, 1)
	outputDir := t.TempDir()

	id := submitBatch(t, fixture, outputDir, []task.Item{
		{Filename: "a.wav", Text: "first"},
		{Filename: "b.wav", Text: "second"},
		{Filename: "c.wav", Text: "third"},
		{Filename: "d.wav", Text: "fourth"},
	})

	record := waitTerminal(t, fixture.store, id)
	assert.Equal(t, task.StatusCompleted, record.Status)

	assert.Equal(t, []string{"first", "second", "third", "fourth"}, fixture.synth.texts())
}

func TestPool_BatchTask_ItemFailureIsIsolated(t *testing.T) {
	t.Parallel()

	fixture := startPool(t, 1)
	outputDir := t.TempDir()

	id := submitBatch(t, fixture, outputDir, []task.Item{
		{Filename: "a.wav", Text: "ok text"},
		{Filename: "b.wav", Text: "FAIL this"},
		{Filename: "c.wav", Text: "ok text"},
	})

	record := waitTerminal(t, fixture.store, id)

	// Partial failure still completes the batch at the task level.
	assert.Equal(t, task.StatusCompleted, record.Status)
	assert.Equal(t, 3, record.ProcessedFiles)
	require.Len(t, record.ItemErrors, 1)
	assert.Contains(t, record.ItemErrors["b.wav"], "synthesizer refused")

	_, err := os.Stat(filepath.Join(outputDir, "a.wav"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(outputDir, "c.wav"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(outputDir, "b.wav"))
	assert.True(t, os.IsNotExist(err))
}

func TestPool_BatchTask_ProcessedFilesMonotone(t *testing.T) {
	t.Parallel()

	fixture := startPool(t, 1)

	items := make([]task.Item, 20)
	for i := range items {
		items[i] = task.Item{Filename: fmt.Sprintf("f%02d.wav", i), Text: "x"}
	}

	id := submitBatch(t, fixture, t.TempDir(), items)

	previous := 0
	deadline := time.Now().Add(waitFor)

	for time.Now().Before(deadline) {
		record, err := fixture.store.Get(id)
		require.NoError(t, err)

		require.GreaterOrEqual(t, record.ProcessedFiles, previous)
		require.LessOrEqual(t, record.ProcessedFiles, record.TotalFiles)

		previous = record.ProcessedFiles

		if record.Status.Terminal() {
			require.Equal(t, record.TotalFiles, record.ProcessedFiles)

			return
		}

		time.Sleep(tick)
	}

	t.Fatal("batch task never reached a terminal state")
}

func TestPool_NonReentrantSynthesizerNeverOverlaps(t *testing.T) {
	t.Parallel()

	fixture := startPool(t, 4)

	outputDir := t.TempDir()
	ids := make([]string, 0, 8)

	for i := range 8 {
		path := filepath.Join(outputDir, "task"+string(rune('a'+i))+".wav")
		ids = append(ids, submitSingle(t, fixture, "hello", path))
	}

	for _, id := range ids {
		waitTerminal(t, fixture.store, id)
	}

	fixture.synth.mu.Lock()
	maxActive := fixture.synth.maxActive
	fixture.synth.mu.Unlock()

	assert.Equal(t, 1, maxActive, "non-reentrant synthesizer was invoked concurrently")
}

func TestPool_ReentrantSynthesizerRunsTasksConcurrently(t *testing.T) {
	t.Parallel()

	fixture := startPoolWith(t, 4, true)

	outputDir := t.TempDir()

	for i := range 8 {
		path := filepath.Join(outputDir, "task"+string(rune('a'+i))+".wav")
		submitSingle(t, fixture, "hello", path)
	}

	require.Eventually(t, func() bool {
		fixture.synth.mu.Lock()
		defer fixture.synth.mu.Unlock()

		return len(fixture.synth.calls) == 8
	}, waitFor, tick)
}

func TestPool_PublishesArtifacts(t *testing.T) {
	t.Parallel()

	fixture := startPool(t, 1)
	outputDir := t.TempDir()

	id := submitBatch(t, fixture, outputDir, []task.Item{
		{Filename: "a.wav", Text: "one"},
		{Filename: "b.wav", Text: "two"},
	})
	waitTerminal(t, fixture.store, id)

	fixture.sink.mu.Lock()
	defer fixture.sink.mu.Unlock()

	require.Len(t, fixture.sink.artifacts, 2)
	assert.Equal(t, "a.wav", fixture.sink.artifacts[0].Filename)
	assert.Equal(t, 0, fixture.sink.artifacts[0].ItemIndex)
	assert.Equal(t, 2, fixture.sink.artifacts[0].ItemTotal)
	assert.Equal(t, "b.wav", fixture.sink.artifacts[1].Filename)
	assert.Equal(t, id, fixture.sink.artifacts[1].TaskID)
}

func TestPool_SinkFailureDoesNotFailTask(t *testing.T) {
	t.Parallel()

	fixture := startPool(t, 1)
	fixture.sink.fail = true

	outputPath := filepath.Join(t.TempDir(), "speech.wav")
	id := submitSingle(t, fixture, "hello", outputPath)

	record := waitTerminal(t, fixture.store, id)
	assert.Equal(t, task.StatusCompleted, record.Status)
}
