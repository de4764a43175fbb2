// Package worker provides the pool that drives pending tasks to a terminal state.
package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-task-service/internal/audiopath"
	"github.com/book-expert/tts-task-service/internal/core"
	"github.com/book-expert/tts-task-service/internal/task"
)

const (
	defaultWorkers        = 1
	defaultQueueSize      = 256
	defaultInvokeTimeout  = 5 * time.Minute
	artifactPublishWindow = 30 * time.Second
	filePermissions       = 0o600
)

// Options configures a Pool.
type Options struct {
	// Workers is the number of concurrent task executors. Distinct tasks may
	// run concurrently; items of one batch never do.
	Workers int
	// QueueSize bounds the pending-task queue.
	QueueSize int
	// InvokeTimeout caps a single synthesis invocation. Exceeding it is an
	// ordinary synthesis failure, not a process fault.
	InvokeTimeout time.Duration
}

func (o Options) normalized() Options {
	if o.Workers <= 0 {
		o.Workers = defaultWorkers
	}

	if o.QueueSize <= 0 {
		o.QueueSize = defaultQueueSize
	}

	if o.InvokeTimeout <= 0 {
		o.InvokeTimeout = defaultInvokeTimeout
	}

	return o
}

// Pool consumes queued task ids and executes them against the synthesizer,
// writing every outcome back into the store. Submission is fire-and-forget;
// nothing here is ever surfaced synchronously to the submitting caller.
type Pool struct {
	store       *task.Store
	synthesizer core.Synthesizer
	sink        core.ArtifactSink
	log         *logger.Logger
	opts        Options
	queue       chan string

	// synthMu serializes all synthesis calls when the engine is not
	// reentrant: never invoke it concurrently with itself unless it is
	// declared safe.
	synthMu sync.Mutex
}

// New creates a pool. sink may be nil when artifact publishing is disabled.
func New(
	store *task.Store,
	synthesizer core.Synthesizer,
	sink core.ArtifactSink,
	log *logger.Logger,
	opts Options,
) *Pool {
	opts = opts.normalized()

	return &Pool{
		store:       store,
		synthesizer: synthesizer,
		sink:        sink,
		log:         log,
		opts:        opts,
		queue:       make(chan string, opts.QueueSize),
	}
}

// Enqueue hands a pending task to the pool. It blocks only when the queue is
// full.
func (p *Pool) Enqueue(id string) {
	p.queue <- id
}

// Run starts the workers and blocks until ctx is cancelled and every worker
// has finished its current task. A task that has been picked up always runs
// to a terminal state; cancellation only stops new pick-ups.
func (p *Pool) Run(ctx context.Context) {
	var waitGroup sync.WaitGroup

	for workerID := range p.opts.Workers {
		waitGroup.Add(1)

		go func(id int) {
			defer waitGroup.Done()
			p.workerLoop(ctx, id)
		}(workerID)
	}

	waitGroup.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, workerID int) {
	for {
		select {
		case <-ctx.Done():
			return
		case taskID := <-p.queue:
			p.log.Info("Worker %d picked up task %s", workerID, taskID)
			p.process(taskID)
		}
	}
}

// process drives one task to a terminal state. Every failure inside the
// executor is recovered locally: recorded into the task record, never
// propagated.
func (p *Pool) process(taskID string) {
	defer func() {
		if panicked := recover(); panicked != nil {
			p.log.Error("Task %s panicked: %v", taskID, panicked)
			p.markFailed(taskID, fmt.Sprintf("internal error: %v", panicked))
		}
	}()

	record, err := p.store.Get(taskID)
	if err != nil {
		p.log.Error("Queued task %s is not in the store: %v", taskID, err)

		return
	}

	switch record.Kind {
	case task.KindBatch:
		p.runBatch(record)
	case task.KindSingle:
		p.runSingle(record)
	default:
		p.markFailed(taskID, fmt.Sprintf("unknown task kind %q", record.Kind))
	}
}

func (p *Pool) runSingle(record task.Task) {
	p.markStarted(record.ID)

	audio, err := p.invoke(core.SynthesisRequest{
		Text:       record.Text,
		PromptPath: record.PromptPath,
		Mode:       record.Mode,
	})
	if err == nil {
		err = p.writeArtifact(record.OutputPath, audio)
	}

	if err != nil {
		p.log.Error("Task %s failed: %v", record.ID, err)
		p.markFailed(record.ID, err.Error())

		return
	}

	p.publishArtifact(core.Artifact{
		TaskID:    record.ID,
		Filename:  filepath.Base(record.OutputPath),
		Data:      audio,
		ItemIndex: 0,
		ItemTotal: 1,
	})

	p.markCompleted(record.ID)
	p.log.Info("Task %s completed: %s", record.ID, record.OutputPath)
}

// runBatch executes items strictly in submission order, one at a time. The
// ordering is a correctness requirement: the engine may cache the reference
// embedding, and reordered or parallel execution risks audible timbre drift
// between files meant to sound like one speaker. A failed item is recorded
// and the loop continues; the batch itself always terminates Completed.
func (p *Pool) runBatch(record task.Task) {
	p.markStarted(record.ID)

	total := len(record.Items)

	for index, item := range record.Items {
		itemErr := p.runBatchItem(record, index, total, item)

		updateErr := p.store.Update(record.ID, func(rec *task.Task) {
			if itemErr != nil {
				if rec.ItemErrors == nil {
					rec.ItemErrors = make(map[string]string)
				}

				rec.ItemErrors[item.Filename] = itemErr.Error()
			}

			rec.ProcessedFiles++
		})
		if updateErr != nil {
			p.log.Error("Failed to record item result for task %s: %v", record.ID, updateErr)
		}

		if itemErr != nil {
			p.log.Error("Task %s item %s failed: %v", record.ID, item.Filename, itemErr)
		}
	}

	p.markCompleted(record.ID)
	p.log.Info("Task %s completed: %d files in %s", record.ID, total, record.OutputDirectory)
}

func (p *Pool) runBatchItem(record task.Task, index, total int, item task.Item) error {
	audio, err := p.invoke(core.SynthesisRequest{
		Text:       item.Text,
		PromptPath: record.PromptPath,
		Mode:       record.Mode,
	})
	if err != nil {
		return err
	}

	filename := audiopath.SanitizeFilename(item.Filename)
	outputPath := filepath.Join(record.OutputDirectory, filename)

	err = p.writeArtifact(outputPath, audio)
	if err != nil {
		return err
	}

	p.publishArtifact(core.Artifact{
		TaskID:    record.ID,
		Filename:  filename,
		Data:      audio,
		ItemIndex: index,
		ItemTotal: total,
	})

	return nil
}

// invoke runs one synthesis call under the configured ceiling, serializing
// against all other calls when the engine is not reentrant.
func (p *Pool) invoke(req core.SynthesisRequest) ([]byte, error) {
	if !p.synthesizer.Reentrant() {
		p.synthMu.Lock()
		defer p.synthMu.Unlock()
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.opts.InvokeTimeout)
	defer cancel()

	audio, err := p.synthesizer.Synthesize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}

	return audio, nil
}

func (p *Pool) writeArtifact(path string, audio []byte) error {
	err := audiopath.EnsureDir(filepath.Dir(path))
	if err != nil {
		return err
	}

	err = os.WriteFile(path, audio, filePermissions)
	if err != nil {
		return fmt.Errorf("failed to write audio file %s: %w", path, err)
	}

	return nil
}

// publishArtifact mirrors the artifact to the configured sink. Publishing is
// best-effort; a sink fault never fails the item.
func (p *Pool) publishArtifact(artifact core.Artifact) {
	if p.sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), artifactPublishWindow)
	defer cancel()

	err := p.sink.Publish(ctx, artifact)
	if err != nil {
		p.log.Warn("Failed to publish artifact %s for task %s: %v", artifact.Filename, artifact.TaskID, err)
	}
}

func (p *Pool) markStarted(taskID string) {
	err := p.store.Update(taskID, func(rec *task.Task) {
		rec.Status = task.StatusProcessing
		rec.StartedAt = time.Now()
	})
	if err != nil {
		p.log.Error("Failed to mark task %s started: %v", taskID, err)
	}
}

func (p *Pool) markCompleted(taskID string) {
	err := p.store.Update(taskID, func(rec *task.Task) {
		rec.Status = task.StatusCompleted
		rec.FinishedAt = time.Now()
	})
	if err != nil {
		p.log.Error("Failed to mark task %s completed: %v", taskID, err)
	}
}

func (p *Pool) markFailed(taskID, reason string) {
	err := p.store.Update(taskID, func(rec *task.Task) {
		rec.Status = task.StatusFailed
		rec.Error = reason
		rec.FinishedAt = time.Now()
	})
	if err != nil {
		p.log.Error("Failed to mark task %s failed: %v", taskID, err)
	}
}
