// Package notify mirrors generated audio artifacts into a NATS JetStream
// object store and announces each one on a subject, so downstream consumers
// (archival, post-processing) can react without polling the task API.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/book-expert/tts-task-service/internal/core"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Publisher implements core.ArtifactSink on top of NATS JetStream.
type Publisher struct {
	natsConnection *nats.Conn
	store          nats.ObjectStore
	bucket         string
	subject        string
	log            *logger.Logger
}

// New creates a publisher bound to the given bucket and subject, creating the
// bucket when it does not exist yet.
func New(natsConnection *nats.Conn, bucket, subject string, log *logger.Logger) (*Publisher, error) {
	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucket,
		Description: fmt.Sprintf("Generated audio for the %s bucket.", bucket),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucket, err)
		}

		store, err = jetstreamContext.ObjectStore(bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucket, err)
		}
	}

	return &Publisher{
		natsConnection: natsConnection,
		store:          store,
		bucket:         bucket,
		subject:        subject,
		log:            log,
	}, nil
}

// Publish uploads the artifact under a fresh key and announces it.
func (p *Publisher) Publish(_ context.Context, artifact core.Artifact) error {
	audioKey := uuid.NewString() + ".wav"

	_, err := p.store.Put(&nats.ObjectMeta{
		Name:        audioKey,
		Description: fmt.Sprintf("Task %s file %s", artifact.TaskID, artifact.Filename),
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(artifact.Data))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", audioKey, p.bucket, err)
	}

	event := events.AudioChunkCreatedEvent{
		Header: events.EventHeader{
			Timestamp:  time.Now(),
			WorkflowID: artifact.TaskID,
			EventID:    uuid.NewString(),
			UserID:     "",
			TenantID:   "",
		},
		AudioKey:   audioKey,
		PageNumber: artifact.ItemIndex,
		TotalPages: artifact.ItemTotal,
	}

	eventData, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal artifact event: %w", err)
	}

	err = p.natsConnection.Publish(p.subject, eventData)
	if err != nil {
		return fmt.Errorf("failed to publish artifact event: %w", err)
	}

	p.log.Info("Published artifact %s for task %s as %s", artifact.Filename, artifact.TaskID, audioKey)

	return nil
}
