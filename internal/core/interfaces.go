// Package core defines the core business logic and interfaces for the TTS task service.
package core

import (
	"context"
	"errors"
	"fmt"
)

// InferMode selects how the speech engine synthesizes a request.
type InferMode string

const (
	// InferModeNormal is the default single-pass inference mode.
	InferModeNormal InferMode = "normal"
	// InferModeBatch is the engine's faster batched inference mode.
	InferModeBatch InferMode = "batch"
)

// ErrInvalidInferMode indicates an unrecognized inference mode value.
var ErrInvalidInferMode = errors.New("invalid inference mode")

// ParseInferMode parses a caller-supplied mode string. An empty string
// selects InferModeNormal.
func ParseInferMode(raw string) (InferMode, error) {
	switch InferMode(raw) {
	case InferMode(""), InferModeNormal:
		return InferModeNormal, nil
	case InferModeBatch:
		return InferModeBatch, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidInferMode, raw)
	}
}

// SynthesisRequest holds the inputs for a single speech generation call.
type SynthesisRequest struct {
	Text       string
	PromptPath string
	Mode       InferMode
}

// Synthesizer defines the interface for a text-to-speech engine. Synthesize
// returns raw WAV data for the given request.
//
// Engines may carry hidden per-prompt state (for example a cached reference
// embedding), so callers must not invoke Synthesize concurrently unless
// Reentrant reports true.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) ([]byte, error)
	Reentrant() bool
}

// Artifact describes one generated audio file.
type Artifact struct {
	TaskID    string
	Filename  string
	Data      []byte
	ItemIndex int
	ItemTotal int
}

// ArtifactSink receives every successfully generated artifact. Implementations
// must tolerate being called from multiple worker goroutines.
type ArtifactSink interface {
	Publish(ctx context.Context, artifact Artifact) error
}
