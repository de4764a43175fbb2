package synth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-task-service/internal/core"
)

// ErrBinaryPathEmpty indicates the exec synthesizer was configured without a
// binary path.
var ErrBinaryPathEmpty = errors.New("inference binary path cannot be empty")

// ExecSynthesizer implements core.Synthesizer by shelling out to a local
// inference CLI. The binary is expected to accept the prompt audio, the text
// and an export path, writing a WAV file on success.
//
// A local model instance holds device memory and caches the last prompt
// embedding, so this synthesizer is never reentrant.
type ExecSynthesizer struct {
	binaryPath string
	log        *logger.Logger
}

// NewExecSynthesizer creates an exec-based synthesizer for the given binary.
func NewExecSynthesizer(binaryPath string, log *logger.Logger) (*ExecSynthesizer, error) {
	if binaryPath == "" {
		return nil, ErrBinaryPathEmpty
	}

	return &ExecSynthesizer{
		binaryPath: binaryPath,
		log:        log,
	}, nil
}

// Reentrant always reports false: one shared model process at a time.
func (s *ExecSynthesizer) Reentrant() bool {
	return false
}

// Synthesize runs the inference binary and returns the exported WAV data.
func (s *ExecSynthesizer) Synthesize(ctx context.Context, req core.SynthesisRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}

	tempFile, err := os.CreateTemp("", "tts-output-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for tts output: %w", err)
	}

	defer func() {
		removeErr := os.Remove(tempFile.Name())
		if removeErr != nil {
			s.log.Warn("Failed to remove temp file '%s': %v", tempFile.Name(), removeErr)
		}
	}()

	closeErr := tempFile.Close()
	if closeErr != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	args := []string{
		"--prompt-audio", req.PromptPath,
		"--text", req.Text,
		"--export", tempFile.Name(),
	}
	if req.Mode == core.InferModeBatch {
		args = append(args, "--fast")
	}

	// #nosec G204 -- the binary path comes from service configuration, the
	// prompt path from the validated registry.
	cmd := exec.CommandContext(ctx, s.binaryPath, args...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("inference binary execution failed: %w - output: %s", err, string(output))
	}

	audioData, err := os.ReadFile(tempFile.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data from temp file: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}
