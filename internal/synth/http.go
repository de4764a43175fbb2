// Package synth provides implementations of the core.Synthesizer interface.
//
// The service treats speech generation as an opaque capability: text plus a
// reference-audio prompt in, WAV data out. Both implementations here wrap an
// inference engine the service does not manage itself.
package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/book-expert/tts-task-service/internal/core"
)

// API endpoints of the standalone inference service.
const (
	apiGenerateSpeech = "/v1/generate/speech"
	apiHealth         = "/health"
)

// HTTP headers.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentTypeJSON   = "application/json"
	contentTypeWAV    = "audio/wav"
)

// Defaults for optional generation parameters.
const (
	defaultTemperature = 0.75
	defaultLanguage    = "en"
)

var (
	// ErrEmptyText indicates a synthesis request without text.
	ErrEmptyText = errors.New("text cannot be empty")
	// ErrEmptyAudio indicates the engine returned no audio data.
	ErrEmptyAudio = errors.New("received empty audio data")
	// ErrUnexpectedContentType indicates a non-WAV engine response.
	ErrUnexpectedContentType = errors.New("unexpected content type")
)

// HTTPConfig configures an HTTPSynthesizer.
type HTTPConfig struct {
	// BaseURL includes protocol and port, e.g. "http://localhost:8000".
	BaseURL     string
	Timeout     time.Duration
	Language    string
	Temperature float64
	// Reentrant declares whether the engine tolerates concurrent requests.
	// A single shared model instance behind the endpoint does not.
	Reentrant bool
}

// HTTPSynthesizer implements core.Synthesizer against a standalone TTS HTTP
// service.
type HTTPSynthesizer struct {
	httpClient  *http.Client
	baseURL     string
	language    string
	temperature float64
	reentrant   bool
}

// generateRequest is the JSON payload of the speech generation endpoint.
type generateRequest struct {
	Text           string  `json:"text"`
	SpeakerRefPath string  `json:"speaker_ref_path,omitempty"`
	Language       string  `json:"language"`
	Temperature    float64 `json:"temperature"`
	InferMode      string  `json:"infer_mode"`
}

// engineErrorResponse is the structured error body of the inference service.
type engineErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code,omitempty"`
}

// NewHTTPSynthesizer creates a synthesizer backed by the inference service at
// cfg.BaseURL.
func NewHTTPSynthesizer(cfg HTTPConfig) *HTTPSynthesizer {
	language := cfg.Language
	if language == "" {
		language = defaultLanguage
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	return &HTTPSynthesizer{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		baseURL:     cfg.BaseURL,
		language:    language,
		temperature: temperature,
		reentrant:   cfg.Reentrant,
	}
}

// Reentrant reports whether the engine accepts concurrent invocations.
func (s *HTTPSynthesizer) Reentrant() bool {
	return s.reentrant
}

// Synthesize sends a generation request and returns the raw WAV data.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, req core.SynthesisRequest) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}

	payload := generateRequest{
		Text:           req.Text,
		SpeakerRefPath: req.PromptPath,
		Language:       s.language,
		Temperature:    s.temperature,
		InferMode:      string(req.Mode),
	}

	requestBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		s.baseURL+apiGenerateSpeech,
		bytes.NewBuffer(requestBody),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, contentTypeWAV)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to TTS engine at %s: %w", s.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.parseErrorResponse(resp)
	}

	contentType := resp.Header.Get(headerContentType)
	if contentType != contentTypeWAV {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedContentType, contentTypeWAV, contentType)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// HealthCheck verifies the inference service is reachable and healthy.
func (s *HTTPSynthesizer) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+apiHealth, http.NoBody)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed for engine at %s: %w", s.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status: %s", resp.Status)
	}

	return nil
}

// parseErrorResponse decodes a structured JSON error from the engine, falling
// back to the raw body so diagnostics are never lost.
func (s *HTTPSynthesizer) parseErrorResponse(resp *http.Response) error {
	var errorResp engineErrorResponse

	err := json.NewDecoder(resp.Body).Decode(&errorResp)
	if err == nil {
		return fmt.Errorf("TTS engine error (%s): %s (code: %s)",
			resp.Status, errorResp.Detail, errorResp.ErrorCode)
	}

	body, _ := io.ReadAll(resp.Body)

	return fmt.Errorf("TTS engine returned non-OK status: %s, body: %s", resp.Status, string(body))
}
