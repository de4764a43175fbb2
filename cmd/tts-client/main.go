// Command tts-client submits synthesis tasks to a running tts-task-service
// and polls them to completion.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// Flag descriptions.
const (
	flagURLDesc       = "Base URL of the tts-task-service"
	flagTextDesc      = "Text to convert to speech (single task)"
	flagOutputDesc    = "Output directory for the generated audio"
	flagSpeechesDesc  = "JSON file mapping output filenames to text (batch task)"
	flagPromptDesc    = "Reference audio filename from the prompts directory"
	flagInferModeDesc = "Inference mode: normal or batch"
	flagHealthDesc    = "Check service health and exit"
	flagPromptsDesc   = "List available reference prompts and exit"
	flagWaitDesc      = "Maximum time to wait for the task to finish"
)

// Error and log messages.
const (
	errEitherTextOrSpeeches = "either --text or --speeches must be provided"
	errCannotSpecifyBoth    = "cannot specify both --text and --speeches"
	errOutputRequired       = "--output is required"
)

const defaultWait = 10 * time.Minute

const pollInterval = 500 * time.Millisecond

// ErrTaskFailed indicates the submitted task reached the failed state.
var ErrTaskFailed = errors.New("task failed")

// ErrWaitTimeout indicates the task did not finish within the wait window.
var ErrWaitTimeout = errors.New("timed out waiting for task")

// ErrUnexpectedStatus indicates a non-2xx response from the service.
var ErrUnexpectedStatus = errors.New("unexpected response status")

type appFlags struct {
	url       string
	text      string
	output    string
	speeches  string
	prompt    string
	inferMode string
	health    bool
	prompts   bool
	wait      time.Duration
}

type taskStatus struct {
	TaskID         string  `json:"task_id"`
	Status         string  `json:"status"`
	Error          string  `json:"error"`
	ProcessTime    float64 `json:"process_time"`
	TotalFiles     int     `json:"total_files"`
	ProcessedFiles int     `json:"processed_files"`
	Errors         []struct {
		Filename string `json:"filename"`
		Error    string `json:"error"`
	} `json:"errors"`
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()
	client := &apiClient{baseURL: flags.url, httpClient: &http.Client{Timeout: 30 * time.Second}}

	ctx, cancel := context.WithTimeout(context.Background(), flags.wait)
	defer cancel()

	if flags.health {
		return handleHealthCheck(ctx, client)
	}

	if flags.prompts {
		return handleListPrompts(ctx, client)
	}

	return handleSubmission(ctx, client, flags)
}

func parseFlags() appFlags {
	var flags appFlags
	flag.StringVar(&flags.url, "url", "http://127.0.0.1:8000", flagURLDesc)
	flag.StringVar(&flags.text, "text", "", flagTextDesc)
	flag.StringVar(&flags.output, "output", "", flagOutputDesc)
	flag.StringVar(&flags.speeches, "speeches", "", flagSpeechesDesc)
	flag.StringVar(&flags.prompt, "prompt", "", flagPromptDesc)
	flag.StringVar(&flags.inferMode, "infer-mode", "", flagInferModeDesc)
	flag.BoolVar(&flags.health, "health", false, flagHealthDesc)
	flag.BoolVar(&flags.prompts, "prompts", false, flagPromptsDesc)
	flag.DurationVar(&flags.wait, "wait", defaultWait, flagWaitDesc)
	flag.Parse()

	return flags
}

func handleHealthCheck(ctx context.Context, client *apiClient) error {
	err := client.health(ctx)
	if err != nil {
		fmt.Printf("Service is not healthy: %v\n", err)

		return err
	}

	fmt.Println("Service is healthy")

	return nil
}

func handleListPrompts(ctx context.Context, client *apiClient) error {
	prompts, err := client.listPrompts(ctx)
	if err != nil {
		return err
	}

	for _, name := range prompts {
		fmt.Println(name)
	}

	return nil
}

func handleSubmission(ctx context.Context, client *apiClient, flags appFlags) error {
	if flags.text == "" && flags.speeches == "" {
		flag.Usage()

		return errors.New(errEitherTextOrSpeeches)
	}

	if flags.text != "" && flags.speeches != "" {
		return errors.New(errCannotSpecifyBoth)
	}

	if flags.output == "" {
		return errors.New(errOutputRequired)
	}

	var (
		taskID string
		err    error
	)

	if flags.text != "" {
		taskID, err = client.submitSingle(ctx, flags)
	} else {
		taskID, err = client.submitBatch(ctx, flags)
	}

	if err != nil {
		return err
	}

	fmt.Printf("Submitted %s\n", taskID)

	return pollUntilDone(ctx, client, taskID)
}

func pollUntilDone(ctx context.Context, client *apiClient, taskID string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %s", ErrWaitTimeout, taskID)
		case <-ticker.C:
		}

		status, err := client.getStatus(ctx, taskID)
		if err != nil {
			return err
		}

		switch status.Status {
		case "completed":
			reportCompleted(status)

			return nil
		case "failed":
			return fmt.Errorf("%w: %s", ErrTaskFailed, status.Error)
		default:
			if status.TotalFiles > 0 {
				fmt.Printf("  %d/%d files\n", status.ProcessedFiles, status.TotalFiles)
			}
		}
	}
}

func reportCompleted(status *taskStatus) {
	fmt.Printf("Completed in %.2fs\n", status.ProcessTime)

	for _, failure := range status.Errors {
		fmt.Printf("  %s: %s\n", failure.Filename, failure.Error)
	}
}

// apiClient is a minimal JSON client for the task API.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func (c *apiClient) health(ctx context.Context) error {
	var ignored map[string]any

	return c.get(ctx, "/api/tts/health", &ignored)
}

func (c *apiClient) listPrompts(ctx context.Context) ([]string, error) {
	var response struct {
		Prompts []string `json:"prompts"`
	}

	err := c.get(ctx, "/api/tts/prompts", &response)
	if err != nil {
		return nil, err
	}

	return response.Prompts, nil
}

func (c *apiClient) submitSingle(ctx context.Context, flags appFlags) (string, error) {
	payload := map[string]any{
		"text":        flags.text,
		"output_path": flags.output,
	}
	if flags.prompt != "" {
		payload["prompt_path"] = flags.prompt
	}

	if flags.inferMode != "" {
		payload["infer_mode"] = flags.inferMode
	}

	return c.submit(ctx, "/api/tts/tasks", payload)
}

func (c *apiClient) submitBatch(ctx context.Context, flags appFlags) (string, error) {
	speechesData, err := os.ReadFile(flags.speeches)
	if err != nil {
		return "", fmt.Errorf("failed to read speeches file: %w", err)
	}

	payload := map[string]any{
		"output_directory": flags.output,
		"speeches":         json.RawMessage(speechesData),
	}
	if flags.prompt != "" {
		payload["prompt_path"] = flags.prompt
	}

	if flags.inferMode != "" {
		payload["infer_mode"] = flags.inferMode
	}

	return c.submit(ctx, "/api/tts/batch_tasks", payload)
}

func (c *apiClient) submit(ctx context.Context, path string, payload map[string]any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	request, err := http.NewRequestWithContext(
		ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")

	var response taskStatus

	err = c.doJSON(request, &response)
	if err != nil {
		return "", err
	}

	return response.TaskID, nil
}

func (c *apiClient) getStatus(ctx context.Context, taskID string) (*taskStatus, error) {
	var status taskStatus

	err := c.get(ctx, "/api/tts/tasks/"+taskID, &status)
	if err != nil {
		return nil, err
	}

	return &status, nil
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	return c.doJSON(request, out)
}

func (c *apiClient) doJSON(request *http.Request, out any) error {
	response, err := c.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	data, err := io.ReadAll(response.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %d: %s", ErrUnexpectedStatus, response.StatusCode, string(data))
	}

	err = json.Unmarshal(data, out)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
