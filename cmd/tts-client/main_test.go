package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(server *httptest.Server) *apiClient {
	return &apiClient{
		baseURL:    server.URL,
		httpClient: server.Client(),
	}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tts/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	client := newTestClient(server)
	require.NoError(t, client.health(context.Background()))
}

func TestListPrompts(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"prompts":["a.mp3","b.wav"]}`))
	}))
	defer server.Close()

	client := newTestClient(server)

	prompts, err := client.listPrompts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a.mp3", "b.wav"}, prompts)
}

func TestSubmitSingle(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/tts/tasks", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task_id":"task_1_0","status":"pending"}`))
	}))
	defer server.Close()

	client := newTestClient(server)

	taskID, err := client.submitSingle(context.Background(), appFlags{
		text:   "hello",
		output: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, "task_1_0", taskID)
}

func TestSubmit_ValidationRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"detail":"text cannot be empty"}`))
	}))
	defer server.Close()

	client := newTestClient(server)

	_, err := client.submitSingle(context.Background(), appFlags{output: t.TempDir()})
	require.ErrorIs(t, err, ErrUnexpectedStatus)
	assert.Contains(t, err.Error(), "text cannot be empty")
}

func TestPollUntilDone_Completes(t *testing.T) {
	t.Parallel()

	var polls atomic.Int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tts/tasks/task_1_0", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")

		if polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"task_id":"task_1_0","status":"processing"}`))

			return
		}

		_, _ = w.Write([]byte(`{"task_id":"task_1_0","status":"completed","process_time":1.5}`))
	}))
	defer server.Close()

	client := newTestClient(server)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, pollUntilDone(ctx, client, "task_1_0"))
	assert.GreaterOrEqual(t, polls.Load(), int64(3))
}

func TestPollUntilDone_Failed(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task_id":"task_1_0","status":"failed","error":"engine fault"}`))
	}))
	defer server.Close()

	client := newTestClient(server)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := pollUntilDone(ctx, client, "task_1_0")
	require.ErrorIs(t, err, ErrTaskFailed)
	assert.Contains(t, err.Error(), "engine fault")
}

func TestHandleSubmission_Validation(t *testing.T) {
	t.Parallel()

	client := &apiClient{baseURL: "http://127.0.0.1:0", httpClient: http.DefaultClient}

	err := handleSubmission(context.Background(), client, appFlags{})
	require.ErrorContains(t, err, errEitherTextOrSpeeches)

	err = handleSubmission(context.Background(), client, appFlags{
		text: "x", speeches: "file.json", output: "/tmp/out",
	})
	require.ErrorContains(t, err, errCannotSpecifyBoth)

	err = handleSubmission(context.Background(), client, appFlags{text: "x"})
	require.ErrorContains(t, err, errOutputRequired)
}
