// Package api binds the task manager to HTTP routes.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-task-service/internal/manager"
	"github.com/book-expert/tts-task-service/internal/task"
	"github.com/gin-gonic/gin"
)

// ErrMalformedSpeeches indicates the speeches field is not a JSON object of
// filename to text strings.
var ErrMalformedSpeeches = errors.New("speeches must be an object mapping filenames to text")

// Handler serves the TTS task API.
type Handler struct {
	manager *manager.Manager
	log     *logger.Logger
}

// RegisterRoutes mounts all task API routes under /api/tts.
func RegisterRoutes(router *gin.Engine, taskManager *manager.Manager, log *logger.Logger) {
	handler := &Handler{manager: taskManager, log: log}

	group := router.Group("/api/tts")
	group.GET("/health", handler.health)
	group.GET("/prompts", handler.listPrompts)
	group.POST("/tasks", handler.createTask)
	group.POST("/batch_tasks", handler.createBatchTask)
	group.GET("/tasks/:task_id", handler.getTaskStatus)
}

type createTaskRequest struct {
	Text       string `json:"text"`
	OutputPath string `json:"output_path"`
	PromptPath string `json:"prompt_path"`
	InferMode  string `json:"infer_mode"`
}

type createBatchTaskRequest struct {
	OutputDirectory string          `json:"output_directory"`
	Speeches        json.RawMessage `json:"speeches"`
	PromptPath      string          `json:"prompt_path"`
	InferMode       string          `json:"infer_mode"`
}

type batchItemError struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listPrompts(c *gin.Context) {
	prompts, err := h.manager.ListPrompts()
	if err != nil {
		h.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"prompts": prompts})
}

func (h *Handler) createTask(c *gin.Context) {
	var req createTaskRequest

	err := c.ShouldBindJSON(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})

		return
	}

	taskID, err := h.manager.SubmitSingle(manager.SingleRequest{
		Text:       req.Text,
		OutputPath: req.OutputPath,
		PromptName: req.PromptPath,
		InferMode:  req.InferMode,
	})
	if err != nil {
		h.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id": taskID,
		"status":  task.StatusPending,
	})
}

func (h *Handler) createBatchTask(c *gin.Context) {
	var req createBatchTaskRequest

	err := c.ShouldBindJSON(&req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request body"})

		return
	}

	items, err := decodeSpeeches(req.Speeches)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})

		return
	}

	taskID, totalFiles, err := h.manager.SubmitBatch(manager.BatchRequest{
		OutputDirectory: req.OutputDirectory,
		Items:           items,
		PromptName:      req.PromptPath,
		InferMode:       req.InferMode,
	})
	if err != nil {
		h.fail(c, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id":     taskID,
		"status":      task.StatusPending,
		"total_files": totalFiles,
	})
}

func (h *Handler) getTaskStatus(c *gin.Context) {
	record, err := h.manager.GetStatus(c.Param("task_id"))
	if err != nil {
		h.fail(c, err)

		return
	}

	switch record.Kind {
	case task.KindBatch:
		c.JSON(http.StatusOK, batchStatusResponse(record))
	case task.KindSingle:
		c.JSON(http.StatusOK, singleStatusResponse(record))
	default:
		c.JSON(http.StatusOK, singleStatusResponse(record))
	}
}

func singleStatusResponse(record task.Task) gin.H {
	response := gin.H{
		"task_id":     record.ID,
		"status":      record.Status,
		"output_path": record.OutputPath,
	}

	if seconds, known := record.ProcessTime(); known {
		response["process_time"] = seconds
	}

	if record.Status == task.StatusFailed && record.Error != "" {
		response["error"] = record.Error
	}

	return response
}

func batchStatusResponse(record task.Task) gin.H {
	response := gin.H{
		"task_id":          record.ID,
		"status":           record.Status,
		"output_directory": record.OutputDirectory,
		"total_files":      record.TotalFiles,
		"processed_files":  record.ProcessedFiles,
	}

	if seconds, known := record.ProcessTime(); known {
		response["process_time"] = seconds
	}

	if len(record.ItemErrors) > 0 {
		// Report failures in submission order, not map order.
		itemErrors := make([]batchItemError, 0, len(record.ItemErrors))

		for _, item := range record.Items {
			reason, failed := record.ItemErrors[item.Filename]
			if failed {
				itemErrors = append(itemErrors, batchItemError{
					Filename: item.Filename,
					Error:    reason,
				})
			}
		}

		response["errors"] = itemErrors
	}

	return response
}

// fail translates domain errors into the HTTP failure classes: validation
// faults are the client's, unknown ids are 404, everything else is internal.
func (h *Handler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	case manager.IsValidationError(err):
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
	default:
		h.log.Error("Internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
	}
}

// decodeSpeeches parses the speeches object while preserving key order.
// encoding/json maps drop ordering, and for a batch the key order is the
// execution order, so the object is walked token by token instead.
func decodeSpeeches(raw json.RawMessage) ([]task.Item, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))

	opening, err := decoder.Token()
	if err != nil {
		return nil, ErrMalformedSpeeches
	}

	if delim, ok := opening.(json.Delim); !ok || delim != '{' {
		return nil, ErrMalformedSpeeches
	}

	var items []task.Item

	for decoder.More() {
		keyToken, err := decoder.Token()
		if err != nil {
			return nil, ErrMalformedSpeeches
		}

		filename, ok := keyToken.(string)
		if !ok {
			return nil, ErrMalformedSpeeches
		}

		var text string

		err = decoder.Decode(&text)
		if err != nil {
			return nil, fmt.Errorf("%w: value for %q is not a string", ErrMalformedSpeeches, filename)
		}

		items = append(items, task.Item{Filename: filename, Text: text})
	}

	_, err = decoder.Token()
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, ErrMalformedSpeeches
	}

	return items, nil
}
