package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chepyr/todo-tracker/internal/models"
)

// TaskAPI is the server surface the cache synchronizes against.
type TaskAPI interface {
	ListTasks(ctx context.Context, q models.ListQuery) (models.TaskPage, error)
	CreateTask(ctx context.Context, description string) (models.Task, error)
	UpdateDescription(ctx context.Context, id int64, description string) (models.Task, error)
	UpdateStatus(ctx context.Context, id int64, status models.TaskStatus) (models.Task, error)
	DeleteTask(ctx context.Context, id int64) error
}

// APIClient talks to the tasks service over HTTP.
type APIClient struct {
	BaseURL string
	Client  *http.Client
}

func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// ListTasks calls GET /tasks.
func (c *APIClient) ListTasks(ctx context.Context, q models.ListQuery) (models.TaskPage, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(q.Page))
	params.Set("limit", strconv.Itoa(q.Limit))
	if q.Status != "" {
		params.Set("status", string(q.Status))
	}
	if q.SortBy != "" {
		params.Set("sortBy", string(q.SortBy))
	}
	if q.SortOrder != "" {
		params.Set("sortOrder", string(q.SortOrder))
	}

	var page models.TaskPage
	err := c.do(ctx, http.MethodGet, "/tasks?"+params.Encode(), nil, &page)
	return page, err
}

// GetTask calls GET /tasks/{id}.
func (c *APIClient) GetTask(ctx context.Context, id int64) (models.Task, error) {
	return c.single(ctx, http.MethodGet, taskPath(id), nil)
}

// CreateTask calls POST /tasks.
func (c *APIClient) CreateTask(ctx context.Context, description string) (models.Task, error) {
	return c.single(ctx, http.MethodPost, "/tasks", map[string]string{"description": description})
}

// UpdateDescription calls PUT /tasks/{id}.
func (c *APIClient) UpdateDescription(ctx context.Context, id int64, description string) (models.Task, error) {
	return c.single(ctx, http.MethodPut, taskPath(id), map[string]string{"description": description})
}

// UpdateStatus calls PATCH /tasks/{id}.
func (c *APIClient) UpdateStatus(ctx context.Context, id int64, status models.TaskStatus) (models.Task, error) {
	return c.single(ctx, http.MethodPatch, taskPath(id), map[string]string{"status": string(status)})
}

// DeleteTask calls DELETE /tasks/{id}.
func (c *APIClient) DeleteTask(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, taskPath(id), nil, nil)
}

func taskPath(id int64) string {
	return "/tasks/" + strconv.FormatInt(id, 10)
}

// single unwraps the one-element array the mutation endpoints return.
func (c *APIClient) single(ctx context.Context, method, path string, body any) (models.Task, error) {
	var tasks []models.Task
	if err := c.do(ctx, method, path, body, &tasks); err != nil {
		return models.Task{}, err
	}
	if len(tasks) != 1 {
		return models.Task{}, &models.StoreError{
			Op:  method + " " + path,
			Err: fmt.Errorf("expected one task in response, got %d", len(tasks)),
		}
	}
	return tasks[0], nil
}

func (c *APIClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		return responseError(method+" "+path, resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// responseError maps an HTTP failure back onto the error taxonomy.
func responseError(op string, status int, body []byte) error {
	var payload struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		msg = payload.Error
	}
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	case status == http.StatusBadRequest:
		return &models.ValidationError{Message: msg}
	default:
		return &models.StoreError{Op: op, Err: fmt.Errorf("http %d: %s", status, msg)}
	}
}
