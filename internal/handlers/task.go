package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/chepyr/todo-tracker/internal/models"
)

const (
	maxBodyBytes   = 1 << 20 // 1MB
	requestTimeout = 5 * time.Second
)

/*
handles routes:
- GET /tasks?page=&limit=&status=&sortBy=&sortOrder= - one page of tasks
- POST /tasks - create a new task
*/
func (h *Handler) HandleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listTasks(w, r)
	case http.MethodPost:
		h.createTask(w, r)
	default:
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

/*
routes:
- GET /tasks/{id}
- PUT /tasks/{id} - update description
- PATCH /tasks/{id} - update status
- DELETE /tasks/{id}
*/
func (h *Handler) HandleTaskByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.Trim(strings.TrimPrefix(r.URL.Path, "/tasks/"), "/")
	if idStr == "" {
		sendError(w, "Task ID is required", http.StatusBadRequest)
		return
	}
	taskID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || taskID < 1 {
		sendError(w, "Task ID must be a positive integer", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getTask(w, r, taskID)
	case http.MethodPut:
		h.updateDescription(w, r, taskID)
	case http.MethodPatch:
		h.updateStatus(w, r, taskID)
	case http.MethodDelete:
		h.deleteTask(w, r, taskID)
	default:
		sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) listTasks(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		h.sendStoreError(w, "Failed to fetch tasks", err)
		return
	}
	q, err = q.Normalize()
	if err != nil {
		h.sendStoreError(w, "Failed to fetch tasks", err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	results := h.listGroup.DoChan(q.Key(), func() (any, error) {
		// shared by every waiting caller, so not tied to the first request
		listCtx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), requestTimeout)
		defer cancel()
		tasks, total, err := h.TaskRepo.List(listCtx, q)
		if err != nil {
			return nil, err
		}
		return models.TaskPage{Tasks: tasks, Pagination: models.NewPagination(q.Page, q.Limit, total)}, nil
	})

	select {
	case res := <-results:
		if res.Err != nil {
			h.sendStoreError(w, "Failed to fetch tasks", res.Err)
			return
		}
		if res.Shared {
			h.log().Debug("list query shared", "key", q.Key())
		}
		writeJSON(w, http.StatusOK, res.Val.(models.TaskPage))
	case <-ctx.Done():
		if r.Context().Err() != nil {
			h.log().Debug("list request abandoned by client", "key", q.Key())
			return
		}
		h.sendStoreError(w, "Failed to fetch tasks", &models.StoreError{Op: "list tasks", Err: ctx.Err()})
	}
}

// parseListQuery reads the query string. Missing page/limit take their
// defaults; values that are not integers are rejected.
func parseListQuery(r *http.Request) (models.ListQuery, error) {
	values := r.URL.Query()
	q := models.ListQuery{
		Status:    models.StatusFilter(values.Get("status")),
		SortBy:    models.SortField(values.Get("sortBy")),
		SortOrder: models.SortOrder(values.Get("sortOrder")),
		Page:      models.DefaultPage,
		Limit:     models.DefaultLimit,
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"page", &q.Page}, {"limit", &q.Limit}} {
		raw := values.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, &models.ValidationError{Field: p.name, Message: p.name + " must be an integer"}
		}
		*p.dst = n
	}
	return q, nil
}

func (h *Handler) createTask(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Description string `json:"description"`
	}
	if !decodeJSONBody(w, r, &input) {
		return
	}
	if strings.TrimSpace(input.Description) == "" {
		sendError(w, "Description is required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	task, err := h.TaskRepo.Create(ctx, input.Description)
	if err != nil {
		h.sendStoreError(w, "Failed to create task", err)
		return
	}
	h.log().Info("task created", "task_id", task.ID)
	w.Header().Set("Location", "/tasks/"+strconv.FormatInt(task.ID, 10))
	writeJSON(w, http.StatusCreated, []*models.Task{task})
}

func (h *Handler) getTask(w http.ResponseWriter, r *http.Request, taskID int64) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	task, err := h.TaskRepo.GetByID(ctx, taskID)
	if err != nil {
		h.sendStoreError(w, "Failed to fetch task", err)
		return
	}
	writeJSON(w, http.StatusOK, []*models.Task{task})
}

func (h *Handler) updateDescription(w http.ResponseWriter, r *http.Request, taskID int64) {
	// clients echo the whole task back; only description is applied
	var input struct {
		Description string `json:"description"`
	}
	if !decodeJSONBody(w, r, &input) {
		return
	}
	if strings.TrimSpace(input.Description) == "" {
		sendError(w, "Task ID and description are required", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	task, err := h.TaskRepo.UpdateDescription(ctx, taskID, input.Description)
	if err != nil {
		h.sendStoreError(w, "Failed to update task", err)
		return
	}
	writeJSON(w, http.StatusOK, []*models.Task{task})
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request, taskID int64) {
	var input struct {
		Status string `json:"status"`
	}
	if !decodeJSONBody(w, r, &input) {
		return
	}
	status, err := models.ParseStatus(input.Status)
	if err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	task, err := h.TaskRepo.UpdateStatus(ctx, taskID, status)
	if err != nil {
		h.sendStoreError(w, "Failed to update task", err)
		return
	}
	writeJSON(w, http.StatusOK, []*models.Task{task})
}

type deleteResponse struct {
	Message string  `json:"message"`
	Error   *string `json:"error"`
}

func (h *Handler) deleteTask(w http.ResponseWriter, r *http.Request, taskID int64) {
	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	removed, err := h.TaskRepo.Delete(ctx, taskID)
	if err != nil {
		h.sendStoreError(w, "Failed to delete task", err)
		return
	}
	if !removed {
		h.log().Debug("delete of missing task", "task_id", taskID)
	}
	writeJSON(w, http.StatusOK, deleteResponse{Message: "success"})
}

// decodeJSONBody writes a 400 and returns false when the body is not a JSON object.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if !isJSONContentType(r) {
		sendError(w, "Content-Type must be application/json", http.StatusBadRequest)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		sendError(w, "Invalid JSON body", http.StatusBadRequest)
		return false
	}
	return true
}

// sendStoreError maps the error taxonomy onto HTTP status codes.
func (h *Handler) sendStoreError(w http.ResponseWriter, msg string, err error) {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		sendError(w, ve.Message, http.StatusBadRequest)
	case errors.Is(err, models.ErrNotFound):
		sendError(w, "Task not found", http.StatusNotFound)
	default:
		h.log().Error(msg, "error", err)
		sendError(w, msg, http.StatusInternalServerError)
	}
}
