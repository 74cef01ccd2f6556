package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/chepyr/todo-tracker/internal/models"
	"github.com/google/uuid"
)

var (
	// ErrMutationInFlight is returned when a row already has an unconfirmed change.
	ErrMutationInFlight = errors.New("task has a pending change")
	// ErrSuperseded is returned by Refresh when a newer page was applied first.
	ErrSuperseded = errors.New("list response superseded by a newer one")
)

// MutationState tracks one row through an optimistic change.
type MutationState int

const (
	Idle MutationState = iota
	Pending
	Committed
	RolledBack
)

func (s MutationState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled-back"
	}
	return "idle"
}

// RowState is the single source of truth for a row's loading and error display.
type RowState struct {
	Loading  bool
	Error    string
	Mutation MutationState
}

// Row is one entry of the cached page. TempID is set only while a
// create is waiting for the server to assign an id.
type Row struct {
	Task   models.Task
	TempID uuid.UUID
	State  RowState
}

func (r Row) Provisional() bool {
	return r.TempID != uuid.Nil
}

// TaskCache mirrors the currently displayed page and applies changes
// locally before the server confirms them. Safe for concurrent use.
type TaskCache struct {
	api TaskAPI
	now func() time.Time

	mu         sync.Mutex
	rows       []*Row
	query      models.ListQuery
	pagination models.Pagination
	fetchErr   string
	issued     uint64 // sequence of the newest Refresh started
	applied    uint64 // sequence of the newest Refresh applied
	inFlight   int
	deleting   map[int64]struct{}
}

func NewTaskCache(api TaskAPI) *TaskCache {
	return &TaskCache{
		api:      api,
		now:      func() time.Time { return time.Now().UTC() },
		query:    models.ListQuery{Status: models.StatusAll, Page: models.DefaultPage, Limit: models.DefaultLimit},
		deleting: make(map[int64]struct{}),
	}
}

// Refresh loads a page from the server. On failure the current page is
// kept and FetchError is set. A response that arrives after a newer one
// has been applied is dropped with ErrSuperseded.
func (c *TaskCache) Refresh(ctx context.Context, q models.ListQuery) error {
	c.mu.Lock()
	c.issued++
	seq := c.issued
	c.inFlight++
	c.mu.Unlock()

	page, err := c.api.ListTasks(ctx, q)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight--
	if seq < c.applied {
		return ErrSuperseded
	}
	if err != nil {
		c.fetchErr = err.Error()
		return err
	}
	c.applied = seq
	c.fetchErr = ""
	c.query = q
	c.pagination = page.Pagination
	c.rows = c.mergePage(page.Tasks)
	return nil
}

// mergePage builds the new row list, carrying over rows that still have
// a change in flight so their completion can find them.
func (c *TaskCache) mergePage(tasks []models.Task) []*Row {
	pending := make(map[int64]*Row)
	var provisional []*Row
	for _, r := range c.rows {
		switch {
		case r.Provisional() && r.State.Loading:
			provisional = append(provisional, r)
		case r.State.Loading || r.State.Error != "":
			pending[r.Task.ID] = r
		}
	}

	rows := make([]*Row, 0, len(provisional)+len(tasks))
	rows = append(rows, provisional...)
	for _, t := range tasks {
		if _, gone := c.deleting[t.ID]; gone {
			continue
		}
		if old, ok := pending[t.ID]; ok {
			if !old.State.Loading {
				old.Task = t
			}
			rows = append(rows, old)
			continue
		}
		rows = append(rows, &Row{Task: t})
	}
	return rows
}

// Create inserts a provisional row at the head, then replaces it with the
// server's task. The provisional row is removed again if the server fails.
func (c *TaskCache) Create(ctx context.Context, description string) (models.Task, error) {
	desc, err := models.NormalizeDescription(description)
	if err != nil {
		return models.Task{}, err
	}

	row := &Row{
		Task: models.Task{
			Description: desc,
			Status:      models.TaskStatusPending,
			CreatedAt:   c.now(),
		},
		TempID: uuid.New(),
		State:  RowState{Loading: true, Mutation: Pending},
	}
	c.mu.Lock()
	visible := c.query.Status == "" || models.ParseStatusFilter(string(c.query.Status)).Matches(models.TaskStatusPending)
	if visible {
		c.rows = append([]*Row{row}, c.rows...)
	}
	c.mu.Unlock()

	created, err := c.api.CreateTask(ctx, desc)

	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexOfTemp(row.TempID)
	if err != nil {
		if idx >= 0 {
			c.removeAt(idx)
		}
		return models.Task{}, err
	}
	if c.indexOf(created.ID) >= 0 {
		// a refresh already delivered the server's copy and counted it
		if idx >= 0 {
			c.removeAt(idx)
		}
		return created, nil
	}
	switch {
	case idx >= 0:
		c.rows[idx].Task = created
		c.rows[idx].TempID = uuid.Nil
		c.rows[idx].State = RowState{Mutation: Committed}
	case visible:
		c.rows = append([]*Row{{Task: created, State: RowState{Mutation: Committed}}}, c.rows...)
	}
	if visible {
		c.adjustTotal(1)
	}
	return created, nil
}

// UpdateStatus applies the status locally and rolls it back if the server
// rejects the change.
func (c *TaskCache) UpdateStatus(ctx context.Context, id int64, status models.TaskStatus) error {
	if _, err := models.ParseStatus(string(status)); err != nil {
		return err
	}
	return c.mutate(ctx, id,
		func(t *models.Task) { t.Status = status },
		func(t *models.Task, before models.Task) { t.Status = before.Status },
		func(ctx context.Context) (models.Task, error) { return c.api.UpdateStatus(ctx, id, status) },
	)
}

// UpdateDescription applies the description locally and rolls it back if
// the server rejects the change.
func (c *TaskCache) UpdateDescription(ctx context.Context, id int64, description string) error {
	desc, err := models.NormalizeDescription(description)
	if err != nil {
		return err
	}
	return c.mutate(ctx, id,
		func(t *models.Task) { t.Description = desc },
		func(t *models.Task, before models.Task) { t.Description = before.Description },
		func(ctx context.Context) (models.Task, error) { return c.api.UpdateDescription(ctx, id, desc) },
	)
}

// mutate runs Idle -> Pending -> Committed | RolledBack for a single row.
// Only the fields touched by apply are restored on rollback.
func (c *TaskCache) mutate(
	ctx context.Context,
	id int64,
	apply func(*models.Task),
	restore func(t *models.Task, before models.Task),
	call func(context.Context) (models.Task, error),
) error {
	c.mu.Lock()
	if _, busy := c.deleting[id]; busy {
		c.mu.Unlock()
		return ErrMutationInFlight
	}
	row := c.find(id)
	if row == nil {
		c.mu.Unlock()
		return models.ErrNotFound
	}
	if row.State.Loading {
		c.mu.Unlock()
		return ErrMutationInFlight
	}
	snapshot := row.Task
	apply(&row.Task)
	row.State = RowState{Loading: true, Mutation: Pending}
	c.mu.Unlock()

	updated, err := call(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	row = c.find(id)
	if row == nil {
		// dropped from the page by a refresh while in flight
		return err
	}
	if err != nil {
		restore(&row.Task, snapshot)
		row.State = RowState{Error: err.Error(), Mutation: RolledBack}
		return err
	}
	row.Task = updated
	row.State = RowState{Mutation: Committed}
	return nil
}

// Delete removes the row locally and puts it back at its old position
// if the server fails.
func (c *TaskCache) Delete(ctx context.Context, id int64) error {
	c.mu.Lock()
	if _, busy := c.deleting[id]; busy {
		c.mu.Unlock()
		return ErrMutationInFlight
	}
	idx := c.indexOf(id)
	if idx < 0 {
		c.mu.Unlock()
		return models.ErrNotFound
	}
	row := c.rows[idx]
	if row.State.Loading {
		c.mu.Unlock()
		return ErrMutationInFlight
	}
	c.removeAt(idx)
	c.deleting[id] = struct{}{}
	c.mu.Unlock()

	err := c.api.DeleteTask(ctx, id)

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.deleting, id)
	if err != nil {
		failed := RowState{Error: err.Error(), Mutation: RolledBack}
		if existing := c.find(id); existing != nil {
			// a refresh already brought the row back
			existing.State = failed
			return err
		}
		if idx > len(c.rows) {
			idx = len(c.rows)
		}
		row.State = failed
		c.rows = append(c.rows[:idx], append([]*Row{row}, c.rows[idx:]...)...)
		return err
	}
	c.adjustTotal(-1)
	return nil
}

// ClearError resets the error indicator of a row.
func (c *TaskCache) ClearError(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if row := c.find(id); row != nil {
		row.State.Error = ""
	}
}

// Tasks returns a copy of the cached page in display order.
func (c *TaskCache) Tasks() []models.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	tasks := make([]models.Task, len(c.rows))
	for i, r := range c.rows {
		tasks[i] = r.Task
	}
	return tasks
}

// Rows returns a copy of the cached rows with their state.
func (c *TaskCache) Rows() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	rows := make([]Row, len(c.rows))
	for i, r := range c.rows {
		rows[i] = *r
	}
	return rows
}

// Row looks up a persisted task on the current page.
func (c *TaskCache) Row(id int64) (Row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r := c.find(id); r != nil {
		return *r, true
	}
	return Row{}, false
}

func (c *TaskCache) Pagination() models.Pagination {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pagination
}

// FetchError is the message of the last failed Refresh, if any.
func (c *TaskCache) FetchError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchErr
}

// Loading reports whether any Refresh is outstanding.
func (c *TaskCache) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight > 0
}

func (c *TaskCache) find(id int64) *Row {
	if idx := c.indexOf(id); idx >= 0 {
		return c.rows[idx]
	}
	return nil
}

func (c *TaskCache) indexOf(id int64) int {
	for i, r := range c.rows {
		if !r.Provisional() && r.Task.ID == id {
			return i
		}
	}
	return -1
}

func (c *TaskCache) indexOfTemp(temp uuid.UUID) int {
	for i, r := range c.rows {
		if r.TempID == temp {
			return i
		}
	}
	return -1
}

func (c *TaskCache) removeAt(idx int) {
	c.rows = append(c.rows[:idx], c.rows[idx+1:]...)
}

// adjustTotal keeps the pagination counters in step with confirmed
// creates and deletes until the next Refresh.
func (c *TaskCache) adjustTotal(delta int64) {
	if c.pagination.Limit < 1 {
		return
	}
	total := c.pagination.TotalCount + delta
	if total < 0 {
		total = 0
	}
	c.pagination = models.NewPagination(c.pagination.CurrentPage, c.pagination.Limit, total)
}
