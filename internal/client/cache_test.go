package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/chepyr/todo-tracker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is an in-memory TaskAPI. Setting err makes every mutation fail.
// Setting block makes mutations wait until it is closed.
type fakeAPI struct {
	mu     sync.Mutex
	tasks  []models.Task
	nextID int64
	calls  int
	err    error
	block  chan struct{}
	list   func(ctx context.Context, q models.ListQuery) (models.TaskPage, error)
}

func newFakeAPI(descriptions ...string) *fakeAPI {
	f := &fakeAPI{}
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, d := range descriptions {
		f.nextID++
		f.tasks = append(f.tasks, models.Task{
			ID:          f.nextID,
			Description: d,
			Status:      models.TaskStatusPending,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
	}
	return f
}

func (f *fakeAPI) ListTasks(ctx context.Context, q models.ListQuery) (models.TaskPage, error) {
	if f.list != nil {
		return f.list(ctx, q)
	}
	q, err := q.Normalize()
	if err != nil {
		return models.TaskPage{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []models.Task
	for _, t := range f.tasks {
		if q.Status.Matches(t.Status) {
			matched = append(matched, t)
		}
	}
	start := min(q.Offset(), len(matched))
	end := min(start+q.Limit, len(matched))
	return models.TaskPage{
		Tasks:      append([]models.Task{}, matched[start:end]...),
		Pagination: models.NewPagination(q.Page, q.Limit, int64(len(matched))),
	}, nil
}

func (f *fakeAPI) begin(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	block, err := f.block, f.err
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeAPI) CreateTask(ctx context.Context, description string) (models.Task, error) {
	if err := f.begin(ctx); err != nil {
		return models.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t := models.Task{ID: f.nextID, Description: description, Status: models.TaskStatusPending, CreatedAt: time.Now().UTC()}
	f.tasks = append([]models.Task{t}, f.tasks...)
	return t, nil
}

func (f *fakeAPI) update(ctx context.Context, id int64, apply func(*models.Task)) (models.Task, error) {
	if err := f.begin(ctx); err != nil {
		return models.Task{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			apply(&f.tasks[i])
			now := time.Now().UTC()
			f.tasks[i].UpdatedAt = &now
			return f.tasks[i], nil
		}
	}
	return models.Task{}, models.ErrNotFound
}

func (f *fakeAPI) UpdateDescription(ctx context.Context, id int64, description string) (models.Task, error) {
	return f.update(ctx, id, func(t *models.Task) { t.Description = description })
}

func (f *fakeAPI) UpdateStatus(ctx context.Context, id int64, status models.TaskStatus) (models.Task, error) {
	return f.update(ctx, id, func(t *models.Task) { t.Status = status })
}

func (f *fakeAPI) DeleteTask(ctx context.Context, id int64) error {
	if err := f.begin(ctx); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeAPI) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeAPI) setBlock(ch chan struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.block = ch
}

var errServer = &models.StoreError{Op: "test", Err: errors.New("server down")}

func loadedCache(t *testing.T, api *fakeAPI) *TaskCache {
	t.Helper()
	c := NewTaskCache(api)
	require.NoError(t, c.Refresh(context.Background(), DefaultViewState().Query()))
	return c
}

func descriptions(tasks []models.Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Description
	}
	return out
}

func TestTaskCache_Refresh(t *testing.T) {
	api := newFakeAPI("a", "b", "c")
	c := loadedCache(t, api)

	assert.Equal(t, []string{"a", "b", "c"}, descriptions(c.Tasks()))
	assert.Equal(t, int64(3), c.Pagination().TotalCount)
	assert.False(t, c.Loading())
	assert.Empty(t, c.FetchError())
}

func TestTaskCache_RefreshFailureKeepsPage(t *testing.T) {
	api := newFakeAPI("a", "b")
	c := loadedCache(t, api)

	api.list = func(context.Context, models.ListQuery) (models.TaskPage, error) {
		return models.TaskPage{}, errServer
	}
	err := c.Refresh(context.Background(), DefaultViewState().Query())
	require.ErrorIs(t, err, errServer)

	assert.Equal(t, []string{"a", "b"}, descriptions(c.Tasks()))
	assert.Contains(t, c.FetchError(), "server down")
}

func TestTaskCache_StaleRefreshIsDropped(t *testing.T) {
	api := newFakeAPI()
	entered := make(chan struct{})
	release := make(chan struct{})
	api.list = func(ctx context.Context, q models.ListQuery) (models.TaskPage, error) {
		if q.Page == 1 {
			close(entered)
			<-release
			return models.TaskPage{
				Tasks:      []models.Task{{ID: 1, Description: "old"}},
				Pagination: models.NewPagination(1, 10, 11),
			}, nil
		}
		return models.TaskPage{
			Tasks:      []models.Task{{ID: 11, Description: "new"}},
			Pagination: models.NewPagination(2, 10, 11),
		}, nil
	}
	c := NewTaskCache(api)

	q := DefaultViewState().Query()
	done := make(chan error, 1)
	go func() { done <- c.Refresh(context.Background(), q) }()
	<-entered

	q.Page = 2
	require.NoError(t, c.Refresh(context.Background(), q))
	close(release)

	require.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, []string{"new"}, descriptions(c.Tasks()))
	assert.Equal(t, 2, c.Pagination().CurrentPage)
}

func TestTaskCache_UpdateStatusCommits(t *testing.T) {
	api := newFakeAPI("a", "b")
	c := loadedCache(t, api)

	require.NoError(t, c.UpdateStatus(context.Background(), 1, models.TaskStatusCompleted))

	row, ok := c.Row(1)
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusCompleted, row.Task.Status)
	assert.NotNil(t, row.Task.UpdatedAt, "server fields should be reconciled")
	assert.Equal(t, RowState{Mutation: Committed}, row.State)
}

func TestTaskCache_UpdateStatusRollsBack(t *testing.T) {
	api := newFakeAPI("a", "b")
	c := loadedCache(t, api)
	api.setErr(errServer)

	err := c.UpdateStatus(context.Background(), 1, models.TaskStatusCompleted)
	require.ErrorIs(t, err, errServer)

	row, _ := c.Row(1)
	assert.Equal(t, models.TaskStatusPending, row.Task.Status)
	assert.Equal(t, "a", row.Task.Description)
	assert.Equal(t, RolledBack, row.State.Mutation)
	assert.NotEmpty(t, row.State.Error)
	assert.False(t, row.State.Loading)

	other, _ := c.Row(2)
	assert.Equal(t, RowState{}, other.State, "other rows must not see the error")

	c.ClearError(1)
	row, _ = c.Row(1)
	assert.Empty(t, row.State.Error)
}

func TestTaskCache_UpdateDescriptionRollsBackOnlyDescription(t *testing.T) {
	api := newFakeAPI("a")
	c := loadedCache(t, api)
	api.setErr(errServer)

	require.Error(t, c.UpdateDescription(context.Background(), 1, "  renamed  "))
	row, _ := c.Row(1)
	assert.Equal(t, "a", row.Task.Description)
	assert.Equal(t, models.TaskStatusPending, row.Task.Status)

	api.setErr(nil)
	require.NoError(t, c.UpdateDescription(context.Background(), 1, "  renamed  "))
	row, _ = c.Row(1)
	assert.Equal(t, "renamed", row.Task.Description)
}

func TestTaskCache_LocalValidation(t *testing.T) {
	api := newFakeAPI("a")
	c := loadedCache(t, api)

	err := c.UpdateDescription(context.Background(), 1, "   ")
	assert.True(t, models.IsValidation(err))
	err = c.UpdateStatus(context.Background(), 1, "done")
	assert.True(t, models.IsValidation(err))
	_, err = c.Create(context.Background(), "")
	assert.True(t, models.IsValidation(err))

	assert.Zero(t, api.calls, "invalid input must not reach the server")
	row, _ := c.Row(1)
	assert.Equal(t, RowState{}, row.State)
}

func TestTaskCache_UnknownID(t *testing.T) {
	c := loadedCache(t, newFakeAPI("a"))

	assert.ErrorIs(t, c.UpdateStatus(context.Background(), 42, models.TaskStatusCompleted), models.ErrNotFound)
	assert.ErrorIs(t, c.Delete(context.Background(), 42), models.ErrNotFound)
}

func TestTaskCache_MutationInFlight(t *testing.T) {
	api := newFakeAPI("a", "b")
	c := loadedCache(t, api)
	gate := make(chan struct{})
	api.setBlock(gate)

	done := make(chan error, 1)
	go func() { done <- c.UpdateStatus(context.Background(), 1, models.TaskStatusInProgress) }()

	require.Eventually(t, func() bool {
		row, _ := c.Row(1)
		return row.State.Loading
	}, time.Second, time.Millisecond)

	row, _ := c.Row(1)
	assert.Equal(t, models.TaskStatusInProgress, row.Task.Status, "change is visible before the server confirms")
	assert.Equal(t, Pending, row.State.Mutation)

	assert.ErrorIs(t, c.UpdateStatus(context.Background(), 1, models.TaskStatusCompleted), ErrMutationInFlight)
	assert.ErrorIs(t, c.Delete(context.Background(), 1), ErrMutationInFlight)

	close(gate)
	require.NoError(t, <-done)
	row, _ = c.Row(1)
	assert.Equal(t, models.TaskStatusInProgress, row.Task.Status)
}

func TestTaskCache_RefreshKeepsPendingRow(t *testing.T) {
	api := newFakeAPI("a")
	c := loadedCache(t, api)
	gate := make(chan struct{})
	api.setBlock(gate)

	done := make(chan error, 1)
	go func() { done <- c.UpdateDescription(context.Background(), 1, "b") }()
	require.Eventually(t, func() bool {
		row, _ := c.Row(1)
		return row.State.Loading
	}, time.Second, time.Millisecond)

	require.NoError(t, c.Refresh(context.Background(), DefaultViewState().Query()))
	row, _ := c.Row(1)
	assert.Equal(t, "b", row.Task.Description, "refresh must not clobber the optimistic value")
	assert.True(t, row.State.Loading)

	close(gate)
	require.NoError(t, <-done)
}

func TestTaskCache_CreateSplicesServerTask(t *testing.T) {
	api := newFakeAPI("a")
	c := loadedCache(t, api)
	gate := make(chan struct{})
	api.setBlock(gate)

	type result struct {
		task models.Task
		err  error
	}
	done := make(chan result, 1)
	go func() {
		task, err := c.Create(context.Background(), " new task ")
		done <- result{task, err}
	}()

	require.Eventually(t, func() bool { return len(c.Rows()) == 2 }, time.Second, time.Millisecond)
	head := c.Rows()[0]
	assert.True(t, head.Provisional())
	assert.True(t, head.State.Loading)
	assert.Equal(t, "new task", head.Task.Description)
	assert.Equal(t, models.TaskStatusPending, head.Task.Status)

	close(gate)
	res := <-done
	require.NoError(t, res.err)

	rows := c.Rows()
	require.Len(t, rows, 2)
	assert.False(t, rows[0].Provisional())
	assert.Equal(t, res.task.ID, rows[0].Task.ID)
	assert.Equal(t, Committed, rows[0].State.Mutation)
	assert.Equal(t, int64(2), c.Pagination().TotalCount)
}

// insertThenWaitAPI stores the task on the server and then holds the
// reply until release is closed.
type insertThenWaitAPI struct {
	*fakeAPI
	inserted chan struct{}
	release  chan struct{}
}

func (a *insertThenWaitAPI) CreateTask(ctx context.Context, description string) (models.Task, error) {
	task, err := a.fakeAPI.CreateTask(ctx, description)
	close(a.inserted)
	<-a.release
	return task, err
}

func TestTaskCache_CreateOverlappingRefresh(t *testing.T) {
	api := &insertThenWaitAPI{
		fakeAPI:  newFakeAPI("a", "b"),
		inserted: make(chan struct{}),
		release:  make(chan struct{}),
	}
	c := NewTaskCache(api)
	require.NoError(t, c.Refresh(context.Background(), DefaultViewState().Query()))

	type result struct {
		task models.Task
		err  error
	}
	done := make(chan result, 1)
	go func() {
		task, err := c.Create(context.Background(), "new")
		done <- result{task, err}
	}()

	<-api.inserted
	require.NoError(t, c.Refresh(context.Background(), DefaultViewState().Query()))
	assert.Equal(t, int64(3), c.Pagination().TotalCount)

	close(api.release)
	res := <-done
	require.NoError(t, res.err)

	seen := 0
	for _, row := range c.Rows() {
		assert.False(t, row.Provisional())
		if row.Task.ID == res.task.ID {
			seen++
		}
	}
	assert.Equal(t, 1, seen, "task id %d must appear once", res.task.ID)
	assert.Equal(t, []string{"new", "a", "b"}, descriptions(c.Tasks()))
	assert.Equal(t, int64(3), c.Pagination().TotalCount)
}

func TestTaskCache_CreateFailureRemovesRow(t *testing.T) {
	api := newFakeAPI("a")
	c := loadedCache(t, api)
	api.setErr(errServer)

	_, err := c.Create(context.Background(), "new")
	require.ErrorIs(t, err, errServer)
	assert.Equal(t, []string{"a"}, descriptions(c.Tasks()))
	assert.Equal(t, int64(1), c.Pagination().TotalCount)
}

func TestTaskCache_CreateOutsideFilter(t *testing.T) {
	api := newFakeAPI("a")
	api.tasks[0].Status = models.TaskStatusCompleted
	c := NewTaskCache(api)
	q := DefaultViewState().Query()
	q.Status = models.StatusFilter(models.TaskStatusCompleted)
	require.NoError(t, c.Refresh(context.Background(), q))

	_, err := c.Create(context.Background(), "new")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, descriptions(c.Tasks()), "pending task does not belong in a completed view")
}

func TestTaskCache_DeleteRollsBackInPlace(t *testing.T) {
	api := newFakeAPI("a", "b", "c")
	c := loadedCache(t, api)
	api.setErr(errServer)

	require.ErrorIs(t, c.Delete(context.Background(), 2), errServer)
	assert.Equal(t, []string{"a", "b", "c"}, descriptions(c.Tasks()))
	row, _ := c.Row(2)
	assert.Equal(t, RolledBack, row.State.Mutation)
	assert.NotEmpty(t, row.State.Error)
	assert.Equal(t, int64(3), c.Pagination().TotalCount)
}

func TestTaskCache_DeleteCommits(t *testing.T) {
	api := newFakeAPI("a", "b", "c")
	c := loadedCache(t, api)

	require.NoError(t, c.Delete(context.Background(), 2))
	assert.Equal(t, []string{"a", "c"}, descriptions(c.Tasks()))
	assert.Equal(t, int64(2), c.Pagination().TotalCount)

	_, ok := c.Row(2)
	assert.False(t, ok)
}

func TestTaskCache_ConcurrentMutationsOnDifferentRows(t *testing.T) {
	names := make([]string, 8)
	for i := range names {
		names[i] = fmt.Sprintf("task %d", i)
	}
	api := newFakeAPI(names...)
	c := loadedCache(t, api)

	var wg sync.WaitGroup
	for id := int64(1); id <= 8; id++ {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.UpdateStatus(context.Background(), id, models.TaskStatusCompleted))
		}()
	}
	wg.Wait()

	for _, task := range c.Tasks() {
		assert.Equal(t, models.TaskStatusCompleted, task.Status)
	}
}
