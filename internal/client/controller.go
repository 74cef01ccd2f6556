package client

import (
	"context"
	"sync"

	"github.com/chepyr/todo-tracker/internal/models"
)

// ViewState is what the list view asks the server for.
type ViewState struct {
	Page      int
	Limit     int
	Status    models.StatusFilter
	SortBy    models.SortField
	SortOrder models.SortOrder
}

func DefaultViewState() ViewState {
	return ViewState{
		Page:      models.DefaultPage,
		Limit:     models.DefaultLimit,
		Status:    models.StatusAll,
		SortBy:    models.SortByCreatedAt,
		SortOrder: models.SortDesc,
	}
}

// Controller owns the page, filter and sort selection of the list view.
// Any change to filter, sort or page size sends the view back to page 1.
type Controller struct {
	mu    sync.Mutex
	state ViewState
	meta  models.Pagination
}

// NewController starts at the default view. A limit below one keeps the default.
func NewController(limit int) *Controller {
	state := DefaultViewState()
	if limit > 0 {
		state.Limit = limit
	}
	return &Controller{state: state}
}

func (c *Controller) State() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Meta returns the pagination metadata of the last loaded page.
func (c *Controller) Meta() models.Pagination {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.meta
}

// Query converts the view into a list request.
func (v ViewState) Query() models.ListQuery {
	return models.ListQuery{
		Status:    v.Status,
		SortBy:    v.SortBy,
		SortOrder: v.SortOrder,
		Page:      v.Page,
		Limit:     v.Limit,
	}
}

func (c *Controller) Query() models.ListQuery {
	return c.State().Query()
}

func (c *Controller) SetFilter(status models.StatusFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Status = models.ParseStatusFilter(string(status))
	c.state.Page = 1
}

// SetLimit ignores values below one.
func (c *Controller) SetLimit(limit int) {
	if limit < 1 {
		return
	}
	if limit > models.MaxLimit {
		limit = models.MaxLimit
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Limit = limit
	c.state.Page = 1
}

// ToggleSort flips the direction when the same key is picked again while
// ascending. Any other pick sorts ascending by key.
func (c *Controller) ToggleSort(key models.SortField) {
	key = models.ParseSortField(string(key))
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.SortBy == key && c.state.SortOrder == models.SortAsc {
		c.state.SortOrder = models.SortDesc
	} else {
		c.state.SortBy = key
		c.state.SortOrder = models.SortAsc
	}
	c.state.Page = 1
}

// ApplyMetadata records the server's pagination for the navigation bounds.
func (c *Controller) ApplyMetadata(p models.Pagination) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.meta = p
}

// GoTo moves to page and reports whether anything changed. Pages outside
// [1, totalPages] and the current page are no-ops.
func (c *Controller) GoTo(page int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goTo(page)
}

func (c *Controller) goTo(page int) bool {
	if page < 1 || page > c.meta.TotalPages || page == c.state.Page {
		return false
	}
	c.state.Page = page
	return true
}

func (c *Controller) First() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goTo(1)
}

func (c *Controller) Prev() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goTo(c.state.Page - 1)
}

func (c *Controller) Next() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goTo(c.state.Page + 1)
}

func (c *Controller) Last() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.goTo(c.meta.TotalPages)
}

// NearbyPages lists the page numbers within radius of the current page,
// clamped to the known page range.
func (c *Controller) NearbyPages(radius int) []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.meta.TotalPages < 1 {
		return nil
	}
	lo := max(1, c.state.Page-radius)
	hi := min(c.meta.TotalPages, c.state.Page+radius)
	if hi < lo {
		return nil
	}
	pages := make([]int, 0, hi-lo+1)
	for p := lo; p <= hi; p++ {
		pages = append(pages, p)
	}
	return pages
}

// Load refreshes cache with the current view and applies the returned
// pagination. A superseded response leaves the metadata alone.
func (c *Controller) Load(ctx context.Context, cache *TaskCache) error {
	if err := cache.Refresh(ctx, c.Query()); err != nil {
		return err
	}
	c.ApplyMetadata(cache.Pagination())
	return nil
}
