package client

import (
	"context"
	"testing"

	"github.com/chepyr/todo-tracker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func controllerOnPage(t *testing.T, page int, total int64) *Controller {
	t.Helper()
	c := NewController(10)
	c.ApplyMetadata(models.NewPagination(1, 10, total))
	if page != 1 {
		require.True(t, c.GoTo(page))
	}
	return c
}

func TestController_Defaults(t *testing.T) {
	c := NewController(0)
	assert.Equal(t, DefaultViewState(), c.State())

	q := c.Query()
	assert.Equal(t, models.ListQuery{
		Status:    models.StatusAll,
		SortBy:    models.SortByCreatedAt,
		SortOrder: models.SortDesc,
		Page:      1,
		Limit:     10,
	}, q)

	assert.Equal(t, 25, NewController(25).State().Limit)
}

func TestController_ChangesResetPage(t *testing.T) {
	tests := []struct {
		name   string
		change func(*Controller)
	}{
		{"filter", func(c *Controller) { c.SetFilter(models.StatusFilter(models.TaskStatusCompleted)) }},
		{"sort", func(c *Controller) { c.ToggleSort(models.SortByDescription) }},
		{"limit", func(c *Controller) { c.SetLimit(5) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := controllerOnPage(t, 3, 25)
			tt.change(c)
			assert.Equal(t, 1, c.State().Page)
		})
	}
}

func TestController_SetLimitIgnoresInvalid(t *testing.T) {
	c := controllerOnPage(t, 2, 25)
	c.SetLimit(0)
	c.SetLimit(-3)
	assert.Equal(t, 10, c.State().Limit)
	assert.Equal(t, 2, c.State().Page)

	c.SetLimit(1000)
	assert.Equal(t, models.MaxLimit, c.State().Limit)
}

func TestController_SetFilterUnknownMeansAll(t *testing.T) {
	c := NewController(10)
	c.SetFilter("archived")
	assert.Equal(t, models.StatusAll, c.State().Status)
}

func TestController_ToggleSort(t *testing.T) {
	c := NewController(10)

	c.ToggleSort(models.SortByDescription)
	assert.Equal(t, models.SortByDescription, c.State().SortBy)
	assert.Equal(t, models.SortAsc, c.State().SortOrder)

	c.ToggleSort(models.SortByDescription)
	assert.Equal(t, models.SortDesc, c.State().SortOrder)

	// third click on the same key starts over ascending
	c.ToggleSort(models.SortByDescription)
	assert.Equal(t, models.SortAsc, c.State().SortOrder)

	c.ToggleSort(models.SortByDescription)
	c.ToggleSort(models.SortByID)
	assert.Equal(t, models.SortByID, c.State().SortBy)
	assert.Equal(t, models.SortAsc, c.State().SortOrder)
}

func TestController_GoToClamps(t *testing.T) {
	c := controllerOnPage(t, 1, 25)

	assert.False(t, c.GoTo(0))
	assert.False(t, c.GoTo(4))
	assert.False(t, c.GoTo(1), "current page is a no-op")
	assert.Equal(t, 1, c.State().Page)

	assert.True(t, c.GoTo(3))
	assert.Equal(t, 3, c.State().Page)
}

func TestController_Navigation(t *testing.T) {
	c := controllerOnPage(t, 1, 25)

	assert.False(t, c.Prev())
	assert.True(t, c.Next())
	assert.Equal(t, 2, c.State().Page)
	assert.True(t, c.Last())
	assert.Equal(t, 3, c.State().Page)
	assert.False(t, c.Next())
	assert.True(t, c.Prev())
	assert.Equal(t, 2, c.State().Page)
	assert.True(t, c.First())
	assert.Equal(t, 1, c.State().Page)
	assert.False(t, c.First())
}

func TestController_NavigationWithoutMetadata(t *testing.T) {
	c := NewController(10)
	assert.False(t, c.Next())
	assert.False(t, c.Last())
	assert.Nil(t, c.NearbyPages(2))
}

func TestController_NearbyPages(t *testing.T) {
	c := controllerOnPage(t, 1, 95)
	assert.Equal(t, []int{1, 2, 3}, c.NearbyPages(2))

	require.True(t, c.GoTo(5))
	assert.Equal(t, []int{3, 4, 5, 6, 7}, c.NearbyPages(2))

	require.True(t, c.Last())
	assert.Equal(t, []int{8, 9, 10}, c.NearbyPages(2))
}

func TestController_Load(t *testing.T) {
	names := make([]string, 25)
	for i := range names {
		names[i] = "task"
	}
	api := newFakeAPI(names...)
	cache := NewTaskCache(api)
	c := NewController(10)

	require.NoError(t, c.Load(context.Background(), cache))
	assert.Equal(t, 3, c.Meta().TotalPages)
	assert.Len(t, cache.Tasks(), 10)

	require.True(t, c.Last())
	require.NoError(t, c.Load(context.Background(), cache))
	assert.Len(t, cache.Tasks(), 5)
	assert.Equal(t, models.Pagination{
		CurrentPage:     3,
		TotalPages:      3,
		TotalCount:      25,
		Limit:           10,
		HasNextPage:     false,
		HasPreviousPage: true,
	}, c.Meta())

	api.list = func(context.Context, models.ListQuery) (models.TaskPage, error) {
		return models.TaskPage{}, errServer
	}
	require.Error(t, c.Load(context.Background(), cache))
	assert.Equal(t, 3, c.Meta().CurrentPage, "failed load keeps the last metadata")
}
