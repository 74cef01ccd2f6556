package db

import (
	"fmt"
	"strings"

	"github.com/chepyr/todo-tracker/internal/models"
)

const taskColumns = `id, description, status, created_at, updated_at`

// only whitelisted column names ever reach the ORDER BY clause
var sortColumns = map[models.SortField]string{
	models.SortByID:          "id",
	models.SortByDescription: "description",
	models.SortByCreatedAt:   "created_at",
}

type listStatement struct {
	pageSQL   string
	pageArgs  []any
	countSQL  string
	countArgs []any
}

// buildListQuery expects a normalized query. The page and count statements
// share one WHERE clause so totalCount always matches the page filter.
func buildListQuery(q models.ListQuery) listStatement {
	var where string
	var args []any
	if q.Status != models.StatusAll {
		args = append(args, string(q.Status))
		where = fmt.Sprintf(" WHERE status = $%d", len(args))
	}

	column, ok := sortColumns[q.SortBy]
	if !ok {
		column = sortColumns[models.SortByCreatedAt]
	}
	direction := "DESC"
	if q.SortOrder == models.SortAsc {
		direction = "ASC"
	}

	var page strings.Builder
	page.WriteString("SELECT " + taskColumns + " FROM tasks")
	page.WriteString(where)
	fmt.Fprintf(&page, " ORDER BY %s %s", column, direction)
	pageArgs := append([]any{}, args...)
	pageArgs = append(pageArgs, q.Limit, q.Offset())
	fmt.Fprintf(&page, " LIMIT $%d OFFSET $%d", len(pageArgs)-1, len(pageArgs))

	return listStatement{
		pageSQL:   page.String(),
		pageArgs:  pageArgs,
		countSQL:  "SELECT COUNT(*) FROM tasks" + where,
		countArgs: args,
	}
}
