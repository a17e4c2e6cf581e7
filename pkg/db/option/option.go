package option

import (
	"regexp"
	"strings"

	"github.com/packhouse/packline/pkg/db/pagination"
	"gorm.io/gorm"
)

// QueryOption refines a gorm statement before execution.
type QueryOption interface {
	Apply(stmt *gorm.DB) *gorm.DB
}

type queryOptionFunc func(*gorm.DB) *gorm.DB

func (f queryOptionFunc) Apply(stmt *gorm.DB) *gorm.DB { return f(stmt) }

type Operator string

const (
	EQ  Operator = "="
	GT  Operator = ">"
	GTE Operator = ">="
	LT  Operator = "<"
	LTE Operator = "<="
)

// Condition expresses a single field comparison.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// ApplyOperator adds a comparison predicate. Hostile field names and unknown
// operators are dropped rather than interpolated into SQL.
func ApplyOperator(cond Condition) QueryOption {
	return queryOptionFunc(func(stmt *gorm.DB) *gorm.DB {
		if !fieldPattern.MatchString(cond.Field) {
			return stmt
		}
		switch cond.Operator {
		case EQ, GT, GTE, LT, LTE:
			return stmt.Where(cond.Field+" "+string(cond.Operator)+" ?", cond.Value)
		}
		return stmt
	})
}

// QuerySortBy sorts by an allow-listed column, created_at descending when
// unset or outside the allow list.
type QuerySortBy struct {
	SortBy  string
	OrderBy string
	Allow   map[string]bool
}

// WithQuerySortBy builds a QuerySortBy from request fields.
func WithQuerySortBy(sortBy, orderBy string, allow map[string]bool) QuerySortBy {
	return QuerySortBy{SortBy: sortBy, OrderBy: orderBy, Allow: allow}
}

// WithSortBy applies the sort with an id tiebreak for stable cursors.
func WithSortBy(sort QuerySortBy) QueryOption {
	return queryOptionFunc(func(stmt *gorm.DB) *gorm.DB {
		column := strings.ToLower(strings.TrimSpace(sort.SortBy))
		if column == "" || !sort.Allow[column] {
			column = "created_at"
		}
		direction := strings.ToLower(strings.TrimSpace(sort.OrderBy))
		if direction != "asc" {
			direction = "desc"
		}
		return stmt.Order(column + " " + direction + ", id " + direction)
	})
}

// ApplyPagination decodes the cursor token and fetches one row beyond the
// page size so callers can detect a further page.
func ApplyPagination(page pagination.Pagination) QueryOption {
	return queryOptionFunc(func(stmt *gorm.DB) *gorm.DB {
		size := pagination.Clamp(page.PageSize, 10)
		if token := strings.TrimSpace(page.PageToken); token != "" {
			if cursor, err := pagination.DecodeCursor(token); err == nil && cursor != nil && cursor.CreatedAt != "" {
				stmt = stmt.Where(
					"created_at < ? OR (created_at = ? AND id < ?)",
					cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
				)
			}
		}
		return stmt.Limit(size + 1)
	})
}
