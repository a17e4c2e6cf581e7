package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// MaxListLimit is the hard page cap the backend applies to every list call.
// Requests above the cap are clamped, not rejected.
const MaxListLimit = 100

var (
	ErrNotFound = errors.New("record_not_found")
	ErrConflict = errors.New("record_conflict")
)

// Record is a collection row addressed by column name.
type Record map[string]any

// Query narrows a List call. Filter values compare by equality; slice values
// translate to membership (IN).
type Query struct {
	Filter map[string]any
	Sort   string
	Limit  int
	Offset int
}

// Store is the narrow persistence surface the archival pipeline depends on.
// Get reports a miss as (nil, nil) so callers can treat absence as data.
type Store interface {
	List(ctx context.Context, collection string, q Query) ([]Record, error)
	Get(ctx context.Context, collection, id string) (Record, error)
	Create(ctx context.Context, collection string, rec Record) (Record, error)
	Update(ctx context.Context, collection, id string, changes Record) (Record, error)
}

// ClampLimit applies the backend page cap to a requested window.
func ClampLimit(limit int) int {
	if limit <= 0 || limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// ValidateField rejects anything outside identifier shape so field names can
// be spliced into SQL.
func ValidateField(field string) error {
	if field == "" {
		return fmt.Errorf("empty field name")
	}
	for _, r := range field {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return fmt.Errorf("invalid field name %q", field)
		}
	}
	return nil
}

// ParseSort validates a "field direction" sort clause.
func ParseSort(sort string) (field, direction string, err error) {
	sort = strings.TrimSpace(sort)
	if sort == "" {
		return "", "", nil
	}

	parts := strings.Fields(strings.ToLower(sort))
	if len(parts) > 2 {
		return "", "", fmt.Errorf("invalid sort %q", sort)
	}

	field = parts[0]
	if err := ValidateField(field); err != nil {
		return "", "", err
	}

	direction = "asc"
	if len(parts) == 2 {
		switch parts[1] {
		case "asc", "desc":
			direction = parts[1]
		default:
			return "", "", fmt.Errorf("invalid sort direction %q", parts[1])
		}
	}
	return field, direction, nil
}
