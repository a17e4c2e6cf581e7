package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// duplicateProbes match drivers that only surface unique violations through
// the error text. sqlite is the test dialect, mysql reports code 1062.
var duplicateProbes = []string{
	"duplicate key value violates unique constraint",
	"UNIQUE constraint failed",
	"Error 1062",
}

// IsDuplicateKeyErr reports whether err is a unique constraint violation on
// any supported dialect.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}

	text := err.Error()
	for _, probe := range duplicateProbes {
		if strings.Contains(text, probe) {
			return true
		}
	}
	return false
}
