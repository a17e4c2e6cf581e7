package domain

import "context"

type Repository interface {
	// FindRecordsByDate drains every packaging record for the calendar
	// date (formatted 2006-01-02), however many pages that takes.
	FindRecordsByDate(ctx context.Context, date string) ([]PackagingRecord, error)

	// FindItemsByRecordIDs drains every scanned item belonging to the
	// given records.
	FindItemsByRecordIDs(ctx context.Context, recordIDs []string) ([]PackagingItem, error)
}
