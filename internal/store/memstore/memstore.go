package memstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/packhouse/packline/internal/store"
)

// Store is an in-memory store.Store for tests. It mirrors the backend's page
// cap so reader clamping stays observable, records every query it serves, and
// lets tests inject failures per operation and collection.
type Store struct {
	mu          sync.Mutex
	collections map[string][]store.Record
	unique      map[string][]string
	failures    map[string]error
	queries     map[string][]store.Query
	calls       map[string]int
	nextID      int64
}

// New builds an empty in-memory store.
func New() *Store {
	return &Store{
		collections: map[string][]store.Record{},
		unique:      map[string][]string{},
		failures:    map[string]error{},
		queries:     map[string][]store.Query{},
		calls:       map[string]int{},
	}
}

// Seed appends records to a collection without bumping call counters.
func (s *Store) Seed(collection string, recs ...store.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range recs {
		clone := cloneRecord(rec)
		if _, ok := clone["id"]; !ok {
			s.nextID++
			clone["id"] = "mem-" + strconv.FormatInt(s.nextID, 10)
		}
		s.collections[collection] = append(s.collections[collection], clone)
	}
}

// Unique registers fields whose values must not repeat within a collection.
func (s *Store) Unique(collection string, fields ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unique[collection] = append(s.unique[collection], fields...)
}

// Fail makes the given operation on the collection return err until cleared.
func (s *Store) Fail(op, collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op+" "+collection] = err
}

// ClearFailures removes all injected failures.
func (s *Store) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = map[string]error{}
}

// Calls returns how many times the operation ran against the collection.
func (s *Store) Calls(op, collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op+" "+collection]
}

// Queries returns the list queries served for a collection in order.
func (s *Store) Queries(collection string) []store.Query {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Query, len(s.queries[collection]))
	copy(out, s.queries[collection])
	return out
}

// All returns a snapshot of a collection's records.
func (s *Store) All(collection string) []store.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	recs := s.collections[collection]
	out := make([]store.Record, 0, len(recs))
	for _, rec := range recs {
		out = append(out, cloneRecord(rec))
	}
	return out
}

func (s *Store) List(ctx context.Context, collection string, q store.Query) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["list "+collection]++
	s.queries[collection] = append(s.queries[collection], q)
	if err := s.failures["list "+collection]; err != nil {
		return nil, err
	}

	var matched []store.Record
	for _, rec := range s.collections[collection] {
		if matchesFilter(rec, q.Filter) {
			matched = append(matched, rec)
		}
	}

	if q.Sort != "" {
		field, direction, err := store.ParseSort(q.Sort)
		if err != nil {
			return nil, err
		}
		sortRecords(matched, field, direction)
	}

	if q.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[q.Offset:]

	limit := store.ClampLimit(q.Limit)
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]store.Record, 0, len(matched))
	for _, rec := range matched {
		out = append(out, cloneRecord(rec))
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, collection, id string) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["get "+collection]++
	if err := s.failures["get "+collection]; err != nil {
		return nil, err
	}

	for _, rec := range s.collections[collection] {
		if stringValue(rec["id"]) == id {
			return cloneRecord(rec), nil
		}
	}
	return nil, nil
}

func (s *Store) Create(ctx context.Context, collection string, rec store.Record) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["create "+collection]++
	if err := s.failures["create "+collection]; err != nil {
		return nil, err
	}

	clone := cloneRecord(rec)
	if _, ok := clone["id"]; !ok {
		s.nextID++
		clone["id"] = "mem-" + strconv.FormatInt(s.nextID, 10)
	}
	now := time.Now().UTC()
	if _, ok := clone["created_at"]; !ok {
		clone["created_at"] = now
	}
	if _, ok := clone["updated_at"]; !ok {
		clone["updated_at"] = now
	}

	for _, existing := range s.collections[collection] {
		if stringValue(existing["id"]) == stringValue(clone["id"]) {
			return nil, fmt.Errorf("create %s: %w", collection, store.ErrConflict)
		}
		for _, field := range s.unique[collection] {
			value := stringValue(clone[field])
			if value != "" && stringValue(existing[field]) == value {
				return nil, fmt.Errorf("create %s: %w", collection, store.ErrConflict)
			}
		}
	}

	s.collections[collection] = append(s.collections[collection], clone)
	return cloneRecord(clone), nil
}

func (s *Store) Update(ctx context.Context, collection, id string, changes store.Record) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls["update "+collection]++
	if err := s.failures["update "+collection]; err != nil {
		return nil, err
	}

	for i, rec := range s.collections[collection] {
		if stringValue(rec["id"]) != id {
			continue
		}
		updated := cloneRecord(rec)
		for k, v := range changes {
			if k == "id" {
				continue
			}
			updated[k] = v
		}
		if _, ok := changes["updated_at"]; !ok {
			updated["updated_at"] = time.Now().UTC()
		}
		s.collections[collection][i] = updated
		return cloneRecord(updated), nil
	}
	return nil, fmt.Errorf("update %s %s: %w", collection, id, store.ErrNotFound)
}

func matchesFilter(rec store.Record, filter map[string]any) bool {
	for field, want := range filter {
		got := normalize(rec[field])
		switch values := want.(type) {
		case []string:
			if !containsNormalized(got, toAnySlice(values)) {
				return false
			}
		case []any:
			if !containsNormalized(got, values) {
				return false
			}
		default:
			if got != normalize(want) {
				return false
			}
		}
	}
	return true
}

func containsNormalized(got string, values []any) bool {
	for _, v := range values {
		if normalize(v) == got {
			return true
		}
	}
	return false
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

func sortRecords(recs []store.Record, field, direction string) {
	sort.SliceStable(recs, func(i, j int) bool {
		a := normalize(recs[i][field])
		b := normalize(recs[j][field])
		if fa, errA := strconv.ParseFloat(a, 64); errA == nil {
			if fb, errB := strconv.ParseFloat(b, 64); errB == nil {
				if direction == "desc" {
					return fa > fb
				}
				return fa < fb
			}
		}
		if direction == "desc" {
			return a > b
		}
		return a < b
	})
}

func normalize(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func stringValue(value any) string {
	return normalize(value)
}

func cloneRecord(rec store.Record) store.Record {
	out := make(store.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
