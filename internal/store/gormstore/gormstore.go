package gormstore

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/packhouse/packline/internal/store"
	"github.com/packhouse/packline/pkg/db"
	"gorm.io/gorm"
)

type gormStore struct {
	db    *gorm.DB
	genID *snowflake.Node
}

// New builds the gorm-backed store.
func New(gdb *gorm.DB, genID *snowflake.Node) store.Store {
	return &gormStore{db: gdb, genID: genID}
}

func (s *gormStore) List(ctx context.Context, collection string, q store.Query) ([]store.Record, error) {
	stmt := s.db.WithContext(ctx).Table(collection)

	for field, value := range q.Filter {
		if err := store.ValidateField(field); err != nil {
			return nil, err
		}
		if isSlice(value) {
			stmt = stmt.Where(fmt.Sprintf("%s IN ?", field), value)
			continue
		}
		stmt = stmt.Where(fmt.Sprintf("%s = ?", field), value)
	}

	if q.Sort != "" {
		field, direction, err := store.ParseSort(q.Sort)
		if err != nil {
			return nil, err
		}
		stmt = stmt.Order(field + " " + direction)
	}

	stmt = stmt.Limit(store.ClampLimit(q.Limit))
	if q.Offset > 0 {
		stmt = stmt.Offset(q.Offset)
	}

	var rows []map[string]any
	if err := stmt.Find(&rows).Error; err != nil {
		return nil, err
	}

	records := make([]store.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, store.Record(row))
	}
	return records, nil
}

func (s *gormStore) Get(ctx context.Context, collection, id string) (store.Record, error) {
	var rows []map[string]any
	err := s.db.WithContext(ctx).
		Table(collection).
		Where("id = ?", id).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return store.Record(rows[0]), nil
}

func (s *gormStore) Create(ctx context.Context, collection string, rec store.Record) (store.Record, error) {
	payload := clone(rec)
	if _, ok := payload["id"]; !ok {
		payload["id"] = s.genID.Generate().String()
	}
	now := time.Now().UTC()
	if _, ok := payload["created_at"]; !ok {
		payload["created_at"] = now
	}
	if _, ok := payload["updated_at"]; !ok {
		payload["updated_at"] = now
	}

	if err := s.db.WithContext(ctx).Table(collection).Create(map[string]any(payload)).Error; err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, fmt.Errorf("create %s: %w", collection, store.ErrConflict)
		}
		return nil, err
	}
	return store.Record(payload), nil
}

func (s *gormStore) Update(ctx context.Context, collection, id string, changes store.Record) (store.Record, error) {
	payload := clone(changes)
	delete(payload, "id")
	if _, ok := payload["updated_at"]; !ok {
		payload["updated_at"] = time.Now().UTC()
	}

	err := s.db.WithContext(ctx).
		Table(collection).
		Where("id = ?", id).
		Updates(map[string]any(payload)).Error
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, fmt.Errorf("update %s: %w", collection, store.ErrConflict)
		}
		return nil, err
	}

	updated, err := s.Get(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("update %s %s: %w", collection, id, store.ErrNotFound)
	}
	return updated, nil
}

func clone(rec store.Record) store.Record {
	out := make(store.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func isSlice(value any) bool {
	if value == nil {
		return false
	}
	kind := reflect.TypeOf(value).Kind()
	return kind == reflect.Slice || kind == reflect.Array
}
