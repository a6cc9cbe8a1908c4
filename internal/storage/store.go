// Package storage provides the save/load-by-id persistence the course
// plugins depend on. Records are JSON blobs keyed by an opaque string id
// within a named collection.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Collections known to the framework.
const (
	CollectionCourses         = "courses"
	CollectionLessonTemplates = "lesson_templates"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUnknownCollection is returned for collections outside Collections().
	ErrUnknownCollection = errors.New("unknown collection")
)

// Collections returns the collections every Store supports.
func Collections() []string {
	return []string{CollectionCourses, CollectionLessonTemplates}
}

// Record is a stored JSON document. Timestamps are set by the store and
// serialize as RFC 3339.
type Record struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Decode unmarshals the record's data into v.
func (r Record) Decode(v any) error {
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decode record %s: %w", r.ID, err)
	}
	return nil
}

// NewRecord marshals v into a record with the given id. An empty id lets
// the store assign one on Save.
func NewRecord(id string, v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("encode record %s: %w", id, err)
	}
	return Record{ID: id, Data: data}, nil
}

// Store is the CRUD surface over collections.
type Store interface {
	// GetAll returns every record in the collection ordered by creation time.
	GetAll(ctx context.Context, collection string) ([]Record, error)

	// GetByID returns one record or ErrNotFound.
	GetByID(ctx context.Context, collection, id string) (Record, error)

	// Save inserts or replaces the record and returns it as stored.
	Save(ctx context.Context, collection string, rec Record) (Record, error)

	// Delete removes the record. Deleting a missing record returns ErrNotFound.
	Delete(ctx context.Context, collection, id string) error

	// Close releases the store's resources.
	Close() error
}

func checkCollection(collection string) error {
	for _, c := range Collections() {
		if c == collection {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownCollection, collection)
}
