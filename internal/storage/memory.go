package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"courseframework/pkg/clock"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryStore keeps records in process memory. It is the default store and
// the one tests use.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]map[string]Record
	clock   clock.Clock
	logger  *zap.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger, c clock.Clock) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if c == nil {
		c = clock.NewRealClock()
	}
	records := make(map[string]map[string]Record)
	for _, name := range Collections() {
		records[name] = make(map[string]Record)
	}
	return &MemoryStore{
		records: records,
		clock:   c,
		logger:  logger.Named("storage.memory"),
	}
}

// GetAll implements Store
func (s *MemoryStore) GetAll(ctx context.Context, collection string) ([]Record, error) {
	if err := checkCollection(collection); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records[collection]))
	for _, rec := range s.records[collection] {
		out = append(out, copyRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetByID implements Store
func (s *MemoryStore) GetByID(ctx context.Context, collection, id string) (Record, error) {
	if err := checkCollection(collection); err != nil {
		return Record{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[collection][id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	return copyRecord(rec), nil
}

// Save implements Store
func (s *MemoryStore) Save(ctx context.Context, collection string, rec Record) (Record, error) {
	if err := checkCollection(collection); err != nil {
		return Record{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	now := s.clock.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[collection][rec.ID]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	s.records[collection][rec.ID] = copyRecord(rec)

	s.logger.Debug("Record saved",
		zap.String("collection", collection),
		zap.String("id", rec.ID))
	return copyRecord(rec), nil
}

// Delete implements Store
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	if err := checkCollection(collection); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[collection][id]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, collection, id)
	}
	delete(s.records[collection], id)
	return nil
}

// Close implements Store
func (s *MemoryStore) Close() error {
	return nil
}

func copyRecord(rec Record) Record {
	if rec.Data != nil {
		data := make([]byte, len(rec.Data))
		copy(data, rec.Data)
		rec.Data = data
	}
	return rec
}
