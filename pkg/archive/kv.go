package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/quatton/catmap-adapter/pkg/kv"
)

const keyPrefix = "catmap:outcome:"

// KVStore keeps records as JSON values in a kv.Store.
type KVStore struct {
	kv  kv.Store
	ttl time.Duration
}

// NewKVStore stores records in store. A zero ttl keeps them forever.
func NewKVStore(store kv.Store, ttl time.Duration) *KVStore {
	return &KVStore{kv: store, ttl: ttl}
}

func (s *KVStore) Save(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode outcome: %w", err)
	}
	if err := s.kv.Set(ctx, keyPrefix+rec.RunID, data, s.ttl); err != nil {
		return fmt.Errorf("failed to store outcome: %w", err)
	}
	return nil
}

func (s *KVStore) Get(ctx context.Context, runID string) (*Record, error) {
	data, err := s.kv.Get(ctx, keyPrefix+runID)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load outcome: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode outcome: %w", err)
	}
	return &rec, nil
}

func (s *KVStore) Delete(ctx context.Context, runID string) error {
	return s.kv.Delete(ctx, keyPrefix+runID)
}

var _ Store = (*KVStore)(nil)
