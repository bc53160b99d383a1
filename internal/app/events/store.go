package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/eventbook/project/internal/platform/kv"
)

// DefaultKey is the persistence key holding the whole collection.
const DefaultKey = "events"

// ErrWriteFailed marks a failed overwrite of the persisted collection.
// The triggering user action is terminal: callers surface the failure and
// do not retry.
var ErrWriteFailed = errors.New("event write failed")

// Store owns the durable representation of the event collection: one JSON
// array blob under a single key of the injected key-value backend. There is
// no partial-update API; every mutation rewrites the whole blob.
type Store struct {
	KV  kv.Store
	Key string
}

func NewStore(backend kv.Store) *Store {
	return &Store{KV: backend, Key: DefaultKey}
}

// LoadAll returns the persisted collection. An absent key, a read failure
// and a blob that fails to parse all yield an empty collection: the source
// of this data cannot distinguish "no events yet" from corruption, and we
// keep that forgiving behavior rather than surface a distinct error.
func (s *Store) LoadAll(ctx context.Context) []Event {
	raw, err := s.KV.Get(ctx, s.Key)
	if err != nil {
		return []Event{}
	}
	var list []Event
	if err := json.Unmarshal(raw, &list); err != nil || list == nil {
		return []Event{}
	}
	return list
}

// ReplaceAll overwrites the persisted collection wholesale.
func (s *Store) ReplaceAll(ctx context.Context, list []Event) error {
	if list == nil {
		list = []Event{}
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := s.KV.Put(ctx, s.Key, raw); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// PruneAndLoad drops every event dated strictly before the start of now's
// calendar day, persists the pruned collection and returns it. Loading the
// list is deliberately a mutating operation: past events are garbage
// collected on every view, not on a schedule. The horizon is day-granular,
// so an event earlier today survives.
func (s *Store) PruneAndLoad(ctx context.Context, now time.Time) ([]Event, error) {
	list := s.LoadAll(ctx)
	horizon := DayStart(now)
	kept := make([]Event, 0, len(list))
	for _, e := range list {
		if e.Date.In(now.Location()).Before(horizon) {
			continue
		}
		kept = append(kept, e)
	}
	if err := s.ReplaceAll(ctx, kept); err != nil {
		return nil, err
	}
	return kept, nil
}
