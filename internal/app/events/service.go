package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nuid"
)

var (
	ErrTitleRequired = errors.New("title is required")
	ErrDateRequired  = errors.New("date is required")
	ErrEventNotFound = errors.New("event not found")
)

// Service layers the mutation operations over the Store. Every mutation is
// read-modify-write against the whole collection with no locking, which
// matches the single-user sequential usage this store is built for.
type Service struct {
	Store *Store
	NewID func() string
	Now   func() time.Time
}

func NewService(store *Store) *Service {
	return &Service{
		Store: store,
		NewID: nuid.Next,
		Now:   time.Now,
	}
}

type Draft struct {
	Title    string
	Date     time.Time
	Category Category
}

type Patch struct {
	Title    *string
	Date     *time.Time
	Category *Category
}

// Create validates the draft, assigns a fresh id, appends the record and
// persists the collection.
func (s *Service) Create(ctx context.Context, draft Draft) (Event, error) {
	title := strings.TrimSpace(draft.Title)
	if title == "" {
		return Event{}, ErrTitleRequired
	}
	if draft.Date.IsZero() {
		return Event{}, ErrDateRequired
	}
	if !draft.Category.Valid() {
		return Event{}, ErrInvalidCategory
	}

	e := Event{
		ID:       s.NewID(),
		Title:    title,
		Date:     draft.Date,
		Category: draft.Category,
	}
	list := s.Store.LoadAll(ctx)
	list = append(list, e)
	if err := s.Store.ReplaceAll(ctx, list); err != nil {
		return Event{}, err
	}
	return e, nil
}

func (s *Service) Get(ctx context.Context, id string) (Event, error) {
	for _, e := range s.Store.LoadAll(ctx) {
		if e.ID == id {
			return e, nil
		}
	}
	return Event{}, ErrEventNotFound
}

// Update merges the patch over the stored record and rewrites the whole
// collection. A missing id is reported, unlike Delete: an edit always holds
// a concrete record, so silently rewriting nothing would hide a lost event.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (Event, error) {
	list := s.Store.LoadAll(ctx)
	idx := -1
	for i, e := range list {
		if e.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Event{}, ErrEventNotFound
	}

	e := list[idx]
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return Event{}, ErrTitleRequired
		}
		e.Title = title
	}
	if patch.Date != nil {
		if patch.Date.IsZero() {
			return Event{}, ErrDateRequired
		}
		e.Date = *patch.Date
	}
	if patch.Category != nil {
		if !patch.Category.Valid() {
			return Event{}, ErrInvalidCategory
		}
		e.Category = *patch.Category
	}

	list[idx] = e
	if err := s.Store.ReplaceAll(ctx, list); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Delete removes the record with id. Deleting an id that is not present is a
// successful no-op.
func (s *Service) Delete(ctx context.Context, id string) error {
	list := s.Store.LoadAll(ctx)
	kept := make([]Event, 0, len(list))
	for _, e := range list {
		if e.ID == id {
			continue
		}
		kept = append(kept, e)
	}
	return s.Store.ReplaceAll(ctx, kept)
}

// List is the list-view composite: prune past events, apply the display
// filters, then the tiered sort.
func (s *Service) List(ctx context.Context, c Criteria) ([]Event, error) {
	now := s.Now()
	list, err := s.Store.PruneAndLoad(ctx, now)
	if err != nil {
		return nil, err
	}
	return SortUpcoming(Filter(list, c), now), nil
}
