package events

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/eventbook/project/internal/platform/kv"
)

func newTestService() *Service {
	svc := NewService(NewStore(kv.NewMemory()))
	next := 0
	svc.NewID = func() string {
		next++
		return "id-" + strconv.Itoa(next)
	}
	svc.Now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestCreate_AssignsIDAndPersists(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	created, err := svc.Create(ctx, Draft{
		Title:    "Team Sync",
		Date:     time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		Category: CategoryMeeting,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.ID != "id-1" {
		t.Fatalf("unexpected id: %q", created.ID)
	}

	stored := svc.Store.LoadAll(ctx)
	if len(stored) != 1 || !reflect.DeepEqual(stored[0], created) {
		t.Fatalf("unexpected stored collection: %+v", stored)
	}
}

func TestCreate_Validation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	date := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	if _, err := svc.Create(ctx, Draft{Date: date, Category: CategoryWork}); !errors.Is(err, ErrTitleRequired) {
		t.Fatalf("expected ErrTitleRequired, got %v", err)
	}
	if _, err := svc.Create(ctx, Draft{Title: "x", Category: CategoryWork}); !errors.Is(err, ErrDateRequired) {
		t.Fatalf("expected ErrDateRequired, got %v", err)
	}
	if _, err := svc.Create(ctx, Draft{Title: "x", Date: date, Category: "Other"}); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}
	if got := svc.Store.LoadAll(ctx); len(got) != 0 {
		t.Fatalf("failed creates must not reach the store, got %+v", got)
	}
}

func TestUpdate_PreservesIdentityAndNeighbours(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	date := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)

	first, err := svc.Create(ctx, Draft{Title: "Old title", Date: date, Category: CategoryWork})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	second, err := svc.Create(ctx, Draft{Title: "Untouched", Date: date.Add(time.Hour), Category: CategoryPersonal})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	newTitle := "New"
	updated, err := svc.Update(ctx, first.ID, Patch{Title: &newTitle})
	if err != nil {
		t.Fatalf("Update error: %v", err)
	}
	if updated.ID != first.ID || updated.Title != "New" || !updated.Date.Equal(first.Date) || updated.Category != first.Category {
		t.Fatalf("only title should change: %+v", updated)
	}

	stored := svc.Store.LoadAll(ctx)
	if len(stored) != 2 || !reflect.DeepEqual(stored[1], second) {
		t.Fatalf("other records must be untouched: %+v", stored)
	}
}

func TestUpdate_MissingIDIsReported(t *testing.T) {
	svc := newTestService()
	newTitle := "x"
	_, err := svc.Update(context.Background(), "absent", Patch{Title: &newTitle})
	if !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestUpdate_RejectsInvalidPatch(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	created, err := svc.Create(ctx, Draft{
		Title:    "Keep me",
		Date:     time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		Category: CategoryWork,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	empty := "   "
	if _, err := svc.Update(ctx, created.ID, Patch{Title: &empty}); !errors.Is(err, ErrTitleRequired) {
		t.Fatalf("expected ErrTitleRequired, got %v", err)
	}
	bad := Category("Other")
	if _, err := svc.Update(ctx, created.ID, Patch{Category: &bad}); !errors.Is(err, ErrInvalidCategory) {
		t.Fatalf("expected ErrInvalidCategory, got %v", err)
	}

	stored := svc.Store.LoadAll(ctx)
	if len(stored) != 1 || !reflect.DeepEqual(stored[0], created) {
		t.Fatalf("rejected patches must not change the record: %+v", stored)
	}
}

func TestDelete_IsIdempotent(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	created, err := svc.Create(ctx, Draft{
		Title:    "Short lived",
		Date:     time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC),
		Category: CategoryWork,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("second Delete must still succeed: %v", err)
	}
	if err := svc.Delete(ctx, "never-existed"); err != nil {
		t.Fatalf("deleting an unknown id must succeed: %v", err)
	}
	if got := svc.Store.LoadAll(ctx); len(got) != 0 {
		t.Fatalf("expected empty collection, got %+v", got)
	}
}

func TestList_PrunesFiltersAndSorts(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	seed := []Event{
		{ID: "past", Title: "Gone", Date: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), Category: CategoryWork},
		{ID: "tomorrow", Title: "Team Planning", Date: time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC), Category: CategoryMeeting},
		{ID: "today", Title: "Team Sync", Date: time.Date(2026, 8, 31, 18, 0, 0, 0, time.UTC), Category: CategoryMeeting},
		{ID: "lunch", Title: "Team Lunch", Date: time.Date(2026, 8, 31, 13, 0, 0, 0, time.UTC), Category: CategoryPersonal},
	}
	if err := svc.Store.ReplaceAll(ctx, seed); err != nil {
		t.Fatalf("ReplaceAll error: %v", err)
	}

	got, err := svc.List(ctx, Criteria{Search: "team", Category: CategoryMeeting})
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(got) != 2 || got[0].ID != "today" || got[1].ID != "tomorrow" {
		t.Fatalf("unexpected list: %+v", got)
	}

	// The prune must have been persisted, including records the display
	// filter hid.
	stored := svc.Store.LoadAll(ctx)
	if len(stored) != 3 {
		t.Fatalf("expected 3 persisted events after prune, got %+v", stored)
	}
	for _, e := range stored {
		if e.ID == "past" {
			t.Fatalf("past event survived the prune: %+v", stored)
		}
	}
}

func TestGet(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	created, err := svc.Create(ctx, Draft{
		Title:    "Dentist",
		Date:     time.Date(2026, 9, 2, 15, 0, 0, 0, time.UTC),
		Category: CategoryPersonal,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if !reflect.DeepEqual(got, created) {
		t.Fatalf("unexpected event: %+v", got)
	}
	if _, err := svc.Get(ctx, "absent"); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}
