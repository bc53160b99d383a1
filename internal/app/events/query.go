package events

import (
	"sort"
	"strings"
	"time"
)

// Criteria narrows a collection for display. All three predicates are
// conjunctive; there is no OR mode.
type Criteria struct {
	Search   string     // case-insensitive title substring; empty matches all
	Category Category   // CategoryAll or empty keeps every category
	OnDate   *time.Time // nil keeps every day
}

// Filter returns the events matching every predicate of c. It never mutates
// its input.
func Filter(list []Event, c Criteria) []Event {
	search := strings.ToLower(c.Search)
	out := make([]Event, 0, len(list))
	for _, e := range list {
		if !strings.Contains(strings.ToLower(e.Title), search) {
			continue
		}
		if c.Category != "" && c.Category != CategoryAll && e.Category != c.Category {
			continue
		}
		if c.OnDate != nil && !SameDay(e.Date, *c.OnDate) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// SortUpcoming orders a collection for the list view: every event happening
// on now's calendar day precedes every other event, regardless of absolute
// time, and each of the two groups is internally chronological. The sort is
// stable.
func SortUpcoming(list []Event, now time.Time) []Event {
	out := make([]Event, len(list))
	copy(out, list)
	sort.SliceStable(out, func(i, j int) bool {
		todayI, todayJ := SameDay(out[i].Date, now), SameDay(out[j].Date, now)
		if todayI != todayJ {
			return todayI
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// BadgeFor labels an event relative to now. An event earlier today is still
// Today: the horizon filter works at day granularity, so a record reaching
// this function is never past.
func BadgeFor(e Event, now time.Time) Badge {
	if SameDay(e.Date, now) {
		return BadgeToday
	}
	return BadgeUpcoming
}

// SameDay reports whether a and b fall on the same calendar day in b's
// location.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.In(b.Location()).Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DayStart returns midnight of t's calendar day in t's location.
func DayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
