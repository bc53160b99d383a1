package events

import (
	"errors"
	"strings"
	"time"
)

// Category classifies an event. The set is closed: there is no catch-all
// value, and anything outside it fails validation.
type Category string

const (
	CategoryWork     Category = "Work"
	CategoryPersonal Category = "Personal"
	CategoryBirthday Category = "Birthday"
	CategoryMeeting  Category = "Meeting"

	// CategoryAll is a filter-only sentinel. It is never stored on a record.
	CategoryAll Category = "All"
)

var ErrInvalidCategory = errors.New("invalid category")

func ParseCategory(raw string) (Category, error) {
	switch c := Category(strings.TrimSpace(raw)); c {
	case CategoryWork, CategoryPersonal, CategoryBirthday, CategoryMeeting:
		return c, nil
	default:
		return "", ErrInvalidCategory
	}
}

func (c Category) Valid() bool {
	_, err := ParseCategory(string(c))
	return err == nil
}

// Event is one calendar entry. Date carries both the day and the time of the
// event and serializes as RFC 3339, which is the on-disk format of the
// collection blob.
type Event struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Date     time.Time `json:"date"`
	Category Category  `json:"category"`
}

// Badge is the display label for a retained event. There is no past badge:
// events dated before today never survive the horizon filter.
type Badge string

const (
	BadgeToday    Badge = "Today"
	BadgeUpcoming Badge = "Upcoming"
)
