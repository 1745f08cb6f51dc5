// Package media defines the diary entities tracked per user: media items, reviews,
// milestones, and the single settings document, plus their tagged partial updates.
package media

import "strings"

// MediaType enumerates the kinds of media a diary entry can describe.
type MediaType string

const (
	// TypeGame marks video and tabletop games.
	TypeGame MediaType = "game"
	// TypeBook marks books; only books carry page progress.
	TypeBook MediaType = "book"
	// TypeMovie marks feature films.
	TypeMovie MediaType = "movie"
	// TypeSeries marks live-action series.
	TypeSeries MediaType = "series"
	// TypeAnime marks anime series and films.
	TypeAnime MediaType = "anime"
)

// AllTypes lists every media type in display order.
var AllTypes = []MediaType{TypeGame, TypeBook, TypeMovie, TypeSeries, TypeAnime}

// ParseMediaType normalizes raw input into a MediaType.
func ParseMediaType(raw string) (MediaType, bool) {
	candidate := MediaType(strings.ToLower(strings.TrimSpace(raw)))
	return candidate, candidate.Valid()
}

// Valid reports whether the type is one of the known media types.
func (t MediaType) Valid() bool {
	switch t {
	case TypeGame, TypeBook, TypeMovie, TypeSeries, TypeAnime:
		return true
	default:
		return false
	}
}

// Status tracks where the user is with a media item.
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusDropped    Status = "dropped"
)

// ParseStatus normalizes raw input into a Status.
func ParseStatus(raw string) (Status, bool) {
	candidate := Status(strings.ToLower(strings.TrimSpace(raw)))
	return candidate, candidate.Valid()
}

// Valid reports whether the status is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPlanned, StatusInProgress, StatusCompleted, StatusDropped:
		return true
	default:
		return false
	}
}

// SortOrder is the user's preferred default ordering for library lists.
type SortOrder string

const (
	SortRecent SortOrder = "recent"
	SortTitle  SortOrder = "title"
	SortRating SortOrder = "rating"
	SortHours  SortOrder = "hours"
)

const (
	// MinRating is the lowest accepted rating.
	MinRating = 0.0
	// MaxRating is the highest accepted rating.
	MaxRating = 10.0
)

// normalizeTags trims, drops empties, and removes duplicates while keeping first-seen order.
func normalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}
	if len(normalized) == 0 {
		return nil
	}
	return normalized
}

func cloneStrings(values []string) []string {
	if values == nil {
		return nil
	}
	return append([]string(nil), values...)
}

func clonePointer[T any](value *T) *T {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
