package media

import (
	"strings"
	"time"
)

// MediaItem is one tracked game, book, movie, series, or anime.
type MediaItem struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title" validate:"required,max=300"`
	Type        MediaType `json:"type" validate:"required,oneof=game book movie series anime"`
	Status      Status    `json:"status" validate:"required,oneof=planned in-progress completed dropped"`
	Rating      *float64  `json:"rating,omitempty" validate:"omitempty,gte=0,lte=10"`
	HoursSpent  *float64  `json:"hoursSpent,omitempty" validate:"omitempty,gte=0,lte=1000000"`
	TotalPages  *int      `json:"totalPages,omitempty" validate:"omitempty,gte=0"`
	CurrentPage *int      `json:"currentPage,omitempty" validate:"omitempty,gte=0"`
	Tags        []string  `json:"tags,omitempty" validate:"omitempty,dive,max=64"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

// EntityID returns the item identifier.
func (m MediaItem) EntityID() string {
	return m.ID
}

// WithID returns a copy carrying id.
func (m MediaItem) WithID(id string) MediaItem {
	copied := m.Clone()
	copied.ID = id
	return copied
}

// Touch returns a copy with UpdatedAt stamped to at.
func (m MediaItem) Touch(at time.Time) MediaItem {
	copied := m.Clone()
	copied.UpdatedAt = at
	return copied
}

// WithTimestamps returns a copy carrying store-assigned timestamps.
func (m MediaItem) WithTimestamps(createdAt, updatedAt time.Time) MediaItem {
	copied := m.Clone()
	copied.CreatedAt = createdAt
	copied.UpdatedAt = updatedAt
	return copied
}

// Clone returns a deep copy so cached values never share pointers with callers.
func (m MediaItem) Clone() MediaItem {
	copied := m
	copied.Rating = clonePointer(m.Rating)
	copied.HoursSpent = clonePointer(m.HoursSpent)
	copied.TotalPages = clonePointer(m.TotalPages)
	copied.CurrentPage = clonePointer(m.CurrentPage)
	copied.Tags = cloneStrings(m.Tags)
	return copied
}

// Normalize trims the title and normalizes the tag set.
func (m MediaItem) Normalize() MediaItem {
	copied := m.Clone()
	copied.Title = strings.TrimSpace(copied.Title)
	copied.Tags = normalizeTags(copied.Tags)
	return copied
}

// Hours returns HoursSpent with absent treated as zero.
func (m MediaItem) Hours() float64 {
	if m.HoursSpent == nil {
		return 0
	}
	return *m.HoursSpent
}

// IsCompleted reports whether the item is marked completed.
func (m MediaItem) IsCompleted() bool {
	return m.Status == StatusCompleted
}

// ProgressPercent reports reading progress for books with a known page count.
// currentPage beyond totalPages is reported as 100.
func (m MediaItem) ProgressPercent() (float64, bool) {
	if m.Type != TypeBook || m.TotalPages == nil || *m.TotalPages <= 0 {
		return 0, false
	}
	current := 0
	if m.CurrentPage != nil {
		current = *m.CurrentPage
	}
	percent := float64(current) / float64(*m.TotalPages) * 100
	switch {
	case percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}
	return percent, true
}

// MediaItemPatch is the tagged partial update for a MediaItem.
type MediaItemPatch struct {
	Title       *string
	Type        *MediaType
	Status      *Status
	Rating      Optional[float64]
	HoursSpent  Optional[float64]
	TotalPages  Optional[int]
	CurrentPage Optional[int]
	Tags        *[]string
}

// IsEmpty reports whether the patch changes nothing.
func (p MediaItemPatch) IsEmpty() bool {
	return p.Title == nil && p.Type == nil && p.Status == nil &&
		!p.Rating.IsSet() && !p.HoursSpent.IsSet() &&
		!p.TotalPages.IsSet() && !p.CurrentPage.IsSet() && p.Tags == nil
}

// Apply returns item with the patch merged in. Timestamps are left to the caller.
func (p MediaItemPatch) Apply(item MediaItem) MediaItem {
	merged := item.Clone()
	if p.Title != nil {
		merged.Title = strings.TrimSpace(*p.Title)
	}
	if p.Type != nil {
		merged.Type = *p.Type
	}
	if p.Status != nil {
		merged.Status = *p.Status
	}
	merged.Rating = p.Rating.applyTo(item.Rating)
	merged.HoursSpent = p.HoursSpent.applyTo(item.HoursSpent)
	merged.TotalPages = p.TotalPages.applyTo(item.TotalPages)
	merged.CurrentPage = p.CurrentPage.applyTo(item.CurrentPage)
	if p.Tags != nil {
		merged.Tags = normalizeTags(*p.Tags)
	}
	return merged
}

// Fields returns the partial document for the store; cleared fields map to nil.
func (p MediaItemPatch) Fields() map[string]any {
	fields := make(map[string]any)
	if p.Title != nil {
		fields["title"] = strings.TrimSpace(*p.Title)
	}
	if p.Type != nil {
		fields["type"] = *p.Type
	}
	if p.Status != nil {
		fields["status"] = *p.Status
	}
	if p.Rating.IsSet() {
		fields["rating"] = p.Rating.documentValue()
	}
	if p.HoursSpent.IsSet() {
		fields["hoursSpent"] = p.HoursSpent.documentValue()
	}
	if p.TotalPages.IsSet() {
		fields["totalPages"] = p.TotalPages.documentValue()
	}
	if p.CurrentPage.IsSet() {
		fields["currentPage"] = p.CurrentPage.documentValue()
	}
	if p.Tags != nil {
		fields["tags"] = normalizeTags(*p.Tags)
	}
	return fields
}
