package media

import (
	"strings"
	"time"
)

// Review is a written review. MediaID is a weak reference: the item may be gone.
type Review struct {
	ID         string    `json:"id,omitempty"`
	MediaID    string    `json:"mediaId,omitempty" validate:"max=190"`
	Title      string    `json:"title" validate:"required,max=300"`
	Content    string    `json:"content" validate:"max=20000"`
	Rating     *float64  `json:"rating,omitempty" validate:"omitempty,gte=0,lte=10"`
	IsFavorite bool      `json:"isFavorite"`
	CreatedAt  time.Time `json:"createdAt,omitzero"`
	UpdatedAt  time.Time `json:"updatedAt,omitzero"`
}

func (r Review) EntityID() string {
	return r.ID
}

func (r Review) WithID(id string) Review {
	copied := r.Clone()
	copied.ID = id
	return copied
}

func (r Review) Touch(at time.Time) Review {
	copied := r.Clone()
	copied.UpdatedAt = at
	return copied
}

func (r Review) WithTimestamps(createdAt, updatedAt time.Time) Review {
	copied := r.Clone()
	copied.CreatedAt = createdAt
	copied.UpdatedAt = updatedAt
	return copied
}

func (r Review) Clone() Review {
	copied := r
	copied.Rating = clonePointer(r.Rating)
	return copied
}

// Normalize trims free-text fields.
func (r Review) Normalize() Review {
	copied := r.Clone()
	copied.Title = strings.TrimSpace(copied.Title)
	copied.MediaID = strings.TrimSpace(copied.MediaID)
	return copied
}

// ReviewPatch is the tagged partial update for a Review.
type ReviewPatch struct {
	MediaID    Optional[string]
	Title      *string
	Content    *string
	Rating     Optional[float64]
	IsFavorite *bool
}

func (p ReviewPatch) IsEmpty() bool {
	return !p.MediaID.IsSet() && p.Title == nil && p.Content == nil && !p.Rating.IsSet() && p.IsFavorite == nil
}

func (p ReviewPatch) Apply(review Review) Review {
	merged := review.Clone()
	if p.MediaID.IsSet() {
		mediaID, _ := p.MediaID.Value()
		merged.MediaID = strings.TrimSpace(mediaID)
	}
	if p.Title != nil {
		merged.Title = strings.TrimSpace(*p.Title)
	}
	if p.Content != nil {
		merged.Content = *p.Content
	}
	merged.Rating = p.Rating.applyTo(review.Rating)
	if p.IsFavorite != nil {
		merged.IsFavorite = *p.IsFavorite
	}
	return merged
}

func (p ReviewPatch) Fields() map[string]any {
	fields := make(map[string]any)
	if p.MediaID.IsSet() {
		fields["mediaId"] = p.MediaID.documentValue()
	}
	if p.Title != nil {
		fields["title"] = strings.TrimSpace(*p.Title)
	}
	if p.Content != nil {
		fields["content"] = *p.Content
	}
	if p.Rating.IsSet() {
		fields["rating"] = p.Rating.documentValue()
	}
	if p.IsFavorite != nil {
		fields["isFavorite"] = *p.IsFavorite
	}
	return fields
}
