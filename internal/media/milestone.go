package media

import (
	"strings"
	"time"
)

// Milestone records a user-entered achievement, optionally tied to a media item.
type Milestone struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title" validate:"required,max=300"`
	Description string    `json:"description" validate:"max=5000"`
	Date        time.Time `json:"date" validate:"required"`
	Icon        string    `json:"icon" validate:"max=64"`
	MediaID     string    `json:"mediaId,omitempty" validate:"max=190"`
	CreatedAt   time.Time `json:"createdAt,omitzero"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

func (m Milestone) EntityID() string {
	return m.ID
}

func (m Milestone) WithID(id string) Milestone {
	copied := m
	copied.ID = id
	return copied
}

func (m Milestone) Touch(at time.Time) Milestone {
	copied := m
	copied.UpdatedAt = at
	return copied
}

func (m Milestone) WithTimestamps(createdAt, updatedAt time.Time) Milestone {
	copied := m
	copied.CreatedAt = createdAt
	copied.UpdatedAt = updatedAt
	return copied
}

func (m Milestone) Normalize() Milestone {
	copied := m
	copied.Title = strings.TrimSpace(copied.Title)
	copied.Icon = strings.TrimSpace(copied.Icon)
	copied.MediaID = strings.TrimSpace(copied.MediaID)
	return copied
}

// MilestonePatch is the tagged partial update for a Milestone.
type MilestonePatch struct {
	Title       *string
	Description *string
	Date        *time.Time
	Icon        *string
	MediaID     Optional[string]
}

func (p MilestonePatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Date == nil && p.Icon == nil && !p.MediaID.IsSet()
}

func (p MilestonePatch) Apply(milestone Milestone) Milestone {
	merged := milestone
	if p.Title != nil {
		merged.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		merged.Description = *p.Description
	}
	if p.Date != nil {
		merged.Date = *p.Date
	}
	if p.Icon != nil {
		merged.Icon = strings.TrimSpace(*p.Icon)
	}
	if p.MediaID.IsSet() {
		mediaID, _ := p.MediaID.Value()
		merged.MediaID = strings.TrimSpace(mediaID)
	}
	return merged
}

func (p MilestonePatch) Fields() map[string]any {
	fields := make(map[string]any)
	if p.Title != nil {
		fields["title"] = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		fields["description"] = *p.Description
	}
	if p.Date != nil {
		fields["date"] = p.Date.UTC().Format(time.RFC3339Nano)
	}
	if p.Icon != nil {
		fields["icon"] = strings.TrimSpace(*p.Icon)
	}
	if p.MediaID.IsSet() {
		fields["mediaId"] = p.MediaID.documentValue()
	}
	return fields
}
