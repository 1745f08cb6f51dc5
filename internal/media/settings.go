package media

import (
	"strings"
	"time"
)

// Settings is the single per-user profile and display preferences document.
type Settings struct {
	Name        string    `json:"name" validate:"max=120"`
	Bio         string    `json:"bio" validate:"max=2000"`
	Favorites   []string  `json:"favorites,omitempty" validate:"omitempty,dive,max=190"`
	DefaultSort SortOrder `json:"defaultSort,omitempty" validate:"omitempty,oneof=recent title rating hours"`
	Theme       string    `json:"theme,omitempty" validate:"max=32"`
	UpdatedAt   time.Time `json:"updatedAt,omitzero"`
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	copied := s
	copied.Favorites = cloneStrings(s.Favorites)
	return copied
}

// SettingsPatch is the tagged partial update for Settings.
type SettingsPatch struct {
	Name        *string
	Bio         *string
	Favorites   *[]string
	DefaultSort *SortOrder
	Theme       *string
}

func (p SettingsPatch) IsEmpty() bool {
	return p.Name == nil && p.Bio == nil && p.Favorites == nil && p.DefaultSort == nil && p.Theme == nil
}

func (p SettingsPatch) Apply(settings Settings) Settings {
	merged := settings.Clone()
	if p.Name != nil {
		merged.Name = strings.TrimSpace(*p.Name)
	}
	if p.Bio != nil {
		merged.Bio = *p.Bio
	}
	if p.Favorites != nil {
		merged.Favorites = normalizeTags(*p.Favorites)
	}
	if p.DefaultSort != nil {
		merged.DefaultSort = *p.DefaultSort
	}
	if p.Theme != nil {
		merged.Theme = strings.TrimSpace(*p.Theme)
	}
	return merged
}

func (p SettingsPatch) Fields() map[string]any {
	fields := make(map[string]any)
	if p.Name != nil {
		fields["name"] = strings.TrimSpace(*p.Name)
	}
	if p.Bio != nil {
		fields["bio"] = *p.Bio
	}
	if p.Favorites != nil {
		fields["favorites"] = normalizeTags(*p.Favorites)
	}
	if p.DefaultSort != nil {
		fields["defaultSort"] = *p.DefaultSort
	}
	if p.Theme != nil {
		fields["theme"] = strings.TrimSpace(*p.Theme)
	}
	return fields
}
