package library

import (
	"time"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/media"
)

// Collection names a per-user collection in the document store.
type Collection string

const (
	CollectionMediaItems Collection = "mediaItems"
	CollectionReviews    Collection = "reviews"
	CollectionMilestones Collection = "milestones"
	CollectionSettings   Collection = "settings"
)

// settingsDocumentID is the fixed id of the per-user settings document.
const settingsDocumentID = "profile"

// AllCollections lists the collections loaded for every session.
var AllCollections = []Collection{CollectionMediaItems, CollectionReviews, CollectionMilestones, CollectionSettings}

// EntityCache holds one user's collections in memory. It has no network or
// persistence awareness and no locking of its own.
type EntityCache struct {
	mediaItems *Table[media.MediaItem]
	reviews    *Table[media.Review]
	milestones *Table[media.Milestone]
	settings   *media.Settings
}

// NewEntityCache returns an empty cache.
func NewEntityCache() *EntityCache {
	return &EntityCache{
		mediaItems: newTable[media.MediaItem](CollectionMediaItems),
		reviews:    newTable[media.Review](CollectionReviews),
		milestones: newTable[media.Milestone](CollectionMilestones),
	}
}

// MediaItems returns the media item table.
func (c *EntityCache) MediaItems() *Table[media.MediaItem] {
	return c.mediaItems
}

// Reviews returns the review table.
func (c *EntityCache) Reviews() *Table[media.Review] {
	return c.reviews
}

// Milestones returns the milestone table.
func (c *EntityCache) Milestones() *Table[media.Milestone] {
	return c.milestones
}

// Settings returns the cached settings document, if loaded.
func (c *EntityCache) Settings() (media.Settings, bool) {
	if c.settings == nil {
		return media.Settings{}, false
	}
	return c.settings.Clone(), true
}

// ReplaceSettings installs settings; nil marks the document absent.
func (c *EntityCache) ReplaceSettings(settings *media.Settings) {
	if settings == nil {
		c.settings = nil
		return
	}
	copied := settings.Clone()
	c.settings = &copied
}

// PatchSettings merges patch into the settings document, creating it when absent.
// It returns the previous document (nil when there was none) and the merged result.
func (c *EntityCache) PatchSettings(patch media.SettingsPatch, at time.Time) (*media.Settings, media.Settings) {
	var previous *media.Settings
	base := media.Settings{}
	if c.settings != nil {
		copied := c.settings.Clone()
		previous = &copied
		base = copied
	}
	merged := patch.Apply(base)
	merged.UpdatedAt = at
	c.settings = &merged
	return previous, merged.Clone()
}

// Clear empties all four collections.
func (c *EntityCache) Clear() {
	c.mediaItems.clear()
	c.reviews.clear()
	c.milestones.clear()
	c.settings = nil
}

// Snapshot copies the cache contents.
func (c *EntityCache) Snapshot() CacheState {
	state := CacheState{
		MediaItems: cloneMediaItems(c.mediaItems.List()),
		Reviews:    cloneReviews(c.reviews.List()),
		Milestones: c.milestones.List(),
	}
	if c.settings != nil {
		copied := c.settings.Clone()
		state.Settings = &copied
	}
	return state
}

// Restore replaces the cache contents with state.
func (c *EntityCache) Restore(state CacheState) {
	c.mediaItems.ReplaceAll(cloneMediaItems(state.MediaItems))
	c.reviews.ReplaceAll(cloneReviews(state.Reviews))
	c.milestones.ReplaceAll(append([]media.Milestone(nil), state.Milestones...))
	c.ReplaceSettings(state.Settings)
}

// CacheState is a detached copy of every collection, used for offline snapshots.
type CacheState struct {
	MediaItems []media.MediaItem `json:"mediaItems"`
	Reviews    []media.Review    `json:"reviews"`
	Milestones []media.Milestone `json:"milestones"`
	Settings   *media.Settings   `json:"settings,omitempty"`
	SavedAt    time.Time         `json:"savedAt,omitzero"`
}

func cloneMediaItems(items []media.MediaItem) []media.MediaItem {
	cloned := make([]media.MediaItem, 0, len(items))
	for _, item := range items {
		cloned = append(cloned, item.Clone())
	}
	return cloned
}

func cloneReviews(reviews []media.Review) []media.Review {
	cloned := make([]media.Review, 0, len(reviews))
	for _, review := range reviews {
		cloned = append(cloned, review.Clone())
	}
	return cloned
}
