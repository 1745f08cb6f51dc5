package library

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/media"
)

// Sign selects whether a delta adds or removes an entity's contribution.
type Sign int

const (
	Add    Sign = 1
	Remove Sign = -1
)

// hours and ratings are summed in hundredths so that incremental updates and a full
// rescan produce identical integers regardless of operation order.
const fixedPointScale = 100

// fixedPointLimit bounds inputs so that scaled values and their sums stay inside int64.
// Validation caps hours far below it; loaded documents are not validated.
const fixedPointLimit = 1e12

func toFixed(value float64) int64 {
	if math.IsNaN(value) {
		return 0
	}
	value = min(max(value, -fixedPointLimit), fixedPointLimit)
	return int64(math.Round(value * fixedPointScale))
}

func fromFixed(value int64) float64 {
	return float64(value) / fixedPointScale
}

type runningSums struct {
	count       int
	hours       int64
	ratingSum   int64
	ratingCount int
	completed   int
}

func (s *runningSums) apply(item media.MediaItem, sign Sign) {
	delta := int(sign)
	s.count += delta
	s.hours += int64(delta) * toFixed(item.Hours())
	if item.Rating != nil {
		s.ratingSum += int64(delta) * toFixed(*item.Rating)
		s.ratingCount += delta
	}
	if item.IsCompleted() {
		s.completed += delta
	}
}

func (s runningSums) isZero() bool {
	return s == runningSums{}
}

func (s runningSums) averageRating() float64 {
	if s.ratingCount <= 0 {
		return 0
	}
	return fromFixed(s.ratingSum) / float64(s.ratingCount)
}

// StatsAggregator maintains summary statistics from deltas instead of rescans.
type StatsAggregator struct {
	perType     map[media.MediaType]runningSums
	global      runningSums
	reviewCount int
}

// NewStatsAggregator returns an aggregator with empty sums.
func NewStatsAggregator() *StatsAggregator {
	return &StatsAggregator{perType: make(map[media.MediaType]runningSums)}
}

// ApplyDelta adds (sign=Add) or removes (sign=Remove) one item's contribution.
func (a *StatsAggregator) ApplyDelta(item media.MediaItem, sign Sign) {
	bucket := a.perType[item.Type]
	bucket.apply(item, sign)
	if bucket.isZero() {
		delete(a.perType, item.Type)
	} else {
		a.perType[item.Type] = bucket
	}
	a.global.apply(item, sign)
}

// ApplyUpdate replaces before's contribution with after's. Always applied as a
// remove-then-add so type, status, rating, and hours changes move between buckets.
func (a *StatsAggregator) ApplyUpdate(before, after media.MediaItem) {
	a.ApplyDelta(before, Remove)
	a.ApplyDelta(after, Add)
}

// ApplyReviewDelta adjusts the review count.
func (a *StatsAggregator) ApplyReviewDelta(sign Sign) {
	a.reviewCount += int(sign)
}

// Rescan recomputes every sum from scratch.
func (a *StatsAggregator) Rescan(items []media.MediaItem, reviewCount int) {
	a.Reset()
	for _, item := range items {
		a.ApplyDelta(item, Add)
	}
	a.reviewCount = reviewCount
}

// Reset zeroes every sum.
func (a *StatsAggregator) Reset() {
	a.perType = make(map[media.MediaType]runningSums)
	a.global = runningSums{}
	a.reviewCount = 0
}

// Equal reports whether both aggregators hold identical sums.
func (a *StatsAggregator) Equal(other *StatsAggregator) bool {
	if a.global != other.global || a.reviewCount != other.reviewCount {
		return false
	}
	if len(a.perType) != len(other.perType) {
		return false
	}
	for mediaType, sums := range a.perType {
		if other.perType[mediaType] != sums {
			return false
		}
	}
	return true
}

// Stats returns the derived values. Averages are computed on read.
func (a *StatsAggregator) Stats() Stats {
	stats := Stats{
		PerType:       make(map[media.MediaType]TypeStats, len(a.perType)),
		TotalItems:    a.global.count,
		TotalHours:    fromFixed(a.global.hours),
		Completed:     a.global.completed,
		AverageRating: a.global.averageRating(),
		RatedCount:    a.global.ratingCount,
		ReviewCount:   a.reviewCount,
	}
	for mediaType, sums := range a.perType {
		stats.PerType[mediaType] = TypeStats{
			Count:         sums.count,
			TotalHours:    fromFixed(sums.hours),
			AverageRating: sums.averageRating(),
			RatedCount:    sums.ratingCount,
			Completed:     sums.completed,
		}
	}
	return stats
}

// TypeStats summarizes one media type.
type TypeStats struct {
	Count         int     `json:"count"`
	TotalHours    float64 `json:"totalHours"`
	AverageRating float64 `json:"averageRating"`
	RatedCount    int     `json:"ratedCount"`
	Completed     int     `json:"completed"`
}

// Stats is the read-only view served to the UI.
type Stats struct {
	PerType       map[media.MediaType]TypeStats `json:"perType"`
	TotalItems    int                           `json:"totalItems"`
	TotalHours    float64                       `json:"totalHours"`
	Completed     int                           `json:"completed"`
	AverageRating float64                       `json:"averageRating"`
	RatedCount    int                           `json:"ratedCount"`
	ReviewCount   int                           `json:"reviewCount"`
}

// ForType returns the stats for mediaType; absent types report zeros.
func (s Stats) ForType(mediaType media.MediaType) TypeStats {
	return s.PerType[mediaType]
}

// TopRated returns up to n rated items, highest rating first, ties by title.
func TopRated(items []media.MediaItem, n int) []media.MediaItem {
	rated := make([]media.MediaItem, 0, len(items))
	for _, item := range items {
		if item.Rating != nil {
			rated = append(rated, item.Clone())
		}
	}
	slices.SortStableFunc(rated, func(left, right media.MediaItem) int {
		if order := cmp.Compare(*right.Rating, *left.Rating); order != 0 {
			return order
		}
		return strings.Compare(strings.ToLower(left.Title), strings.ToLower(right.Title))
	})
	return limit(rated, n)
}

// MostTimeSpent returns up to n items with recorded hours, most hours first, ties by title.
func MostTimeSpent(items []media.MediaItem, n int) []media.MediaItem {
	timed := make([]media.MediaItem, 0, len(items))
	for _, item := range items {
		if item.HoursSpent != nil && *item.HoursSpent > 0 {
			timed = append(timed, item.Clone())
		}
	}
	slices.SortStableFunc(timed, func(left, right media.MediaItem) int {
		if order := cmp.Compare(right.Hours(), left.Hours()); order != 0 {
			return order
		}
		return strings.Compare(strings.ToLower(left.Title), strings.ToLower(right.Title))
	})
	return limit(timed, n)
}

func limit(items []media.MediaItem, n int) []media.MediaItem {
	if n < 0 {
		n = 0
	}
	if len(items) > n {
		return items[:n]
	}
	return items
}

// SortMediaItems returns a sorted copy of items. SortRecent keeps the cache order,
// which is newest first. Unrated items sort after rated ones under SortRating.
func SortMediaItems(items []media.MediaItem, order media.SortOrder) []media.MediaItem {
	sorted := make([]media.MediaItem, 0, len(items))
	for _, item := range items {
		sorted = append(sorted, item.Clone())
	}
	byTitle := func(left, right media.MediaItem) int {
		return strings.Compare(strings.ToLower(left.Title), strings.ToLower(right.Title))
	}
	switch order {
	case media.SortTitle:
		slices.SortStableFunc(sorted, byTitle)
	case media.SortRating:
		slices.SortStableFunc(sorted, func(left, right media.MediaItem) int {
			switch {
			case left.Rating == nil && right.Rating != nil:
				return 1
			case left.Rating != nil && right.Rating == nil:
				return -1
			case left.Rating != nil && right.Rating != nil:
				if diff := cmp.Compare(*right.Rating, *left.Rating); diff != 0 {
					return diff
				}
			}
			return byTitle(left, right)
		})
	case media.SortHours:
		slices.SortStableFunc(sorted, func(left, right media.MediaItem) int {
			if diff := cmp.Compare(right.Hours(), left.Hours()); diff != 0 {
				return diff
			}
			return byTitle(left, right)
		})
	}
	return sorted
}
