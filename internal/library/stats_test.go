package library

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/media"
)

func TestStatsScenarioGamesAndBook(t *testing.T) {
	items := []media.MediaItem{
		{ID: "g1", Title: "Hollow", Type: media.TypeGame, Status: media.StatusInProgress, Rating: ptr(7.0), HoursSpent: ptr(5.0)},
		{ID: "g2", Title: "Outer", Type: media.TypeGame, Status: media.StatusInProgress, Rating: ptr(9.0), HoursSpent: ptr(15.0)},
		{ID: "b1", Title: "Dune", Type: media.TypeBook, Status: media.StatusPlanned, HoursSpent: ptr(0.0)},
	}
	aggregator := NewStatsAggregator()
	aggregator.Rescan(items, 0)

	stats := aggregator.Stats()
	games := stats.ForType(media.TypeGame)
	require.Equal(t, 2, games.Count)
	require.Equal(t, 8.0, games.AverageRating)
	require.Equal(t, 20.0, games.TotalHours)
	require.Equal(t, 0, stats.Completed)

	completed := items[1]
	completed.Status = media.StatusCompleted
	aggregator.ApplyUpdate(items[1], completed)

	after := aggregator.Stats()
	require.Equal(t, 1, after.Completed)
	require.Equal(t, 1, after.ForType(media.TypeGame).Completed)
	require.Equal(t, 2, after.ForType(media.TypeGame).Count)
	require.Equal(t, 8.0, after.ForType(media.TypeGame).AverageRating)
	require.Equal(t, 20.0, after.ForType(media.TypeGame).TotalHours)
	require.Equal(t, stats.ForType(media.TypeBook), after.ForType(media.TypeBook))
	require.Equal(t, stats.TotalHours, after.TotalHours)
	require.Equal(t, stats.AverageRating, after.AverageRating)
}

func TestStatsUpdateThatChangesTypeMovesContribution(t *testing.T) {
	book := media.MediaItem{ID: "x", Title: "Arrival", Type: media.TypeBook, Status: media.StatusPlanned, Rating: ptr(8.0), HoursSpent: ptr(10.0)}
	otherBook := media.MediaItem{ID: "y", Title: "Solaris", Type: media.TypeBook, Status: media.StatusCompleted, Rating: ptr(6.5), HoursSpent: ptr(3.0)}
	aggregator := NewStatsAggregator()
	aggregator.Rescan([]media.MediaItem{book, otherBook}, 0)

	movie := book
	movie.Type = media.TypeMovie
	movie.Rating = ptr(6.0)
	movie.HoursSpent = ptr(2.0)
	aggregator.ApplyUpdate(book, movie)

	withoutBook := NewStatsAggregator()
	withoutBook.Rescan([]media.MediaItem{otherBook}, 0)
	require.Equal(t, withoutBook.Stats().ForType(media.TypeBook), aggregator.Stats().ForType(media.TypeBook))

	onlyMovie := NewStatsAggregator()
	onlyMovie.ApplyDelta(movie, Add)
	require.Equal(t, onlyMovie.Stats().ForType(media.TypeMovie), aggregator.Stats().ForType(media.TypeMovie))

	rescanned := NewStatsAggregator()
	rescanned.Rescan([]media.MediaItem{movie, otherBook}, 0)
	require.True(t, aggregator.Equal(rescanned))
}

func TestStatsAverageWithoutRatingsIsZero(t *testing.T) {
	aggregator := NewStatsAggregator()
	aggregator.ApplyDelta(media.MediaItem{Title: "Unrated", Type: media.TypeAnime, Status: media.StatusPlanned}, Add)

	stats := aggregator.Stats()
	require.Zero(t, stats.AverageRating)
	require.Zero(t, stats.ForType(media.TypeAnime).AverageRating)
	require.Equal(t, 1, stats.TotalItems)
}

func TestStatsRemovingLastItemDropsTypeBucket(t *testing.T) {
	aggregator := NewStatsAggregator()
	entry := media.MediaItem{Title: "Show", Type: media.TypeSeries, Status: media.StatusCompleted, Rating: ptr(5.0)}
	aggregator.ApplyDelta(entry, Add)
	aggregator.ApplyDelta(entry, Remove)

	require.True(t, aggregator.Equal(NewStatsAggregator()))
	require.Empty(t, aggregator.Stats().PerType)
}

func TestStatsClampsOutOfRangeHours(t *testing.T) {
	huge := media.MediaItem{ID: "h", Title: "Corrupt", Type: media.TypeGame, Status: media.StatusPlanned, HoursSpent: ptr(1e300)}
	small := media.MediaItem{ID: "s", Title: "Fine", Type: media.TypeGame, Status: media.StatusPlanned, HoursSpent: ptr(2.5)}
	aggregator := NewStatsAggregator()
	aggregator.Rescan([]media.MediaItem{huge, small}, 0)

	stats := aggregator.Stats()
	require.Equal(t, fixedPointLimit+2.5, stats.TotalHours)
	require.Positive(t, stats.ForType(media.TypeGame).TotalHours)

	aggregator.ApplyDelta(huge, Remove)
	require.Equal(t, 2.5, aggregator.Stats().TotalHours)
}

func TestStatsIncrementalMatchesRescanForRandomOperations(t *testing.T) {
	for seed := uint64(1); seed <= 25; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			random := rand.New(rand.NewPCG(seed, seed*7919))
			aggregator := NewStatsAggregator()
			live := make(map[string]media.MediaItem)
			var ids []string
			reviews := 0

			for step := 0; step < 300; step++ {
				switch operation := random.IntN(10); {
				case operation < 4 || len(ids) == 0:
					id := fmt.Sprintf("item-%d", step)
					created := randomItem(random, id)
					live[id] = created
					ids = append(ids, id)
					aggregator.ApplyDelta(created, Add)
				case operation < 8:
					id := ids[random.IntN(len(ids))]
					updated := randomItem(random, id)
					aggregator.ApplyUpdate(live[id], updated)
					live[id] = updated
				case operation < 9:
					index := random.IntN(len(ids))
					id := ids[index]
					aggregator.ApplyDelta(live[id], Remove)
					delete(live, id)
					ids = append(ids[:index], ids[index+1:]...)
				default:
					if reviews > 0 && random.IntN(2) == 0 {
						reviews--
						aggregator.ApplyReviewDelta(Remove)
					} else {
						reviews++
						aggregator.ApplyReviewDelta(Add)
					}
				}
			}

			final := make([]media.MediaItem, 0, len(live))
			for _, id := range ids {
				final = append(final, live[id])
			}
			rescanned := NewStatsAggregator()
			rescanned.Rescan(final, reviews)

			require.True(t, aggregator.Equal(rescanned))
			require.Equal(t, rescanned.Stats(), aggregator.Stats())
		})
	}
}

func randomItem(random *rand.Rand, id string) media.MediaItem {
	statuses := []media.Status{media.StatusPlanned, media.StatusInProgress, media.StatusCompleted, media.StatusDropped}
	generated := media.MediaItem{
		ID:     id,
		Title:  "Title " + id,
		Type:   media.AllTypes[random.IntN(len(media.AllTypes))],
		Status: statuses[random.IntN(len(statuses))],
	}
	if random.IntN(3) > 0 {
		generated.Rating = ptr(float64(random.IntN(101)) / 10)
	}
	if random.IntN(3) > 0 {
		generated.HoursSpent = ptr(random.Float64() * 200)
	}
	return generated
}

func TestTopRatedOrdersByRatingThenTitle(t *testing.T) {
	items := []media.MediaItem{
		{ID: "1", Title: "beta", Rating: ptr(8.0)},
		{ID: "2", Title: "Alpha", Rating: ptr(8.0)},
		{ID: "3", Title: "Gamma", Rating: ptr(9.5)},
		{ID: "4", Title: "Unrated"},
		{ID: "5", Title: "Delta", Rating: ptr(2.0)},
	}

	top := TopRated(items, 3)

	require.Equal(t, []string{"3", "2", "1"}, entityIDs(top))
	require.Empty(t, TopRated(items, 0))
	require.Len(t, TopRated(items, 10), 4)
}

func TestMostTimeSpentSkipsItemsWithoutHours(t *testing.T) {
	items := []media.MediaItem{
		{ID: "1", Title: "Short", HoursSpent: ptr(1.5)},
		{ID: "2", Title: "None"},
		{ID: "3", Title: "Zero", HoursSpent: ptr(0.0)},
		{ID: "4", Title: "Long", HoursSpent: ptr(120.0)},
	}

	require.Equal(t, []string{"4", "1"}, entityIDs(MostTimeSpent(items, 5)))
}

func TestSortMediaItemsByPreference(t *testing.T) {
	items := []media.MediaItem{
		{ID: "1", Title: "zelda", Rating: ptr(7.0), HoursSpent: ptr(40.0)},
		{ID: "2", Title: "Alan Wake"},
		{ID: "3", Title: "Braid", Rating: ptr(9.0), HoursSpent: ptr(6.0)},
	}

	require.Equal(t, []string{"1", "2", "3"}, entityIDs(SortMediaItems(items, media.SortRecent)))
	require.Equal(t, []string{"2", "3", "1"}, entityIDs(SortMediaItems(items, media.SortTitle)))
	require.Equal(t, []string{"3", "1", "2"}, entityIDs(SortMediaItems(items, media.SortRating)))
	require.Equal(t, []string{"1", "3", "2"}, entityIDs(SortMediaItems(items, media.SortHours)))
	require.Equal(t, "1", items[0].ID)
}
