package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/library"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/media"
)

func newTable(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}

func printStats(out io.Writer, stats library.Stats) {
	table := newTable(out)
	fmt.Fprintln(table, "TYPE\tCOUNT\tHOURS\tAVG RATING\tCOMPLETED")
	for _, mediaType := range media.AllTypes {
		typeStats := stats.ForType(mediaType)
		if typeStats.Count == 0 {
			continue
		}
		fmt.Fprintf(table, "%s\t%d\t%s\t%s\t%d\n", mediaType, typeStats.Count, formatFloat(typeStats.TotalHours), formatFloat(typeStats.AverageRating), typeStats.Completed)
	}
	fmt.Fprintf(table, "total\t%d\t%s\t%s\t%d\n", stats.TotalItems, formatFloat(stats.TotalHours), formatFloat(stats.AverageRating), stats.Completed)
	_ = table.Flush()
	fmt.Fprintf(out, "reviews: %d\n", stats.ReviewCount)
}

func printRanking(out io.Writer, heading string, items []media.MediaItem, value func(media.MediaItem) string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(out, "\n%s:\n", heading)
	for index, item := range items {
		fmt.Fprintf(out, "  %d. %s (%s)\n", index+1, item.Title, value(item))
	}
}

func printMediaItems(out io.Writer, items []media.MediaItem) {
	table := newTable(out)
	fmt.Fprintln(table, "ID\tTITLE\tTYPE\tSTATUS\tRATING\tHOURS\tPROGRESS\tTAGS")
	for _, item := range items {
		progress := "-"
		if percent, ok := item.ProgressPercent(); ok {
			progress = strconv.FormatFloat(percent, 'f', 0, 64) + "%"
		}
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			item.ID, item.Title, item.Type, item.Status, formatRating(item), formatHours(item), progress, strings.Join(item.Tags, ","))
	}
	_ = table.Flush()
}

func printReviews(out io.Writer, reviews []media.Review) {
	table := newTable(out)
	fmt.Fprintln(table, "ID\tTITLE\tMEDIA\tRATING\tFAVORITE")
	for _, review := range reviews {
		rating := "-"
		if review.Rating != nil {
			rating = formatFloat(*review.Rating)
		}
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%t\n", review.ID, review.Title, review.MediaID, rating, review.IsFavorite)
	}
	_ = table.Flush()
}

func printMilestones(out io.Writer, milestones []media.Milestone) {
	table := newTable(out)
	fmt.Fprintln(table, "ID\tDATE\tTITLE\tMEDIA")
	for _, milestone := range milestones {
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\n", milestone.ID, milestone.Date.Format(dateLayout), milestone.Title, milestone.MediaID)
	}
	_ = table.Flush()
}

func printSettings(out io.Writer, settings media.Settings) {
	table := newTable(out)
	fmt.Fprintf(table, "name\t%s\n", settings.Name)
	fmt.Fprintf(table, "bio\t%s\n", settings.Bio)
	fmt.Fprintf(table, "default sort\t%s\n", settings.DefaultSort)
	fmt.Fprintf(table, "theme\t%s\n", settings.Theme)
	fmt.Fprintf(table, "favorites\t%s\n", strings.Join(settings.Favorites, ","))
	_ = table.Flush()
}

func formatRating(item media.MediaItem) string {
	if item.Rating == nil {
		return "-"
	}
	return formatFloat(*item.Rating)
}

func formatHours(item media.MediaItem) string {
	if item.HoursSpent == nil {
		return "-"
	}
	return formatFloat(*item.HoursSpent) + "h"
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
