package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/MarcoPoloResearchLab/mediadiary/internal/library"
	"github.com/MarcoPoloResearchLab/mediadiary/internal/media"
)

const dateLayout = "2006-01-02"

func (c *cli) newStatsCommand() *cobra.Command {
	var top int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show library statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, func(ctx context.Context, session *library.Session) error {
				printStats(c.out, session.Stats())
				printRanking(c.out, "Top rated", session.TopRated(top), formatRating)
				printRanking(c.out, "Most time spent", session.MostTimeSpent(top), formatHours)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&top, "top", 3, "Entries per ranking")
	return cmd
}

func (c *cli) newListCommand() *cobra.Command {
	var (
		rawType string
		rawSort string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List media items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter media.MediaType
			if rawType != "" {
				parsed, ok := media.ParseMediaType(rawType)
				if !ok {
					return fmt.Errorf("unknown media type %q", rawType)
				}
				filter = parsed
			}
			return c.withSession(cmd, func(ctx context.Context, session *library.Session) error {
				order := media.SortOrder(strings.ToLower(rawSort))
				if rawSort == "" {
					if settings, ok := session.Settings(); ok && settings.DefaultSort != "" {
						order = settings.DefaultSort
					} else {
						order = media.SortRecent
					}
				}
				items := library.SortMediaItems(session.MediaItems(), order)
				if filter != "" {
					filtered := items[:0]
					for _, item := range items {
						if item.Type == filter {
							filtered = append(filtered, item)
						}
					}
					items = filtered
				}
				printMediaItems(c.out, items)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&rawType, "type", "", "Only show one media type")
	cmd.Flags().StringVar(&rawSort, "sort", "", "Sort order: recent, title, rating, hours (default from settings)")
	return cmd
}

type mediaItemFlags struct {
	title       string
	mediaType   string
	status      string
	rating      float64
	hours       float64
	totalPages  int
	currentPage int
	tags        []string
}

func (f *mediaItemFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.title, "title", "", "Title")
	cmd.Flags().StringVar(&f.mediaType, "type", "", "Media type: game, book, movie, series, anime")
	cmd.Flags().StringVar(&f.status, "status", "", "Status: planned, in-progress, completed, dropped")
	cmd.Flags().Float64Var(&f.rating, "rating", 0, "Rating from 0 to 10")
	cmd.Flags().Float64Var(&f.hours, "hours", 0, "Hours spent")
	cmd.Flags().IntVar(&f.totalPages, "pages", 0, "Total pages (books)")
	cmd.Flags().IntVar(&f.currentPage, "page", 0, "Current page (books)")
	cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "Tag (repeatable)")
}

func (c *cli) newAddCommand() *cobra.Command {
	flags := &mediaItemFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a media item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			item := media.MediaItem{
				Title:  flags.title,
				Type:   media.MediaType(strings.ToLower(flags.mediaType)),
				Status: media.Status(strings.ToLower(flags.status)),
				Tags:   flags.tags,
			}
			if item.Status == "" {
				item.Status = media.StatusPlanned
			}
			changed := cmd.Flags().Changed
			if changed("rating") {
				item.Rating = &flags.rating
			}
			if changed("hours") {
				item.HoursSpent = &flags.hours
			}
			if changed("pages") {
				item.TotalPages = &flags.totalPages
			}
			if changed("page") {
				item.CurrentPage = &flags.currentPage
			}
			return c.withSession(cmd, func(ctx context.Context, session *library.Session) error {
				created, err := session.AddMediaItem(ctx, item)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "added %s\n", created.ID)
				return nil
			})
		},
	}
	flags.register(cmd)
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func (c *cli) newUpdateCommand() *cobra.Command {
	flags := &mediaItemFlags{}
	var clearFields []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a media item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := flags.patch(cmd, clearFields)
			if err != nil {
				return err
			}
			return c.withSession(cmd, func(ctx context.Context, session *library.Session) error {
				updated, err := session.UpdateMediaItem(ctx, args[0], patch)
				if err != nil {
					return err
				}
				printMediaItems(c.out, []media.MediaItem{updated})
				return nil
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().StringSliceVar(&clearFields, "clear", nil, "Clear optional fields: rating, hours, pages, page")
	return cmd
}

func (f *mediaItemFlags) patch(cmd *cobra.Command, clearFields []string) (media.MediaItemPatch, error) {
	var patch media.MediaItemPatch
	changed := cmd.Flags().Changed
	if changed("title") {
		patch.Title = &f.title
	}
	if changed("type") {
		mediaType := media.MediaType(strings.ToLower(f.mediaType))
		patch.Type = &mediaType
	}
	if changed("status") {
		status := media.Status(strings.ToLower(f.status))
		patch.Status = &status
	}
	if changed("rating") {
		patch.Rating = media.Some(f.rating)
	}
	if changed("hours") {
		patch.HoursSpent = media.Some(f.hours)
	}
	if changed("pages") {
		patch.TotalPages = media.Some(f.totalPages)
	}
	if changed("page") {
		patch.CurrentPage = media.Some(f.currentPage)
	}
	if changed("tag") {
		tags := f.tags
		patch.Tags = &tags
	}
	for _, field := range clearFields {
		switch strings.ToLower(strings.TrimSpace(field)) {
		case "rating":
			patch.Rating = media.None[float64]()
		case "hours":
			patch.HoursSpent = media.None[float64]()
		case "pages":
			patch.TotalPages = media.None[int]()
		case "page":
			patch.CurrentPage = media.None[int]()
		default:
			return media.MediaItemPatch{}, fmt.Errorf("cannot clear %q", field)
		}
	}
	return patch, nil
}

func (c *cli) newDeleteCommand() *cobra.Command {
	var collection string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a media item, review, or milestone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, func(ctx context.Context, session *library.Session) error {
				var err error
				switch library.Collection(collection) {
				case library.CollectionMediaItems:
					err = session.DeleteMediaItem(ctx, args[0])
				case library.CollectionReviews:
					err = session.DeleteReview(ctx, args[0])
				case library.CollectionMilestones:
					err = session.DeleteMilestone(ctx, args[0])
				default:
					return fmt.Errorf("unknown collection %q", collection)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "deleted %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&collection, "collection", string(library.CollectionMediaItems), "Collection: mediaItems, reviews, milestones")
	return cmd
}

func (c *cli) newReviewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Manage reviews",
	}

	var mediaID string
	list := &cobra.Command{
		Use:   "list",
		Short: "List reviews",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, func(ctx context.Context, session *library.Session) error {
				reviews := session.Reviews()
				if mediaID != "" {
					reviews = session.ReviewsFor(mediaID)
				}
				printReviews(c.out, reviews)
				return nil
			})
		},
	}
	list.Flags().StringVar(&mediaID, "media", "", "Only reviews for this media item id")

	var (
		review media.Review
		rating float64
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Write a review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			draft := review
			if cmd.Flags().Changed("rating") {
				draft.Rating = &rating
			}
			return c.withSession(cmd, func(ctx context.Context, session *library.Session) error {
				created, err := session.AddReview(ctx, draft)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "added %s\n", created.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&review.Title, "title", "", "Review title")
	add.Flags().StringVar(&review.Content, "content", "", "Review body")
	add.Flags().StringVar(&review.MediaID, "media", "", "Media item id being reviewed")
	add.Flags().BoolVar(&review.IsFavorite, "favorite", false, "Mark as favorite")
	add.Flags().Float64Var(&rating, "rating", 0, "Rating from 0 to 10")
	_ = add.MarkFlagRequired("title")

	cmd.AddCommand(list, add)
	return cmd
}

func (c *cli) newMilestoneCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "milestone",
		Short: "Manage milestones",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List milestones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, func(ctx context.Context, session *library.Session) error {
				printMilestones(c.out, session.Milestones())
				return nil
			})
		},
	}

	var (
		milestone media.Milestone
		rawDate   string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Record a milestone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			draft := milestone
			date, err := time.Parse(dateLayout, rawDate)
			if err != nil {
				return fmt.Errorf("date must be YYYY-MM-DD: %w", err)
			}
			draft.Date = date
			return c.withSession(cmd, func(ctx context.Context, session *library.Session) error {
				created, err := session.AddMilestone(ctx, draft)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.out, "added %s\n", created.ID)
				return nil
			})
		},
	}
	add.Flags().StringVar(&milestone.Title, "title", "", "Milestone title")
	add.Flags().StringVar(&milestone.Description, "description", "", "Details")
	add.Flags().StringVar(&milestone.Icon, "icon", "", "Icon name")
	add.Flags().StringVar(&milestone.MediaID, "media", "", "Related media item id")
	add.Flags().StringVar(&rawDate, "date", time.Now().Format(dateLayout), "Date (YYYY-MM-DD)")
	_ = add.MarkFlagRequired("title")

	cmd.AddCommand(list, add)
	return cmd
}

func (c *cli) newSettingsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change profile settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, func(ctx context.Context, session *library.Session) error {
				settings, _ := session.Settings()
				printSettings(c.out, settings)
				return nil
			})
		},
	}

	var (
		name      string
		bio       string
		sort      string
		theme     string
		favorites []string
	)
	set := &cobra.Command{
		Use:   "set",
		Short: "Change profile settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch media.SettingsPatch
			changed := cmd.Flags().Changed
			if changed("name") {
				patch.Name = &name
			}
			if changed("bio") {
				patch.Bio = &bio
			}
			if changed("sort") {
				order := media.SortOrder(strings.ToLower(sort))
				patch.DefaultSort = &order
			}
			if changed("theme") {
				patch.Theme = &theme
			}
			if changed("favorite") {
				patch.Favorites = &favorites
			}
			return c.withSession(cmd, func(ctx context.Context, session *library.Session) error {
				updated, err := session.UpdateSettings(ctx, patch)
				if err != nil {
					return err
				}
				printSettings(c.out, updated)
				return nil
			})
		},
	}
	set.Flags().StringVar(&name, "name", "", "Display name")
	set.Flags().StringVar(&bio, "bio", "", "Short bio")
	set.Flags().StringVar(&sort, "sort", "", "Default sort: recent, title, rating, hours")
	set.Flags().StringVar(&theme, "theme", "", "Theme preference")
	set.Flags().StringSliceVar(&favorites, "favorite", nil, "Favorite media item id (repeatable)")

	cmd.AddCommand(set)
	return cmd
}
