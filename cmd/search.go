package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/chapter-archiver/internal/archiver"
	"github.com/JakeFAU/chapter-archiver/internal/server"
)

func newSearchCmd() *cobra.Command {
	var sourceName string
	cmd := &cobra.Command{
		Use:   "search QUERY...",
		Short: "Searches titles on one source or the first source with results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			registry, err := server.BuildSources(e.cfg, e.logger)
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			var (
				src     archiver.ContentSource
				results []archiver.SearchResult
			)
			if sourceName == "" {
				src, results, err = registry.SearchAll(cmd.Context(), query)
			} else {
				src, err = registry.Get(sourceName)
				if err == nil {
					results, err = src.Search(cmd.Context(), query)
				}
			}
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tID\tTITLE")
			for _, r := range results {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", src.Name(), r.ID, r.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&sourceName, "source", "", "search only this source")
	return cmd
}

func newChaptersCmd() *cobra.Command {
	var sourceName, mangaID string
	cmd := &cobra.Command{
		Use:   "chapters",
		Short: "Lists a title's chapters as the source reports them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			registry, err := server.BuildSources(e.cfg, e.logger)
			if err != nil {
				return err
			}
			src, err := registry.Get(sourceName)
			if err != nil {
				return err
			}
			chapters, err := src.ListChapters(cmd.Context(), mangaID)
			if err != nil {
				return fmt.Errorf("list chapters: %w", err)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CHAPTER\tTITLE\tPAGES")
			for _, ch := range chapters {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", ch.Label(), ch.Title, ch.PageSource)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&sourceName, "source", "", "content source name")
	cmd.Flags().StringVar(&mangaID, "manga", "", "title ID (or page URL for HTML sources)")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("manga")
	return cmd
}
