package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLibraryCommand(ctx *commandContext) *cobra.Command {
	libraryCmd := &cobra.Command{
		Use:   "library",
		Short: "Administer the shared content library",
	}

	libraryCmd.AddCommand(newLibraryListCommand(ctx))
	libraryCmd.AddCommand(newLibraryStatsCommand(ctx))
	libraryCmd.AddCommand(newLibraryArchivedCommand(ctx))
	libraryCmd.AddCommand(newLibraryArchiveCommand(ctx))
	libraryCmd.AddCommand(newLibraryRestoreCommand(ctx))
	libraryCmd.AddCommand(newLibraryPurgeCommand(ctx))

	return libraryCmd
}

func newLibraryListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List committed library entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := ctx.apiClient().LibraryEntries(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "Library is empty")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, []string{
					entry.ContentID,
					entry.DisplayName,
					entry.Quality,
					fmt.Sprintf("%d", len(entry.Stems)),
					fmt.Sprintf("%d", entry.UsageCount),
					entry.State,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"CONTENT", "TITLE", "QUALITY", "STEMS", "USERS", "STATE"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
}

func newLibraryStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate library statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := ctx.apiClient().LibraryStats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Entries:       %d\n", stats.TotalEntries)
			fmt.Fprintf(out, "Archived:      %d\n", stats.ArchivedCount)
			fmt.Fprintf(out, "Total size:    %s\n", formatBytes(stats.TotalSizeBytes))
			fmt.Fprintf(out, "Total usage:   %d\n", stats.TotalUsage)
			fmt.Fprintf(out, "Average usage: %.2f\n", stats.AverageUsage)
			return nil
		},
	}
}

func newLibraryArchivedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "archived",
		Short: "List archived library entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := ctx.apiClient().ArchivedEntries(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No archived entries")
				return nil
			}
			rows := make([][]string, 0, len(entries))
			for _, entry := range entries {
				rows = append(rows, []string{
					entry.ContentID,
					entry.DisplayName,
					entry.ArchivedDate,
					entry.ArchiveReason,
					formatBytes(entry.SizeBytes),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"CONTENT", "TITLE", "ARCHIVED", "REASON", "SIZE"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
}

func newLibraryArchiveCommand(ctx *commandContext) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "archive <content-id>",
		Short: "Move a library entry into the archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.apiClient().Archive(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the archive")
	return cmd
}

func newLibraryRestoreCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <content-id>",
		Short: "Restore an archived entry to active storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.apiClient().Restore(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s\n", args[0])
			return nil
		},
	}
}

func newLibraryPurgeCommand(ctx *commandContext) *cobra.Command {
	var confirm bool

	cmd := &cobra.Command{
		Use:   "purge <content-id>",
		Short: "Permanently delete an archived entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			preview, err := ctx.apiClient().Purge(cmd.Context(), args[0], confirm)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !confirm {
				fmt.Fprintf(out, "Would delete %s (%s, %d files, %s)\n",
					preview.ContentID, preview.DisplayName, preview.FileCount, formatBytes(preview.SizeBytes))
				fmt.Fprintln(out, "Re-run with --confirm to delete permanently")
				return nil
			}
			fmt.Fprintf(out, "Permanently deleted %s\n", preview.ContentID)
			return nil
		},
	}

	cmd.Flags().BoolVar(&confirm, "confirm", false, "Actually delete instead of previewing")
	return cmd
}
