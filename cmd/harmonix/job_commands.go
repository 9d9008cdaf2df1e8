package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"harmonix/internal/apiclient"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var quality string
	var mode string
	var stemList string
	var wait bool

	cmd := &cobra.Command{
		Use:   "submit <url-or-file>",
		Short: "Submit a track for stem separation",
		Long:  "Submit a remote URL for download, or a local audio file which is uploaded to the daemon directly.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source := strings.TrimSpace(args[0])
			req := apiclient.SubmitRequest{
				SourceURL: source,
				Quality:   quality,
				Mode:      mode,
			}
			if trimmed := strings.TrimSpace(stemList); trimmed != "" {
				for _, stem := range strings.Split(trimmed, ",") {
					if stem = strings.TrimSpace(stem); stem != "" {
						req.Stems = append(req.Stems, stem)
					}
				}
			}

			var job *apiclient.Job
			var err error
			if info, statErr := os.Stat(source); statErr == nil && info.Mode().IsRegular() {
				job, err = ctx.apiClient().Upload(cmd.Context(), source, req)
			} else {
				job, err = ctx.apiClient().Submit(cmd.Context(), req)
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Submitted job %s\n", job.JobID)
			if len(job.DroppedStems) > 0 {
				fmt.Fprintf(out, "Stems not included in your plan: %s\n", strings.Join(job.DroppedStems, ", "))
			}
			if !wait {
				return nil
			}
			final, err := waitForJob(cmd, ctx, job.JobID)
			if err != nil {
				return err
			}
			renderJobDetail(out, final, shouldColorize(out))
			if final.Status != "completed" {
				return fmt.Errorf("job finished with status %s", final.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&quality, "quality", "q", "", "Quality tier (fast, balanced, studio); empty selects automatically")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Separation mode (karaoke, grouped, per_instrument)")
	cmd.Flags().StringVar(&stemList, "stems", "", "Comma-separated stem types to produce")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Block until the job reaches a terminal state")
	return cmd
}

func waitForJob(cmd *cobra.Command, ctx *commandContext, jobID string) (*apiclient.Job, error) {
	out := cmd.OutOrStdout()
	lastProgress := -1
	for {
		job, err := ctx.apiClient().Job(cmd.Context(), jobID)
		if err != nil {
			return nil, err
		}
		if job.Progress != lastProgress {
			fmt.Fprintf(out, "  %3d%%  %s\n", job.Progress, job.Stage)
			lastProgress = job.Progress
		}
		switch job.Status {
		case "completed", "failed", "cancelled":
			return job, nil
		}
		select {
		case <-cmd.Context().Done():
			return nil, cmd.Context().Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List your separation jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := ctx.apiClient().Jobs(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			fmt.Fprintln(out, renderJobsTable(jobs, shouldColorize(out)))
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := ctx.apiClient().Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			renderJobDetail(out, job, shouldColorize(out))
			return nil
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Request cancellation of a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.apiClient().Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for %s\n", args[0])
			return nil
		},
	}
}

func newDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a finished job and release its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.apiClient().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted job %s\n", args[0])
			return nil
		},
	}
}
