package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Nephrolytics-ai/polyglot-stt/pkg/model"
	"github.com/Nephrolytics-ai/polyglot-stt/pkg/utils"
)

const previewWidth = 60

var (
	waitTimeout time.Duration
	printText   bool
	noWait      bool
	retryWait   bool
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe <file>...",
	Short: "Queue audio files and wait for their transcripts",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runTranscribe,
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List stored jobs",
	Args:  cobra.NoArgs,
	RunE:  runJobs,
}

var retryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Requeue a failed or cancelled job",
	Args:  cobra.ExactArgs(1),
	RunE:  runRetry,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a queued job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a job and its staged audio",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func init() {
	transcribeCmd.Flags().DurationVar(&waitTimeout, "timeout", time.Hour, "Give up waiting after this long")
	transcribeCmd.Flags().BoolVar(&printText, "text", false, "Print each full transcript after the table")
	transcribeCmd.Flags().BoolVar(&noWait, "no-wait", false, "Queue the files and exit")
	retryCmd.Flags().BoolVar(&retryWait, "wait", true, "Wait for the retried job to finish")
	retryCmd.Flags().DurationVar(&waitTimeout, "timeout", time.Hour, "Give up waiting after this long")
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		return err
	}

	ids := make([]string, 0, len(args))
	for _, path := range args {
		job, err := a.Manager.AddJob(ctx, path, filepath.Base(path))
		if err != nil {
			return utils.WrapIfNotNil(err, path)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "queued %s as %s\n", path, job.ID)
		ids = append(ids, job.ID)
	}
	if noWait {
		return nil
	}

	finished := make([]model.Job, 0, len(ids))
	for _, id := range ids {
		job, err := a.Manager.WaitForJob(ctx, id, waitTimeout)
		if err != nil {
			return utils.WrapIfNotNil(err)
		}
		finished = append(finished, job)
	}

	renderJobs(cmd.OutOrStdout(), finished)
	if printText {
		for _, job := range finished {
			if job.Result == nil {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n== %s (%s)\n%s\n", job.Filename, job.ID, job.Result.Text)
		}
	}
	return nil
}

func runJobs(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	stored, err := a.Store.List(ctx)
	if err != nil {
		return utils.WrapIfNotNil(err)
	}
	if len(stored) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No jobs found.")
		return nil
	}
	renderJobs(cmd.OutOrStdout(), stored)
	return nil
}

func runRetry(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Manager.Load(ctx); err != nil {
		return utils.WrapIfNotNil(err)
	}

	if err := a.Manager.RetryJob(args[0]); err != nil {
		return utils.WrapIfNotNil(err)
	}
	if !retryWait {
		fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", args[0])
		return nil
	}
	job, err := a.Manager.WaitForJob(ctx, args[0], waitTimeout)
	if err != nil {
		return utils.WrapIfNotNil(err)
	}
	renderJobs(cmd.OutOrStdout(), []model.Job{job})
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Manager.Load(ctx); err != nil {
		return utils.WrapIfNotNil(err)
	}

	if err := a.Manager.CancelJob(args[0]); err != nil {
		return utils.WrapIfNotNil(err)
	}
	job, err := a.Manager.Job(args[0])
	if err != nil {
		return utils.WrapIfNotNil(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s is %s\n", job.ID, job.Status)
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Manager.Load(ctx); err != nil {
		return utils.WrapIfNotNil(err)
	}

	if err := a.Manager.RemoveJob(args[0]); err != nil {
		return utils.WrapIfNotNil(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
	return nil
}

func renderJobs(out io.Writer, jobs []model.Job) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"ID", "File", "Status", "Provider", "Duration", "Updated", "Transcript"})
	table.SetBorder(false)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)

	for _, job := range jobs {
		provider := ""
		preview := job.Error
		if job.Result != nil {
			provider = string(job.Result.Provider)
			if from := job.Result.Metadata[model.MetadataKeyFallbackFrom]; from != "" {
				provider += " (fallback from " + from + ")"
			}
			preview = job.Result.Text
		}
		table.Append([]string{
			job.ID,
			job.Filename,
			statusLabel(job),
			provider,
			fmt.Sprintf("%.1f s", job.Duration),
			job.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(preview, previewWidth),
		})
	}
	table.Render()
}

func statusLabel(job model.Job) string {
	if job.Status == model.JobStatusTranscribing {
		return fmt.Sprintf("%s %d%%", job.Status, int(job.Progress*100))
	}
	return string(job.Status)
}

func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= width {
		return s
	}
	return string(runes[:width-3]) + "..."
}
