package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/argusai/testrun-investigator/internal/service"
)

var (
	tasksRun    string
	tasksStatus string
)

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Show an ingestion task on the investigator server",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List ingestion tasks on the investigator server",
	Long: `List ingestion tasks known to the investigator server, most recent first.

Examples:
  investigator tasks
  investigator tasks --run run-42
  investigator tasks --status failed`,
	Args: cobra.NoArgs,
	RunE: runTasks,
}

func init() {
	tasksCmd.Flags().StringVar(&tasksRun, "run", "", "only tasks for this run id")
	tasksCmd.Flags().StringVar(&tasksStatus, "status", "", "only tasks in this status (pending, running, completed, failed)")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	task, err := c.GetTask(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}
	printTask(cmd.OutOrStdout(), task)
	return nil
}

func runTasks(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	tasks, err := c.ListTasks(ctx, tasksRun, tasksStatus)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	printTasks(cmd.OutOrStdout(), tasks)
	return nil
}

func printTasks(w io.Writer, tasks []service.Task) {
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks found")
		return
	}

	fmt.Fprintf(w, "%-36s %-20s %-10s %-10s %s\n", "ID", "RUN", "STATUS", "RECORDS", "CREATED")
	fmt.Fprintln(w, "----------------------------------------------------------------------------------------------")
	for _, t := range tasks {
		fmt.Fprintf(w, "%-36s %-20s %-10s %-10d %s\n",
			t.ID, t.RunID, t.Status, t.Progress.RecordsIngested, t.CreatedAt.Local().Format("15:04:05"))
	}
}

func printTask(w io.Writer, t service.Task) {
	fmt.Fprintf(w, "Task: %s\n", t.ID)
	fmt.Fprintf(w, "  Run: %s\n", t.RunID)
	fmt.Fprintf(w, "  URL: %s\n", t.DownloadURL)
	fmt.Fprintf(w, "  Status: %s\n", t.Status)
	if t.Status == service.TaskStatusRunning && t.Progress.Stage != "" {
		fmt.Fprintf(w, "  Stage: %s\n", t.Progress.Stage)
	}
	fmt.Fprintf(w, "  Created: %s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  Updated: %s\n", t.UpdatedAt.Format(time.RFC3339))
	if t.Status.Terminal() {
		fmt.Fprintf(w, "  Duration: %s\n", t.UpdatedAt.Sub(t.CreatedAt).Round(time.Millisecond))
	}
	if t.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", t.Error)
	}

	fmt.Fprintln(w, "\nProgress:")
	fmt.Fprintf(w, "  Records ingested: %d\n", t.Progress.RecordsIngested)
	fmt.Fprintf(w, "  Batches pushed: %d\n", t.Progress.BatchesPushed)
	fmt.Fprintf(w, "  Malformed lines: %d\n", t.Progress.Warnings)
	if t.Progress.FilesTotal > 0 {
		fmt.Fprintf(w, "  Files: %d/%d\n", t.Progress.FilesDone, t.Progress.FilesTotal)
	}
	if t.Progress.CacheHit {
		fmt.Fprintln(w, "  Source: cache")
	}
}
