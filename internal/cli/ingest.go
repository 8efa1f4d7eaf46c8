package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/argusai/testrun-investigator/internal/service"
)

var (
	ingestRemote bool
	ingestDetach bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <download-url> <run-id>",
	Short: "Download a log archive and ingest it into VictoriaLogs",
	Long: `Download a tar.zst archive holding actions.log and raw_events.log and push
both files into VictoriaLogs tagged with the run id.

By default ingestion runs in this process and the command waits for it.
With --remote the task is started on the investigator server instead and
can be left running with --detach.

Examples:
  investigator ingest https://ci.example.com/run-42/logs.tar.zst run-42
  investigator ingest --remote --detach https://ci.example.com/run-42/logs.tar.zst run-42`,
	Args: cobra.ExactArgs(2),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestRemote, "remote", false, "start the task on the investigator server")
	ingestCmd.Flags().BoolVar(&ingestDetach, "detach", false, "with --remote, print the task id and return immediately")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	downloadURL, runID := args[0], args[1]
	out := cmd.OutOrStdout()

	if ingestRemote {
		c, err := connect(ctx)
		if err != nil {
			return err
		}
		defer c.Close()

		taskID, err := c.Ingest(ctx, downloadURL, runID)
		if err != nil {
			return fmt.Errorf("start ingestion: %w", err)
		}
		fmt.Fprintf(out, "Ingestion started: task %s\n", taskID)
		if ingestDetach {
			fmt.Fprintf(out, "Use 'investigator status %s' to check status.\n", taskID)
			return nil
		}
		return watchTask(ctx, out, c.GetTask, service.Task{ID: taskID, RunID: runID}, true)
	}
	if ingestDetach {
		return errors.New("--detach requires --remote: local tasks stop when the command exits")
	}

	s, err := getService()
	if err != nil {
		return err
	}
	task, err := s.Ingest.Ingest(ctx, downloadURL, runID)
	if err != nil {
		return describeError(err)
	}
	fmt.Fprintf(out, "Ingestion started: task %s\n", task.ID)

	fetch := func(_ context.Context, id string) (service.Task, error) {
		return s.Ingest.Status(id)
	}
	return watchTask(ctx, out, fetch, task, false)
}

// watchTask follows a task until it is terminal, with the interactive UI on
// a terminal and plain progress lines otherwise.
func watchTask(ctx context.Context, out io.Writer, fetch taskFetcher, task service.Task, remote bool) error {
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return runTaskProgress(fetch, task, remote)
	}

	done, err := pollTask(ctx, out, fetch, task.ID, pollInterval)
	if err != nil {
		return err
	}
	fmt.Fprint(out, taskSummary(done))
	return nil
}

// describeError appends setup instructions when the store is unreachable.
func describeError(err error) error {
	var bu *service.BackendUnreachableError
	if errors.As(err, &bu) && bu.Instructions != "" {
		return fmt.Errorf("%w\n\n%s", err, bu.Instructions)
	}
	return err
}
