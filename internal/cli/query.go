package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/argusai/testrun-investigator/internal/models"
	"github.com/argusai/testrun-investigator/internal/service"
	"github.com/argusai/testrun-investigator/internal/tools"
)

var (
	queryStart    string
	queryEnd      string
	queryLimit    int
	querySeverity string
	queryJSON     bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query ingested logs",
	Long: `Query the action and events streams of an ingested run.

Time ranges are half-open: --start is inclusive, --end is exclusive.
Timestamps are ISO 8601, e.g. 2025-05-17T04:44:00Z; a missing zone means UTC.

Subcommands:
  actions  Actions of a run in time order
  events   One raw event by id
  stream   Any stream with limit and severity filters

Examples:
  investigator query actions run-42 --start 2025-05-17T04:44:00Z
  investigator query events run-42 e-1f3a
  investigator query stream run-42 events --severity error --limit 20`,
}

var queryActionsCmd = &cobra.Command{
	Use:   "actions <run-id>",
	Short: "List actions of a run",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueryActions,
}

var queryEventsCmd = &cobra.Command{
	Use:   "events <run-id> <event-id>",
	Short: "Show one raw event",
	Args:  cobra.ExactArgs(2),
	RunE:  runQueryEvent,
}

var queryStreamCmd = &cobra.Command{
	Use:       "stream <run-id> <action|events>",
	Short:     "List records of a stream",
	Args:      cobra.ExactArgs(2),
	ValidArgs: []string{string(models.StreamAction), string(models.StreamEvents)},
	RunE:      runQueryStream,
}

func init() {
	for _, c := range []*cobra.Command{queryActionsCmd, queryEventsCmd, queryStreamCmd} {
		c.Flags().StringVar(&queryStart, "start", "", "inclusive range start (ISO 8601)")
		c.Flags().StringVar(&queryEnd, "end", "", "exclusive range end (ISO 8601)")
		c.Flags().BoolVar(&queryJSON, "json", false, "print records as JSON lines")
	}
	queryStreamCmd.Flags().IntVarP(&queryLimit, "limit", "n", 0, "max records (0 for all)")
	queryStreamCmd.Flags().StringVar(&querySeverity, "severity", "", "only events with this severity")

	queryCmd.AddCommand(queryActionsCmd)
	queryCmd.AddCommand(queryEventsCmd)
	queryCmd.AddCommand(queryStreamCmd)
}

func runQueryActions(cmd *cobra.Command, args []string) error {
	tr, err := models.ParseTimeRange(queryStart, queryEnd)
	if err != nil {
		return err
	}
	s, err := getService()
	if err != nil {
		return err
	}

	records, err := s.Query.QueryActions(cmd.Context(), args[0], tr)
	if err != nil {
		return describeError(err)
	}
	return printRecords(cmd.OutOrStdout(), records)
}

func runQueryEvent(cmd *cobra.Command, args []string) error {
	tr, err := models.ParseTimeRange(queryStart, queryEnd)
	if err != nil {
		return err
	}
	s, err := getService()
	if err != nil {
		return err
	}

	rec, err := s.Query.QueryEvent(cmd.Context(), args[0], args[1], tr)
	if err != nil {
		return describeError(err)
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	if !queryJSON {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(rec.Fields())
}

func runQueryStream(cmd *cobra.Command, args []string) error {
	stream, err := models.ParseStream(args[1])
	if err != nil {
		return err
	}
	tr, err := models.ParseTimeRange(queryStart, queryEnd)
	if err != nil {
		return err
	}
	q := service.StreamQuery{
		RunID:  args[0],
		Stream: stream,
		Range:  tr,
		Limit:  queryLimit,
	}
	if querySeverity != "" {
		q.Fields = map[string]string{"severity": strings.ToUpper(querySeverity)}
	}

	s, err := getService()
	if err != nil {
		return err
	}
	records, err := s.Query.QueryByStream(cmd.Context(), q)
	if err != nil {
		return describeError(err)
	}
	return printRecords(cmd.OutOrStdout(), records)
}

// printRecords writes actions in compact form and other records as JSON
// lines. With --json every record is a JSON line.
func printRecords(w io.Writer, records []models.Record) error {
	if len(records) == 0 {
		fmt.Fprintln(w, "No records matched")
		return nil
	}
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if a, ok := rec.(*models.ActionRecord); ok && !queryJSON {
			fmt.Fprintln(w, tools.FormatAction(a))
			continue
		}
		if err := enc.Encode(rec.Fields()); err != nil {
			return err
		}
	}
	return nil
}
