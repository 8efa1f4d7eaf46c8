package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check that VictoriaLogs is reachable",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	s, err := getService()
	if err != nil {
		return err
	}

	h := s.Health.Probe(cmd.Context())
	out := cmd.OutOrStdout()
	if h.Healthy() {
		fmt.Fprintf(out, "VictoriaLogs at %s is healthy (%dms)\n", h.Endpoint, h.LatencyMs)
		return nil
	}
	return describeError(h.Err())
}
