package cli

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/argusai/testrun-investigator/internal/archive"
	"github.com/argusai/testrun-investigator/internal/models"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the local archive cache",
}

var cacheListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List cached runs",
	Args:    cobra.NoArgs,
	RunE:    runCacheList,
}

var cacheRemoveCmd = &cobra.Command{
	Use:   "rm <run-id>...",
	Short: "Remove cached files of runs",
	Long: `Remove the cached archive and extracted logs of runs. Ingested data in
VictoriaLogs is not affected; the next ingest downloads the archive again.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCacheRemove,
}

func init() {
	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheRemoveCmd)
}

func openCache() (*archive.Cache, error) {
	return archive.NewCache(cfg.CacheDir)
}

func runCacheList(cmd *cobra.Command, args []string) error {
	cache, err := openCache()
	if err != nil {
		return err
	}
	entries, err := cache.List()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(entries) == 0 {
		fmt.Fprintf(out, "No cached runs in %s\n", cache.Root)
		return nil
	}

	fmt.Fprintf(out, "%-30s %-10s %-8s %s\n", "RUN", "SIZE", "FILES", "MODIFIED")
	fmt.Fprintln(out, "--------------------------------------------------------------------")
	for _, e := range entries {
		fmt.Fprintf(out, "%-30s %-10s %-8d %s\n",
			e.RunID, humanize.Bytes(entrySize(e)), len(e.ExtractedPaths), humanize.Time(e.ModTime))
	}
	return nil
}

func runCacheRemove(cmd *cobra.Command, args []string) error {
	cache, err := openCache()
	if err != nil {
		return err
	}
	for _, runID := range args {
		if err := models.ValidateIdentifier("run_id", runID); err != nil {
			return err
		}
		if _, err := os.Stat(cache.Dir(runID)); os.IsNotExist(err) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: not cached\n", runID)
			continue
		}
		if err := cache.Remove(runID); err != nil {
			return fmt.Errorf("remove %s: %w", runID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: removed\n", runID)
	}
	return nil
}

func entrySize(e archive.Entry) uint64 {
	var total uint64
	paths := []string{e.ArchivePath}
	for _, p := range e.ExtractedPaths {
		paths = append(paths, p)
	}
	for _, p := range paths {
		if p == "" {
			continue
		}
		if fi, err := os.Stat(p); err == nil {
			total += uint64(fi.Size())
		}
	}
	return total
}
