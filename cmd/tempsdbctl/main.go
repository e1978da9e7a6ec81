// Command tempsdbctl inspects and exercises a tempsdb database directory
// from the command line: create series, append records, scan ranges, and
// print per-series stats.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tempsdb/tempsdb/golibs/logging"
	"github.com/tempsdb/tempsdb/tempsdb"
)

var log = logging.NewLogger("tempsdbctl")

func main() {
	rootCmd := &cobra.Command{
		Use:   "tempsdbctl",
		Short: "Inspect and exercise a tempsdb database",
	}

	// Env vars prefixed TEMPSDBCTL_ (and, if TEMPSDBCTL_SECRETS_FILE points
	// at a JSON file, its contents) override these built-in defaults; CLI
	// flags in turn override whatever LoadOptions resolved, since flag
	// defaults are just the starting point for cobra's own flag parsing.
	defaults, err := tempsdb.LoadOptions("TEMPSDBCTL", os.Getenv("TEMPSDBCTL_SECRETS_FILE"), tempsdb.Options{
		MaxEntriesPerChunk: 4096,
		PageSize:           4096,
		GzipLevel:          0,
	})
	if err != nil {
		log.Warnf("could not load defaults from environment: %v", err)
		defaults = tempsdb.Options{MaxEntriesPerChunk: 4096, PageSize: 4096}
	}

	rootCmd.PersistentFlags().String("dir", ".", "database directory")
	rootCmd.PersistentFlags().Uint32("max-entries-per-chunk", defaults.MaxEntriesPerChunk, "default max_entries_per_chunk for newly created series")
	rootCmd.PersistentFlags().Uint32("page-size", defaults.PageSize, "default page_size for newly created series")
	rootCmd.PersistentFlags().Int("gzip-level", defaults.GzipLevel, "default gzip level (0 disables direct+gzip layout) for newly created series")

	rootCmd.AddCommand(
		newCreateCmd(),
		newAppendCmd(),
		newScanCmd(),
		newStatCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
