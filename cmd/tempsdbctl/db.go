package main

import (
	"github.com/spf13/cobra"

	"github.com/tempsdb/tempsdb/tempsdb"
)

func openDB(cmd *cobra.Command) (*tempsdb.DB, error) {
	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return nil, err
	}
	maxEntries, err := cmd.Flags().GetUint32("max-entries-per-chunk")
	if err != nil {
		return nil, err
	}
	pageSize, err := cmd.Flags().GetUint32("page-size")
	if err != nil {
		return nil, err
	}
	gzipLevel, err := cmd.Flags().GetInt("gzip-level")
	if err != nil {
		return nil, err
	}
	return tempsdb.Open(dir, tempsdb.Options{
		MaxEntriesPerChunk: maxEntries,
		PageSize:           pageSize,
		GzipLevel:          gzipLevel,
	})
}
