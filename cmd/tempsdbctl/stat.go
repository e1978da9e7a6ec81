package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newStatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat <name>",
		Short: "Print summary information about a series",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			isVarlen, err := cmd.Flags().GetBool("varlen")
			if err != nil {
				return err
			}

			db, err := openDB(cmd)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := context.Background()
			if isVarlen {
				sizeField, err := cmd.Flags().GetInt("size-field")
				if err != nil {
					return err
				}
				profileFlag, err := cmd.Flags().GetString("profile")
				if err != nil {
					return err
				}
				profile, err := parseProfile(profileFlag)
				if err != nil {
					return err
				}
				s, err := db.Varlen(ctx, name, sizeField, profile)
				if err != nil {
					return err
				}
				fmt.Printf("name:\t\t%s\n", name)
				fmt.Printf("max_length:\t%d\n", s.MaxLength())
				return nil
			}

			blockSize, err := cmd.Flags().GetUint32("block-size")
			if err != nil {
				return err
			}
			s, err := db.Series(ctx, name, blockSize)
			if err != nil {
				return err
			}
			fmt.Printf("name:\t\t\t%s\n", name)
			fmt.Printf("block_size:\t\t%d\n", s.BlockSize())
			fmt.Printf("max_entries_per_chunk:\t%d\n", s.MaxEntriesPerChunk())
			fmt.Printf("page_size:\t\t%d\n", s.PageSize())
			fmt.Printf("gzip_level:\t\t%d\n", s.GzipLevel())
			fmt.Printf("last_entry_ts:\t\t%d\n", s.LastEntryTs())
			fmt.Printf("chunks:\t\t\t%d\n", s.ChunkCount())
			fmt.Printf("open_chunks:\t\t%d\n", s.OpenChunkCount())
			return nil
		},
	}
	cmd.Flags().Uint32("block-size", 8, "fixed record payload size, used if the series doesn't exist yet")
	cmd.Flags().Bool("varlen", false, "stat a variable-length series instead")
	cmd.Flags().Int("size-field", 2, "varlen: bytes (1-4) prefixing each record with its length")
	cmd.Flags().String("profile", "8", "varlen: comma-separated length_profile, used if the series doesn't exist yet")
	return cmd
}
