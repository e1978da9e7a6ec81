package main

import (
	"context"
	"strconv"

	"github.com/spf13/cobra"
)

func newAppendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append <name> <timestamp> <data>",
		Short: "Append one record to a series, creating it if it doesn't exist",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			ts, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return err
			}
			data := []byte(args[2])

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
				if err := s.Append(ts, data); err != nil {
					return err
				}
				return s.Sync()
			}

			blockSize, err := cmd.Flags().GetUint32("block-size")
			if err != nil {
				return err
			}
			s, err := db.Series(ctx, name, blockSize)
			if err != nil {
				return err
			}
			if err := s.AppendPadded(ts, data); err != nil {
				return err
			}
			return s.Sync()
		},
	}
	cmd.Flags().Uint32("block-size", 8, "fixed record payload size in bytes, used if the series doesn't exist yet")
	cmd.Flags().Bool("varlen", false, "append to a variable-length series instead")
	cmd.Flags().Int("size-field", 2, "varlen: bytes (1-4) prefixing each record with its length")
	cmd.Flags().String("profile", "8", "varlen: comma-separated length_profile, used if the series doesn't exist yet")
	return cmd
}
