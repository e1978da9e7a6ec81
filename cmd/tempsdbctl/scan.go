package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <name>",
		Short: "Print every record with start <= timestamp <= stop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			start, err := cmd.Flags().GetUint64("start")
			if err != nil {
				return err
			}
			stop, err := cmd.Flags().GetUint64("stop")
			if err != nil {
				return err
			}
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
				it, err := s.IterateRange(start, stop)
				if err != nil {
					return err
				}
				defer it.Close()
				for {
					e, ok, err := it.Next()
					if err != nil {
						return err
					}
					if !ok {
						break
					}
					data, err := e.Bytes()
					if err != nil {
						e.Close()
						return err
					}
					fmt.Printf("%d\t%q\n", e.Timestamp(), data)
					if err := e.Close(); err != nil {
						return err
					}
				}
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
			it, err := s.IterateRange(start, stop)
			if err != nil {
				return err
			}
			defer it.Close()
			for {
				ts, data, ok, err := it.Next()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				fmt.Printf("%d\t%q\n", ts, data)
			}
			return nil
		},
	}
	cmd.Flags().Uint64("start", 0, "inclusive start timestamp")
	cmd.Flags().Uint64("stop", ^uint64(0), "inclusive stop timestamp")
	cmd.Flags().Uint32("block-size", 8, "fixed record payload size, used if the series doesn't exist yet")
	cmd.Flags().Bool("varlen", false, "scan a variable-length series instead")
	cmd.Flags().Int("size-field", 2, "varlen: bytes (1-4) prefixing each record with its length")
	cmd.Flags().String("profile", "8", "varlen: comma-separated length_profile, used if the series doesn't exist yet")
	return cmd
}
