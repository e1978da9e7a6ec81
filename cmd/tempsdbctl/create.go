package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a series (creating is implicit on first append/scan too)",
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
				if _, err := db.Varlen(ctx, name, sizeField, profile); err != nil {
					return err
				}
				log.Infof("created varlen series %q (size_field=%d, length_profile=%v)", name, sizeField, profile)
				return nil
			}

			blockSize, err := cmd.Flags().GetUint32("block-size")
			if err != nil {
				return err
			}
			if _, err := db.Series(ctx, name, blockSize); err != nil {
				return err
			}
			log.Infof("created series %q (block_size=%d)", name, blockSize)
			return nil
		},
	}
	cmd.Flags().Uint32("block-size", 8, "fixed record payload size in bytes")
	cmd.Flags().Bool("varlen", false, "create a variable-length series instead")
	cmd.Flags().Int("size-field", 2, "varlen: bytes (1-4) prefixing each record with its length")
	cmd.Flags().String("profile", "8", "varlen: comma-separated length_profile (last value repeats)")
	return cmd
}

func parseProfile(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	profile := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid length_profile entry %q: %w", p, err)
		}
		profile = append(profile, n)
	}
	return profile, nil
}
