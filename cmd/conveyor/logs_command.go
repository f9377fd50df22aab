package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"conveyor/internal/logs"
)

const followWait = 2 * time.Second

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var (
		lines  int
		follow bool
		filter logs.Filter
	)
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show daemon log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			switch filter.MinLevel {
			case "", "debug", "info", "warn", "error":
			default:
				return fmt.Errorf("unknown level %q", filter.MinLevel)
			}
			c := commandCtx(cmd)
			out := cmd.OutOrStdout()
			result, err := logs.Tail(c, cfg.LogPath(), logs.TailOptions{Offset: -1, Limit: lines, Filter: filter})
			if err != nil {
				return err
			}
			if len(result.Entries) == 0 && !follow {
				fmt.Fprintf(out, "No log entries in %s\n", cfg.LogPath())
				return nil
			}
			printEntries(out, result.Entries)
			if !follow {
				return nil
			}
			offset := result.Offset
			for {
				result, err := logs.Tail(c, cfg.LogPath(), logs.TailOptions{
					Offset: offset,
					Follow: true,
					Wait:   followWait,
					Filter: filter,
				})
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return nil
					}
					return err
				}
				printEntries(out, result.Entries)
				offset = result.Offset
				if c.Err() != nil {
					return nil
				}
			}
		},
	}
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "Number of entries to show")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing new entries")
	cmd.Flags().Int64Var(&filter.ItemID, "item", 0, "Only entries for this item")
	cmd.Flags().StringVar(&filter.OwnerID, "owner", "", "Only entries for this owner")
	cmd.Flags().StringVar(&filter.MinLevel, "level", "", "Minimum level: debug, info, warn or error")
	return cmd
}

func printEntries(out io.Writer, entries []logs.Entry) {
	for _, entry := range entries {
		fmt.Fprintln(out, entry.String())
	}
}
