package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/daemonrun"
	"conveyor/internal/queue"
)

func newFeedbackCommand(ctx *commandContext) *cobra.Command {
	feedbackCmd := &cobra.Command{
		Use:   "feedback",
		Short: "Inspect and process reviewer feedback",
	}
	feedbackCmd.AddCommand(newFeedbackListCommand(ctx))
	feedbackCmd.AddCommand(newFeedbackProcessCommand(ctx))
	return feedbackCmd
}

func newFeedbackListCommand(ctx *commandContext) *cobra.Command {
	var (
		ownerID string
		status  string
		limit   uint64
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List feedback entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				entries, err := rt.Store.ListFeedback(commandCtx(cmd), queue.FeedbackFilter{
					OwnerID: strings.TrimSpace(ownerID),
					Status:  queue.FeedbackStatus(strings.ToLower(strings.TrimSpace(status))),
					Limit:   limit,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, entries)
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No feedback found")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, e := range entries {
					detail := truncate(e.Notes, 40)
					if e.DiscardReason != "" {
						detail = truncate("discarded: "+e.DiscardReason, 40)
					}
					rows = append(rows, []string{
						e.ID, e.OwnerID, string(e.Kind), e.Category, statusLabel(string(e.Status)), detail, formatTime(e.CreatedAt),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Feedback", "Owner", "Kind", "Category", "Status", "Notes", "Created"}, rows, nil))
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&ownerID, "owner", "", "Filter by owner")
	flags.StringVar(&status, "status", "", "Filter by status: pending, processed, discarded")
	flags.Uint64Var(&limit, "limit", 50, "Maximum rows")
	flags.BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newFeedbackProcessCommand(ctx *commandContext) *cobra.Command {
	var (
		ownerID string
		limit   uint64
	)
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Extract patterns from pending feedback into writing profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireLLM(); err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				summary, err := rt.Learning.ProcessPending(commandCtx(cmd), strings.TrimSpace(ownerID), limit)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Processed %d, discarded %d, failed %d\n",
					summary.Processed, summary.Discarded, summary.Failed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ownerID, "owner", "", "Only process this owner's feedback")
	cmd.Flags().Uint64Var(&limit, "limit", 50, "Maximum entries to process")
	return cmd
}
