package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/daemonrun"
	"conveyor/internal/governor"
	"conveyor/internal/queue"
	"conveyor/internal/review"
)

func newScriptCommand(ctx *commandContext) *cobra.Command {
	scriptCmd := &cobra.Command{
		Use:   "script",
		Short: "Review generated scripts",
	}
	scriptCmd.AddCommand(newScriptListCommand(ctx))
	scriptCmd.AddCommand(newScriptShowCommand(ctx))
	scriptCmd.AddCommand(newScriptApproveCommand(ctx))
	scriptCmd.AddCommand(newScriptRejectCommand(ctx))
	scriptCmd.AddCommand(newScriptReviseCommand(ctx))
	return scriptCmd
}

func newScriptListCommand(ctx *commandContext) *cobra.Command {
	var (
		ownerID  string
		status   string
		decision string
		limit    uint64
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List generated scripts, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.ScriptFilter{
				OwnerID:      strings.TrimSpace(ownerID),
				ReviewStatus: queue.ReviewStatus(strings.ToLower(strings.TrimSpace(status))),
				Decision:     queue.GateDecision(strings.ToUpper(strings.TrimSpace(decision))),
				Limit:        limit,
			}
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				scripts, err := rt.Store.ListScripts(commandCtx(cmd), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, scripts)
				}
				if len(scripts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No scripts found")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderScriptTable(scripts))
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&ownerID, "owner", "", "Filter by owner")
	flags.StringVar(&status, "status", "", "Filter by review status: pending, approved, rejected, revision")
	flags.StringVar(&decision, "decision", "", "Filter by gate decision: PASS, NEEDS_REVIEW, FAIL")
	flags.Uint64Var(&limit, "limit", 50, "Maximum rows")
	flags.BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderScriptTable(scripts []*queue.GeneratedScript) string {
	rows := make([][]string, 0, len(scripts))
	for _, s := range scripts {
		rows = append(rows, []string{
			s.ID,
			s.OwnerID,
			truncate(s.Title, 40),
			formatScore(s.Scores.Overall),
			string(s.GateDecision),
			statusLabel(string(s.ReviewStatus)),
			fmt.Sprintf("%d", s.RevisionCount),
			formatTime(s.UpdatedAt),
		})
	}
	return renderTable(
		[]string{"Script", "Owner", "Title", "Score", "Gate", "Review", "Revisions", "Updated"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

type scriptView struct {
	Script    *queue.GeneratedScript `json:"script"`
	Snapshots []queue.ScriptSnapshot `json:"snapshots,omitempty"`
}

func newScriptShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON, snapshots bool
	cmd := &cobra.Command{
		Use:   "show <script-id>",
		Short: "Show a script's scenes, scores, and review state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				script, err := rt.Store.GetScript(commandCtx(cmd), args[0])
				if err != nil {
					return err
				}
				if script == nil {
					return fmt.Errorf("script %s not found", args[0])
				}
				view := scriptView{Script: script}
				if snapshots {
					view.Snapshots, err = rt.Store.ListSnapshots(commandCtx(cmd), script.ID)
					if err != nil {
						return err
					}
				}
				if asJSON {
					return writeJSON(cmd, view)
				}
				renderScriptDetail(cmd.OutOrStdout(), view)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&snapshots, "snapshots", false, "Include revision snapshots")
	return cmd
}

func renderScriptDetail(out io.Writer, view scriptView) {
	s := view.Script
	rows := [][2]string{
		{"Script", s.ID},
		{"Item", fmt.Sprintf("%d", s.ItemID)},
		{"Owner", s.OwnerID},
		{"Title", s.Title},
		{"Format", s.Format},
		{"Scores", fmt.Sprintf("overall %s (hook %s, structure %s, emotional %s, cta %s)",
			formatScore(s.Scores.Overall), formatScore(s.Scores.Hook), formatScore(s.Scores.Structure),
			formatScore(s.Scores.Emotional), formatScore(s.Scores.CTA))},
		{"Gate", fmt.Sprintf("%s (confidence %.2f)", s.GateDecision, s.GateConfidence)},
		{"Review", statusLabel(string(s.ReviewStatus))},
		{"Revisions", fmt.Sprintf("%d", s.RevisionCount)},
	}
	if s.ReviewedBy != "" {
		rows = append(rows, [2]string{"Reviewed", fmt.Sprintf("%s at %s", s.ReviewedBy, formatTimePtr(s.ReviewedAt))})
	}
	if s.RejectionCategory != "" || s.RejectionNotes != "" {
		rows = append(rows, [2]string{"Rejection", strings.TrimSpace(s.RejectionCategory + " " + s.RejectionNotes)})
	}
	if s.ProjectID != "" {
		rows = append(rows, [2]string{"Project", s.ProjectID})
	}
	printKV(out, rows)

	fmt.Fprintln(out)
	fmt.Fprint(out, renderSceneTable(s.Scenes))

	if len(view.Snapshots) == 0 {
		return
	}
	fmt.Fprintln(out)
	snaps := make([][]string, 0, len(view.Snapshots))
	for _, snap := range view.Snapshots {
		current := ""
		if snap.IsCurrent {
			current = "*"
		}
		snaps = append(snaps, []string{
			fmt.Sprintf("%d%s", snap.Number, current),
			fmt.Sprintf("%d", len(snap.Diff)),
			truncate(snap.Feedback, 40),
			formatTime(snap.CreatedAt),
		})
	}
	fmt.Fprint(out, renderTable([]string{"Snapshot", "Changed", "Feedback", "Created"}, snaps,
		[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft}))
}

func renderSceneTable(scenes []queue.Scene) string {
	rows := make([][]string, 0, len(scenes))
	for i, scene := range scenes {
		duration := "-"
		if scene.DurationSeconds > 0 {
			duration = fmt.Sprintf("%.0fs", scene.DurationSeconds)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i),
			queue.SceneKey(scenes, i),
			scene.Text,
			duration,
		})
	}
	return renderTable([]string{"#", "Scene", "Text", "Duration"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight})
}

func newScriptApproveCommand(ctx *commandContext) *cobra.Command {
	var reviewer string
	cmd := &cobra.Command{
		Use:   "approve <script-id>",
		Short: "Approve a script and hand it off to a versioned project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				approval, err := rt.Review.Approve(commandCtx(cmd), args[0], reviewer)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if approval.Resumed {
					fmt.Fprintf(out, "Resumed hand-off for script %s\n", args[0])
				} else {
					fmt.Fprintf(out, "Approved script %s\n", args[0])
				}
				fmt.Fprintf(out, "Project: %s\n", approval.ProjectID)
				if approval.ThresholdChanged {
					fmt.Fprintf(out, "Learned threshold for %s is now %s\n",
						approval.Script.OwnerID, formatScore(approval.Threshold))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", defaultActor(), "Reviewer name")
	return cmd
}

func newScriptRejectCommand(ctx *commandContext) *cobra.Command {
	var reviewer, category, notes string
	cmd := &cobra.Command{
		Use:   "reject <script-id>",
		Short: "Reject a script; the category and notes feed the writing profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				script, err := rt.Review.Reject(commandCtx(cmd), review.Rejection{
					ScriptID: args[0],
					Reviewer: reviewer,
					Category: category,
					Notes:    notes,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rejected script %s (%s)\n", script.ID, script.OwnerID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", defaultActor(), "Reviewer name")
	cmd.Flags().StringVar(&category, "category", "", "Rejection category, e.g. tone or accuracy")
	cmd.Flags().StringVar(&notes, "notes", "", "Why the script was rejected")
	return cmd
}

func newScriptReviseCommand(ctx *commandContext) *cobra.Command {
	var (
		reviewer string
		notes    string
		scenes   []int
	)
	cmd := &cobra.Command{
		Use:   "revise <script-id>",
		Short: "Request a rewrite; the revision re-enters the pipeline at the Writer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(notes) == "" {
				return errors.New("--notes is required")
			}
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				revision, err := rt.Review.RequestRevision(commandCtx(cmd), review.RevisionRequest{
					ScriptID:     args[0],
					Reviewer:     reviewer,
					Notes:        notes,
					TargetScenes: scenes,
				})
				if err != nil {
					if reason := governor.ReasonOf(err); reason != "" {
						return fmt.Errorf("revision not admitted: %s", reason)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Revision %d queued as item %d at stage %s\n",
					revision.Item.Revision.Attempt, revision.Item.ID, stageLabel(revision.Item.CurrentStage))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reviewer, "reviewer", defaultActor(), "Reviewer name")
	cmd.Flags().StringVar(&notes, "notes", "", "What to change (required)")
	cmd.Flags().IntSliceVar(&scenes, "scene", nil, "Zero-based scene index to rewrite (repeatable)")
	return cmd
}
