package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/daemonrun"
	"conveyor/internal/governor"
	"conveyor/internal/queue"
)

func newItemCommand(ctx *commandContext) *cobra.Command {
	itemCmd := &cobra.Command{
		Use:   "item",
		Short: "Submit and inspect pipeline items",
	}
	itemCmd.AddCommand(newItemAddCommand(ctx))
	itemCmd.AddCommand(newItemListCommand(ctx))
	itemCmd.AddCommand(newItemShowCommand(ctx))
	itemCmd.AddCommand(newItemRetryCommand(ctx))
	itemCmd.AddCommand(newItemRunStageCommand(ctx))
	return itemCmd
}

func newItemAddCommand(ctx *commandContext) *cobra.Command {
	var (
		ownerID    string
		file       string
		source     queue.SourceData
		engagement map[string]string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Admit a source item for an owner",
		Long: "Admit a source item for an owner. The source comes from --file (JSON or YAML, " +
			"\"-\" for stdin) or from the individual flags; flags override file values.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID = strings.TrimSpace(ownerID)
			if ownerID == "" {
				return errors.New("--owner is required")
			}
			var data queue.SourceData
			if strings.TrimSpace(file) != "" {
				if err := readDocument(file, cmd.InOrStdin(), &data); err != nil {
					return err
				}
			}
			if err := mergeSourceFlags(cmd, &data, source, engagement); err != nil {
				return err
			}
			if strings.TrimSpace(data.Title) == "" && strings.TrimSpace(data.Body()) == "" {
				return errors.New("source needs a title or content")
			}
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				item, err := rt.Governor.Enqueue(commandCtx(cmd), ownerID, data)
				if err != nil {
					if reason := governor.ReasonOf(err); reason != "" {
						return fmt.Errorf("owner %s not admitted: %s", ownerID, reason)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued item %d for %s at stage %s\n",
					item.ID, item.OwnerID, stageLabel(item.CurrentStage))
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&ownerID, "owner", "", "Owner id (required)")
	flags.StringVarP(&file, "file", "f", "", "JSON or YAML source document")
	flags.StringVar(&source.SourceType, "source-type", "", "Source type, e.g. article or video")
	flags.StringVar(&source.SourceItemID, "source-id", "", "Upstream item id")
	flags.StringVar(&source.Title, "title", "", "Source title")
	flags.StringVar(&source.Content, "content", "", "Source text or HTML")
	flags.StringVar(&source.Transcript, "transcript", "", "Source transcript")
	flags.StringVar(&source.URL, "url", "", "Source URL")
	flags.StringToStringVar(&engagement, "metric", nil, "Engagement metric, e.g. --metric views=1200")
	return cmd
}

func mergeSourceFlags(cmd *cobra.Command, dst *queue.SourceData, flagged queue.SourceData, engagement map[string]string) error {
	flags := cmd.Flags()
	set := func(name string, target *string, value string) {
		if flags.Changed(name) {
			*target = value
		}
	}
	set("source-type", &dst.SourceType, flagged.SourceType)
	set("source-id", &dst.SourceItemID, flagged.SourceItemID)
	set("title", &dst.Title, flagged.Title)
	set("content", &dst.Content, flagged.Content)
	set("transcript", &dst.Transcript, flagged.Transcript)
	set("url", &dst.URL, flagged.URL)
	if len(engagement) > 0 {
		if dst.EngagementMetrics == nil {
			dst.EngagementMetrics = make(map[string]float64, len(engagement))
		}
		for k, raw := range engagement {
			v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return fmt.Errorf("metric %s: %q is not a number", k, raw)
			}
			dst.EngagementMetrics[k] = v
		}
	}
	return nil
}

func newItemListCommand(ctx *commandContext) *cobra.Command {
	var (
		ownerID  string
		statuses []string
		stageArg string
		limit    uint64
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pipeline items",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.ListFilter{OwnerID: strings.TrimSpace(ownerID), Limit: limit}
			for _, raw := range statuses {
				status, ok := queue.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			if strings.TrimSpace(stageArg) != "" {
				st, ok := queue.ParseStage(stageArg)
				if !ok {
					return fmt.Errorf("unknown stage %q", stageArg)
				}
				filter.Stage = st
			}
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				items, err := rt.Store.List(commandCtx(cmd), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, items)
				}
				if len(items) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No items found")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderItemTable(items))
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&ownerID, "owner", "", "Filter by owner")
	flags.StringSliceVar(&statuses, "status", nil, "Filter by status (repeatable)")
	flags.StringVar(&stageArg, "stage", "", "Filter by current stage")
	flags.Uint64Var(&limit, "limit", 50, "Maximum rows")
	flags.BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderItemTable(items []*queue.Item) string {
	rows := make([][]string, 0, len(items))
	for _, item := range items {
		title := item.Source.Title
		if item.IsRevision() {
			title = fmt.Sprintf("%s (revision %d)", title, item.Revision.Attempt)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", item.ID),
			item.OwnerID,
			truncate(title, 40),
			statusLabel(string(item.Status)),
			stageLabel(item.CurrentStage),
			formatCost(item.TotalCost),
			formatTime(item.UpdatedAt),
		})
	}
	return renderTable(
		[]string{"ID", "Owner", "Title", "Status", "Stage", "Cost", "Updated"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
	)
}

func newItemShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show an item with its stage history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				item, err := rt.Store.GetItem(commandCtx(cmd), id)
				if err != nil {
					return err
				}
				if item == nil {
					return fmt.Errorf("item %d not found", id)
				}
				if asJSON {
					return writeJSON(cmd, item)
				}
				renderItemDetail(cmd.OutOrStdout(), item)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderItemDetail(out io.Writer, item *queue.Item) {
	rows := [][2]string{
		{"Item", fmt.Sprintf("%d", item.ID)},
		{"Owner", item.OwnerID},
		{"Title", item.Source.Title},
		{"Source", strings.TrimSpace(item.Source.SourceType + " " + item.Source.URL)},
		{"Status", statusLabel(string(item.Status))},
		{"Stage", stageLabel(item.CurrentStage)},
		{"Total cost", formatCost(item.TotalCost)},
		{"Retries", fmt.Sprintf("%d", item.RetryCount)},
		{"Created", formatTime(item.CreatedAt)},
		{"Completed", formatTimePtr(item.CompletedAt)},
	}
	if item.TotalProcessingMs > 0 {
		rows = append(rows, [2]string{"Processing", fmt.Sprintf("%.1fs", float64(item.TotalProcessingMs)/1000)})
	}
	if item.ErrorMessage != "" {
		rows = append(rows, [2]string{"Error", fmt.Sprintf("%s: %s", stageLabel(item.ErrorStage), item.ErrorMessage)})
	}
	if item.IsRevision() {
		rows = append(rows,
			[2]string{"Revision of", item.Revision.PreviousScriptID},
			[2]string{"Attempt", fmt.Sprintf("%d", item.Revision.Attempt)},
			[2]string{"Notes", item.Revision.Notes},
		)
	}
	if gate := item.Payloads.Gate; gate != nil {
		rows = append(rows, [2]string{"Gate", fmt.Sprintf("%s (score %s, threshold %s)",
			gate.Decision, formatScore(gate.Score), formatScore(gate.Threshold))})
	}
	if delivery := item.Payloads.Delivery; delivery != nil && delivery.ScriptID != "" {
		rows = append(rows, [2]string{"Script", delivery.ScriptID})
	}
	printKV(out, rows)

	if len(item.History) == 0 {
		return
	}
	fmt.Fprintln(out)
	history := make([][]string, 0, len(item.History))
	for _, entry := range item.History {
		result := "ok"
		if !entry.Success {
			result = truncate(entry.Error, 40)
		}
		history = append(history, []string{
			stageLabel(entry.Stage),
			entry.Agent,
			fmt.Sprintf("%.1fs", entry.Duration().Seconds()),
			formatCost(entry.Cost),
			result,
		})
	}
	fmt.Fprint(out, renderTable([]string{"Stage", "Agent", "Duration", "Cost", "Result"}, history,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft}))
}

func newItemRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <item-id>",
		Short: "Re-open a failed item at the stage that failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				item, err := rt.Store.RetryFailed(commandCtx(cmd), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Item %d will retry %s (attempt %d of %d)\n",
					item.ID, stageLabel(item.CurrentStage), item.RetryCount, rt.Store.MaxRetries())
				return nil
			})
		},
	}
}

func newItemRunStageCommand(ctx *commandContext) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "run-stage <item-id>",
		Short: "Run an item's current stage in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireLLM(); err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				out := cmd.OutOrStdout()
				for {
					before := "-"
					if current, err := rt.Store.GetItem(commandCtx(cmd), id); err == nil && current != nil {
						before = stageLabel(current.CurrentStage)
					}
					item, err := rt.Workflow.RunItem(commandCtx(cmd), id)
					if err != nil {
						return err
					}
					fmt.Fprintf(out, "Ran %s: item %d is %s at %s\n",
						before, item.ID, statusLabel(string(item.Status)), stageLabel(item.CurrentStage))
					if !all || item.Status != queue.StatusProcessing {
						return nil
					}
				}
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Keep running stages until the item completes or fails")
	return cmd
}
