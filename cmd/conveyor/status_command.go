package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"conveyor/internal/config"
	"conveyor/internal/daemonrun"
	"conveyor/internal/preflight"
	"conveyor/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var checkLLM bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency, queue, and owner status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			report := newStatusReport(cmd.OutOrStdout())

			report.section("System")
			running, lockErr := daemonRunning(cfg)
			switch {
			case lockErr != nil:
				report.line("Daemon", statusWarn, lockErr.Error())
			case running:
				report.line("Daemon", statusOK, "running")
			default:
				report.line("Daemon", statusInfo, "stopped")
			}
			report.line("Database", statusInfo, cfg.DatabasePath())
			topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
			if topic == "" {
				topic = "disabled"
			}
			report.line("Notifications", statusInfo, topic)
			for _, result := range preflight.RunAll(commandCtx(cmd), cfg, preflight.Options{SkipLLM: !checkLLM}) {
				report.check(result.Name, result.Passed, result.Detail)
			}

			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				c := commandCtx(cmd)
				stats, err := rt.Store.Stats(c)
				if err != nil {
					return err
				}
				counts, err := rt.Store.StageCounts(c)
				if err != nil {
					return err
				}
				report.section("Queue")
				if len(stats) == 0 {
					report.text("Queue is empty")
				} else {
					report.text(renderTable([]string{"Status", "Count"}, queueStatusRows(stats),
						[]columnAlignment{alignLeft, alignRight}))
					if rows := stageCountRows(counts); len(rows) > 0 {
						report.text(renderTable([]string{"Stage", "Processing"}, rows,
							[]columnAlignment{alignLeft, alignRight}))
					}
					health, err := rt.Store.Health(c)
					if err != nil {
						return err
					}
					leaseKind := statusInfo
					if health.Processing > health.Leased {
						leaseKind = statusWarn
					}
					report.line("Worker leases", leaseKind, fmt.Sprintf("%d of %d processing", health.Leased, health.Processing))
				}

				if checkLLM {
					report.section("Stages")
					for _, health := range rt.Workflow.Status(c).StageHealth {
						label := health.Name
						if st, ok := queue.ParseStage(health.Name); ok {
							label = stageLabel(st)
						}
						report.check(label, health.Ready, health.Summary())
					}
				}

				owners, err := rt.Store.ListOwners(c)
				if err != nil {
					return err
				}
				if len(owners) > 0 {
					report.section("Owners")
					report.text(renderOwnerTable(owners))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&checkLLM, "check-llm", false, "Also probe the language model API and stage readiness")
	return cmd
}

// daemonRunning probes the daemon lock without holding it.
func daemonRunning(cfg *config.Config) (bool, error) {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe daemon lock: %w", err)
	}
	if !ok {
		return true, nil
	}
	return false, lock.Unlock()
}

func queueStatusRows(stats map[queue.Status]int) [][]string {
	rows := make([][]string, 0, len(stats))
	for _, status := range queue.AllStatuses() {
		if count, ok := stats[status]; ok && count > 0 {
			rows = append(rows, []string{statusLabel(string(status)), fmt.Sprintf("%d", count)})
		}
	}
	return rows
}

func stageCountRows(counts map[queue.Stage]int) [][]string {
	stages := make([]queue.Stage, 0, len(counts))
	for st := range counts {
		stages = append(stages, st)
	}
	slices.Sort(stages)
	rows := make([][]string, 0, len(stages))
	for _, st := range stages {
		if counts[st] > 0 {
			rows = append(rows, []string{stageLabel(st), fmt.Sprintf("%d", counts[st])})
		}
	}
	return rows
}
