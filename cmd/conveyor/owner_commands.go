package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"conveyor/internal/config"
	"conveyor/internal/daemonrun"
	"conveyor/internal/queue"
)

func newOwnerCommand(ctx *commandContext) *cobra.Command {
	ownerCmd := &cobra.Command{
		Use:   "owner",
		Short: "Manage owner settings, limits, and writing profiles",
	}
	ownerCmd.AddCommand(newOwnerSetCommand(ctx))
	ownerCmd.AddCommand(newOwnerImportCommand(ctx))
	ownerCmd.AddCommand(newOwnerShowCommand(ctx))
	ownerCmd.AddCommand(newOwnerResetCommand(ctx))
	return ownerCmd
}

func defaultOwner(cfg *config.Config, ownerID string) queue.OwnerSettings {
	return queue.OwnerSettings{
		OwnerID:            ownerID,
		Enabled:            true,
		MinScoreThreshold:  cfg.OwnerDefaults.MinScoreThreshold,
		DailyLimit:         cfg.OwnerDefaults.DailyLimit,
		MonthlyBudgetLimit: cfg.OwnerDefaults.MonthlyBudgetLimit,
	}
}

func newOwnerSetCommand(ctx *commandContext) *cobra.Command {
	var (
		enabled       bool
		dailyLimit    int
		budget        float64
		minScore      float64
		tone          string
		format        string
		duration      int
		lang          string
		sourceTypes   []string
		minEngagement float64
		blocked       []string
	)

	cmd := &cobra.Command{
		Use:   "set <owner-id>",
		Short: "Create or update an owner; unset flags keep their current values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ownerID := strings.TrimSpace(args[0])
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				existing, err := rt.Store.GetOwner(commandCtx(cmd), ownerID)
				if err != nil {
					return err
				}
				owner := defaultOwner(rt.Config, ownerID)
				if existing != nil {
					owner = *existing
				}
				flags := cmd.Flags()
				if flags.Changed("enabled") {
					owner.Enabled = enabled
				}
				if flags.Changed("daily-limit") {
					owner.DailyLimit = dailyLimit
				}
				if flags.Changed("budget") {
					owner.MonthlyBudgetLimit = budget
				}
				if flags.Changed("min-score") {
					owner.MinScoreThreshold = minScore
				}
				if flags.Changed("tone") {
					owner.Style.Tone = tone
				}
				if flags.Changed("format") {
					owner.Style.Format = format
				}
				if flags.Changed("duration") {
					owner.Style.TargetDurationSeconds = duration
				}
				if flags.Changed("language") {
					owner.Style.Language = lang
				}
				if flags.Changed("source-type") {
					owner.Filters.AllowedSourceTypes = sourceTypes
				}
				if flags.Changed("min-engagement") {
					owner.Filters.MinEngagement = minEngagement
				}
				if flags.Changed("blocked") {
					owner.Filters.BlockedKeywords = blocked
				}
				if err := validateOwner(owner); err != nil {
					return err
				}
				saved, err := rt.Store.UpsertOwner(commandCtx(cmd), owner)
				if err != nil {
					return err
				}
				verb := "Updated"
				if existing == nil {
					verb = "Created"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s owner %s\n", verb, saved.OwnerID)
				return nil
			})
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&enabled, "enabled", true, "Whether the owner accepts new work")
	flags.IntVar(&dailyLimit, "daily-limit", 0, "Items admitted per UTC day")
	flags.Float64Var(&budget, "budget", 0, "Monthly model cost budget in USD")
	flags.Float64Var(&minScore, "min-score", 0, "Minimum overall score (0-100) for a passing script")
	flags.StringVar(&tone, "tone", "", "Preferred script tone")
	flags.StringVar(&format, "format", "", "Preferred script format")
	flags.IntVar(&duration, "duration", 0, "Target script duration in seconds")
	flags.StringVar(&lang, "language", "", "Script language")
	flags.StringSliceVar(&sourceTypes, "source-type", nil, "Allowed source types (repeatable)")
	flags.Float64Var(&minEngagement, "min-engagement", 0, "Minimum source engagement")
	flags.StringSliceVar(&blocked, "blocked", nil, "Blocked keywords (repeatable)")
	return cmd
}

func validateOwner(owner queue.OwnerSettings) error {
	switch {
	case owner.OwnerID == "":
		return errors.New("owner id is required")
	case owner.DailyLimit < 0:
		return fmt.Errorf("owner %s: daily_limit must be >= 0", owner.OwnerID)
	case owner.MonthlyBudgetLimit < 0:
		return fmt.Errorf("owner %s: monthly_budget_limit must be >= 0", owner.OwnerID)
	case owner.MinScoreThreshold < 0 || owner.MinScoreThreshold > 100:
		return fmt.Errorf("owner %s: min_score_threshold must be within 0-100", owner.OwnerID)
	case owner.Filters.MinEngagement < 0:
		return fmt.Errorf("owner %s: min_engagement must be >= 0", owner.OwnerID)
	}
	return nil
}

// decodeOwners reads one owner per YAML document. Fields a document omits
// take the configured owner defaults.
func decodeOwners(r io.Reader, cfg *config.Config) ([]queue.OwnerSettings, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var owners []queue.OwnerSettings
	for {
		owner := defaultOwner(cfg, "")
		err := dec.Decode(&owner)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse owner document %d: %w", len(owners)+1, err)
		}
		owner.OwnerID = strings.TrimSpace(owner.OwnerID)
		if err := validateOwner(owner); err != nil {
			return nil, fmt.Errorf("owner document %d: %w", len(owners)+1, err)
		}
		owners = append(owners, owner)
	}
	if len(owners) == 0 {
		return nil, errors.New("no owner documents found")
	}
	return owners, nil
}

func newOwnerImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or update owners from a multi-document YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var input io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				path, err := config.ExpandPath(args[0])
				if err != nil {
					return err
				}
				file, err := os.Open(path)
				if err != nil {
					return fmt.Errorf("open %s: %w", args[0], err)
				}
				defer file.Close()
				input = file
			}
			owners, err := decodeOwners(input, cfg)
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				for _, owner := range owners {
					if _, err := rt.Store.UpsertOwner(commandCtx(cmd), owner); err != nil {
						return fmt.Errorf("import owner %s: %w", owner.OwnerID, err)
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d owner(s)\n", len(owners))
				return nil
			})
		},
	}
}

type ownerView struct {
	Owner   *queue.OwnerSettings  `json:"owner"`
	Profile *queue.WritingProfile `json:"profile,omitempty"`
}

func newOwnerShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	var profileYAML bool

	cmd := &cobra.Command{
		Use:   "show [owner-id]",
		Short: "List owners, or show one owner's settings and writing profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					owners, err := rt.Store.ListOwners(commandCtx(cmd))
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(cmd, owners)
					}
					if len(owners) == 0 {
						fmt.Fprintln(out, "No owners configured")
						return nil
					}
					fmt.Fprint(out, renderOwnerTable(owners))
					return nil
				}

				owner, err := rt.Store.GetOwner(commandCtx(cmd), args[0])
				if err != nil {
					return err
				}
				if owner == nil {
					return fmt.Errorf("owner %s not found", args[0])
				}
				profile, err := rt.Store.GetProfile(commandCtx(cmd), owner.OwnerID)
				if err != nil {
					return err
				}
				if profileYAML {
					if profile == nil {
						return fmt.Errorf("owner %s has no writing profile yet", owner.OwnerID)
					}
					enc := yaml.NewEncoder(out)
					enc.SetIndent(2)
					defer enc.Close()
					return enc.Encode(profile)
				}
				if asJSON {
					return writeJSON(cmd, ownerView{Owner: owner, Profile: profile})
				}
				renderOwnerDetail(out, owner, profile)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&profileYAML, "profile", false, "Export only the writing profile as YAML")
	return cmd
}

func renderOwnerTable(owners []*queue.OwnerSettings) string {
	rows := make([][]string, 0, len(owners))
	for _, o := range owners {
		rows = append(rows, []string{
			o.OwnerID,
			yesNo(o.Enabled),
			fmt.Sprintf("%d/%d", o.ItemsProcessedToday, o.DailyLimit),
			fmt.Sprintf("%s/%s", formatCost(o.CurrentMonthCost), formatCost(o.MonthlyBudgetLimit)),
			formatScore(o.EffectiveThreshold()),
			fmt.Sprintf("%.0f%%", o.Stats.ApprovalRate()*100),
		})
	}
	return renderTable(
		[]string{"Owner", "Enabled", "Today", "Month Cost", "Threshold", "Approval"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight},
	)
}

func renderOwnerDetail(out io.Writer, o *queue.OwnerSettings, profile *queue.WritingProfile) {
	printKV(out, [][2]string{
		{"Owner", o.OwnerID},
		{"Enabled", yesNo(o.Enabled)},
		{"Daily limit", fmt.Sprintf("%d (used %d)", o.DailyLimit, o.ItemsProcessedToday)},
		{"Monthly budget", fmt.Sprintf("%s (spent %s)", formatCost(o.MonthlyBudgetLimit), formatCost(o.CurrentMonthCost))},
		{"Min score", formatScore(o.MinScoreThreshold)},
		{"Learned threshold", formatScorePtr(o.LearnedThreshold)},
		{"Source types", strings.Join(o.Filters.AllowedSourceTypes, ", ")},
		{"Blocked keywords", strings.Join(o.Filters.BlockedKeywords, ", ")},
		{"Style", fmt.Sprintf("tone=%s format=%s duration=%ds language=%s",
			o.Style.Tone, o.Style.Format, o.Style.TargetDurationSeconds, o.Style.Language)},
		{"Processed", fmt.Sprintf("%d (passed %d, failed %d)", o.Stats.Processed, o.Stats.Passed, o.Stats.Failed)},
		{"Reviewed", fmt.Sprintf("%d approved, %d rejected", o.Stats.Approved, o.Stats.Rejected)},
	})
	if len(o.RejectionPatterns) > 0 {
		fmt.Fprintln(out)
		rows := make([][]string, 0, len(o.RejectionPatterns))
		for category, count := range o.RejectionPatterns {
			rows = append(rows, []string{category, fmt.Sprintf("%d", count)})
		}
		sortRows(rows)
		fmt.Fprint(out, renderTable([]string{"Rejection", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
	}
	if profile == nil {
		return
	}
	fmt.Fprintln(out)
	if profile.Summary != "" {
		fmt.Fprintf(out, "Profile summary: %s\n", profile.Summary)
	}
	if len(profile.Rules) == 0 {
		fmt.Fprintln(out, "No learned writing rules")
		return
	}
	rows := make([][]string, 0, len(profile.Rules))
	for _, rule := range profile.Rules {
		rows = append(rows, []string{
			string(rule.Type),
			truncate(rule.Rule, maxCellWidth),
			fmt.Sprintf("%.2f", rule.Weight),
			fmt.Sprintf("%d", rule.OccurrenceCount),
		})
	}
	fmt.Fprint(out, renderTable([]string{"Type", "Rule", "Weight", "Seen"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight}))
}

func newOwnerResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <owner-id>",
		Short: "Zero an owner's daily item counter and monthly cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				if err := rt.Governor.Reset(commandCtx(cmd), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset counters for owner %s\n", args[0])
				return nil
			})
		},
	}
}
