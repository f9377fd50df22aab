package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"conveyor/internal/daemonrun"
	"conveyor/internal/queue"
	"conveyor/internal/versions"
)

func newProjectCommand(ctx *commandContext) *cobra.Command {
	projectCmd := &cobra.Command{
		Use:   "project",
		Short: "Inspect and edit versioned projects",
	}
	projectCmd.AddCommand(newProjectShowCommand(ctx))
	projectCmd.AddCommand(newProjectVersionsCommand(ctx))
	projectCmd.AddCommand(newProjectDiffCommand(ctx))
	projectCmd.AddCommand(newProjectCandidateCommand(ctx))
	projectCmd.AddCommand(newProjectAcceptCommand(ctx))
	projectCmd.AddCommand(newProjectRejectCommand(ctx))
	projectCmd.AddCommand(newProjectRevertCommand(ctx))
	projectCmd.AddCommand(newProjectApplyCommand(ctx))
	projectCmd.AddCommand(newProjectRecommendCommand(ctx))
	return projectCmd
}

type projectView struct {
	Project         *versions.Project          `json:"project"`
	Current         *versions.Version          `json:"current"`
	Candidate       *versions.Version          `json:"candidate,omitempty"`
	Recommendations []*versions.Recommendation `json:"recommendations,omitempty"`
}

func newProjectShowCommand(ctx *commandContext) *cobra.Command {
	var (
		ownerID string
		limit   uint64
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "show [project-id]",
		Short: "List projects, or show one project's current version",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				c := commandCtx(cmd)
				out := cmd.OutOrStdout()
				if len(args) == 0 {
					projects, err := rt.Versions.ListProjects(c, strings.TrimSpace(ownerID), limit)
					if err != nil {
						return err
					}
					if asJSON {
						return writeJSON(cmd, projects)
					}
					if len(projects) == 0 {
						fmt.Fprintln(out, "No projects found")
						return nil
					}
					rows := make([][]string, 0, len(projects))
					for _, p := range projects {
						rows = append(rows, []string{p.ID, p.OwnerID, truncate(p.Title, 40), p.ScriptID, formatTime(p.CreatedAt)})
					}
					fmt.Fprint(out, renderTable([]string{"Project", "Owner", "Title", "Script", "Created"}, rows, nil))
					return nil
				}

				project, err := rt.Versions.GetProject(c, args[0])
				if err != nil {
					return err
				}
				current, err := rt.Versions.Current(c, project.ID)
				if err != nil {
					return err
				}
				candidate, err := rt.Versions.OpenCandidate(c, project.ID)
				if err != nil {
					return err
				}
				recs, err := rt.Versions.ListRecommendations(c, current.ID)
				if err != nil {
					return err
				}
				view := projectView{Project: project, Current: current, Candidate: candidate, Recommendations: recs}
				if asJSON {
					return writeJSON(cmd, view)
				}
				renderProjectDetail(out, view)
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&ownerID, "owner", "", "Filter the project list by owner")
	flags.Uint64Var(&limit, "limit", 50, "Maximum rows")
	flags.BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderProjectDetail(out io.Writer, view projectView) {
	rows := [][2]string{
		{"Project", view.Project.ID},
		{"Owner", view.Project.OwnerID},
		{"Title", view.Project.Title},
		{"Script", view.Project.ScriptID},
		{"Current", fmt.Sprintf("v%d by %s (%s)", view.Current.Number, view.Current.CreatedBy, view.Current.Provenance.Source)},
		{"Score", formatScorePtr(view.Current.Score)},
	}
	if view.Candidate != nil {
		rows = append(rows, [2]string{"Candidate", fmt.Sprintf("v%d %s", view.Candidate.Number, view.Candidate.ID)})
	}
	printKV(out, rows)
	fmt.Fprintln(out)
	fmt.Fprint(out, renderSceneTable(view.Current.Scenes))
	if view.Current.ReviewText != "" {
		fmt.Fprintf(out, "\nReview: %s\n", view.Current.ReviewText)
	}
	if len(view.Recommendations) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, renderRecommendationTable(view.Recommendations))
}

func renderRecommendationTable(recs []*versions.Recommendation) string {
	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		state := "open"
		switch {
		case rec.Applied:
			state = "applied"
		case rec.Invalidated:
			state = "stale"
		}
		rows = append(rows, []string{
			rec.ID,
			fmt.Sprintf("%d", rec.SceneIndex),
			rec.Priority,
			rec.Area,
			truncate(rec.SuggestedText, 50),
			state,
		})
	}
	return renderTable([]string{"Recommendation", "Scene", "Priority", "Area", "Suggestion", "State"}, rows,
		[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignLeft})
}

func newProjectVersionsCommand(ctx *commandContext) *cobra.Command {
	var (
		all    bool
		since  int
		limit  uint64
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "versions <project-id>",
		Short: "List a project's version history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				list, err := rt.Versions.List(commandCtx(cmd), versions.ListFilter{
					ProjectID:       args[0],
					IncludeRejected: all,
					SinceVersion:    since,
					Limit:           limit,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, list)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No versions found")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderVersionTable(list))
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&all, "all", false, "Include rejected candidates")
	flags.IntVar(&since, "since", 0, "Only versions numbered at least this")
	flags.Uint64Var(&limit, "limit", 0, "Maximum rows (0 for all)")
	flags.BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderVersionTable(list []*versions.Version) string {
	rows := make([][]string, 0, len(list))
	for _, v := range list {
		state := ""
		switch {
		case v.IsCurrent:
			state = "current"
		case v.IsOpenCandidate():
			state = "candidate"
		case v.IsRejected:
			state = "rejected"
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", v.Number),
			v.ID,
			string(v.CreatedBy),
			v.Provenance.Source,
			truncate(v.ChangeSummary, 40),
			fmt.Sprintf("%d", len(v.ChangedSceneIDs)),
			state,
			formatTime(v.CreatedAt),
		})
	}
	return renderTable(
		[]string{"#", "Version", "By", "Source", "Summary", "Changed", "State", "Created"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
	)
}

func versionByNumber(list []*versions.Version, number int) (*versions.Version, error) {
	for _, v := range list {
		if v.Number == number {
			return v, nil
		}
	}
	return nil, fmt.Errorf("version %d: %w", number, versions.ErrVersionNotFound)
}

func newProjectDiffCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "diff <project-id> <from-version> <to-version>",
		Short: "Show scene-level changes between two versions",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseVersionNumber(args[1])
			if err != nil {
				return err
			}
			to, err := parseVersionNumber(args[2])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				list, err := rt.Versions.List(commandCtx(cmd), versions.ListFilter{ProjectID: args[0], IncludeRejected: true})
				if err != nil {
					return err
				}
				before, err := versionByNumber(list, from)
				if err != nil {
					return err
				}
				after, err := versionByNumber(list, to)
				if err != nil {
					return err
				}
				changes := versions.Diff(before, after)
				if asJSON {
					return writeJSON(cmd, changes)
				}
				if len(changes) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "Versions %d and %d have identical scenes\n", from, to)
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderChangeTable(changes))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func renderChangeTable(changes []queue.SceneChange) string {
	rows := make([][]string, 0, len(changes))
	for _, change := range changes {
		rows = append(rows, []string{
			fmt.Sprintf("%d", change.Index),
			change.SceneID,
			change.Before,
			change.After,
		})
	}
	return renderTable([]string{"#", "Scene", "Before", "After"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft})
}

// sceneDocument is the file format for user-authored versions.
type sceneDocument struct {
	Summary string       `json:"summary" yaml:"summary"`
	Scenes  []sceneInput `json:"scenes" yaml:"scenes"`
}

type sceneInput struct {
	ID              string  `json:"id" yaml:"id"`
	Text            string  `json:"text" yaml:"text"`
	Visual          string  `json:"visual,omitempty" yaml:"visual"`
	DurationSeconds float64 `json:"durationSeconds,omitempty" yaml:"duration_seconds"`
}

func (d sceneDocument) draft(userID, summary string) (versions.Draft, error) {
	if len(d.Scenes) == 0 {
		return versions.Draft{}, errors.New("scene document has no scenes")
	}
	scenes := make([]queue.Scene, 0, len(d.Scenes))
	for i, in := range d.Scenes {
		if strings.TrimSpace(in.Text) == "" {
			return versions.Draft{}, fmt.Errorf("scene %d has no text", i)
		}
		scenes = append(scenes, queue.Scene{
			ID:              strings.TrimSpace(in.ID),
			Text:            in.Text,
			Visual:          in.Visual,
			DurationSeconds: in.DurationSeconds,
		})
	}
	if strings.TrimSpace(summary) == "" {
		summary = d.Summary
	}
	return versions.Draft{
		CreatedBy:     versions.CreatedByUser,
		Scenes:        scenes,
		Content:       queue.JoinScenes(scenes),
		ChangeSummary: strings.TrimSpace(summary),
		UserID:        userID,
	}, nil
}

func newProjectCandidateCommand(ctx *commandContext) *cobra.Command {
	var (
		file    string
		summary string
		user    string
		commit  bool
	)
	cmd := &cobra.Command{
		Use:   "candidate <project-id>",
		Short: "Propose a new version from a JSON or YAML scene document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var doc sceneDocument
			if err := readDocument(file, cmd.InOrStdin(), &doc); err != nil {
				return err
			}
			draft, err := doc.draft(user, summary)
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				c := commandCtx(cmd)
				var v *versions.Version
				if commit {
					v, err = rt.Versions.CommitEdit(c, args[0], draft)
				} else {
					v, err = rt.Versions.CreateCandidate(c, args[0], draft)
				}
				if err != nil {
					return err
				}
				kind := "candidate"
				if commit {
					kind = "current version"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created %s v%d (%s) changing %d scene(s)\n",
					kind, v.Number, v.ID, len(v.ChangedSceneIDs))
				return nil
			})
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&file, "file", "f", "", "Scene document (JSON or YAML, \"-\" for stdin)")
	flags.StringVar(&summary, "summary", "", "Change summary")
	flags.StringVar(&user, "user", defaultActor(), "Author of the change")
	flags.BoolVar(&commit, "commit", false, "Commit directly as the new current version")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newProjectAcceptCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "accept <candidate-version-id>",
		Short: "Promote an open candidate to the current version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				v, err := rt.Versions.Accept(commandCtx(cmd), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Version %d is now current for project %s\n", v.Number, v.ProjectID)
				return nil
			})
		},
	}
}

func newProjectRejectCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reject <candidate-version-id>",
		Short: "Reject an open candidate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				v, err := rt.Versions.Reject(commandCtx(cmd), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rejected candidate v%d of project %s\n", v.Number, v.ProjectID)
				return nil
			})
		},
	}
}

func newProjectRevertCommand(ctx *commandContext) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "revert <project-id> <version>",
		Short: "Append a new current version restoring an earlier one",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := parseVersionNumber(args[1])
			if err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				v, err := rt.Versions.Revert(commandCtx(cmd), args[0], number, user)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reverted to v%d as v%d\n", number, v.Number)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", defaultActor(), "Author of the revert")
	return cmd
}

func newProjectApplyCommand(ctx *commandContext) *cobra.Command {
	var user string
	cmd := &cobra.Command{
		Use:   "apply <recommendation-id>",
		Short: "Apply a recommendation as a new current version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				v, err := rt.Versions.ApplyRecommendation(commandCtx(cmd), args[0], user)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied recommendation as v%d of project %s\n", v.Number, v.ProjectID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&user, "user", defaultActor(), "Who applied the recommendation")
	return cmd
}

func newProjectRecommendCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "recommend <project-id>",
		Short: "Ask the reviewer agent for scene recommendations on the current version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireLLM(); err != nil {
				return err
			}
			return ctx.withRuntime(cmd, func(rt *daemonrun.Runtime) error {
				current, recs, err := rt.Recommender.Recommend(commandCtx(cmd), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, struct {
						Version         *versions.Version          `json:"version"`
						Recommendations []*versions.Recommendation `json:"recommendations"`
					}{current, recs})
				}
				out := cmd.OutOrStdout()
				if current.ReviewText != "" {
					fmt.Fprintf(out, "Review: %s\n\n", current.ReviewText)
				}
				if len(recs) == 0 {
					fmt.Fprintf(out, "No recommendations for v%d\n", current.Number)
					return nil
				}
				fmt.Fprint(out, renderRecommendationTable(recs))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}
