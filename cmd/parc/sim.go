package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"parc/internal/app"
	"parc/internal/domain"
	"parc/internal/engine"
	"parc/internal/explorer"
	"parc/internal/playback"
	"parc/internal/repo"
)

func simCmd() *cobra.Command {
	sim := &cobra.Command{
		Use:   "sim",
		Short: "Create, continue and inspect simulations",
	}
	sim.AddCommand(simListCmd())
	sim.AddCommand(simNewCmd())
	sim.AddCommand(simContinueCmd())
	sim.AddCommand(simShowCmd())
	sim.AddCommand(simTimelineCmd())
	sim.AddCommand(simGraphCmd())
	sim.AddCommand(simReposCmd())
	sim.AddCommand(simTreeCmd())
	sim.AddCommand(simSearchCmd())
	sim.AddCommand(simExportCmd())
	sim.AddCommand(simImportCmd())
	sim.AddCommand(simResetCmd())
	sim.AddCommand(simAutopilotCmd())
	return sim
}

func simListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored simulations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.List(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Key", "Title", "Events", "Updated"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.Key, s.Title, s.Events, s.UpdatedAt})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
}

func simNewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "new",
		Short: "Discard the stored simulation and generate a fresh first chunk",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if err := a.RequireGenerator(); err != nil {
					return err
				}
				key := viper.GetString("key")
				if err := a.Engine.Reset(ctx, key, viper.GetString("actor-id")); err != nil && !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				res, err := a.Engine.Continue(ctx, key, viper.GetString("actor-id"))
				return printContinue(a.Engine, res, err)
			})
		},
	}
}

func simContinueCmd() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "continue",
		Short: "Generate and merge the next chunk of events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if err := a.RequireGenerator(); err != nil {
					return err
				}
				for i := 0; i < max(count, 1); i++ {
					res, err := a.Engine.Continue(ctx, viper.GetString("key"), viper.GetString("actor-id"))
					if err := printContinue(a.Engine, res, err); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&count, "count", "c", 1, "number of chunks to generate")
	return cmd
}

func printContinue(e engine.Engine, res engine.ContinueResult, err error) error {
	var serr *repo.StorageError
	if err != nil && !errors.As(err, &serr) {
		return err
	}
	if viper.GetBool("json") {
		out := map[string]any{
			"key":      e.Key(viper.GetString("key")),
			"chunk_id": res.ChunkID,
			"previous": res.Previous,
			"added":    res.Added,
			"events":   res.Simulation.Len(),
		}
		if serr != nil {
			out["storage_error"] = serr.Error()
		}
		return printJSON(out)
	}
	fmt.Printf("%s: merged %d events (%d total)\n", res.Simulation.SimulationTitle, res.Added, res.Simulation.Len())
	if serr != nil {
		fmt.Fprintln(os.Stderr, "warning:", serr)
	}
	return nil
}

func simShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the simulation header and final report",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				sim, err := a.Engine.Get(ctx, viper.GetString("key"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sim)
				}
				users := make([]string, 0, len(sim.GeneratedUsers))
				for _, u := range sim.GeneratedUsers {
					users = append(users, u.Name)
				}
				tw := newTable()
				tw.AppendRows([]table.Row{
					{"Title", sim.SimulationTitle},
					{"Domains", strings.Join(sim.ResearchDomains, ", ")},
					{"Researchers", strings.Join(users, ", ")},
					{"Events", sim.Len()},
				})
				fmt.Println(tw.Render())
				if sim.FinalReport != "" {
					fmt.Println()
					fmt.Println(sim.FinalReport)
				}
				return nil
			})
		},
	}
}

func simTimelineCmd() *cobra.Command {
	var width int
	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "List timeline events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				sim, err := a.Engine.Get(ctx, viper.GetString("key"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sim.SimulationTimeline)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"#", "Hour", "By", "Summary", "Nodes", "Files"})
				for i, ev := range sim.SimulationTimeline {
					files := 0
					if ev.RepositoryCommit != nil {
						files = len(ev.RepositoryCommit.Files)
					}
					tw.AppendRow(table.Row{i, ev.Timestamp, ev.TriggeredBy, truncate(ev.Summary, width), len(ev.NewNodes()), files})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&width, "width", 72, "summary column width")
	return cmd
}

func simGraphCmd() *cobra.Command {
	var cursorFlag string
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Show the knowledge graph at a cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cursor, err := parseCursor(cursorFlag)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				view, err := a.Engine.Graph(ctx, viper.GetString("key"), cursor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				highlight := make(map[string]bool, len(view.Highlight))
				for _, id := range view.Highlight {
					highlight[id] = true
				}
				nodes := newTable()
				nodes.SetTitle(fmt.Sprintf("Nodes at event %d", view.Cursor))
				nodes.AppendHeader(table.Row{"ID", "Label", "Domain", "New"})
				for _, n := range view.Snapshot.Nodes {
					mark := ""
					if highlight[n.ID] {
						mark = "*"
					}
					nodes.AppendRow(table.Row{n.ID, n.Label, n.Domain, mark})
				}
				fmt.Println(nodes.Render())
				links := newTable()
				links.SetTitle("Links")
				links.AppendHeader(table.Row{"Source", "Target", "Label"})
				for _, l := range view.Snapshot.Links {
					links.AppendRow(table.Row{l.Source, l.Target, l.Label})
				}
				fmt.Println(links.Render())
				printWarnings(view.Warnings)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cursorFlag, "cursor", "all", "last event index to fold, or 'all'")
	return cmd
}

func simReposCmd() *cobra.Command {
	var cursorFlag string
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "List every researcher's repository files at a cursor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cursor, err := parseCursor(cursorFlag)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				view, err := a.Engine.Repositories(ctx, viper.GetString("key"), cursor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(view)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Author", "Path", "Type", "Bytes"})
				for _, author := range view.Authors {
					for _, f := range view.Files[author] {
						tw.AppendRow(table.Row{author, f.Path, f.Type, len(f.Content)})
					}
				}
				fmt.Println(tw.Render())
				printWarnings(view.Warnings)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cursorFlag, "cursor", "all", "last event index to fold, or 'all'")
	return cmd
}

func simTreeCmd() *cobra.Command {
	var cursorFlag, author, run string
	var types []string
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show one researcher's repository as a file tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			cursor, err := parseCursor(cursorFlag)
			if err != nil {
				return err
			}
			var fts []domain.FileType
			for _, t := range types {
				ft := domain.FileType(strings.TrimSpace(t))
				if !ft.Valid() {
					return fmt.Errorf("unknown file type %q", t)
				}
				fts = append(fts, ft)
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				if run != "" {
					report, err := a.Engine.RunFile(ctx, viper.GetString("key"), cursor, author, run)
					if err != nil {
						return err
					}
					if viper.GetBool("json") {
						return printJSON(report)
					}
					for _, line := range report.Lines {
						fmt.Println(line)
					}
					return nil
				}
				items, err := a.Engine.Tree(ctx, viper.GetString("key"), cursor, author, explorer.NewFilter(fts...))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				fmt.Println(author)
				for _, it := range items {
					name := it.Name
					if it.IsDir {
						name += "/"
					} else if it.File != nil && it.File.Type != "" {
						name += " (" + string(it.File.Type) + ")"
					}
					fmt.Printf("%s%s\n", strings.Repeat("  ", it.Level+1), name)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cursorFlag, "cursor", "all", "last event index to fold, or 'all'")
	cmd.Flags().StringVar(&author, "author", "", "researcher name")
	cmd.Flags().StringSliceVar(&types, "type", nil, "file types to show (repeatable)")
	cmd.Flags().StringVar(&run, "run", "", "run the script or analyze the dataset at this path instead of listing")
	_ = cmd.MarkFlagRequired("author")
	return cmd
}

func simSearchCmd() *cobra.Command {
	var cursorFlag string
	cmd := &cobra.Command{
		Use:   "search <term>",
		Short: "Search repository paths and contents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cursor, err := parseCursor(cursorFlag)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				matches, err := a.Engine.Search(ctx, viper.GetString("key"), cursor, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(matches)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Author", "Path", "Type"})
				for _, m := range matches {
					tw.AppendRow(table.Row{m.Author, m.File.Path, m.File.Type})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&cursorFlag, "cursor", "all", "last event index to fold, or 'all'")
	return cmd
}

func simExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the simulation as a JSON document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				data, filename, err := a.Engine.Export(ctx, viper.GetString("key"))
				if err != nil {
					return err
				}
				if out == "-" {
					_, err := os.Stdout.Write(data)
					return err
				}
				if out == "" {
					out = filename
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"path": out, "bytes": len(data)})
				}
				fmt.Printf("Exported to %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path ('-' for stdout, default parc-simulation-<time>.json)")
	return cmd
}

func simImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the stored simulation with an exported document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filepath.Clean(args[0]))
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				sim, err := a.Engine.Import(ctx, viper.GetString("key"), data, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"title": sim.SimulationTitle, "events": sim.Len()})
				}
				fmt.Printf("Imported %q (%d events)\n", sim.SimulationTitle, sim.Len())
				return nil
			})
		},
	}
}

func simResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the stored simulation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Reset(ctx, viper.GetString("key"), viper.GetString("actor-id")); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"ok": true})
				}
				fmt.Println("Simulation reset")
				return nil
			})
		},
	}
}

func simAutopilotCmd() *cobra.Command {
	var minutes int
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "autopilot",
		Short: "Keep continuing until the event cap, the time budget or Ctrl-C",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), false, func(ctx context.Context, a *app.App) error {
				if err := a.RequireGenerator(); err != nil {
					return err
				}
				if !cmd.Flags().Changed("minutes") {
					minutes = a.Config.Autopilot.SessionMinutes
				}
				sched := playback.NewScheduler(playback.RealClock())
				opts := engine.AutopilotOptions{
					Sched:    sched,
					ActorID:  viper.GetString("actor-id"),
					Interval: interval,
					OnMerge: func(res engine.ContinueResult) {
						if !viper.GetBool("json") {
							fmt.Printf("merged %d events (%d total)\n", res.Added, res.Simulation.Len())
						}
					},
				}
				if minutes > 0 {
					opts.Countdown = playback.NewCountdown(sched, time.Now().Add(time.Duration(minutes)*time.Minute), nil)
				}
				res, err := a.Engine.Autopilot(ctx, viper.GetString("key"), opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Autopilot stopped (%s) after %d chunks, %d events\n", res.Reason, res.Steps, res.Length)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&minutes, "minutes", 0, "time budget in minutes (default autopilot.session_minutes)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "pause between chunks (default autopilot.interval_seconds)")
	return cmd
}

func printWarnings(warnings []domain.Warning) {
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "warning: event %d: %s\n", w.Event, w.Message)
	}
}
