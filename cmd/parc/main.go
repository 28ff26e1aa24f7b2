package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"parc/internal/app"
	"parc/internal/config"
	"parc/internal/db"
	"parc/internal/graph"
	"parc/internal/migrate"
)

var rootCmd = &cobra.Command{
	Use:   "parc",
	Short: "PARC autonomous simulation playback",
	Long: `parc generates, stores and replays autonomous research simulations.
- Simulation: a title, research domains, researchers and an append-only timeline of events.
- Continue: ask the configured model (Gemini or Ollama) for the next chunk of events and merge it.
- Playback: walk a cursor over the timeline; the knowledge graph and the per-researcher
  repositories are rebuilt for the events up to the cursor.
- Workspace: parc.yml plus .parc/parc.db holding simulations and the session log.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PARC")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "cli", "actor identifier recorded in the session log")
	rootCmd.PersistentFlags().StringP("key", "k", "", "simulation key (defaults to simulation.key in parc.yml)")
	rootCmd.PersistentFlags().String("provider", "", "generator provider override (gemini, ollama, static)")
	rootCmd.PersistentFlags().String("model", "", "generator model override")
	rootCmd.PersistentFlags().String("log-level", "", "log level override")
	for _, name := range []string{"workspace", "json", "actor-id", "key", "provider", "model", "log-level"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(simCmd())
	rootCmd.AddCommand(playCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create parc.yml and the workspace database",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"config": path, "database": db.Path(workspace)})
			}
			fmt.Printf("Wrote %s and initialized %s\n", path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing parc.yml")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect parc.yml",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				return printJSONOrTable(a.Config)
			})
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate parc.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Read the session log"}
	var n int
	var evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest session events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), true, func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.SessionEvents(ctx, n, 0, viper.GetString("key"), evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Time", "Type", "Simulation", "Actor", "Payload"})
				for _, evt := range items {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.SimulationKey, evt.ActorID, evt.Payload})
				}
				fmt.Println(tw.Render())
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	lg.AddCommand(tail)
	return lg
}

// --- helpers ---

// withApp opens the workspace. offline skips building the generator for
// commands that never continue.
func withApp(ctx context.Context, offline bool, fn func(context.Context, *app.App) error) error {
	return openApp(ctx, app.Overrides{Offline: offline}, fn)
}

func openApp(ctx context.Context, ov app.Overrides, fn func(context.Context, *app.App) error) error {
	ov.Provider = viper.GetString("provider")
	ov.Model = viper.GetString("model")
	ov.LogLevel = viper.GetString("log-level")
	a, err := app.Open(ctx, viper.GetString("workspace"), ov)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	return tw
}

func parseCursor(raw string) (graph.Cursor, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "all" {
		return graph.All, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid --cursor %q: want an event index or 'all'", raw)
	}
	return graph.At(n), nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}
