package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"flagship/internal/app"
	"flagship/internal/config"
	"flagship/internal/db"
	"flagship/internal/domain"
	"flagship/internal/engine"
	"flagship/internal/migrate"
	"flagship/internal/repo"
	"flagship/internal/world"
)

var rootCmd = &cobra.Command{
	Use:   "flagship",
	Short: "Flagship encounter simulator",
	Long: `Flagship runs a tick-based world where an orbital flagship can be called in,
harasses the map while damaged and breaks the enemy assault when shot down.
- Workspace: the .flagship directory holding the save database.
- World: one map with its entities, groups, RNG, scheduled actions and encounter.
- Schedule: actions queued for a future tick; they survive save and reload.
- Flagship: dormant until initiated; the cannon control fires the cannons at it.
- Event log: every signal, effect and command, view with 'flagship events tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

var logger = log.Default()

func main() {
	var opts config.LogOptions
	if err := config.ParseEnv(&opts); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	logger = opts.Logger(os.Stderr)

	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FLAGSHIP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("world", "", "world id (defaults to the only world)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("world", rootCmd.PersistentFlags().Lookup("world"))
}

func registerCommands() {
	rootCmd.AddCommand(worldCmd())
	rootCmd.AddCommand(entitiesCmd())
	rootCmd.AddCommand(tickCmd())
	rootCmd.AddCommand(advanceCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(flagshipCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(eventsCmd())
}

func worldCmd() *cobra.Command {
	w := &cobra.Command{Use: "world", Short: "Manage worlds"}
	w.AddCommand(worldCreateCmd())
	w.AddCommand(worldShowCmd())
	w.AddCommand(worldListCmd())
	w.AddCommand(worldDeleteCmd())
	w.AddCommand(worldVisibilityCmd())
	return w
}

func worldCreateCmd() *cobra.Command {
	var id, cfgPath string
	var seed uint64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a world",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			workspace := viper.GetString("workspace")
			cfg, err := app.CreateConfig(workspace, cfgPath, id)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("seed") {
				cfg.World.Seed = seed
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				e := engine.New(r.DB, logger)
				w, err := e.CreateWorld(ctx, cfg)
				if err != nil {
					return err
				}
				return printWorlds([]domain.World{w})
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "world id")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "RNG seed (overrides config)")
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to YAML config (default: workspace flagship.yml)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func worldShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current world",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				w, err := e.Repo.GetWorld(ctx, worldID)
				if err != nil {
					return err
				}
				return printWorlds([]domain.World{w})
			})
		},
	}
}

func worldListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List worlds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListWorlds(ctx)
				if err != nil {
					return err
				}
				return printWorlds(items)
			})
		},
	}
}

func worldDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a world and its save",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteWorld(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("deleted world %s\n", args[0])
				return nil
			})
		},
	}
}

func worldVisibilityCmd() *cobra.Command {
	var delta int
	cmd := &cobra.Command{
		Use:   "visibility",
		Short: "Raise or lower world visibility",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				v, err := e.ChangeVisibility(ctx, worldID, delta)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"visibility": v})
			})
		},
	}
	cmd.Flags().IntVar(&delta, "delta", 0, "change to apply")
	return cmd
}

func printWorlds(items []domain.World) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Tick", "Size", "Seed", "Visibility", "Created"})
	for _, w := range items {
		tw.AppendRow(table.Row{w.ID, w.Tick, fmt.Sprintf("%dx%d", w.Width, w.Height), w.Seed, w.Visibility, w.CreatedAt})
	}
	tw.Render()
	return nil
}

func entitiesCmd() *cobra.Command {
	ent := &cobra.Command{Use: "entities", Short: "Inspect and place entities"}
	ent.AddCommand(entitiesListCmd())
	ent.AddCommand(entitiesSpawnCmd())
	ent.AddCommand(entitiesDespawnCmd())
	ent.AddCommand(entitiesControlCmd())
	return ent
}

func entitiesListCmd() *cobra.Command {
	var kind, faction string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				items, err := e.Repo.ListEntities(ctx, worldID, kind, faction)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Kind", "Faction", "Name", "Cell", "Group", "Controlled"})
				for _, it := range items {
					group := ""
					if it.GroupID != nil {
						group = *it.GroupID
					}
					tw.AppendRow(table.Row{it.ID, it.Kind, it.Faction, it.Name, fmt.Sprintf("%d,%d", it.Cell.X, it.Cell.Y), group, it.Controlled})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter")
	cmd.Flags().StringVar(&faction, "faction", "", "faction filter")
	return cmd
}

func entitiesSpawnCmd() *cobra.Command {
	var opts engine.SpawnOptions
	cmd := &cobra.Command{
		Use:   "spawn",
		Short: "Place an entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				ent, err := e.Spawn(ctx, worldID, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(ent)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Kind, "kind", domain.KindPawn, "pawn|building|cannon_control|zeus_cannon|ship_chunk")
	cmd.Flags().StringVar(&opts.Faction, "faction", "", "faction")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().IntVar(&opts.X, "x", 0, "cell x")
	cmd.Flags().IntVar(&opts.Y, "y", 0, "cell y")
	cmd.Flags().StringVar(&opts.GroupOf, "group", "", "put the entity in a new group with this directive")
	return cmd
}

func entitiesDespawnCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "despawn <id>",
		Short: "Remove an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				return e.Despawn(ctx, worldID, args[0])
			})
		},
	}
}

func entitiesControlCmd() *cobra.Command {
	var on bool
	cmd := &cobra.Command{
		Use:   "control <id>",
		Short: "Set whether the player holds an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				ent, err := e.SetControl(ctx, worldID, args[0], on)
				if err != nil {
					return err
				}
				return printJSONOrTable(ent)
			})
		},
	}
	cmd.Flags().BoolVar(&on, "on", true, "controlled")
	return cmd
}

func tickCmd() *cobra.Command {
	var n int64
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Step the world and save",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				res, err := e.Step(ctx, worldID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().Int64Var(&n, "n", 1, "ticks to run")
	return cmd
}

func advanceCmd() *cobra.Command {
	var to int64
	cmd := &cobra.Command{
		Use:   "advance",
		Short: "Step the world up to a tick and save",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				res, err := e.AdvanceTo(ctx, worldID, to)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().Int64Var(&to, "to", 0, "target tick")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func scheduleCmd() *cobra.Command {
	s := &cobra.Command{Use: "schedule", Short: "Inspect and queue deferred actions"}
	s.AddCommand(scheduleListCmd())
	s.AddCommand(scheduleAddCmd())
	s.AddCommand(scheduleActionsCmd())
	return s
}

func scheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pending actions in run order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				items, err := e.Repo.ListScheduledActions(ctx, worldID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Seq", "Tick", "Command"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.Seq, it.TargetTick, it.Command})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func scheduleAddCmd() *cobra.Command {
	var action string
	var in int64
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Queue a registered action",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				entry, err := e.ScheduleAction(ctx, worldID, action, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(entry)
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", "", "action name or tag (see 'schedule actions')")
	cmd.Flags().Int64Var(&in, "in", 0, "ticks from now")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func scheduleActionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "actions",
		Short: "List registered action tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printJSONOrTable(world.ActionTags())
		},
	}
}

func flagshipCmd() *cobra.Command {
	f := &cobra.Command{Use: "flagship", Short: "Drive the flagship encounter"}
	f.AddCommand(flagshipInitiateCmd())
	f.AddCommand(flagshipDamageCmd())
	f.AddCommand(flagshipControlCmd())
	f.AddCommand(flagshipFireCmd())
	f.AddCommand(flagshipStatusCmd())
	return f
}

func flagshipInitiateCmd() *cobra.Command {
	var damaged, destroyed string
	cmd := &cobra.Command{
		Use:   "initiate",
		Short: "Start the fight now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				st, err := e.Initiate(ctx, worldID, damaged, destroyed)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().StringVar(&damaged, "damaged", "", "signal published on each hit (default from config)")
	cmd.Flags().StringVar(&destroyed, "destroyed", "", "signal published on destruction (default from config)")
	return cmd
}

func flagshipDamageCmd() *cobra.Command {
	var amount float32
	cmd := &cobra.Command{
		Use:   "damage",
		Short: "Damage the flagship",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				st, err := e.Damage(ctx, worldID, amount)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
	cmd.Flags().Float32Var(&amount, "amount", 0.1, "hull integrity to remove")
	return cmd
}

func flagshipControlCmd() *cobra.Command {
	var on bool
	cmd := &cobra.Command{
		Use:   "control",
		Short: "Seize or release the cannon control",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				ent, err := e.SetControl(ctx, worldID, "", on)
				if err != nil {
					return err
				}
				return printJSONOrTable(ent)
			})
		},
	}
	cmd.Flags().BoolVar(&on, "on", true, "controlled")
	return cmd
}

func flagshipFireCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fire",
		Short: "Fire the cannons at the flagship",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				st, err := e.Fire(ctx, worldID)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
}

func flagshipStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the encounter",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				st, err := e.Status(ctx, worldID)
				if err != nil {
					return err
				}
				return printJSONOrTable(st)
			})
		},
	}
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Manage world config"}
	c.AddCommand(configShowCmd())
	c.AddCommand(configImportCmd())
	c.AddCommand(configDefaultCmd())
	return c
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show world config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				cfg, err := e.Repo.GetWorldConfig(ctx, worldID)
				if err != nil {
					return err
				}
				return printYAML(cfg)
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import world config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				if err := e.ImportConfig(ctx, worldID, cfg); err != nil {
					return err
				}
				return printYAML(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configDefaultCmd() *cobra.Command {
	var id string
	var write bool
	cmd := &cobra.Command{
		Use:   "default",
		Short: "Print the default config, or write it to the workspace flagship.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := config.GenerateDefault(id)
			if !write {
				fmt.Print(out)
				return nil
			}
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "world", "world id to put in the file")
	cmd.Flags().BoolVar(&write, "write", false, "write flagship.yml to the workspace")
	return cmd
}

func eventsCmd() *cobra.Command {
	ev := &cobra.Command{Use: "events", Short: "Read the event log"}
	ev.AddCommand(eventsTailCmd())
	return ev
}

func eventsTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, worldID string) error {
				items, err := e.Repo.LatestEvents(ctx, n, worldID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Tick", "Type", "Subject", "Payload"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Tick, it.Type, it.Subject, it.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		worldID, _, err := app.ResolveWorldAndConfig(ctx, viper.GetString("world"), r)
		if err != nil {
			return err
		}
		return fn(ctx, engine.New(r.DB, logger), worldID)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

// printYAML keeps infinite mean times readable; JSON cannot carry them.
func printYAML(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
