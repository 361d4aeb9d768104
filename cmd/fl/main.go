package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fieldline/internal/app"
	"fieldline/internal/checklist"
	"fieldline/internal/config"
	"fieldline/internal/db"
	"fieldline/internal/domain"
	"fieldline/internal/engine"
	"fieldline/internal/logging"
	"fieldline/internal/netmon"
	"fieldline/internal/repo"
	"fieldline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Fieldline CLI",
	Long: `Fieldline drives an on-site property inspection that keeps working offline.
- Session: one inspection of one property, stored in the .fieldline workspace.
- Workflow: property_selection -> checklist_generation -> photo_capture -> video_walkthrough -> offline_sync -> complete.
- Checklist: the inspection points; required photo items gate the photo step.
- Media: captured photos and videos, spooled locally until uploaded.
- Sync: pushes queued checklist changes and pending media to the backend with bounded retries.
- Event log: every change is recorded, view with 'fl log tail'.`,
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
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FIELDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "", "actor identifier (defaults to inspector.id)")
	flags.String("log-level", "", "log level override (debug, info, warn, error)")
	flags.String("log-format", "", "log format override (text, json)")
	for _, name := range []string{"workspace", "json", "actor-id", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(propertyCmd())
	rootCmd.AddCommand(checklistCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(mediaCmd())
	rootCmd.AddCommand(videoCmd())
	rootCmd.AddCommand(stepCmd("advance", "Advance to the next workflow step", func(ctx context.Context, e *engine.Engine) (domain.WorkflowState, error) {
		return e.Advance(ctx, actorID())
	}))
	rootCmd.AddCommand(stepCmd("previous", "Go back one workflow step", func(ctx context.Context, e *engine.Engine) (domain.WorkflowState, error) {
		return e.Previous(ctx, actorID())
	}))
	rootCmd.AddCommand(stepCmd("reset", "Abandon the session and start over", func(ctx context.Context, e *engine.Engine) (domain.WorkflowState, error) {
		return e.Reset(ctx, actorID())
	}))
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(handoffCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(configCmd())
}

func sessionCmd() *cobra.Command {
	s := &cobra.Command{Use: "session", Short: "Manage the inspection session"}
	var property string
	start := &cobra.Command{
		Use:   "start",
		Short: "Start an inspection of a property",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				snap, err := rt.Engine.StartSession(ctx, actorID(), property)
				if err != nil {
					return err
				}
				return printSnapshot(snap, rt.Engine.Network)
			})
		},
	}
	start.Flags().StringVar(&property, "property", "", "property reference")
	_ = start.MarkFlagRequired("property")
	show := &cobra.Command{
		Use:   "show",
		Short: "Show the active session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return printSnapshot(rt.Engine.Snapshot(), rt.Engine.Network)
			})
		},
	}
	s.AddCommand(start, show)
	return s
}

func propertyCmd() *cobra.Command {
	p := &cobra.Command{Use: "property", Short: "Property selection"}
	p.AddCommand(&cobra.Command{
		Use:   "select REF",
		Short: "Select the inspected property",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				st, err := rt.Engine.SelectProperty(ctx, actorID(), args[0])
				if err != nil {
					return err
				}
				return printState(st)
			})
		},
	})
	return p
}

func checklistCmd() *cobra.Command {
	c := &cobra.Command{Use: "checklist", Short: "Manage the checklist"}
	var file string
	load := &cobra.Command{
		Use:   "load",
		Short: "Populate the checklist from a YAML or JSON template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				counters, err := rt.Engine.LoadChecklistFile(ctx, actorID(), file)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counters)
				}
				fmt.Printf("Loaded %d items (%d required)\n", counters.TotalCount, counters.RequiredCount)
				return nil
			})
		},
	}
	load.Flags().StringVarP(&file, "file", "f", "", "template file")
	_ = load.MarkFlagRequired("file")
	list := &cobra.Command{
		Use:   "list",
		Short: "List checklist items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return printChecklist(rt.Engine.Checklist.Items(), rt.Engine.Checklist.Counters())
			})
		},
	}
	c.AddCommand(load, list)
	return c
}

func itemCmd() *cobra.Command {
	it := &cobra.Command{Use: "item", Short: "Update checklist items"}
	var status, notes string
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Update an item's status or notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u checklist.Update
			if cmd.Flags().Changed("status") {
				s := domain.ItemStatus(status)
				u.Status = &s
			}
			if cmd.Flags().Changed("notes") {
				u.Notes = &notes
			}
			if u.Status == nil && u.Notes == nil {
				return fmt.Errorf("--status or --notes required")
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				item, err := rt.Engine.UpdateItem(ctx, actorID(), args[0], u)
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	update.Flags().StringVar(&status, "status", "", "pending, in_progress, completed, failed or not_applicable")
	update.Flags().StringVar(&notes, "notes", "", "inspector notes")

	var doneNotes string
	complete := &cobra.Command{
		Use:   "complete ID",
		Short: "Mark an item completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				item, err := rt.Engine.CompleteItem(ctx, actorID(), args[0], optionalString(doneNotes))
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	complete.Flags().StringVar(&doneNotes, "notes", "", "inspector notes")

	var naNotes string
	na := &cobra.Command{
		Use:   "na ID",
		Short: "Mark an item not applicable",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				item, err := rt.Engine.MarkNotApplicable(ctx, actorID(), args[0], optionalString(naNotes))
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	na.Flags().StringVar(&naNotes, "notes", "", "reason")
	it.AddCommand(update, complete, na)
	return it
}

func mediaCmd() *cobra.Command {
	m := &cobra.Command{Use: "media", Short: "Captured photos and videos"}
	var opts engine.AddMediaOptions
	var kind string
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a captured file",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Kind = domain.MediaKind(kind)
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				item, err := rt.Engine.AddMedia(ctx, actorID(), opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	add.Flags().StringVarP(&opts.SourcePath, "file", "f", "", "captured file")
	add.Flags().StringVar(&kind, "kind", "photo", "photo or video")
	add.Flags().StringVar(&opts.ChecklistItemID, "item", "", "checklist item the evidence belongs to")
	add.Flags().StringVar(&opts.ID, "id", "", "media id (generated when empty)")
	add.Flags().BoolVar(&opts.Move, "move", false, "move the file into the workspace instead of copying")
	_ = add.MarkFlagRequired("file")

	list := &cobra.Command{
		Use:   "list",
		Short: "List media and upload status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				return printMedia(rt.Engine.Media.Items())
			})
		},
	}
	retryCmd := &cobra.Command{
		Use:   "retry ID",
		Short: "Queue a failed upload for the next sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				item, err := rt.Engine.RetryMedia(ctx, actorID(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(item)
			})
		},
	}
	m.AddCommand(add, list, retryCmd)
	return m
}

func videoCmd() *cobra.Command {
	v := &cobra.Command{Use: "video", Short: "Video walkthrough"}
	v.AddCommand(stepCmd("skip", "Skip the optional video walkthrough", func(ctx context.Context, e *engine.Engine) (domain.WorkflowState, error) {
		return e.SkipVideo(ctx, actorID())
	}))
	return v
}

func stepCmd(use, short string, run func(context.Context, *engine.Engine) (domain.WorkflowState, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				st, err := run(ctx, rt.Engine)
				if err != nil {
					return err
				}
				return printState(st)
			})
		},
	}
}

func syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push queued changes and pending media to the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if rt.Prober != nil {
					rt.Prober.ProbeOnce(ctx)
				}
				rt.Engine.Syncer.OnProgress = func(pct int) {
					if !viper.GetBool("json") {
						fmt.Fprintf(os.Stderr, "\rsyncing %3d%%", pct)
					}
				}
				res, err := rt.Engine.Sync(ctx, actorID())
				if !viper.GetBool("json") {
					fmt.Fprintln(os.Stderr)
				}
				if err != nil {
					return err
				}
				return printSyncResult(res)
			})
		},
	}
}

func handoffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "handoff",
		Short: "Close a completed session and print its final snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				final, err := rt.Engine.Handoff(ctx, actorID())
				if err != nil {
					return err
				}
				return printJSON(final)
			})
		},
	}
}

func logCmd() *cobra.Command {
	l := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var f repo.EventFilter
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.LatestEvents(ctx, n, 0, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
				for _, e := range items {
					entity := e.EntityKind
					if e.EntityID != "" {
						entity += ":" + e.EntityID
					}
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, entity, e.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&f.Type, "type", "", "event type filter")
	tail.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	tail.Flags().StringVar(&f.SessionID, "session", "", "session id")
	l.AddCommand(tail)
	return l
}

func serveCmd() *cobra.Command {
	var (
		addr, basePath string
		devLogin       bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the local HTTP API, network probe and webhook delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				cfg := rt.Engine.Config
				if addr == "" {
					addr = cfg.Server.Addr
				}
				if basePath == "" {
					basePath = cfg.Server.BasePath
				}
				secret := viper.GetString("jwt_secret")
				if secret == "" {
					secret = cfg.Server.JWTSecret
				}
				if secret == "" {
					return fmt.Errorf("FIELDLINE_JWT_SECRET or server.jwt_secret is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:   rt.Engine,
					BasePath: basePath,
					Auth: server.AuthConfig{
						JWTSecret: secret,
						DevLogin:  devLogin || cfg.Server.DevLogin,
						Logger:    rt.Logger,
					},
					Logger: rt.Logger,
				})
				if err != nil {
					return err
				}
				startBackground(ctx, rt)
				hooks := server.NewWebhookDispatcher(rt.Engine.Repo, cfg.Webhooks, rt.Logger)
				go hooks.Run(ctx)

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving Fieldline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if devLogin || cfg.Server.DevLogin {
					rt.Logger.Warn("dev login enabled; anyone reaching the API can mint a token")
				}
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login, which mints tokens for any actor")
	return cmd
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Monitor connectivity and resync on reconnect",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if rt.Prober == nil {
					return fmt.Errorf("nothing to probe: set remote.base_url or network.probe_url")
				}
				events, cancel := rt.Engine.Network.Subscribe(8)
				defer cancel()
				startBackground(ctx, rt)
				for {
					select {
					case <-ctx.Done():
						return nil
					case evt := <-events:
						if viper.GetBool("json") {
							if err := printJSON(evt); err != nil {
								return err
							}
							continue
						}
						fmt.Printf("%s  %-10s online=%t quality=%s\n", evt.At.Format(time.RFC3339), evt.Type, evt.Online, evt.Quality)
					}
				}
			})
		},
	}
}

// startBackground runs the prober and the reconnect watcher until ctx is done.
func startBackground(ctx context.Context, rt *app.Runtime) {
	if rt.Prober != nil {
		go rt.Prober.Run(ctx)
	}
	go rt.Engine.WatchNetwork(ctx, actorID())
}

func configCmd() *cobra.Command {
	c := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default fieldline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate fieldline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("config ok")
			return nil
		},
	}
	c.AddCommand(initCmd, show, validate)
	return c
}

// --- helpers ---

func actorID() string {
	return strings.TrimSpace(viper.GetString("actor-id"))
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	level := cfg.Log.Level
	if v := viper.GetString("log-level"); v != "" {
		level = v
	}
	format := cfg.Log.Format
	if v := viper.GetString("log-format"); v != "" {
		format = v
	}
	logger := logging.New(os.Stderr, level, format, "fl")
	rt, err := app.Open(ctx, workspace, cfg, actorID(), logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	return tw
}

func printSnapshot(s domain.Snapshot, monitor *netmon.Monitor) error {
	if viper.GetBool("json") {
		return printJSON(s)
	}
	wf := s.Workflow
	tw := newTable()
	tw.AppendRow(table.Row{"Session", wf.SessionID})
	tw.AppendRow(table.Row{"Step", fmt.Sprintf("%s (%d/%d)", wf.CurrentStep, wf.CurrentStepIndex+1, wf.TotalSteps)})
	tw.AppendRow(table.Row{"Property", wf.SelectedPropertyRef})
	tw.AppendRow(table.Row{"Inspection", derefString(wf.InspectionID)})
	tw.AppendRow(table.Row{"Checklist", fmt.Sprintf("%d/%d required remaining, %d completed of %d", s.Counters.RemainingCount, s.Counters.RequiredCount, s.Counters.CompletedCount, s.Counters.TotalCount)})
	tw.AppendRow(table.Row{"Media", fmt.Sprintf("%d pending, %d uploading, %d completed, %d failed", s.MediaCount.Pending, s.MediaCount.Uploading, s.MediaCount.Completed, s.MediaCount.Failed)})
	tw.AppendRow(table.Row{"Queue", len(s.Queue)})
	if s.LastSync != nil {
		tw.AppendRow(table.Row{"Last sync", fmt.Sprintf("%s fully_synced=%t", s.LastSync.FinishedAt.Format(time.RFC3339), s.LastSync.FullySynced)})
	}
	if monitor != nil {
		st := monitor.Status()
		tw.AppendRow(table.Row{"Network", fmt.Sprintf("online=%t quality=%s", st.Online, st.Quality)})
	}
	tw.Render()
	return nil
}

func printState(st domain.WorkflowState) error {
	if viper.GetBool("json") {
		return printJSON(st)
	}
	fmt.Printf("Step %d/%d: %s\n", st.CurrentStepIndex+1, st.TotalSteps, st.CurrentStep)
	if st.IsComplete {
		fmt.Println("Inspection complete; run 'fl handoff' to close it.")
	}
	return nil
}

func printChecklist(items []domain.ChecklistItem, c domain.ChecklistCounters) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"items": items, "counters": c})
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Title", "Evidence", "Required", "Status"})
	for _, it := range items {
		tw.AppendRow(table.Row{it.ID, it.Title, it.RequiredEvidenceType, it.Required, it.Status})
	}
	tw.AppendFooter(table.Row{"", "", "", "remaining", c.RemainingCount})
	tw.Render()
	return nil
}

func printMedia(items []domain.MediaItem) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Kind", "Item", "Status", "Progress", "Error"})
	for _, m := range items {
		tw.AppendRow(table.Row{m.ID, m.Kind, m.ChecklistItemID, m.UploadStatus, fmt.Sprintf("%d%%", m.UploadProgress), derefString(m.LastError)})
	}
	tw.Render()
	return nil
}

func printSyncResult(res domain.SyncResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	if res.Offline {
		fmt.Println("Offline; nothing was sent. Queued work is kept for the next sync.")
		return nil
	}
	fmt.Printf("Confirmed %d checklist items, uploaded %d media; %d queued, %d media pending (fully synced: %t)\n",
		res.Confirmed, res.MediaCompleted, res.RemainingQueue, res.PendingMedia, res.FullySynced)
	if len(res.Failures) == 0 {
		return nil
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Target", "Kind", "Attempts", "Terminal", "Error"})
	for _, f := range res.Failures {
		tw.AppendRow(table.Row{f.TargetID, f.TargetKind, f.Attempts, f.Terminal, f.Error})
	}
	tw.Render()
	return nil
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

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
