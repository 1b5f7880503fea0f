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

	"boardline/internal/config"
	"boardline/internal/db"
	"boardline/internal/domain"
	"boardline/internal/engine"
	"boardline/internal/hub"
	"boardline/internal/identity"
	"boardline/internal/migrate"
	"boardline/internal/server"
	"boardline/internal/status"
)

var rootCmd = &cobra.Command{
	Use:   "bl",
	Short: "Boardline CLI",
	Long: `Boardline manages projects and their task boards.
- Workspace: the .boardline directory holding the database; boardline.yml next to it configures the server and sync endpoint.
- Projects: own a task board plus versioned docs and prd documents.
- Tasks: move across backlog -> in_progress -> review -> complete; archiving is the only delete, archived tasks stay fetchable by id.
- Versions: every docs/prd write appends an immutable snapshot; restore brings old content back as a new version, never by rewriting history.
- Sync: 'bl serve' broadcasts mutations over websocket, 'bl watch' tails them.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BOARDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(watchCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Progress", "Pinned", "Updated"})
				for _, p := range items {
					pin := ""
					if p.Pinned {
						pin = "*"
					}
					tw.AppendRow(table.Row{p.ID, p.Title, fmt.Sprintf("%d%%", p.Progress), pin, p.Updated})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var title, prd, docs, repoURL string
	var pinned bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, engine.CreateProjectInput{
					Title:      title,
					Prd:        prd,
					Docs:       docs,
					GithubRepo: repoURL,
					Pinned:     pinned,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "project title")
	cmd.Flags().StringVar(&prd, "prd", "", "initial prd content")
	cmd.Flags().StringVar(&docs, "docs", "", "initial docs content")
	cmd.Flags().StringVar(&repoURL, "github-repo", "", "repository URL")
	cmd.Flags().BoolVar(&pinned, "pinned", false, "pin the project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var title, prd, docs, repoURL string
	var pinned bool
	cmd := &cobra.Command{
		Use:   "update <project-id>",
		Short: "Update a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var in engine.UpdateProjectInput
				if cmd.Flags().Changed("title") {
					in.Title = &title
				}
				if cmd.Flags().Changed("prd") {
					in.Prd = &prd
				}
				if cmd.Flags().Changed("docs") {
					in.Docs = &docs
				}
				if cmd.Flags().Changed("github-repo") {
					in.GithubRepo = &repoURL
				}
				if cmd.Flags().Changed("pinned") {
					in.Pinned = &pinned
				}
				p, err := e.UpdateProject(ctx, args[0], in)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "project title")
	cmd.Flags().StringVar(&prd, "prd", "", "prd content")
	cmd.Flags().StringVar(&docs, "docs", "", "docs content")
	cmd.Flags().StringVar(&repoURL, "github-repo", "", "repository URL")
	cmd.Flags().BoolVar(&pinned, "pinned", false, "pin the project")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and its tasks permanently",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteProject(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	tsk := &cobra.Command{Use: "task", Short: "Manage tasks"}
	tsk.AddCommand(taskAddCmd())
	tsk.AddCommand(taskListCmd())
	tsk.AddCommand(taskShowCmd())
	tsk.AddCommand(taskMoveCmd())
	tsk.AddCommand(taskUpdateCmd())
	tsk.AddCommand(taskArchiveCmd())
	return tsk
}

func taskAddCmd() *cobra.Command {
	var in engine.CreateTaskInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task to a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.CreateTask(ctx, in)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&in.ProjectID, "project", "", "project id")
	cmd.Flags().StringVar(&in.Title, "title", "", "task title")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().StringVar(&in.Status, "status", "", "initial status (backlog, in_progress, review, complete)")
	cmd.Flags().StringVar(&in.Assignee, "assignee", "", "assignee (user, agent, reviewer)")
	cmd.Flags().IntVar(&in.TaskOrder, "order", 0, "ordering key within the status column")
	cmd.Flags().StringVar(&in.Feature, "feature", "", "feature label")
	cmd.Flags().StringArrayVar(&in.Sources, "source", []string{}, "source reference (repeatable)")
	cmd.Flags().StringArrayVar(&in.CodeExamples, "code-example", []string{}, "code example reference (repeatable)")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var projectID string
	var includeArchived bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks for a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasksByProject(ctx, projectID, includeArchived)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Order", "Archived"})
				for _, t := range tasks {
					archived := ""
					if t.Archived {
						archived = "yes"
					}
					tw.AppendRow(table.Row{t.ID, t.Title, externalStatus(t.Status), t.Assignee, t.TaskOrder, archived})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "project id")
	cmd.Flags().BoolVar(&includeArchived, "include-archived", false, "include archived tasks")
	_ = cmd.MarkFlagRequired("project")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	return cmd
}

func taskMoveCmd() *cobra.Command {
	var newStatus string
	var order int
	cmd := &cobra.Command{
		Use:   "move <task-id>",
		Short: "Move a task to another status or position",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var t domain.Task
				var err error
				switch {
				case cmd.Flags().Changed("order") && cmd.Flags().Changed("status"):
					t, err = e.UpdateTaskOrder(ctx, args[0], order, &newStatus)
				case cmd.Flags().Changed("order"):
					t, err = e.UpdateTaskOrder(ctx, args[0], order, nil)
				case cmd.Flags().Changed("status"):
					t, err = e.UpdateTaskStatus(ctx, args[0], newStatus)
				default:
					return fmt.Errorf("--status or --order required")
				}
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&newStatus, "status", "", "target status (backlog, in_progress, review, complete)")
	cmd.Flags().IntVar(&order, "order", 0, "target ordering key")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, assignee, feature string
	cmd := &cobra.Command{
		Use:   "update <task-id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var in engine.UpdateTaskInput
				if cmd.Flags().Changed("title") {
					in.Title = &title
				}
				if cmd.Flags().Changed("description") {
					in.Description = &description
				}
				if cmd.Flags().Changed("assignee") {
					in.Assignee = &assignee
				}
				if cmd.Flags().Changed("feature") {
					in.Feature = &feature
				}
				t, err := e.UpdateTask(ctx, args[0], in)
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "task title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee (user, agent, reviewer)")
	cmd.Flags().StringVar(&feature, "feature", "", "feature label")
	return cmd
}

func taskArchiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "archive <task-id>",
		Short: "Archive a task (logical delete)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.ArchiveTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printTask(t)
			})
		},
	}
	return cmd
}

func versionCmd() *cobra.Command {
	ver := &cobra.Command{Use: "version", Short: "Inspect and restore document versions"}
	ver.AddCommand(versionHistoryCmd())
	ver.AddCommand(versionShowCmd())
	ver.AddCommand(versionRestoreCmd())
	return ver
}

func versionHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <project-id> <field>",
		Short: "List version history for docs or prd",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.GetHistory(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Version", "Change", "By", "At", "Summary"})
				for _, v := range items {
					tw.AppendRow(table.Row{v.VersionNumber, v.ChangeType, v.CreatedBy, v.CreatedAt, v.ChangeSummary})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func versionShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <project-id> <field> <version>",
		Short: "Print one version's content",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var n int
			if _, err := fmt.Sscanf(args[2], "%d", &n); err != nil {
				return fmt.Errorf("invalid version number %q", args[2])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.GetVersionContent(ctx, args[0], args[1], n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(v)
				}
				fmt.Println(v.Content)
				return nil
			})
		},
	}
	return cmd
}

func versionRestoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <project-id> <field> <version>",
		Short: "Restore an older version as a new head",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			var n int
			if _, err := fmt.Sscanf(args[2], "%d", &n); err != nil {
				return fmt.Errorf("invalid version number %q", args[2])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.Restore(ctx, args[0], args[1], n)
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e, err := engine.New(conn)
			if err != nil {
				return err
			}
			relay := server.NewRelay(nil)
			e.Hub = relay
			handler, err := server.New(server.Config{
				Engine:   e,
				Relay:    relay,
				BasePath: basePath,
				Auth:     server.AuthConfig{Secret: cfg.Auth.Secret},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: cfg.Server.Addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Boardline API on http://%s%s (sync at %s%s/sync)\n", cfg.Server.Addr, basePath, cfg.Server.Addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8181", "listen address (overrides boardline.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func watchCmd() *cobra.Command {
	var topics []string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Tail broadcast events from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			endpoint, err := hub.EndpointURL(cfg.Sync.Origin, cfg.Sync.Path)
			if err != nil {
				return err
			}
			h := hub.New(&hub.WSTransport{Origin: cfg.Sync.Origin, Path: cfg.Sync.Path}, hub.Options{
				ReconnectDelay: cfg.ReconnectDelay(),
			})
			defer h.UnsubscribeAll()
			if len(topics) == 0 {
				topics = []string{"projects"}
			}
			for _, topic := range topics {
				h.Subscribe(topic, func(ev domain.Event) {
					b, _ := json.Marshal(ev)
					fmt.Println(string(b))
				})
			}
			fmt.Printf("Watching %s (topics: %s)\n", endpoint, strings.Join(topics, ", "))
			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
			select {
			case <-sig:
			case <-cmd.Context().Done():
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&topics, "topic", []string{}, `topic to follow, "projects" or "tasks:<project-id>" (repeatable)`)
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	e, err := engine.New(conn)
	if err != nil {
		return err
	}
	e.Identity = identity.Static(viper.GetString("actor-id"))
	return fn(ctx, e)
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

// printTask renders a task with its status translated to the API vocabulary.
func printTask(t domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	view := struct {
		domain.Task
		Status string `json:"status"`
	}{Task: t, Status: externalStatus(t.Status)}
	b, _ := json.MarshalIndent(view, "", "  ")
	fmt.Println(string(b))
	return nil
}

func externalStatus(persisted string) string {
	if external, ok := status.ToExternal(persisted); ok {
		return external
	}
	return persisted
}
