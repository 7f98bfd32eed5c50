package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskbox/internal/config"
	"taskbox/internal/domain"
	"taskbox/internal/engine"
	"taskbox/internal/logger"
	"taskbox/internal/server"
	"taskbox/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "tb",
	Short: "Taskbox CLI",
	Long: `Taskbox manages hierarchical to-do data: apps contain todos, todos
contain tasks. State lives in one JSON document per workspace; the serve
command exposes the same data over HTTP.`,
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
	viper.SetEnvPrefix("TASKBOX")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(appCmd())
	rootCmd.AddCommand(todoCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(configCmd())
}

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			log := logger.New(cfg.Log.Level, cfg.Log.Format)
			s, err := store.Open(cfg.DataPath(workspace))
			if err != nil {
				return err
			}
			e := engine.New(s, log)
			handler, err := server.New(server.Config{Engine: e, CORSOrigins: cfg.Server.CORSOrigins})
			if err != nil {
				return err
			}
			addr := fmt.Sprintf(":%d", cfg.Server.Port)
			srv := &http.Server{Addr: addr, Handler: handler}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			log.WithField("addr", addr).WithField("file", s.Path()).Info("serving Taskbox API")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&port, "port", config.DefaultPort, "listen port (overrides PORT and taskbox.yml)")
	return cmd
}

func appCmd() *cobra.Command {
	app := &cobra.Command{Use: "app", Short: "Manage apps"}
	app.AddCommand(appListCmd())
	app.AddCommand(appCreateCmd())
	app.AddCommand(appRenameCmd())
	app.AddCommand(appExportCmd())
	app.AddCommand(appImportCmd())
	return app
}

func appListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List apps",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				apps, err := e.ListApps(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(apps)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Todos", "Created"})
				for _, a := range apps {
					tw.AppendRow(table.Row{a.ID, a.Name, len(a.Todos), a.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func appCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create app",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				app, err := e.CreateApp(ctx, name)
				if err != nil {
					return err
				}
				return printJSON(app)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "app name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func appRenameCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "rename <app-id>",
		Short: "Rename app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				app, err := e.RenameApp(ctx, id, name)
				if err != nil {
					return err
				}
				return printJSON(app)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "new app name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func appExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <app-id>",
		Short: "Export app as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				app, err := e.ExportApp(ctx, id)
				if err != nil {
					return err
				}
				return printJSON(app)
			})
		},
	}
}

func appImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import an exported app (ids reassigned)",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var payload domain.App
				if err := json.Unmarshal(data, &payload); err != nil {
					return fmt.Errorf("parse %s: %w", file, err)
				}
				app, err := e.ImportApp(ctx, payload)
				if err != nil {
					return err
				}
				return printJSON(app)
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "path to exported app JSON")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func todoCmd() *cobra.Command {
	todo := &cobra.Command{Use: "todo", Short: "Manage todos"}
	todo.AddCommand(todoListCmd())
	todo.AddCommand(todoAddCmd())
	todo.AddCommand(todoCheckCmd())
	todo.AddCommand(todoArchiveCmd())
	todo.AddCommand(todoSearchCmd())
	return todo
}

func todoListCmd() *cobra.Command {
	var appID int
	var archived, completed bool
	var query string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List todos in an app",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q := engine.TodoQuery{Query: query}
				if cmd.Flags().Changed("archived") {
					q.Archived = &archived
				}
				if cmd.Flags().Changed("completed") {
					q.Completed = &completed
				}
				todos, err := e.QueryTodos(ctx, appID, q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(todos)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Done", "Archived", "Tasks"})
				for _, t := range todos {
					tw.AppendRow(table.Row{t.ID, t.Name, t.IsCompleted, t.IsArchived, len(t.Tasks)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&appID, "app", 0, "app id")
	cmd.Flags().BoolVar(&archived, "archived", false, "filter on archived flag")
	cmd.Flags().BoolVar(&completed, "completed", false, "filter on completion flag")
	cmd.Flags().StringVar(&query, "query", "", "name substring filter")
	_ = cmd.MarkFlagRequired("app")
	return cmd
}

func todoAddCmd() *cobra.Command {
	var appID int
	var name string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a todo",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				todo, err := e.CreateTodo(ctx, appID, name)
				if err != nil {
					return err
				}
				return printJSON(todo)
			})
		},
	}
	cmd.Flags().IntVar(&appID, "app", 0, "app id")
	cmd.Flags().StringVar(&name, "name", "", "todo name")
	_ = cmd.MarkFlagRequired("app")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func todoCheckCmd() *cobra.Command {
	var appID int
	cmd := &cobra.Command{
		Use:   "check <todo-id>",
		Short: "Toggle todo completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				todo, err := e.ToggleTodo(ctx, appID, id)
				if err != nil {
					return err
				}
				return printJSON(todo)
			})
		},
	}
	cmd.Flags().IntVar(&appID, "app", 0, "app id")
	_ = cmd.MarkFlagRequired("app")
	return cmd
}

func todoArchiveCmd() *cobra.Command {
	var appID int
	cmd := &cobra.Command{
		Use:   "archive <todo-id>",
		Short: "Archive a todo (soft delete)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ArchiveTodo(ctx, appID, id); err != nil {
					return err
				}
				fmt.Printf("archived todo %d\n", id)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&appID, "app", 0, "app id")
	_ = cmd.MarkFlagRequired("app")
	return cmd
}

func todoSearchCmd() *cobra.Command {
	var appID int
	var q, status, completed string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search todos by name substring",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				todos, err := e.SearchTodos(ctx, appID, q, status, completed)
				if err != nil {
					return err
				}
				return printJSON(todos)
			})
		},
	}
	cmd.Flags().IntVar(&appID, "app", 0, "app id")
	cmd.Flags().StringVar(&q, "q", "", "name substring (required)")
	cmd.Flags().StringVar(&status, "status", "", `"archived" to search archived todos`)
	cmd.Flags().StringVar(&completed, "completed", "", `"true" to search completed todos`)
	_ = cmd.MarkFlagRequired("app")
	_ = cmd.MarkFlagRequired("q")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks inside a todo"}
	task.AddCommand(taskAddCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskToggleCmd())
	task.AddCommand(taskRmCmd())
	return task
}

func taskAddCmd() *cobra.Command {
	var appID, todoID int
	var text string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				task, err := e.AddTask(ctx, appID, todoID, text)
				if err != nil {
					return err
				}
				return printJSON(task)
			})
		},
	}
	cmd.Flags().IntVar(&appID, "app", 0, "app id")
	cmd.Flags().IntVar(&todoID, "todo", 0, "todo id")
	cmd.Flags().StringVar(&text, "text", "", "task text")
	_ = cmd.MarkFlagRequired("app")
	_ = cmd.MarkFlagRequired("todo")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func taskListCmd() *cobra.Command {
	var appID, todoID int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.ListTasks(ctx, appID, todoID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Index", "Text", "Done"})
				for i, t := range tasks {
					tw.AppendRow(table.Row{i, t.Text, t.IsCompleted})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&appID, "app", 0, "app id")
	cmd.Flags().IntVar(&todoID, "todo", 0, "todo id")
	_ = cmd.MarkFlagRequired("app")
	_ = cmd.MarkFlagRequired("todo")
	return cmd
}

func taskToggleCmd() *cobra.Command {
	var appID, todoID int
	cmd := &cobra.Command{
		Use:   "toggle <index>",
		Short: "Toggle task completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				task, err := e.ToggleTask(ctx, appID, todoID, index)
				if err != nil {
					return err
				}
				return printJSON(task)
			})
		},
	}
	cmd.Flags().IntVar(&appID, "app", 0, "app id")
	cmd.Flags().IntVar(&todoID, "todo", 0, "todo id")
	_ = cmd.MarkFlagRequired("app")
	_ = cmd.MarkFlagRequired("todo")
	return cmd
}

func taskRmCmd() *cobra.Command {
	var appID, todoID int
	cmd := &cobra.Command{
		Use:   "rm <index>",
		Short: "Remove task at index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.RemoveTask(ctx, appID, todoID, index); err != nil {
					return err
				}
				fmt.Printf("removed task %d\n", index)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&appID, "app", 0, "app id")
	cmd.Flags().IntVar(&todoID, "todo", 0, "todo id")
	_ = cmd.MarkFlagRequired("app")
	_ = cmd.MarkFlagRequired("todo")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage workspace config"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the default taskbox.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	})
	return cfg
}

// withEngine opens the workspace store and hands an engine to fn.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	log := logger.New("error", cfg.Log.Format)
	s, err := store.Open(cfg.DataPath(workspace))
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(s, log))
}

func parseID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
