// Пакет cmd — команды sitepanelctl.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/bigkaa/sitepanel/internal/console"
)

const defaultServerURL = "http://localhost:8080"

var (
	serverURL string
	verbose   bool
)

type contextKey string

const envKey contextKey = "sitepanelctl-env"

// env — общие зависимости команд, создаются в PersistentPreRunE.
type env struct {
	client  *console.Client
	console *console.Console
	logger  *slog.Logger
}

var rootCmd = &cobra.Command{
	Use:   "sitepanelctl",
	Short: "sitepanel admin console",
	Long: `sitepanelctl is the command-line admin panel for sitepanel.
Use it to sign in, list users with their roles, change roles,
create and delete users, and inspect provisioning operations.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		store, err := console.NewFileStore()
		if err != nil {
			return fmt.Errorf("failed to create credential store: %w", err)
		}

		client := console.NewClient(serverURL, store, nil, logger)
		e := &env{
			client:  client,
			console: console.New(client, client, client, console.DefaultMessages(), logger),
			logger:  logger,
		}
		cmd.SetContext(context.WithValue(cmd.Context(), envKey, e))
		return nil
	},
}

// Execute запускает корневую команду.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	defaultURL := os.Getenv("SITEPANEL_URL")
	if defaultURL == "" {
		defaultURL = defaultServerURL
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "sitepanel API server URL (also set via SITEPANEL_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(usersCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(operationsCmd)
}

func mustEnv(ctx context.Context) *env {
	e, ok := ctx.Value(envKey).(*env)
	if !ok {
		panic("sitepanelctl: env not found in context - this is a bug in sitepanelctl")
	}
	return e
}

// errNotLoggedIn — нет сохранённой сессии.
var errNotLoggedIn = errors.New("not logged in (run 'sitepanelctl login')")

// authenticated восстанавливает сессию и загружает данные панели.
// Команды администрирования требуют роль admin или super_admin.
func authenticated(ctx context.Context, requireAdmin bool) (*env, error) {
	e := mustEnv(ctx)
	e.console.CheckAuth(ctx)

	if e.console.Session() == nil {
		return nil, errNotLoggedIn
	}
	if msg := e.console.ErrorMessage(); msg != "" {
		return nil, errors.New(msg)
	}
	if requireAdmin && !e.console.IsAdmin() {
		return nil, errors.New("admin role required")
	}
	return e, nil
}

// consoleError возвращает текущее сообщение об ошибке панели.
func consoleError(c *console.Console, fallback error) error {
	if msg := c.ErrorMessage(); msg != "" {
		return errors.New(msg)
	}
	return fallback
}
