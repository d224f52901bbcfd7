package cli

import (
	"fmt"
	"os"
	"strings"

	"flowtabs/internal/config"
	"flowtabs/internal/format"

	"github.com/spf13/cobra"
)

type App struct {
	ConfigPath string
	Addr       string
	LogLevel   string
	OSBackend  string
	PrettyJSON bool
	Format     string

	src *config.Source
	cfg config.Config
}

func NewRootCmd() *cobra.Command {
	app := &App{}

	cmd := &cobra.Command{
		Use:          "flowtabs",
		Short:        "Rank browser tabs and desktop windows by recency and frequency",
		SilenceUsage: true,
		Example: strings.TrimSpace(`
  # Run the companion with the terminal UI
  flowtabs

  # Run without a UI (logs to stderr)
  flowtabs serve --headless

  # Query a running instance
  flowtabs status --format edn
  flowtabs favorite add tab 42
  flowtabs search golang generics
`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, app, false)
		},
	}

	cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return app.load(cmd)
	}

	cmd.PersistentFlags().StringVar(&app.ConfigPath, "config", "", "Config file (default: $FLOWTABS_CONFIG or ~/.config/flowtabs/config.yaml)")
	cmd.PersistentFlags().StringVar(&app.Addr, "addr", "", "Listen/connect address (overrides transport.addr)")
	cmd.PersistentFlags().StringVar(&app.LogLevel, "log-level", "", "Log level (overrides log.level)")
	cmd.PersistentFlags().StringVar(&app.OSBackend, "os-backend", "", "OS backend: auto|windows|linux|none (overrides os.backend)")
	cmd.PersistentFlags().BoolVar(&app.PrettyJSON, "pretty", false, "Pretty-print output")
	cmd.PersistentFlags().StringVar(&app.Format, "format", envOr("FLOWTABS_FORMAT", "json"), "Output format ("+strings.Join(format.Formats, "|")+")")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newStatusCmd(app))
	cmd.AddCommand(newFavoriteCmd(app))
	cmd.AddCommand(newActivateCmd(app))
	cmd.AddCommand(newSearchCmd(app))
	cmd.AddCommand(newAgentCmd(app))
	cmd.AddCommand(newConfigCmd(app))
	cmd.AddCommand(newWindowsCmd(app))
	cmd.AddCommand(newDocsCmd(app))

	return cmd
}

// load reads the layered configuration and lets explicitly set flags win.
func (app *App) load(cmd *cobra.Command) error {
	src, err := config.Open(app.ConfigPath)
	if err != nil {
		return writeErr(cmd, err)
	}
	v := src.Viper()
	for key, flag := range map[string]string{
		"transport.addr": "addr",
		"log.level":      "log-level",
		"os.backend":     "os-backend",
	} {
		if f := cmd.Flag(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return writeErr(cmd, err)
			}
		}
	}
	cfg, err := src.Config()
	if err != nil {
		return writeErr(cmd, err)
	}
	app.src, app.cfg = src, cfg
	return nil
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func writeOut(cmd *cobra.Command, app *App, v any) error {
	return format.Write(cmd.OutOrStdout(), v, app.Format, app.PrettyJSON)
}

func writeErr(cmd *cobra.Command, err error) error {
	fmt.Fprintln(cmd.ErrOrStderr(), err.Error())
	return err
}
