// Package command provides the CLI command definitions for simple-tokens.
//
// It uses urfave/cli/v2 for command parsing. Every command opens the store
// named by the configuration, runs one operation and closes it again.
package command

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/tendant/simple-tokens/internal/config"
)

// Build information, set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	metaConfig = "config"
	metaLogger = "logger"
)

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "simple-tokens",
		Usage:   "Issue, look up and revoke owner tokens",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildTime),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			MigrateCommand(),
			AddCommand(),
			ShowCommand(),
			FindCommand(),
			OwnerCommand(),
			RemoveCommand(),
			DestroyOwnerCommand(),
			PurgeCommand(),
		},
		Before: before,
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file",
			EnvVars: []string{"TOKENS_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error (overrides log.level)",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: json, yaml, table",
			Value:   string(FormatJSON),
		},
	}
}

func before(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load configuration: %v", err), 1)
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}

	logger, err := newLogger(cfg.Log, c.App.ErrWriter)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]any)
	}
	c.App.Metadata[metaConfig] = cfg
	c.App.Metadata[metaLogger] = logger
	return nil
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	if w == nil {
		w = os.Stderr
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", cfg.Level)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(cfg.Format) {
	case "", "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}
}

// getConfig retrieves the loaded configuration from context.
func getConfig(c *cli.Context) *config.Config {
	if cfg, ok := c.App.Metadata[metaConfig].(*config.Config); ok {
		return cfg
	}
	return nil
}

func getLogger(c *cli.Context) *slog.Logger {
	if logger, ok := c.App.Metadata[metaLogger].(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}
