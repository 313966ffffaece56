// Command conveyor runs a project's CI locally: the npm test suite and
// GitHub Actions style workflows, from the command line or as a service.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/deixis/conveyor"
	"github.com/deixis/conveyor/internal/config"
	"github.com/deixis/conveyor/internal/events"
	"github.com/deixis/conveyor/internal/registry"
	"github.com/deixis/conveyor/internal/runner"
	"github.com/deixis/conveyor/internal/service"
	"github.com/deixis/conveyor/internal/suite"
	"github.com/deixis/conveyor/internal/workflow"
)

const envPrefix = "CONVEYOR_"

var (
	logLevelFlag = &cli.StringFlag{
		Name:    "log-level",
		Usage:   "debug, info, warn, or error",
		Value:   "info",
		EnvVars: []string{envPrefix + "LOG_LEVEL"},
	}
	logFormatFlag = &cli.StringFlag{
		Name:    "log-format",
		Usage:   "text or json",
		Value:   "text",
		EnvVars: []string{envPrefix + "LOG_FORMAT"},
	}
	dirFlag = &cli.StringFlag{
		Name:    "dir",
		Usage:   "directory to search upward for " + config.FileName,
		Value:   ".",
		EnvVars: []string{envPrefix + "DIR"},
	}
	timeoutFlag = &cli.DurationFlag{
		Name:    "timeout",
		Usage:   "override the configured per-step timeout (e.g. 5m)",
		EnvVars: []string{envPrefix + "TIMEOUT"},
	}
)

func main() {
	// .env feeds the CONVEYOR_* flag sources, so it is read before parsing.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "conveyor: loading .env: %v\n", err)
		os.Exit(2)
	}

	app := &cli.App{
		Name:    "conveyor",
		Usage:   "run a project's CI locally",
		Version: conveyor.Version,
		Flags:   []cli.Flag{logLevelFlag, logFormatFlag, dirFlag, timeoutFlag},
		Before: func(c *cli.Context) error {
			logger, err := newLogger(c.String(logLevelFlag.Name), c.String(logFormatFlag.Name))
			if err != nil {
				return err
			}
			slog.SetDefault(logger)
			return nil
		},
		Commands: []*cli.Command{
			serveCommand(),
			suiteCommand(),
			workflowCommand(),
			mcpCommand(),
			{
				Name:  "version",
				Usage: "print the version",
				Action: func(c *cli.Context) error {
					fmt.Fprintln(c.App.Writer, conveyor.Version)
					return nil
				},
			},
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			cli.HandleExitCoder(exitErr)
		}
		slog.Error("conveyor failed", "err", err)
		os.Exit(2)
	}
}

func newLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}

// stack is the shared wiring behind every command.
type stack struct {
	cfg      *config.Config
	root     string // projects root
	runner   *runner.Runner
	registry *registry.Registry
	broker   *events.Broker
	suite    *suite.Runner
	workflow *workflow.Runner
	service  *service.Service
}

func loadConfig(dir string) (*config.LoadResult, error) {
	loaded, err := config.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return loaded, nil
}

// projectsRoot resolves projects_root against the config directory,
// defaulting to the config directory itself.
func projectsRoot(loaded *config.LoadResult, override string) (string, error) {
	root := loaded.Config.ProjectsRoot
	if override != "" {
		root = override
	}
	switch {
	case root == "":
		root = loaded.Root
	case !filepath.IsAbs(root):
		root = filepath.Join(loaded.Root, root)
	}
	return filepath.Abs(root)
}

func newRunner(c *cli.Context, cfg *config.Config, workspace string) *runner.Runner {
	t := cfg.Timeout()
	if d := c.Duration(timeoutFlag.Name); d > 0 {
		t = d
	}
	return &runner.Runner{
		Workspace:   workspace,
		Timeout:     t,
		GracePeriod: cfg.GracePeriod(),
		MaxOutput:   cfg.MaxOutputBytes(),
	}
}

// newStack loads the config found from configDir and wires the runners,
// registry, broker, and service.
func newStack(c *cli.Context, configDir, rootOverride string) (*stack, error) {
	loaded, err := loadConfig(configDir)
	if err != nil {
		return nil, err
	}
	cfg := loaded.Config
	root, err := projectsRoot(loaded, rootOverride)
	if err != nil {
		return nil, fmt.Errorf("resolving projects root: %w", err)
	}

	log := slog.Default()
	r := newRunner(c, cfg, root)
	reg := registry.New(
		registry.WithCapacity(cfg.HistoryCapacity()),
		registry.WithRetention(cfg.HistoryRetention()),
		registry.WithLogger(log),
	)
	broker := events.NewBroker(log)
	sr := &suite.Runner{
		Config:    cfg,
		Runner:    r,
		Manifests: suite.NewManifestCache(cfg.ManifestCacheSize()),
		Logger:    log,
	}
	wr := &workflow.Runner{
		Runner: r,
		Shell:  cfg.Shell(),
		Logger: log,
	}
	svc := service.New(service.Options{
		Config:    cfg,
		Root:      root,
		Registry:  reg,
		Suite:     sr,
		Workflow:  wr,
		Publisher: broker,
		Logger:    log,
	})

	log.Debug("configuration loaded", "config_root", loaded.Root, "projects_root", root)
	return &stack{
		cfg:      cfg,
		root:     root,
		runner:   r,
		registry: reg,
		broker:   broker,
		suite:    sr,
		workflow: wr,
		service:  svc,
	}, nil
}
