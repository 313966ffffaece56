package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/sourcegraph/conc"
	"github.com/urfave/cli/v2"

	"github.com/deixis/conveyor/internal/config"
	"github.com/deixis/conveyor/internal/progress"
	"github.com/deixis/conveyor/internal/report"
	"github.com/deixis/conveyor/internal/suite"
	"github.com/deixis/conveyor/internal/workflow"
)

var (
	projectFlag = &cli.StringFlag{
		Name:    "project",
		Aliases: []string{"p"},
		Usage:   "project directory",
		Value:   ".",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "print the summary as JSON",
	}
	verboseFlag = &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "stream step output",
	}
	noColorFlag = &cli.BoolFlag{
		Name:    "no-color",
		Usage:   "render tables without color",
		EnvVars: []string{envPrefix + "NO_COLOR"},
	}
)

// localStack wires a stack whose projects root is the project directory.
// The config is searched for from the project unless --dir is given.
func localStack(c *cli.Context) (*stack, string, error) {
	dir, err := filepath.Abs(c.String(projectFlag.Name))
	if err != nil {
		return nil, "", err
	}
	configDir := dir
	if c.IsSet(dirFlag.Name) {
		configDir = c.String(dirFlag.Name)
	}
	st, err := newStack(c, configDir, dir)
	if err != nil {
		return nil, "", err
	}
	dir, err = config.ResolveProject(st.root, dir)
	if err != nil {
		return nil, "", err
	}
	return st, dir, nil
}

// watch drains events until the channel closes, echoing step activity to w.
func watch(events <-chan progress.Event, w io.Writer, verbose bool) {
	for e := range events {
		switch e.Type {
		case progress.StepStarted:
			fmt.Fprintf(w, "==> %s\n", stepName(e.Job, e.Step))
		case progress.Output:
			if verbose {
				fmt.Fprint(w, e.Data)
			}
		case progress.StepCompleted:
			if e.Result != nil {
				fmt.Fprintf(w, "<== %s: %s\n", e.Result.Key(), e.Result.Status)
			}
		case progress.CriticalFailure:
			fmt.Fprintf(w, "!!! %s failed; skipping remaining steps\n", e.Step)
		}
	}
}

func stepName(job, step string) string {
	if job == "" {
		return step
	}
	return job + "/" + step
}

// finish prints s and turns a failing verdict into exit status 1.
func finish(c *cli.Context, kind report.Kind, label string, s *report.Summary) error {
	out := c.App.Writer
	if c.Bool(jsonFlag.Name) {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s); err != nil {
			return err
		}
	} else {
		fmt.Fprint(out, formatSummary(kind, label, s, !c.Bool(noColorFlag.Name)))
	}
	if !s.Passed {
		return cli.Exit("", 1)
	}
	return nil
}

func suiteCommand() *cli.Command {
	return &cli.Command{
		Name:      "suite",
		Usage:     "run the test suite (lint, audit, build, tests)",
		ArgsUsage: "[step...]",
		Flags:     []cli.Flag{projectFlag, jsonFlag, verboseFlag, noColorFlag},
		Action: func(c *cli.Context) error {
			st, dir, err := localStack(c)
			if err != nil {
				return err
			}

			names := c.Args().Slice()
			if len(names) == 0 {
				for _, s := range st.suite.Steps() {
					names = append(names, s.Name)
				}
			}

			ch := make(chan progress.Event, 64)
			var wg conc.WaitGroup
			wg.Go(func() { watch(ch, c.App.ErrWriter, c.Bool(verboseFlag.Name)) })
			summary, err := st.suite.RunSelected(c.Context, dir, names, suite.Options{Events: ch})
			close(ch)
			wg.Wait()
			if err != nil {
				return err
			}
			return finish(c, report.Suite, filepath.Base(dir), summary)
		},
	}
}

func workflowCommand() *cli.Command {
	return &cli.Command{
		Name:  "workflow",
		Usage: "list or run workflow files",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "list workflow files and their steps",
				Flags: []cli.Flag{projectFlag, jsonFlag},
				Action: func(c *cli.Context) error {
					st, dir, err := localStack(c)
					if err != nil {
						return err
					}
					infos, err := workflow.Discover(dir, st.cfg.WorkflowDir())
					if err != nil {
						return err
					}
					if c.Bool(jsonFlag.Name) {
						enc := json.NewEncoder(c.App.Writer)
						enc.SetIndent("", "  ")
						return enc.Encode(infos)
					}
					if len(infos) == 0 {
						fmt.Fprintln(c.App.Writer, "No workflow files found.")
						return nil
					}
					fmt.Fprint(c.App.Writer, formatWorkflows(infos))
					return nil
				},
			},
			{
				Name:      "run",
				Usage:     "run a workflow file",
				ArgsUsage: "<file>",
				Flags: []cli.Flag{
					projectFlag, jsonFlag, verboseFlag, noColorFlag,
					&cli.StringSliceFlag{
						Name:  "step",
						Usage: "run only this step, as job/step or a bare step id (repeatable)",
					},
					&cli.StringSliceFlag{
						Name:  "env",
						Usage: "KEY=VALUE overlaid on every step environment (repeatable)",
					},
				},
				Action: runWorkflow,
			},
		},
	}
}

func runWorkflow(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("workflow run expects exactly one workflow file", 2)
	}
	env, err := parseEnv(c.StringSlice("env"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	st, dir, err := localStack(c)
	if err != nil {
		return err
	}
	path, err := workflow.ResolveFile(dir, st.cfg.WorkflowDir(), c.Args().First())
	if err != nil {
		return err
	}
	doc, err := workflow.Load(path)
	if err != nil {
		return err
	}

	var selected []string
	if c.IsSet("step") {
		selected = c.StringSlice("step")
	}

	ch := make(chan progress.Event, 64)
	var wg conc.WaitGroup
	wg.Go(func() { watch(ch, c.App.ErrWriter, c.Bool(verboseFlag.Name)) })
	summary := st.workflow.Run(c.Context, doc, workflow.Options{
		Root:     dir,
		Selected: selected,
		Env:      env,
		Events:   ch,
	})
	close(ch)
	wg.Wait()

	label, _ := filepath.Rel(dir, path)
	return finish(c, report.Workflow, label, summary)
}

func parseEnv(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --env %q, want KEY=VALUE", p)
		}
		env[k] = v
	}
	return env, nil
}
