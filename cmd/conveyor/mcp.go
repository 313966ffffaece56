package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v2"

	cmcp "github.com/deixis/conveyor/internal/mcp"
)

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "start the MCP server on stdio, or over HTTP with --http",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "instructions",
				Usage: "print model instructions and exit",
			},
			&cli.StringFlag{
				Name:  "http",
				Usage: "serve streamable HTTP on this address (e.g. :9090)",
			},
			&cli.StringFlag{
				Name:    "projects-root",
				Usage:   "directory containing the projects to run",
				EnvVars: []string{envPrefix + "PROJECTS_ROOT"},
			},
		},
		Action: func(c *cli.Context) error {
			if c.Bool("instructions") {
				fmt.Fprint(c.App.Writer, cmcp.Instructions)
				return nil
			}

			st, err := newStack(c, c.String(dirFlag.Name), c.String("projects-root"))
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := st.service.Shutdown(ctx); err != nil {
					slog.Warn("runs still in flight at exit", "err", err)
				}
			}()
			go st.registry.StartSweeper(c.Context, st.cfg.SweepInterval())

			server := cmcp.NewServer(st.service)
			if addr := c.String("http"); addr != "" {
				return serveMCP(c, server, addr)
			}
			return server.Run(c.Context, &mcpsdk.StdioTransport{})
		},
	}
}

func serveMCP(c *cli.Context, server *mcpsdk.Server, addr string) error {
	handler := mcpsdk.NewStreamableHTTPHandler(
		func(*http.Request) *mcpsdk.Server { return server },
		nil,
	)
	srv := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-c.Context.Done()
		_ = srv.Close()
	}()

	slog.Info("mcp listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
