package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/deixis/conveyor/internal/api"
	cmcp "github.com/deixis/conveyor/internal/mcp"
)

const shutdownTimeout = 15 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve the HTTP API, progress streams, and MCP endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "listen",
				Usage:   "address to listen on; overrides listen from the config file",
				EnvVars: []string{envPrefix + "LISTEN"},
			},
			&cli.StringFlag{
				Name:    "projects-root",
				Usage:   "directory containing the projects to run",
				EnvVars: []string{envPrefix + "PROJECTS_ROOT"},
			},
			&cli.BoolFlag{
				Name:    "mcp",
				Usage:   "mount the MCP streamable HTTP endpoint at /mcp",
				Value:   true,
				EnvVars: []string{envPrefix + "MCP"},
			},
		},
		Action: serve,
	}
}

func serve(c *cli.Context) error {
	st, err := newStack(c, c.String(dirFlag.Name), c.String("projects-root"))
	if err != nil {
		return err
	}
	log := slog.Default()

	addr := st.cfg.ListenAddr()
	if l := c.String("listen"); l != "" {
		addr = l
	}

	router := mux.NewRouter()
	if c.Bool("mcp") {
		server := cmcp.NewServer(st.service)
		router.Handle("/mcp", mcpsdk.NewStreamableHTTPHandler(
			func(*http.Request) *mcpsdk.Server { return server },
			nil,
		))
	}
	router.PathPrefix("/").Handler(api.New(api.Options{
		Service:        st.service,
		Broker:         st.broker,
		AllowedOrigins: st.cfg.AllowedOrigins,
		Logger:         log,
	}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(c.Context)
	g.Go(func() error {
		log.Info("listening", "addr", addr, "projects_root", st.root)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		st.registry.StartSweeper(ctx, st.cfg.SweepInterval())
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(sctx)
		if serr := st.service.Shutdown(sctx); serr != nil && err == nil {
			err = serr
		}
		return err
	})
	return g.Wait()
}
