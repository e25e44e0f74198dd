package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/obwan02/Actionator/internal/actions"
	"github.com/obwan02/Actionator/internal/server"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "listen-addr", Usage: "TCP listen address (overrides listen_addr)"},
			&cli.BoolFlag{Name: "mcp", Usage: "mount the MCP endpoint at /mcp"},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c.String("config"))
	if err != nil {
		return err
	}
	if v := c.String("listen-addr"); v != "" {
		cfg.ListenAddr = v
	}
	if c.Bool("mcp") {
		cfg.MCP = true
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.connectBridges(); err != nil {
		return err
	}

	deps := server.Deps{
		Executor: a.executor,
		Logger:   a.logger,
		Prefix:   cfg.APIPrefix,
	}
	if cfg.MCP {
		deps.MCP = a.enableMCP().HTTPHandler()
	}

	if err := a.sched.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.NewServer(deps).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening",
			slog.String("addr", cfg.ListenAddr),
			slog.String("prefix", cfg.APIPrefix),
			slog.Bool("mcp", cfg.MCP),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func actionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "actions",
		Usage: "List the registered actions",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print descriptors as JSON"},
			&cli.BoolFlag{Name: "shell", Usage: "include the run action"},
		},
		Action: func(c *cli.Context) error {
			reg := actions.NewRegistry()
			if err := actions.RegisterBuiltins(reg, actions.BuiltinConfig{
				Shell: actions.ShellConfig{Enabled: c.Bool("shell")},
			}); err != nil {
				return err
			}
			return printActions(c, reg.List(), c.Bool("json"))
		},
	}
}

func printActions(c *cli.Context, infos []actions.ActionInfo, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCONVENTION\tOUTPUT\tPARAMS\tDESCRIPTION")
	for _, info := range infos {
		params := make([]string, 0, len(info.Params))
		for _, p := range info.Params {
			params = append(params, p.Name+":"+string(p.Type))
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
			info.Name, info.Convention, info.WantsOutput, strings.Join(params, ","), info.Description)
	}
	return tw.Flush()
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the actions as MCP tools over stdio",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, os.Stderr)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.connectBridges(); err != nil {
				return err
			}
			srv := a.enableMCP()
			if err := a.sched.Start(ctx); err != nil {
				return err
			}

			a.logger.Info("mcp stdio server started")
			if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}
