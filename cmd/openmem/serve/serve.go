// Package servecmder provides the serve command: the query API server with
// the in-process queue processor (unless an external worker daemon holds
// the database lock).
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/adaptor/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/api"
	"github.com/papercomputeco/openmem/api/mcp"
	"github.com/papercomputeco/openmem/pkg/app"
)

type ServeCommander struct {
	listen  string
	project string
	debug   bool
}

const serveLongDesc string = `Run the openmem query API.

The server exposes search, observation and session access, export/import,
stats, metrics and queue control, plus the MCP drill-down tools under /mcp.
The queue processor loop runs in-process unless an external worker daemon
holds the database lock, in which case the loop is not started. Triggers are
not forwarded to the worker: POST /queue/process drains the queue in this
process even while the worker is alive.`

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the openmem query API",
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if cmder.debug, err = cmd.Flags().GetBool("debug"); err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			if cmder.project, err = cmd.Flags().GetString("project"); err != nil {
				return fmt.Errorf("could not get project flag: %v", err)
			}
			return cmder.run()
		},
	}

	cmd.Flags().StringVarP(&cmder.listen, "listen", "l", "", "Address for the API server to listen on")

	return cmd
}

func (c *ServeCommander) run() error {
	a, err := app.New(c.project, c.debug)
	if err != nil {
		return err
	}
	defer a.Close()

	listen := c.listen
	if listen == "" {
		listen = a.Config.API.Listen
	}

	server := api.NewServer(api.Config{
		ListenAddr:  listen,
		ProjectPath: a.ProjectPath,
	}, a.Store, a.Search, a.Runtime, a.Metrics, a.Logger)

	mcpServer, err := mcp.NewServer(mcp.Config{
		Store:        a.Store,
		Orchestrator: a.Search,
		ProjectPath:  a.ProjectPath,
		Logger:       a.Logger,
	})
	if err != nil {
		return fmt.Errorf("creating MCP server: %w", err)
	}
	server.App().All("/mcp", adaptor.HTTPHandler(mcpServer.Handler()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	inProcess := !a.DaemonAlive()
	if inProcess {
		go a.Processor.Run(ctx)
	} else {
		a.Logger.Info("external worker holds the database lock, processor stays external",
			zap.String("lock", a.LockPath()),
		)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		a.Logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
		if inProcess {
			// Let the processor finish its current item.
			a.Processor.Stop()
		}
		return server.Shutdown()
	}
}
