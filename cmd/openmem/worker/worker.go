// Package workercmder provides the worker command: the queue processor as
// an external daemon holding an exclusive lock on the database directory.
// The host signals it by touching the trigger file, which the worker
// watches via fsnotify.
package workercmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/app"
)

type WorkerCommander struct {
	project string
	debug   bool
}

const workerLongDesc string = `Run the queue processor as an external daemon.

The worker takes an exclusive lock on the database directory; while it is
alive, "openmem serve" does not start its in-process processor loop (its
POST /queue/process still drains in-process). Touching the trigger file in
the .open-mem directory (or running "openmem process") drains the queue
immediately; otherwise the interval timer applies.`

func NewWorkerCmd() *cobra.Command {
	cmder := &WorkerCommander{}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the queue processor daemon",
		Long:  workerLongDesc,
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

	return cmd
}

func (c *WorkerCommander) run() error {
	a, err := app.New(c.project, c.debug)
	if err != nil {
		return err
	}
	defer a.Close()

	lock, err := a.AcquireLock()
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			a.Logger.Warn("releasing lock failed", zap.Error(err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Watch the trigger file so hosts can request immediate drains.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		a.Logger.Warn("trigger watcher unavailable, interval-only processing", zap.Error(err))
	} else {
		defer watcher.Close()
		if err := watcher.Add(a.Dir); err != nil {
			a.Logger.Warn("watching openmem directory failed", zap.Error(err))
		}
		go func() {
			trigger := a.TriggerPath()
			for {
				select {
				case <-ctx.Done():
					return
				case event, ok := <-watcher.Events:
					if !ok {
						return
					}
					if event.Name == trigger && event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
						a.Logger.Debug("trigger file touched, draining queue")
						a.Processor.Signal()
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return
					}
					a.Logger.Warn("trigger watcher error", zap.Error(err))
				}
			}
		}()
	}

	a.Logger.Info("worker daemon running",
		zap.String("project", a.ProjectPath),
		zap.String("lock", a.LockPath()),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		a.Logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	a.Processor.Run(ctx)
	return nil
}
