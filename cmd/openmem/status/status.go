// Package statuscmder provides the status command: memory and queue
// statistics for the current project.
package statuscmder

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/openmem/pkg/app"
	"github.com/papercomputeco/openmem/pkg/cliui"
)

type StatusCommander struct {
	project string
	debug   bool
}

func NewStatusCmd() *cobra.Command {
	cmder := &StatusCommander{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show memory and queue statistics",
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

func (c *StatusCommander) run() error {
	a, err := app.New(c.project, c.debug)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.Store.ProjectStats(a.ProjectPath)
	if err != nil {
		return err
	}
	queue, err := a.Store.QueueStatus()
	if err != nil {
		return err
	}

	out := os.Stdout
	fmt.Fprintf(out, "\n  openmem status for %s\n\n", a.ProjectPath)
	cliui.KV(out, "sessions", stats.SessionCount)
	cliui.KV(out, "active observations", stats.ObservationCount)
	for typ, count := range stats.ByType {
		cliui.KV(out, "  "+typ, count)
	}
	cliui.KV(out, "superseded", stats.ByState["superseded"])
	cliui.KV(out, "deleted", stats.ByState["deleted"])
	cliui.KV(out, "distilled tokens", stats.TotalTokens)
	cliui.KV(out, "discovery tokens", stats.DiscoveryTokens)
	cliui.KV(out, "vector rows", stats.VectorIndexedRows)

	fmt.Fprintln(out)
	cliui.KV(out, "queue pending", queue["pending"])
	cliui.KV(out, "queue processing", queue["processing"])
	cliui.KV(out, "queue failed", queue["failed"])
	cliui.KV(out, "worker daemon", daemonState(a))
	fmt.Fprintln(out)

	return nil
}

func daemonState(a *app.App) string {
	if a.DaemonAlive() {
		return cliui.SuccessMark + " running"
	}
	return "not running"
}
