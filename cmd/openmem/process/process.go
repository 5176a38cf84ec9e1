// Package processcmder provides the process command: trigger queue
// processing now, either by signalling a running worker daemon through the
// trigger file or by draining in-process.
package processcmder

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/openmem/pkg/app"
	"github.com/papercomputeco/openmem/pkg/cliui"
)

type ProcessCommander struct {
	project string
	debug   bool
}

func NewProcessCmd() *cobra.Command {
	cmder := &ProcessCommander{}

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Trigger queue processing now",
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

func (c *ProcessCommander) run() error {
	a, err := app.New(c.project, c.debug)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.DaemonAlive() {
		if err := a.TouchTrigger(); err != nil {
			return fmt.Errorf("signalling worker daemon: %w", err)
		}
		fmt.Fprintf(os.Stdout, "  %s signalled worker daemon\n", cliui.SuccessMark)
		return nil
	}

	return cliui.Step(os.Stdout, "processing queue", func() error {
		a.Runtime.ProcessNow(context.Background())
		return nil
	})
}
