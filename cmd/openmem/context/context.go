// Package contextcmder provides the context command: print the memory
// index a new agent session would receive.
package contextcmder

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/openmem/pkg/app"
	"github.com/papercomputeco/openmem/pkg/cliui"
)

type ContextCommander struct {
	project string
	debug   bool
	raw     bool
}

func NewContextCmd() *cobra.Command {
	cmder := &ContextCommander{}

	cmd := &cobra.Command{
		Use:   "context",
		Short: "Print the session-start memory index",
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

	cmd.Flags().BoolVar(&cmder.raw, "raw", false, "Print the raw fragment without terminal rendering")

	return cmd
}

func (c *ContextCommander) run() error {
	a, err := app.New(c.project, c.debug)
	if err != nil {
		return err
	}
	defer a.Close()

	fragment, err := a.Assembler.Build(a.ProjectPath)
	if err != nil {
		return err
	}
	if fragment == "" {
		fmt.Fprintln(os.Stdout, "no memory yet for this project")
		return nil
	}

	if c.raw {
		fmt.Fprint(os.Stdout, fragment)
		return nil
	}

	rendered, err := cliui.RenderMarkdown(fragment)
	if err != nil {
		fmt.Fprint(os.Stdout, fragment)
		return nil
	}
	fmt.Fprint(os.Stdout, rendered)
	return nil
}
