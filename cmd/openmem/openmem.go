// Package openmemcmder
package openmemcmder

import (
	"github.com/spf13/cobra"

	contextcmder "github.com/papercomputeco/openmem/cmd/openmem/context"
	processcmder "github.com/papercomputeco/openmem/cmd/openmem/process"
	servecmder "github.com/papercomputeco/openmem/cmd/openmem/serve"
	statuscmder "github.com/papercomputeco/openmem/cmd/openmem/status"
	workercmder "github.com/papercomputeco/openmem/cmd/openmem/worker"
)

const openmemLongDesc string = `Openmem is persistent memory for your coding agents.

Run services using:
  openmem serve        Run the query API with the in-process queue processor
  openmem worker       Run the queue processor as an external daemon
  openmem context      Print the memory index a new session would receive
  openmem status       Show memory and queue statistics
  openmem process      Trigger queue processing now`

const openmemShortDesc string = "Openmem - Agent Memory"

func NewOpenmemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "openmem",
		Short: openmemShortDesc,
		Long:  openmemLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().StringP("project", "C", "", "Project root (defaults to the current directory)")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(workercmder.NewWorkerCmd())
	cmd.AddCommand(contextcmder.NewContextCmd())
	cmd.AddCommand(statuscmder.NewStatusCmd())
	cmd.AddCommand(processcmder.NewProcessCmd())

	return cmd
}
