// Command neuroframes converts neuronal simulation run directories into
// frame datasets and inspects the results.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/banshee-data/neuroframes/internal/monitoring"
	"github.com/banshee-data/neuroframes/internal/sim"
	"github.com/banshee-data/neuroframes/internal/sim/pipeline"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "neuroframes",
		Short: "Turn simulation monitor logs into per-timestep frame datasets",
		Long: `neuroframes reads the raw output of a neuronal calcium simulation run
(monitor logs, soma positions, calcium targets and connectivity) and writes
one frame per aligned timestep in VTK, framelog or Arrow form.`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Log diagnostics to stderr")
	rootCmd.PersistentFlags().Bool("trace", false, "Log per-frame telemetry to stderr")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(),
		newInspectCmd(),
		newRunsCmd(),
	)
	return rootCmd
}

// setupLogging routes the ops stream to w and enables diag and trace on
// request.
func setupLogging(cmd *cobra.Command, w io.Writer) {
	verbose, _ := cmd.Flags().GetBool("verbose")
	trace, _ := cmd.Flags().GetBool("trace")

	lw := sim.LogWriters{Ops: w}
	if verbose || trace {
		lw.Diag = w
	}
	if trace {
		lw.Trace = w
	}
	pipeline.SetLogWriters(lw)
	monitoring.SetLogger(log.New(w, "[neuroframes] ", log.LstdFlags).Printf)
}
