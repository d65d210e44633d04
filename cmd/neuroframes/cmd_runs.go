package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/banshee-data/neuroframes/internal/db"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs <catalogue>",
		Short: "List runs recorded in a catalogue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			jsonOut, _ := cmd.Flags().GetBool("json")

			catalogue, err := db.OpenDB(args[0])
			if err != nil {
				return fmt.Errorf("open catalogue: %w", err)
			}
			defer catalogue.Close()

			runs, err := catalogue.ListRuns(limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs recorded.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tDURATION\tFRAMES\tNEURONS\tEDGES\tWARNINGS\tROOT")
			for _, r := range runs {
				dur := "-"
				if r.Finished != nil {
					dur = r.Finished.Sub(r.Started).Round(time.Millisecond).String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
					r.ID[:8], r.Status, r.Started.UTC().Format(time.RFC3339), dur,
					r.Frames, r.Neurons, r.Edges, r.Warnings, r.Root)
				if r.Error != "" {
					fmt.Fprintf(tw, "\t\terror: %s\n", r.Error)
				}
			}
			return tw.Flush()
		},
	}

	cmd.Flags().Int("limit", 20, "Maximum runs to list")

	return cmd
}
