package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newCapacityCommand(ctx *commandContext) *cobra.Command {
	var shelf string
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "capacity",
		Short: "Show shelf capacity and utilization",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.configValue()
			if err != nil {
				return err
			}
			rt, err := buildRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			report, err := rt.service.CapacityReport(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, report)
			}

			rows := make([][]string, 0, len(report.Sections))
			for _, s := range report.Sections {
				if shelf != "" && s.Shelf != shelf {
					continue
				}
				rows = append(rows, []string{
					s.Shelf,
					s.Section,
					s.GenrePreference,
					strconv.Itoa(s.CurrentCount),
					strconv.Itoa(s.MaxCapacity),
					formatPercent(s.CurrentCount, s.MaxCapacity),
				})
			}
			out := cmd.OutOrStdout()
			if len(rows) == 0 {
				fmt.Fprintln(out, "No shelf sections recorded.")
				return nil
			}
			fmt.Fprintln(out, renderTable(cmd,
				[]string{"Shelf", "Section", "Genre", "Count", "Capacity", "Used"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			fmt.Fprintf(out, "Total: %d / %d (%s)\n", report.TotalCount, report.TotalCapacity,
				formatPercent(report.TotalCount, report.TotalCapacity))
			return nil
		},
	}

	cmd.Flags().StringVar(&shelf, "shelf", "", "Only show sections of this shelf")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the report as JSON")
	return cmd
}

func formatPercent(count, capacity int) string {
	if capacity <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f%%", float64(count)/float64(capacity)*100)
}
