package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sadontsev/flibusta-sub001/internal/di/providers"
	"github.com/sadontsev/flibusta-sub001/internal/service"
)

type statsResult struct {
	Covers      service.CoverStats      `json:"covers"`
	Conversions service.ConversionStats `json:"conversions"`
}

func newStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show cover and conversion cache usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			covers, err := invoke[*providers.CoverServiceHandle](ctx)
			if err != nil {
				return err
			}
			conversions, err := invoke[*service.ConversionService](ctx)
			if err != nil {
				return err
			}

			res := statsResult{Covers: covers.Stats(), Conversions: conversions.Stats()}
			if ctx.flags.json {
				return writeJSON(cmd, res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderStats(res))
			return nil
		},
	}
}

func renderStats(res statsResult) string {
	return renderTable(
		[]string{"Cache", "Files", "Size", "In flight"},
		[][]string{
			{"covers", strconv.Itoa(res.Covers.CachedFiles), humanBytes(res.Covers.CachedBytes), strconv.Itoa(res.Covers.InFlight)},
			{"conversions", strconv.Itoa(res.Conversions.CachedFiles), humanBytes(res.Conversions.CachedBytes), strconv.Itoa(res.Conversions.InFlight)},
		},
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	)
}
