package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/sadontsev/flibusta-sub001/internal/di/providers"
	"github.com/sadontsev/flibusta-sub001/internal/domain"
	apperr "github.com/sadontsev/flibusta-sub001/internal/errors"
	"github.com/sadontsev/flibusta-sub001/internal/service"
)

func newCoverCommand(ctx *commandContext) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "cover <book-id>",
		Short: "Extract and cache a book's cover",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBookID(args[0])
			if err != nil {
				return err
			}
			covers, err := invoke[*providers.CoverServiceHandle](ctx)
			if err != nil {
				return err
			}
			img, ok := covers.Cover(cmd.Context(), id)
			if !ok {
				return apperr.NotFoundf("book %d has no cover", id)
			}
			saved := ""
			if output != "" {
				if saved, err = saveFile(cmd, output, fmt.Sprintf("%d.%s", id, img.Ext), img.Data); err != nil {
					return err
				}
			}
			if ctx.flags.json {
				return writeJSON(cmd, map[string]any{
					"book_id": id, "ext": img.Ext, "etag": img.ETag, "bytes": len(img.Data), "saved": saved,
				})
			}
			if saved == "stdout" {
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cover %d: %s, %s", id, img.Ext, humanBytes(int64(len(img.Data))))
			if saved != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " -> %s", saved)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Also write the image to a file or directory (- for stdout)")
	return cmd
}

func newPrecacheCommand(ctx *commandContext) *cobra.Command {
	var (
		limit int
		mode  string
		poll  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "precache",
		Short: "Warm the cover cache and wait for the job to finish",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			covers, err := invoke[*providers.CoverServiceHandle](ctx)
			if err != nil {
				return err
			}
			started, err := covers.PrecacheAll(cmd.Context(), service.PrecacheOptions{
				Limit: limit,
				Mode:  domain.PrecacheMode(mode),
			})
			if err != nil {
				return err
			}
			if !started {
				return &apperr.Error{Code: apperr.CodeConflict, Message: "a precache job is already running"}
			}

			p, err := waitForPrecache(cmd, covers.CoverService, poll, ctx.flags.json)
			if ctx.flags.json {
				if jerr := writeJSON(cmd, p); jerr != nil {
					return jerr
				}
			} else {
				printProgress(cmd, p)
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 500, "Number of candidate books")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(domain.PrecacheMissing), "Candidate selection: recent, all or missing")
	cmd.Flags().DurationVar(&poll, "poll", time.Second, "Progress polling interval")
	return cmd
}

// waitForPrecache polls until the job is done. Interrupting the command
// stops the job after its current item.
func waitForPrecache(cmd *cobra.Command, covers *service.CoverService, poll time.Duration, quiet bool) (domain.BulkProgress, error) {
	ticker := time.NewTicker(max(poll, 10*time.Millisecond))
	defer ticker.Stop()

	for {
		p := covers.Progress()
		if p.Done {
			return p, nil
		}
		select {
		case <-cmd.Context().Done():
			covers.StopPrecaching()
			return covers.Progress(), cmd.Context().Err()
		case <-ticker.C:
			if !quiet {
				fmt.Fprintf(cmd.ErrOrStderr(), "\r%d/%d processed, %d cached", p.Processed, p.Total, p.Cached)
			}
		}
	}
}

func printProgress(cmd *cobra.Command, p domain.BulkProgress) {
	fmt.Fprintln(cmd.ErrOrStderr())
	elapsed := "-"
	if !p.StartedAt.IsZero() && !p.LastUpdatedAt.IsZero() {
		elapsed = p.LastUpdatedAt.Sub(p.StartedAt).Round(time.Millisecond).String()
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Job", "Mode", "Total", "Processed", "Cached", "Errors", "Elapsed"},
		[][]string{{
			p.JobID, string(p.Mode),
			strconv.Itoa(p.Total), strconv.Itoa(p.Processed),
			strconv.Itoa(p.Cached), strconv.Itoa(p.Errors), elapsed,
		}},
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
	))
}
