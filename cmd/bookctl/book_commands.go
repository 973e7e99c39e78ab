package main

import (
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sadontsev/flibusta-sub001/internal/archive"
	apperr "github.com/sadontsev/flibusta-sub001/internal/errors"
	"github.com/sadontsev/flibusta-sub001/internal/service"
)

func parseBookID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validationf("invalid book id %q", arg)
	}
	return id, nil
}

type locateResult struct {
	BookID    int64  `json:"book_id"`
	Path      string `json:"path"`
	Filename  string `json:"filename"`
	StartID   int64  `json:"start_id"`
	EndID     int64  `json:"end_id"`
	FormatTag string `json:"format_tag"`
}

func newLocateCommand(ctx *commandContext) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "locate <book-id>",
		Short: "Show which archive shard holds a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBookID(args[0])
			if err != nil {
				return err
			}
			locator, err := invoke[*archive.Locator](ctx)
			if err != nil {
				return err
			}
			loc, err := locator.Locate(cmd.Context(), id, format)
			if err != nil {
				return err
			}

			res := locateResult{
				BookID:    id,
				Path:      loc.Path,
				Filename:  loc.Shard.Filename,
				StartID:   loc.Shard.StartID,
				EndID:     loc.Shard.EndID,
				FormatTag: loc.Shard.FormatTag,
			}
			if ctx.flags.json {
				return writeJSON(cmd, res)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Book", "Shard", "Range", "Format"},
				[][]string{{
					strconv.FormatInt(id, 10),
					filepath.Base(res.Path),
					fmt.Sprintf("%d-%d", res.StartID, res.EndID),
					res.FormatTag,
				}},
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Preferred format")
	return cmd
}

type fileResult struct {
	BookID  int64  `json:"book_id"`
	Name    string `json:"name"`
	Format  string `json:"format"`
	Archive string `json:"archive,omitempty"`
	Bytes   int    `json:"bytes"`
	Saved   string `json:"saved"`
}

func printFileResult(cmd *cobra.Command, ctx *commandContext, res fileResult) error {
	if ctx.flags.json {
		return writeJSON(cmd, res)
	}
	if res.Saved == "stdout" {
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s, %s) -> %s\n",
		res.Name, res.Format, humanBytes(int64(res.Bytes)), res.Saved)
	return nil
}

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "fetch <book-id>",
		Short: "Extract a book file from its archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBookID(args[0])
			if err != nil {
				return err
			}
			books, err := invoke[*service.BookService](ctx)
			if err != nil {
				return err
			}
			file, err := books.GetBookBytes(cmd.Context(), id, format)
			if err != nil {
				return err
			}
			saved, err := saveFile(cmd, output, file.Name, file.Data)
			if err != nil {
				return err
			}
			return printFileResult(cmd, ctx, fileResult{
				BookID: id, Name: file.Name, Format: file.Format, Archive: file.Archive,
				Bytes: len(file.Data), Saved: saved,
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "", "Preferred format")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file or directory (- for stdout)")
	return cmd
}

func newConvertCommand(ctx *commandContext) *cobra.Command {
	var target, output string
	cmd := &cobra.Command{
		Use:   "convert <book-id>",
		Short: "Convert a book to another format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseBookID(args[0])
			if err != nil {
				return err
			}
			conversions, err := invoke[*service.ConversionService](ctx)
			if err != nil {
				return err
			}
			file, err := conversions.ConvertBook(cmd.Context(), id, target)
			if err != nil {
				return err
			}
			saved, err := saveFile(cmd, output, file.Name, file.Data)
			if err != nil {
				return err
			}
			return printFileResult(cmd, ctx, fileResult{
				BookID: id, Name: file.Name, Format: file.Format, Archive: file.Archive,
				Bytes: len(file.Data), Saved: saved,
			})
		},
	}
	cmd.Flags().StringVarP(&target, "to", "t", "epub", "Target format")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file or directory (- for stdout)")
	return cmd
}
