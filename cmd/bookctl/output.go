package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func humanBytes(n int64) string {
	if n < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(n))
}

// saveFile writes data to dest, or to name in the working directory when
// dest is empty. "-" writes to stdout.
func saveFile(cmd *cobra.Command, dest, name string, data []byte) (string, error) {
	if dest == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return "stdout", err
	}
	if dest == "" {
		dest = filepath.Base(name)
	}
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		dest = filepath.Join(dest, filepath.Base(name))
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil { //nolint:gosec // user-chosen output file
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	return dest, nil
}
