// Command bookctl runs the archive pipeline from the command line: locating
// and extracting books, caching covers and converting formats without
// starting the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cctx := newCommandContext()
	err := newRootCommand(cctx).ExecuteContext(ctx)
	if cerr := cctx.close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
