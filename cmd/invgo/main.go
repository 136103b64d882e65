// Command invgo inspects and maintains invgo indexes: it checks and repairs
// them, upgrades old segments, prints statistics and copies commits to and
// from blob stores.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args)
	if err != nil && err.Error() != "" {
		fmt.Fprintln(os.Stderr, "invgo:", err)
	}
	stop()
	os.Exit(exitCode(err))
}
