// Command msrbridge reads microscopy measurement files through the embedded
// reader runtime, either one file per invocation or as an HTTP service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/FLClab/TiffWrapper/internal/bridge"
	"github.com/FLClab/TiffWrapper/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	code := cli.Execute(ctx, cli.NewRootCommand(nil))

	stop()
	if err := bridge.Shutdown(); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
		if code == cli.ExitSuccess {
			code = cli.ExitFailure
		}
	}
	os.Exit(code)
}
