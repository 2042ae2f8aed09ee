package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/bchartier/cadastre.gouv/internal/boundary/ogr"
	_ "github.com/bchartier/cadastre.gouv/internal/boundary/postgis"
	"github.com/bchartier/cadastre.gouv/internal/core/config"
)

var (
	Version   = "dev"
	Revision  = ""
	BuildDate = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(os.Stdout).ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, config.ErrInvalid) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
