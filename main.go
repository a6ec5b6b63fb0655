package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	_ "github.com/bartek5186/billsync/internal/integrations/lumi"
	_ "github.com/bartek5186/billsync/internal/integrations/rdstation"
	_ "github.com/bartek5186/billsync/internal/integrations/unifica"
)

// wersję możesz nadpisać przez: -ldflags "-X 'main.ver=1.0.1'"
var ver = "1.0.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("billsync zakończony błędem")
		cancel()
		os.Exit(1)
	}
}
