// Package main starts the covault server and handles termination.
//
// The process hosts two surfaces: the HTTP auth endpoints and the WebSocket
// protocol surface clients use to author wallet definitions.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	covaultd "github.com/covaulthq/covault/internal/cmd/covaultd"
	"github.com/covaulthq/covault/internal/platform/config"
)

func main() {
	cfg, err := covaultd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[COVAULT] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := covaultd.Run(ctx, cfg); err != nil {
		config.Exitf("failed to serve: %v", err)
	}
}
