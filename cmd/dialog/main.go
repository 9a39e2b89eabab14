package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	dialogcmd "github.com/louisbranch/dialog/internal/cmd/dialog"
	"github.com/louisbranch/dialog/internal/platform/config"
)

func main() {
	cfg, err := dialogcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("parse flags: %v", err)
	}
	log.SetPrefix("[DIALOG] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dialogcmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
