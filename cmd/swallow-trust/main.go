package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/swallow-rail/swallow"
	"github.com/swallow-rail/swallow/database"
	"github.com/swallow-rail/swallow/trust"
)

var version = "dev"

func main() {
	var opts struct {
		Config  string `long:"config" description:"YAML configuration file" value-name:"swallow.yml" default:"swallow.yml"`
		Help    bool   `long:"help" description:"Show this help"`
		Version bool   `long:"version" description:"Show this version"`
	}

	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[OPTIONS]"
	if _, err := parser.ParseArgs(os.Args[1:]); err != nil {
		log.Fatal(err)
	}

	if opts.Help {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if opts.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	config, err := swallow.LoadConfig(opts.Config)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	db, err := database.Open(config.Database)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ingester := &trust.Ingester{DB: db, Broker: config.Trust, Log: logger}
	if err := ingester.Run(ctx); err != nil && err != context.Canceled {
		logger.Fatal("ingester stopped", zap.Error(err))
	}
}
