package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/swallow-rail/swallow"
	"github.com/swallow-rail/swallow/database"
	"github.com/swallow-rail/swallow/flatten"
)

var version = "dev"

func main() {
	var opts struct {
		Once     bool   `long:"once" description:"Run a single pass and exit"`
		Days     int    `long:"days" description:"Horizon length in days" value-name:"N" default:"14"`
		Workers  int    `long:"workers" description:"Worker pool size" value-name:"W" default:"4"`
		Interval int    `long:"interval" description:"Seconds between passes" value-name:"SECS" default:"30"`
		Config   string `long:"config" description:"YAML configuration file" value-name:"swallow.yml" default:"swallow.yml"`
		Help     bool   `long:"help" description:"Show this help"`
		Version  bool   `long:"version" description:"Show this version"`
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

	engine := flatten.New(config.Database, logger)
	engine.Workers = opts.Workers
	engine.HorizonDays = opts.Days

	if opts.Once {
		if err := engine.RunOnce(database.Today()); err != nil {
			logger.Fatal("pass failed", zap.Error(err))
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err = engine.RunForever(ctx, time.Duration(opts.Interval)*time.Second)
	if err != nil && err != context.Canceled {
		logger.Fatal("engine stopped", zap.Error(err))
	}
}
