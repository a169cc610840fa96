package main

import (
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/swallow-rail/swallow"
	"github.com/swallow-rail/swallow/database"
	"github.com/swallow-rail/swallow/feed"
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

	db, err := database.Open(config.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	refresher := feed.NewRefresher(db, config.Credentials.Username, config.Credentials.Password)
	err = refresher.Run(database.Today())
	switch {
	case errors.Is(err, feed.ErrUpToDate), errors.Is(err, feed.ErrNoHeader):
		fmt.Println(err)
	case err != nil:
		log.Fatal(err)
	}
}
