package main

import (
	"fmt"
	"log"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/swallow-rail/swallow"
	"github.com/swallow-rail/swallow/database"
	"github.com/swallow-rail/swallow/schema"
)

var version = "dev"

func main() {
	var opts struct {
		Init    bool   `long:"init" description:"Initialise all Swallow tables"`
		Purge   bool   `long:"purge" description:"Drop all Swallow tables"`
		Config  string `long:"config" description:"YAML configuration file" value-name:"swallow.yml" default:"swallow.yml"`
		Prompt  bool   `long:"password-prompt" description:"Force database password prompt"`
		Help    bool   `long:"help" description:"Show this help"`
		Version bool   `long:"version" description:"Show this version"`
	}

	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "--init | --purge [OPTIONS]"
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
	if opts.Init == opts.Purge {
		fmt.Print("Exactly one of --init and --purge must be given\n\n")
		parser.WriteHelp(os.Stdout)
		os.Exit(1)
	}

	config, err := swallow.LoadConfig(opts.Config)
	if err != nil {
		log.Fatal(err)
	}
	if opts.Prompt {
		if config.Database.Password, err = swallow.PromptPassword(); err != nil {
			log.Fatal(err)
		}
	}

	db, err := database.Open(config.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if opts.Init {
		if err := schema.Create(db); err != nil {
			log.Fatal(err)
		}
		fmt.Println("Swallow tables initialised")
	} else {
		if err := schema.Drop(db); err != nil {
			log.Fatal(err)
		}
		fmt.Println("All Swallow tables removed")
	}
}
