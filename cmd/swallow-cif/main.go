package main

import (
	"fmt"
	"log"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/swallow-rail/swallow"
	"github.com/swallow-rail/swallow/cif"
	"github.com/swallow-rail/swallow/database"
)

var version = "dev"

func main() {
	var opts struct {
		NoCorpus bool   `short:"n" long:"no-corpus" description:"Skip the CORPUS location bootstrap"`
		Debug    bool   `long:"debug" description:"Dump every decoded record"`
		Config   string `long:"config" description:"YAML configuration file" value-name:"swallow.yml" default:"swallow.yml"`
		Prompt   bool   `long:"password-prompt" description:"Force database password prompt"`
		Help     bool   `long:"help" description:"Show this help"`
		Version  bool   `long:"version" description:"Show this version"`
	}

	parser := flags.NewParser(&opts, flags.None)
	parser.Usage = "[OPTIONS] schedule.cif"
	args, err := parser.ParseArgs(os.Args[1:])
	if err != nil {
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
	if len(args) != 1 {
		fmt.Print("Exactly one schedule file must be given\n\n")
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

	if !opts.NoCorpus {
		fmt.Print("Using CORPUS for location data... ")
		if err := cif.IncorporateCorpus(db, config.CorpusPath, true); err != nil {
			log.Fatal(err)
		}
		fmt.Println("done")
	}

	f, err := os.Open(args[0])
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()

	cifParser := cif.NewParser(db)
	cifParser.Debug = opts.Debug
	if err := cifParser.Parse(f); err != nil {
		log.Fatal(err)
	}
}
