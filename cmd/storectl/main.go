// Command storectl opens (or creates) a storecore engine from a YAML
// config file and serves its admin surface until interrupted.
//
// Flag layout is grounded on the teacher's cmd/server/main.go: a small set
// of top-level flags, log.Fatalf on unrecoverable startup errors, and
// log.Printf for lifecycle events.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/vantadb/storecore"
	"github.com/vantadb/storecore/internal/config"
)

var (
	flagConfig    = flag.String("config", "config.yaml", "path to a RunSettings YAML file")
	flagCreate    = flag.Bool("create", false, "create a fresh page file instead of opening an existing one")
	flagOverwrite = flag.Bool("overwrite", false, "with -create, overwrite an existing page file at storage.path")
)

func main() {
	flag.Parse()

	settings, err := config.Load(*flagConfig)
	if err != nil {
		log.Printf("falling back to default settings: %v", err)
		settings = config.Default()
	}

	var engine *storecore.Engine
	if *flagCreate {
		engine, err = storecore.Create(settings, *flagOverwrite, nil)
	} else {
		engine, err = storecore.Open(settings, nil)
	}
	if err != nil {
		log.Fatalf("open engine: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Printf("shutting down")
		if err := engine.Close(); err != nil {
			log.Fatalf("close engine: %v", err)
		}
		os.Exit(0)
	}()

	log.Printf("storecore engine ready, storage=%s", settings.Storage.Path)
	if err := engine.ServeAdmin(); err != nil {
		log.Fatalf("admin surface: %v", err)
	}
}
