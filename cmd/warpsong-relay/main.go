// ABOUTME: Entry point for the WarpSong reference relay
// ABOUTME: Serves the collaborator API and session channel, advertised over mDNS
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/warpsong/warpsong-go/internal/config"
	"github.com/warpsong/warpsong-go/internal/discovery"
	"github.com/warpsong/warpsong-go/internal/relay"
	"github.com/warpsong/warpsong-go/internal/version"
	"github.com/warpsong/warpsong-go/pkg/protocol"
	"github.com/warpsong/warpsong-go/pkg/stem"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.LoadRelay(os.Args[1:])
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatalf("error opening log file: %v", err)
		}
		defer f.Close()
		log.SetOutput(io.MultiWriter(os.Stdout, f))
	}

	var catalog []stem.Stem
	switch {
	case cfg.Catalog != "":
		catalog, err = relay.LoadCatalog(cfg.Catalog)
	case cfg.StemsDir != "":
		catalog, err = relay.ScanCatalog(cfg.StemsDir)
	}
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}

	log.Printf("Starting %s relay %s: %s on port %d (%d stems)", version.Product, version.Version, cfg.Name, cfg.Port, len(catalog))
	log.Printf("Press Ctrl-C to stop")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := relay.New(relay.Config{
		Addr:     fmt.Sprintf(":%d", cfg.Port),
		Catalog:  catalog,
		StemsDir: cfg.StemsDir,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})

	if cfg.EnableMDNS {
		disc := discovery.NewManager(discovery.Config{
			ServiceName: cfg.Name,
			Port:        cfg.Port,
			Path:        protocol.WSPath,
		})
		if err := disc.Advertise(); err != nil {
			log.Printf("mDNS advertisement failed: %v", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			disc.Stop()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Fatalf("Relay error: %v", err)
	}
	log.Printf("Relay stopped")
}
