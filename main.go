// ABOUTME: Entry point for the WarpSong participant
// ABOUTME: Parses configuration, joins or creates a session and runs the TUI
package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/warpsong/warpsong-go/internal/app"
	"github.com/warpsong/warpsong-go/internal/config"
	"github.com/warpsong/warpsong-go/internal/ui"
	"github.com/warpsong/warpsong-go/internal/version"
)

func main() {
	cfg, err := config.LoadParticipant(os.Args[1:])
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	useTUI := !cfg.NoTUI

	// Set up logging
	f, err := os.OpenFile(cfg.LogFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer func() { _ = f.Close() }()

	if useTUI {
		// TUI mode: log only to file
		log.SetOutput(f)
	} else {
		log.SetOutput(io.MultiWriter(os.Stdout, f))
		log.Printf("Starting %s %s", version.Product, version.Version)
		log.Printf("TUI disabled - streaming logs")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err = app.ResolveRelay(ctx, cfg)
	if err != nil {
		log.Fatalf("No relay: %v", err)
	}

	var (
		tuiProg  *tea.Program
		controls *ui.Controls
		tuiDone  chan struct{}
	)
	if useTUI {
		controls = ui.NewControls()
		tuiProg = ui.Run(controls)
		tuiDone = make(chan struct{})
		go func() {
			defer close(tuiDone)
			if _, err := tuiProg.Run(); err != nil {
				log.Printf("TUI error: %v", err)
			}
		}()
	}

	updateTUI := func(msg ui.StatusMsg) {
		if tuiProg != nil {
			tuiProg.Send(msg)
		}
	}

	participant, err := app.New(app.Config{Participant: cfg, Status: updateTUI})
	if err != nil {
		log.Fatalf("Failed to create participant: %v", err)
	}

	code, err := participant.Start(ctx)
	if err != nil {
		log.Printf("Session error: %v", err)
		updateTUI(ui.StatusMsg{Error: err.Error()})
	} else if code != "" {
		log.Printf("In session %s as %s", code, participant.Coordinator().ParticipantID())
	}

	participant.Run(ctx, controls)
	log.Printf("Shutting down")

	if err := participant.Close(); err != nil {
		log.Printf("Error closing participant: %v", err)
	}
	if tuiProg != nil {
		tuiProg.Quit()
		<-tuiDone
	}

	log.Printf("Participant stopped")
}
