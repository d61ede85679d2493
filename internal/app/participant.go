// ABOUTME: Participant application orchestration
// ABOUTME: Wires engine, cache, API client, relay channel, session and UI into one process
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/warpsong/warpsong-go/internal/api"
	"github.com/warpsong/warpsong-go/internal/buffercache"
	"github.com/warpsong/warpsong-go/internal/config"
	"github.com/warpsong/warpsong-go/internal/discovery"
	"github.com/warpsong/warpsong-go/internal/engine"
	"github.com/warpsong/warpsong-go/internal/session"
	"github.com/warpsong/warpsong-go/internal/ui"
	"github.com/warpsong/warpsong-go/internal/visualizer"
	"github.com/warpsong/warpsong-go/pkg/audio/output"
	"github.com/warpsong/warpsong-go/pkg/protocol"
)

const (
	meterInterval = 100 * time.Millisecond
	syncInterval  = 500 * time.Millisecond
)

// Config holds participant configuration
type Config struct {
	config.Participant

	// NewDevice overrides the audio device; nil opens the system output
	NewDevice func(sampleRate int) (output.Device, error)
	// Status receives UI updates; nil discards them
	Status func(ui.StatusMsg)
}

// Participant is one running participant process
type Participant struct {
	config      Config
	engine      *engine.Engine
	cache       *buffercache.Cache
	api         *api.Client
	coordinator *session.Coordinator
	meter       *visualizer.Meter

	closeOnce sync.Once
}

// New builds a participant. APIURL must already be resolved (see ResolveRelay).
func New(cfg Config) (*Participant, error) {
	if cfg.APIURL == "" {
		return nil, errors.New("no collaborator API url configured")
	}
	if cfg.RelayURL == "" {
		cfg.RelayURL = cfg.APIURL
	}
	if cfg.Status == nil {
		cfg.Status = func(ui.StatusMsg) {}
	}

	p := &Participant{config: cfg}

	p.engine = engine.New(engine.Config{
		SampleRate:   cfg.SampleRate,
		StartLatency: cfg.StartLatency,
		NewDevice:    cfg.NewDevice,
	})
	p.cache = buffercache.New(buffercache.Config{
		Fetcher:     buffercache.NewHTTPFetcher(cfg.FetchTimeout, cfg.Token),
		LoadTimeout: cfg.LoadTimeout,
	})
	p.engine.AttachCache(p.cache)
	p.api = api.NewClient(cfg.APIURL, cfg.Token)
	p.meter = visualizer.New(p.engine, visualizer.DefaultWindow)

	p.coordinator = session.New(session.Config{
		ParticipantID: cfg.ParticipantID,
		API:           p.api,
		Engine:        p.engine,
		Loader:        p.cache,
		Dial:          p.dial,
	})
	p.coordinator.OnChange(func(snap session.Snapshot) {
		p.config.Status(ui.StatusMsg{Session: &snap})
	})

	return p, nil
}

func (p *Participant) dial(ctx context.Context, code, pid string) (session.Channel, error) {
	var header http.Header
	if p.config.Token != "" {
		header = http.Header{}
		header.Set("Authorization", "Bearer "+p.config.Token)
	}
	return protocol.Dial(ctx, p.config.RelayURL, code, pid, header)
}

// Coordinator returns the session coordinator
func (p *Participant) Coordinator() *session.Coordinator { return p.coordinator }

// Engine returns the audio engine
func (p *Participant) Engine() *engine.Engine { return p.engine }

// Start creates or joins the configured session. With neither configured the
// participant stays Idle.
func (p *Participant) Start(ctx context.Context) (string, error) {
	switch {
	case p.config.Create:
		code, err := p.coordinator.CreateSession(ctx)
		if err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
		log.Printf("Created session %s", code)
		p.publishCatalog()
		return code, nil
	case p.config.SessionCode != "":
		if err := p.coordinator.JoinSession(ctx, p.config.SessionCode); err != nil {
			return "", fmt.Errorf("join session %s: %w", p.config.SessionCode, err)
		}
		code := p.coordinator.Snapshot().SessionCode
		log.Printf("Joined session %s", code)
		p.publishCatalog()
		return code, nil
	}
	return "", nil
}

func (p *Participant) publishCatalog() {
	p.config.Status(ui.StatusMsg{Catalog: p.coordinator.Selector().Catalog()})
}

// Handle carries out one UI action
func (p *Participant) Handle(ctx context.Context, a ui.Action) error {
	switch a.Kind {
	case ui.ActionPlay:
		return p.coordinator.Play(ctx)
	case ui.ActionPause:
		return p.coordinator.Pause()
	case ui.ActionReady:
		return p.coordinator.MarkReady(ctx)
	case ui.ActionTempo:
		_, err := p.coordinator.SetTempo(a.BPM)
		return err
	case ui.ActionSelect:
		return p.coordinator.SelectStem(ctx, a.Slot, a.StemID)
	case ui.ActionMute:
		p.engine.Mute(a.Slot, a.Muted)
		return nil
	case ui.ActionSave:
		name := fmt.Sprintf("%s %s", p.coordinator.Snapshot().SessionCode, time.Now().Format("2006-01-02 15:04"))
		if _, err := p.coordinator.SaveMashup(ctx, name, false); err != nil {
			return err
		}
		log.Printf("Saved mashup %q", name)
		return nil
	}
	return fmt.Errorf("unknown action %d", a.Kind)
}

// Run processes UI actions and pushes meter and sync updates until ctx ends or
// the UI quits.
func (p *Participant) Run(ctx context.Context, controls *ui.Controls) {
	meterTicker := time.NewTicker(meterInterval)
	defer meterTicker.Stop()
	syncTicker := time.NewTicker(syncInterval)
	defer syncTicker.Stop()

	var actions <-chan ui.Action
	var quit <-chan struct{}
	if controls != nil {
		actions = controls.Actions
		quit = controls.Quit
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-quit:
			log.Printf("Received quit signal from TUI")
			return
		case a := <-actions:
			if err := p.Handle(ctx, a); err != nil {
				log.Printf("Action failed: %v", err)
				p.config.Status(ui.StatusMsg{Error: err.Error()})
			}
		case <-meterTicker.C:
			p.config.Status(p.meterStatus())
		case <-syncTicker.C:
			p.config.Status(p.syncStatus())
		}
	}
}

func (p *Participant) meterStatus() ui.StatusMsg {
	frame := p.meter.Levels()
	return ui.StatusMsg{Levels: &frame, Bars: p.meter.Bars(ui.MeterWidth)}
}

func (p *Participant) syncStatus() ui.StatusMsg {
	offset, rtt, quality := p.coordinator.TimeSync().Stats()
	return ui.StatusMsg{Sync: &ui.SyncStatus{Offset: offset, RTT: rtt, Quality: quality}}
}

// Close leaves the session and releases the audio device
func (p *Participant) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = errors.Join(p.coordinator.LeaveSession(), p.engine.Teardown())
	})
	return err
}

// ResolveRelay fills in the API and relay URLs by browsing mDNS when none is configured
func ResolveRelay(ctx context.Context, cfg config.Participant) (config.Participant, error) {
	if cfg.APIURL != "" {
		return cfg, nil
	}

	log.Printf("Starting relay discovery...")
	disc := discovery.NewManager(discovery.Config{})
	defer disc.Stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Discover)
	defer cancel()
	relay, err := disc.Await(ctx)
	if err != nil {
		return cfg, err
	}

	cfg.APIURL = relay.BaseURL()
	if cfg.RelayURL == "" {
		cfg.RelayURL = cfg.APIURL
	}
	log.Printf("Discovered relay %s at %s", relay.Name, cfg.APIURL)
	return cfg, nil
}
