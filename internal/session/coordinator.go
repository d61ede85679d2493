// ABOUTME: Session coordinator for one participant
// ABOUTME: Runs the Idle/Joining/InLobby/Active state machine, roster, readiness and protocol routing
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/warpsong/warpsong-go/internal/api"
	"github.com/warpsong/warpsong-go/internal/engine"
	"github.com/warpsong/warpsong-go/internal/playback"
	"github.com/warpsong/warpsong-go/internal/selector"
	"github.com/warpsong/warpsong-go/internal/timesync"
	"github.com/warpsong/warpsong-go/pkg/protocol"
	"github.com/warpsong/warpsong-go/pkg/stem"
)

// State is the session state
type State int

const (
	Idle State = iota
	Joining
	InLobby
	Active
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Joining:
		return "joining"
	case InLobby:
		return "in-lobby"
	case Active:
		return "active"
	case Error:
		return "error"
	}
	return "unknown"
}

const (
	DefaultJoinConfirmTimeout = 5 * time.Second
	DefaultClockSyncInterval  = 2 * time.Second

	materializeQueue = 32
	transportQueue   = 16
)

// API is the HTTP collaborator surface the coordinator needs
type API interface {
	Catalog(ctx context.Context) ([]stem.Stem, error)
	CreateSession(ctx context.Context) (string, error)
	JoinSession(ctx context.Context, req api.JoinRequest) (*api.JoinResponse, error)
	SaveMashup(ctx context.Context, req api.MashupRequest) (json.RawMessage, error)
}

// Channel is a connected real-time channel. *protocol.Conn satisfies it.
type Channel interface {
	Send(ev protocol.Event) error
	Events() <-chan protocol.Message
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Dialer opens the channel for a session code
type Dialer func(ctx context.Context, sessionCode, participantID string) (Channel, error)

// Config holds coordinator dependencies
type Config struct {
	ParticipantID      string
	API                API
	Dial               Dialer
	Engine             *engine.Engine
	Loader             playback.Loader
	TimeSync           *timesync.ClockSync
	JoinConfirmTimeout time.Duration
	ClockSyncInterval  time.Duration
}

// Snapshot is a copy of the observable session state
type Snapshot struct {
	State         State
	SessionCode   string
	ParticipantID string
	Participants  []string
	Ready         []string
	LocalReady    bool
	AllReady      bool
	Slots         map[stem.Category]stem.Stem
	Playing       bool
	Transport     playback.State
	Tempo         float64
	Err           error
}

// link is the live channel of the current session
type link struct {
	ch        Channel
	ctx       context.Context
	cancel    context.CancelFunc
	jobs      chan materializeJob
	transport chan protocol.PlaybackControl
}

type materializeJob struct {
	slot stem.Category
	stem stem.Stem
}

// Coordinator owns one participant's view of a session
type Coordinator struct {
	config   Config
	id       string
	engine   *engine.Engine
	selector *selector.Selector
	playback *playback.Controller
	timesync *timesync.ClockSync

	mu           sync.Mutex
	state        State
	code         string
	link         *link
	participants map[string]bool
	ready        map[string]bool
	localReady   bool
	playing      bool
	held         *protocol.PlaybackControl // remote play held back until localReady
	confirm      chan struct{}
	err          error
	observers    []func(Snapshot)
}

// New creates a coordinator in the Idle state
func New(config Config) *Coordinator {
	if config.ParticipantID == "" {
		config.ParticipantID = uuid.New().String()
	}
	if config.JoinConfirmTimeout <= 0 {
		config.JoinConfirmTimeout = DefaultJoinConfirmTimeout
	}
	if config.ClockSyncInterval <= 0 {
		config.ClockSyncInterval = DefaultClockSyncInterval
	}
	if config.TimeSync == nil {
		config.TimeSync = timesync.NewClockSync(config.Engine.Now)
	}

	c := &Coordinator{
		config:       config,
		id:           config.ParticipantID,
		engine:       config.Engine,
		timesync:     config.TimeSync,
		participants: make(map[string]bool),
		ready:        make(map[string]bool),
	}

	c.selector = selector.New(selector.MaterializerFunc(func(ctx context.Context, slot stem.Category, s stem.Stem) error {
		return c.playback.Materialize(ctx, slot, s)
	}), c.emitSelection)
	c.playback = playback.New(playback.Config{
		Engine: config.Engine,
		Loader: config.Loader,
		Slots:  c.selector,
		Emit:   c.emitPlayback,
	})

	c.selector.OnChange(func(selector.Change) { c.changed() })
	c.playback.OnStateChange(func(playback.State) { c.changed() })
	return c
}

// ParticipantID returns the local participant id
func (c *Coordinator) ParticipantID() string { return c.id }

// Selector returns the slot selector
func (c *Coordinator) Selector() *selector.Selector { return c.selector }

// Playback returns the playback controller
func (c *Coordinator) Playback() *playback.Controller { return c.playback }

// TimeSync returns the relay clock estimator
func (c *Coordinator) TimeSync() *timesync.ClockSync { return c.timesync }

// OnChange registers an observer called after every observable change
func (c *Coordinator) OnChange(fn func(Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, fn)
}

// State returns the current state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AllReady reports whether every connected participant is ready
func (c *Coordinator) AllReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allReadyLocked()
}

// Snapshot returns a copy of the session state
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		State:         c.state,
		SessionCode:   c.code,
		ParticipantID: c.id,
		Participants:  sortedKeys(c.participants),
		Ready:         sortedKeys(c.ready),
		LocalReady:    c.localReady,
		AllReady:      c.allReadyLocked(),
		Playing:       c.playing,
		Err:           c.err,
	}
	c.mu.Unlock()

	snap.Slots = c.selector.Assignments()
	snap.Transport = c.playback.State()
	snap.Tempo = c.engine.Tempo()
	return snap
}

// CreateSession opens a new session and joins it. The coordinator is Joining until the
// relay confirms the local participant, and rolls back to Idle on any failure.
func (c *Coordinator) CreateSession(ctx context.Context) (string, error) {
	confirm := make(chan struct{})
	if err := c.begin(confirm); err != nil {
		return "", err
	}

	code, err := c.config.API.CreateSession(ctx)
	if err != nil {
		return "", c.rollback(fmt.Errorf("create session: %w", err))
	}
	code, err = protocol.NormalizeSessionCode(code)
	if err != nil {
		return "", c.rollback(fmt.Errorf("create session: %w", err))
	}

	c.loadCatalog(ctx)

	ch, err := c.connect(ctx, code)
	if err != nil {
		return "", c.rollback(err)
	}

	timer := time.NewTimer(c.config.JoinConfirmTimeout)
	defer timer.Stop()

	select {
	case <-confirm:
	case <-timer.C:
		return "", c.rollback(fmt.Errorf("session %s: %w", code, ErrJoinTimeout))
	case <-ch.Done():
		return "", c.rollback(&ConnectivityError{SessionCode: code, Err: ch.Err()})
	case <-ctx.Done():
		return "", c.rollback(ctx.Err())
	}

	if err := c.enterLobby(); err != nil {
		return "", err
	}
	log.Printf("Created session %s", code)
	return code, nil
}

// JoinSession joins an existing session. The code is validated before any network call.
func (c *Coordinator) JoinSession(ctx context.Context, code string) error {
	code, err := protocol.NormalizeSessionCode(code)
	if err != nil {
		return err
	}
	if err := c.begin(nil); err != nil {
		return err
	}

	resp, err := c.config.API.JoinSession(ctx, api.JoinRequest{SessionCode: code, ParticipantID: c.id})
	if err != nil {
		return c.rollback(fmt.Errorf("join session %s: %w", code, err))
	}

	c.loadCatalog(ctx)
	c.adoptTransport(resp)

	if _, err := c.connect(ctx, code); err != nil {
		return c.rollback(err)
	}

	c.mu.Lock()
	for _, p := range resp.Participants {
		if strings.TrimSpace(p) != "" {
			c.participants[p] = true
		}
	}
	c.mu.Unlock()

	for _, a := range resp.SlotAssignments {
		c.remoteAssign(ctx, a.Category, a.Stem)
	}

	if err := c.enterLobby(); err != nil {
		return err
	}
	log.Printf("Joined session %s (%d participants)", code, len(resp.Participants)+1)
	return nil
}

// MarkReady activates the audio engine and tells the others this participant is ready.
// A play held back by the ready barrier starts now, joining the shared clock late.
// An engine failure is fatal to the session.
func (c *Coordinator) MarkReady(ctx context.Context) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	if err := c.engine.EnsureInitialized(); err != nil {
		c.fail(err)
		return err
	}

	c.mu.Lock()
	c.localReady = true
	c.ready[c.id] = true
	// queued under the lock so it precedes any remote transport that follows;
	// nothing is queued before localReady, so the send never blocks
	if held := c.held; held != nil && c.link != nil {
		c.held = nil
		c.playing = true
		select {
		case c.link.transport <- *held:
			log.Printf("Joining playback started before ready")
		default:
		}
	}
	c.recomputeLocked()
	c.mu.Unlock()
	c.changed()

	return c.send(protocol.UserReady{ParticipantID: c.id})
}

// adoptTransport applies the tempo and play state a joined session already has.
// Nothing is sent; the play waits for the ready barrier.
func (c *Coordinator) adoptTransport(resp *api.JoinResponse) {
	if resp.Tempo > 0 {
		bpm := c.engine.SetTempo(resp.Tempo)
		log.Printf("Session tempo %.1f BPM", bpm)
	}
	if resp.IsPlaying {
		c.mu.Lock()
		c.held = &protocol.PlaybackControl{IsPlaying: true, StartAt: resp.StartAt}
		c.mu.Unlock()
	}
}

// SelectStem assigns a catalog stem to slot and tells the others
func (c *Coordinator) SelectStem(ctx context.Context, slot stem.Category, stemID string) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	st, ok := c.selector.Lookup(stemID)
	if !ok {
		return fmt.Errorf("%s: %w", stemID, ErrUnknownStem)
	}
	return c.selector.Assign(ctx, slot, st, selector.Local)
}

// Play starts the shared transport
func (c *Coordinator) Play(ctx context.Context) error {
	if err := c.requireSession(); err != nil {
		return err
	}
	err := c.playback.Play(ctx, selector.Local)

	c.mu.Lock()
	c.playing = c.playback.State() == playback.Playing
	c.mu.Unlock()
	c.changed()
	return err
}

// Pause stops the shared transport
func (c *Coordinator) Pause() error {
	if err := c.requireSession(); err != nil {
		return err
	}
	c.mu.Lock()
	c.playing = false
	c.mu.Unlock()

	err := c.playback.Pause(selector.Local)
	c.changed()
	return err
}

// SetTempo applies a clamped tempo locally and shares it when in a session
func (c *Coordinator) SetTempo(bpm float64) (float64, error) {
	applied := c.engine.SetTempo(bpm)
	c.changed()

	if c.requireSession() != nil {
		return applied, nil
	}
	return applied, c.send(protocol.TempoChange{BPM: applied})
}

// SaveMashup stores the current assignments under name
func (c *Coordinator) SaveMashup(ctx context.Context, name string, public bool) (json.RawMessage, error) {
	slots := c.selector.Assignments()
	var ids []string
	for _, cat := range stem.Categories {
		if st, ok := slots[cat]; ok {
			ids = append(ids, st.ID)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("save mashup: no stems selected")
	}
	return c.config.API.SaveMashup(ctx, api.MashupRequest{Name: name, StemIDs: ids, IsPublic: public})
}

// LeaveSession leaves the session, releases every player and returns to Idle
func (c *Coordinator) LeaveSession() error {
	c.mu.Lock()
	if c.state == Idle {
		c.mu.Unlock()
		return nil
	}
	code := c.code
	c.mu.Unlock()

	err := c.detach(true)
	c.clearLocal()

	c.mu.Lock()
	c.state = Idle
	c.err = nil
	c.mu.Unlock()
	c.changed()

	log.Printf("Left session %s", code)
	return err
}

// begin moves Idle (or Error) to Joining
func (c *Coordinator) begin(confirm chan struct{}) error {
	c.mu.Lock()
	prev := c.state
	if prev != Idle && prev != Error {
		c.mu.Unlock()
		return ErrAlreadyInSession
	}
	c.state = Joining
	c.err = nil
	c.confirm = confirm
	c.mu.Unlock()

	if prev == Error {
		c.clearLocal()
	}
	c.changed()
	return nil
}

// rollback abandons a session entry and restores Idle
func (c *Coordinator) rollback(err error) error {
	c.detach(true)
	c.clearLocal()

	c.mu.Lock()
	c.state = Idle
	c.confirm = nil
	c.mu.Unlock()
	c.changed()

	log.Printf("Session entry rolled back: %v", err)
	return err
}

// enterLobby completes a session entry unless the channel was lost meanwhile
func (c *Coordinator) enterLobby() error {
	c.mu.Lock()
	if c.state != Joining {
		err := c.err
		c.mu.Unlock()
		if err == nil {
			err = ErrNotInSession
		}
		return err
	}
	c.state = InLobby
	c.confirm = nil
	c.recomputeLocked()
	c.mu.Unlock()
	c.changed()
	return nil
}

// fail ends the session with err
func (c *Coordinator) fail(err error) {
	c.detach(true)
	c.playback.Pause(selector.Remote)

	c.mu.Lock()
	c.state = Error
	c.err = err
	c.playing = false
	c.mu.Unlock()
	c.changed()

	log.Printf("Session failed: %v", err)
}

func (c *Coordinator) requireSession() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil || (c.state != InLobby && c.state != Active) {
		return ErrNotInSession
	}
	return nil
}

func (c *Coordinator) loadCatalog(ctx context.Context) {
	catalog, err := c.config.API.Catalog(ctx)
	if err != nil {
		log.Printf("Catalog fetch failed: %v", err)
		return
	}
	c.selector.SetCatalog(catalog)
	log.Printf("Catalog: %d stems", len(catalog))
}

// connect dials the channel, starts its loops and announces the local participant
func (c *Coordinator) connect(ctx context.Context, code string) (Channel, error) {
	ch, err := c.config.Dial(ctx, code, c.id)
	if err != nil {
		return nil, fmt.Errorf("connect to session %s: %w", code, err)
	}

	linkCtx, cancel := context.WithCancel(context.Background())
	l := &link{
		ch:        ch,
		ctx:       linkCtx,
		cancel:    cancel,
		jobs:      make(chan materializeJob, materializeQueue),
		transport: make(chan protocol.PlaybackControl, transportQueue),
	}

	c.mu.Lock()
	c.code = code
	c.link = l
	c.participants[c.id] = true
	c.mu.Unlock()

	go c.materializeLoop(l)
	go c.transportLoop(l)
	go c.readLoop(l)
	go c.timesync.Run(linkCtx, c.config.ClockSyncInterval, func(t1 int64) error {
		return ch.Send(protocol.ClientTime{ClientTransmitted: t1})
	})

	if err := ch.Send(protocol.JoinSession{ParticipantID: c.id}); err != nil {
		return ch, fmt.Errorf("send join-session: %w", err)
	}
	return ch, nil
}

// detach stops the link loops and closes the channel
func (c *Coordinator) detach(sendLeave bool) error {
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.mu.Unlock()

	if l == nil {
		return nil
	}
	l.cancel()
	if sendLeave {
		if err := l.ch.Send(protocol.LeaveSession{ParticipantID: c.id}); err != nil {
			log.Printf("Failed to send leave-session: %v", err)
		}
	}
	return l.ch.Close()
}

// clearLocal drops players, assignments, catalog and roster
func (c *Coordinator) clearLocal() {
	c.playback.Release()
	c.selector.Reset()

	c.mu.Lock()
	c.code = ""
	c.participants = make(map[string]bool)
	c.ready = make(map[string]bool)
	c.localReady = false
	c.playing = false
	c.held = nil
	c.mu.Unlock()
}

func (c *Coordinator) send(ev protocol.Event) error {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return ErrNotInSession
	}
	return l.ch.Send(ev)
}

func (c *Coordinator) emitSelection(ctx context.Context, slot stem.Category, st stem.Stem) error {
	return c.send(protocol.SelectStem{StemID: st.ID, Category: slot, Stem: &st})
}

func (c *Coordinator) emitPlayback(ctx context.Context, playing bool, at time.Time) error {
	ev := protocol.PlaybackControl{IsPlaying: playing}
	if playing && !at.IsZero() {
		ev.StartAt = c.timesync.ServerMicros(at)
	}
	return c.send(ev)
}

// readLoop processes inbound messages in arrival order
func (c *Coordinator) readLoop(l *link) {
	for {
		select {
		case <-l.ctx.Done():
			return
		case msg, ok := <-l.ch.Events():
			if !ok {
				c.lost(l)
				return
			}
			c.handle(l.ctx, msg)
		}
	}
}

// lost moves to Error when the channel ends without a local leave
func (c *Coordinator) lost(l *link) {
	c.mu.Lock()
	if c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil
	err := &ConnectivityError{SessionCode: c.code, Err: l.ch.Err()}
	c.state = Error
	c.err = err
	c.playing = false
	c.mu.Unlock()

	l.cancel()
	l.ch.Close()
	c.playback.Pause(selector.Remote)
	c.changed()

	log.Printf("%v", err)
}

func (c *Coordinator) materializeLoop(l *link) {
	for {
		select {
		case <-l.ctx.Done():
			return
		case job := <-l.jobs:
			if err := c.playback.Materialize(l.ctx, job.slot, job.stem); err != nil {
				log.Printf("Slot %s: %v", job.slot, err)
			}
		}
	}
}

// transportLoop applies remote play and pause in arrival order. A play can wait on
// slot loads, so it runs here rather than on the read loop.
func (c *Coordinator) transportLoop(l *link) {
	for {
		select {
		case <-l.ctx.Done():
			return
		case m := <-l.transport:
			c.applyTransport(l.ctx, m)
		}
	}
}

func (c *Coordinator) queueTransport(l *link, m protocol.PlaybackControl) {
	if l == nil {
		return
	}
	select {
	case l.transport <- m:
	case <-l.ctx.Done():
	}
}

func (c *Coordinator) handle(ctx context.Context, msg protocol.Message) {
	switch m := msg.Event.(type) {
	case protocol.ParticipantJoined:
		c.onParticipantJoined(m)
	case protocol.ParticipantLeft:
		c.onParticipantLeft(m)
	case protocol.UserReady:
		c.onUserReady(m.ParticipantID)
	case protocol.ReadyRosterUpdate:
		c.onReadyRoster(m.Ready)
	case protocol.SelectStem:
		if msg.From != c.id {
			c.onRemoteSelection(ctx, m.StemID, m.Category, m.Stem)
		}
	case protocol.StemSelected:
		if msg.From != c.id {
			c.onRemoteSelection(ctx, m.StemID, m.Category, m.Stem)
		}
	case protocol.PlaybackControl:
		if msg.From != c.id {
			c.onRemotePlayback(m)
		}
	case protocol.TempoChange:
		if msg.From != c.id {
			bpm := c.engine.SetTempo(m.BPM)
			log.Printf("Tempo %.1f BPM from %s", bpm, msg.From)
			c.changed()
		}
	case protocol.ServerTime:
		t4 := c.timesync.ClientMicros()
		c.timesync.ProcessSyncResponse(m.ClientTransmitted, m.ServerReceived, m.ServerTransmitted, t4)
	default:
		log.Printf("Ignoring %s from %s", msg.Event.Kind(), msg.From)
	}
}

func (c *Coordinator) onParticipantJoined(m protocol.ParticipantJoined) {
	c.mu.Lock()
	if len(m.Participants) > 0 {
		c.participants = setOf(m.Participants)
	}
	c.participants[m.ParticipantID] = true
	c.participants[c.id] = true
	c.pruneReadyLocked()
	if m.ParticipantID == c.id && c.confirm != nil {
		close(c.confirm)
		c.confirm = nil
	}
	c.recomputeLocked()
	c.mu.Unlock()

	log.Printf("Participant %s joined", m.ParticipantID)
	c.changed()
}

func (c *Coordinator) onParticipantLeft(m protocol.ParticipantLeft) {
	c.mu.Lock()
	if len(m.Participants) > 0 {
		c.participants = setOf(m.Participants)
	} else {
		delete(c.participants, m.ParticipantID)
	}
	c.participants[c.id] = true
	c.pruneReadyLocked()
	c.recomputeLocked()
	c.mu.Unlock()

	log.Printf("Participant %s left", m.ParticipantID)
	c.changed()
}

func (c *Coordinator) onUserReady(id string) {
	c.mu.Lock()
	if !c.participants[id] {
		c.mu.Unlock()
		log.Printf("Ignoring ready from unknown participant %s", id)
		return
	}
	c.ready[id] = true
	c.recomputeLocked()
	c.mu.Unlock()
	c.changed()
}

func (c *Coordinator) onReadyRoster(ids []string) {
	c.mu.Lock()
	c.ready = setOf(ids)
	c.pruneReadyLocked()
	c.recomputeLocked()
	c.mu.Unlock()
	c.changed()
}

func (c *Coordinator) onRemoteSelection(ctx context.Context, stemID string, category stem.Category, st *stem.Stem) {
	var s stem.Stem
	if st != nil {
		s = *st
	} else if found, ok := c.selector.Lookup(stemID); ok {
		s = found
	} else {
		log.Printf("Ignoring selection of unknown stem %s", stemID)
		return
	}
	c.remoteAssign(ctx, category, s)
}

// remoteAssign records a remote selection and queues its materialization
func (c *Coordinator) remoteAssign(ctx context.Context, category stem.Category, s stem.Stem) {
	slot, err := stem.ParseCategory(string(category))
	if err != nil {
		log.Printf("Ignoring selection: %v", err)
		return
	}
	if s.Category == "" {
		s.Category = slot
	}
	if err := c.selector.Assign(ctx, slot, s, selector.Remote); err != nil {
		log.Printf("Ignoring selection: %v", err)
		return
	}

	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return
	}
	select {
	case l.jobs <- materializeJob{slot: slot, stem: s}:
	case <-l.ctx.Done():
	}
}

func (c *Coordinator) onRemotePlayback(m protocol.PlaybackControl) {
	c.mu.Lock()
	if !c.localReady {
		c.held = nil
		if m.IsPlaying {
			if m.StartAt == 0 {
				m.StartAt = c.timesync.ServerMicros(c.engine.Now().Add(c.engine.StartLatency()))
			}
			c.held = &m
		}
		c.mu.Unlock()
		log.Printf("Holding playback-control until ready")
		return
	}
	c.playing = m.IsPlaying
	l := c.link
	c.mu.Unlock()

	c.queueTransport(l, m)
}

func (c *Coordinator) applyTransport(ctx context.Context, m protocol.PlaybackControl) {
	if m.IsPlaying {
		var at time.Time
		if m.StartAt > 0 {
			at = c.timesync.ServerToLocalTime(m.StartAt)
		}
		if err := c.playback.PlayAt(ctx, selector.Remote, at); err != nil {
			log.Printf("Remote play: %v", err)
		}
	} else {
		c.playback.Pause(selector.Remote)
	}
	c.changed()
}

// pruneReadyLocked keeps the ready set inside the roster
func (c *Coordinator) pruneReadyLocked() {
	for id := range c.ready {
		if !c.participants[id] {
			delete(c.ready, id)
		}
	}
	if c.localReady {
		c.ready[c.id] = true
	}
}

func (c *Coordinator) allReadyLocked() bool {
	return len(c.participants) > 0 && len(c.ready) == len(c.participants)
}

// recomputeLocked moves between InLobby and Active as readiness changes
func (c *Coordinator) recomputeLocked() {
	if c.state != InLobby && c.state != Active {
		return
	}
	if c.allReadyLocked() {
		if c.state != Active {
			log.Printf("All %d participants ready", len(c.participants))
		}
		c.state = Active
		return
	}
	c.state = InLobby
}

func (c *Coordinator) changed() {
	c.mu.Lock()
	observers := append([]func(Snapshot){}, c.observers...)
	c.mu.Unlock()
	if len(observers) == 0 {
		return
	}

	snap := c.Snapshot()
	for _, fn := range observers {
		fn(snap)
	}
}

func setOf(ids []string) map[string]bool {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			out[id] = true
		}
	}
	return out
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
