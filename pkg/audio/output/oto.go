// ABOUTME: Oto-based audio output implementation
// ABOUTME: Pulls float32 stereo from a renderer through a single process-wide oto context
package output

import (
	"encoding/binary"
	"fmt"
	"log"
	"math"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// oto only allows one context per process
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoRate int
	otoErr  error
)

func sharedContext(sampleRate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		op := &oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 2,
			Format:       oto.FormatFloat32LE,
		}

		ctx, ready, err := oto.NewContext(op)
		if err != nil {
			otoErr = fmt.Errorf("failed to create oto context: %w", err)
			return
		}
		<-ready

		otoCtx = ctx
		otoRate = sampleRate
		log.Printf("Audio output initialized: %dHz, 2 channels", sampleRate)
	})

	if otoErr != nil {
		return nil, otoErr
	}
	if otoRate != sampleRate {
		log.Printf("Warning: oto context already running at %dHz, ignoring requested %dHz", otoRate, sampleRate)
	}
	return otoCtx, nil
}

// Oto output implementation using oto library
type Oto struct {
	mu       sync.Mutex
	ctx      *oto.Context
	player   *oto.Player
	renderer Renderer
	scratch  []float32
	closed   bool
}

// NewOto creates a new Oto output
func NewOto(sampleRate int) (*Oto, error) {
	ctx, err := sharedContext(sampleRate)
	if err != nil {
		return nil, err
	}
	if err := ctx.Resume(); err != nil {
		return nil, fmt.Errorf("failed to resume oto context: %w", err)
	}
	return &Oto{ctx: ctx}, nil
}

// Start begins pulling audio from r
func (o *Oto) Start(r Renderer) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("output closed")
	}
	if o.player != nil {
		return fmt.Errorf("output already started")
	}

	o.renderer = r
	o.player = o.ctx.NewPlayer(o)
	o.player.Play()
	return nil
}

// Read implements io.Reader for the oto player
func (o *Oto) Read(p []byte) (int, error) {
	numSamples := len(p) / 4
	if cap(o.scratch) < numSamples {
		o.scratch = make([]float32, numSamples)
	}
	samples := o.scratch[:numSamples]

	for i := range samples {
		samples[i] = 0
	}
	if o.renderer != nil {
		o.renderer.Render(samples)
	}

	for i, s := range samples {
		binary.LittleEndian.PutUint32(p[i*4:], math.Float32bits(s))
	}
	return numSamples * 4, nil
}

// SampleRate returns the device rate
func (o *Oto) SampleRate() int {
	return otoRate
}

// Close releases output resources
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true

	var err error
	if o.player != nil {
		err = o.player.Close()
		o.player = nil
	}
	if suspendErr := o.ctx.Suspend(); suspendErr != nil && err == nil {
		err = suspendErr
	}
	return err
}
