// ABOUTME: Clock synchronization against the relay with drift compensation
// ABOUTME: Converts relay timestamps in playback-control messages to local instants
package timesync

import (
	"context"
	"log"
	"sync"
	"time"
)

// Quality represents sync quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	}
	return "lost"
}

const (
	maxRTTMicros      = 100000
	maxResidualMicros = 50000
	degradedRTTMicros = 50000
	staleAfter        = 5 * time.Second
)

// ClockSync tracks offset and drift between the local clock and the relay clock
type ClockSync struct {
	mu             sync.RWMutex
	now            func() time.Time
	offset         int64   // server - client, microseconds
	drift          float64 // dimensionless μs/μs
	rtt            int64
	quality        Quality
	lastSync       time.Time
	lastSyncMicros int64 // client time of the last accepted sample
	sampleCount    int
	smoothingRate  float64
}

// NewClockSync creates a synchronizer. now may be nil for the wall clock.
func NewClockSync(now func() time.Time) *ClockSync {
	if now == nil {
		now = time.Now
	}
	return &ClockSync{
		now:           now,
		smoothingRate: 0.1,
		quality:       QualityLost,
	}
}

// ClientMicros returns the local clock in Unix microseconds
func (cs *ClockSync) ClientMicros() int64 {
	return cs.now().UnixMicro()
}

// ProcessSyncResponse folds one round trip (client send, server receive, server send, client receive) into the estimate
func (cs *ClockSync) ProcessSyncResponse(t1, t2, t3, t4 int64) {
	rtt, measuredOffset := calculateOffset(t1, t2, t3, t4)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.rtt = rtt
	cs.lastSync = cs.now()

	if rtt < 0 || rtt > maxRTTMicros {
		log.Printf("Discarding sync sample: rtt %dμs", rtt)
		return
	}

	switch cs.sampleCount {
	case 0:
		cs.offset = measuredOffset
		cs.lastSyncMicros = t4
		cs.sampleCount++
		cs.quality = QualityGood
		log.Printf("Initial sync: offset=%dμs, rtt=%dμs", cs.offset, rtt)
		return

	case 1:
		if dt := float64(t4 - cs.lastSyncMicros); dt > 0 {
			cs.drift = float64(measuredOffset-cs.offset) / dt
		}
		cs.offset = measuredOffset
		cs.lastSyncMicros = t4
		cs.sampleCount++
		cs.quality = QualityGood
		return
	}

	dt := float64(t4 - cs.lastSyncMicros)
	if dt <= 0 {
		log.Printf("Discarding sync sample: non-monotonic time")
		return
	}

	predicted := cs.offset + int64(cs.drift*dt)
	residual := measuredOffset - predicted
	if residual > maxResidualMicros || residual < -maxResidualMicros {
		log.Printf("Discarding sync sample: large residual %dμs", residual)
		return
	}

	// fixed-gain Kalman style update of offset and drift
	cs.offset = predicted + int64(cs.smoothingRate*float64(residual))
	cs.drift += cs.smoothingRate * float64(residual) / dt
	cs.lastSyncMicros = t4
	cs.sampleCount++

	if rtt < degradedRTTMicros {
		cs.quality = QualityGood
	} else {
		cs.quality = QualityDegraded
	}
}

// calculateOffset computes RTT and clock offset
func calculateOffset(t1, t2, t3, t4 int64) (rtt, offset int64) {
	rtt = (t4 - t1) - (t3 - t2)
	offset = ((t2 - t1) + (t3 - t4)) / 2
	return
}

// Synced reports whether at least one sample was accepted
func (cs *ClockSync) Synced() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.sampleCount > 0
}

// Stats returns offset, rtt and quality
func (cs *ClockSync) Stats() (offset, rtt int64, quality Quality) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.offset, cs.rtt, cs.quality
}

// CheckQuality marks the estimate lost when no sample arrived recently
func (cs *ClockSync) CheckQuality() Quality {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.sampleCount > 0 && cs.now().Sub(cs.lastSync) > staleAfter {
		cs.quality = QualityLost
	}
	return cs.quality
}

// ServerMicros converts a local instant to relay microseconds
func (cs *ClockSync) ServerMicros(local time.Time) int64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	client := local.UnixMicro()
	if cs.sampleCount == 0 {
		return client
	}
	return client + cs.offset + int64(cs.drift*float64(client-cs.lastSyncMicros))
}

// ServerToLocalTime converts relay microseconds to a local instant
func (cs *ClockSync) ServerToLocalTime(serverMicros int64) time.Time {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if cs.sampleCount == 0 {
		return time.UnixMicro(serverMicros)
	}

	// server = client + offset + drift*(client - last), solved for client
	numerator := float64(serverMicros) - float64(cs.offset) + cs.drift*float64(cs.lastSyncMicros)
	return time.UnixMicro(int64(numerator / (1.0 + cs.drift)))
}

// Run sends a sync request immediately and then every interval until ctx is done
func (cs *ClockSync) Run(ctx context.Context, interval time.Duration, send func(clientTransmitted int64) error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := send(cs.ClientMicros()); err != nil {
			log.Printf("Time sync request failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cs.CheckQuality()
		}
	}
}
