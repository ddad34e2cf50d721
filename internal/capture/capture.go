// Package capture runs the periodic screenshot loops that stream the desktop
// to attached connections.
package capture

import (
	"context"
	"log"
	"sync"
	"time"

	"deskpilot/internal/wire"
)

// DefaultInterval is how often a loop captures the screen.
const DefaultInterval = 3 * time.Second

// Source grabs the screen. Satisfied by automation.Provider.
type Source interface {
	Capture(ctx context.Context) ([]byte, error)
}

// Sink receives the output of one connection's loop. SendFrame gets encoded
// binary frames; SendError gets capture failures, which do not stop the loop.
type Sink struct {
	SendFrame  func(frame []byte) error
	SendError  func(err error)
	OnCaptured func(at time.Time)
}

// Manager owns one loop per streaming connection, keyed by connection id.
// Every attach replaces any previous loop for that connection, and every
// detach path tears the loop down deterministically.
type Manager struct {
	source   Source
	interval time.Duration

	mu    sync.Mutex
	loops map[string]*loop
}

type loop struct {
	cancel chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (l *loop) stop() {
	l.once.Do(func() { close(l.cancel) })
	<-l.done
}

// NewManager creates a Manager capturing from source every interval.
func NewManager(source Source, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Manager{
		source:   source,
		interval: interval,
		loops:    make(map[string]*loop),
	}
}

// Attach starts (or restarts) the loop for a connection. With immediate set,
// one capture is sent before the first tick, used on resume so a rejoining
// client sees the screen right away.
func (m *Manager) Attach(connID string, immediate bool, sink Sink) {
	l := &loop{
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}

	// Any previous loop is removed from the map before its stop, and the
	// new loop is only inserted once no entry remains. A concurrent Detach
	// can then never observe a loop that outlives it.
	m.mu.Lock()
	for {
		prev, ok := m.loops[connID]
		if !ok {
			break
		}
		delete(m.loops, connID)
		m.mu.Unlock()
		prev.stop()
		m.mu.Lock()
	}
	m.loops[connID] = l
	m.mu.Unlock()

	go m.run(connID, l, immediate, sink)
}

// Detach stops the loop for a connection, if any. Safe to call repeatedly.
func (m *Manager) Detach(connID string) {
	m.mu.Lock()
	l, ok := m.loops[connID]
	if ok {
		delete(m.loops, connID)
	}
	m.mu.Unlock()

	if ok {
		l.stop()
	}
}

// DetachAll stops every loop. Used on session accept and shutdown.
func (m *Manager) DetachAll() {
	m.mu.Lock()
	loops := make([]*loop, 0, len(m.loops))
	for id, l := range m.loops {
		loops = append(loops, l)
		delete(m.loops, id)
	}
	m.mu.Unlock()

	for _, l := range loops {
		l.stop()
	}
}

// Active reports whether a loop is running for the connection.
func (m *Manager) Active(connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loops[connID]
	return ok
}

// run executes one loop until cancelled. Captures are sequential within a
// loop, so a slow capture can never interleave two writes on the same
// connection; it just delays the next tick.
func (m *Manager) run(connID string, l *loop, immediate bool, sink Sink) {
	defer close(l.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	if immediate {
		if !m.captureOnce(connID, l, sink) {
			return
		}
	}

	for {
		select {
		case <-l.cancel:
			return
		case <-ticker.C:
			if !m.captureOnce(connID, l, sink) {
				return
			}
		}
	}
}

// captureOnce performs a single capture and delivery. Returns false when the
// loop should stop (cancellation or a dead connection).
func (m *Manager) captureOnce(connID string, l *loop, sink Sink) bool {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		select {
		case <-l.cancel:
			cancel()
		case <-ctx.Done():
		}
	}()

	image, err := m.source.Capture(ctx)
	if err != nil {
		select {
		case <-l.cancel:
			return false
		default:
		}
		log.Printf("capture: connection %s: %v", connID, err)
		if sink.SendError != nil {
			sink.SendError(err)
		}
		return true
	}

	select {
	case <-l.cancel:
		return false
	default:
	}

	at := time.Now()
	frame := wire.EncodeScreenshot(at.UnixMilli(), image)
	if err := sink.SendFrame(frame); err != nil {
		log.Printf("capture: connection %s: send failed: %v", connID, err)
		return false
	}
	if sink.OnCaptured != nil {
		sink.OnCaptured(at)
	}
	return true
}
