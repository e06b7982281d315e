package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/session"
	"go.uber.org/zap"
)

// Mirror copies session events to a Redis stream. Observe never blocks the
// session: events are queued and published by a single worker, and dropped
// when the queue is full.
type Mirror struct {
	pub     *Publisher
	stream  string
	maxLen  int64
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.RWMutex
	closed  bool
	queue   chan session.Event
	dropped atomic.Int64
	wg      sync.WaitGroup
}

// MirrorOption configures a Mirror.
type MirrorOption func(*Mirror)

func WithBuffer(n int) MirrorOption {
	return func(m *Mirror) {
		if n > 0 {
			m.queue = make(chan session.Event, n)
		}
	}
}

func WithPublishTimeout(d time.Duration) MirrorOption {
	return func(m *Mirror) {
		if d > 0 {
			m.timeout = d
		}
	}
}

func WithMirrorLogger(l *zap.Logger) MirrorOption {
	return func(m *Mirror) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewMirror starts the publishing worker. Call Close to flush and stop it.
func NewMirror(pub *Publisher, stream string, maxLen int64, opts ...MirrorOption) *Mirror {
	m := &Mirror{
		pub:     pub,
		stream:  stream,
		maxLen:  maxLen,
		timeout: 2 * time.Second,
		logger:  zap.NewNop(),
		queue:   make(chan session.Event, 256),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("events")
	m.wg.Add(1)
	go m.loop()
	return m
}

// Observe is a session.Observer.
func (m *Mirror) Observe(e session.Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		m.dropped.Add(1)
		return
	}
	select {
	case m.queue <- e:
	default:
		if m.dropped.Add(1)%100 == 1 {
			m.logger.Warn("event mirror queue full, dropping events", zap.Int64("dropped", m.dropped.Load()))
		}
	}
}

// Dropped is the number of events that were not queued.
func (m *Mirror) Dropped() int64 { return m.dropped.Load() }

// Close stops accepting events and waits until the queue is drained.
func (m *Mirror) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

func (m *Mirror) loop() {
	defer m.wg.Done()
	for e := range m.queue {
		m.publish(e)
	}
}

func (m *Mirror) publish(e session.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	if _, err := m.pub.Publish(ctx, m.stream, FromEvent(e), WithMaxLenApprox(m.maxLen)); err != nil {
		m.logger.Warn("publish session event", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}
