package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/medsafe-analysis-server/internal/domain"
)

// DefaultBufferSize is the number of events queued before Emit starts dropping
const DefaultBufferSize = 256

// DispatcherStats represents audit dispatcher counters
type DispatcherStats struct {
	Emitted int64 `json:"emitted"`
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// Dispatcher queues audit events and writes them to a sink from a single
// background worker. Emit never blocks the request path; when the queue is
// full the event is dropped and counted.
type Dispatcher struct {
	sink        Sink
	events      chan *domain.AuditEvent
	saveTimeout time.Duration
	logger      *logrus.Logger
	now         func() time.Time

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	stats   DispatcherStats
	statsMu sync.Mutex
}

// NewDispatcher starts a dispatcher writing to sink
func NewDispatcher(sink Sink, bufferSize int, logger *logrus.Logger) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	d := &Dispatcher{
		sink:        sink,
		events:      make(chan *domain.AuditEvent, bufferSize),
		saveTimeout: 5 * time.Second,
		logger:      logger,
		now:         time.Now,
		done:        make(chan struct{}),
	}
	go d.run()
	return d
}

// Emit queues an event. Metadata is scrubbed of patient-identifying keys.
func (d *Dispatcher) Emit(event string, metadata map[string]interface{}) {
	ev := &domain.AuditEvent{
		ID:         uuid.NewString(),
		Event:      event,
		Metadata:   Scrub(metadata),
		RecordedAt: d.now().UTC(),
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.incrementStat(func(s *DispatcherStats) { s.Dropped++ })
		return
	}

	select {
	case d.events <- ev:
		d.incrementStat(func(s *DispatcherStats) { s.Emitted++ })
	default:
		d.incrementStat(func(s *DispatcherStats) { s.Dropped++ })
		d.logger.WithField("audit_event", event).Warn("Audit queue full, dropping event")
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)

	for ev := range d.events {
		ctx, cancel := context.WithTimeout(context.Background(), d.saveTimeout)
		err := d.sink.Save(ctx, ev)
		cancel()

		if err != nil {
			d.incrementStat(func(s *DispatcherStats) { s.Failed++ })
			d.logger.WithFields(logrus.Fields{
				"audit_id":    ev.ID,
				"audit_event": ev.Event,
				"error":       err.Error(),
			}).Error("Failed to write audit event")
			continue
		}
		d.incrementStat(func(s *DispatcherStats) { s.Written++ })
	}
}

// Close stops accepting events, drains the queue and closes the sink. It
// returns ctx.Err() if the queue does not drain in time.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.events)
	d.mu.Unlock()

	select {
	case <-d.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return d.sink.Close()
}

// Pending returns the number of queued events
func (d *Dispatcher) Pending() int {
	return len(d.events)
}

// GetStats returns dispatcher statistics
func (d *Dispatcher) GetStats() DispatcherStats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}

func (d *Dispatcher) incrementStat(update func(s *DispatcherStats)) {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	update(&d.stats)
}
