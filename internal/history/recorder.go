package history

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/sectionlock/internal/collab"
	"github.com/charlesng35/sectionlock/pkg/logger"
	"github.com/charlesng35/sectionlock/pkg/metrics"
)

const (
	defaultBufferSize = 1024
	defaultBatchSize  = 64
	writeTimeout      = 5 * time.Second
)

// Recorder is an asynchronous collab.EventRecorder. Record never blocks: events
// are queued on a bounded buffer and written in batches by a single goroutine.
// When the buffer is full the event is dropped and a warning logged.
type Recorder struct {
	store *Store
	log   *zap.Logger

	mu     sync.RWMutex
	closed bool
	events chan collab.LockEvent
	done   chan struct{}

	batchSize int
}

// RecorderOption customises a Recorder.
type RecorderOption func(*Recorder)

// WithBufferSize sets the queue capacity.
func WithBufferSize(size int) RecorderOption {
	return func(r *Recorder) {
		if size > 0 {
			r.events = make(chan collab.LockEvent, size)
		}
	}
}

// WithBatchSize caps how many queued events are written per insert.
func WithBatchSize(size int) RecorderOption {
	return func(r *Recorder) {
		if size > 0 {
			r.batchSize = size
		}
	}
}

// NewRecorder starts a recorder writing to store.
func NewRecorder(store *Store, opts ...RecorderOption) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("history recorder: store is required")
	}

	r := &Recorder{
		store:     store,
		log:       logger.WithModule("history"),
		events:    make(chan collab.LockEvent, defaultBufferSize),
		done:      make(chan struct{}),
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.run()
	return r, nil
}

// Record queues an event for persistence.
func (r *Recorder) Record(event collab.LockEvent) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		metrics.HistoryEvents.WithLabelValues("dropped").Inc()
		return
	}

	select {
	case r.events <- event:
	default:
		metrics.HistoryEvents.WithLabelValues("dropped").Inc()
		r.log.Warn("lock history buffer full, dropping event",
			zap.String("document_id", event.DocumentID),
			zap.String("section", event.SectionID),
			zap.String("action", event.Action),
		)
	}
}

// Close stops accepting events and waits for queued events to be written or for
// ctx to expire.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) run() {
	defer close(r.done)

	batch := make([]collab.LockEvent, 0, r.batchSize)
	for event := range r.events {
		batch = append(batch[:0], event)
	drain:
		for len(batch) < r.batchSize {
			select {
			case next, ok := <-r.events:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}
		r.flush(batch)
	}
}

func (r *Recorder) flush(batch []collab.LockEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.Save(ctx, batch...); err != nil {
		metrics.HistoryEvents.WithLabelValues("failed").Add(float64(len(batch)))
		r.log.Error("persist lock history failed", zap.Int("events", len(batch)), zap.Error(err))
		return
	}
	metrics.HistoryEvents.WithLabelValues("persisted").Add(float64(len(batch)))
}
