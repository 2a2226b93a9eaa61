package stats

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/togglebox/togglebox/pkg/logger"
	"github.com/togglebox/togglebox/pkg/model"
)

const (
	defaultCapacity      = 4096
	defaultFlushInterval = 5 * time.Second
	defaultFlushBatch    = 256
)

// Queue is a bounded, drop-oldest event buffer implementing Sink. Enqueue
// never blocks: under sustained overload the oldest unflushed events are
// discarded. A background goroutine flushes batches to the Recorder.
type Queue struct {
	mu      sync.Mutex
	events  []Event
	dropped uint64

	capacity      int
	flushInterval time.Duration
	recorder      Recorder
	log           *logger.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// QueueOption customises a Queue.
type QueueOption func(*Queue)

func WithCapacity(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.capacity = n
		}
	}
}

func WithFlushInterval(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.flushInterval = d
		}
	}
}

// NewQueue starts a queue flushing to the given recorder.
func NewQueue(recorder Recorder, opts ...QueueOption) *Queue {
	q := &Queue{
		capacity:      defaultCapacity,
		flushInterval: defaultFlushInterval,
		recorder:      recorder,
		log:           logger.New("stats"),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.run()
	return q
}

func (q *Queue) TrackFlagEvaluation(flagKey string, servedValue model.Serve, userID, country, language string) {
	q.enqueue(Event{
		Type:     EventFlagEvaluation,
		UserID:   userID,
		Key:      flagKey,
		Variant:  string(servedValue),
		Country:  country,
		Language: language,
	})
}

func (q *Queue) TrackExperimentExposure(experimentKey, variationKey, userID string) {
	q.enqueue(Event{
		Type:    EventExperimentExposure,
		UserID:  userID,
		Key:     experimentKey,
		Variant: variationKey,
	})
}

func (q *Queue) TrackConversion(experimentKey, metricID, variationKey, userID string, value *float64) {
	q.enqueue(Event{
		Type:     EventConversion,
		UserID:   userID,
		Key:      experimentKey,
		Variant:  variationKey,
		MetricID: metricID,
		Value:    value,
	})
}

func (q *Queue) TrackEvent(eventName, userID string, data map[string]interface{}) {
	q.enqueue(Event{
		Type:      EventCustom,
		UserID:    userID,
		EventName: eventName,
		Data:      data,
	})
}

func (q *Queue) enqueue(ev Event) {
	ev.ID = uuid.NewString()
	ev.Timestamp = time.Now().UTC()

	q.mu.Lock()
	if len(q.events) >= q.capacity {
		// drop-oldest under overload
		over := len(q.events) - q.capacity + 1
		q.events = q.events[over:]
		q.dropped += uint64(over)
	}
	q.events = append(q.events, ev)
	q.mu.Unlock()
}

// Dropped returns the number of events discarded so far.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Len returns the number of buffered events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

func (q *Queue) run() {
	defer close(q.done)
	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			q.Flush(context.Background())
		case <-q.stop:
			q.Flush(context.Background())
			return
		}
	}
}

// Flush drains the buffer, delivering batches to the recorder. Delivery
// errors are logged and swallowed; the affected batch is dropped rather than
// retried, keeping memory bounded.
func (q *Queue) Flush(ctx context.Context) {
	for {
		q.mu.Lock()
		if len(q.events) == 0 {
			q.mu.Unlock()
			return
		}
		n := len(q.events)
		if n > defaultFlushBatch {
			n = defaultFlushBatch
		}
		batch := make([]Event, n)
		copy(batch, q.events[:n])
		q.events = q.events[n:]
		q.mu.Unlock()

		if err := q.recorder.Record(ctx, batch); err != nil {
			q.log.Errorf("failed to record %d events: %v", len(batch), err)
		}
	}
}

// Close flushes remaining events and stops the background flusher.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.stop) })
	<-q.done
}
