package speech

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "smartkart_speech_queue_depth",
	Help: "Announcements waiting to be spoken",
})

// DefaultTranscriptSize is how many utterances a Queue remembers
const DefaultTranscriptSize = 50

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Utterance is one announcement handed to the queue
type Utterance struct {
	Text     string    `json:"text"`
	Priority bool      `json:"priority"`
	QueuedAt time.Time `json:"queued_at"`
}

type request struct {
	utterance Utterance
	done      chan struct{}
}

// Queue speaks announcements one at a time on a single worker. Priority
// text goes to the front of the queue but never cuts off the utterance
// already playing; only Stop does that.
type Queue struct {
	engine     Engine
	timeSource TimeSource
	ctx        context.Context
	cancel     context.CancelFunc
	wake       chan struct{}
	done       chan struct{}
	stopped    chan struct{}

	mu         sync.Mutex
	pending    []request
	current    context.CancelFunc
	closed     bool
	transcript []Utterance
	size       int
}

// NewQueue starts a Queue over engine
func NewQueue(engine Engine, transcriptSize int) *Queue {
	return NewQueueWithDeps(engine, transcriptSize, &defaultTimeSource{})
}

// NewQueueWithDeps starts a Queue with a custom time source for testing
func NewQueueWithDeps(engine Engine, transcriptSize int, timeSrc TimeSource) *Queue {
	if transcriptSize <= 0 {
		transcriptSize = DefaultTranscriptSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		engine:     engine,
		timeSource: timeSrc,
		ctx:        ctx,
		cancel:     cancel,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		size:       transcriptSize,
	}
	go q.run()
	return q
}

// SpeakAsync queues text and returns immediately
func (q *Queue) SpeakAsync(text string, priority bool) {
	q.enqueue(text, priority, nil)
}

// Speak queues text and blocks until it has been spoken or dropped
func (q *Queue) Speak(text string) {
	done := make(chan struct{})
	if q.enqueue(text, false, done) {
		<-done
	}
}

func (q *Queue) enqueue(text string, priority bool, done chan struct{}) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		slog.Warn("Dropping announcement after close", "text", text)
		return false
	}
	req := request{
		utterance: Utterance{Text: text, Priority: priority, QueuedAt: q.timeSource.Now()},
		done:      done,
	}
	if priority {
		q.pending = append([]request{req}, q.pending...)
	} else {
		q.pending = append(q.pending, req)
	}
	q.transcript = append(q.transcript, req.utterance)
	if len(q.transcript) > q.size {
		q.transcript = q.transcript[len(q.transcript)-q.size:]
	}
	q.mu.Unlock()
	queueDepth.Set(float64(q.Len()))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// pop takes the next request and a context that Stop cancels
func (q *Queue) pop() (request, context.Context, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.pending) == 0 {
		return request{}, nil, false
	}
	req := q.pending[0]
	q.pending = q.pending[1:]
	ctx, cancel := context.WithCancel(q.ctx)
	q.current = cancel
	return req, ctx, true
}

func (q *Queue) finish(req request) {
	q.mu.Lock()
	if q.current != nil {
		q.current()
		q.current = nil
	}
	q.mu.Unlock()
	if req.done != nil {
		close(req.done)
	}
}

func (q *Queue) run() {
	defer close(q.stopped)
	for {
		req, ctx, ok := q.pop()
		if !ok {
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		queueDepth.Set(float64(q.Len()))
		if err := q.engine.Say(ctx, req.utterance.Text); err != nil && ctx.Err() == nil {
			slog.Error("Failed to speak", "text", req.utterance.Text, "error", err)
		}
		q.finish(req)
	}
}

// Stop cuts off the utterance being spoken and drops everything queued
func (q *Queue) Stop() {
	q.mu.Lock()
	dropped := q.pending
	q.pending = nil
	if q.current != nil {
		q.current()
	}
	q.mu.Unlock()
	queueDepth.Set(0)

	for _, req := range dropped {
		if req.done != nil {
			close(req.done)
		}
	}
	if len(dropped) > 0 {
		slog.Debug("Dropped queued announcements", "count", len(dropped))
	}
}

// Len returns the number of utterances waiting to be spoken
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Recent returns up to n of the latest queued utterances, oldest first
func (q *Queue) Recent(n int) []Utterance {
	q.mu.Lock()
	defer q.mu.Unlock()
	if n <= 0 || n > len(q.transcript) {
		n = len(q.transcript)
	}
	return append([]Utterance(nil), q.transcript[len(q.transcript)-n:]...)
}

// Close stops the worker and drops anything still queued
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	dropped := q.pending
	q.pending = nil
	q.mu.Unlock()
	queueDepth.Set(0)

	for _, req := range dropped {
		if req.done != nil {
			close(req.done)
		}
	}
	close(q.done)
	q.cancel()
	<-q.stopped
	return nil
}
