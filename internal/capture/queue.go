package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zombor/smartkart/internal/scanning"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "smartkart_frame_queue_depth",
		Help: "Frames waiting to be decoded",
	})

	framesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartkart_frames_dropped_total",
		Help: "Frames rejected because the capture loop was behind; the verifier never sees them",
	})
)

var (
	// ErrQueueFull is returned by Push when the capture loop is behind
	ErrQueueFull = errors.New("frame queue is full")
	// ErrQueueClosed is returned once the queue has been closed
	ErrQueueClosed = errors.New("frame queue is closed")
)

// FrameSource defines the interface the capture loop pulls frames from
type FrameSource interface {
	// Next blocks until a frame is available or ctx is done
	Next(ctx context.Context) (scanning.Frame, error)
}

// Queue is a bounded FIFO of frames. Producers never block: a full queue
// rejects the new frame so the loop always works on recent images.
type Queue struct {
	frames chan scanning.Frame
	seq    atomic.Uint64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewQueue creates a Queue holding at most size frames
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 8
	}
	return &Queue{
		frames: make(chan scanning.Frame, size),
		done:   make(chan struct{}),
	}
}

// Push enqueues a frame, stamping its sequence number and capture time
func (q *Queue) Push(frame scanning.Frame) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	frame.Seq = q.seq.Add(1)
	if frame.CapturedAt.IsZero() {
		frame.CapturedAt = time.Now()
	}

	select {
	case q.frames <- frame:
		queueDepth.Set(float64(q.Len()))
		return nil
	default:
		framesDropped.Inc()
		return ErrQueueFull
	}
}

// Next returns the oldest queued frame
func (q *Queue) Next(ctx context.Context) (scanning.Frame, error) {
	select {
	case frame := <-q.frames:
		queueDepth.Set(float64(q.Len()))
		return frame, nil
	case <-q.done:
		return scanning.Frame{}, ErrQueueClosed
	case <-ctx.Done():
		return scanning.Frame{}, ctx.Err()
	}
}

// Len reports how many frames are waiting
func (q *Queue) Len() int {
	return len(q.frames)
}

// Close stops accepting frames and wakes any blocked Next
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}
