package capture

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zombor/smartkart/internal/product"
	"github.com/zombor/smartkart/internal/scanning"
)

var (
	decodeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartkart_decode_errors_total",
		Help: "Frames the barcode decoder failed on",
	})

	resolveDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "smartkart_resolve_duration_seconds",
		Help:    "Product lookups for verified scans",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	verifierHits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "smartkart_verifier_consecutive_hits",
		Help: "Consecutive frames the current barcode candidate has been seen in",
	})

	verifierMisses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "smartkart_verifier_consecutive_misses",
		Help: "Consecutive frames without any detection",
	})
)

// ScanHandler receives the outcome of resolving a verified scan
type ScanHandler interface {
	OnScanResult(barcode string, p *product.Product, lookupErr error)
}

// Loop pulls frames, decodes them, runs the verifier and resolves every
// verified scan before handing it to the session. It is the only goroutine
// touching the verifier.
type Loop struct {
	source   FrameSource
	decoder  scanning.Decoder
	verifier *scanning.Verifier
	resolver product.Resolver
	handler  ScanHandler
}

// NewLoop creates a capture Loop
func NewLoop(source FrameSource, decoder scanning.Decoder, verifier *scanning.Verifier, resolver product.Resolver, handler ScanHandler) *Loop {
	return &Loop{
		source:   source,
		decoder:  decoder,
		verifier: verifier,
		resolver: resolver,
		handler:  handler,
	}
}

// Run processes frames until ctx is done or the source is closed
func (l *Loop) Run(ctx context.Context) error {
	slog.Info("Capture loop started")
	for {
		frame, err := l.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, ErrQueueClosed) {
				slog.Info("Capture loop stopped")
				return nil
			}
			slog.Warn("Failed to get frame", "error", err)
			continue
		}
		l.processFrame(ctx, frame)
	}
}

// processFrame handles one frame. A decoder failure counts as a frame with
// no detections.
func (l *Loop) processFrame(ctx context.Context, frame scanning.Frame) {
	detections, err := l.decoder.Decode(ctx, frame)
	if err != nil {
		decodeErrors.Inc()
		slog.Warn("Failed to decode frame", "seq", frame.Seq, "error", err)
		detections = nil
	}

	scan := l.verifier.Observe(detections)
	state := l.verifier.State()
	verifierHits.Set(float64(state.ConsecutiveHits))
	verifierMisses.Set(float64(state.ConsecutiveMisses))
	if scan == nil {
		return
	}

	slog.Info("Verified barcode", "barcode", scan.Text, "symbology", scan.Symbology, "seq", frame.Seq)
	p, err := l.resolve(ctx, scan.Text)
	if err != nil {
		slog.Error("Failed to resolve barcode", "barcode", scan.Text, "error", err)
	}
	l.handler.OnScanResult(scan.Text, p, err)
}

func (l *Loop) resolve(ctx context.Context, barcode string) (*product.Product, error) {
	start := time.Now()
	p, err := l.resolver.Resolve(ctx, barcode)

	result := "found"
	switch {
	case err != nil:
		result = "error"
	case p == nil || !p.Found:
		result = "not_found"
	}
	resolveDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())
	return p, err
}
