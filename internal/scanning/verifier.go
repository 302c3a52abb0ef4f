package scanning

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	DefaultMinConsecutiveHits   = 3
	DefaultMaxNoDetectionFrames = 5
	DefaultBarcodeTimeout       = 5 * time.Second
)

var (
	framesObserved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "smartkart_frames_observed_total",
		Help: "Frames passed through the scan verifier, by whether any barcode was detected",
	}, []string{"detected"})

	scansVerified = promauto.NewCounter(prometheus.CounterOpts{
		Name: "smartkart_scans_verified_total",
		Help: "Verified scan events emitted by the scan verifier",
	})
)

// VerifierConfig tunes the multi-frame verification
type VerifierConfig struct {
	// MinConsecutiveHits is how many consecutive frames must contain the candidate
	MinConsecutiveHits int
	// MaxNoDetectionFrames is how many consecutive empty frames drop the candidate
	MaxNoDetectionFrames int
	// BarcodeTimeout forgets the last verified code so the same item can be scanned again
	BarcodeTimeout time.Duration
}

// DefaultVerifierConfig returns the stock thresholds
func DefaultVerifierConfig() VerifierConfig {
	return VerifierConfig{
		MinConsecutiveHits:   DefaultMinConsecutiveHits,
		MaxNoDetectionFrames: DefaultMaxNoDetectionFrames,
		BarcodeTimeout:       DefaultBarcodeTimeout,
	}
}

// TrackState is a snapshot of the verifier's counters
type TrackState struct {
	Candidate         string
	CandidateSince    time.Time
	ConsecutiveHits   int
	ConsecutiveMisses int
	LastVerified      string
}

// Verifier turns noisy per-frame detections into single verified scan events.
// It tracks one candidate at a time and is not safe for concurrent use; the
// capture loop owns it.
type Verifier struct {
	cfg        VerifierConfig
	timeSource TimeSource

	candidate      string
	candidateSince time.Time
	hits           int
	misses         int

	lastVerified   string
	lastVerifiedAt time.Time
}

// NewVerifier creates a Verifier using the wall clock
func NewVerifier(cfg VerifierConfig) *Verifier {
	return NewVerifierWithDeps(cfg, &defaultTimeSource{})
}

// NewVerifierWithDeps creates a Verifier with a custom time source for testing
func NewVerifierWithDeps(cfg VerifierConfig, timeSrc TimeSource) *Verifier {
	if cfg.MinConsecutiveHits <= 0 {
		cfg.MinConsecutiveHits = DefaultMinConsecutiveHits
	}
	if cfg.MaxNoDetectionFrames <= 0 {
		cfg.MaxNoDetectionFrames = DefaultMaxNoDetectionFrames
	}
	if cfg.BarcodeTimeout <= 0 {
		cfg.BarcodeTimeout = DefaultBarcodeTimeout
	}
	return &Verifier{
		cfg:        cfg,
		timeSource: timeSrc,
	}
}

// Observe feeds the detections of one frame and returns a verified scan when
// the current candidate has been seen in enough consecutive frames.
func (v *Verifier) Observe(detections []DetectedCode) *VerifiedScan {
	now := v.timeSource.Now()
	v.expireLastVerified(now)

	if len(detections) == 0 {
		framesObserved.WithLabelValues("false").Inc()
		v.miss()
		return nil
	}
	framesObserved.WithLabelValues("true").Inc()

	for _, d := range detections {
		if d.Text == "" {
			continue
		}
		if d.Text != v.candidate {
			if v.candidate != "" {
				slog.Debug("Switching barcode candidate", "from", v.candidate, "to", d.Text)
			}
			v.candidate = d.Text
			v.candidateSince = now
			v.hits = 1
			v.misses = 0
		} else {
			v.hits++
			v.misses = 0
		}

		if v.hits < v.cfg.MinConsecutiveHits {
			continue
		}
		if v.candidate == v.lastVerified {
			// Still the same hold; wait for a loss or the timeout.
			v.hits = v.cfg.MinConsecutiveHits
			continue
		}

		v.hits = 0
		v.lastVerified = v.candidate
		v.lastVerifiedAt = now
		scansVerified.Inc()
		slog.Debug("Barcode verified", "barcode", d.Text, "symbology", d.Symbology)
		return &VerifiedScan{
			Text:       d.Text,
			Symbology:  d.Symbology,
			VerifiedAt: now,
		}
	}
	return nil
}

// State returns a copy of the tracking counters
func (v *Verifier) State() TrackState {
	return TrackState{
		Candidate:         v.candidate,
		CandidateSince:    v.candidateSince,
		ConsecutiveHits:   v.hits,
		ConsecutiveMisses: v.misses,
		LastVerified:      v.lastVerified,
	}
}

// reset forgets the candidate and the last verified code
func (v *Verifier) reset() {
	v.candidate = ""
	v.candidateSince = time.Time{}
	v.hits = 0
	v.misses = 0
	v.lastVerified = ""
	v.lastVerifiedAt = time.Time{}
}

func (v *Verifier) miss() {
	v.misses++
	if v.misses < v.cfg.MaxNoDetectionFrames {
		return
	}
	if v.candidate != "" {
		slog.Debug("Lost barcode candidate", "barcode", v.candidate, "frames", v.misses)
	}
	v.reset()
}

func (v *Verifier) expireLastVerified(now time.Time) {
	if v.lastVerified == "" || now.Sub(v.lastVerifiedAt) <= v.cfg.BarcodeTimeout {
		return
	}
	slog.Debug("Forgetting last verified barcode", "barcode", v.lastVerified, "after", now.Sub(v.lastVerifiedAt))
	v.lastVerified = ""
	v.lastVerifiedAt = time.Time{}
}
