package scanning

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeClock is a manually advanced TimeSource
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func codes(texts ...string) []DetectedCode {
	out := make([]DetectedCode, 0, len(texts))
	for _, t := range texts {
		out = append(out, DetectedCode{Text: t, Symbology: "EAN13"})
	}
	return out
}

var _ = Describe("Verifier", func() {
	var (
		clock    *fakeClock
		verifier *Verifier
		emitted  []*VerifiedScan
	)

	// observe feeds the same detections n times and collects emissions
	observe := func(n int, texts ...string) {
		for i := 0; i < n; i++ {
			if scan := verifier.Observe(codes(texts...)); scan != nil {
				emitted = append(emitted, scan)
			}
		}
	}

	BeforeEach(func() {
		clock = &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
		verifier = NewVerifierWithDeps(DefaultVerifierConfig(), clock)
		emitted = nil
	})

	When("a code is held steady", func() {
		It("should not emit before the minimum number of hits", func() {
			observe(2, "111")
			Expect(emitted).To(BeEmpty())
		})

		It("should emit on the frame that reaches the minimum", func() {
			observe(3, "111")
			Expect(emitted).To(HaveLen(1))
			Expect(emitted[0].Text).To(Equal("111"))
			Expect(emitted[0].Symbology).To(Equal("EAN13"))
			Expect(emitted[0].VerifiedAt).To(Equal(clock.now))
		})

		It("should emit exactly once per hold", func() {
			observe(30, "111")
			Expect(emitted).To(HaveLen(1))
		})
	})

	When("two codes alternate every frame", func() {
		It("should never emit", func() {
			for i := 0; i < 20; i++ {
				observe(1, "111")
				observe(1, "222")
			}
			Expect(emitted).To(BeEmpty())
		})
	})

	When("two different codes share every frame", func() {
		It("should never emit", func() {
			observe(20, "111", "222")
			Expect(emitted).To(BeEmpty())
		})
	})

	When("the frame stream is empty", func() {
		It("should never emit", func() {
			observe(50)
			Expect(emitted).To(BeEmpty())
		})
	})

	When("the code is lost and re-acquired", func() {
		BeforeEach(func() {
			observe(3, "111")
		})

		It("should emit again after the miss threshold is reached", func() {
			observe(DefaultMaxNoDetectionFrames)
			observe(3, "111")
			Expect(emitted).To(HaveLen(2))
			Expect(emitted[1].Text).To(Equal("111"))
		})

		It("should not emit again for a short dropout", func() {
			observe(DefaultMaxNoDetectionFrames - 1)
			observe(10, "111")
			Expect(emitted).To(HaveLen(1))
		})
	})

	When("the barcode timeout elapses during a hold", func() {
		BeforeEach(func() {
			observe(3, "111")
			clock.Advance(DefaultBarcodeTimeout + time.Second)
		})

		It("should allow the same code to verify again", func() {
			observe(3, "111")
			Expect(emitted).To(HaveLen(2))
		})
	})

	When("the timeout has not elapsed", func() {
		BeforeEach(func() {
			observe(3, "111")
			clock.Advance(DefaultBarcodeTimeout)
		})

		It("should keep suppressing the held code", func() {
			observe(6, "111")
			Expect(emitted).To(HaveLen(1))
		})
	})

	When("a different code is verified in between", func() {
		It("should verify the first code again", func() {
			observe(3, "111")
			observe(3, "222")
			observe(3, "111")
			Expect(emitted).To(HaveLen(3))
			Expect(emitted[0].Text).To(Equal("111"))
			Expect(emitted[1].Text).To(Equal("222"))
			Expect(emitted[2].Text).To(Equal("111"))
		})
	})

	When("a switch happens mid-verification", func() {
		It("should restart the hit count for the new code", func() {
			observe(2, "111")
			observe(1, "222")
			Expect(verifier.State().Candidate).To(Equal("222"))
			Expect(verifier.State().ConsecutiveHits).To(Equal(1))
			observe(1, "222")
			Expect(emitted).To(BeEmpty())
			observe(1, "222")
			Expect(emitted).To(HaveLen(1))
		})
	})

	Describe("State", func() {
		It("should count misses and clear them on a hit", func() {
			observe(1, "111")
			observe(2)
			Expect(verifier.State().ConsecutiveMisses).To(Equal(2))
			observe(1, "111")
			Expect(verifier.State().ConsecutiveMisses).To(Equal(0))
			Expect(verifier.State().ConsecutiveHits).To(Equal(2))
		})

		It("should drop the candidate once misses reach the threshold", func() {
			observe(1, "111")
			observe(DefaultMaxNoDetectionFrames)
			Expect(verifier.State().Candidate).To(BeEmpty())
			Expect(verifier.State().ConsecutiveHits).To(Equal(0))
			Expect(verifier.State().ConsecutiveMisses).To(Equal(0))
		})

		It("should record when the candidate was first seen", func() {
			observe(1, "111")
			since := clock.now
			clock.Advance(time.Second)
			observe(1, "111")
			Expect(verifier.State().CandidateSince).To(Equal(since))
		})
	})

	When("custom thresholds are configured", func() {
		BeforeEach(func() {
			verifier = NewVerifierWithDeps(VerifierConfig{
				MinConsecutiveHits:   5,
				MaxNoDetectionFrames: 2,
				BarcodeTimeout:       time.Second,
			}, clock)
		})

		It("should require the configured number of hits", func() {
			observe(4, "111")
			Expect(emitted).To(BeEmpty())
			observe(1, "111")
			Expect(emitted).To(HaveLen(1))
		})

		It("should lose the candidate after the configured misses", func() {
			observe(5, "111")
			observe(2)
			observe(5, "111")
			Expect(emitted).To(HaveLen(2))
		})
	})

	When("a detection has empty text", func() {
		It("should ignore it", func() {
			observe(3, "")
			Expect(emitted).To(BeEmpty())
			Expect(verifier.State().Candidate).To(BeEmpty())
		})
	})
})
