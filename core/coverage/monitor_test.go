package coverage_test

import (
	"time"

	"github.com/mudler/LocalExplorer/core/coverage"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Monitor", func() {
	Context("pausing on stagnation", func() {
		var m *coverage.Monitor

		BeforeEach(func() {
			var err error
			m, err = coverage.New()
			Expect(err).ToNot(HaveOccurred())
		})

		It("pauses once a full window shows no growth", func() {
			for i := 0; i < coverage.DefaultCapacity-1; i++ {
				m.Update(0)
				Expect(m.ShouldPause()).To(BeFalse())
			}
			_, threshold := m.Update(0)
			Expect(threshold).To(Equal(coverage.DefaultMinGrowthRate))
			Expect(m.ShouldPause()).To(BeTrue())
		})

		It("keeps exploring while coverage grows", func() {
			for _, c := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
				m.Update(c)
			}
			Expect(m.Window()).To(HaveLen(coverage.DefaultCapacity))
			Expect(m.ShouldPause()).To(BeFalse())
		})

		It("raises the threshold with the smoothed growth rate", func() {
			sample, threshold := m.Update(0.6)
			Expect(sample).To(BeNumerically("~", 0.6, 1e-9))
			Expect(threshold).To(BeNumerically("~", 0.3, 1e-9))

			_, threshold = m.Update(0.6)
			Expect(threshold).To(BeNumerically("~", 0.24, 1e-9))
		})

		It("drops the oldest sample and clears on reset", func() {
			for i := 0; i < 7; i++ {
				m.Update(float64(i) / 10)
			}
			Expect(m.Window()).To(HaveLen(coverage.DefaultCapacity))

			m.Reset()
			Expect(m.Window()).To(BeEmpty())
			Expect(m.ShouldPause()).To(BeFalse())
		})
	})

	Context("pausing on the schedule", func() {
		var (
			now time.Time
			m   *coverage.Monitor
		)

		BeforeEach(func() {
			now = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
			var err error
			m, err = coverage.New(
				coverage.WithSchedule("@every 10m"),
				coverage.WithClock(func() time.Time { return now }),
			)
			Expect(err).ToNot(HaveOccurred())
		})

		It("pauses after the stage deadline", func() {
			Expect(m.Strategy()).To(Equal(coverage.PauseOnSchedule))
			Expect(m.Deadline()).To(Equal(now.Add(10 * time.Minute)))

			m.Update(0)
			Expect(m.ShouldPause()).To(BeFalse())

			now = now.Add(11 * time.Minute)
			Expect(m.ShouldPause()).To(BeTrue())

			m.Reset()
			Expect(m.ShouldPause()).To(BeFalse())
		})
	})

	It("rejects invalid options", func() {
		_, err := coverage.New(coverage.WithCapacity(0))
		Expect(err).To(HaveOccurred())
		_, err = coverage.New(coverage.WithSchedule("not a schedule"))
		Expect(err).To(HaveOccurred())
	})
})
