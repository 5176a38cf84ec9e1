package metrics_test

import (
	"errors"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/openmem/pkg/metrics"
)

func TestMetrics(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Metrics Suite")
}

var _ = Describe("Registry", func() {
	var r *metrics.Registry

	BeforeEach(func() {
		r = metrics.NewRegistry()
	})

	It("accumulates counters", func() {
		r.Inc(metrics.ObservationsCreated)
		r.Add(metrics.ObservationsCreated, 2)

		snap := r.Snapshot()
		Expect(snap.Counters[metrics.ObservationsCreated]).To(Equal(int64(3)))
	})

	It("summarizes timer samples", func() {
		for i := 1; i <= 10; i++ {
			r.Observe(metrics.TimerSearch, time.Duration(i)*time.Millisecond)
		}

		snap := r.Snapshot()
		stats := snap.Timers[metrics.TimerSearch]
		Expect(stats.Count).To(Equal(10))
		Expect(stats.Max).To(Equal(10 * time.Millisecond))
		Expect(stats.P50).To(BeNumerically(">=", 5*time.Millisecond))
	})

	It("propagates errors through Time while still recording", func() {
		boom := errors.New("boom")
		err := r.Time(metrics.TimerCompress, func() error { return boom })
		Expect(err).To(MatchError(boom))

		snap := r.Snapshot()
		Expect(snap.Timers[metrics.TimerCompress].Count).To(Equal(1))
	})
})
