package eventstream_test

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/papercomputeco/openmem/pkg/eventstream"
)

func TestEventstream(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Eventstream Suite")
}

var _ = Describe("Bus", func() {
	var bus *eventstream.Bus

	BeforeEach(func() {
		bus = eventstream.NewBus(zap.NewNop())
	})

	AfterEach(func() {
		Expect(bus.Close()).To(Succeed())
	})

	It("rejects nil events", func() {
		Expect(bus.PublishObservation(context.Background(), nil)).To(MatchError(eventstream.ErrNilEvent))
	})

	It("broadcasts to every subscriber", func() {
		ch1, cancel1 := bus.Subscribe()
		defer cancel1()
		ch2, cancel2 := bus.Subscribe()
		defer cancel2()

		event := &eventstream.ObservationEvent{EventType: eventstream.EventTypeObservationCreated}
		Expect(bus.PublishObservation(context.Background(), event)).To(Succeed())

		Expect(<-ch1).To(Equal(event))
		Expect(<-ch2).To(Equal(event))
	})

	It("drops events for a full subscriber instead of blocking", func() {
		ch, cancel := bus.Subscribe()
		defer cancel()

		// Publish past the buffer capacity; none of these may block.
		for i := 0; i < 200; i++ {
			Expect(bus.PublishObservation(context.Background(), &eventstream.ObservationEvent{
				EventType: eventstream.EventTypeObservationCreated,
			})).To(Succeed())
		}

		Expect(len(ch)).To(BeNumerically("<=", 64))
	})

	It("stops delivering after unsubscribe", func() {
		ch, cancel := bus.Subscribe()
		cancel()

		Expect(bus.PublishObservation(context.Background(), &eventstream.ObservationEvent{})).To(Succeed())

		_, open := <-ch
		Expect(open).To(BeFalse())
	})
})
