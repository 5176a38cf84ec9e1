package eventstream

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// defaultSubscriberBuffer is each subscriber's channel capacity.
const defaultSubscriberBuffer = 64

// Bus is an in-process broadcast Publisher. Sends are non-blocking: a
// subscriber whose buffer is full drops events rather than back-pressuring
// the pipeline.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan *ObservationEvent
	nextID int
	closed bool
	logger *zap.Logger
}

// NewBus creates an in-process event bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		subs:   make(map[int]chan *ObservationEvent),
		logger: logger,
	}
}

// Subscribe registers a listener and returns its channel plus an
// unsubscribe function. The channel closes on unsubscribe or bus close.
func (b *Bus) Subscribe() (<-chan *ObservationEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *ObservationEvent, defaultSubscriberBuffer)

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// PublishObservation fans the event out to every subscriber without
// blocking. The bus owns only references to emitted values and never
// retains them past fan-out.
func (b *Bus) PublishObservation(_ context.Context, event *ObservationEvent) error {
	if event == nil {
		return ErrNilEvent
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			b.logger.Debug("dropping event for slow subscriber",
				zap.Int("subscriber", id),
				zap.String("event_type", event.EventType),
			)
		}
	}

	return nil
}

// Close closes every subscriber channel.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}

	return nil
}
