// Package eventstream fans out observation lifecycle events to listeners:
// the dashboard, metrics, and anything else that subscribes.
package eventstream

import "context"

// Publisher publishes observation events to an event stream backend.
type Publisher interface {
	PublishObservation(ctx context.Context, event *ObservationEvent) error
	Close() error
}
