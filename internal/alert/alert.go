// Package alert fans high-severity security events out to notification
// channels. Delivery is best effort: a failing or slow channel never blocks
// the caller or the other channels.
package alert

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sitewarden/sitewarden/internal/logger"
)

// deliveryTimeout bounds each channel delivery so a hung endpoint cannot
// stall the dispatch.
const deliveryTimeout = 10 * time.Second

// Alert carries the event fields channels need to render a notification.
type Alert struct {
	EventID    string                 `json:"event_id"`
	EventType  string                 `json:"event_type"`
	Severity   int                    `json:"severity"`
	OriginIP   string                 `json:"origin_ip"`
	OccurredAt time.Time              `json:"occurred_at"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Channel delivers an alert over one transport.
type Channel interface {
	// Name identifies the channel in logs and failure events.
	Name() string
	// Deliver sends the alert. The context carries the delivery deadline.
	Deliver(ctx context.Context, a Alert) error
}

// Failure records one channel that could not deliver an alert.
type Failure struct {
	Channel string
	Err     error
}

// Dispatcher is the fan-out interface consumed by the audit log.
type Dispatcher interface {
	// Dispatch delivers the alert on every configured channel concurrently
	// and returns the failures. It never returns an error itself.
	Dispatch(ctx context.Context, a Alert) []Failure
}

// MultiDispatcher delivers alerts over a fixed set of channels.
type MultiDispatcher struct {
	channels []Channel
	log      *logger.Logger
}

// NewMultiDispatcher creates a MultiDispatcher over the given channels.
func NewMultiDispatcher(log *logger.Logger, channels ...Channel) *MultiDispatcher {
	return &MultiDispatcher{channels: channels, log: log}
}

// Dispatch implements Dispatcher. Each channel runs in its own goroutine
// with its own deadline; a panicking channel is contained and reported as a
// failure.
func (d *MultiDispatcher) Dispatch(ctx context.Context, a Alert) []Failure {
	if len(d.channels) == 0 {
		return nil
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		failures []Failure
	)

	for _, ch := range d.channels {
		wg.Add(1)
		go func(ch Channel) {
			defer wg.Done()
			if err := d.deliver(ctx, ch, a); err != nil {
				d.log.Warn().
					Err(err).
					Str("channel", ch.Name()).
					Str("event_type", a.EventType).
					Msg("Alert delivery failed")
				mu.Lock()
				failures = append(failures, Failure{Channel: ch.Name(), Err: err})
				mu.Unlock()
			}
		}(ch)
	}

	wg.Wait()
	return failures
}

func (d *MultiDispatcher) deliver(ctx context.Context, ch Channel, a Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("channel %s panicked: %v", ch.Name(), r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()
	return ch.Deliver(ctx, a)
}
