package notify

import (
	"context"
	"errors"
	"log"
)

// Multi fans an alert out to every configured channel. Delivery counts
// as successful when at least one channel accepts the alert; the
// remaining failures are logged. With no channels configured every send
// succeeds, so detections still reach their terminal state on installs
// without notifications.
type Multi struct {
	channels []Notifier
}

// NewMulti builds a fan-out notifier over the given channels.
func NewMulti(channels ...Notifier) *Multi {
	return &Multi{channels: channels}
}

func (m *Multi) Send(ctx context.Context, alert *Alert) error {
	if len(m.channels) == 0 {
		return nil
	}

	var errs []error
	for _, ch := range m.channels {
		if err := ch.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m.channels) {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		log.Printf("[Notify] partial delivery failure: %v", err)
	}
	return nil
}
