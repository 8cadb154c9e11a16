package notify

import (
	"context"
	"fmt"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// ShoutrrrNotifier fans one alert out to any number of shoutrrr service
// URLs (smtp://, discord://, telegram://, ...). A single failed URL
// fails the whole send so reconciliation retries it.
type ShoutrrrNotifier struct {
	urls   []string
	sender *router.ServiceRouter
}

// NewShoutrrrNotifier validates the URLs by building the sender up front.
func NewShoutrrrNotifier(urls []string, timeout time.Duration) (*ShoutrrrNotifier, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("at least one notification URL is required")
	}
	sender, err := shoutrrr.CreateSender(urls...)
	if err != nil {
		return nil, fmt.Errorf("invalid notification URL: %w", err)
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	return &ShoutrrrNotifier{
		urls:   slices.Clone(urls),
		sender: sender,
	}, nil
}

// Send delivers the alert to every configured URL.
func (n *ShoutrrrNotifier) Send(ctx context.Context, alert *Alert) error {
	_ = ctx // the router enforces its own per-service timeout

	params := stypes.Params{}
	params.SetTitle(alert.Subject())

	errs := n.sender.Send(alert.Body(), &params)
	for _, err := range errs {
		if err != nil {
			return fmt.Errorf("notification send failed: %w", err)
		}
	}
	return nil
}

var _ Notifier = (*ShoutrrrNotifier)(nil)
