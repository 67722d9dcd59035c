package notify

import (
	"context"
	"fmt"

	goslack "github.com/slack-go/slack"

	"github.com/wisbric/pulsecheck/pkg/monitor"
)

// SlackSink posts alerts to a single configured channel via slack-go/slack.
type SlackSink struct {
	client  *goslack.Client
	channel string
}

// NewSlackSink constructs a SlackSink. If botToken or channel is empty the
// sink is disabled and every Deliver call returns a DeliveryError.
func NewSlackSink(botToken, channel string) *SlackSink {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackSink{client: client, channel: channel}
}

// Channel implements Sink.
func (s *SlackSink) Channel() string { return monitor.ChannelSlack }

// Deliver implements Sink.
func (s *SlackSink) Deliver(ctx context.Context, alert monitor.Alert) error {
	if s.client == nil || s.channel == "" {
		return &DeliveryError{Channel: s.Channel(), Reason: "slack sink not configured"}
	}

	text := fmt.Sprintf("%s\n%s", alert.Title, alert.Message)

	_, _, err := s.client.PostMessageContext(ctx, s.channel, goslack.MsgOptionText(text, false))
	if err != nil {
		return &DeliveryError{Channel: s.Channel(), Reason: err.Error()}
	}
	return nil
}
