// Package notifier delivers rendered messages to external notification
// channels. Delivery failures are reported to the caller but are never
// fatal to the engine: the originating execution is already finalized.
package notifier

import (
	"context"
	"fmt"

	"github.com/oru-io/conduct/pkg/models"
)

// Message is one rendered notification handed to a channel.
type Message struct {
	Channel   models.NotifyChannel
	Recipient string
	Subject   string
	Body      string
}

// Sender delivers messages for one channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Channel() models.NotifyChannel
}

// Registry routes messages to the sender registered for their channel.
type Registry struct {
	senders map[models.NotifyChannel]Sender
}

func NewRegistry() *Registry {
	return &Registry{senders: make(map[models.NotifyChannel]Sender)}
}

func (r *Registry) Register(sender Sender) {
	r.senders[sender.Channel()] = sender
}

func (r *Registry) Send(ctx context.Context, msg Message) error {
	sender, ok := r.senders[msg.Channel]
	if !ok {
		return fmt.Errorf("no sender registered for channel %q", msg.Channel)
	}

	return sender.Send(ctx, msg)
}
