package sync

import (
	"context"

	"weftsync/internal/codec"
	"weftsync/internal/models"
	"weftsync/internal/transport"
)

// transportPublisher adapts a transport.Transport (bytes in, bytes out)
// to the outbox.Publisher contract (ControlMsg in, ControlMsg out) so
// the Outbox never has to know about the wire codec.
type transportPublisher struct {
	t transport.Transport
}

func (p *transportPublisher) Publish(ctx context.Context, topic string, msg models.ControlMsg) error {
	data, err := codec.EncodeGossip(msg)
	if err != nil {
		return err
	}
	return p.t.Publish(ctx, topic, data)
}

func (p *transportPublisher) HasSubscribers(topic string) bool {
	return len(p.t.GetSubscribers(topic)) > 0
}
