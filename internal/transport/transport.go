// Package transport defines the substrate the sync core depends on:
// topic pub/sub, direct protocol streams, and peer connection events.
// The core only ever sees the Transport interface, so tests can swap in
// an in-process fake (fake.go) instead of standing up real libp2p hosts.
package transport

import (
	"context"
	"io"

	"weftsync/internal/models"
	"weftsync/internal/utils"
)

// PeerID identifies a transport peer. It is the same underlying type as
// models.PeerID so control-message "from" fields round-trip directly.
type PeerID = models.PeerID

// Message is one inbound gossip delivery.
type Message struct {
	Topic string
	From  PeerID
	Data  []byte
}

// PeerEventKind distinguishes a connect from a disconnect notification.
type PeerEventKind string

const (
	PeerConnected    PeerEventKind = "connect"
	PeerDisconnected PeerEventKind = "disconnect"
)

// PeerEvent is emitted whenever a connection to a remote peer opens or
// closes, regardless of topic membership.
type PeerEvent struct {
	Peer PeerID
	Kind PeerEventKind
}

// Connection describes one open transport-level connection, for
// operability logging (§4.7.5's "total connections by transport").
type Connection struct {
	Peer PeerID
	Addr string
}

// Stream is a bidirectional byte pipe to one remote peer, opened either
// by dialing a protocol or by accepting an inbound protocol handler.
type Stream interface {
	io.Reader
	io.Writer
	io.Closer
}

// StreamHandler is invoked once per inbound stream opened against a
// registered protocol ID.
type StreamHandler func(s Stream, from PeerID)

// ErrNoPeersSubscribed is returned by Publish when nobody is currently
// listening on the topic; callers (the Outbox, mainly) treat this as
// recoverable rather than fatal.
var ErrNoPeersSubscribed = utils.NewNoSubscribersError("no peers subscribed to topic")

// Transport is the substrate contract the sync core, hub, and outbox
// depend on. Exactly one concrete implementation backs production use
// (LibP2PTransport); Fake backs tests.
type Transport interface {
	// Subscribe joins topic and returns a channel of inbound messages.
	// The channel closes when Unsubscribe is called or ctx is done.
	Subscribe(ctx context.Context, topic string) (<-chan Message, error)
	Unsubscribe(topic string) error
	// Publish sends data on topic. Returns ErrNoPeersSubscribed if
	// nobody is currently listening.
	Publish(ctx context.Context, topic string, data []byte) error
	GetSubscribers(topic string) []PeerID
	GetPeers() []PeerID
	// GetConnections reports every currently open connection, independent
	// of topic subscriptions.
	GetConnections() []Connection
	// PeerEvents returns a channel of connect/disconnect notifications,
	// shared across all topics and protocols.
	PeerEvents() <-chan PeerEvent
	HandleProtocol(protoID string, handler StreamHandler)
	DialProtocol(ctx context.Context, peer PeerID, protoID string) (Stream, error)
	HostID() PeerID
	Close() error
}
