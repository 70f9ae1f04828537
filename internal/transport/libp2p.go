package transport

import (
	"context"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"

	"weftsync/internal/utils"
)

// DiscoveryRendezvous is the installation-wide DHT provider-record key
// peers advertise under so they can find each other before they know any
// room-specific topic.
const DiscoveryRendezvous = "wc-discovery/1"

const dialTimeout = 5 * time.Second

// LibP2PTransport wires GossipSub for topic pub/sub and a Kademlia DHT
// for peer-discovery rendezvous, matching the donor's own p2p.Node setup
// (InitHost/InitDHT/InitPubSub in internal/p2p/node.go) generalized
// behind the Transport interface.
type LibP2PTransport struct {
	host host.Host
	dht  *dht.IpfsDHT
	ps   *pubsub.PubSub
	log  *utils.TaggedLogger

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription

	peerEvents chan PeerEvent
}

// New dials up a libp2p host bound to priv, starts GossipSub and a
// Kademlia DHT over it, and advertises on DiscoveryRendezvous.
func New(ctx context.Context, priv crypto.PrivKey, listenAddrs []string, log *utils.TaggedLogger) (*LibP2PTransport, error) {
	h, err := libp2p.New(
		libp2p.Identity(priv),
		libp2p.ListenAddrStrings(listenAddrs...),
	)
	if err != nil {
		return nil, utils.NewFatalStartupError("create libp2p host").WithCause(err)
	}

	kad, err := dht.New(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, utils.NewFatalStartupError("create kademlia dht").WithCause(err)
	}
	if err := kad.Bootstrap(ctx); err != nil {
		_ = h.Close()
		return nil, utils.NewFatalStartupError("bootstrap kademlia dht").WithCause(err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		_ = h.Close()
		return nil, utils.NewFatalStartupError("create gossipsub").WithCause(err)
	}

	t := &LibP2PTransport{
		host:       h,
		dht:        kad,
		ps:         ps,
		log:        log,
		topics:     make(map[string]*pubsub.Topic),
		subs:       make(map[string]*pubsub.Subscription),
		peerEvents: make(chan PeerEvent, 64),
	}
	t.registerConnectNotifiee()

	routingDiscovery := drouting.NewRoutingDiscovery(kad)
	dutil.Advertise(ctx, routingDiscovery, DiscoveryRendezvous)

	return t, nil
}

func (t *LibP2PTransport) registerConnectNotifiee() {
	t.host.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			t.emitPeerEvent(PeerEvent{Peer: PeerID(c.RemotePeer().String()), Kind: PeerConnected})
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			t.emitPeerEvent(PeerEvent{Peer: PeerID(c.RemotePeer().String()), Kind: PeerDisconnected})
		},
	})
}

func (t *LibP2PTransport) emitPeerEvent(ev PeerEvent) {
	select {
	case t.peerEvents <- ev:
	default:
		t.log.Printf("peer event channel full, dropping %s event for %s", ev.Kind, ev.Peer)
	}
}

func (t *LibP2PTransport) joinTopic(topic string) (*pubsub.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if top, ok := t.topics[topic]; ok {
		return top, nil
	}
	top, err := t.ps.Join(topic)
	if err != nil {
		return nil, utils.NewTransportUnavailableError("join topic " + topic).WithCause(err)
	}
	t.topics[topic] = top
	return top, nil
}

func (t *LibP2PTransport) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	top, err := t.joinTopic(topic)
	if err != nil {
		return nil, err
	}
	sub, err := top.Subscribe()
	if err != nil {
		return nil, utils.NewTransportUnavailableError("subscribe to topic " + topic).WithCause(err)
	}

	t.mu.Lock()
	t.subs[topic] = sub
	t.mu.Unlock()

	out := make(chan Message, 64)
	go func() {
		defer close(out)
		for {
			raw, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if raw.ReceivedFrom == t.host.ID() {
				continue
			}
			select {
			case out <- Message{Topic: topic, From: PeerID(raw.ReceivedFrom.String()), Data: raw.Data}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (t *LibP2PTransport) Unsubscribe(topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if sub, ok := t.subs[topic]; ok {
		sub.Cancel()
		delete(t.subs, topic)
	}
	if top, ok := t.topics[topic]; ok {
		if err := top.Close(); err != nil {
			return utils.NewTransportUnavailableError("close topic " + topic).WithCause(err)
		}
		delete(t.topics, topic)
	}
	return nil
}

func (t *LibP2PTransport) Publish(ctx context.Context, topic string, data []byte) error {
	top, err := t.joinTopic(topic)
	if err != nil {
		return err
	}
	if len(top.ListPeers()) == 0 {
		return ErrNoPeersSubscribed
	}
	if err := top.Publish(ctx, data); err != nil {
		return utils.NewTransportUnavailableError("publish to topic " + topic).WithCause(err)
	}
	return nil
}

func (t *LibP2PTransport) GetSubscribers(topic string) []PeerID {
	t.mu.Lock()
	top, ok := t.topics[topic]
	t.mu.Unlock()
	if !ok {
		return nil
	}
	peers := top.ListPeers()
	out := make([]PeerID, len(peers))
	for i, p := range peers {
		out[i] = PeerID(p.String())
	}
	return out
}

func (t *LibP2PTransport) GetPeers() []PeerID {
	peers := t.host.Network().Peers()
	out := make([]PeerID, len(peers))
	for i, p := range peers {
		out[i] = PeerID(p.String())
	}
	return out
}

func (t *LibP2PTransport) GetConnections() []Connection {
	conns := t.host.Network().Conns()
	out := make([]Connection, len(conns))
	for i, c := range conns {
		out[i] = Connection{Peer: PeerID(c.RemotePeer().String()), Addr: c.RemoteMultiaddr().String()}
	}
	return out
}

func (t *LibP2PTransport) PeerEvents() <-chan PeerEvent {
	return t.peerEvents
}

func (t *LibP2PTransport) HandleProtocol(protoID string, handler StreamHandler) {
	t.host.SetStreamHandler(protocol.ID(protoID), func(s network.Stream) {
		handler(s, PeerID(s.Conn().RemotePeer().String()))
	})
}

func (t *LibP2PTransport) DialProtocol(ctx context.Context, p PeerID, protoID string) (Stream, error) {
	pid, err := peer.Decode(string(p))
	if err != nil {
		return nil, utils.NewInvalidArgumentError("decode peer id").WithCause(err)
	}
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	s, err := t.host.NewStream(dialCtx, pid, protocol.ID(protoID))
	if err != nil {
		return nil, utils.NewStreamError("dial protocol " + protoID).WithCause(err)
	}
	return s, nil
}

func (t *LibP2PTransport) HostID() PeerID {
	return PeerID(t.host.ID().String())
}

func (t *LibP2PTransport) Close() error {
	close(t.peerEvents)
	if err := t.host.Close(); err != nil {
		return utils.NewFatalStartupError("close libp2p host").WithCause(err)
	}
	return nil
}
