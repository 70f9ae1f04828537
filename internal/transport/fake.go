package transport

import (
	"context"
	"io"
	"sync"

	"weftsync/internal/utils"
)

// pipeStream is a Stream over an in-process pair of pipes, handed to
// both ends of a Fake.DialProtocol/HandleProtocol exchange.
type pipeStream struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (p *pipeStream) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeStream) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeStream) Close() error {
	_ = p.r.Close()
	return p.w.Close()
}

func newPipePair() (Stream, Stream) {
	r1, w1 := io.Pipe()
	r2, w2 := io.Pipe()
	return &pipeStream{r: r1, w: w2}, &pipeStream{r: r2, w: w1}
}

// Broker is the shared rendezvous point a group of Fake transports
// publish/subscribe and dial through, standing in for the libp2p
// network during tests (§9, "fake mode").
type Broker struct {
	mu        sync.Mutex
	subs      map[string]map[PeerID]chan Message
	handlers  map[string]map[PeerID]StreamHandler
	peerEvent map[PeerID]chan PeerEvent
}

func NewBroker() *Broker {
	return &Broker{
		subs:      make(map[string]map[PeerID]chan Message),
		handlers:  make(map[string]map[PeerID]StreamHandler),
		peerEvent: make(map[PeerID]chan PeerEvent),
	}
}

// Fake is an in-process Transport bound to a shared Broker: every Fake
// constructed against the same broker can reach every other, with no
// real networking, so the sync engine and hub can be tested without
// standing up libp2p hosts.
type Fake struct {
	id     PeerID
	broker *Broker
}

func NewFake(broker *Broker, id PeerID) *Fake {
	broker.mu.Lock()
	broker.peerEvent[id] = make(chan PeerEvent, 64)
	broker.mu.Unlock()
	return &Fake{id: id, broker: broker}
}

func (f *Fake) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	ch := make(chan Message, 64)
	f.broker.mu.Lock()
	if f.broker.subs[topic] == nil {
		f.broker.subs[topic] = make(map[PeerID]chan Message)
	}
	f.broker.subs[topic][f.id] = ch
	f.broker.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.broker.mu.Lock()
		defer f.broker.mu.Unlock()
		// Unsubscribe or Close may already have removed and closed ch.
		if cur, ok := f.broker.subs[topic][f.id]; ok && cur == ch {
			delete(f.broker.subs[topic], f.id)
			close(ch)
		}
	}()
	return ch, nil
}

func (f *Fake) Unsubscribe(topic string) error {
	f.broker.mu.Lock()
	defer f.broker.mu.Unlock()
	if subs, ok := f.broker.subs[topic]; ok {
		if ch, ok := subs[f.id]; ok {
			delete(subs, f.id)
			close(ch)
		}
	}
	return nil
}

func (f *Fake) Publish(ctx context.Context, topic string, data []byte) error {
	f.broker.mu.Lock()
	subs := f.broker.subs[topic]
	recipients := make([]chan Message, 0, len(subs))
	for peerID, ch := range subs {
		if peerID == f.id {
			continue
		}
		recipients = append(recipients, ch)
	}
	f.broker.mu.Unlock()

	if len(recipients) == 0 {
		return ErrNoPeersSubscribed
	}
	for _, ch := range recipients {
		select {
		case ch <- Message{Topic: topic, From: f.id, Data: data}:
		case <-ctx.Done():
			return utils.NewTransportUnavailableError("publish cancelled").WithCause(ctx.Err())
		}
	}
	return nil
}

func (f *Fake) GetSubscribers(topic string) []PeerID {
	f.broker.mu.Lock()
	defer f.broker.mu.Unlock()
	out := make([]PeerID, 0, len(f.broker.subs[topic]))
	for peerID := range f.broker.subs[topic] {
		if peerID != f.id {
			out = append(out, peerID)
		}
	}
	return out
}

func (f *Fake) GetPeers() []PeerID {
	f.broker.mu.Lock()
	defer f.broker.mu.Unlock()
	seen := make(map[PeerID]bool)
	for _, subs := range f.broker.subs {
		for peerID := range subs {
			if peerID != f.id {
				seen[peerID] = true
			}
		}
	}
	out := make([]PeerID, 0, len(seen))
	for peerID := range seen {
		out = append(out, peerID)
	}
	return out
}

// GetConnections reports the same peer set GetPeers does: the fake
// broker has no separate dial/connection concept, so every peer
// reachable through a shared topic counts as one in-process connection.
func (f *Fake) GetConnections() []Connection {
	peers := f.GetPeers()
	out := make([]Connection, len(peers))
	for i, p := range peers {
		out[i] = Connection{Peer: p, Addr: "in-process"}
	}
	return out
}

func (f *Fake) PeerEvents() <-chan PeerEvent {
	f.broker.mu.Lock()
	defer f.broker.mu.Unlock()
	return f.broker.peerEvent[f.id]
}

// NotifyConnected lets a test simulate a peer-connect event without a
// real dial, so Outbox-nudge behaviour can be exercised deterministically.
func (f *Fake) NotifyConnected(peer PeerID) {
	f.broker.mu.Lock()
	ch := f.broker.peerEvent[f.id]
	f.broker.mu.Unlock()
	if ch != nil {
		ch <- PeerEvent{Peer: peer, Kind: PeerConnected}
	}
}

func (f *Fake) HandleProtocol(protoID string, handler StreamHandler) {
	f.broker.mu.Lock()
	if f.broker.handlers[protoID] == nil {
		f.broker.handlers[protoID] = make(map[PeerID]StreamHandler)
	}
	f.broker.handlers[protoID][f.id] = handler
	f.broker.mu.Unlock()
}

func (f *Fake) DialProtocol(ctx context.Context, peer PeerID, protoID string) (Stream, error) {
	f.broker.mu.Lock()
	handler, ok := f.broker.handlers[protoID][peer]
	f.broker.mu.Unlock()
	if !ok {
		return nil, utils.NewStreamError("no handler registered for protocol " + protoID + " on peer " + string(peer))
	}

	clientEnd, serverEnd := newPipePair()
	go handler(serverEnd, f.id)
	return clientEnd, nil
}

func (f *Fake) HostID() PeerID {
	return f.id
}

func (f *Fake) Close() error {
	f.broker.mu.Lock()
	defer f.broker.mu.Unlock()
	for topic, subs := range f.broker.subs {
		if ch, ok := subs[f.id]; ok {
			close(ch)
			delete(subs, f.id)
		}
		_ = topic
	}
	if ch, ok := f.broker.peerEvent[f.id]; ok {
		close(ch)
		delete(f.broker.peerEvent, f.id)
	}
	return nil
}
