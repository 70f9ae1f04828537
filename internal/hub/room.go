package hub

import (
	"context"

	"weftsync/internal/codec"
	"weftsync/internal/content"
	"weftsync/internal/crdt"
	"weftsync/internal/models"
	"weftsync/internal/store"
	"weftsync/internal/transport"
	"weftsync/internal/utils"
)

// hubStreamConn is one peer's outbound half of a direct sync stream.
type hubStreamConn struct {
	peer transport.PeerID
	conn transport.Stream
	enc  *codec.StreamEncoder
}

// Room is the hub's per-room aggregator: one RoomDoc, a gossip
// subscription, and a set of direct streams, all mutated only from this
// room's own goroutine (the same single-writer discipline the peer-side
// actor uses).
type Room struct {
	id        models.RoomID
	topic     string
	doc       *crdt.RoomDoc
	store     store.PersistentStore
	transport transport.Transport
	log       *utils.TaggedLogger

	ctx    context.Context
	cancel context.CancelFunc

	mailbox chan func()
	inbound <-chan transport.Message

	streams map[transport.PeerID]*hubStreamConn

	pinTracker *content.PinTracker

	// inboundPeer names whichever peer an update is being applied from —
	// over its direct stream or over gossip — set only for the duration
	// of that applyInbound call. onDocUpdate uses it to skip echoing the
	// update back down that peer's own stream regardless of which
	// surface it arrived on: a peer's dual-send (§4.5) delivers the same
	// update over both its stream and gossip, and without this the
	// gossip-origin copy (arriving second, a no-op merge) would still
	// get forwarded back down the peer's own stream as if it were new.
	inboundPeer transport.PeerID
}

func newRoom(ctx context.Context, id models.RoomID, s store.PersistentStore, t transport.Transport, log *utils.TaggedLogger, pinTracker *content.PinTracker) (*Room, error) {
	r := &Room{
		id:         id,
		topic:      id.Topic(),
		store:      s,
		transport:  t,
		log:        log,
		streams:    make(map[transport.PeerID]*hubStreamConn),
		pinTracker: pinTracker,
		mailbox:    make(chan func(), 128),
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	if err := r.store.Init(string(id)); err != nil {
		return nil, err
	}
	snapshot, err := r.store.Load()
	if err != nil {
		r.log.Printf("load persisted state: %v", err)
	}
	if len(snapshot) > 0 {
		doc, loadErr := crdt.Load(snapshot)
		if loadErr != nil {
			r.log.Printf("decode persisted snapshot: %v", loadErr)
			doc = crdt.New()
		}
		r.doc = doc
	} else {
		r.doc = crdt.New()
	}
	r.doc.OnUpdate(r.onDocUpdate)

	if pinTracker != nil {
		r.doc.OnManifestUpdate(r.onManifestUpdateForPinning)
		r.pinExistingManifest()
	}

	inbound, err := t.Subscribe(r.ctx, r.topic)
	if err != nil {
		r.cancel()
		return nil, err
	}
	r.inbound = inbound

	go r.run()
	return r, nil
}

func (r *Room) pinExistingManifest() {
	m := r.doc.Manifest()
	if len(m.Files) == 0 {
		return
	}
	cids := make([]models.ContentID, len(m.Files))
	for i, fe := range m.Files {
		cids[i] = fe.CID
	}
	r.pinTracker.EnsurePinned(r.ctx, cids)
}

func (r *Room) onManifestUpdateForPinning(m models.Manifest) {
	cids := make([]models.ContentID, len(m.Files))
	for i, fe := range m.Files {
		cids[i] = fe.CID
	}
	r.pinTracker.EnsurePinned(r.ctx, cids)
}

func (r *Room) run() {
	defer r.cleanup()
	for {
		select {
		case <-r.ctx.Done():
			return
		case fn, ok := <-r.mailbox:
			if !ok {
				return
			}
			fn()
		case raw, ok := <-r.inbound:
			if !ok {
				r.inbound = nil
				continue
			}
			msg, err := codec.DecodeGossip(raw.Data)
			if err != nil {
				continue
			}
			r.inboundPeer = raw.From
			r.applyInbound(msg, crdt.OriginGossipsub)
			r.inboundPeer = ""
		}
	}
}

func (r *Room) cleanup() {
	for peer, sc := range r.streams {
		_ = sc.conn.Close()
		delete(r.streams, peer)
	}
	if err := r.transport.Unsubscribe(r.topic); err != nil {
		r.log.Printf("unsubscribe: %v", err)
	}
}

func (r *Room) exec(f func()) {
	done := make(chan struct{})
	select {
	case r.mailbox <- func() { f(); close(done) }:
		select {
		case <-done:
		case <-r.ctx.Done():
		}
	case <-r.ctx.Done():
	}
}

func (r *Room) applyInbound(msg models.ControlMsg, origin crdt.Origin) {
	switch msg.Tag {
	case models.TagYUpdate:
		if err := r.doc.ApplyUpdate(msg.Update, origin); err != nil {
			r.log.Printf("apply Y_UPDATE: %v", err)
		}
	case models.TagSnapshotRequest:
		// Hub answers snapshot requests the same as a peer would: the
		// responder-directed SNAPSHOT is published back on the topic.
		resp := codec.NewMsg(models.TagSnapshot, r.id)
		resp.Update = r.doc.EncodeStateAsUpdate()
		r.gossipPublish(resp)
	case models.TagSnapshot:
		if err := r.doc.ApplyUpdate(msg.Update, origin); err != nil {
			r.log.Printf("apply SNAPSHOT: %v", err)
		}
	default:
		// FILE_REQUEST and anything else: the hub has no non-CRDT
		// handler registry of its own; mirror mode reacts to manifest
		// changes directly instead of to this signal.
	}
}

func (r *Room) gossipPublish(msg models.ControlMsg) {
	data, err := codec.EncodeGossip(msg)
	if err != nil {
		r.log.Printf("encode control message: %v", err)
		return
	}
	if err := r.transport.Publish(r.ctx, r.topic, data); err != nil {
		if !utils.Is(err, utils.KindNoSubscribers) {
			r.log.Printf("gossip publish failed: %v", err)
		}
	}
}

// onDocUpdate persists every non-storage update and relays it: to every
// direct stream except the one belonging to inboundPeer (the peer the
// update is being applied from, whichever surface it arrived on), and to
// gossip unless it arrived over gossip. Only fires on a merge
// that actually changed the document (see crdt.RoomDoc.ApplyUpdate), so
// the second half of a dual-sent update never triggers a second relay.
func (r *Room) onDocUpdate(delta []byte, origin crdt.Origin) {
	if origin != crdt.OriginStorage {
		if err := r.store.Save(r.doc.EncodeStateAsUpdate()); err != nil {
			r.log.Printf("save room state: %v", err)
		}
	}

	msg := codec.NewMsg(models.TagYUpdate, r.id)
	msg.Update = delta

	for peer, sc := range r.streams {
		if peer == r.inboundPeer {
			continue
		}
		if err := sc.enc.Encode(msg); err != nil {
			r.log.Printf("send Y_UPDATE to stream %s: %v", peer, err)
		}
	}

	if origin != crdt.OriginGossipsub {
		r.gossipPublish(msg)
	}
}

// attachStream registers a newly opened direct stream and immediately
// sends the room's current full state, per the handshake contract.
func (r *Room) attachStream(peer transport.PeerID, conn transport.Stream, enc *codec.StreamEncoder) error {
	var sendErr error
	r.exec(func() {
		r.streams[peer] = &hubStreamConn{peer: peer, conn: conn, enc: enc}
		full := codec.NewMsg(models.TagSyncFullState, r.id)
		full.Update = r.doc.EncodeStateAsUpdate()
		sendErr = enc.Encode(full)
	})
	return sendErr
}

// handleStreamUpdate applies an inbound Y_UPDATE received over peer's
// stream. inboundPeer makes onDocUpdate skip peer's own connection, and
// origin stream makes it relay the update to gossip.
func (r *Room) handleStreamUpdate(peer transport.PeerID, msg models.ControlMsg) {
	r.exec(func() {
		r.inboundPeer = peer
		r.applyInbound(msg, crdt.OriginStream)
		r.inboundPeer = ""
	})
}

// detachStream removes peer's stream from the broadcast set, e.g. after
// an I/O error on its read loop.
func (r *Room) detachStream(peer transport.PeerID) {
	r.exec(func() {
		if sc, ok := r.streams[peer]; ok {
			_ = sc.conn.Close()
			delete(r.streams, peer)
		}
	})
}

func (r *Room) stats() (files, chat, streams int) {
	var m models.Manifest
	var c []models.ChatMessage
	r.exec(func() {
		m = r.doc.Manifest()
		c = r.doc.Chat()
		streams = len(r.streams)
	})
	return len(m.Files), len(c), streams
}

func (r *Room) destroy() {
	r.cancel()
}
