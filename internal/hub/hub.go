// Package hub implements the always-on aggregator peers rendezvous
// through: one RoomDoc per room, bridged between the room's gossip
// topic and any direct sync streams peers open against it, optionally
// pinning every manifest entry it sees (mirror mode).
package hub

import (
	"context"
	"sync"
	"time"

	"weftsync/internal/codec"
	"weftsync/internal/content"
	"weftsync/internal/models"
	"weftsync/internal/store"
	"weftsync/internal/transport"
	"weftsync/internal/utils"
)

// ProtocolID is the direct-stream protocol a peer dials to reach a hub,
// matching the id the peer-side sync engine dials in room.go.
const ProtocolID = "/y-sync/1.0.0"

const statsInterval = 30 * time.Second

// Hub owns every room this process aggregates and the single protocol
// handler that accepts direct streams for all of them.
type Hub struct {
	transport    transport.Transport
	storeFactory func(models.RoomID) store.PersistentStore
	pinTracker   *content.PinTracker // nil unless running in mirror mode
	log          *utils.TaggedLogger

	mu    sync.Mutex
	rooms map[models.RoomID]*Room

	ctx context.Context
}

// New builds a Hub. pinTracker may be nil: a relay-only hub never pins
// manifest content, it only bridges and persists.
func New(t transport.Transport, storeFactory func(models.RoomID) store.PersistentStore, pinTracker *content.PinTracker, log *utils.TaggedLogger) *Hub {
	return &Hub{
		transport:    t,
		storeFactory: storeFactory,
		pinTracker:   pinTracker,
		log:          log,
		rooms:        make(map[models.RoomID]*Room),
	}
}

// Start registers the direct-stream protocol handler and the periodic
// stats logger. It does not block.
func (h *Hub) Start(ctx context.Context) {
	h.ctx = ctx
	h.transport.HandleProtocol(ProtocolID, h.handleStream)
	go h.statsLoop(ctx)
}

// GetOrCreateRoom returns the room for id, creating and loading it from
// persistence on first access. Concurrent callers racing on the same
// unseen id block on h.mu rather than double-creating the room.
func (h *Hub) GetOrCreateRoom(ctx context.Context, id models.RoomID) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if r, ok := h.rooms[id]; ok {
		return r, nil
	}

	r, err := newRoom(ctx, id, h.storeFactory(id), h.transport, h.log.With(string(id)), h.pinTracker)
	if err != nil {
		return nil, err
	}
	h.rooms[id] = r
	return r, nil
}

// handleStream services one inbound direct-sync connection end to end:
// it blocks reading the handshake, attaches the stream to its room, then
// keeps decoding Y_UPDATEs off it until the peer disconnects.
func (h *Hub) handleStream(s transport.Stream, from transport.PeerID) {
	dec := codec.NewStreamDecoder(s)
	enc := codec.NewStreamEncoder(s)

	join, err := dec.Decode()
	if err != nil || join.Tag != models.TagJoinRoom {
		h.log.Printf("stream from %s: expected JOIN_ROOM, got err=%v tag=%v", from, err, join.Tag)
		_ = s.Close()
		return
	}

	room, err := h.GetOrCreateRoom(h.roomCtx(), join.RoomID)
	if err != nil {
		h.log.Printf("join room %s from %s: %v", join.RoomID, from, err)
		_ = s.Close()
		return
	}

	if err := room.attachStream(from, s, enc); err != nil {
		h.log.Printf("attach stream for %s: %v", from, err)
		_ = s.Close()
		return
	}
	defer room.detachStream(from)

	for {
		msg, err := dec.Decode()
		if err != nil {
			return
		}
		switch msg.Tag {
		case models.TagYUpdate:
			room.handleStreamUpdate(from, msg)
		default:
			// SNAPSHOT/SNAPSHOT_REQUEST never travel over a direct
			// stream in this protocol; JOIN_ROOM only happens once.
		}
	}
}

// roomCtx is the context newly created rooms are parented under: the
// one Start was given, so a hub shutdown tears every room down with it.
func (h *Hub) roomCtx() context.Context {
	if h.ctx != nil {
		return h.ctx
	}
	return context.Background()
}

func (h *Hub) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.logStats()
		}
	}
}

// logStats is an operability contract (§4.7.5): every tick it logs the
// total connection count and the room count, then one line per room with
// that room's file/chat/stream counts. Connections are reported as one
// total; they are not broken down by transport.
func (h *Hub) logStats() {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	h.log.Printf("stats: connections=%d rooms=%d", len(h.transport.GetConnections()), len(rooms))
	for _, r := range rooms {
		files, chat, streams := r.stats()
		h.log.Printf("stats: room=%s files=%d chat=%d streams=%d", r.id, files, chat, streams)
	}
}

// Destroy tears a room down, e.g. on an admin-issued room eviction.
// Persisted state on disk is left alone.
func (h *Hub) Destroy(id models.RoomID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[id]; ok {
		r.destroy()
		delete(h.rooms, id)
	}
}
