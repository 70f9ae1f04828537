package sync

import (
	"context"
	stdsync "sync"

	"weftsync/internal/models"
	"weftsync/internal/outbox"
	"weftsync/internal/store"
	"weftsync/internal/transport"
	"weftsync/internal/utils"
)

// Engine owns every joined room for one peer process and the single
// outbox-nudge pump driven by the transport's peer-connect events.
type Engine struct {
	transport    transport.Transport
	storeFactory func(models.RoomID) store.PersistentStore
	log          *utils.TaggedLogger

	mu    stdsync.Mutex
	rooms map[models.RoomID]*Room
}

// NewEngine wires an Engine over t, spawning the goroutine that nudges
// every room's outbox whenever a new peer connects.
func NewEngine(ctx context.Context, t transport.Transport, storeFactory func(models.RoomID) store.PersistentStore, log *utils.TaggedLogger) *Engine {
	e := &Engine{
		transport:    t,
		storeFactory: storeFactory,
		log:          log,
		rooms:        make(map[models.RoomID]*Room),
	}
	go e.watchPeerEvents(ctx)
	return e
}

func (e *Engine) watchPeerEvents(ctx context.Context) {
	events := e.transport.PeerEvents()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Kind == transport.PeerConnected {
				e.nudgeAllOutboxes()
			}
		}
	}
}

func (e *Engine) nudgeAllOutboxes() {
	e.mu.Lock()
	obs := make([]*outbox.Outbox, 0, len(e.rooms))
	for _, r := range e.rooms {
		obs = append(obs, r.outbox)
	}
	e.mu.Unlock()

	for _, ob := range obs {
		ob.NudgeAll()
	}
}

// Join is idempotent: a second Join for a roomId already held tears
// down and reinstalls observers on the existing room rather than
// creating a duplicate.
func (e *Engine) Join(ctx context.Context, opts JoinOptions) (*RoomHandle, error) {
	if !utils.ValidRoomID(string(opts.RoomID)) {
		return nil, utils.NewInvalidArgumentError("room id must be at least 16 characters")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.rooms[opts.RoomID]; ok {
		existing.rejoin(opts)
		return existing, nil
	}

	r := &Room{
		id:        opts.RoomID,
		topic:     opts.RoomID.Topic(),
		transport: e.transport,
		store:     e.storeFactory(opts.RoomID),
		log:       e.log.With(string(opts.RoomID)),
	}
	r.outbox = outbox.New(ctx, &transportPublisher{t: e.transport}, r.log)

	if err := r.start(ctx, opts); err != nil {
		r.outbox.Close()
		return nil, err
	}
	e.rooms[opts.RoomID] = r
	return r, nil
}

// Destroy tears a room down and removes it from the engine's registry.
// Persisted state on disk is left alone.
func (e *Engine) Destroy(roomID models.RoomID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if r, ok := e.rooms[roomID]; ok {
		r.Destroy()
		delete(e.rooms, roomID)
	}
}

// Room looks up an already-joined room by id, for callers that don't
// hold onto the handle Join returned (e.g. the operator console).
func (e *Engine) Room(roomID models.RoomID) (*RoomHandle, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.rooms[roomID]
	return r, ok
}
