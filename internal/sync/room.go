// Package sync implements the peer-side room synchronization engine:
// one actor goroutine per room serializes every mutation to its
// replicated document, exactly as the concurrency model requires (all
// RoomDoc writes happen on the room's own goroutine, fed by a mailbox).
package sync

import (
	"context"
	"time"

	"weftsync/internal/codec"
	"weftsync/internal/crdt"
	"weftsync/internal/models"
	"weftsync/internal/outbox"
	"weftsync/internal/store"
	"weftsync/internal/transport"
	"weftsync/internal/utils"
)

// ProtocolID is the well-known libp2p stream protocol a peer dials to
// reach a hub directly, bypassing the gossip mesh.
const ProtocolID = "/y-sync/1.0.0"

const meshTimeout = 10 * time.Second

// JoinOptions configures a Join or re-Join call. Handlers are optional;
// a rejoin with different handlers tears down the previous set before
// installing the new one, never accumulating observers.
type JoinOptions struct {
	RoomID           models.RoomID
	HubPeer          transport.PeerID
	OnManifestUpdate func(models.Manifest)
	OnNewChat        func(models.ChatMessage)
	OnFileRequest    func(cids []models.ContentID, from models.PeerID)
}

// RoomHandle is the public face of a joined room.
type RoomHandle = Room

// Room is the per-room actor: a single goroutine (run) owns the RoomDoc
// and every mutation to it, fed by a buffered mailbox channel exactly as
// the scheduling model requires.
type Room struct {
	id        models.RoomID
	topic     string
	transport transport.Transport
	store     store.PersistentStore
	outbox    *outbox.Outbox
	doc       *crdt.RoomDoc
	log       *utils.TaggedLogger

	seen    *seenSet
	mailbox chan func()
	inbound <-chan transport.Message

	ctx    context.Context
	cancel context.CancelFunc

	syncState models.SyncState

	manifestUnregister func()
	chatUnregister      func()
	fileRequestHandlers []func([]models.ContentID, models.PeerID)

	hubStream transport.Stream
	hubEnc    *codec.StreamEncoder
}

func (r *Room) start(ctx context.Context, opts JoinOptions) error {
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mailbox = make(chan func(), 64)
	r.seen = newSeenSet()
	r.syncState = models.SyncLoading

	if err := r.store.Init(string(r.id)); err != nil {
		return err
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

	inbound, err := r.transport.Subscribe(r.ctx, r.topic)
	if err != nil {
		return err
	}
	r.inbound = inbound

	r.applyOptions(opts)
	r.syncState = models.SyncSyncing

	if opts.HubPeer != "" {
		go r.dialHub(opts.HubPeer)
	}

	go r.run()
	return nil
}

// rejoin reinstalls observers without touching document state or
// restarting the subscription, matching Join's idempotence contract.
func (r *Room) rejoin(opts JoinOptions) {
	r.exec(func() { r.applyOptions(opts) })
}

func (r *Room) applyOptions(opts JoinOptions) {
	if r.manifestUnregister != nil {
		r.manifestUnregister()
	}
	if r.chatUnregister != nil {
		r.chatUnregister()
	}
	r.fileRequestHandlers = nil

	if opts.OnManifestUpdate != nil {
		r.manifestUnregister = r.doc.OnManifestUpdate(opts.OnManifestUpdate)
	} else {
		r.manifestUnregister = nil
	}
	if opts.OnNewChat != nil {
		r.chatUnregister = r.doc.OnNewChat(opts.OnNewChat)
	} else {
		r.chatUnregister = nil
	}
	if opts.OnFileRequest != nil {
		r.fileRequestHandlers = append(r.fileRequestHandlers, opts.OnFileRequest)
	}
}

// exec runs f on the room's own goroutine and waits for it to finish,
// the same pattern the mailbox gives every external caller for reading
// or mutating doc state without a separate lock.
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

func (r *Room) run() {
	defer r.cleanupOnExit()

	initialDelay := utils.JitteredDelay(1000*time.Millisecond, 1000*time.Millisecond)
	ticker := time.NewTimer(initialDelay)
	defer ticker.Stop()
	joinedAt := time.Now()

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
			if msg.From == "" {
				msg.From = models.PeerID(raw.From)
			}
			r.handleInbound(msg, crdt.OriginNetwork)
		case <-ticker.C:
			if r.syncState == models.SyncSynced {
				continue
			}
			r.maybePublishSnapshotRequest(joinedAt)
			ticker.Reset(utils.JitteredDelay(2000*time.Millisecond, 3000*time.Millisecond))
		}
	}
}

func (r *Room) cleanupOnExit() {
	if r.hubStream != nil {
		_ = r.hubStream.Close()
	}
	if err := r.transport.Unsubscribe(r.topic); err != nil {
		r.log.Printf("unsubscribe: %v", err)
	}
}

func (r *Room) maybePublishSnapshotRequest(joinedAt time.Time) {
	subs := r.transport.GetSubscribers(r.topic)
	globalPeers := r.transport.GetPeers()
	meshTimedOut := time.Since(joinedAt) >= meshTimeout
	if len(subs) == 0 && len(globalPeers) > 0 && !meshTimedOut {
		return
	}
	r.publish(codec.NewMsg(models.TagSnapshotRequest, r.id))
}

// handleInbound applies the seen-set/TTL forwarding policy shared by
// every inbound control message, then dispatches by tag.
func (r *Room) handleInbound(msg models.ControlMsg, origin crdt.Origin) {
	if msg.MsgID != "" {
		if r.seen.Contains(msg.MsgID) {
			return
		}
		r.seen.Add(msg.MsgID)
	}

	r.dispatch(msg, origin)

	// Only network (gossip-mesh) origin gets the one-hop forward: §4.5
	// excludes storage/hub-stream origin from rebroadcast. A hub stream
	// is a direct point-to-point link, not a mesh hop that needs relay,
	// and re-forwarding a hub-stream delivery onto gossip is exactly the
	// amplification path that lets a hub and a dual-connected peer echo
	// one update back and forth indefinitely.
	if origin == crdt.OriginNetwork && msg.MsgID != "" && msg.TTL > 0 {
		fwd := msg
		fwd.TTL--
		delay := utils.JitteredDelay(50*time.Millisecond, 120*time.Millisecond)
		time.AfterFunc(delay, func() {
			select {
			case r.mailbox <- func() { r.publish(fwd) }:
			case <-r.ctx.Done():
			}
		})
	}
}

func (r *Room) dispatch(msg models.ControlMsg, origin crdt.Origin) {
	switch msg.Tag {
	case models.TagYUpdate:
		if err := r.doc.ApplyUpdate(msg.Update, origin); err != nil {
			r.log.Printf("apply Y_UPDATE: %v", err)
			return
		}
		r.markSynced()

	case models.TagSyncFullState:
		// Only arrives over the hub stream, right after JOIN_ROOM: the
		// hub's authoritative state at attach time. No inverse reply
		// needed, the hub already has what it just sent.
		if err := r.doc.ApplyUpdate(msg.Update, origin); err != nil {
			r.log.Printf("apply SYNC_FULL_STATE: %v", err)
			return
		}
		r.markSynced()

	case models.TagSnapshotRequest:
		resp := codec.NewMsg(models.TagSnapshot, r.id)
		resp.Update = r.doc.EncodeStateAsUpdate()
		r.publish(resp)

	case models.TagSnapshot:
		if err := r.doc.ApplyUpdate(msg.Update, origin); err != nil {
			r.log.Printf("apply SNAPSHOT: %v", err)
			return
		}
		r.markSynced()
		inverse := codec.NewMsg(models.TagYUpdate, r.id)
		inverse.Update = r.doc.EncodeStateAsUpdate()
		r.publish(inverse)

	case models.TagFileRequest:
		for _, h := range r.fileRequestHandlers {
			if h != nil {
				h(msg.CIDs, msg.From)
			}
		}

	default:
		// Unrecognized tags never reach here: the codec already rejects
		// them. A recognized tag with no handling path above is a no-op.
	}
}

func (r *Room) markSynced() {
	r.syncState = models.SyncSynced
}

// onDocUpdate is registered once at room creation (not torn down on
// rejoin, unlike caller-supplied observers): it is the engine's own
// persistence and rebroadcast wiring, always present for the life of
// the room.
func (r *Room) onDocUpdate(delta []byte, origin crdt.Origin) {
	if origin != crdt.OriginStorage {
		if err := r.store.Save(r.doc.EncodeStateAsUpdate()); err != nil {
			r.log.Printf("save room state: %v", err)
		}
	}

	if origin == crdt.OriginLocal {
		msg := codec.NewMsg(models.TagYUpdate, r.id)
		msg.Update = delta
		if r.hubEnc != nil {
			if err := r.hubEnc.Encode(msg); err != nil {
				r.log.Printf("send Y_UPDATE to hub stream: %v", err)
			}
		}
		r.publish(msg)
	}
}

// publish routes through the Outbox when nobody is subscribed yet,
// otherwise publishes directly.
func (r *Room) publish(msg models.ControlMsg) {
	if len(r.transport.GetSubscribers(r.topic)) == 0 {
		r.outbox.Enqueue(r.topic, msg)
		return
	}
	data, err := codec.EncodeGossip(msg)
	if err != nil {
		r.log.Printf("encode control message: %v", err)
		return
	}
	if err := r.transport.Publish(r.ctx, r.topic, data); err != nil {
		if utils.Is(err, utils.KindNoSubscribers) {
			r.outbox.Enqueue(r.topic, msg)
			return
		}
		r.log.Printf("publish failed: %v", err)
	}
}

// dialHub opens a direct stream to hubPeer, performs the JOIN_ROOM
// handshake, and feeds every subsequent message back into the room's
// mailbox tagged with origin hub-stream. Any I/O error on the read loop
// tears the stream down and lets the room fall back to gossip only.
func (r *Room) dialHub(hubPeer transport.PeerID) {
	stream, err := r.transport.DialProtocol(r.ctx, hubPeer, ProtocolID)
	if err != nil {
		r.log.Printf("dial hub %s: %v", hubPeer, err)
		return
	}

	enc := codec.NewStreamEncoder(stream)
	dec := codec.NewStreamDecoder(stream)

	if err := enc.Encode(codec.NewMsg(models.TagJoinRoom, r.id)); err != nil {
		r.log.Printf("send JOIN_ROOM to hub: %v", err)
		_ = stream.Close()
		return
	}

	select {
	case r.mailbox <- func() {
		r.hubStream = stream
		r.hubEnc = enc
	}:
	case <-r.ctx.Done():
		_ = stream.Close()
		return
	}

	for {
		msg, err := dec.Decode()
		if err != nil {
			r.closeHubStream()
			return
		}
		m := msg
		select {
		case r.mailbox <- func() { r.handleInbound(m, crdt.OriginHubStream) }:
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Room) closeHubStream() {
	select {
	case r.mailbox <- func() {
		if r.hubStream != nil {
			_ = r.hubStream.Close()
		}
		r.hubStream = nil
		r.hubEnc = nil
	}:
	case <-r.ctx.Done():
	}
}

// SendChat appends msg as a local author, broadcasting the resulting
// delta to the hub stream (if any) and gossip.
func (r *Room) SendChat(msg models.ChatMessage) {
	r.exec(func() { r.doc.SendChat(msg) })
}

// SetManifest replaces the manifest wholesale as the local author.
func (r *Room) SetManifest(m models.Manifest) {
	r.exec(func() { r.doc.SetManifest(m) })
}

// RequestFiles broadcasts a FILE_REQUEST for cids, an optimization
// signal only: a mirror-mode hub's pinning observer covers correctness
// independently.
func (r *Room) RequestFiles(cids []models.ContentID, from models.PeerID) {
	r.exec(func() {
		msg := codec.NewMsg(models.TagFileRequest, r.id)
		msg.CIDs = cids
		msg.From = from
		r.publish(msg)
	})
}

// Subscribe registers handler for non-CRDT control messages (currently
// just FILE_REQUEST) and returns an unregister function.
func (r *Room) Subscribe(handler func(cids []models.ContentID, from models.PeerID)) func() {
	var unregister func()
	r.exec(func() {
		r.fileRequestHandlers = append(r.fileRequestHandlers, handler)
		idx := len(r.fileRequestHandlers) - 1
		unregister = func() {
			r.exec(func() {
				if idx < len(r.fileRequestHandlers) {
					r.fileRequestHandlers[idx] = nil
				}
			})
		}
	})
	return unregister
}

// Manifest returns the room's current manifest view.
func (r *Room) Manifest() models.Manifest {
	var out models.Manifest
	r.exec(func() { out = r.doc.Manifest() })
	return out
}

// Chat returns the room's current chat transcript.
func (r *Room) Chat() []models.ChatMessage {
	var out []models.ChatMessage
	r.exec(func() { out = r.doc.Chat() })
	return out
}

// SyncState reports the room's current loading/syncing/synced state.
func (r *Room) SyncState() models.SyncState {
	var out models.SyncState
	r.exec(func() { out = r.syncState })
	return out
}

// HubConnected reports whether a direct hub stream is currently open,
// for status-line reporting.
func (r *Room) HubConnected() bool {
	var out bool
	r.exec(func() { out = r.hubStream != nil })
	return out
}

// Destroy tears the room down: subscriptions, the hub stream, and the
// outbox all stop. Persisted state on disk is left alone.
func (r *Room) Destroy() {
	r.cancel()
	r.outbox.Close()
}
