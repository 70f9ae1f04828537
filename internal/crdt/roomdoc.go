// Package crdt implements RoomDoc, the per-room replicated state
// container: a manifest register and a chat list that merge
// commutatively, associatively, and idempotently regardless of arrival
// order.
//
// The container is a delta-state CRDT in the style automerge's own
// Changes()/Apply() replay demonstrates (a content-addressed op log
// where re-applying a known change is a no-op): every mutation produces
// a docState that carries only the containers it touched, and merging
// two docStates merges each container independently. Chat is a grow-only
// per-key union (messages are deduplicated by MsgID, never retracted).
// Files is an atomic last-writer-wins register: SetManifest always
// replaces the whole file list in one write, so the register compares
// two whole manifests by UpdatedAt and keeps the higher one outright
// rather than unioning per-CID, which would resurrect files a later
// manifest had dropped. A full-state snapshot is simply a docState
// carrying both containers. Because both shapes use the exact same
// merge function, "apply a delta" and "apply a snapshot" are the same
// operation (matching RoomState's single ApplyUpdate entry point).
package crdt

import (
	"encoding/json"

	"weftsync/internal/models"
	"weftsync/internal/utils"
)

// Origin tags the provenance of an update so the caller can decide
// whether to rebroadcast or persist it.
type Origin string

const (
	OriginLocal     Origin = "local"
	OriginNetwork   Origin = "network"
	OriginStorage   Origin = "storage"
	OriginHubStream Origin = "hub-stream"
	OriginStream    Origin = "stream"
	OriginGossipsub Origin = "gossipsub"
)

// filesRegister is the manifest container: an atomic last-writer-wins
// register over the whole file list, not a per-CID map merged piecewise.
// SetManifest always produces a brand new Entries map, so resolving a
// conflict between two registers means picking one of them whole.
type filesRegister struct {
	Entries   map[string]models.FileEntry `json:"entries"`
	UpdatedAt int64                       `json:"updatedAt"`
}

// docState is the wire/persistence representation: a partial or full view
// of the room's replicated state. A nil Files means "no manifest change
// in this delta" — present exactly when SetManifest produced it. Chat
// nil/empty means no new messages.
type docState struct {
	Files *filesRegister                `json:"files,omitempty"`
	Chat  map[string]models.ChatMessage `json:"chat,omitempty"`
}

func emptyState() docState {
	return docState{Chat: map[string]models.ChatMessage{}}
}

// mergeState merges each container independently: Files as a whole-
// register LWW pick, Chat as a per-key union. Both operators are
// commutative and associative, so merge(merge(a,b),c) == merge(a,merge(b,c))
// and merge(a,a) == a: the three laws RoomDoc must satisfy.
func mergeState(a, b docState) docState {
	return docState{
		Files: resolveFilesRegister(a.Files, b.Files),
		Chat:  mergeChat(a.Chat, b.Chat),
	}
}

// resolveFilesRegister keeps whichever register is newer, never a
// per-CID blend of the two: a manifest that dropped a file must not
// have that file resurrected by merging against an older register that
// still lists it. Ties (equal UpdatedAt, as happens when the same
// SetManifest delta reaches a replica twice) break on the encoded form
// so every replica converges on the same register regardless of arrival
// order.
func resolveFilesRegister(a, b *filesRegister) *filesRegister {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.UpdatedAt != b.UpdatedAt {
		if a.UpdatedAt > b.UpdatedAt {
			return a
		}
		return b
	}
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	if string(bb) > string(ab) {
		return b
	}
	return a
}

func mergeChat(a, b map[string]models.ChatMessage) map[string]models.ChatMessage {
	out := make(map[string]models.ChatMessage, len(a)+len(b))
	for id, m := range a {
		out[id] = m
	}
	for id, m := range b {
		if _, ok := out[id]; !ok {
			out[id] = m
		}
	}
	return out
}

type UpdateObserver func(delta []byte, origin Origin)
type ManifestObserver func(models.Manifest)
type ChatObserver func(models.ChatMessage)

// RoomDoc is the CRDT container for one room: a manifest map and a chat
// list, with origin-tagged observers fired synchronously inside each
// mutation (§5 scheduling model: observers run on the same goroutine as
// the mutation that caused them).
type RoomDoc struct {
	state docState

	updateObservers   []UpdateObserver
	manifestObservers []ManifestObserver
	chatObservers     []ChatObserver
}

// New creates an empty RoomDoc, as happens on first Join(roomId).
func New() *RoomDoc {
	return &RoomDoc{state: emptyState()}
}

// Load reconstructs a RoomDoc from a previously saved full-state
// snapshot (§3: "identical in observable state to one rebuilt from the
// ordered sequence of deltas that produced it").
func Load(snapshot []byte) (*RoomDoc, error) {
	var st docState
	if len(snapshot) > 0 {
		if err := json.Unmarshal(snapshot, &st); err != nil {
			return nil, utils.NewPersistenceError("load room snapshot").WithCause(err)
		}
	}
	if st.Chat == nil {
		st.Chat = map[string]models.ChatMessage{}
	}
	return &RoomDoc{state: st}, nil
}

// OnUpdate registers a fresh observer and returns its unregister
// function. Callers installing room-join observers keep the returned
// funcs and call them all before installing new ones on rejoin (§9).
func (d *RoomDoc) OnUpdate(obs UpdateObserver) func() {
	d.updateObservers = append(d.updateObservers, obs)
	idx := len(d.updateObservers) - 1
	return func() { d.updateObservers[idx] = nil }
}

func (d *RoomDoc) OnManifestUpdate(obs ManifestObserver) func() {
	d.manifestObservers = append(d.manifestObservers, obs)
	idx := len(d.manifestObservers) - 1
	return func() { d.manifestObservers[idx] = nil }
}

func (d *RoomDoc) OnNewChat(obs ChatObserver) func() {
	d.chatObservers = append(d.chatObservers, obs)
	idx := len(d.chatObservers) - 1
	return func() { d.chatObservers[idx] = nil }
}

func (d *RoomDoc) fireUpdate(delta []byte, origin Origin) {
	for _, obs := range d.updateObservers {
		if obs != nil {
			obs(delta, origin)
		}
	}
}

func (d *RoomDoc) fireManifest(m models.Manifest) {
	for _, obs := range d.manifestObservers {
		if obs != nil {
			obs(m)
		}
	}
}

func (d *RoomDoc) fireChat(m models.ChatMessage) {
	for _, obs := range d.chatObservers {
		if obs != nil {
			obs(m)
		}
	}
}

// EncodeStateAsUpdate yields the full-state snapshot as bytes.
func (d *RoomDoc) EncodeStateAsUpdate() []byte {
	b, _ := json.Marshal(d.state)
	return b
}

// ApplyUpdate merges bytes (a delta or a full snapshot — both are a
// docState) into the document, firing manifest/chat observers for
// whatever actually changed. origin is never interpreted here; callers
// decide whether to rebroadcast or persist based on it.
//
// The generic update observer only fires when the merge actually moved
// the document forward (a new manifest register or a new chat key). A
// no-op merge — the same content arriving a second time over a
// different transport, which the dual-send policy in §4.5 guarantees
// happens on every local update — must not re-trigger hub relay/storage
// writes, or a hub bridging one update between its stream and gossip
// would see its own already-applied echo come back and relay it again
// forever.
func (d *RoomDoc) ApplyUpdate(data []byte, origin Origin) error {
	var incoming docState
	if err := json.Unmarshal(data, &incoming); err != nil {
		return utils.NewMalformedMessageError("apply room update").WithCause(err)
	}

	newChatIDs := diffNewChatKeys(d.state.Chat, incoming.Chat)

	merged := mergeState(d.state, incoming)
	manifestChanged := merged.Files != d.state.Files
	d.state = merged

	if manifestChanged || len(newChatIDs) > 0 {
		d.fireUpdate(data, origin)
	}
	if manifestChanged {
		d.fireManifest(d.Manifest())
	}
	for _, id := range newChatIDs {
		d.fireChat(d.state.Chat[id])
	}
	return nil
}

func diffNewChatKeys(existing, incoming map[string]models.ChatMessage) []string {
	var out []string
	for id := range incoming {
		if _, ok := existing[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// SetManifest replaces the manifest wholesale, as the local author, and
// returns the delta bytes broadcast to other replicas.
func (d *RoomDoc) SetManifest(m models.Manifest) []byte {
	entries := make(map[string]models.FileEntry, len(m.Files))
	for _, fe := range m.Files {
		entries[fe.CID.String()] = fe
	}
	delta := docState{Files: &filesRegister{Entries: entries, UpdatedAt: m.UpdatedAt}}
	d.state = mergeState(d.state, delta)

	b, _ := json.Marshal(delta)
	d.fireUpdate(b, OriginLocal)
	d.fireManifest(d.Manifest())
	return b
}

// SendChat appends a chat message as the local author and returns the
// delta bytes broadcast to other replicas. The delta carries no Files
// register at all: under atomic-replace semantics, a present-but-empty
// register would wipe the manifest on every replica that merges it.
func (d *RoomDoc) SendChat(msg models.ChatMessage) []byte {
	delta := docState{Chat: map[string]models.ChatMessage{msg.MsgID: msg}}
	d.state = mergeState(d.state, delta)

	b, _ := json.Marshal(delta)
	d.fireUpdate(b, OriginLocal)
	d.fireChat(msg)
	return b
}

// Manifest returns the current manifest view. Files are returned in a
// deterministic order (by CID string) since the underlying container is
// a map: order is informational per §3, not a correctness property.
func (d *RoomDoc) Manifest() models.Manifest {
	if d.state.Files == nil {
		return models.Manifest{}
	}
	files := make([]models.FileEntry, 0, len(d.state.Files.Entries))
	for _, fe := range d.state.Files.Entries {
		files = append(files, fe)
	}
	sortFileEntries(files)
	return models.Manifest{Files: files, UpdatedAt: d.state.Files.UpdatedAt}
}

// Chat returns the current chat transcript ordered by (Ts, MsgID) for a
// stable total order shared by every replica once converged.
func (d *RoomDoc) Chat() []models.ChatMessage {
	out := make([]models.ChatMessage, 0, len(d.state.Chat))
	for _, m := range d.state.Chat {
		out = append(out, m)
	}
	sortChatMessages(out)
	return out
}

func sortFileEntries(fe []models.FileEntry) {
	for i := 1; i < len(fe); i++ {
		for j := i; j > 0 && fe[j-1].CID.String() > fe[j].CID.String(); j-- {
			fe[j-1], fe[j] = fe[j], fe[j-1]
		}
	}
}

func sortChatMessages(msgs []models.ChatMessage) {
	for i := 1; i < len(msgs); i++ {
		for j := i; j > 0 && less(msgs[j], msgs[j-1]); j-- {
			msgs[j-1], msgs[j] = msgs[j], msgs[j-1]
		}
	}
}

func less(a, b models.ChatMessage) bool {
	if a.Ts != b.Ts {
		return a.Ts < b.Ts
	}
	return a.MsgID < b.MsgID
}
