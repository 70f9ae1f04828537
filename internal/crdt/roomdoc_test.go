package crdt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"weftsync/internal/models"
)

func cid(s string) models.ContentID {
	return models.ContentID{Algo: "test", Digest: s}
}

func TestConvergenceAcrossInterleavedMutations(t *testing.T) {
	a := New()
	b := New()

	da := a.SetManifest(models.Manifest{Files: []models.FileEntry{{Name: "a.txt", CID: cid("c1")}}, UpdatedAt: 10})
	db := b.SendChat(models.ChatMessage{MsgID: "m1", Text: "hi", From: "p2", Ts: 5})

	require.NoError(t, a.ApplyUpdate(db, OriginNetwork))
	require.NoError(t, b.ApplyUpdate(da, OriginNetwork))

	require.Equal(t, a.EncodeStateAsUpdate(), b.EncodeStateAsUpdate())
}

func TestIdempotence(t *testing.T) {
	a := New()
	delta := a.SetManifest(models.Manifest{Files: []models.FileEntry{{Name: "a.txt", CID: cid("c1")}}, UpdatedAt: 1})

	before := a.EncodeStateAsUpdate()
	require.NoError(t, a.ApplyUpdate(delta, OriginNetwork))
	require.NoError(t, a.ApplyUpdate(delta, OriginNetwork))
	require.JSONEq(t, string(before), string(a.EncodeStateAsUpdate()))
}

func TestPersistenceRoundTrip(t *testing.T) {
	a := New()
	a.SetManifest(models.Manifest{Files: []models.FileEntry{{Name: "a.txt", CID: cid("c1")}}, UpdatedAt: 7})
	a.SendChat(models.ChatMessage{MsgID: "m1", Text: "hi", From: "p1", Ts: 1})

	snap := a.EncodeStateAsUpdate()
	reloaded, err := Load(snap)
	require.NoError(t, err)
	require.JSONEq(t, string(snap), string(reloaded.EncodeStateAsUpdate()))
}

func TestChatDedupByMsgID(t *testing.T) {
	a := New()
	a.SendChat(models.ChatMessage{MsgID: "m1", Text: "hi", From: "p1", Ts: 1})

	var fired int
	a.OnNewChat(func(models.ChatMessage) { fired++ })

	// Re-sending the same msgId via the network path must not duplicate
	// the chat transcript or notify observers again.
	dup := models.ChatMessage{MsgID: "m1", Text: "hi", From: "p1", Ts: 1}
	delta := docState{Chat: map[string]models.ChatMessage{dup.MsgID: dup}}
	b, _ := json.Marshal(delta)
	require.NoError(t, a.ApplyUpdate(b, OriginNetwork))

	require.Equal(t, 0, fired)
	require.Len(t, a.Chat(), 1)
}

func TestManifestObserverFiresOnlyOnChange(t *testing.T) {
	a := New()
	var fired int
	a.OnManifestUpdate(func(models.Manifest) { fired++ })

	a.SetManifest(models.Manifest{Files: []models.FileEntry{{Name: "a.txt", CID: cid("c1")}}, UpdatedAt: 1})
	require.Equal(t, 1, fired)

	// Re-applying the identical manifest delta introduces no new file key
	// and no newer UpdatedAt, so the observer must not fire again.
	sameDelta := docState{Files: &filesRegister{Entries: map[string]models.FileEntry{"test:c1": {Name: "a.txt", CID: cid("c1")}}, UpdatedAt: 1}}
	b, _ := json.Marshal(sameDelta)
	require.NoError(t, a.ApplyUpdate(b, OriginNetwork))
	require.Equal(t, 1, fired)
}

func TestManifestReplaceDropsStaleFiles(t *testing.T) {
	a := New()
	a.SetManifest(models.Manifest{Files: []models.FileEntry{{Name: "a.txt", CID: cid("c1")}, {Name: "b.txt", CID: cid("c2")}}, UpdatedAt: 1})
	require.Len(t, a.Manifest().Files, 2)

	// A later wholesale SetManifest that drops c2 must not have c2 linger
	// through a per-CID union with the earlier register.
	a.SetManifest(models.Manifest{Files: []models.FileEntry{{Name: "a.txt", CID: cid("c1")}}, UpdatedAt: 2})
	require.Len(t, a.Manifest().Files, 1)
	require.Equal(t, cid("c1"), a.Manifest().Files[0].CID)
}

func TestManifestMergeKeepsNewerRegisterEvenOutOfOrder(t *testing.T) {
	a := New()
	older := docState{Files: &filesRegister{Entries: map[string]models.FileEntry{"test:c1": {Name: "a.txt", CID: cid("c1")}}, UpdatedAt: 1}}
	newer := docState{Files: &filesRegister{Entries: map[string]models.FileEntry{"test:c2": {Name: "b.txt", CID: cid("c2")}}, UpdatedAt: 2}}

	ob, _ := json.Marshal(older)
	nb, _ := json.Marshal(newer)

	// Arrival order reversed: the newer register must still win.
	require.NoError(t, a.ApplyUpdate(nb, OriginNetwork))
	require.NoError(t, a.ApplyUpdate(ob, OriginNetwork))

	files := a.Manifest().Files
	require.Len(t, files, 1)
	require.Equal(t, cid("c2"), files[0].CID)
}

func TestObserverHygieneAcrossRejoin(t *testing.T) {
	a := New()
	var firstCount, secondCount int

	unregister := a.OnManifestUpdate(func(models.Manifest) { firstCount++ })
	unregister()
	a.OnManifestUpdate(func(models.Manifest) { secondCount++ })

	a.SetManifest(models.Manifest{Files: []models.FileEntry{{Name: "a.txt", CID: cid("c1")}}, UpdatedAt: 1})
	require.Equal(t, 0, firstCount)
	require.Equal(t, 1, secondCount)
}
