package sync

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"weftsync/internal/models"
	"weftsync/internal/store"
	"weftsync/internal/transport"
	"weftsync/internal/utils"
)

type memStore struct {
	mu   sync.Mutex
	data []byte
}

func (m *memStore) Init(docName string) error { return nil }
func (m *memStore) Load() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data, nil
}
func (m *memStore) Save(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte(nil), data...)
	return nil
}
func (m *memStore) Close() error { return nil }

func memStoreFactory() func(models.RoomID) store.PersistentStore {
	stores := map[models.RoomID]*memStore{}
	var mu sync.Mutex
	return func(id models.RoomID) store.PersistentStore {
		mu.Lock()
		defer mu.Unlock()
		if s, ok := stores[id]; ok {
			return s
		}
		s := &memStore{}
		stores[id] = s
		return s
	}
}

func quietLogger(tag string) *utils.TaggedLogger {
	return utils.NewTaggedLogger(tag, io.Discard)
}

func TestJoinConvergesManifestAndChatBetweenTwoPeers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := transport.NewBroker()
	tA := transport.NewFake(broker, "peerA")
	tB := transport.NewFake(broker, "peerB")

	engA := NewEngine(ctx, tA, memStoreFactory(), quietLogger("A"))
	engB := NewEngine(ctx, tB, memStoreFactory(), quietLogger("B"))

	roomID := models.RoomID("abcdef0123456789")

	var bManifests []models.Manifest
	var mu sync.Mutex
	roomB, err := engB.Join(ctx, JoinOptions{
		RoomID: roomID,
		OnManifestUpdate: func(m models.Manifest) {
			mu.Lock()
			bManifests = append(bManifests, m)
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer roomB.Destroy()

	roomA, err := engA.Join(ctx, JoinOptions{RoomID: roomID})
	require.NoError(t, err)
	defer roomA.Destroy()

	roomA.SetManifest(models.Manifest{
		Files:     []models.FileEntry{{Name: "a.txt", CID: models.ContentID{Algo: "blake3", Digest: "c1"}}},
		UpdatedAt: 1,
	})

	require.Eventually(t, func() bool {
		return len(roomB.Manifest().Files) == 1
	}, 2*time.Second, 10*time.Millisecond)

	roomB.SendChat(models.ChatMessage{MsgID: "m1", Text: "hi", From: "peerB", Ts: 1})

	require.Eventually(t, func() bool {
		return len(roomA.Chat()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	gotManifestCallback := len(bManifests) > 0
	mu.Unlock()
	require.True(t, gotManifestCallback)
}

func TestRejoinReinstallsObserversWithoutAccumulating(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := transport.NewBroker()
	tA := transport.NewFake(broker, "peerA")
	eng := NewEngine(ctx, tA, memStoreFactory(), quietLogger("A"))

	roomID := models.RoomID("abcdef0123456789")

	var firstCount, secondCount int
	var mu sync.Mutex

	room, err := eng.Join(ctx, JoinOptions{
		RoomID: roomID,
		OnManifestUpdate: func(models.Manifest) {
			mu.Lock()
			firstCount++
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	defer room.Destroy()

	room2, err := eng.Join(ctx, JoinOptions{
		RoomID: roomID,
		OnManifestUpdate: func(models.Manifest) {
			mu.Lock()
			secondCount++
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.Same(t, room, room2)

	room.SetManifest(models.Manifest{Files: []models.FileEntry{{Name: "a.txt", CID: models.ContentID{Algo: "blake3", Digest: "c1"}}}, UpdatedAt: 1})

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0, firstCount)
	require.Equal(t, 1, secondCount)
}

func TestSyncStateTransitionsToSyncedOnDelta(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := transport.NewBroker()
	tA := transport.NewFake(broker, "peerA")
	tB := transport.NewFake(broker, "peerB")

	engA := NewEngine(ctx, tA, memStoreFactory(), quietLogger("A"))
	engB := NewEngine(ctx, tB, memStoreFactory(), quietLogger("B"))

	roomID := models.RoomID("abcdef0123456789")

	roomB, err := engB.Join(ctx, JoinOptions{RoomID: roomID})
	require.NoError(t, err)
	defer roomB.Destroy()

	roomA, err := engA.Join(ctx, JoinOptions{RoomID: roomID})
	require.NoError(t, err)
	defer roomA.Destroy()

	require.Equal(t, models.SyncSyncing, roomA.SyncState())

	roomA.SetManifest(models.Manifest{Files: []models.FileEntry{{Name: "a.txt", CID: models.ContentID{Algo: "blake3", Digest: "c1"}}}, UpdatedAt: 1})

	require.Eventually(t, func() bool {
		return roomB.SyncState() == models.SyncSynced
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDestroyStopsRoomWithoutPanicking(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := transport.NewBroker()
	tA := transport.NewFake(broker, "peerA")
	eng := NewEngine(ctx, tA, memStoreFactory(), quietLogger("A"))

	roomID := models.RoomID("abcdef0123456789")
	room, err := eng.Join(ctx, JoinOptions{RoomID: roomID})
	require.NoError(t, err)

	eng.Destroy(roomID)
	_, ok := eng.Room(roomID)
	require.False(t, ok)

	// Calls after destroy must not panic even though the room goroutine
	// has exited; exec's ctx.Done() branch makes this a no-op.
	room.SendChat(models.ChatMessage{MsgID: "m1", Text: "after destroy", From: "peerA", Ts: 1})
}
