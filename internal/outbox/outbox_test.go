package outbox

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"weftsync/internal/models"
	"weftsync/internal/utils"
)

type fakePublisher struct {
	mu          sync.Mutex
	subscribers map[string]bool
	published   map[string][]models.ControlMsg
	failNext    map[string]int
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		subscribers: make(map[string]bool),
		published:   make(map[string][]models.ControlMsg),
		failNext:    make(map[string]int),
	}
}

func (f *fakePublisher) Publish(ctx context.Context, topic string, msg models.ControlMsg) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext[topic] > 0 {
		f.failNext[topic]--
		return utils.NewTransportUnavailableError("simulated publish failure")
	}
	f.published[topic] = append(f.published[topic], msg)
	return nil
}

func (f *fakePublisher) HasSubscribers(topic string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribers[topic]
}

func (f *fakePublisher) setSubscribed(topic string, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers[topic] = v
}

func (f *fakePublisher) countPublished(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published[topic])
}

func quietLogger() *utils.TaggedLogger {
	return utils.NewTaggedLogger("TEST", io.Discard)
}

func TestEnqueueFlushesOnceSubscribed(t *testing.T) {
	pub := newFakePublisher()
	ob := New(context.Background(), pub, quietLogger())
	defer ob.Close()

	pub.setSubscribed("room/abc", true)
	ob.Enqueue("room/abc", models.ControlMsg{Tag: models.TagYUpdate, RoomID: "abcdef0123456789"})

	require.Eventually(t, func() bool {
		return pub.countPublished("room/abc") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEnqueueWaitsForSubscribersThenNudge(t *testing.T) {
	pub := newFakePublisher()
	ob := New(context.Background(), pub, quietLogger())
	defer ob.Close()

	ob.Enqueue("room/abc", models.ControlMsg{Tag: models.TagYUpdate, RoomID: "abcdef0123456789"})

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 0, pub.countPublished("room/abc"))

	pub.setSubscribed("room/abc", true)
	ob.NudgeAll()

	require.Eventually(t, func() bool {
		return pub.countPublished("room/abc") == 1
	}, time.Second, 5*time.Millisecond)
}

func TestPublishFailureRequeuesAtHead(t *testing.T) {
	pub := newFakePublisher()
	pub.setSubscribed("room/abc", true)
	pub.failNext["room/abc"] = 1

	ob := New(context.Background(), pub, quietLogger())
	defer ob.Close()

	first := models.ControlMsg{Tag: models.TagYUpdate, RoomID: "abcdef0123456789", MsgID: "m1"}
	ob.Enqueue("room/abc", first)

	require.Eventually(t, func() bool {
		return pub.countPublished("room/abc") == 1
	}, 2*time.Second, 5*time.Millisecond)

	pub.mu.Lock()
	got := pub.published["room/abc"][0]
	pub.mu.Unlock()
	require.Equal(t, first, got)
}

func TestQueueDepthCapDropsOldest(t *testing.T) {
	pub := newFakePublisher()
	ob := New(context.Background(), pub, quietLogger())
	defer ob.Close()

	for i := 0; i < maxQueueDepth+10; i++ {
		ob.Enqueue("room/abc", models.ControlMsg{Tag: models.TagYUpdate, RoomID: "abcdef0123456789"})
	}

	ob.mu.Lock()
	depth := len(ob.entries["room/abc"].queue)
	ob.mu.Unlock()
	require.Equal(t, maxQueueDepth, depth)
}

func TestCloseDropsQueuedWithoutPanic(t *testing.T) {
	pub := newFakePublisher()
	ob := New(context.Background(), pub, quietLogger())

	ob.Enqueue("room/abc", models.ControlMsg{Tag: models.TagYUpdate, RoomID: "abcdef0123456789"})
	ob.Close()
}
