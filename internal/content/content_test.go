package content

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"weftsync/internal/models"
	"weftsync/internal/utils"
)

func cid(s string) models.ContentID {
	return models.ContentID{Algo: "test", Digest: s}
}

func TestStubClientPinReportsDone(t *testing.T) {
	c := NewStubClient(time.Millisecond)
	ch, err := c.Pin(context.Background(), cid("c1"))
	require.NoError(t, err)

	var last Progress
	for p := range ch {
		last = p
	}
	require.True(t, last.Done)
	require.NoError(t, last.Err)
}

func TestStubClientPinRespectsCancellation(t *testing.T) {
	c := NewStubClient(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := c.Pin(ctx, cid("c1"))
	require.NoError(t, err)
	cancel()

	p := <-ch
	require.ErrorIs(t, p.Err, context.Canceled)
}

type countingClient struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (c *countingClient) Pin(ctx context.Context, cid models.ContentID) (<-chan Progress, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()

	ch := make(chan Progress, 1)
	if c.fail {
		ch <- Progress{Err: errors.New("simulated failure")}
	} else {
		ch <- Progress{Done: true}
	}
	close(ch)
	return ch, nil
}

func (c *countingClient) Unpin(ctx context.Context, cid models.ContentID) error { return nil }
func (c *countingClient) EnumerateLinks(data []byte) ([]models.ContentID, error) { return nil, nil }

func (c *countingClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func quietLogger() *utils.TaggedLogger {
	return utils.NewTaggedLogger("TEST", io.Discard)
}

func TestPinTrackerSkipsAlreadyPinned(t *testing.T) {
	client := &countingClient{}
	tracker := NewPinTracker(client, quietLogger())

	tracker.EnsurePinned(context.Background(), []models.ContentID{cid("c1")})
	require.Eventually(t, func() bool { return tracker.IsPinned(cid("c1")) }, time.Second, 5*time.Millisecond)

	tracker.EnsurePinned(context.Background(), []models.ContentID{cid("c1")})
	time.Sleep(20 * time.Millisecond)

	require.Equal(t, 1, client.callCount())
}

func TestPinTrackerDoesNotUnpinOnManifestShrink(t *testing.T) {
	client := &countingClient{}
	tracker := NewPinTracker(client, quietLogger())

	tracker.EnsurePinned(context.Background(), []models.ContentID{cid("c1"), cid("c2")})
	require.Eventually(t, func() bool { return tracker.Count() == 2 }, time.Second, 5*time.Millisecond)

	// A manifest update dropping c2 must not unpin it: pinning is
	// monotone, so the tracker is simply never told to drop anything.
	tracker.EnsurePinned(context.Background(), []models.ContentID{cid("c1")})
	require.True(t, tracker.IsPinned(cid("c2")))
}

func TestPinTrackerRetriesAfterFailure(t *testing.T) {
	client := &countingClient{fail: true}
	tracker := NewPinTracker(client, quietLogger())

	tracker.EnsurePinned(context.Background(), []models.ContentID{cid("c1")})
	require.Eventually(t, func() bool { return client.callCount() == 1 }, time.Second, 5*time.Millisecond)
	require.False(t, tracker.IsPinned(cid("c1")))

	tracker.EnsurePinned(context.Background(), []models.ContentID{cid("c1")})
	require.Eventually(t, func() bool { return client.callCount() == 2 }, time.Second, 5*time.Millisecond)
}
