// Package content defines the ContentClient collaborator boundary: the
// content-exchange/block layer is out of scope for this implementation,
// but the pin/unpin contract a hub drives while mirroring a room's
// manifest is fully specified and exercised against a stub.
package content

import (
	"context"
	"time"

	"weftsync/internal/models"
)

// Progress reports incremental pin status; a stub implementation may
// emit as few as one terminal value.
type Progress struct {
	FetchedBytes uint64
	Done         bool
	Err          error
}

// Client is the collaborator a hub's pinning observer drives. A real
// implementation transitively fetches and retains the blocks under a
// CID from the content-exchange/block layer; that layer itself is out
// of scope here (§1 of the room-synchronization design), so Client is
// the seam a future block-transfer implementation plugs into.
type Client interface {
	// Pin transitively fetches and retains the blocks under cid,
	// reporting progress on the returned channel until it closes.
	Pin(ctx context.Context, cid models.ContentID) (<-chan Progress, error)
	// Unpin releases a previously pinned cid.
	Unpin(ctx context.Context, cid models.ContentID) error
	// EnumerateLinks parses DAG links out of a block's raw bytes.
	EnumerateLinks(data []byte) ([]models.ContentID, error)
}

// StubClient simulates fetch latency on Pin and keeps no record of what
// was pinned or unpinned; it performs no real block transfer, since that layer is a
// collaborator boundary (§6) this implementation does not own.
type StubClient struct {
	fetchDelay time.Duration
}

func NewStubClient(fetchDelay time.Duration) *StubClient {
	return &StubClient{fetchDelay: fetchDelay}
}

func (s *StubClient) Pin(ctx context.Context, cid models.ContentID) (<-chan Progress, error) {
	ch := make(chan Progress, 1)
	go func() {
		defer close(ch)
		select {
		case <-time.After(s.fetchDelay):
			ch <- Progress{FetchedBytes: 0, Done: true}
		case <-ctx.Done():
			ch <- Progress{Err: ctx.Err()}
		}
	}()
	return ch, nil
}

func (s *StubClient) Unpin(ctx context.Context, cid models.ContentID) error {
	return nil
}

// EnumerateLinks always reports no sub-links: the stub's blocks are
// opaque leaves, never a DAG with children to chase.
func (s *StubClient) EnumerateLinks(data []byte) ([]models.ContentID, error) {
	return nil, nil
}
