package content

import (
	"context"
	"sync"

	"weftsync/internal/models"
	"weftsync/internal/utils"
)

// PinTracker maintains the process-wide pinnedCids set a mirror-mode hub
// mutates from its manifest observer. Pinning is monotone here: a
// manifest update that drops a CID does not unpin it, only a later
// observer tick pinning something new can grow the set.
type PinTracker struct {
	mu     sync.Mutex
	client Client
	log    *utils.TaggedLogger
	pinned map[string]bool
}

func NewPinTracker(client Client, log *utils.TaggedLogger) *PinTracker {
	return &PinTracker{client: client, log: log, pinned: make(map[string]bool)}
}

// EnsurePinned launches an async pin for every cid not already pinned or
// in flight. Already-pinned cids are skipped so a repeated manifest
// update with the same file set is a no-op.
func (t *PinTracker) EnsurePinned(ctx context.Context, cids []models.ContentID) {
	for _, cid := range cids {
		key := cid.String()

		t.mu.Lock()
		if t.pinned[key] {
			t.mu.Unlock()
			continue
		}
		t.pinned[key] = true
		t.mu.Unlock()

		go t.pinOne(ctx, cid)
	}
}

func (t *PinTracker) pinOne(ctx context.Context, cid models.ContentID) {
	progress, err := t.client.Pin(ctx, cid)
	if err != nil {
		t.log.Printf("pin failed for %s: %v", cid, err)
		t.markUnpinned(cid)
		return
	}
	for p := range progress {
		if p.Err != nil {
			t.log.Printf("pin failed for %s: %v", cid, p.Err)
			t.markUnpinned(cid)
			return
		}
	}
}

func (t *PinTracker) markUnpinned(cid models.ContentID) {
	t.mu.Lock()
	delete(t.pinned, cid.String())
	t.mu.Unlock()
}

// IsPinned reports whether cid is currently pinned or pinning.
func (t *PinTracker) IsPinned(cid models.ContentID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pinned[cid.String()]
}

// Count returns the number of tracked CIDs, for stats logging.
func (t *PinTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pinned)
}
