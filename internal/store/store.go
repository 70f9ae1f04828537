// Package store provides PersistentStore, the append-or-overwrite byte
// storage for a room's replicated state, behind two interchangeable
// back-ends: direct file handles and an embedded key-value store.
package store

// PersistentStore persists exactly one room's full-state snapshot.
// Save MUST be treated as whole-state replacement, never append: the
// snapshot law lets the caller collapse history into one blob per save.
type PersistentStore interface {
	// Init prepares storage for docName (typically a RoomID).
	Init(docName string) error
	// Load returns the most recently saved snapshot, or (nil, nil) if
	// none has ever been saved.
	Load() ([]byte, error)
	// Save atomically replaces the stored snapshot.
	Save(data []byte) error
	// Close releases any resources held open by Init.
	Close() error
}
