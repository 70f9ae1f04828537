package store

import (
	"os"
	"path/filepath"
	"sync"

	"go.etcd.io/bbolt"

	"weftsync/internal/utils"
)

var roomsBucket = []byte("rooms")

// sharedBoltHandles lets every room's BoltStore Init against the same
// dbPath reuse one *bbolt.DB rather than reopening the file: bbolt holds
// an exclusive flock per open, and a second open of the same path from
// the same process would block forever waiting on the first.
var (
	sharedBoltMu      sync.Mutex
	sharedBoltHandles = map[string]*sharedBoltHandle{}
)

type sharedBoltHandle struct {
	db   *bbolt.DB
	refs int
}

func acquireBoltDB(path string) (*bbolt.DB, error) {
	sharedBoltMu.Lock()
	defer sharedBoltMu.Unlock()

	if h, ok := sharedBoltHandles[path]; ok {
		h.refs++
		return h.db, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, err
	}
	sharedBoltHandles[path] = &sharedBoltHandle{db: db, refs: 1}
	return db, nil
}

func releaseBoltDB(path string) error {
	sharedBoltMu.Lock()
	defer sharedBoltMu.Unlock()

	h, ok := sharedBoltHandles[path]
	if !ok {
		return nil
	}
	h.refs--
	if h.refs > 0 {
		return nil
	}
	delete(sharedBoltHandles, path)
	return h.db.Close()
}

// BoltStore keeps every room's snapshot as one key in one shared bbolt
// database file, docName as the key. Unlike FileStore it amortizes the
// open-file cost across rooms at the price of a single shared lock.
type BoltStore struct {
	dbPath string
	db     *bbolt.DB
	key    []byte
}

func NewBoltStore(dir string) *BoltStore {
	return &BoltStore{dbPath: filepath.Join(dir, "rooms.db")}
}

func (b *BoltStore) Init(docName string) error {
	db, err := acquireBoltDB(b.dbPath)
	if err != nil {
		return utils.NewPersistenceError("open bbolt database").WithCause(err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(roomsBucket)
		return err
	}); err != nil {
		_ = releaseBoltDB(b.dbPath)
		return utils.NewPersistenceError("create rooms bucket").WithCause(err)
	}
	b.db = db
	b.key = []byte(docName)
	return nil
}

func (b *BoltStore) Load() ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(roomsBucket).Get(b.key)
		if v != nil {
			out = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, utils.NewPersistenceError("load snapshot").WithCause(err)
	}
	return out, nil
}

func (b *BoltStore) Save(data []byte) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(roomsBucket).Put(b.key, data)
	})
	if err != nil {
		return utils.NewPersistenceError("save snapshot").WithCause(err)
	}
	return nil
}

func (b *BoltStore) Close() error {
	if b.db == nil {
		return nil
	}
	if err := releaseBoltDB(b.dbPath); err != nil {
		return utils.NewPersistenceError("close bbolt database").WithCause(err)
	}
	b.db = nil
	return nil
}
