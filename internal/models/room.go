// Package models defines the data types shared by every layer of the room
// synchronization subsystem: room/peer/content identifiers, the manifest
// and chat records that make up a room's replicated state, and the
// control-message envelope exchanged over gossip and direct streams.
package models

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// RoomID is an opaque string, 16+ characters, treated as a bag of bytes.
// Its gossip topic is "wc/<RoomID>".
type RoomID string

// Topic returns the gossip topic this room replicates over.
func (r RoomID) Topic() string {
	return "wc/" + string(r)
}

// PeerID names a participant. It doubles as the CRDT author tag and the
// key under which a hub tracks a peer's direct stream.
type PeerID string

// ContentID is a self-describing content hash identifying a byte blob.
// This implementation derives it from a plain (unkeyed) BLAKE3-256 digest,
// hex-encoded; the content-
// exchange/block layer that would resolve a ContentID to bytes is an
// external collaborator (see ContentClient).
type ContentID struct {
	Algo   string `json:"algo"`
	Digest string `json:"digest"` // hex-encoded
}

func (c ContentID) String() string {
	return c.Algo + ":" + c.Digest
}

// ComputeContentID hashes data with BLAKE3 and wraps the digest as a CID.
func ComputeContentID(data []byte) ContentID {
	sum := blake3.Sum256(data)
	return ContentID{Algo: "blake3-256", Digest: hex.EncodeToString(sum[:])}
}

// FileEntry is one manifest record. Name and Size are informational; CID
// is authoritative.
type FileEntry struct {
	Name string    `json:"name"`
	Size *uint64   `json:"size,omitempty"`
	CID  ContentID `json:"cid"`
}

// Manifest is the shared file list for a room. Files has set semantics on
// CID: the replication layer de-duplicates by CID, not by list position.
type Manifest struct {
	Files     []FileEntry `json:"files"`
	UpdatedAt int64       `json:"updatedAt"`
}

// ChatMessage is one chat record, deduplicated by MsgID.
type ChatMessage struct {
	MsgID string `json:"msgId"`
	Text  string `json:"text"`
	From  PeerID `json:"from"`
	Ts    int64  `json:"ts"`
}

// SyncState is the monotone lifecycle of a RoomDoc's replication: a
// document only moves backward to Syncing on an explicit rejoin.
type SyncState string

const (
	SyncLoading SyncState = "loading"
	SyncSyncing SyncState = "syncing"
	SyncSynced  SyncState = "synced"
)

// RoomMeta is the directory record kept by LocalStore: enough to populate
// a home screen without rejoining the network.
type RoomMeta struct {
	ID       RoomID   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Manifest Manifest `json:"manifest,omitempty"`
	LastSeen int64    `json:"lastSeen,omitempty"`
}
