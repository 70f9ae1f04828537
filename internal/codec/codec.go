// Package codec frames the control messages exchanged over gossip topics
// and direct sync streams: JOIN_ROOM, SYNC_FULL_STATE, Y_UPDATE,
// SNAPSHOT_REQUEST, SNAPSHOT, FILE_REQUEST.
package codec

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"weftsync/internal/models"
	"weftsync/internal/utils"
)

// EncodeGossip marshals msg as the single JSON payload published on a
// gossip topic. Callers construct msg via NewMsg so MsgID/TTL defaults
// are already applied; Encode never mutates them, since a forwarded
// message's already-decremented TTL must round-trip unchanged.
func EncodeGossip(msg models.ControlMsg) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, utils.NewMalformedMessageError("encode control message").WithCause(err)
	}
	return b, nil
}

// DecodeGossip parses a single gossip payload. An unrecognized tag is
// reported as models.ErrUnknownTag so callers drop it per the "messages
// without a recognized tag MUST be ignored" rule rather than treat it as
// a hard failure.
func DecodeGossip(data []byte) (models.ControlMsg, error) {
	var msg models.ControlMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.ControlMsg{}, utils.NewMalformedMessageError("decode control message").WithCause(err)
	}
	if !knownTag(msg.Tag) {
		return models.ControlMsg{}, models.ErrUnknownTag
	}
	return msg, nil
}

// StreamEncoder writes sequential JSON-framed ControlMsg values to a
// direct sync stream.
type StreamEncoder struct {
	enc *json.Encoder
}

func NewStreamEncoder(w io.Writer) *StreamEncoder {
	return &StreamEncoder{enc: json.NewEncoder(w)}
}

func (e *StreamEncoder) Encode(msg models.ControlMsg) error {
	if err := e.enc.Encode(msg); err != nil {
		return utils.NewStreamError("write control message").WithCause(err)
	}
	return nil
}

// StreamDecoder reads sequential JSON-framed ControlMsg values off a
// direct sync stream. The zero-value json.Decoder tracks value
// boundaries itself, so no length prefix is needed.
type StreamDecoder struct {
	dec *json.Decoder
}

func NewStreamDecoder(r io.Reader) *StreamDecoder {
	return &StreamDecoder{dec: json.NewDecoder(r)}
}

func (d *StreamDecoder) Decode() (models.ControlMsg, error) {
	var msg models.ControlMsg
	if err := d.dec.Decode(&msg); err != nil {
		if err == io.EOF {
			return models.ControlMsg{}, io.EOF
		}
		return models.ControlMsg{}, utils.NewStreamError("read control message").WithCause(err)
	}
	if !knownTag(msg.Tag) {
		return models.ControlMsg{}, models.ErrUnknownTag
	}
	return msg, nil
}

func knownTag(t models.Tag) bool {
	switch t {
	case models.TagJoinRoom, models.TagSyncFullState, models.TagYUpdate,
		models.TagSnapshotRequest, models.TagSnapshot, models.TagFileRequest:
		return true
	default:
		return false
	}
}

// NewMsg builds a ControlMsg with a fresh MsgID (a UUID followed by the
// creation time in Unix milliseconds) and the tag's default TTL (§4.1):
// 0 for FILE_REQUEST, 1 for everything else. Callers that need a
// specific TTL (e.g. a one-hop forward decrementing an existing message)
// set msg.TTL directly instead of going through NewMsg.
func NewMsg(tag models.Tag, roomID models.RoomID) models.ControlMsg {
	return models.ControlMsg{
		Tag:    tag,
		RoomID: roomID,
		MsgID:  fmt.Sprintf("%s-%d", uuid.NewString(), time.Now().UnixMilli()),
		TTL:    models.DefaultTTL(tag),
	}
}
