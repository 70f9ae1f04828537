package codec

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"weftsync/internal/models"
	"weftsync/internal/utils"
)

func TestGossipRoundTrip(t *testing.T) {
	msg := NewMsg(models.TagYUpdate, "abcdef0123456789")
	msg.Update = []byte{1, 2, 3, 4}

	data, err := EncodeGossip(msg)
	require.NoError(t, err)

	decoded, err := DecodeGossip(data)
	require.NoError(t, err)
	require.Equal(t, msg, decoded)
}

func TestDecodeGossipUnknownTag(t *testing.T) {
	_, err := DecodeGossip([]byte(`{"tag":"NONSENSE","roomId":"abcdef0123456789"}`))
	require.ErrorIs(t, err, models.ErrUnknownTag)
}

func TestDecodeGossipMalformed(t *testing.T) {
	_, err := DecodeGossip([]byte(`not json`))
	require.Error(t, err)
	require.True(t, utils.Is(err, utils.KindMalformedMessage))
}

func TestStreamRoundTripSequential(t *testing.T) {
	var buf bytes.Buffer
	enc := NewStreamEncoder(&buf)

	first := NewMsg(models.TagJoinRoom, "abcdef0123456789")
	second := NewMsg(models.TagSyncFullState, "abcdef0123456789")
	second.Update = []byte("snapshot-bytes")

	require.NoError(t, enc.Encode(first))
	require.NoError(t, enc.Encode(second))

	dec := NewStreamDecoder(&buf)
	got1, err := dec.Decode()
	require.NoError(t, err)
	require.Equal(t, first, got1)

	got2, err := dec.Decode()
	require.NoError(t, err)
	require.Equal(t, second, got2)

	_, err = dec.Decode()
	require.Equal(t, io.EOF, err)
}

func TestNewMsgDefaultTTL(t *testing.T) {
	require.EqualValues(t, 0, NewMsg(models.TagFileRequest, "abcdef0123456789").TTL)
	require.EqualValues(t, 1, NewMsg(models.TagSnapshotRequest, "abcdef0123456789").TTL)
}

