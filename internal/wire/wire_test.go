package wire_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meff-network/meff/internal/types"
	"github.com/meff-network/meff/internal/wire"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := wire.PushToDB{Key: "song", Value: []byte("bytes"), From: "a:4000"}
	n, err := wire.Pack(wire.KindPushToDB, types.Address("a:4000"), "", payload)
	require.NoError(t, err)
	require.NotEmpty(t, n.ID, "Pack must assign a correlation id when none is given")

	var buf bytes.Buffer
	require.NoError(t, wire.Encode(&buf, n))

	decoded, err := wire.Decode(&buf)
	require.NoError(t, err)
	require.Equal(t, n.Kind, decoded.Kind)
	require.Equal(t, n.From, decoded.From)
	require.Equal(t, n.ID, decoded.ID)

	var out wire.PushToDB
	require.NoError(t, wire.Unpack(decoded, &out))
	require.Equal(t, payload, out)
}

func TestDecodeRejectsOversizedLengthPrefix(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x7f, 0xff, 0xff, 0xff}) // absurd length, no body follows
	_, err := wire.Decode(&buf)
	require.Error(t, err)
}

func TestDecodeTruncatedStreamFails(t *testing.T) {
	n, err := wire.Pack(wire.KindHeartbeat, types.Address("a:4000"), "", wire.Heartbeat{})
	require.NoError(t, err)

	var full bytes.Buffer
	require.NoError(t, wire.Encode(&full, n))

	truncated := bytes.NewReader(full.Bytes()[:full.Len()-2])
	_, err = wire.Decode(truncated)
	require.Error(t, err)
}

func TestPackPreservesExplicitID(t *testing.T) {
	n, err := wire.Pack(wire.KindHeartbeat, types.Address("a:4000"), "fixed-id", wire.Heartbeat{})
	require.NoError(t, err)
	require.Equal(t, "fixed-id", n.ID)
}

func TestExistFileRoundTripsTimestamp(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Millisecond)
	n, err := wire.Pack(wire.KindExistFile, types.Address("a:4000"), "", wire.ExistFile{
		SongName: "song", ID: now,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, wire.Encode(&buf, n))
	decoded, err := wire.Decode(&buf)
	require.NoError(t, err)

	var out wire.ExistFile
	require.NoError(t, wire.Unpack(decoded, &out))
	require.True(t, now.Equal(out.ID))
}
