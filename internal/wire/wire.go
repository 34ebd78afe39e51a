// Package wire implements the self-describing, length-delimited record
// every TCP connection between peers carries exactly one of. The
// framing builds on a plain json.Marshal/json.Unmarshal envelope with
// a tagged-union Kind field so an
// unknown or malformed record can be rejected without guessing at its
// shape, and to a length prefix so a connection no longer needs to
// rely on half-close/EOF to know a record is complete.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/meff-network/meff/internal/types"
)

// Kind discriminates the Notification payload.
type Kind string

const (
	KindPushToDB               Kind = "PushToDB"
	KindRedundantPushToDB      Kind = "RedundantPushToDB"
	KindChangePeerName         Kind = "ChangePeerName"
	KindSendNetworkTable       Kind = "SendNetworkTable"
	KindSendNetworkUpdateTable Kind = "SendNetworkUpdateTable"
	KindRequestForTable        Kind = "RequestForTable"
	KindFindFile               Kind = "FindFile"
	KindExistFile              Kind = "ExistFile"
	KindExistFileResponse      Kind = "ExistFileResponse"
	KindGetFile                Kind = "GetFile"
	KindGetFileResponse        Kind = "GetFileResponse"
	KindDeleteFileRequest      Kind = "DeleteFileRequest"
	KindDeleteFromNetwork      Kind = "DeleteFromNetwork"
	KindExitPeer               Kind = "ExitPeer"
	KindDroppedPeer            Kind = "DroppedPeer"
	KindStatusRequest          Kind = "StatusRequest"
	KindSelfStatusRequest      Kind = "SelfStatusRequest"
	KindStatusResponse         Kind = "StatusResponse"
	KindPlayAudioRequest       Kind = "PlayAudioRequest"
	KindOrderSongRequest       Kind = "OrderSongRequest"
	KindHeartbeat              Kind = "Heartbeat"
)

// maxRecordSize guards against a corrupt or hostile length prefix
// forcing an unbounded allocation.
const maxRecordSize = 256 << 20 // 256MiB, generous for an audio blob

// Notification is the wire unit: who it is from, and a tagged payload.
type Notification struct {
	Kind    Kind            `json:"kind"`
	From    types.Address   `json:"from"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

// Per-variant payloads, one struct per Kind.

type PushToDB struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
	From  string `json:"from"`
}

type RedundantPushToDB struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
	From  string `json:"from"`
}

type ChangePeerName struct {
	Value string `json:"value"`
}

type SendNetworkTable struct {
	Value map[string]types.Address `json:"value"`
}

type SendNetworkUpdateTable struct {
	Value map[string]types.Address `json:"value"`
}

type RequestForTable struct {
	Value string `json:"value"`
}

type FindFile struct {
	Instr    types.Instruction `json:"instr"`
	SongName string            `json:"song_name"`
}

type ExistFile struct {
	SongName string    `json:"song_name"`
	ID       time.Time `json:"id"`
}

type ExistFileResponse struct {
	SongName string    `json:"song_name"`
	ID       time.Time `json:"id"`
}

type GetFile struct {
	Instr types.Instruction `json:"instr"`
	Key   string            `json:"key"`
}

type GetFileResponse struct {
	Instr types.Instruction `json:"instr"`
	Key   string            `json:"key"`
	Value []byte            `json:"value"`
}

type DeleteFileRequest struct {
	SongName string `json:"song_name"`
}

type DeleteFromNetwork struct {
	Name string `json:"name"`
}

type ExitPeer struct {
	Addr types.Address `json:"addr"`
}

type DroppedPeer struct {
	Addr types.Address `json:"addr"`
}

type StatusRequest struct{}

type SelfStatusRequest struct{}

type StatusResponse struct {
	Files []string `json:"files"`
	Name  string   `json:"name"`
}

type PlayAudioRequest struct {
	Name  *string              `json:"name,omitempty"`
	State types.PlaybackCommand `json:"state"`
}

type OrderSongRequest struct {
	SongName string `json:"song_name"`
}

type Heartbeat struct{}

// Pack builds a Notification of the given kind, from, and payload. A
// blank id is replaced with a fresh UUID so every record carries a
// correlation id a log line can reference end to end, even though
// dispatch logic never keys off it.
func Pack(kind Kind, from types.Address, id string, payload interface{}) (Notification, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Notification{}, fmt.Errorf("wire: marshal %s payload: %w", kind, err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	return Notification{Kind: kind, From: from, ID: id, Payload: raw}, nil
}

// Unpack decodes the Notification's payload into dst, which must be a
// pointer to the struct matching n.Kind.
func Unpack(n Notification, dst interface{}) error {
	if len(n.Payload) == 0 {
		return fmt.Errorf("wire: empty payload for kind %s", n.Kind)
	}
	return json.Unmarshal(n.Payload, dst)
}

// Encode writes a length-delimited, self-describing record to w: a
// 4-byte big-endian length prefix followed by the JSON envelope.
func Encode(w io.Writer, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("wire: marshal envelope: %w", err)
	}
	if len(body) > maxRecordSize {
		return fmt.Errorf("wire: record of %d bytes exceeds max size", len(body))
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(body)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write body: %w", err)
	}
	return nil
}

// Decode reads exactly one length-delimited record from r.
func Decode(r io.Reader) (Notification, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Notification{}, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > maxRecordSize {
		return Notification{}, fmt.Errorf("wire: record of %d bytes exceeds max size", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Notification{}, fmt.Errorf("wire: read body: %w", err)
	}
	var notif Notification
	if err := json.Unmarshal(body, &notif); err != nil {
		return Notification{}, fmt.Errorf("wire: unmarshal envelope: %w", err)
	}
	return notif, nil
}
