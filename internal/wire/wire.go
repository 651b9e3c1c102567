// Package wire implements the coordinator's message framing (spec.md
// §6): a transport-agnostic envelope the core reads and writes without
// caring whether the underlying transport is a TCP socket, a websocket
// (internal/peer), or an in-memory pipe (as used by this package's own
// tests and internal/coordinator's).
//
// Grounded on the teacher's internal/node/stream_handler.go
// (readLengthPrefixed/length-prefixed framing discipline, read
// deadlines) generalized from a JSON-body swap message to the fixed
// kind/timestamp/length header spec.md §6 names.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
	"time"
)

// Kind identifies a wire message's payload shape, per spec.md §6.
type Kind byte

const (
	KindPing Kind = iota + 1
	KindRequestVSEKeymap
	KindDeliverVSESetup
	KindRetrieveVSESetup
	KindRequestDKGPackages
	KindDeliverDKGSessions
	KindRequestOpCov
	KindDeliverOpCovAck
	KindRequestCommit
	KindDeliverCommitAck
	KindRequestUphold
	KindDeliverUpholdAck
	KindRequestPartialSigs
)

// GenericAck and GenericFail are the single-byte success/failure
// payloads spec.md §6 reserves: "a single 0x01 denotes generic ack,
// 0x00 denotes generic failure."
const (
	GenericFail byte = 0x00
	GenericAck  byte = 0x01
)

var (
	// ErrPayloadTooLarge guards against a peer claiming an unbounded
	// payload_len in the frame header.
	ErrPayloadTooLarge = errors.New("wire: payload exceeds maximum frame size")
	ErrShortFrame      = errors.New("wire: truncated frame header")
)

// MaxPayloadBytes bounds a single frame's payload. Callers that need a
// different bound (e.g. internal/config.MaxMessageBytes) should check
// length before calling Encode/Decode with a transport-specific reader.
const MaxPayloadBytes = 64 << 20

// Message is one framed protocol message: kind:u8 || timestamp_be:i64 ||
// payload_len_be:u32 || payload.
type Message struct {
	Kind      Kind
	Timestamp int64
	Payload   []byte
}

// NewMessage builds a message stamped with the current wall-clock time.
func NewMessage(kind Kind, payload []byte) Message {
	return Message{Kind: kind, Timestamp: time.Now().Unix(), Payload: payload}
}

// Encode serializes m into the wire's fixed header plus payload.
func (m Message) Encode() []byte {
	out := make([]byte, 1+8+4+len(m.Payload))
	out[0] = byte(m.Kind)
	binary.BigEndian.PutUint64(out[1:9], uint64(m.Timestamp))
	binary.BigEndian.PutUint32(out[9:13], uint32(len(m.Payload)))
	copy(out[13:], m.Payload)
	return out
}

// WriteTo writes the encoded message to w, e.g. a TCP or websocket
// connection wrapped in an io.Writer.
func (m Message) WriteTo(w io.Writer) (int64, error) {
	b := m.Encode()
	n, err := w.Write(b)
	return int64(n), err
}

// ReadMessage reads one framed message from r, failing with
// ErrPayloadTooLarge if payload_len exceeds MaxPayloadBytes.
func ReadMessage(r io.Reader) (Message, error) {
	var header [13]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Message{}, ErrShortFrame
		}
		return Message{}, err
	}
	kind := Kind(header[0])
	ts := int64(binary.BigEndian.Uint64(header[1:9]))
	length := binary.BigEndian.Uint32(header[9:13])
	if length > MaxPayloadBytes {
		return Message{}, ErrPayloadTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Message{}, err
	}
	return Message{Kind: kind, Timestamp: ts, Payload: payload}, nil
}

// EncodeRequestDKGPackagesPayload builds the authoritative 16-byte
// payload for a RequestDKGPackages message: setup height (big-endian
// u64) concatenated with the requested package count (big-endian u64).
//
// The original source constructs two conflicting encodings for this
// request and the second (this one) wins; spec.md's Open Questions (§9)
// fix this concatenated form as authoritative.
func EncodeRequestDKGPackagesPayload(setupHeight, count uint64) [16]byte {
	var out [16]byte
	binary.BigEndian.PutUint64(out[:8], setupHeight)
	binary.BigEndian.PutUint64(out[8:], count)
	return out
}

// DecodeRequestDKGPackagesPayload parses the 16-byte payload produced by
// EncodeRequestDKGPackagesPayload.
func DecodeRequestDKGPackagesPayload(b []byte) (setupHeight, count uint64, err error) {
	if len(b) != 16 {
		return 0, 0, ErrShortFrame
	}
	return binary.BigEndian.Uint64(b[:8]), binary.BigEndian.Uint64(b[8:]), nil
}
