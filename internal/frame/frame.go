// Package frame implements the RFC 6455 wire framing used by the relay:
// single-frame text/binary/close/ping/pong messages, client frames masked,
// server frames unmasked.
//
// Decode works on an accumulation buffer: it never consumes past the end of
// the first frame and reports ErrIncomplete while the buffer is shorter than
// the frame it announces, so callers keep the bytes and retry after the next
// read.
package frame

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

// Kind is a frame opcode.
type Kind byte

const (
	Text   Kind = 0x1
	Binary Kind = 0x2
	Close  Kind = 0x8
	Ping   Kind = 0x9
	Pong   Kind = 0xA
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Binary:
		return "binary"
	case Close:
		return "close"
	case Ping:
		return "ping"
	case Pong:
		return "pong"
	default:
		return "unknown"
	}
}

func (k Kind) valid() bool {
	switch k {
	case Text, Binary, Close, Ping, Pong:
		return true
	}
	return false
}

const (
	finBit  = 0x80
	maskBit = 0x80
	lenMask = 0x7F

	len16 = 126
	len64 = 127

	// MaxHeaderLen is the largest header: 2 fixed bytes, 8 length bytes, 4 mask bytes.
	MaxHeaderLen = 14
)

// RFC 6455 close codes reported by Error.
const (
	CloseProtocolError   = 1002
	CloseUnsupportedData = 1003
	CloseTooLarge        = 1004
	CloseMessageTooBig   = 1009
)

var (
	// ErrIncomplete means the buffer does not yet hold a whole frame.
	ErrIncomplete    = errors.New("need more data")
	ErrUnmasked      = errors.New("unmasked client frame")
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrFrameTooLarge = errors.New("frame too large")
)

// Error is a protocol violation together with the close code a peer would
// be sent for it.
type Error struct {
	Err  error
	Code int
}

func (e *Error) Error() string { return fmt.Sprintf("%s (%d)", e.Err, e.Code) }
func (e *Error) Unwrap() error { return e.Err }

// Frame is one decoded frame. Payload is already unmasked.
type Frame struct {
	Kind    Kind
	Payload []byte
}

// Encode builds a single FIN frame. When masked is set a fresh random key is
// generated and the payload is XORed with it.
func Encode(payload []byte, kind Kind, masked bool) ([]byte, error) {
	if !kind.valid() {
		return nil, &Error{Err: fmt.Errorf("%w: %#x", ErrUnknownOpcode, byte(kind)), Code: CloseUnsupportedData}
	}
	var key [4]byte
	if masked {
		if _, err := rand.Read(key[:]); err != nil {
			return nil, fmt.Errorf("mask key: %w", err)
		}
	}
	return encode(payload, kind, masked, key)
}

func encode(payload []byte, kind Kind, masked bool, key [4]byte) ([]byte, error) {
	n := len(payload)
	var mbit byte
	if masked {
		mbit = maskBit
	}
	hdr := make([]byte, 2, MaxHeaderLen)
	hdr[0] = finBit | byte(kind)
	switch {
	case n <= 125:
		hdr[1] = mbit | byte(n)
	case n <= 0xFFFF:
		hdr[1] = mbit | len16
		hdr = binary.BigEndian.AppendUint16(hdr, uint16(n))
	default:
		// The most significant bit of a 64-bit length must be zero.
		if uint64(n)>>63 != 0 {
			return nil, &Error{Err: ErrFrameTooLarge, Code: CloseTooLarge}
		}
		hdr[1] = mbit | len64
		hdr = binary.BigEndian.AppendUint64(hdr, uint64(n))
	}
	if masked {
		hdr = append(hdr, key[:]...)
	}
	out := make([]byte, len(hdr)+n)
	copy(out, hdr)
	body := out[len(hdr):]
	copy(body, payload)
	if masked {
		xor(body, key)
	}
	return out, nil
}

// Decoder parses inbound frames. The zero value enforces masking and places
// no limit on payload size.
type Decoder struct {
	// AllowUnmasked accepts server-originated (unmasked) frames.
	AllowUnmasked bool
	// MaxPayload rejects frames announcing a longer payload. Zero means no limit.
	MaxPayload int64
}

// Decode parses a frame sent by a client.
func Decode(buf []byte) (Frame, int, error) {
	return Decoder{}.Decode(buf)
}

// Decode parses the first frame in buf and returns it with the number of
// bytes it occupies. Bytes after the frame are left untouched.
func (d Decoder) Decode(buf []byte) (Frame, int, error) {
	if len(buf) < 2 {
		return Frame{}, 0, ErrIncomplete
	}
	kind := Kind(buf[0] & 0x0F)
	masked := buf[1]&maskBit != 0
	if !masked && !d.AllowUnmasked {
		return Frame{}, 0, &Error{Err: ErrUnmasked, Code: CloseProtocolError}
	}
	if !kind.valid() {
		return Frame{}, 0, &Error{Err: fmt.Errorf("%w: %#x", ErrUnknownOpcode, byte(kind)), Code: CloseUnsupportedData}
	}

	off := 2
	var length uint64
	switch marker := buf[1] & lenMask; marker {
	case len16:
		if len(buf) < off+2 {
			return Frame{}, 0, ErrIncomplete
		}
		length = uint64(binary.BigEndian.Uint16(buf[off:]))
		off += 2
	case len64:
		if len(buf) < off+8 {
			return Frame{}, 0, ErrIncomplete
		}
		length = binary.BigEndian.Uint64(buf[off:])
		off += 8
		if length>>63 != 0 {
			return Frame{}, 0, &Error{Err: ErrFrameTooLarge, Code: CloseTooLarge}
		}
	default:
		length = uint64(marker)
	}
	if d.MaxPayload > 0 && length > uint64(d.MaxPayload) {
		return Frame{}, 0, &Error{Err: fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length), Code: CloseMessageTooBig}
	}

	var key [4]byte
	if masked {
		if len(buf) < off+4 {
			return Frame{}, 0, ErrIncomplete
		}
		copy(key[:], buf[off:off+4])
		off += 4
	}
	if uint64(len(buf)-off) < length {
		return Frame{}, 0, ErrIncomplete
	}
	end := off + int(length)
	payload := make([]byte, length)
	copy(payload, buf[off:end])
	if masked {
		xor(payload, key)
	}
	return Frame{Kind: kind, Payload: payload}, end, nil
}

func xor(b []byte, key [4]byte) {
	for i := range b {
		b[i] ^= key[i%4]
	}
}
