// Package protocol implements the length-prefixed binary wire format.
//
// Every message is a fixed 16-byte header followed by up to 4096 bytes of
// payload:
//
//	magic          uint16  constant 0xABCD
//	msg_type       uint16  message identifier
//	payload_length uint32  ≤ 4096
//	sequence_num   uint32  opaque, chosen by the sender
//	checksum       uint32  CRC32 (IEEE) over the payload
//
// All integers are little-endian. A frame with a bad magic, an over-length
// payload or a checksum mismatch is a framing error; the connection carrying
// it must be closed without a response.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

const (
	// Magic is the constant leading every frame.
	Magic uint16 = 0xABCD

	// HeaderSize is the fixed frame header length in bytes.
	HeaderSize = 16

	// MaxPayload bounds the payload of a single frame.
	MaxPayload = 4096
)

var (
	ErrBadMagic    = errors.New("protocol: bad magic")
	ErrOversize    = errors.New("protocol: payload exceeds limit")
	ErrBadChecksum = errors.New("protocol: checksum mismatch")
)

// Frame is one decoded wire message.
type Frame struct {
	Type    uint16
	Seq     uint32
	Payload []byte
}

// ReadFrame reads exactly one frame from r. Partial reads are retried until
// the header and payload are fully consumed; io.EOF with zero bytes read is
// surfaced unchanged so callers can treat it as a clean close.
func ReadFrame(r io.Reader) (*Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	magic := binary.LittleEndian.Uint16(hdr[0:2])
	if magic != Magic {
		return nil, ErrBadMagic
	}

	length := binary.LittleEndian.Uint32(hdr[4:8])
	if length > MaxPayload {
		return nil, ErrOversize
	}

	f := &Frame{
		Type: binary.LittleEndian.Uint16(hdr[2:4]),
		Seq:  binary.LittleEndian.Uint32(hdr[8:12]),
	}

	if length > 0 {
		f.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return nil, fmt.Errorf("protocol: short payload read: %w", err)
		}
	}

	want := binary.LittleEndian.Uint32(hdr[12:16])
	if got := crc32.ChecksumIEEE(f.Payload); got != want {
		return nil, ErrBadChecksum
	}

	return f, nil
}

// WriteFrame encodes f and writes it to w in a single buffer so the header
// and payload cannot be torn by a partial write.
func WriteFrame(w io.Writer, f *Frame) error {
	if len(f.Payload) > MaxPayload {
		return ErrOversize
	}

	buf := make([]byte, HeaderSize+len(f.Payload))
	binary.LittleEndian.PutUint16(buf[0:2], Magic)
	binary.LittleEndian.PutUint16(buf[2:4], f.Type)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(f.Payload)))
	binary.LittleEndian.PutUint32(buf[8:12], f.Seq)
	binary.LittleEndian.PutUint32(buf[12:16], crc32.ChecksumIEEE(f.Payload))
	copy(buf[HeaderSize:], f.Payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

// IsFramingError reports whether err means the connection must be closed
// without a response.
func IsFramingError(err error) bool {
	return errors.Is(err, ErrBadMagic) || errors.Is(err, ErrOversize) || errors.Is(err, ErrBadChecksum)
}
