package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"testing"
	"testing/iotest"
)

func TestFrameRoundTrip(t *testing.T) {
	t.Parallel()

	in := &Frame{Type: MsgUnbox, Seq: 42, Payload: []byte("token:3")}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if buf.Len() != HeaderSize+len(in.Payload) {
		t.Fatalf("wire size = %d, want %d", buf.Len(), HeaderSize+len(in.Payload))
	}

	out, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if out.Type != in.Type || out.Seq != in.Seq || !bytes.Equal(out.Payload, in.Payload) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestFrameEmptyPayload(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := WriteFrame(&buf, &Frame{Type: MsgHeartbeat, Seq: 7}); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	out, err := ReadFrame(&buf)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if out.Type != MsgHeartbeat || len(out.Payload) != 0 {
		t.Fatalf("got %+v, want empty heartbeat", out)
	}
}

func TestReadFrameChunked(t *testing.T) {
	t.Parallel()

	in := &Frame{Type: MsgLogin, Seq: 9, Payload: bytes.Repeat([]byte("x"), 300)}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	// One byte at a time exercises the partial-read path.
	out, err := ReadFrame(iotest.OneByteReader(&buf))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !bytes.Equal(out.Payload, in.Payload) {
		t.Fatal("payload mismatch over chunked reads")
	}
}

func rawHeader(magic, msgType uint16, length, seq, sum uint32) []byte {
	hdr := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint16(hdr[0:2], magic)
	binary.LittleEndian.PutUint16(hdr[2:4], msgType)
	binary.LittleEndian.PutUint32(hdr[4:8], length)
	binary.LittleEndian.PutUint32(hdr[8:12], seq)
	binary.LittleEndian.PutUint32(hdr[12:16], sum)
	return hdr
}

func TestReadFrameBadMagic(t *testing.T) {
	t.Parallel()

	hdr := rawHeader(0xDEAD, MsgLogin, 0, 1, crc32.ChecksumIEEE(nil))
	_, err := ReadFrame(bytes.NewReader(hdr))
	if !errors.Is(err, ErrBadMagic) {
		t.Fatalf("err = %v, want ErrBadMagic", err)
	}
}

func TestReadFrameOversize(t *testing.T) {
	t.Parallel()

	hdr := rawHeader(Magic, MsgLogin, MaxPayload+1, 1, 0)
	_, err := ReadFrame(bytes.NewReader(hdr))
	if !errors.Is(err, ErrOversize) {
		t.Fatalf("err = %v, want ErrOversize", err)
	}
}

func TestReadFrameBadChecksum(t *testing.T) {
	t.Parallel()

	payload := []byte("abc")
	hdr := rawHeader(Magic, MsgLogin, uint32(len(payload)), 1, crc32.ChecksumIEEE(payload)+1)
	_, err := ReadFrame(bytes.NewReader(append(hdr, payload...)))
	if !errors.Is(err, ErrBadChecksum) {
		t.Fatalf("err = %v, want ErrBadChecksum", err)
	}
}

func TestReadFrameCleanClose(t *testing.T) {
	t.Parallel()

	_, err := ReadFrame(bytes.NewReader(nil))
	if !errors.Is(err, io.EOF) {
		t.Fatalf("err = %v, want io.EOF", err)
	}
}

func TestWriteFrameOversize(t *testing.T) {
	t.Parallel()

	f := &Frame{Type: MsgChat, Payload: make([]byte, MaxPayload+1)}
	if err := WriteFrame(io.Discard, f); !errors.Is(err, ErrOversize) {
		t.Fatalf("err = %v, want ErrOversize", err)
	}
}

func TestIsFramingError(t *testing.T) {
	t.Parallel()

	for _, err := range []error{ErrBadMagic, ErrOversize, ErrBadChecksum} {
		if !IsFramingError(err) {
			t.Errorf("IsFramingError(%v) = false", err)
		}
	}
	if IsFramingError(io.EOF) {
		t.Error("IsFramingError(EOF) = true")
	}
}
