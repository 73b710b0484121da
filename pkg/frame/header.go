package frame

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// headerSize is the fixed v1/v2 message header: version, flags, stream,
// opcode, 4-byte body length.
const headerSize = 8

// maxFrameSize bounds the body length accepted off the wire.
const maxFrameSize = 256 * 1024 * 1024

// ErrIncomplete is returned by Parse when the input does not yet hold a
// whole frame. It is an outcome, not a failure; nothing is consumed.
var ErrIncomplete = errors.New("frame: incomplete")

// Header is the 8-byte CQL v1/v2 message header.
type Header struct {
	Version byte
	Flags   byte
	Stream  byte
	Opcode  Opcode
	Length  uint32
}

func (h Header) String() string {
	return fmt.Sprintf("[header version=0x%02x flags=0x%02x stream=%d op=%s length=%d]",
		h.Version, h.Flags, h.Stream, h.Opcode, h.Length)
}

// Frame prepends an 8-byte header to the buffer body and returns the
// complete message bytes. The buffer itself is left untouched.
func (b *Buffer) Frame(version, flags, stream byte, opcode Opcode) []byte {
	body := b.buf
	out := make([]byte, 0, headerSize+len(body))
	out = append(out,
		version,
		flags,
		stream,
		byte(opcode),
		byte(len(body)>>24),
		byte(len(body)>>16),
		byte(len(body)>>8),
		byte(len(body)),
	)
	return append(out, body...)
}

// Parse reads one complete frame off the front of data. When data holds
// fewer bytes than the header plus body require, it returns
// ErrIncomplete and consumes nothing. On success the returned rest is
// the untouched tail beyond the frame.
func Parse(data []byte) (Header, *Buffer, []byte, error) {
	if len(data) < headerSize {
		return Header{}, nil, data, ErrIncomplete
	}

	h := Header{
		Version: data[0],
		Flags:   data[1],
		Stream:  data[2],
		Opcode:  Opcode(data[3]),
		Length:  uint32(data[4])<<24 | uint32(data[5])<<16 | uint32(data[6])<<8 | uint32(data[7]),
	}
	if h.Length > maxFrameSize {
		return Header{}, nil, data, errors.Wrapf(ErrMalformed, "frame body length %d exceeds maximum", h.Length)
	}
	if uint32(len(data)-headerSize) < h.Length {
		return Header{}, nil, data, ErrIncomplete
	}

	body := make([]byte, h.Length)
	copy(body, data[headerSize:headerSize+int(h.Length)])
	return h, NewBuffer(body), data[headerSize+int(h.Length):], nil
}

// ReadFrame blocks reading exactly one frame from r: 8 header bytes,
// then exactly the advertised body length. A source that closes early
// surfaces the underlying read error.
func ReadFrame(r io.Reader) (Header, *Buffer, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Header{}, nil, errors.Wrap(err, "reading frame header")
	}

	h := Header{
		Version: hdr[0],
		Flags:   hdr[1],
		Stream:  hdr[2],
		Opcode:  Opcode(hdr[3]),
		Length:  uint32(hdr[4])<<24 | uint32(hdr[5])<<16 | uint32(hdr[6])<<8 | uint32(hdr[7]),
	}
	if h.Length > maxFrameSize {
		return Header{}, nil, errors.Wrapf(ErrMalformed, "frame body length %d exceeds maximum", h.Length)
	}

	body := make([]byte, h.Length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Header{}, nil, errors.Wrapf(err, "reading %d-byte frame body", h.Length)
	}
	return h, NewBuffer(body), nil
}
