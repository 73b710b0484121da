// Package frame implements the byte-level codec for the Cassandra CQL
// native protocol, versions 1 and 2: a framed message buffer with paired
// pack/unpack operations for every wire primitive, plus header assembly
// and parsing.
//
// All multi-byte integers are big-endian. Writes append to the buffer,
// reads consume from the front. A read that needs more bytes than remain
// fails with ErrShortBuffer and consumes nothing useful; callers are
// expected to treat the buffer as spent after any error.
package frame

import (
	"net"
	"sort"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	// ErrShortBuffer is returned when a read requests more bytes than
	// the buffer holds.
	ErrShortBuffer = errors.New("frame: not enough bytes in buffer")

	// ErrMalformed is returned on structural corruption: invalid UTF-8,
	// an invalid inet address length, and the like.
	ErrMalformed = errors.New("frame: malformed data")
)

// Buffer is a CQL message body under construction or consumption. The
// zero value is usable; New and NewBuffer construct an empty and a
// pre-filled buffer. A Buffer is not safe for concurrent mutation.
type Buffer struct {
	buf []byte
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{}
}

// NewBuffer returns a buffer initialised with b. The buffer takes
// ownership of b.
func NewBuffer(b []byte) *Buffer {
	return &Buffer{buf: b}
}

// Bytes returns the unconsumed remainder of the buffer.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

// Len returns the number of unconsumed bytes.
func (b *Buffer) Len() int {
	return len(b.buf)
}

func (b *Buffer) take(n int) ([]byte, error) {
	if len(b.buf) < n {
		return nil, errors.Wrapf(ErrShortBuffer, "require %d got %d", n, len(b.buf))
	}
	p := b.buf[:n]
	b.buf = b.buf[n:]
	return p, nil
}

// WriteByte appends a single byte. The returned error is always nil.
func (b *Buffer) WriteByte(v byte) error {
	b.buf = append(b.buf, v)
	return nil
}

// ReadByte consumes a single byte.
func (b *Buffer) ReadByte() (byte, error) {
	p, err := b.take(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

// WriteShort appends a 2-byte unsigned integer.
func (b *Buffer) WriteShort(v uint16) {
	b.buf = append(b.buf, byte(v>>8), byte(v))
}

// ReadShort consumes a 2-byte unsigned integer.
func (b *Buffer) ReadShort() (uint16, error) {
	p, err := b.take(2)
	if err != nil {
		return 0, err
	}
	return uint16(p[0])<<8 | uint16(p[1]), nil
}

// WriteInt appends a 4-byte signed integer.
func (b *Buffer) WriteInt(v int32) {
	b.buf = append(b.buf,
		byte(v>>24),
		byte(v>>16),
		byte(v>>8),
		byte(v),
	)
}

// ReadInt consumes a 4-byte signed integer.
func (b *Buffer) ReadInt() (int32, error) {
	p, err := b.take(4)
	if err != nil {
		return 0, err
	}
	return int32(p[0])<<24 | int32(p[1])<<16 | int32(p[2])<<8 | int32(p[3]), nil
}

// WriteLong appends an 8-byte signed integer.
func (b *Buffer) WriteLong(v int64) {
	b.buf = append(b.buf,
		byte(v>>56),
		byte(v>>48),
		byte(v>>40),
		byte(v>>32),
		byte(v>>24),
		byte(v>>16),
		byte(v>>8),
		byte(v),
	)
}

// ReadLong consumes an 8-byte signed integer.
func (b *Buffer) ReadLong() (int64, error) {
	p, err := b.take(8)
	if err != nil {
		return 0, err
	}
	return int64(p[0])<<56 | int64(p[1])<<48 | int64(p[2])<<40 | int64(p[3])<<32 |
		int64(p[4])<<24 | int64(p[5])<<16 | int64(p[6])<<8 | int64(p[7]), nil
}

// WriteString appends a short-length-prefixed UTF-8 string.
func (b *Buffer) WriteString(s string) {
	b.WriteShort(uint16(len(s)))
	b.buf = append(b.buf, s...)
}

// ReadString consumes a short-length-prefixed UTF-8 string.
func (b *Buffer) ReadString() (string, error) {
	n, err := b.ReadShort()
	if err != nil {
		return "", err
	}
	p, err := b.take(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(p) {
		return "", errors.Wrap(ErrMalformed, "string is not valid UTF-8")
	}
	return string(p), nil
}

// WriteLongString appends an int-length-prefixed UTF-8 string.
func (b *Buffer) WriteLongString(s string) {
	b.WriteInt(int32(len(s)))
	b.buf = append(b.buf, s...)
}

// ReadLongString consumes an int-length-prefixed UTF-8 string.
func (b *Buffer) ReadLongString() (string, error) {
	n, err := b.ReadInt()
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", errors.Wrapf(ErrMalformed, "negative long string length %d", n)
	}
	p, err := b.take(int(n))
	if err != nil {
		return "", err
	}
	if !utf8.Valid(p) {
		return "", errors.Wrap(ErrMalformed, "long string is not valid UTF-8")
	}
	return string(p), nil
}

// WriteUUID appends 16 raw bytes.
func (b *Buffer) WriteUUID(u uuid.UUID) {
	b.buf = append(b.buf, u[:]...)
}

// ReadUUID consumes 16 raw bytes.
func (b *Buffer) ReadUUID() (uuid.UUID, error) {
	p, err := b.take(16)
	if err != nil {
		return uuid.UUID{}, err
	}
	var u uuid.UUID
	copy(u[:], p)
	return u, nil
}

// WriteStringList appends a short count followed by that many strings.
func (b *Buffer) WriteStringList(l []string) {
	b.WriteShort(uint16(len(l)))
	for _, s := range l {
		b.WriteString(s)
	}
}

// ReadStringList consumes a short count followed by that many strings.
func (b *Buffer) ReadStringList() ([]string, error) {
	n, err := b.ReadShort()
	if err != nil {
		return nil, err
	}
	l := make([]string, n)
	for i := range l {
		if l[i], err = b.ReadString(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// WriteBytes appends an int-length-prefixed byte string. A nil slice is
// the absent value and is written as length -1; an empty non-nil slice
// is a present zero-length value.
func (b *Buffer) WriteBytes(p []byte) {
	if p == nil {
		b.WriteInt(-1)
		return
	}
	b.WriteInt(int32(len(p)))
	b.buf = append(b.buf, p...)
}

// ReadBytes consumes an int-length-prefixed byte string. Length -1
// yields nil (absent); length 0 yields an empty non-nil slice.
func (b *Buffer) ReadBytes() ([]byte, error) {
	n, err := b.ReadInt()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	p, err := b.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p)
	return out, nil
}

// WriteShortBytes appends a short-length-prefixed byte string.
func (b *Buffer) WriteShortBytes(p []byte) {
	b.WriteShort(uint16(len(p)))
	b.buf = append(b.buf, p...)
}

// ReadShortBytes consumes a short-length-prefixed byte string.
func (b *Buffer) ReadShortBytes() ([]byte, error) {
	n, err := b.ReadShort()
	if err != nil {
		return nil, err
	}
	p, err := b.take(int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, p)
	return out, nil
}

// WriteInet appends a 1-byte address length, the address bytes and an
// int port. IPv4 addresses are written in their 4-byte form.
func (b *Buffer) WriteInet(ip net.IP, port int32) error {
	addr := ip.To4()
	if addr == nil {
		addr = ip.To16()
	}
	if addr == nil {
		return errors.Wrapf(ErrMalformed, "invalid inet address %v", ip)
	}
	b.buf = append(b.buf, byte(len(addr)))
	b.buf = append(b.buf, addr...)
	b.WriteInt(port)
	return nil
}

// ReadInet consumes a 1-byte address length, the address bytes and an
// int port. Address lengths other than 4 and 16 are malformed.
func (b *Buffer) ReadInet() (net.IP, int32, error) {
	n, err := b.ReadByte()
	if err != nil {
		return nil, 0, err
	}
	if n != 4 && n != 16 {
		return nil, 0, errors.Wrapf(ErrMalformed, "invalid inet address length %d", n)
	}
	p, err := b.take(int(n))
	if err != nil {
		return nil, 0, err
	}
	ip := make(net.IP, n)
	copy(ip, p)
	port, err := b.ReadInt()
	if err != nil {
		return nil, 0, err
	}
	return ip, port, nil
}

// WriteStringMap appends a short count followed by that many key/value
// string pairs. Keys are emitted in lexicographic order so identical
// maps produce identical bytes.
func (b *Buffer) WriteStringMap(m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteShort(uint16(len(keys)))
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(m[k])
	}
}

// ReadStringMap consumes a short count followed by that many key/value
// string pairs.
func (b *Buffer) ReadStringMap() (map[string]string, error) {
	n, err := b.ReadShort()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, n)
	for i := 0; i < int(n); i++ {
		k, err := b.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := b.ReadString()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

// ReadStringMultiMap consumes a short count followed by that many
// key/string-list pairs. SUPPORTED responses carry this shape.
func (b *Buffer) ReadStringMultiMap() (map[string][]string, error) {
	n, err := b.ReadShort()
	if err != nil {
		return nil, err
	}
	m := make(map[string][]string, n)
	for i := 0; i < int(n); i++ {
		k, err := b.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := b.ReadStringList()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

// ReadBytesMap consumes a short count followed by that many
// key/bytes pairs.
func (b *Buffer) ReadBytesMap() (map[string][]byte, error) {
	n, err := b.ReadShort()
	if err != nil {
		return nil, err
	}
	m := make(map[string][]byte, n)
	for i := 0; i < int(n); i++ {
		k, err := b.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := b.ReadBytes()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

// WriteConsistency appends a consistency level.
func (b *Buffer) WriteConsistency(c Consistency) {
	b.WriteShort(uint16(c))
}

// ReadConsistency consumes a consistency level.
func (b *Buffer) ReadConsistency() (Consistency, error) {
	n, err := b.ReadShort()
	return Consistency(n), err
}
