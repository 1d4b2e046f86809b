// Package wire implements the fixed-layout binary records of the directory
// and peer protocols.
//
// Every record starts with an 8-byte header {command int32, requestId uint32}.
// Integers are big-endian, fields follow in declaration order without padding,
// and strings occupy a fixed capacity that always includes a NUL terminator.
// Because each record shape has a fixed byte size, no length prefix is sent:
// a receiver reads exactly Size() bytes (looping on short reads) before
// decoding.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/and161185/p2p-share/internal/errs"
)

// HeaderSize is the encoded size of Header.
const HeaderSize = 8

// Header prefixes every record on both protocols.
type Header struct {
	Command   Command
	RequestID uint32
}

// Hdr gives access to the embedded header of any record.
func (h *Header) Hdr() *Header { return h }

// Message is a fixed-size record.
type Message interface {
	Hdr() *Header
	// Size is the full encoded size, header included.
	Size() int
	encode(e *encoder)
	decode(d *decoder)
}

// Marshal encodes m into a new buffer of exactly m.Size() bytes.
func Marshal(m Message) ([]byte, error) {
	e := &encoder{buf: make([]byte, m.Size())}
	e.header(*m.Hdr())
	m.encode(e)
	if e.err != nil {
		return nil, e.err
	}
	if e.off != len(e.buf) {
		return nil, fmt.Errorf("wire: encoded %d of %d bytes", e.off, len(e.buf))
	}
	return e.buf, nil
}

// Unmarshal decodes a full record (header included) from b.
func Unmarshal(b []byte, m Message) error {
	if len(b) != m.Size() {
		return fmt.Errorf("%w: record size %d, want %d", errs.ErrProtocol, len(b), m.Size())
	}
	d := &decoder{buf: b}
	*m.Hdr() = d.header()
	m.decode(d)
	return d.err
}

// Write marshals m and sends it in one write.
func Write(w io.Writer, m Message) error {
	b, err := Marshal(m)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// ReadHeader reads exactly one header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var b [HeaderSize]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Header{}, err
	}
	d := &decoder{buf: b[:]}
	return d.header(), nil
}

// ReadBody reads the remainder of a record whose header was already consumed
// and decodes it into m. The header h is stored into m as-is.
func ReadBody(r io.Reader, h Header, m Message) error {
	b := make([]byte, m.Size())
	if _, err := io.ReadFull(r, b[HeaderSize:]); err != nil {
		return err
	}
	d := &decoder{buf: b, off: HeaderSize}
	*m.Hdr() = h
	m.decode(d)
	return d.err
}

// Read reads one full record into m and checks that it carries the wanted command.
func Read(r io.Reader, want Command, m Message) error {
	h, err := ReadHeader(r)
	if err != nil {
		return err
	}
	if h.Command != want {
		return fmt.Errorf("%w: got command %d, want %d", errs.ErrProtocol, h.Command, want)
	}
	return ReadBody(r, h, m)
}

// CheckString reports whether s fits a field of the given capacity.
func CheckString(s string, capacity int) error {
	if len(s) >= capacity {
		return fmt.Errorf("%w: %d bytes exceed field capacity %d", errs.ErrInvalidInput, len(s), capacity-1)
	}
	if strings.IndexByte(s, 0) >= 0 {
		return fmt.Errorf("%w: NUL byte in string field", errs.ErrInvalidInput)
	}
	return nil
}

type encoder struct {
	buf []byte
	off int
	err error
}

func (e *encoder) header(h Header) {
	e.int32(int32(h.Command))
	e.uint32(h.RequestID)
}

func (e *encoder) int32(v int32) { e.uint32(uint32(v)) }

func (e *encoder) uint32(v uint32) {
	binary.BigEndian.PutUint32(e.buf[e.off:], v)
	e.off += 4
}

func (e *encoder) int64(v int64) {
	binary.BigEndian.PutUint64(e.buf[e.off:], uint64(v))
	e.off += 8
}

// str writes s NUL-padded to capacity. The buffer is zeroed on allocation.
func (e *encoder) str(s string, capacity int) {
	if e.err == nil {
		e.err = CheckString(s, capacity)
	}
	if e.err == nil {
		copy(e.buf[e.off:e.off+capacity], s)
	}
	e.off += capacity
}

type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) header() Header {
	return Header{Command: Command(d.int32()), RequestID: d.uint32()}
}

func (d *decoder) int32() int32 { return int32(d.uint32()) }

func (d *decoder) uint32() uint32 {
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *decoder) int64() int64 {
	v := binary.BigEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return int64(v)
}

// str reads a NUL-terminated string from a field of the given capacity.
func (d *decoder) str(capacity int) string {
	field := d.buf[d.off : d.off+capacity]
	d.off += capacity
	n := bytes.IndexByte(field, 0)
	if n < 0 {
		if d.err == nil {
			d.err = fmt.Errorf("%w: unterminated string field", errs.ErrInvalidInput)
		}
		return ""
	}
	return string(field[:n])
}

// count reads an int32 element count and checks it against limit.
func (d *decoder) count(limit int) int {
	n := d.int32()
	if n < 0 || int(n) > limit {
		if d.err == nil {
			d.err = fmt.Errorf("%w: count %d out of range [0,%d]", errs.ErrProtocol, n, limit)
		}
		return 0
	}
	return int(n)
}
