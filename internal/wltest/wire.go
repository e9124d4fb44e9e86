package wltest

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/rajveermalviya/go-wayland/wayland/client"
)

const (
	headerSize = 8
	// Message sizes travel in the upper 16 bits of the second header word.
	maxMessageSize = 0xffff
)

var errShortMessage = errors.New("short message")

type header struct {
	objectID uint32
	opcode   uint16
	size     uint16
}

func parseHeader(b []byte) (header, error) {
	if len(b) < headerSize {
		return header{}, errShortMessage
	}
	word := client.Uint32(b[4:8])
	h := header{
		objectID: client.Uint32(b[0:4]),
		opcode:   uint16(word & 0xffff),
		size:     uint16(word >> 16),
	}
	if h.size < headerSize {
		return h, fmt.Errorf("invalid message size %d for object %d", h.size, h.objectID)
	}
	return h, nil
}

// message is an event under construction.
type message struct {
	object uint32
	opcode uint16
	body   []byte
}

func newMessage(object uint32, opcode uint16) *message {
	return &message{object: object, opcode: opcode}
}

func (m *message) PutUint32(v uint32) *message {
	m.body = append(m.body, 0, 0, 0, 0)
	client.PutUint32(m.body[len(m.body)-4:], v)
	return m
}

func (m *message) PutInt32(v int32) *message {
	return m.PutUint32(uint32(v))
}

// PutString writes the unpadded length the way libwayland servers do.
func (m *message) PutString(s string) *message {
	n := len(s) + 1
	b := make([]byte, 4+client.PaddedLen(n))
	client.PutString(b, s, n)
	m.body = append(m.body, b...)
	return m
}

func (m *message) PutArray(a []byte) *message {
	m.PutUint32(uint32(len(a)))
	m.body = append(m.body, a...)
	m.body = append(m.body, make([]byte, client.PaddedLen(len(a))-len(a))...)
	return m
}

// Bytes encodes the message. It panics when the message does not fit the
// 16-bit size field.
func (m *message) Bytes() []byte {
	size := headerSize + len(m.body)
	if size > maxMessageSize {
		panic(fmt.Sprintf("wltest: event %d on object %d is %d bytes, limit is %d", m.opcode, m.object, size, maxMessageSize))
	}
	b := make([]byte, size)
	client.PutUint32(b[0:4], m.object)
	client.PutUint32(b[4:8], uint32(size)<<16|uint32(m.opcode))
	copy(b[headerSize:], m.body)
	return b
}

// decoder reads request arguments. The first error is sticky.
type decoder struct {
	data []byte
	off  int
	err  error
}

func newDecoder(payload []byte) *decoder {
	return &decoder{data: payload}
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.data) {
		d.err = errShortMessage
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) Uint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return client.Uint32(b)
}

func (d *decoder) Int32() int32 {
	return int32(d.Uint32())
}

// String reads a string argument. Clients may send the padded length, so
// the value ends at the first NUL rather than at the length prefix.
func (d *decoder) String() string {
	n := int(d.Uint32())
	if n == 0 {
		return ""
	}
	b := d.take(client.PaddedLen(n))
	if b == nil {
		return ""
	}
	if bytes.IndexByte(b, 0) < 0 {
		d.err = fmt.Errorf("string of length %d is not NUL terminated", n)
		return ""
	}
	return strings.Clone(client.String(b))
}

// NewID reads the untyped new_id of wl_registry.bind.
func (d *decoder) NewID() (iface string, version, id uint32) {
	iface = d.String()
	version = d.Uint32()
	id = d.Uint32()
	return iface, version, id
}

func (d *decoder) Err() error {
	return d.err
}
