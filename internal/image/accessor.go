// Package image provides read-only access to a target binary's loaded
// image: a live process, a mapped PE file, or a plain in-memory
// buffer. All accessors expose the same capability set so the scan
// engine never cares where the bytes come from.
package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/s-hammon/patgen/internal/sig"
)

// ErrNoMatch is returned by SearchForward when no further match
// exists between the start address and the end of the image.
var ErrNoMatch = errors.New("no match")

type Accessor interface {
	// Base returns the address the image's first byte is mapped at.
	Base() uint64

	// SearchForward returns the lowest address at or after start
	// where the pattern matches, or ErrNoMatch.
	SearchForward(start uint64, pat sig.Pattern) (uint64, error)

	// ReadU32 reads a 4-byte little-endian value at addr.
	ReadU32(addr uint64) (uint32, error)

	// ReadCString reads a null-terminated byte string at addr, not
	// including the terminator.
	ReadCString(addr uint64) ([]byte, error)
}

// Buffer is an image held fully in memory, mapped at a fixed base.
type Buffer struct {
	base uint64
	data []byte
}

func NewBuffer(base uint64, data []byte) *Buffer {
	return &Buffer{base: base, data: data}
}

func (b *Buffer) Base() uint64 { return b.base }

func (b *Buffer) SearchForward(start uint64, pat sig.Pattern) (uint64, error) {
	from := 0
	if start > b.base {
		if start >= b.base+uint64(len(b.data)) {
			return 0, ErrNoMatch
		}
		from = int(start - b.base)
	}

	off := pat.Find(b.data, from)
	if off == -1 {
		return 0, ErrNoMatch
	}

	return b.base + uint64(off), nil
}

func (b *Buffer) ReadU32(addr uint64) (uint32, error) {
	raw, err := b.slice(addr, 4)
	if err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(raw), nil
}

func (b *Buffer) ReadCString(addr uint64) ([]byte, error) {
	if addr < b.base || addr >= b.base+uint64(len(b.data)) {
		return nil, fmt.Errorf("read 0x%x: out of image", addr)
	}

	raw := b.data[addr-b.base:]
	end := bytes.IndexByte(raw, 0)
	if end == -1 {
		return nil, fmt.Errorf("unterminated string at 0x%x", addr)
	}

	out := make([]byte, end)
	copy(out, raw[:end])
	return out, nil
}

func (b *Buffer) slice(addr uint64, n int) ([]byte, error) {
	if addr < b.base || addr+uint64(n) > b.base+uint64(len(b.data)) {
		return nil, fmt.Errorf("read 0x%x (%d): out of image", addr, n)
	}

	off := addr - b.base
	return b.data[off : off+uint64(n)], nil
}
