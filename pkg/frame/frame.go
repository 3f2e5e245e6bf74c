// Package frame wraps encoded payloads in a small self-checking envelope:
// magic, version, flags, compression, schema id, lengths and a CRC32.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

const (
	Version = 1

	// HeaderSize is the fixed prefix ahead of the payload.
	HeaderSize = 2 + 1 + 1 + 1 + 8 + 4 + 4
	crcSize    = 4
)

var magic = [2]byte{'R', 'G'}

// Flags describe optional frame features.
const (
	// FlagSchema marks a frame whose schema id must match the reader's.
	FlagSchema byte = 1 << iota
)

var (
	ErrMagic          = errors.New("frame: not a refgraph frame")
	ErrVersion        = errors.New("frame: unsupported version")
	ErrTruncated      = errors.New("frame: truncated")
	ErrChecksum       = errors.New("frame: checksum mismatch")
	ErrSchemaMismatch = errors.New("frame: schema mismatch")
)

// Header is the decoded frame prefix.
type Header struct {
	Version     byte
	Flags       byte
	Compression Compression
	SchemaID    uint64
	// RawLen is the payload size before compression.
	RawLen uint32
	// Len is the size of the payload as stored.
	Len uint32
}

// Options controls encoding. A zero SchemaID writes no schema check.
type Options struct {
	Compression Compression
	SchemaID    uint64
}

// Encode frames payload. Compression that does not shrink the payload is
// dropped and the frame records None.
func Encode(payload []byte, opts Options) ([]byte, error) {
	body, used, err := compress(payload, opts.Compression)
	if err != nil {
		return nil, err
	}
	var flags byte
	if opts.SchemaID != 0 {
		flags |= FlagSchema
	}
	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(body)+crcSize))
	buf.Write(magic[:])
	buf.WriteByte(Version)
	buf.WriteByte(flags)
	buf.WriteByte(byte(used))
	binary.Write(buf, binary.LittleEndian, opts.SchemaID)
	binary.Write(buf, binary.LittleEndian, uint32(len(payload)))
	binary.Write(buf, binary.LittleEndian, uint32(len(body)))
	buf.Write(body)

	out := buf.Bytes()
	crc := crc32.ChecksumIEEE(out[len(magic):])
	out = binary.LittleEndian.AppendUint32(out, crc)
	return out, nil
}

// ReadHeader parses the frame prefix without checking the payload.
func ReadHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	if data[0] != magic[0] || data[1] != magic[1] {
		return h, ErrMagic
	}
	h.Version = data[2]
	if h.Version != Version {
		return h, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	h.Flags = data[3]
	h.Compression = Compression(data[4])
	h.SchemaID = binary.LittleEndian.Uint64(data[5:])
	h.RawLen = binary.LittleEndian.Uint32(data[13:])
	h.Len = binary.LittleEndian.Uint32(data[17:])
	return h, nil
}

// Decode verifies data and returns its uncompressed payload. When schema
// is non-zero and the frame carries a schema id, the two must match.
func Decode(data []byte, schema uint64) ([]byte, Header, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, h, err
	}
	end := HeaderSize + int(h.Len)
	if len(data) != end+crcSize {
		return nil, h, fmt.Errorf("%w: frame of %d bytes, header says %d", ErrTruncated, len(data), end+crcSize)
	}
	want := binary.LittleEndian.Uint32(data[end:])
	if crc32.ChecksumIEEE(data[len(magic):end]) != want {
		return nil, h, ErrChecksum
	}
	if schema != 0 && h.Flags&FlagSchema != 0 && h.SchemaID != schema {
		return nil, h, fmt.Errorf("%w: frame %016x, reader %016x", ErrSchemaMismatch, h.SchemaID, schema)
	}
	payload, err := decompress(data[HeaderSize:end], h.Compression, int(h.RawLen))
	if err != nil {
		return nil, h, err
	}
	return payload, h, nil
}
