package heapdump

import (
	"errors"
	"fmt"
)

// Magic starts every snapshot.
const Magic = "VMGCHEAP"

// Version is the snapshot format version.
const Version uint16 = 1

const (
	headerSize      = len(Magic) + 4
	blockHeaderSize = 8

	// DefaultBlockSize is the uncompressed block size of a Writer.
	DefaultBlockSize = 256 * 1024
)

// Codec selects the block compression.
type Codec uint8

const (
	// CodecNone stores blocks uncompressed.
	CodecNone Codec = 0
	// CodecLZ4 compresses blocks with LZ4 (fast).
	CodecLZ4 Codec = 1
	// CodecZstd compresses blocks with zstd (better ratio).
	CodecZstd Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecNone:
		return "none"
	case CodecLZ4:
		return "lz4"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// ParseCodec parses a codec name.
func ParseCodec(s string) (Codec, error) {
	for c := CodecNone; c <= CodecZstd; c++ {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("heapdump: unknown codec %q", s)
}

type recordKind uint8

const (
	kindSpace recordKind = iota + 1
	kindRoot
	kindObject
	kindSummary
)

var (
	// ErrBadMagic is returned for streams that are not snapshots.
	ErrBadMagic = errors.New("heapdump: bad magic")
	// ErrUnsupportedVersion is returned for snapshots of a newer format.
	ErrUnsupportedVersion = errors.New("heapdump: unsupported version")
	// ErrCorrupt is returned for malformed blocks or records.
	ErrCorrupt = errors.New("heapdump: corrupt snapshot")
)

// Space describes one heap space.
type Space struct {
	Index         int
	Name          string
	Kind          string
	Start, End    uint64
	ReservedPages int
}

// Root is a root slot and the object it held.
type Root struct {
	Slot   uint64
	Object uint64
}

// Object is one live object and its outgoing references.
type Object struct {
	Address uint64
	Size    int
	// Space is the index of the owning space.
	Space int
	// Refs are the non-null references held by the object, in slot order.
	Refs []uint64
}

// Summary closes a snapshot.
type Summary struct {
	Cycle   uint64
	Objects uint64
	Bytes   uint64
	Roots   uint64
}
