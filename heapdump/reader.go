package heapdump

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hupe1980/vmgc/internal/conv"
)

// maxBlockSize bounds blocks accepted by a Reader.
const maxBlockSize = 64 << 20

// Record is one decoded record: exactly one field is set.
type Record struct {
	Space   *Space
	Root    *Root
	Object  *Object
	Summary *Summary
}

// Reader decodes a snapshot record by record.
type Reader struct {
	r     io.Reader
	codec Codec
	block *bytes.Reader
	done  bool
}

// NewReader reads and checks the snapshot header.
func NewReader(r io.Reader) (*Reader, error) {
	hdr := make([]byte, headerSize)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return nil, fmt.Errorf("heapdump: read header: %w", err)
	}
	if string(hdr[:len(Magic)]) != Magic {
		return nil, ErrBadMagic
	}
	if v := binary.LittleEndian.Uint16(hdr[len(Magic):]); v > Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	codec := Codec(hdr[len(Magic)+2])
	if codec > CodecZstd {
		return nil, fmt.Errorf("%w: codec %s", ErrCorrupt, codec)
	}
	return &Reader{r: r, codec: codec, block: bytes.NewReader(nil)}, nil
}

// Codec returns the block codec of the snapshot.
func (r *Reader) Codec() Codec { return r.codec }

// Next returns the next record, or io.EOF after the end marker.
func (r *Reader) Next() (Record, error) {
	for r.block.Len() == 0 {
		if r.done {
			return Record{}, io.EOF
		}
		if err := r.nextBlock(); err != nil {
			return Record{}, err
		}
	}
	rec, err := r.decode()
	if err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	return rec, nil
}

func (r *Reader) nextBlock() error {
	var hdr [blockHeaderSize]byte
	if _, err := io.ReadFull(r.r, hdr[:]); err != nil {
		return fmt.Errorf("%w: block header: %w", ErrCorrupt, err)
	}
	rawLen := binary.LittleEndian.Uint32(hdr[0:])
	compLen := binary.LittleEndian.Uint32(hdr[4:])
	if rawLen == 0 {
		r.done = true
		return nil
	}
	if rawLen > maxBlockSize || compLen > maxBlockSize {
		return fmt.Errorf("%w: block of %d bytes", ErrCorrupt, max(rawLen, compLen))
	}
	n := rawLen
	if compLen != 0 {
		n = compLen
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		return fmt.Errorf("%w: block payload: %w", ErrCorrupt, err)
	}
	data, err := decompressBlock(payload, rawLen, compLen, r.codec)
	if err != nil {
		return err
	}
	r.block.Reset(data)
	return nil
}

func (r *Reader) decode() (Record, error) {
	kind, err := r.block.ReadByte()
	if err != nil {
		return Record{}, err
	}
	d := decoder{r: r.block}
	switch recordKind(kind) {
	case kindSpace:
		s := &Space{
			Index: d.int(),
			Name:  d.string(),
			Kind:  d.string(),
			Start: d.uint(),
			End:   d.uint(),
		}
		s.ReservedPages = d.int()
		return Record{Space: s}, d.err
	case kindRoot:
		return Record{Root: &Root{Slot: d.uint(), Object: d.uint()}}, d.err
	case kindObject:
		o := &Object{Address: d.uint(), Size: d.int(), Space: d.int()}
		n := d.int()
		if d.err == nil && n > r.block.Len() {
			return Record{}, fmt.Errorf("object with %d refs", n)
		}
		if n > 0 {
			o.Refs = make([]uint64, 0, n)
		}
		for range n {
			o.Refs = append(o.Refs, d.uint())
		}
		return Record{Object: o}, d.err
	case kindSummary:
		return Record{Summary: &Summary{
			Cycle:   d.uint(),
			Objects: d.uint(),
			Bytes:   d.uint(),
			Roots:   d.uint(),
		}}, d.err
	default:
		return Record{}, fmt.Errorf("unknown record kind %d", kind)
	}
}

// decoder reads uvarint fields and keeps the first error.
type decoder struct {
	r   *bytes.Reader
	err error
}

func (d *decoder) uint() uint64 {
	if d.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(d.r)
	if err != nil {
		d.err = err
	}
	return v
}

func (d *decoder) int() int {
	v := d.uint()
	if v > uint64(maxBlockSize)<<32 {
		d.err = errors.New("integer field out of range")
		return 0
	}
	n, err := conv.ToInt(v)
	if err != nil {
		d.err = err
	}
	return n
}

func (d *decoder) string() string {
	n := d.int()
	if d.err != nil {
		return ""
	}
	if n > d.r.Len() {
		d.err = io.ErrUnexpectedEOF
		return ""
	}
	b := make([]byte, n)
	_, _ = d.r.Read(b)
	return string(b)
}

// Snapshot is a fully decoded heap dump.
type Snapshot struct {
	Spaces  []Space
	Roots   []Root
	Objects []Object
	Summary Summary
}

// ObjectMap indexes the objects by address.
func (s *Snapshot) ObjectMap() map[uint64]*Object {
	m := make(map[uint64]*Object, len(s.Objects))
	for i := range s.Objects {
		m[s.Objects[i].Address] = &s.Objects[i]
	}
	return m
}

// ReadAll decodes a whole snapshot. The summary record is required.
func ReadAll(r io.Reader) (*Snapshot, error) {
	dr, err := NewReader(r)
	if err != nil {
		return nil, err
	}
	s := &Snapshot{}
	var sawSummary bool
	for {
		rec, err := dr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch {
		case rec.Space != nil:
			s.Spaces = append(s.Spaces, *rec.Space)
		case rec.Root != nil:
			s.Roots = append(s.Roots, *rec.Root)
		case rec.Object != nil:
			s.Objects = append(s.Objects, *rec.Object)
		case rec.Summary != nil:
			s.Summary = *rec.Summary
			sawSummary = true
		}
	}
	if !sawSummary {
		return nil, fmt.Errorf("%w: missing summary", ErrCorrupt)
	}
	return s, nil
}
