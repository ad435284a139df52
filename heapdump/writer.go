package heapdump

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrWriterClosed is returned by writes after Close.
var ErrWriterClosed = errors.New("heapdump: writer closed")

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithBlockSize sets the uncompressed block size.
func WithBlockSize(n int) WriterOption {
	return func(w *Writer) {
		if n > 0 {
			w.blockSize = n
		}
	}
}

// Writer streams records into compressed blocks.
type Writer struct {
	w         io.Writer
	codec     Codec
	blockSize int

	buf     []byte
	scratch []byte
	written int64
	closed  bool

	objects, bytes, roots uint64
}

// NewWriter writes the snapshot header to w and returns a writer for the
// records.
func NewWriter(w io.Writer, codec Codec, opts ...WriterOption) (*Writer, error) {
	if codec > CodecZstd {
		return nil, fmt.Errorf("heapdump: unknown codec %s", codec)
	}
	dw := &Writer{w: w, codec: codec, blockSize: DefaultBlockSize}
	for _, opt := range opts {
		opt(dw)
	}
	dw.buf = make([]byte, 0, dw.blockSize)

	hdr := make([]byte, headerSize)
	copy(hdr, Magic)
	binary.LittleEndian.PutUint16(hdr[len(Magic):], Version)
	hdr[len(Magic)+2] = byte(codec)
	if err := dw.write(hdr); err != nil {
		return nil, err
	}
	return dw, nil
}

// WriteSpace records a space.
func (w *Writer) WriteSpace(s Space) error {
	r := w.begin(kindSpace)
	r = binary.AppendUvarint(r, uint64(s.Index)) //nolint:gosec // non-negative
	r = appendString(r, s.Name)
	r = appendString(r, s.Kind)
	r = binary.AppendUvarint(r, s.Start)
	r = binary.AppendUvarint(r, s.End)
	r = binary.AppendUvarint(r, uint64(s.ReservedPages)) //nolint:gosec // non-negative
	return w.end(r)
}

// WriteRoot records a root slot.
func (w *Writer) WriteRoot(r Root) error {
	b := w.begin(kindRoot)
	b = binary.AppendUvarint(b, r.Slot)
	b = binary.AppendUvarint(b, r.Object)
	w.roots++
	return w.end(b)
}

// WriteObject records a live object.
func (w *Writer) WriteObject(o Object) error {
	b := w.begin(kindObject)
	b = binary.AppendUvarint(b, o.Address)
	b = binary.AppendUvarint(b, uint64(o.Size))  //nolint:gosec // non-negative
	b = binary.AppendUvarint(b, uint64(o.Space)) //nolint:gosec // non-negative
	b = binary.AppendUvarint(b, uint64(len(o.Refs)))
	for _, ref := range o.Refs {
		b = binary.AppendUvarint(b, ref)
	}
	w.objects++
	w.bytes += uint64(o.Size) //nolint:gosec // non-negative
	return w.end(b)
}

// Written returns the number of bytes written to the underlying writer.
func (w *Writer) Written() int64 { return w.written }

// Close writes the summary record and the end marker. It does not close
// the underlying writer.
func (w *Writer) Close(cycle uint64) error {
	if w.closed {
		return ErrWriterClosed
	}
	b := w.begin(kindSummary)
	b = binary.AppendUvarint(b, cycle)
	b = binary.AppendUvarint(b, w.objects)
	b = binary.AppendUvarint(b, w.bytes)
	b = binary.AppendUvarint(b, w.roots)
	if err := w.end(b); err != nil {
		return err
	}
	if err := w.flush(); err != nil {
		return err
	}
	w.closed = true
	return w.write(make([]byte, blockHeaderSize))
}

func (w *Writer) begin(kind recordKind) []byte {
	return append(w.scratch[:0], byte(kind))
}

// end appends an encoded record, flushing first so that no record spans
// two blocks.
func (w *Writer) end(rec []byte) error {
	w.scratch = rec
	if w.closed {
		return ErrWriterClosed
	}
	if len(w.buf) > 0 && len(w.buf)+len(rec) > w.blockSize {
		if err := w.flush(); err != nil {
			return err
		}
	}
	w.buf = append(w.buf, rec...)
	return nil
}

func (w *Writer) flush() error {
	if len(w.buf) == 0 {
		return nil
	}
	block, err := compressBlock(w.buf, w.codec)
	if err != nil {
		return err
	}
	w.buf = w.buf[:0]
	return w.write(block)
}

func (w *Writer) write(p []byte) error {
	n, err := w.w.Write(p)
	w.written += int64(n)
	return err
}

func appendString(b []byte, s string) []byte {
	b = binary.AppendUvarint(b, uint64(len(s)))
	return append(b, s...)
}
