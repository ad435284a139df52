package heapdump

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/vmgc/internal/conv"
)

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxBlockSize))
	return dec
}

// compressBlock returns data framed with a block header. Blocks that do not
// shrink by at least a tenth are stored raw.
func compressBlock(data []byte, codec Codec) ([]byte, error) {
	var compressed []byte
	switch codec {
	case CodecLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CodecZstd:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		compressed = nil
	}
	payload := data
	if compressed != nil {
		payload = compressed
	}

	rawLen, err := conv.ToUint32(len(data))
	if err != nil {
		return nil, err
	}
	compLen, err := conv.ToUint32(len(compressed))
	if err != nil {
		return nil, err
	}
	out := make([]byte, blockHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:], rawLen)
	binary.LittleEndian.PutUint32(out[4:], compLen)
	copy(out[blockHeaderSize:], payload)
	return out, nil
}

// decompressBlock expands the payload of a block whose header announced
// rawLen and compLen.
func decompressBlock(payload []byte, rawLen, compLen uint32, codec Codec) ([]byte, error) {
	if compLen == 0 {
		if uint32(len(payload)) != rawLen { //nolint:gosec // payload read with rawLen
			return nil, fmt.Errorf("%w: raw block size mismatch", ErrCorrupt)
		}
		return payload, nil
	}

	result := make([]byte, rawLen)
	switch codec {
	case CodecLZ4:
		n, err := lz4.UncompressBlock(payload, result)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(n) != rawLen { //nolint:gosec // n bounded by rawLen
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return result, nil
	case CodecZstd:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(payload, result[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if uint32(len(decoded)) != rawLen { //nolint:gosec // bounded by rawLen
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return decoded, nil
	default:
		return nil, fmt.Errorf("%w: compressed block with codec %s", ErrCorrupt, codec)
	}
}
