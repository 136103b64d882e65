package standard

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// CompressionMode selects how stored-field chunks are compressed.
type CompressionMode uint8

const (
	// CompressionNone stores chunks raw.
	CompressionNone CompressionMode = 0
	// CompressionFast uses LZ4 block compression.
	CompressionFast CompressionMode = 1
	// CompressionHigh uses zstd for a better ratio at a higher CPU cost.
	CompressionHigh CompressionMode = 2
)

func (m CompressionMode) String() string {
	switch m {
	case CompressionNone:
		return "none"
	case CompressionFast:
		return "fast"
	case CompressionHigh:
		return "high"
	default:
		return fmt.Sprintf("CompressionMode(%d)", uint8(m))
	}
}

var errChunkSize = errors.New("standard: decompressed chunk size mismatch")

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
	dec, _ := zstd.NewReader(nil)
	return dec
}

// chunkHeaderSize covers [uncompressed uint32][compressed uint32]. A
// compressed size of 0 marks a raw chunk.
const chunkHeaderSize = 8

// compressChunk frames data with a chunk header, compressing it unless the
// mode is none or compression does not pay off.
func compressChunk(data []byte, mode CompressionMode) ([]byte, error) {
	var compressed []byte
	switch mode {
	case CompressionFast:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case CompressionHigh:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	if len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9 {
		out := make([]byte, chunkHeaderSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		copy(out[chunkHeaderSize:], data)
		return out, nil
	}
	out := make([]byte, chunkHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[chunkHeaderSize:], compressed)
	return out, nil
}

// chunkFrameSize returns the total size of the frame starting with header.
func chunkFrameSize(header []byte) int {
	raw := binary.LittleEndian.Uint32(header[0:])
	comp := binary.LittleEndian.Uint32(header[4:])
	if comp == 0 {
		return chunkHeaderSize + int(raw)
	}
	return chunkHeaderSize + int(comp)
}

// decompressChunk reverses compressChunk.
func decompressChunk(frame []byte, mode CompressionMode) ([]byte, error) {
	if len(frame) < chunkHeaderSize {
		return nil, errors.New("standard: chunk too small for header")
	}
	raw := binary.LittleEndian.Uint32(frame[0:])
	comp := binary.LittleEndian.Uint32(frame[4:])
	if comp == 0 {
		if uint32(len(frame)) < chunkHeaderSize+raw {
			return nil, errChunkSize
		}
		return frame[chunkHeaderSize : chunkHeaderSize+raw], nil
	}
	if uint32(len(frame)) < chunkHeaderSize+comp {
		return nil, errChunkSize
	}
	data := frame[chunkHeaderSize : chunkHeaderSize+comp]
	out := make([]byte, raw)

	switch mode {
	case CompressionHigh:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(data, out[:0])
		if err != nil {
			return nil, err
		}
		if uint32(len(decoded)) != raw {
			return nil, errChunkSize
		}
		return decoded, nil
	default:
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, err
		}
		if uint32(n) != raw {
			return nil, errChunkSize
		}
		return out, nil
	}
}
