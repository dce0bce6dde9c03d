package bucket

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/motif-search/internal/descriptor"
	apperrors "github.com/Adithya-Monish-Kumar-K/motif-search/pkg/errors"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

const (
	// Magic is "MBKT" in little-endian.
	Magic      uint32 = 0x544B424D
	Version    uint8  = 2
	HeaderSize        = 24

	// MaxPayloadSize bounds the uncompressed payload of one bucket. Decode
	// rejects headers claiming more before allocating anything.
	MaxPayloadSize = 1 << 30

	// lz4 cannot expand a block by more than this factor.
	maxLZ4Ratio = 255
	// Decompression buffers start no larger than this and grow on demand.
	maxPrealloc = 4 << 20
)

// Compression names the payload compression of an encoded bucket.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionZstd Compression = 1
	CompressionLZ4  Compression = 2
)

// ParseCompression maps a config value to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("unknown bucket compression %q", s)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxPayloadSize))
}

// Codec serializes buckets into self-describing byte blobs.
//
// Layout, little-endian:
//
//	magic u32 | version u8 | encoding u8 | compression u8 | reserved u8 |
//	structures u32 | identifiers u32 | payloadLen u32 | crc32 u32 | payload
//
// The uncompressed payload is structures[u32] | offsets[u32] | fields[i32],
// where every identifier takes encoding.Fields() int32 values. The checksum
// covers the first 20 header bytes and the stored (possibly compressed)
// payload, so a damaged count field is caught before it sizes a buffer.
type Codec struct {
	compression Compression
	minSize     int
}

// NewCodec returns a codec compressing payloads of at least minSize bytes.
func NewCodec(compression Compression, minSize int) *Codec {
	return &Codec{compression: compression, minSize: minSize}
}

// Encode serializes b. The empty bucket encodes to a header with no payload.
func (c *Codec) Encode(b *Bucket) ([]byte, error) {
	enc := descriptor.EncodingFor(b.identifiers)
	n := len(b.structures)
	raw := make([]byte, 0, 8*n+4*enc.Fields()*len(b.identifiers))
	for _, s := range b.structures {
		raw = binary.LittleEndian.AppendUint32(raw, s)
	}
	for _, o := range b.offsets {
		raw = binary.LittleEndian.AppendUint32(raw, o)
	}
	fields := make([]int32, 0, enc.Fields())
	for _, id := range b.identifiers {
		var err error
		fields, err = descriptor.AppendFields(fields[:0], id, enc)
		if err != nil {
			return nil, fmt.Errorf("encoding identifier: %w", err)
		}
		for _, f := range fields {
			raw = binary.LittleEndian.AppendUint32(raw, uint32(f))
		}
	}

	if len(raw) > MaxPayloadSize {
		return nil, fmt.Errorf("bucket payload of %d bytes exceeds %d", len(raw), MaxPayloadSize)
	}
	payload, compression, err := c.compress(raw)
	if err != nil {
		return nil, err
	}

	out := make([]byte, HeaderSize, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out[0:4], Magic)
	out[4] = Version
	out[5] = uint8(enc)
	out[6] = uint8(compression)
	binary.LittleEndian.PutUint32(out[8:12], uint32(n))
	binary.LittleEndian.PutUint32(out[12:16], uint32(len(b.identifiers)))
	binary.LittleEndian.PutUint32(out[16:20], uint32(len(payload)))
	out = append(out, payload...)
	binary.LittleEndian.PutUint32(out[20:24], checksum(out))
	return out, nil
}

// checksum covers everything in an encoded bucket but the checksum field.
func checksum(data []byte) uint32 {
	h := crc32.NewIEEE()
	h.Write(data[:20])
	h.Write(data[HeaderSize:])
	return h.Sum32()
}

func (c *Codec) compress(raw []byte) ([]byte, Compression, error) {
	if c.compression == CompressionNone || len(raw) < c.minSize || len(raw) == 0 {
		return raw, CompressionNone, nil
	}
	var compressed []byte
	switch c.compression {
	case CompressionZstd:
		enc, err := getZstdEncoder()
		if err != nil {
			return nil, 0, fmt.Errorf("creating zstd encoder: %w", err)
		}
		compressed = enc.EncodeAll(raw, nil)
		zstdEncoderPool.Put(enc)
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, buf, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		compressed = buf[:n]
	default:
		return nil, 0, fmt.Errorf("unknown bucket compression %d", c.compression)
	}
	if len(compressed) == 0 || len(compressed) >= len(raw) {
		return raw, CompressionNone, nil
	}
	return compressed, c.compression, nil
}

// Decode parses an encoded bucket. Any structural problem is reported as
// ErrCorruptBucket.
func (c *Codec) Decode(data []byte) (*Bucket, error) {
	if len(data) < HeaderSize {
		return nil, corrupt("blob of %d bytes is shorter than the header", len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != Magic {
		return nil, corrupt("bad magic %#x", magic)
	}
	if data[4] != Version {
		return nil, corrupt("unsupported version %d", data[4])
	}
	enc := descriptor.Encoding(data[5])
	if !enc.Valid() {
		return nil, corrupt("unknown identifier encoding %d", data[5])
	}
	compression := Compression(data[6])
	structCount := binary.LittleEndian.Uint32(data[8:12])
	idCount := binary.LittleEndian.Uint32(data[12:16])
	payloadLen := int(binary.LittleEndian.Uint32(data[16:20]))

	payload := data[HeaderSize:]
	if len(payload) != payloadLen {
		return nil, corrupt("payload length %d, header says %d", len(payload), payloadLen)
	}
	if checksum(data) != binary.LittleEndian.Uint32(data[20:24]) {
		return nil, corrupt("checksum mismatch")
	}

	size := 8*uint64(structCount) + 4*uint64(enc.Fields())*uint64(idCount)
	if size > MaxPayloadSize {
		return nil, corrupt("counts need %d bytes, limit is %d", size, MaxPayloadSize)
	}
	n, rawLen := int(structCount), int(size)
	raw, err := decompress(payload, compression, rawLen)
	if err != nil {
		return nil, corrupt("%v", err)
	}
	if len(raw) != rawLen {
		return nil, corrupt("payload holds %d bytes, counts need %d", len(raw), rawLen)
	}
	if n == 0 && idCount == 0 {
		return empty, nil
	}

	structures := make([]uint32, n)
	offsets := make([]uint32, n)
	for i := range structures {
		structures[i] = binary.LittleEndian.Uint32(raw[4*i:])
		offsets[i] = binary.LittleEndian.Uint32(raw[4*(n+i):])
	}
	identifiers := make([]descriptor.Identifier, int(idCount))
	width := enc.Fields()
	fields := make([]int32, width)
	pos := 8 * n
	for i := range identifiers {
		for f := range fields {
			fields[f] = int32(binary.LittleEndian.Uint32(raw[pos:]))
			pos += 4
		}
		id, err := descriptor.IdentifierFromFields(fields, enc)
		if err != nil {
			return nil, corrupt("identifier %d: %v", i, err)
		}
		identifiers[i] = id
	}

	b, err := New(structures, offsets, identifiers)
	if err != nil {
		return nil, corrupt("%v", err)
	}
	return b, nil
}

func decompress(payload []byte, compression Compression, rawLen int) ([]byte, error) {
	switch compression {
	case CompressionNone:
		return payload, nil
	case CompressionZstd:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("creating zstd decoder: %w", err)
		}
		defer zstdDecoderPool.Put(dec)
		return dec.DecodeAll(payload, make([]byte, 0, min(rawLen, maxPrealloc)))
	case CompressionLZ4:
		if rawLen > maxLZ4Ratio*len(payload) {
			return nil, fmt.Errorf("lz4 block of %d bytes cannot expand to %d", len(payload), rawLen)
		}
		out := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return out[:n], nil
	default:
		return nil, fmt.Errorf("unknown compression %d", compression)
	}
}

func corrupt(format string, args ...any) error {
	return apperrors.Newf(apperrors.ErrCorruptBucket, format, args...)
}
