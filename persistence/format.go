package persistence

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/hupe1980/actoridx/codec"
	"github.com/hupe1980/actoridx/internal/hash"
)

var (
	frameMagic   = [4]byte{'A', 'I', 'X', '1'}
	frameVersion = uint16(1)
)

// fixed part: magic(4) version(2) compression(1) codecLen(1), then the
// codec name, then rawLen(4) payloadLen(4) crc(4).
const frameFixedLen = 8 + 12

var (
	ErrInvalidMagic    = errors.New("invalid frame magic")
	ErrInvalidVersion  = errors.New("unsupported frame version")
	ErrChecksum        = errors.New("frame checksum mismatch")
	ErrTruncated       = errors.New("truncated frame")
	ErrUnknownCodec    = errors.New("unknown codec")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// Encode marshals v with c and wraps it in a frame.
func Encode(c codec.Codec, comp Compression, v any) ([]byte, error) {
	if c == nil {
		c = codec.Default
	}
	name := c.Name()
	if len(name) > 255 {
		return nil, fmt.Errorf("codec name %q too long", name)
	}

	raw, err := c.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode with %s: %w", name, err)
	}
	if uint64(len(raw)) > uint64(^uint32(0)) {
		return nil, ErrPayloadTooLarge
	}

	payload, used, err := compress(raw, comp)
	if err != nil {
		return nil, fmt.Errorf("compress with %s: %w", comp, err)
	}

	buf := make([]byte, 0, frameFixedLen+len(name)+len(payload))
	buf = append(buf, frameMagic[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, frameVersion)
	buf = append(buf, byte(used), byte(len(name)))
	buf = append(buf, name...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(raw)))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(payload)))
	buf = binary.LittleEndian.AppendUint32(buf, hash.CRC32C(payload))
	buf = append(buf, payload...)
	return buf, nil
}

// Header describes a decoded frame.
type Header struct {
	Version     uint16
	Compression Compression
	Codec       string
	RawLen      int
}

// Decode verifies the frame and unmarshals its payload into v with the
// codec recorded in the header.
func Decode(data []byte, v any) (Header, error) {
	h, raw, err := unwrap(data)
	if err != nil {
		return h, err
	}
	c, ok := codec.ByName(h.Codec)
	if !ok {
		return h, fmt.Errorf("%w: %q", ErrUnknownCodec, h.Codec)
	}
	if err := c.Unmarshal(raw, v); err != nil {
		return h, fmt.Errorf("decode with %s: %w", h.Codec, err)
	}
	return h, nil
}

func unwrap(data []byte) (Header, []byte, error) {
	var h Header
	if len(data) < 8 {
		return h, nil, ErrTruncated
	}
	if [4]byte(data[0:4]) != frameMagic {
		return h, nil, ErrInvalidMagic
	}
	h.Version = binary.LittleEndian.Uint16(data[4:6])
	if h.Version != frameVersion {
		return h, nil, fmt.Errorf("%w: %d", ErrInvalidVersion, h.Version)
	}
	h.Compression = Compression(data[6])
	nameLen := int(data[7])

	off := 8
	if len(data) < off+nameLen+12 {
		return h, nil, ErrTruncated
	}
	h.Codec = string(data[off : off+nameLen])
	off += nameLen

	h.RawLen = int(binary.LittleEndian.Uint32(data[off:]))
	payloadLen := int(binary.LittleEndian.Uint32(data[off+4:]))
	sum := binary.LittleEndian.Uint32(data[off+8:])
	off += 12

	if len(data)-off != payloadLen {
		return h, nil, ErrTruncated
	}
	payload := data[off:]
	if !hash.Verify(payload, sum) {
		return h, nil, ErrChecksum
	}

	raw, err := decompress(payload, h.Compression, h.RawLen)
	if err != nil {
		return h, nil, fmt.Errorf("decompress %s: %w", h.Compression, err)
	}
	return h, raw, nil
}
