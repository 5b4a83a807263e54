// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how cached payloads are stored. The value is
// written as the first byte of every stored entry, so it is a format
// constant.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses a configuration value. Empty means zstd.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	case "none":
		return CompressionNone, nil
	default:
		return 0, fmt.Errorf("cache: unknown compression %q", name)
	}
}

// Payloads larger than this are rejected on decode rather than
// allocated.
const maxPayloadSize = 4 << 20

var errIncompressible = errors.New("cache: data is incompressible")

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPayloadSize))
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

// pack frames data as [tag][uvarint length][payload]. If compression
// does not shrink the data it is stored uncompressed.
func pack(data []byte, compression Compression) ([]byte, error) {
	payload, tag := data, CompressionNone
	if compression != CompressionNone {
		compressed, err := compress(data, compression)
		switch {
		case err == nil:
			payload, tag = compressed, compression
		case !errors.Is(err, errIncompressible):
			return nil, err
		}
	}

	framed := make([]byte, 1, 1+binary.MaxVarintLen64+len(payload))
	framed[0] = byte(tag)
	framed = binary.AppendUvarint(framed, uint64(len(data)))
	return append(framed, payload...), nil
}

// unpack reverses pack.
func unpack(framed []byte) ([]byte, error) {
	if len(framed) < 2 {
		return nil, fmt.Errorf("cache: stored entry truncated (%d bytes)", len(framed))
	}
	tag := Compression(framed[0])
	size, read := binary.Uvarint(framed[1:])
	if read <= 0 {
		return nil, errors.New("cache: stored entry has invalid length header")
	}
	if size > maxPayloadSize {
		return nil, fmt.Errorf("cache: stored entry claims %d bytes", size)
	}
	payload := framed[1+read:]

	switch tag {
	case CompressionNone:
		if uint64(len(payload)) != size {
			return nil, fmt.Errorf("cache: stored entry size %d does not match header %d", len(payload), size)
		}
		return payload, nil

	case CompressionLZ4:
		destination := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, destination)
		if err != nil {
			return nil, fmt.Errorf("cache: lz4 decompress: %w", err)
		}
		if uint64(n) != size {
			return nil, fmt.Errorf("cache: lz4 decompress: got %d bytes, expected %d", n, size)
		}
		return destination, nil

	case CompressionZstd:
		destination, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("cache: zstd decompress: %w", err)
		}
		if uint64(len(destination)) != size {
			return nil, fmt.Errorf("cache: zstd decompress: got %d bytes, expected %d", len(destination), size)
		}
		return destination, nil

	default:
		return nil, fmt.Errorf("cache: stored entry has unknown compression %s", tag)
	}
}

func compress(data []byte, compression Compression) ([]byte, error) {
	switch compression {
	case CompressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(data)))
		written, err := lz4.CompressBlock(data, destination, nil)
		if err != nil {
			return nil, fmt.Errorf("cache: lz4 compress: %w", err)
		}
		if written == 0 || written >= len(data) {
			return nil, errIncompressible
		}
		return destination[:written], nil

	case CompressionZstd:
		compressed := zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return nil, errIncompressible
		}
		return compressed, nil

	default:
		return nil, fmt.Errorf("cache: unsupported compression %s", compression)
	}
}
