package frame

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the payload codec. The values are stored in
// frames and must not change.
type Compression uint8

const (
	None Compression = 0
	LZ4  Compression = 1
	Zstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	}
	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// ParseCompression parses the names printed by String.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	}
	return None, fmt.Errorf("frame: unknown compression %q", name)
}

// zstd encoders and decoders are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		panic("frame: zstd encoder: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("frame: zstd decoder: " + err.Error())
	}
}

// compress returns the stored body and the codec actually used.
func compress(data []byte, c Compression) ([]byte, Compression, error) {
	switch c {
	case None:
		return data, None, nil
	case LZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, dst, nil)
		if err != nil {
			return nil, None, fmt.Errorf("frame: lz4 compress: %w", err)
		}
		if n == 0 || n >= len(data) {
			return data, None, nil
		}
		return dst[:n], LZ4, nil
	case Zstd:
		out := zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			return data, None, nil
		}
		return out, Zstd, nil
	}
	return nil, None, fmt.Errorf("frame: unsupported compression %s", c)
}

func decompress(body []byte, c Compression, rawLen int) ([]byte, error) {
	switch c {
	case None:
		if len(body) != rawLen {
			return nil, fmt.Errorf("%w: payload of %d bytes, header says %d", ErrTruncated, len(body), rawLen)
		}
		return body, nil
	case LZ4:
		dst := make([]byte, rawLen)
		n, err := lz4.UncompressBlock(body, dst)
		if err != nil {
			return nil, fmt.Errorf("frame: lz4 decompress: %w", err)
		}
		if n != rawLen {
			return nil, fmt.Errorf("%w: lz4 gave %d bytes, header says %d", ErrTruncated, n, rawLen)
		}
		return dst, nil
	case Zstd:
		out, err := zstdDecoder.DecodeAll(body, make([]byte, 0, rawLen))
		if err != nil {
			return nil, fmt.Errorf("frame: zstd decompress: %w", err)
		}
		if len(out) != rawLen {
			return nil, fmt.Errorf("%w: zstd gave %d bytes, header says %d", ErrTruncated, len(out), rawLen)
		}
		return out, nil
	}
	return nil, fmt.Errorf("frame: unsupported compression %s", c)
}
