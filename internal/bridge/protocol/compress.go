package protocol

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Compression tags used in BridgeLogsFrame.Compression.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// Package-level encoder/decoder, safe for concurrent use.
var (
	logEncoder *zstd.Encoder
	logDecoder *zstd.Decoder
)

func init() {
	var err error
	logEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("protocol: init zstd encoder: %v", err))
	}
	logDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("protocol: init zstd decoder: %v", err))
	}
}

// CompressLogs compresses a log bundle with zstd for a bridge_logs
// frame, returning the compressed bytes and the compression tag.
func CompressLogs(data []byte) ([]byte, string) {
	return logEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), CompressionZstd
}

// DecompressLogs reverses CompressLogs. Exposed mainly for tests and
// for any diagnostic tool that consumes a bridge_logs frame.
func DecompressLogs(data []byte, compression string) ([]byte, error) {
	switch compression {
	case CompressionZstd:
		return logDecoder.DecodeAll(data, []byte{})
	case CompressionNone:
		return data, nil
	default:
		return nil, fmt.Errorf("protocol: unsupported log compression: %q", compression)
	}
}
