package protocol_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nautilink/helm-bridge/internal/bridge/protocol"
)

func TestCompressDecompressLogsRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"single line\n",
		strings.Repeat("2026-01-01T00:00:00.000Z INFO heartbeat sent\n", 50),
	}

	for _, input := range inputs {
		data := []byte(input)
		compressed, tag := protocol.CompressLogs(data)
		assert.Equal(t, protocol.CompressionZstd, tag)

		decompressed, err := protocol.DecompressLogs(compressed, tag)
		require.NoError(t, err)
		assert.Equal(t, data, decompressed)
	}
}

func TestDecompressLogsNone(t *testing.T) {
	data := []byte("plain text")
	got, err := protocol.DecompressLogs(data, protocol.CompressionNone)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestDecompressLogsUnsupported(t *testing.T) {
	_, err := protocol.DecompressLogs([]byte("x"), "gzip")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported log compression")
}
