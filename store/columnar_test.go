package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePageRoundTrips(t *testing.T) {
	rows := []Row{{"a": float64(1)}, {"a": float64(2)}}

	for _, codec := range []Compression{CompressionNone, CompressionSnappy, CompressionZstd} {
		t.Run(string(codec), func(t *testing.T) {
			page, err := encodePage(codec, rows)
			require.NoError(t, err)

			got, err := decodePage(page)
			require.NoError(t, err)
			assert.Equal(t, rows, got)
		})
	}
}

func TestDecodePageRejectsCorruptChecksum(t *testing.T) {
	page, err := encodePage(CompressionNone, []Row{{"a": float64(1)}})
	require.NoError(t, err)

	corrupt := append([]byte(nil), page...)
	corrupt[len(corrupt)-1] ^= 0xFF

	_, err = decodePage(corrupt)
	assert.Error(t, err)
}

func TestDecodePageRejectsBadMagic(t *testing.T) {
	_, err := decodePage([]byte{0, 0, 0, 0})
	assert.Error(t, err)
}
