package contentcoding

import (
	"bytes"
	"testing"

	kgzip "github.com/klauspost/compress/gzip"
	kzlib "github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andybalholm/brotli"
)

func gzipCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := kgzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := kzlib.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func brotliCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func zstdCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDecode_Gzip(t *testing.T) {
	want := []byte("hello world")
	got, applied, err := Decode("gzip", gzipCompress(t, want))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, want, got)
}

func TestDecode_DeflateZlibWrapped(t *testing.T) {
	want := []byte("hello deflate")
	got, applied, err := Decode("deflate", zlibCompress(t, want))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, want, got)
}

func TestDecode_Brotli(t *testing.T) {
	want := []byte("hello brotli")
	got, applied, err := Decode("br", brotliCompress(t, want))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, want, got)
}

func TestDecode_Zstd(t *testing.T) {
	want := []byte("hello zstd")
	got, applied, err := Decode("zstd", zstdCompress(t, want))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, want, got)
}

func TestDecode_OrderMatters(t *testing.T) {
	want := []byte("ordered payload")
	layer1 := gzipCompress(t, want)
	layer2 := brotliCompress(t, layer1)

	// Correct order: br then gzip (outer-to-inner == left-to-right as
	// they were applied on the encode side in reverse).
	got, applied, err := Decode("br, gzip", layer2)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, want, got)
}

func TestDecode_UnknownTokenPassesThrough(t *testing.T) {
	data := []byte("raw bytes")
	got, applied, err := Decode("identity", data)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, data, got)
}

func TestDecode_FailureIsFatalForBrotli(t *testing.T) {
	_, _, err := Decode("br", []byte("not brotli data"))
	require.Error(t, err)
}
