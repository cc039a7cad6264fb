package backup

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"migration-guard/internal/errors"
)

// Compressor compresses and decompresses backup artifact payloads
type Compressor interface {
	Compress(data []byte, level int) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
	Algorithm() string
}

// NewCompressor returns the compressor for a configured algorithm name
func NewCompressor(algorithm string) (Compressor, error) {
	switch algorithm {
	case "gzip":
		return &gzipCompressor{}, nil
	case "zstd":
		return &zstdCompressor{}, nil
	case "lz4":
		return &lz4Compressor{}, nil
	default:
		return nil, errors.NewValidationError("unsupported compression algorithm: "+algorithm, nil)
	}
}

// DetectCompression sniffs payload magic bytes and reports which algorithm
// wrote it, or "" for an uncompressed payload.
func DetectCompression(payload []byte) string {
	switch {
	case bytes.HasPrefix(payload, []byte{0x1f, 0x8b}):
		return "gzip"
	case bytes.HasPrefix(payload, []byte{0x28, 0xb5, 0x2f, 0xfd}):
		return "zstd"
	case bytes.HasPrefix(payload, []byte{0x04, 0x22, 0x4d, 0x18}):
		return "lz4"
	default:
		return ""
	}
}

type gzipCompressor struct{}

func (gc *gzipCompressor) Compress(data []byte, level int) ([]byte, error) {
	if level < gzip.BestSpeed || level > gzip.BestCompression {
		level = gzip.DefaultCompression
	}

	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, errors.NewBackupFailed("failed to create gzip writer", err)
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, errors.NewBackupFailed("failed to compress payload", err)
	}
	if err := writer.Close(); err != nil {
		return nil, errors.NewBackupFailed("failed to finalize gzip stream", err)
	}
	return buf.Bytes(), nil
}

func (gc *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.NewBackupFailed("failed to open gzip stream", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.NewBackupFailed("failed to decompress gzip payload", err)
	}
	return decompressed, nil
}

func (gc *gzipCompressor) Algorithm() string { return "gzip" }

type zstdCompressor struct{}

func (zc *zstdCompressor) Compress(data []byte, level int) ([]byte, error) {
	encoderLevel := zstd.SpeedDefault
	switch {
	case level <= 1:
		encoderLevel = zstd.SpeedFastest
	case level <= 3:
		encoderLevel = zstd.SpeedDefault
	case level <= 6:
		encoderLevel = zstd.SpeedBetterCompression
	default:
		encoderLevel = zstd.SpeedBestCompression
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevel))
	if err != nil {
		return nil, errors.NewBackupFailed("failed to create zstd encoder", err)
	}
	defer encoder.Close()

	return encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func (zc *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, errors.NewBackupFailed("failed to create zstd decoder", err)
	}
	defer decoder.Close()

	decompressed, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, errors.NewBackupFailed("failed to decompress zstd payload", err)
	}
	return decompressed, nil
}

func (zc *zstdCompressor) Algorithm() string { return "zstd" }

type lz4Compressor struct{}

func (lc *lz4Compressor) Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4.NewWriter(&buf)
	if level > 6 {
		if err := writer.Apply(lz4.CompressionLevelOption(lz4.Level9)); err != nil {
			return nil, errors.NewBackupFailed("failed to configure lz4 writer", err)
		}
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, errors.NewBackupFailed("failed to compress payload", err)
	}
	if err := writer.Close(); err != nil {
		return nil, errors.NewBackupFailed("failed to finalize lz4 stream", err)
	}
	return buf.Bytes(), nil
}

func (lc *lz4Compressor) Decompress(data []byte) ([]byte, error) {
	reader := lz4.NewReader(bytes.NewReader(data))
	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.NewBackupFailed("failed to decompress lz4 payload", err)
	}
	return decompressed, nil
}

func (lc *lz4Compressor) Algorithm() string { return "lz4" }
