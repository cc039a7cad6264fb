package backup

import (
	"migration-guard/internal/config"
	"migration-guard/internal/errors"
)

// Pipeline applies the configured compression and encryption stages to dump
// payloads before they hit disk, and reverses them on restore. Compression
// always runs before encryption; ciphertext does not compress.
type Pipeline struct {
	compression config.CompressionConfig
	encryption  config.EncryptionConfig
}

// NewPipeline builds the artifact processing pipeline from configuration
func NewPipeline(cfg *config.Config) *Pipeline {
	return &Pipeline{
		compression: cfg.Compression,
		encryption:  cfg.Encryption,
	}
}

// Seal processes a raw dump payload for storage. It returns the processed
// bytes plus the compression algorithm applied ("" when disabled) and
// whether encryption was applied.
func (p *Pipeline) Seal(payload []byte) ([]byte, string, bool, error) {
	algorithm := ""
	if p.compression.Enabled {
		compressor, err := NewCompressor(p.compression.Algorithm)
		if err != nil {
			return nil, "", false, err
		}
		payload, err = compressor.Compress(payload, p.compression.Level)
		if err != nil {
			return nil, "", false, err
		}
		algorithm = compressor.Algorithm()
	}

	if p.encryption.Enabled {
		sealed, err := NewEncryptor(p.encryption.Passphrase).Encrypt(payload)
		if err != nil {
			return nil, "", false, err
		}
		return sealed, algorithm, true, nil
	}
	return payload, algorithm, false, nil
}

// Open reverses Seal. It trusts the payload over configuration: the
// encryption envelope and compression magics are sniffed from the bytes, so
// artifacts created under a different configuration still restore.
func (p *Pipeline) Open(payload []byte) ([]byte, error) {
	if IsEncrypted(payload) {
		if p.encryption.Passphrase == "" {
			return nil, errors.NewBackupFailed("artifact is encrypted but no passphrase is configured", nil)
		}
		plain, err := NewEncryptor(p.encryption.Passphrase).Decrypt(payload)
		if err != nil {
			return nil, err
		}
		payload = plain
	}

	if algorithm := DetectCompression(payload); algorithm != "" {
		compressor, err := NewCompressor(algorithm)
		if err != nil {
			return nil, err
		}
		return compressor.Decompress(payload)
	}
	return payload, nil
}
