package rpc

import (
	"encoding/base64"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/mr-tron/base58"
)

// EncodeImage encodes a program image according to the specified encoding.
func EncodeImage(image []byte, encoding Encoding) (string, error) {
	switch encoding {
	case EncodingBase58:
		return base58.Encode(image), nil

	case EncodingBase64:
		return base64.StdEncoding.EncodeToString(image), nil

	case EncodingBase64Zstd:
		compressed, err := compressZstd(image)
		if err != nil {
			return "", fmt.Errorf("zstd compression failed: %w", err)
		}
		return base64.StdEncoding.EncodeToString(compressed), nil

	default:
		return base64.StdEncoding.EncodeToString(image), nil
	}
}

// DecodeImage decodes a program image from the specified encoding.
func DecodeImage(encoded string, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingBase58:
		return base58.Decode(encoded)

	case EncodingBase64:
		return base64.StdEncoding.DecodeString(encoded)

	case EncodingBase64Zstd:
		compressed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("base64 decode failed: %w", err)
		}
		return decompressZstd(compressed)

	default:
		return base64.StdEncoding.DecodeString(encoded)
	}
}

// compressZstd compresses data using zstd.
func compressZstd(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, nil), nil
}

// decompressZstd decompresses zstd-compressed data.
func decompressZstd(data []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	return decoder.DecodeAll(data, nil)
}
