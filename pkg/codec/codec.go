// Package codec serializes repository values as zstd-compressed JSON.
package codec

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/nimburion/backupstore/pkg/storeerr"
)

// ContentType is attached to stored objects produced by Marshal.
const ContentType = "application/vnd.backupstore+zstd"

var (
	encoderPool = sync.Pool{
		New: func() any {
			enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			return enc
		},
	}
	decoderPool = sync.Pool{
		New: func() any {
			dec, _ := zstd.NewReader(nil)
			return dec
		},
	}
)

// Marshal encodes v as JSON and compresses the result.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, storeerr.Wrap(storeerr.ErrInvalidArgument, "encode value", err)
	}
	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)
	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2+16)), nil
}

// Unmarshal decompresses data and decodes the JSON into v.
func Unmarshal(data []byte, v any) error {
	dec := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(dec)
	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return storeerr.Wrap(storeerr.ErrDataCorruption, "decompress value", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return storeerr.Wrap(storeerr.ErrDataCorruption, fmt.Sprintf("decode %T", v), err)
	}
	return nil
}
