package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
)

const envelopeVersion = 1

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

type envelope struct {
	Version  int              `json:"v"`
	StoredAt time.Time        `json:"storedAt"`
	Article  *article.Article `json:"article"`
}

// Codec serializes articles for storage, optionally compressing them with
// zstd. Decode accepts both compressed and plain values.
type Codec struct {
	compress bool
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// NewCodec builds a Codec.
func NewCodec(compress bool) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
	if err != nil {
		_ = enc.Close()
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	return &Codec{compress: compress, enc: enc, dec: dec}, nil
}

// Encode serializes an article stamped with at.
func (c *Codec) Encode(a *article.Article, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(envelope{Version: envelopeVersion, StoredAt: at.UTC(), Article: a})
	if err != nil {
		return nil, fmt.Errorf("marshal article: %w", err)
	}
	if !c.compress {
		return raw, nil
	}
	return c.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Decode parses a stored value. Values that fail to decompress, parse, or
// validate return an error wrapping article.ErrCache.
func (c *Codec) Decode(b []byte) (*article.Article, error) {
	if bytes.HasPrefix(b, zstdMagic) {
		raw, err := c.dec.DecodeAll(b, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", article.ErrCache, err)
		}
		b = raw
	}
	var env envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", article.ErrCache, err)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", article.ErrCache, env.Version)
	}
	if !env.Article.Cacheable() || !env.Article.Consistent() {
		return nil, fmt.Errorf("%w: invalid stored article", article.ErrCache)
	}
	return env.Article, nil
}

// Close releases encoder and decoder resources.
func (c *Codec) Close() {
	_ = c.enc.Close()
	c.dec.Close()
}
