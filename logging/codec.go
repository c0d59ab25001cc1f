package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/gzip"
)

type Encoding string

const (
	EncodingJSON Encoding = "json"
	EncodingCBOR Encoding = "cbor"
)

type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

func ParseEncoding(s string) Encoding {
	if strings.EqualFold(strings.TrimSpace(s), string(EncodingCBOR)) {
		return EncodingCBOR
	}
	return EncodingJSON
}

func ParseCompression(s string) Compression {
	if strings.EqualFold(strings.TrimSpace(s), string(CompressionGzip)) {
		return CompressionGzip
	}
	return CompressionNone
}

func (e Encoding) ContentType() string {
	if e == EncodingCBOR {
		return ContentTypeCBOR
	}
	return ContentTypeJSON
}

// EncodingForContentType maps a request content type back to an
// encoding; anything that is not CBOR is treated as JSON.
func EncodingForContentType(contentType string) Encoding {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), ContentTypeCBOR) {
		return EncodingCBOR
	}
	return EncodingJSON
}

func EncodeBatch(batch Batch, enc Encoding) ([]byte, error) {
	if batch.Entries == nil {
		batch.Entries = []Entry{}
	}

	var (
		data []byte
		err  error
	)
	switch enc {
	case EncodingCBOR:
		data, err = cbor.Marshal(batch)
	default:
		data, err = json.Marshal(batch)
	}
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	return data, nil
}

func DecodeBatch(data []byte, enc Encoding) (Batch, error) {
	var batch Batch
	var err error
	switch enc {
	case EncodingCBOR:
		err = cbor.Unmarshal(data, &batch)
	default:
		err = json.Unmarshal(data, &batch)
	}
	if err != nil {
		return Batch{}, fmt.Errorf("decode batch: %w", err)
	}
	return batch, nil
}

func Compress(data []byte, c Compression) ([]byte, error) {
	if c != CompressionGzip {
		return data, nil
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("gzip batch: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip batch: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reads at most limit bytes of decompressed data from r.
// limit <= 0 means no limit.
func Decompress(r io.Reader, c Compression, limit int64) ([]byte, error) {
	if c == CompressionGzip {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("open gzip: %w", err)
		}
		defer zr.Close()
		r = zr
	}
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}
