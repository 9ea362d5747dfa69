// Package jsonimport reads batch documents produced by the accounting
// source system, from request bodies, queue messages or files on disk.
package jsonimport

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/erp/costalloc/internal/domain/shared"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// DefaultMaxSize bounds a single batch payload
const DefaultMaxSize int64 = 64 << 20

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decoding failures. They reach callers wrapped in a DATA_FORMAT_ERROR.
var (
	ErrEmptyFile       = errors.New("batch payload is empty")
	ErrInvalidEncoding = errors.New("batch payload is not valid UTF-8")
	ErrFileTooLarge    = errors.New("batch payload exceeds maximum allowed size")
	ErrTrailingData    = errors.New("unexpected data after the batch document")
)

// Decoder turns a raw payload into a generic JSON document
type Decoder struct {
	maxSize  int64
	fallback encoding.Encoding
}

// DecoderOption is a functional option for Decoder configuration
type DecoderOption func(*Decoder)

// WithMaxSize sets the largest accepted payload in bytes
func WithMaxSize(n int64) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.maxSize = n
		}
	}
}

// WithFallbackEncoding sets the charset assumed for payloads that are not
// UTF-8. Passing nil rejects such payloads.
func WithFallbackEncoding(enc encoding.Encoding) DecoderOption {
	return func(d *Decoder) {
		d.fallback = enc
	}
}

// NewDecoder creates a decoder. Legacy exports in Windows-1251 are
// transcoded unless another fallback is configured.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		maxSize:  DefaultMaxSize,
		fallback: charmap.Windows1251,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode reads the whole payload and returns the decoded document.
// Numbers are kept as json.Number so amounts keep their exact digits.
func (d *Decoder) Decode(r io.Reader) (any, error) {
	content, err := io.ReadAll(io.LimitReader(r, d.maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read batch payload: %w", err)
	}
	if int64(len(content)) > d.maxSize {
		return nil, formatError(ErrFileTooLarge)
	}

	content = bytes.TrimPrefix(content, utf8BOM)
	if len(bytes.TrimSpace(content)) == 0 {
		return nil, formatError(ErrEmptyFile)
	}

	if !utf8.Valid(content) {
		if d.fallback == nil {
			return nil, formatError(ErrInvalidEncoding)
		}
		content, err = d.fallback.NewDecoder().Bytes(content)
		if err != nil {
			return nil, formatError(fmt.Errorf("%w: %v", ErrInvalidEncoding, err))
		}
	}

	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, formatError(err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, formatError(ErrTrailingData)
	}
	return doc, nil
}

// DecodeBytes is Decode over an in-memory payload
func (d *Decoder) DecodeBytes(payload []byte) (any, error) {
	return d.Decode(bytes.NewReader(payload))
}

func formatError(cause error) error {
	return shared.NewDataFormatError("cannot decode batch").WithCause(cause)
}
