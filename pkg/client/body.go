package client

import (
	"bytes"
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
)

// Body is a buffered response body. It can be read any number of times and
// every read sees the same bytes.
type Body struct {
	data   []byte
	length *int64
}

func NewBody(data []byte, length *int64) Body {
	return Body{data: data, length: length}
}

// Len returns the length declared by the origin, if it declared one.
func (b Body) Len() (int64, bool) {
	if b.length == nil {
		return 0, false
	}
	return *b.length, true
}

func (b Body) Repeatable() bool {
	return true
}

// Reader returns a new cursor positioned at the start of the body.
func (b Body) Reader() io.ReadCloser {
	return io.NopCloser(bytes.NewReader(b.data))
}

// Bytes returns a copy of the body.
func (b Body) Bytes() []byte {
	return bytes.Clone(b.data)
}

// Text decodes the body using charset. An empty charset means UTF-8.
func (b Body) Text(charset string) (string, error) {
	enc, err := lookupCharset(charset)
	if err != nil {
		return "", err
	}
	decoded, err := enc.NewDecoder().Bytes(b.data)
	if err != nil {
		return "", fmt.Errorf("decode body as %s: %w", charset, err)
	}
	return string(decoded), nil
}

func lookupCharset(name string) (encoding.Encoding, error) {
	if name == "" {
		return unicode.UTF8, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", name)
	}
	return enc, nil
}
