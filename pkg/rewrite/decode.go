package rewrite

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// ErrUnsupportedEncoding is returned for content codings that cannot be
// decoded before rewriting.
var ErrUnsupportedEncoding = errors.New("unsupported content encoding")

// Decode wraps body in a decoder for the given Content-Encoding. The returned
// closer releases decoder state and does not close body.
func Decode(body io.Reader, encoding string) (io.Reader, func(), error) {
	noop := func() {}
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
		return body, noop, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(body)
		if err != nil {
			return nil, noop, fmt.Errorf("gzip: %w", err)
		}
		return zr, func() { _ = zr.Close() }, nil
	case "br":
		return brotli.NewReader(body), noop, nil
	case "deflate":
		zr, err := zlib.NewReader(body)
		if err != nil {
			return nil, noop, fmt.Errorf("deflate: %w", err)
		}
		return zr, func() { _ = zr.Close() }, nil
	case "zstd":
		zr, err := zstd.NewReader(body)
		if err != nil {
			return nil, noop, fmt.Errorf("zstd: %w", err)
		}
		return zr, zr.Close, nil
	default:
		return nil, noop, fmt.Errorf("%w: %s", ErrUnsupportedEncoding, encoding)
	}
}
