package transform

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

var (
	// ErrUnsupportedEncoding is returned for content codings the router cannot undo.
	ErrUnsupportedEncoding = errors.New("unsupported content encoding")
	// ErrBodyTooLarge is returned when a decoded body exceeds the size limit.
	ErrBodyTooLarge = errors.New("decoded body exceeds upstream.max_body_bytes")
)

// AcceptEncoding lists the codings Decode understands, for outbound requests.
const AcceptEncoding = "gzip, deflate, br, zstd"

// Decode undoes the content codings named in a Content-Encoding header value.
// Codings are listed in the order they were applied, so they are removed
// right to left. Each decoded layer is bounded by limit bytes; zero or less
// means unbounded.
func Decode(contentEncoding string, body []byte, limit int64) ([]byte, error) {
	codings := strings.Split(contentEncoding, ",")
	for i := len(codings) - 1; i >= 0; i-- {
		coding := strings.ToLower(strings.TrimSpace(codings[i]))
		var err error
		body, err = decodeOne(coding, body, limit)
		if err != nil {
			return nil, err
		}
	}
	return body, nil
}

func decodeOne(coding string, body []byte, limit int64) ([]byte, error) {
	switch coding {
	case "", "identity":
		return body, nil
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		defer func() { _ = zr.Close() }()
		return readAll(coding, zr, limit)
	case "deflate":
		// "deflate" is meant to be zlib-wrapped, but some servers send raw
		// DEFLATE streams.
		if zr, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
			defer func() { _ = zr.Close() }()
			return readAll(coding, zr, limit)
		}
		fr := flate.NewReader(bytes.NewReader(body))
		defer func() { _ = fr.Close() }()
		return readAll(coding, fr, limit)
	case "br":
		return readAll(coding, brotli.NewReader(bytes.NewReader(body)), limit)
	case "zstd":
		var opts []zstd.DOption
		if limit > 0 {
			opts = append(opts, zstd.WithDecoderMaxMemory(uint64(limit)))
		}
		zr, err := zstd.NewReader(nil, opts...)
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		defer zr.Close()
		out, err := zr.DecodeAll(body, nil)
		if errors.Is(err, zstd.ErrDecoderSizeExceeded) || errors.Is(err, zstd.ErrWindowSizeExceeded) {
			return nil, fmt.Errorf("zstd: %w", ErrBodyTooLarge)
		}
		if err != nil {
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, coding)
	}
}

func readAll(coding string, r io.Reader, limit int64) ([]byte, error) {
	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", coding, err)
	}
	if limit > 0 && int64(len(out)) > limit {
		return nil, fmt.Errorf("%s: %w", coding, ErrBodyTooLarge)
	}
	return out, nil
}
