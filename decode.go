package restwrap

import (
	"bytes"
	"io"

	"github.com/andybalholm/brotli"
	http "github.com/bogdanfinn/fhttp"
)

// brotliEncoding is the only Content-Encoding decoded here; gzip and deflate
// are left to the transport.
const brotliEncoding = "br"

// DecodeResponse returns body decompressed when header declares brotli
// encoding. A body that fails to decode is returned unchanged.
func DecodeResponse(header http.Header, body []byte) []byte {
	if header.Get("Content-Encoding") != brotliEncoding {
		return body
	}
	decoded, err := io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	if err != nil {
		return body
	}
	return decoded
}
