package dompage

import (
	"compress/gzip"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
)

var brotliPool = sync.Pool{
	New: func() interface{} { return brotli.NewReader(nil) },
}

// decodingTransport advertises br and gzip and decodes whichever the server
// picked. Setting Accept-Encoding ourselves turns off net/http's own gzip
// handling, so both encodings are decoded here.
type decodingTransport struct {
	base http.RoundTripper
}

func newTransport(ignoreTLS bool) http.RoundTripper {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSHandshakeTimeout = 10 * time.Second
	if ignoreTLS {
		base.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &decodingTransport{base: base}
}

func (t *decodingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", "br, gzip")
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if err := decodeBody(resp); err != nil {
		_ = resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

type decodedBody struct {
	io.Reader
	closers []func() error
}

func (b *decodedBody) Close() error {
	var errs []error
	for _, c := range b.closers {
		errs = append(errs, c())
	}
	b.closers = nil
	return errors.Join(errs...)
}

// decodeBody unwraps Content-Encoding layers in reverse order of application.
func decodeBody(resp *http.Response) error {
	encodings := resp.Header.Values("Content-Encoding")
	if len(encodings) == 0 || resp.Body == nil {
		return nil
	}
	body := &decodedBody{Reader: resp.Body, closers: []func() error{resp.Body.Close}}
	for i := len(encodings) - 1; i >= 0; i-- {
		switch enc := strings.ToLower(strings.TrimSpace(encodings[i])); enc {
		case "", "identity":
		case "gzip":
			zr, err := gzip.NewReader(body.Reader)
			if err != nil {
				return fmt.Errorf("gzip body: %w", err)
			}
			body.Reader = zr
			body.closers = append([]func() error{zr.Close}, body.closers...)
		case "br":
			br := brotliPool.Get().(*brotli.Reader)
			if err := br.Reset(body.Reader); err != nil {
				brotliPool.Put(br)
				return fmt.Errorf("brotli body: %w", err)
			}
			body.Reader = br
			body.closers = append([]func() error{func() error {
				brotliPool.Put(br)
				return nil
			}}, body.closers...)
		default:
			return fmt.Errorf("unsupported Content-Encoding %q", enc)
		}
	}
	resp.Body = body
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	resp.Uncompressed = true
	return nil
}
