package httpds

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// FetchFirstBytes returns up to n bytes from the start of the extract at url.
//
// Plain extracts are requested with "Range: bytes=0-(n-1)" and capped
// client-side for servers that ignore it. Gzip extracts are fetched without
// a range and n caps the decompressed bytes. A 416 answer is an empty
// extract.
func (c *Client) FetchFirstBytes(ctx context.Context, url string, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("httpds: n must be > 0")
	}

	h := make(http.Header)
	gz := isGzip(url, nil)
	if !gz {
		h.Set("Range", fmt.Sprintf("bytes=0-%d", n-1))
	}

	resp, err := c.get(ctx, url, h)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable:
		return nil, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("httpds: GET %s: unexpected status %d", url, resp.StatusCode)
	}

	var r io.Reader = resp.Body
	if gz || isGzip(url, resp.Header) {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("httpds: gunzip %s: %w", url, err)
		}
		defer zr.Close()
		r = zr
	}

	b, err := io.ReadAll(io.LimitReader(r, int64(n)))
	// A ranged gzip body ends mid-stream; what decompressed so far is the
	// sample.
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, err
	}
	return b, nil
}
