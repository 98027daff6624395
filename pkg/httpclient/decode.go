/*
 * EasyProxy is a reverse proxy for HLS and MPEG-DASH streams with
 * URL extraction and ClearKey support.
 * Copyright (C) 2025  Lucas Duport
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package httpclient

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// acceptEncoding lists the codings DecodeReader can undo. Brotli is
// offered too since some CDNs send it regardless.
const acceptEncoding = "gzip, deflate, zstd, br"

// DecodeReader wraps r so reads yield decompressed bytes, according to
// a Content-Encoding value. Identity and unknown codings pass through.
func DecodeReader(r io.Reader, encoding string) (io.ReadCloser, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("httpclient: gzip: %w", err)
		}
		return zr, nil
	case "deflate":
		return flate.NewReader(r), nil
	case "zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("httpclient: zstd: %w", err)
		}
		return zr.IOReadCloser(), nil
	case "br":
		return io.NopCloser(brotli.NewReader(r)), nil
	case "", "identity":
		return io.NopCloser(r), nil
	default:
		return io.NopCloser(r), nil
	}
}

// ReadBody drains and decodes a response body. The caller still owns
// resp.Body and must close it.
func ReadBody(resp *http.Response) ([]byte, error) {
	dec, err := DecodeReader(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	body, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("httpclient: read body: %w", err)
	}
	return body, nil
}
