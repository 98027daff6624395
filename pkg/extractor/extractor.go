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

// Package extractor resolves page or channel URLs from streaming sites
// into playable stream URLs plus the request headers the upstream CDN
// expects. Each supported site has its own extractor; a registry picks
// the right one from the URL.
package extractor

import (
	"context"
	"fmt"
	"strings"
)

// Endpoint types describe which proxy endpoint should serve the
// resolved URL.
const (
	// EndpointHLS serves plain HLS playlists and their segments.
	EndpointHLS = "hls_proxy"
	// EndpointHLSManifest serves manifests that need rewriting on the fly.
	EndpointHLSManifest = "hls_manifest_proxy"
	// EndpointStream relays progressive files (mp4, mkv) byte for byte.
	EndpointStream = "proxy_stream_endpoint"
)

// Result is the outcome of a successful extraction.
type Result struct {
	DestinationURL string            `json:"destination_url"`
	RequestHeaders map[string]string `json:"request_headers"`
	EndpointType   string            `json:"endpoint_type"`
}

// Extractor resolves a site URL into a Result. Implementations keep
// their own upstream session and may cache resolutions; forceRefresh
// bypasses any cache.
type Extractor interface {
	Extract(ctx context.Context, rawURL string, forceRefresh bool) (*Result, error)
	Close()
}

// Error marks a failure inside an extractor, as opposed to a transport
// or caller error. The proxy retries an extraction once with a forced
// refresh when it sees one.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

// Errorf builds an extraction Error.
func Errorf(format string, args ...interface{}) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// IsTemporary reports whether err looks like a transient upstream
// condition rather than a bug, so callers can answer 503 and log at
// warning level only.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"403", "forbidden", "502", "bad gateway", "timeout",
		"connection", "temporarily unavailable",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
