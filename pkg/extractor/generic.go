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

package extractor

import (
	"context"
	"net/url"
	"strings"

	"github.com/lucasduport/easyproxy/pkg/utils"
)

// forwardedClientHeaders are the client headers passed through to the
// upstream when no site-specific extractor applies.
var forwardedClientHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"x-auth-token":  true,
	"referer":       true,
	"cookie":        true,
}

// droppedClientHeaders would reveal the viewer's address to the
// upstream and are never forwarded.
var droppedClientHeaders = map[string]bool{
	"x-forwarded-for": true,
	"x-real-ip":       true,
	"forwarded":       true,
	"via":             true,
}

// Generic handles any URL no dedicated extractor claims. The URL is
// already a stream; only the headers need shaping.
type Generic struct {
	clientHeaders map[string]string
}

// NewGeneric builds a generic extractor over the caller's headers.
func NewGeneric(clientHeaders map[string]string) *Generic {
	return &Generic{clientHeaders: clientHeaders}
}

func (g *Generic) Extract(_ context.Context, rawURL string, _ bool) (*Result, error) {
	headers := map[string]string{
		"User-Agent": utils.GetStreamUserAgent(),
	}
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		origin := u.Scheme + "://" + u.Host
		headers["Referer"] = origin
		headers["Origin"] = origin
	}
	for name, value := range g.clientHeaders {
		lower := strings.ToLower(name)
		if droppedClientHeaders[lower] {
			continue
		}
		if forwardedClientHeaders[lower] {
			headers[name] = value
		}
	}
	return &Result{
		DestinationURL: rawURL,
		RequestHeaders: headers,
		EndpointType:   EndpointHLS,
	}, nil
}

func (g *Generic) Close() {}
