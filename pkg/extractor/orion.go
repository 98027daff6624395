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
)

// Orion shapes headers for Orionoid streams. Unlike the generic
// extractor it forwards the client's Cookie and Range headers, which
// Orionoid requires to serve the file.
type Orion struct {
	clientHeaders map[string]string
}

// NewOrion builds an orion extractor over the caller's headers.
func NewOrion(clientHeaders map[string]string) *Orion {
	return &Orion{clientHeaders: clientHeaders}
}

func (o *Orion) Extract(_ context.Context, rawURL string, _ bool) (*Result, error) {
	headers := map[string]string{
		"user-agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"accept":          "*/*",
		"accept-language": "en-US,en;q=0.9",
		"sec-fetch-dest":  "empty",
		"sec-fetch-mode":  "cors",
		"sec-fetch-site":  "cross-site",
	}
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		origin := u.Scheme + "://" + u.Host
		headers["referer"] = origin
		headers["origin"] = origin
	}
	for name, value := range o.clientHeaders {
		switch strings.ToLower(name) {
		case "cookie", "authorization", "user-agent", "referer", "accept", "accept-language", "range":
			headers[name] = value
		}
	}
	return &Result{
		DestinationURL: rawURL,
		RequestHeaders: headers,
		EndpointType:   EndpointHLS,
	}, nil
}

func (o *Orion) Close() {}
