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

package server

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// proxyBase reconstructs the public base URL the client used to reach
// us, honoring reverse proxy forwarding headers.
func proxyBase(ctx *gin.Context) string {
	scheme := ctx.GetHeader("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if ctx.Request.TLS != nil {
			scheme = "https"
		}
	}
	host := ctx.GetHeader("X-Forwarded-Host")
	if host == "" {
		host = ctx.Request.Host
	}
	return scheme + "://" + host
}

// queryHeaders collects h_ prefixed query parameters into a header
// map. When dashed is set underscores in the name become dashes, the
// form license and key URLs carry.
func queryHeaders(ctx *gin.Context, dashed bool) map[string]string {
	headers := map[string]string{}
	for name, values := range ctx.Request.URL.Query() {
		if !strings.HasPrefix(name, "h_") || len(values) == 0 {
			continue
		}
		key := name[2:]
		if dashed {
			key = strings.ReplaceAll(key, "_", "-")
		}
		headers[key] = values[0]
	}
	return headers
}

// clientHeaders flattens the incoming request headers with lowercase
// names, the shape the extractors expect.
func clientHeaders(ctx *gin.Context) map[string]string {
	headers := map[string]string{}
	for name, values := range ctx.Request.Header {
		if len(values) > 0 {
			headers[strings.ToLower(name)] = values[0]
		}
	}
	return headers
}

// maybeUnquote applies one more round of URL decoding. Some callers
// double-encode the target URL to survive intermediate proxies.
func maybeUnquote(s string) string {
	if decoded, err := url.QueryUnescape(s); err == nil {
		return decoded
	}
	return s
}

// decodeTargetURL additionally accepts base64 encoded URLs.
func decodeTargetURL(raw string) string {
	decoded := maybeUnquote(raw)
	padded := decoded + strings.Repeat("=", (4-len(decoded)%4)%4)
	if b, err := base64.StdEncoding.DecodeString(padded); err == nil {
		if s := strings.TrimSpace(string(b)); strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
			return s
		}
	}
	return decoded
}

// headerGet does a case-insensitive lookup in a plain header map.
func headerGet(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
