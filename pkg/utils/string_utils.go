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

package utils

import "strings"

// MaskString masks sensitive parts of strings for logging.
func MaskString(s string) string {
	if len(s) <= 8 {
		if len(s) <= 0 {
			return "[empty]"
		}
		return s[:1] + "******"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// MaskURL masks credential query parameters in URLs for logging.
func MaskURL(urlStr string) string {
	for _, param := range []string{"api_password", "key", "token"} {
		for _, sep := range []string{"?", "&"} {
			marker := sep + param + "="
			idx := strings.Index(urlStr, marker)
			if idx < 0 {
				continue
			}
			start := idx + len(marker)
			end := strings.IndexByte(urlStr[start:], '&')
			if end < 0 {
				end = len(urlStr) - start
			}
			urlStr = urlStr[:start] + MaskString(urlStr[start:start+end]) + urlStr[start+end:]
		}
	}
	return urlStr
}
