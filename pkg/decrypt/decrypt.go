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

// Package decrypt removes CENC encryption from fMP4 segments using a
// ClearKey, so players without DRM support can consume the stream.
package decrypt

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/Eyevinn/mp4ff/mp4"
)

// ParseKey accepts a 32-char hex key or a base64url key and returns
// the raw 16 bytes.
func ParseKey(s string) ([]byte, error) {
	if len(s) == 32 {
		if raw, err := hex.DecodeString(s); err == nil {
			return raw, nil
		}
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("key is neither hex nor base64url: %w", err)
	}
	if len(raw) != 16 {
		return nil, fmt.Errorf("key must be 16 bytes, got %d", len(raw))
	}
	return raw, nil
}

// Segment decrypts one media segment. initData holds the stream's
// initialization segment, segData the encrypted media segment. The
// returned bytes fuse the cleaned init segment with the decrypted
// media segment so the output plays standalone.
func Segment(initData, segData []byte, key []byte) ([]byte, error) {
	initFile, err := mp4.DecodeFile(bytes.NewReader(initData))
	if err != nil {
		return nil, fmt.Errorf("decode init segment: %w", err)
	}
	if initFile.Init == nil {
		return nil, fmt.Errorf("no moov box in init segment")
	}

	segFile, err := mp4.DecodeFile(bytes.NewReader(segData))
	if err != nil {
		return nil, fmt.Errorf("decode media segment: %w", err)
	}
	if len(segFile.Segments) == 0 {
		return nil, fmt.Errorf("no media segments found")
	}

	decInfo, err := mp4.DecryptInit(initFile.Init)
	if err != nil {
		return nil, fmt.Errorf("read encryption info: %w", err)
	}

	var out bytes.Buffer
	if err := initFile.Init.Encode(&out); err != nil {
		return nil, fmt.Errorf("encode init segment: %w", err)
	}
	for _, seg := range segFile.Segments {
		if err := mp4.DecryptSegment(seg, decInfo, key); err != nil {
			return nil, fmt.Errorf("decrypt segment: %w", err)
		}
		if err := seg.Encode(&out); err != nil {
			return nil, fmt.Errorf("encode segment: %w", err)
		}
	}
	return out.Bytes(), nil
}
