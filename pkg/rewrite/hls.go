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

// Package rewrite turns upstream HLS and MPEG-DASH manifests into
// manifests whose every URL routes back through the proxy, carrying
// the upstream headers as query parameters.
package rewrite

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// HLSOptions parameterizes a playlist rewrite.
type HLSOptions struct {
	// ProxyBase is the externally visible scheme://host of this server.
	ProxyBase string
	// ManifestURL is the URL the playlist was fetched from; relative
	// entries resolve against it.
	ManifestURL string
	// Headers are the upstream request headers to encode into every
	// rewritten URL.
	Headers map[string]string
	// ChannelURL is the channel page the stream came from, forwarded
	// to the key endpoint so it can re-extract on failure.
	ChannelURL string
	// APIPassword, when set, is appended to every rewritten URL.
	APIPassword string
	// TopQualityOnly collapses a master playlist to its highest
	// bandwidth variant instead of rewriting it.
	TopQualityOnly bool
}

var bandwidthRe = regexp.MustCompile(`BANDWIDTH=(\d+)`)

// nestedPlaylistMarkers mark segment-position URLs that are really
// sub-playlists and must go back through the manifest endpoint.
var nestedPlaylistMarkers = []string{".m3u8", ".php", ".mpd", ".isml/manifest", "playlist"}

// EncodeHeaderParams renders headers as h_-prefixed query parameters.
// Keys are sorted so rewritten manifests are stable.
func EncodeHeaderParams(headers map[string]string) string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString("&h_")
		b.WriteString(url.QueryEscape(k))
		b.WriteString("=")
		b.WriteString(url.QueryEscape(headers[k]))
	}
	return b.String()
}

// HLS rewrites an HLS playlist so keys, init maps, media renditions,
// nested playlists and segments all point at the proxy.
func HLS(manifest string, opts HLSOptions) string {
	lines := strings.Split(manifest, "\n")

	if opts.TopQualityOnly {
		if filtered, ok := filterTopQuality(lines); ok {
			return filtered
		}
	}

	params := EncodeHeaderParams(opts.Headers)
	if opts.APIPassword != "" {
		params += "&api_password=" + url.QueryEscape(opts.APIPassword)
	}

	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "#EXT-X-KEY:") && strings.Contains(line, "URI="):
			out = append(out, rewriteURIAttr(line, func(uri string) string {
				abs := resolveAgainst(opts.ManifestURL, uri)
				return opts.ProxyBase + "/key?key_url=" + url.QueryEscape(abs) +
					"&original_channel_url=" + url.QueryEscape(opts.ChannelURL) + params
			}))

		case strings.HasPrefix(line, "#EXT-X-MAP:") && strings.Contains(line, "URI="):
			out = append(out, rewriteURIAttr(line, func(uri string) string {
				abs := resolveAgainst(opts.ManifestURL, uri)
				return opts.ProxyBase + "/proxy/hls/segment.mp4?d=" + url.QueryEscape(abs) + params
			}))

		case (strings.HasPrefix(line, "#EXT-X-MEDIA:") || strings.HasPrefix(line, "#EXT-X-I-FRAME-STREAM-INF:")) &&
			strings.Contains(line, "URI="):
			out = append(out, rewriteURIAttr(line, func(uri string) string {
				abs := resolveAgainst(opts.ManifestURL, uri)
				return opts.ProxyBase + "/proxy/hls/manifest.m3u8?d=" + url.QueryEscape(abs) + params
			}))

		case line != "" && !strings.HasPrefix(line, "#"):
			abs := line
			if !strings.HasPrefix(line, "http") {
				abs = resolveAgainst(opts.ManifestURL, line)
			}
			out = append(out, proxySegmentURL(abs, opts.ProxyBase, params))

		default:
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// proxySegmentURL routes a segment-position URL through the matching
// proxy endpoint, keeping an extension players care about.
func proxySegmentURL(abs, proxyBase, params string) string {
	encoded := url.QueryEscape(abs)
	path := ""
	if u, err := url.Parse(abs); err == nil {
		path = strings.ToLower(u.Path)
	}

	for _, marker := range nestedPlaylistMarkers {
		if strings.Contains(path, marker) {
			return proxyBase + "/proxy/hls/manifest.m3u8?d=" + encoded + params
		}
	}

	ext := ".ts"
	switch {
	case strings.HasSuffix(path, ".mp4"), strings.HasSuffix(path, ".m4s"), strings.HasSuffix(path, ".isml"):
		ext = ".mp4"
	case strings.HasSuffix(path, ".aac"):
		ext = ".aac"
	case strings.HasSuffix(path, ".m4a"):
		ext = ".m4a"
	}
	return proxyBase + "/proxy/hls/segment" + ext + "?d=" + encoded + params
}

// filterTopQuality reduces a master playlist to its highest bandwidth
// variant, keeping rendition groups. Returns false when the playlist
// has no variants to pick from.
func filterTopQuality(lines []string) (string, bool) {
	type variant struct {
		bandwidth int
		inf, url  string
	}
	var variants []variant
	for i, line := range lines {
		if !strings.HasPrefix(line, "#EXT-X-STREAM-INF:") || i+1 >= len(lines) {
			continue
		}
		if m := bandwidthRe.FindStringSubmatch(line); m != nil {
			bw, _ := strconv.Atoi(m[1])
			variants = append(variants, variant{bandwidth: bw, inf: line, url: lines[i+1]})
		}
	}
	if len(variants) == 0 {
		return "", false
	}

	best := variants[0]
	for _, v := range variants[1:] {
		if v.bandwidth > best.bandwidth {
			best = v
		}
	}

	out := []string{"#EXTM3U"}
	for _, line := range lines {
		if strings.HasPrefix(line, "#EXT-X-MEDIA:") {
			out = append(out, line)
		}
	}
	out = append(out, best.inf, best.url)
	return strings.Join(out, "\n"), true
}

// rewriteURIAttr replaces the value of the URI="..." attribute in a
// tag line.
func rewriteURIAttr(line string, replace func(uri string) string) string {
	start := strings.Index(line, `URI="`)
	if start < 0 {
		return line
	}
	start += len(`URI="`)
	end := strings.Index(line[start:], `"`)
	if end < 0 {
		return line
	}
	end += start
	return line[:start] + replace(line[start:end]) + line[end:]
}

// resolveAgainst joins ref against base the way a player would.
func resolveAgainst(base, ref string) string {
	bu, err := url.Parse(base)
	if err != nil {
		return ref
	}
	ru, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return bu.ResolveReference(ru).String()
}
