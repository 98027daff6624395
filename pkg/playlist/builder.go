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

// Package playlist combines remote M3U playlists into a single list
// whose channel URLs route through the proxy.
package playlist

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lucasduport/easyproxy/pkg/httpclient"
	"github.com/lucasduport/easyproxy/pkg/utils"
)

const downloadUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// Definition is one source playlist plus its per-source options.
// Sort buffers consecutive sorted sources and emits their channels in
// alphabetical order. NoProxy passes channel URLs through untouched.
type Definition struct {
	URL     string
	Sort    bool
	NoProxy bool
}

// ParseDefinitions splits a raw definition string on ';' and parses
// each entry. Options follow the URL as |name=value pairs. The legacy
// "opaque&url" form is still accepted.
func ParseDefinitions(raw string) []Definition {
	var defs []Definition
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		var def Definition
		if strings.Contains(entry, "|") {
			parts := strings.Split(entry, "|")
			def.URL = parts[0]
			for _, part := range parts[1:] {
				k, v, ok := strings.Cut(part, "=")
				if !ok {
					continue
				}
				enabled := strings.EqualFold(v, "true")
				switch strings.ToLower(k) {
				case "sort":
					def.Sort = enabled
				case "noproxy":
					def.NoProxy = enabled
				}
			}
		} else if strings.Contains(entry, "&") {
			_, u, _ := strings.Cut(entry, "&")
			if u == "" {
				u = entry
			}
			def.URL = u
		} else {
			def.URL = entry
		}
		defs = append(defs, def)
	}
	return defs
}

// Builder downloads source playlists and streams the combined output.
type Builder struct {
	client *httpclient.Client
}

func NewBuilder() (*Builder, error) {
	client, err := httpclient.New(httpclient.Options{
		Timeout:   30 * time.Second,
		UserAgent: downloadUserAgent,
	})
	if err != nil {
		return nil, err
	}
	return &Builder{client: client}, nil
}

func (b *Builder) Close() {
	b.client.Close()
}

func (b *Builder) download(ctx context.Context, rawURL string) ([]string, error) {
	body, err := b.client.GetText(ctx, rawURL, map[string]string{
		"Accept":          "*/*",
		"Accept-Language": "en-US,en;q=0.9",
		"Connection":      "keep-alive",
	})
	if err != nil {
		return nil, err
	}
	return strings.Split(body, "\n"), nil
}

type sourceResult struct {
	lines []string
	err   error
}

// Combine fetches every definition in parallel and writes the merged
// playlist to w as sources complete, in definition order.
func (b *Builder) Combine(ctx context.Context, defs []Definition, baseURL, apiPassword string, w io.Writer) error {
	results := make([]sourceResult, len(defs))
	group, gctx := errgroup.WithContext(ctx)
	for i, def := range defs {
		i, def := i, def
		group.Go(func() error {
			lines, err := b.download(gctx, def.URL)
			results[i] = sourceResult{lines: lines, err: err}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}

	headerWritten := false
	writeLine := func(line string) error {
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		_, err := io.WriteString(w, line)
		return err
	}

	type bufferedItem struct {
		lines   []string
		noProxy bool
	}
	var sortBuffer []bufferedItem

	flushSorted := func() error {
		sort.SliceStable(sortBuffer, func(i, j int) bool {
			return strings.ToLower(itemName(sortBuffer[i].lines)) < strings.ToLower(itemName(sortBuffer[j].lines))
		})
		for _, item := range sortBuffer {
			lines := item.lines
			if !item.noProxy {
				lines = rewriteLines(lines, baseURL, apiPassword)
			}
			for _, line := range lines {
				if err := writeLine(line); err != nil {
					return err
				}
			}
		}
		sortBuffer = nil
		return nil
	}

	for i, def := range defs {
		res := results[i]
		if res.err != nil {
			utils.ErrorLog("Failed to download playlist %s: %v", utils.MaskURL(def.URL), res.err)
			if err := writeLine(fmt.Sprintf("# ERROR processing playlist %s: %v", def.URL, res.err)); err != nil {
				return err
			}
			continue
		}

		if !headerWritten {
			found := false
			for _, line := range res.lines {
				if strings.HasPrefix(strings.TrimSpace(line), "#EXTM3U") {
					if err := writeLine(line); err != nil {
						return err
					}
					found = true
					break
				}
			}
			if !found {
				if err := writeLine("#EXTM3U"); err != nil {
					return err
				}
			}
			headerWritten = true
		}

		if def.Sort {
			for _, item := range parseItems(res.lines) {
				sortBuffer = append(sortBuffer, bufferedItem{lines: item, noProxy: def.NoProxy})
			}
			continue
		}

		if len(sortBuffer) > 0 {
			if err := flushSorted(); err != nil {
				return err
			}
		}

		lines := res.lines
		if !def.NoProxy {
			lines = rewriteLines(lines, baseURL, apiPassword)
		}
		for _, line := range lines {
			trimmed := strings.TrimSpace(line)
			if strings.HasPrefix(trimmed, "#EXTM3U") || strings.HasPrefix(trimmed, "#EXT-X-VERSION") {
				continue
			}
			if err := writeLine(line); err != nil {
				return err
			}
		}
	}

	if len(sortBuffer) > 0 {
		return flushSorted()
	}
	return nil
}

// parseItems groups lines into channel entries. An entry ends at its
// URL line. Global M3U headers are dropped.
func parseItems(lines []string) [][]string {
	var items [][]string
	var current []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#EXTM3U") || strings.HasPrefix(trimmed, "#EXT-X-VERSION") {
			continue
		}
		current = append(current, line)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			items = append(items, current)
			current = nil
		}
	}
	if len(current) > 0 {
		items = append(items, current)
	}
	return items
}

// itemName pulls the channel display name from the EXTINF line, the
// text after the last comma.
func itemName(item []string) string {
	for _, line := range item {
		if strings.HasPrefix(line, "#EXTINF:") {
			if idx := strings.LastIndex(line, ","); idx >= 0 {
				return strings.TrimSpace(line[idx+1:])
			}
		}
	}
	return ""
}

// rewriteLines routes every channel URL through the proxy. KODIPROP
// license keys become clearkey parameters and are stripped from the
// output. EXTVLCOPT and EXTHTTP headers turn into h_ parameters but
// stay in the output for players that read them directly.
func rewriteLines(lines []string, baseURL, apiPassword string) []string {
	var out []string
	headers := map[string]string{}
	clearkey := ""

	for _, line := range lines {
		logical := strings.TrimSpace(line)

		if strings.HasPrefix(logical, "#KODIPROP:") {
			if strings.Contains(logical, "inputstream.adaptive.license_key") {
				if _, value, ok := strings.Cut(logical, "="); ok {
					if value != "" && value != "0000" && strings.Contains(value, ":") {
						clearkey = value
					}
				}
			}
			continue
		}

		isHeaderTag := false
		if strings.HasPrefix(logical, "#EXTVLCOPT:") {
			isHeaderTag = true
			option := strings.TrimPrefix(logical, "#EXTVLCOPT:")
			if key, value, ok := strings.Cut(option, "="); ok {
				key = strings.TrimSpace(key)
				value = strings.TrimSpace(value)
				if key == "http-header" {
					if hk, hv, ok := strings.Cut(value, ":"); ok {
						headers[strings.TrimSpace(hk)] = strings.TrimSpace(hv)
					}
				} else if strings.HasPrefix(key, "http-") {
					headers[canonicalHeaderName(strings.TrimPrefix(key, "http-"))] = value
				}
			}
		} else if strings.HasPrefix(logical, "#EXTHTTP:") {
			isHeaderTag = true
			var parsed map[string]string
			payload := strings.TrimPrefix(logical, "#EXTHTTP:")
			if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
				utils.WarnLog("Unparseable #EXTHTTP tag: %v", err)
				headers = map[string]string{}
			} else {
				headers = parsed
			}
		}

		if isHeaderTag {
			out = append(out, line)
			continue
		}

		if logical != "" && !strings.HasPrefix(logical, "#") &&
			(strings.Contains(logical, "http://") || strings.Contains(logical, "https://")) {

			if strings.Contains(logical, "pluto.tv") {
				out = append(out, line)
				continue
			}

			rewritten := baseURL + "/proxy/manifest.m3u8?url=" + url.QueryEscape(logical)
			if clearkey != "" {
				rewritten += "&clearkey=" + clearkey
				clearkey = ""
			}
			if len(headers) > 0 {
				keys := make([]string, 0, len(headers))
				for k := range headers {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				for _, k := range keys {
					rewritten += "&h_" + url.QueryEscape(k) + "=" + url.QueryEscape(headers[k])
				}
				headers = map[string]string{}
			}
			if apiPassword != "" {
				rewritten += "&api_password=" + url.QueryEscape(apiPassword)
			}
			out = append(out, rewritten)
			continue
		}

		out = append(out, line)
	}
	return out
}

// canonicalHeaderName turns "user-agent" into "User-Agent".
func canonicalHeaderName(name string) string {
	words := strings.Split(name, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, "-")
}
