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
	"regexp"
	"strings"

	"github.com/lucasduport/easyproxy/pkg/httpclient"
	"github.com/lucasduport/easyproxy/pkg/utils"
)

const mixdropUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

var mixdropURLRes = []*regexp.Regexp{
	regexp.MustCompile(`MDCore\.wurl ?= ?"(.*?)"`),
	regexp.MustCompile(`wurl ?= ?"(.*?)"`),
	regexp.MustCompile(`src: ?"(.*?)"`),
	regexp.MustCompile(`file: ?"(.*?)"`),
	regexp.MustCompile(`https?://[^"']+\.mp4[^"']*`),
}

// MixDrop resolves mixdrop file pages. The delivery URL hides behind
// MDCore.wurl inside packed player JS.
type MixDrop struct {
	client *httpclient.Client
}

// NewMixDrop builds the extractor over the given proxy pool.
func NewMixDrop(proxies []string) *MixDrop {
	client, err := httpclient.New(httpclient.Options{
		Proxies:   proxies,
		UserAgent: mixdropUserAgent,
	})
	if err != nil {
		utils.ErrorLog("Mixdrop session setup failed, using direct connection: %v", err)
		client, _ = httpclient.New(httpclient.Options{UserAgent: mixdropUserAgent})
	}
	return &MixDrop{client: client}
}

// normalizeMixdropURL rewrites the many mirror domains onto mixdrop.ps
// and trims trailing title segments.
func normalizeMixdropURL(rawURL string) string {
	switch {
	case strings.Contains(rawURL, "club"):
		rawURL = strings.SplitN(strings.Replace(rawURL, "club", "ps", 1), "/2", 2)[0]
	case strings.Contains(rawURL, "ag"):
		rawURL = strings.SplitN(strings.Replace(rawURL, "ag", "ps", 1), "/2", 2)[0]
	default:
		for _, domain := range []string{"mdy48tn97.com", "mixdrop.to", "mixdrop.co"} {
			if strings.Contains(rawURL, domain) {
				rawURL = strings.SplitN(strings.Replace(rawURL, domain, "mixdrop.ps", 1), "/2", 2)[0]
				break
			}
		}
	}
	return rawURL
}

func (m *MixDrop) Extract(ctx context.Context, rawURL string, _ bool) (*Result, error) {
	rawURL = normalizeMixdropURL(rawURL)

	page, err := m.client.GetText(ctx, rawURL, map[string]string{
		"accept-language": "en-US,en;q=0.5",
		"referer":         rawURL,
	})
	if err != nil {
		return nil, Errorf("mixdrop: page fetch failed: %v", err)
	}

	finalURL := findStreamInPage(page, mixdropURLRes)
	if finalURL == "" || len(finalURL) < 10 {
		if strings.Contains(strings.ToLower(page), "not found") ||
			strings.Contains(strings.ToLower(page), "unavailable") {
			return nil, Errorf("mixdrop: video not available")
		}
		return nil, Errorf("mixdrop: no delivery URL found")
	}
	if strings.HasPrefix(finalURL, "//") {
		finalURL = "https:" + finalURL
	}
	utils.InfoLog("Mixdrop URL extracted: %s", utils.MaskURL(finalURL))

	return &Result{
		DestinationURL: finalURL,
		RequestHeaders: map[string]string{
			"user-agent": mixdropUserAgent,
			"referer":    rawURL,
		},
		EndpointType: EndpointStream,
	}, nil
}

// findStreamInPage tries the patterns against the raw page first, then
// against every unpacked eval block.
func findStreamInPage(page string, patterns []*regexp.Regexp) string {
	try := func(text string) string {
		for _, re := range patterns {
			if m := re.FindStringSubmatch(text); m != nil {
				if len(m) > 1 {
					return m[1]
				}
				return m[0]
			}
		}
		return ""
	}

	if found := try(page); found != "" {
		return found
	}
	blocks := matchAll(packedBlockRe, page)
	if len(blocks) == 0 {
		blocks = matchAll(packedBlockFallbackRe, page)
	}
	for _, block := range blocks {
		unpacked, err := unpackJS(block)
		if err != nil {
			continue
		}
		if found := try(unpacked); found != "" {
			return found
		}
	}
	return ""
}

func (m *MixDrop) Close() {
	m.client.Close()
}
