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
	"regexp"
	"strings"

	"github.com/lucasduport/easyproxy/pkg/httpclient"
	"github.com/lucasduport/easyproxy/pkg/utils"
)

const sportsonlineUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

var (
	sportsonlineIframeRe = regexp.MustCompile(`(?i)<iframe\s+src=["']([^"']+)["']`)
	sportsonlineDirectRe = regexp.MustCompile(`https?://[^\s"'<>]+?\.m3u8[^\s"'<>]*`)

	packedBlockRe         = regexp.MustCompile(`(?s)(eval\(function\(p,a,c,k,e,d\).*?)\s*</script>`)
	packedBlockFallbackRe = regexp.MustCompile(`(?s)(eval\(function\(p,a,c,k,e,.*?\)\))`)

	sportsonlineM3U8Res = []*regexp.Regexp{
		regexp.MustCompile(`var\s+src\s*=\s*["']([^"']+\.m3u8[^"']*)["']`),
		regexp.MustCompile(`src\s*=\s*["']([^"']+\.m3u8[^"']*)["']`),
		regexp.MustCompile(`file\s*:\s*["']([^"']+\.m3u8[^"']*)["']`),
		regexp.MustCompile(`source\s*:\s*["'](https?://[^'"]+?\.m3u8[^'"]*?)["']`),
		regexp.MustCompile(`["'](https?://[^"']+\.m3u8[^"']*)["']`),
	}
)

// SportsOnline resolves sportzonline/sportsonline event pages. The
// stream URL hides inside packed player JS in an iframe.
type SportsOnline struct {
	client *httpclient.Client
}

// NewSportsOnline builds the extractor over the given proxy pool.
func NewSportsOnline(proxies []string) *SportsOnline {
	client, err := httpclient.New(httpclient.Options{
		Proxies:   proxies,
		UserAgent: sportsonlineUserAgent,
	})
	if err != nil {
		utils.ErrorLog("Sportsonline session setup failed, using direct connection: %v", err)
		client, _ = httpclient.New(httpclient.Options{UserAgent: sportsonlineUserAgent})
	}
	return &SportsOnline{client: client}
}

func (s *SportsOnline) Extract(ctx context.Context, rawURL string, _ bool) (*Result, error) {
	mainHTML, err := s.client.GetText(ctx, rawURL, map[string]string{
		"Accept-Encoding": "gzip, deflate",
	})
	if err != nil {
		return nil, Errorf("sportsonline: main page failed: %v", err)
	}

	im := sportsonlineIframeRe.FindStringSubmatch(mainHTML)
	if im == nil {
		return nil, Errorf("sportsonline: no iframe found on page")
	}
	iframeURL := im[1]
	if strings.HasPrefix(iframeURL, "//") {
		iframeURL = "https:" + iframeURL
	} else if strings.HasPrefix(iframeURL, "/") {
		if mu, err := url.Parse(rawURL); err == nil {
			iframeURL = mu.Scheme + "://" + mu.Host + iframeURL
		}
	}
	utils.DebugLog("Sportsonline iframe URL: %s", iframeURL)

	iframeHeaders := map[string]string{
		"Referer":         "https://sportzonline.st/",
		"User-Agent":      sportsonlineUserAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.9,it;q=0.8",
		"Cache-Control":   "no-cache",
		"Accept-Encoding": "gzip, deflate",
	}
	iframeHTML, err := s.client.GetText(ctx, iframeURL, iframeHeaders)
	if err != nil {
		return nil, Errorf("sportsonline: iframe page failed: %v", err)
	}

	blocks := matchAll(packedBlockRe, iframeHTML)
	if len(blocks) == 0 {
		blocks = matchAll(packedBlockFallbackRe, iframeHTML)
	}
	utils.DebugLog("Sportsonline found %d packed blocks", len(blocks))

	if len(blocks) == 0 {
		if direct := sportsonlineDirectRe.FindString(iframeHTML); direct != "" {
			return s.result(direct, iframeURL), nil
		}
		return nil, Errorf("sportsonline: no packed blocks or direct m3u8 URL found")
	}

	// The second block usually carries the player; fall back through
	// the rest in order.
	chosen := 0
	if len(blocks) > 1 {
		chosen = 1
	}
	for i := 0; i < len(blocks); i++ {
		block := blocks[(chosen+i)%len(blocks)]
		unpacked, err := unpackJS(block)
		if err != nil {
			utils.WarnLog("Sportsonline block unpack failed: %v", err)
			continue
		}
		for _, re := range sportsonlineM3U8Res {
			if m := re.FindStringSubmatch(unpacked); m != nil && strings.Contains(m[1], ".m3u8") {
				utils.InfoLog("Sportsonline m3u8 extracted: %s", utils.MaskURL(m[1]))
				return s.result(m[1], iframeURL), nil
			}
		}
	}

	return nil, Errorf("sportsonline: no m3u8 URL in any packed block")
}

func (s *SportsOnline) result(streamURL, iframeURL string) *Result {
	return &Result{
		DestinationURL: streamURL,
		RequestHeaders: map[string]string{
			"Referer":    iframeURL,
			"User-Agent": sportsonlineUserAgent,
		},
		EndpointType: EndpointHLSManifest,
	}
}

func (s *SportsOnline) Close() {
	s.client.Close()
}
