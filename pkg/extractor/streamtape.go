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

const streamtapeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

var streamtapeTokenRe = regexp.MustCompile(`id=.*?(?:')`)

// Streamtape resolves streamtape file pages. The page repeats the
// get_video query in two places; the real one carries the ip token and
// shows up twice in a row.
type Streamtape struct {
	client *httpclient.Client
}

// NewStreamtape builds the extractor over the given proxy pool.
func NewStreamtape(proxies []string) *Streamtape {
	client, err := httpclient.New(httpclient.Options{
		Proxies:   proxies,
		UserAgent: streamtapeUserAgent,
	})
	if err != nil {
		utils.ErrorLog("Streamtape session setup failed, using direct connection: %v", err)
		client, _ = httpclient.New(httpclient.Options{UserAgent: streamtapeUserAgent})
	}
	return &Streamtape{client: client}
}

func (s *Streamtape) Extract(ctx context.Context, rawURL string, _ bool) (*Result, error) {
	page, err := s.client.GetText(ctx, rawURL, nil)
	if err != nil {
		return nil, Errorf("streamtape: page fetch failed: %v", err)
	}

	var matches []string
	for _, m := range streamtapeTokenRe.FindAllString(page, -1) {
		matches = append(matches, strings.TrimSuffix(m, "'"))
	}
	if len(matches) == 0 {
		return nil, Errorf("streamtape: failed to extract URL components")
	}

	var finalURL string
	for i := 1; i < len(matches); i++ {
		if matches[i-1] == matches[i] && strings.Contains(matches[i], "ip=") {
			finalURL = "https://streamtape.com/get_video?" + matches[i]
			break
		}
	}
	if finalURL == "" {
		for _, m := range matches {
			if strings.Contains(m, "ip=") {
				finalURL = "https://streamtape.com/get_video?" + m
			}
		}
	}
	if finalURL == "" {
		return nil, Errorf("streamtape: URL extraction failed")
	}
	utils.InfoLog("Streamtape URL extracted: %s", utils.MaskURL(finalURL))

	return &Result{
		DestinationURL: finalURL,
		RequestHeaders: map[string]string{
			"user-agent": streamtapeUserAgent,
			"referer":    rawURL,
		},
		EndpointType: EndpointStream,
	}, nil
}

func (s *Streamtape) Close() {
	s.client.Close()
}
