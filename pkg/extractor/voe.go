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
	"encoding/base64"
	"regexp"
	"strings"

	"github.com/buger/jsonparser"

	"github.com/lucasduport/easyproxy/pkg/httpclient"
	"github.com/lucasduport/easyproxy/pkg/utils"
)

const voeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

const voeMaxRedirects = 5

var (
	voeRedirectRe      = regexp.MustCompile(`window\.location\.href\s*=\s*'([^']+)`)
	voeCodeAndScriptRe = regexp.MustCompile(`(?s)json">\["([^"]+)"]</script>\s*<script\s*src="([^"]+)`)
	voeLUTRe           = regexp.MustCompile(`(?s)(\[(?:'\W{2}'[,\]]){1,9})`)
)

// Voe resolves voe.sx pages. The player config is rot-shifted,
// junk-padded and double base64 encoded; the junk alphabet lives in an
// external script.
type Voe struct {
	client *httpclient.Client
}

// NewVoe builds the extractor over the given proxy pool.
func NewVoe(proxies []string) *Voe {
	client, err := httpclient.New(httpclient.Options{
		Proxies:   proxies,
		UserAgent: voeUserAgent,
	})
	if err != nil {
		utils.ErrorLog("VOE session setup failed, using direct connection: %v", err)
		client, _ = httpclient.New(httpclient.Options{UserAgent: voeUserAgent})
	}
	return &Voe{client: client}
}

func (v *Voe) Extract(ctx context.Context, rawURL string, _ bool) (*Result, error) {
	pageURL := rawURL
	var page string
	for redirects := 0; ; redirects++ {
		var err error
		page, err = v.client.GetText(ctx, pageURL, nil)
		if err != nil {
			return nil, Errorf("voe: page fetch failed: %v", err)
		}
		m := voeRedirectRe.FindStringSubmatch(page)
		if m == nil {
			break
		}
		if redirects >= voeMaxRedirects {
			return nil, Errorf("voe: too many redirects")
		}
		pageURL = m[1]
	}

	cm := voeCodeAndScriptRe.FindStringSubmatch(page)
	if cm == nil {
		return nil, Errorf("voe: unable to locate obfuscated payload or script URL")
	}

	scriptURL := resolveURL(pageURL, cm[2])
	script, err := v.client.GetText(ctx, scriptURL, nil)
	if err != nil {
		return nil, Errorf("voe: external script fetch failed: %v", err)
	}

	lm := voeLUTRe.FindStringSubmatch(script)
	if lm == nil {
		return nil, Errorf("voe: unable to locate junk table in external script")
	}

	decoded, err := voeDecode(cm[1], lm[1])
	if err != nil {
		return nil, Errorf("voe: payload decode failed: %v", err)
	}

	source, err := jsonparser.GetString(decoded, "source")
	if err != nil || source == "" {
		return nil, Errorf("voe: no video URL in decoded payload")
	}
	utils.InfoLog("VOE URL extracted: %s", utils.MaskURL(source))

	return &Result{
		DestinationURL: source,
		RequestHeaders: map[string]string{
			"user-agent": voeUserAgent,
			"referer":    pageURL,
		},
		EndpointType: EndpointHLS,
	}, nil
}

// voeDecode undoes the player config obfuscation: a rot13-style shift
// on letters, removal of junk sequences, base64, a -3 character shift,
// then base64 of the reversed string.
func voeDecode(ct, luts string) ([]byte, error) {
	var junk []string
	trimmed := strings.TrimSuffix(strings.TrimPrefix(luts, "['"), "']")
	for _, item := range strings.Split(trimmed, "','") {
		junk = append(junk, item)
	}

	var shifted strings.Builder
	for _, r := range ct {
		switch {
		case r > 64 && r < 91:
			r = (r-52)%26 + 65
		case r > 96 && r < 123:
			r = (r-84)%26 + 97
		}
		shifted.WriteRune(r)
	}
	txt := shifted.String()
	for _, j := range junk {
		txt = strings.ReplaceAll(txt, j, "")
	}

	stage1, err := base64.StdEncoding.DecodeString(txt)
	if err != nil {
		return nil, err
	}
	shiftedBack := make([]byte, len(stage1))
	for i, b := range stage1 {
		shiftedBack[i] = b - 3
	}
	for i, j := 0, len(shiftedBack)-1; i < j; i, j = i+1, j-1 {
		shiftedBack[i], shiftedBack[j] = shiftedBack[j], shiftedBack[i]
	}
	return base64.StdEncoding.DecodeString(string(shiftedBack))
}

func (v *Voe) Close() {
	v.client.Close()
}
