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

	"github.com/buger/jsonparser"

	"github.com/lucasduport/easyproxy/pkg/httpclient"
	"github.com/lucasduport/easyproxy/pkg/utils"
)

const vixsrcUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var (
	vixsrcAppDivRe     = regexp.MustCompile(`(?i)<div[^>]*id="app"[^>]*data-page="([^"]*)"[^>]*>`)
	vixsrcIframeRe     = regexp.MustCompile(`(?i)<iframe[^>]*src="([^"]*)"[^>]*>`)
	vixsrcBodyScriptRe = regexp.MustCompile(`(?is)<body[^>]*>.*?<script[^>]*>(.*?)</script>`)
	vixsrcTokenRe      = regexp.MustCompile(`'token':\s*'(\w+)'`)
	vixsrcExpiresRe    = regexp.MustCompile(`'expires':\s*'(\d+)'`)
	vixsrcServerURLRe  = regexp.MustCompile(`url:\s*'([^']+)'`)
)

// VixSrc resolves vixsrc.to movie, tv and iframe pages. Playlists from
// this host must keep only their top quality variant downstream, which
// IsVixSrc signals to the manifest rewriter.
type VixSrc struct {
	client *httpclient.Client
}

// NewVixSrc builds the extractor over the given proxy pool.
func NewVixSrc(proxies []string) *VixSrc {
	client, err := httpclient.New(httpclient.Options{
		Proxies:   proxies,
		UserAgent: vixsrcUserAgent,
	})
	if err != nil {
		utils.ErrorLog("VixSrc session setup failed, using direct connection: %v", err)
		client, _ = httpclient.New(httpclient.Options{UserAgent: vixsrcUserAgent})
	}
	return &VixSrc{client: client}
}

// IsVixSrc marks results from this extractor for variant filtering.
func (v *VixSrc) IsVixSrc() bool { return true }

func (v *VixSrc) baseHeaders() map[string]string {
	return map[string]string{
		"user-agent":      vixsrcUserAgent,
		"accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
		"accept-language": "en-US,en;q=0.5",
		"accept-encoding": "gzip, deflate",
		"connection":      "keep-alive",
	}
}

// version reads the Inertia asset version off the request-a-title page.
func (v *VixSrc) version(ctx context.Context, siteURL string) (string, error) {
	body, err := v.client.GetText(ctx, siteURL+"/request-a-title", map[string]string{
		"Referer": siteURL + "/",
		"Origin":  siteURL,
	})
	if err != nil {
		return "", Errorf("vixsrc: version page failed: %v", err)
	}

	m := vixsrcAppDivRe.FindStringSubmatch(body)
	if m == nil {
		return "", Errorf("vixsrc: no app data on version page")
	}
	dataPage := strings.ReplaceAll(m[1], "&quot;", `"`)
	version, err := jsonparser.GetString([]byte(dataPage), "version")
	if err != nil {
		return "", Errorf("vixsrc: version parse failed: %v", err)
	}
	return version, nil
}

func (v *VixSrc) Extract(ctx context.Context, rawURL string, _ bool) (*Result, error) {
	// Playlist URLs are already manifests, nothing to resolve.
	if strings.Contains(rawURL, "vixsrc.to/playlist") {
		return &Result{
			DestinationURL: rawURL,
			RequestHeaders: v.baseHeaders(),
			EndpointType:   EndpointHLSManifest,
		}, nil
	}

	var page string
	switch {
	case strings.Contains(rawURL, "iframe"):
		siteURL := strings.SplitN(rawURL, "/iframe", 2)[0]
		version, err := v.version(ctx, siteURL)
		if err != nil {
			return nil, err
		}

		inertiaHeaders := v.baseHeaders()
		inertiaHeaders["x-inertia"] = "true"
		inertiaHeaders["x-inertia-version"] = version

		body, err := v.client.GetText(ctx, rawURL, inertiaHeaders)
		if err != nil {
			return nil, Errorf("vixsrc: iframe page failed: %v", err)
		}
		im := vixsrcIframeRe.FindStringSubmatch(body)
		if im == nil {
			return nil, Errorf("vixsrc: no iframe in response")
		}
		page, err = v.client.GetText(ctx, im[1], inertiaHeaders)
		if err != nil {
			return nil, Errorf("vixsrc: inner iframe failed: %v", err)
		}

	case strings.Contains(rawURL, "movie"), strings.Contains(rawURL, "tv"):
		var err error
		page, err = v.client.GetText(ctx, rawURL, nil)
		if err != nil {
			return nil, Errorf("vixsrc: title page failed: %v", err)
		}

	default:
		return nil, Errorf("vixsrc: unsupported URL type")
	}

	sm := vixsrcBodyScriptRe.FindStringSubmatch(page)
	if sm == nil {
		return nil, Errorf("vixsrc: no script in page body")
	}
	script := sm[1]

	tokenM := vixsrcTokenRe.FindStringSubmatch(script)
	expiresM := vixsrcExpiresRe.FindStringSubmatch(script)
	serverM := vixsrcServerURLRe.FindStringSubmatch(script)
	if tokenM == nil || expiresM == nil || serverM == nil {
		return nil, Errorf("vixsrc: missing playlist parameters in script")
	}

	serverURL := serverM[1]
	sep := "?"
	if strings.Contains(serverURL, "?b=1") {
		sep = "&"
	}
	finalURL := serverURL + sep + "token=" + tokenM[1] + "&expires=" + expiresM[1]
	if strings.Contains(script, "window.canPlayFHD = true") {
		finalURL += "&h=1"
	}

	headers := v.baseHeaders()
	headers["referer"] = rawURL
	utils.InfoLog("VixSrc URL extracted: %s", utils.MaskURL(finalURL))

	return &Result{
		DestinationURL: finalURL,
		RequestHeaders: headers,
		EndpointType:   EndpointHLSManifest,
	}, nil
}

func (v *VixSrc) Close() {
	v.client.Close()
}
