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
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lucasduport/easyproxy/pkg/extractor"
	"github.com/lucasduport/easyproxy/pkg/httpclient"
	"github.com/lucasduport/easyproxy/pkg/utils"
)

const indexPage = `<!DOCTYPE html>
<html>
<head><title>EasyProxy</title></head>
<body>
<h1>EasyProxy</h1>
<p>Reverse proxy for HLS and MPEG-DASH streams with URL extraction and ClearKey support.</p>
<ul>
<li><a href="/info">Server info</a></li>
<li><a href="/builder">Playlist builder</a></li>
<li><a href="/extractor/video">Extractor API</a></li>
</ul>
</body>
</html>`

const builderPage = `<!DOCTYPE html>
<html>
<head><title>EasyProxy - Playlist Builder</title></head>
<body>
<h1>Playlist Builder</h1>
<p>Combine one or more M3U playlists. Separate definitions with ';'.
Options follow each URL as |sort=true or |noproxy=true.</p>
<form action="/playlist" method="get">
<input type="text" name="url" size="80" placeholder="https://example.com/list.m3u|sort=true">
<input type="text" name="api_password" size="20" placeholder="api password">
<button type="submit">Build</button>
</form>
</body>
</html>`

const infoPage = `<!DOCTYPE html>
<html>
<head><title>EasyProxy - Info</title></head>
<body>
<h1>Server Info</h1>
<p>See <a href="/api/info">/api/info</a> for the JSON version.</p>
</body>
</html>`

func (c *Config) getRoot(ctx *gin.Context) {
	ctx.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexPage))
}

func (c *Config) getBuilderPage(ctx *gin.Context) {
	ctx.Data(http.StatusOK, "text/html; charset=utf-8", []byte(builderPage))
}

func (c *Config) getInfoPage(ctx *gin.Context) {
	ctx.Data(http.StatusOK, "text/html; charset=utf-8", []byte(infoPage))
}

func (c *Config) getAPIInfo(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"proxy":       "EasyProxy",
		"version":     serverVersion,
		"status":      "running",
		"instance_id": instanceID,
		"features": []string{
			"HLS manifest proxying",
			"MPEG-DASH to HLS conversion",
			"AES-128 key proxying",
			"ClearKey license serving",
			"Server-side CENC decryption",
			"Playlist building",
			"Upstream proxy support (SOCKS5, HTTP/S)",
			"Multi-extractor support",
		},
		"extractors_loaded": extractor.Names(),
		"proxy_config": gin.H{
			"global": fmt.Sprintf("%d proxies loaded", len(c.GlobalProxies)),
			"vavoo":  fmt.Sprintf("%d proxies loaded", len(c.VavooProxies)),
			"dlhd":   fmt.Sprintf("%d proxies loaded", len(c.DLHDProxies)),
		},
		"endpoints": gin.H{
			"/proxy/hls/manifest.m3u8": "HLS proxy - ?d=<URL>",
			"/proxy/mpd/manifest.m3u8": "MPD proxy - ?d=<URL>",
			"/proxy/stream":            "Generic stream proxy",
			"/key":                     "AES-128 key proxy",
			"/playlist":                "Playlist builder",
			"/segment/{segment}":       "Segment proxy",
			"/license":                 "DRM license proxy",
			"/proxy/ip":                "Check public IP",
		},
	})
}

func (c *Config) handleOptions(ctx *gin.Context) {
	ctx.Header("Access-Control-Allow-Origin", "*")
	ctx.Header("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	ctx.Header("Access-Control-Allow-Headers", "Range, Content-Type")
	ctx.Header("Access-Control-Max-Age", "86400")
	ctx.Status(http.StatusOK)
}

// clearKeyLicense builds the JWK document players expect from a
// ClearKey license server.
func clearKeyLicense(kidHex, keyHex string) (gin.H, error) {
	kid, err := hex.DecodeString(kidHex)
	if err != nil {
		return nil, fmt.Errorf("bad kid: %w", err)
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("bad key: %w", err)
	}
	return gin.H{
		"keys": []gin.H{{
			"kty":  "oct",
			"k":    base64.RawURLEncoding.EncodeToString(key),
			"kid":  base64.RawURLEncoding.EncodeToString(kid),
			"type": "temporary",
		}},
		"type": "temporary",
	}, nil
}

type generateURLsRequest struct {
	APIPassword string `json:"api_password"`
	URLs        []struct {
		DestinationURL string            `json:"destination_url"`
		Endpoint       string            `json:"endpoint"`
		RequestHeaders map[string]string `json:"request_headers"`
	} `json:"urls"`
}

// postGenerateURLs builds ready-to-use proxy URLs for a batch of
// resolved streams.
func (c *Config) postGenerateURLs(ctx *gin.Context) {
	var req generateURLsRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.String(http.StatusBadRequest, "%v", err)
		return
	}

	if c.APIPassword != "" && req.APIPassword != c.APIPassword.String() && !c.checkPassword(ctx) {
		utils.WarnLog("Unauthorized generate_urls request")
		ctx.String(http.StatusUnauthorized, "Unauthorized: Invalid API Password")
		return
	}

	base := proxyBase(ctx)
	generated := []string{}
	for _, item := range req.URLs {
		if item.DestinationURL == "" {
			continue
		}
		endpoint := item.Endpoint
		if endpoint == "" {
			endpoint = "/proxy/stream"
		}
		if !strings.HasPrefix(endpoint, "/") {
			endpoint = "/" + endpoint
		}

		params := []string{"d=" + url.QueryEscape(item.DestinationURL)}
		for key, value := range item.RequestHeaders {
			params = append(params, "h_"+url.QueryEscape(key)+"="+url.QueryEscape(value))
		}
		if c.APIPassword != "" {
			params = append(params, "api_password="+url.QueryEscape(c.APIPassword.String()))
		}
		generated = append(generated, base+endpoint+"?"+strings.Join(params, "&"))
	}

	ctx.JSON(http.StatusOK, gin.H{"urls": generated})
}

// getProxyIP reports the public IP the proxy egresses from, which is
// the upstream proxy's IP when one is configured.
func (c *Config) getProxyIP(ctx *gin.Context) {
	reqCtx, cancel := context.WithTimeout(ctx.Request.Context(), 10*time.Second)
	defer cancel()

	body, err := c.relay.GetText(reqCtx, "https://api.ipify.org?format=json", nil)
	if err != nil {
		if code := httpclient.StatusCode(err); code > 0 {
			utils.ErrorLog("Failed to fetch IP: %d", code)
			ctx.String(http.StatusBadGateway, "Failed to fetch IP")
			return
		}
		utils.ErrorLog("Error fetching IP: %v", err)
		ctx.String(http.StatusInternalServerError, "%v", err)
		return
	}
	ctx.Data(http.StatusOK, "application/json", []byte(body))
}
