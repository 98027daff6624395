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
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/lucasduport/easyproxy/pkg/decrypt"
	"github.com/lucasduport/easyproxy/pkg/extractor"
	"github.com/lucasduport/easyproxy/pkg/httpclient"
	"github.com/lucasduport/easyproxy/pkg/playlist"
	"github.com/lucasduport/easyproxy/pkg/rewrite"
	"github.com/lucasduport/easyproxy/pkg/utils"
)

var temporaryErrorMarkers = []string{
	"403", "forbidden", "502", "bad gateway", "timeout", "connection", "temporarily unavailable",
}

func isTemporaryError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range temporaryErrorMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// getProxy resolves the requested channel URL through the matching
// extractor and relays the resulting stream.
func (c *Config) getProxy(ctx *gin.Context) {
	targetURL := ctx.Query("url")
	if targetURL == "" {
		targetURL = ctx.Query("d")
	}
	if targetURL == "" {
		ctx.String(http.StatusBadRequest, "Missing 'url' or 'd' parameter")
		return
	}
	targetURL = maybeUnquote(targetURL)

	forceRefresh := strings.EqualFold(ctx.Query("force"), "true")
	redirectStream := !strings.EqualFold(ctx.DefaultQuery("redirect_stream", "true"), "false")

	utils.DebugLog("Processing URL: %s", utils.MaskURL(targetURL))

	ext := c.registry.Lookup(targetURL, clientHeaders(ctx), "")
	result, err := ext.Extract(ctx.Request.Context(), targetURL, forceRefresh)
	if err != nil {
		var exErr *extractor.Error
		if errors.As(err, &exErr) && !forceRefresh {
			utils.WarnLog("Extraction failed, retrying with forced refresh: %v", err)
			result, err = ext.Extract(ctx.Request.Context(), targetURL, true)
		}
		if err != nil {
			if isTemporaryError(err) {
				utils.WarnLog("Service temporarily unavailable: %v", err)
				ctx.String(http.StatusServiceUnavailable, "Service temporarily unavailable: %v", err)
				return
			}
			utils.ErrorLog("Proxy request failed: %v", err)
			ctx.String(http.StatusInternalServerError, "Proxy error: %v", err)
			return
		}
	}

	streamHeaders := map[string]string{}
	for k, v := range result.RequestHeaders {
		streamHeaders[k] = v
	}

	if !redirectStream {
		endpoint := "/proxy/hls/manifest.m3u8"
		if strings.Contains(result.DestinationURL, ".mpd") {
			endpoint = "/proxy/mpd/manifest.m3u8"
		}
		proxyURL := proxyBase(ctx) + endpoint + "?d=" + url.QueryEscape(result.DestinationURL) +
			rewrite.EncodeHeaderParams(streamHeaders)
		ctx.JSON(http.StatusOK, gin.H{
			"destination_url": result.DestinationURL,
			"request_headers": streamHeaders,
			"endpoint_type":   result.EndpointType,
			"proxy_url":       proxyURL,
			"query_params":    gin.H{},
		})
		return
	}

	// Headers supplied as h_ query parameters override the extractor's.
	for name, value := range queryHeaders(ctx, false) {
		for k := range streamHeaders {
			if strings.EqualFold(k, name) {
				delete(streamHeaders, k)
			}
		}
		streamHeaders[name] = value
	}

	c.proxyStream(ctx, result.DestinationURL, streamHeaders)
}

var manifestURLMarkers = []string{".m3u8", ".mpd", ".isml/manifest", ".mpd/manifest", ".php"}

// normalizeStreamHeaders canonicalizes the well-known headers and
// forces a desktop browser User-Agent.
func normalizeStreamHeaders(headers map[string]string) map[string]string {
	normalized := map[string]string{}
	for k, v := range headers {
		switch strings.ToLower(k) {
		case "user-agent":
			normalized["User-Agent"] = utils.GetStreamUserAgent()
		case "referer":
			normalized["Referer"] = v
		case "origin":
			normalized["Origin"] = v
		case "authorization":
			normalized["Authorization"] = v
		case "range":
			normalized["Range"] = v
		default:
			normalized[k] = v
		}
	}
	if _, ok := normalized["User-Agent"]; !ok {
		normalized["User-Agent"] = utils.GetStreamUserAgent()
	}
	return normalized
}

// proxyStream relays stream_url upstream. Manifests get rewritten so
// every URL routes back through the proxy, everything else streams
// through unchanged.
func (c *Config) proxyStream(ctx *gin.Context, streamURL string, streamHeaders map[string]string) {
	headers := normalizeStreamHeaders(streamHeaders)

	lowerURL := strings.ToLower(streamURL)
	isManifest := false
	for _, marker := range manifestURLMarkers {
		if strings.Contains(lowerURL, marker) {
			isManifest = true
			break
		}
	}
	if isManifest {
		delete(headers, "Range")
	} else {
		for _, name := range []string{"Range", "If-None-Match", "If-Modified-Since"} {
			if v := ctx.GetHeader(name); v != "" {
				headers[name] = v
			}
		}
	}

	resp, err := c.relay.Get(ctx.Request.Context(), streamURL, headers)
	if err != nil {
		utils.WarnLog("Lost connection to upstream: %s (%v)", utils.MaskURL(streamURL), err)
		ctx.String(http.StatusBadGateway, "Upstream connection lost: %v", err)
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")

	switch {
	case strings.Contains(contentType, "mpegurl") ||
		strings.HasSuffix(streamURL, ".m3u8") ||
		(strings.HasSuffix(streamURL, ".css") && strings.Contains(streamURL, "newkso.ru")):
		c.serveHLSManifest(ctx, resp, streamURL, headers)

	case strings.Contains(contentType, "dash+xml") || strings.HasSuffix(streamURL, ".mpd"):
		c.serveDASHManifest(ctx, resp, streamURL, headers)

	default:
		relayBody(ctx, resp, streamURL)
	}
}

func (c *Config) serveHLSManifest(ctx *gin.Context, resp *http.Response, streamURL string, headers map[string]string) {
	body, err := httpclient.ReadBody(resp)
	if err != nil {
		ctx.String(http.StatusBadGateway, "Upstream read failed: %v", err)
		return
	}

	topQuality := false
	originalRequestURL := headerGet(headers, "referer")
	if originalRequestURL == "" {
		originalRequestURL = streamURL
	}
	if v, ok := c.registry.Lookup(originalRequestURL, nil, "").(interface{ IsVixSrc() bool }); ok && v.IsVixSrc() {
		topQuality = true
	}

	rewritten := rewrite.HLS(string(body), rewrite.HLSOptions{
		ProxyBase:      proxyBase(ctx),
		ManifestURL:    streamURL,
		Headers:        headers,
		ChannelURL:     ctx.Query("url"),
		APIPassword:    ctx.Query("api_password"),
		TopQualityOnly: topQuality,
	})

	ctx.Header("Content-Disposition", `attachment; filename="stream.m3u8"`)
	ctx.Header("Access-Control-Allow-Origin", "*")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Data(http.StatusOK, "application/vnd.apple.mpegurl", []byte(rewritten))
}

func (c *Config) serveDASHManifest(ctx *gin.Context, resp *http.Response, streamURL string, headers map[string]string) {
	body, err := httpclient.ReadBody(resp)
	if err != nil {
		ctx.String(http.StatusBadGateway, "Upstream read failed: %v", err)
		return
	}

	clearkey := ctx.Query("clearkey")
	if clearkey == "" {
		if kid, key := ctx.Query("key_id"), ctx.Query("key"); kid != "" && key != "" {
			clearkey = kid + ":" + key
		}
	}

	format := ctx.Query("format")
	repID := ctx.Query("rep_id")

	if format == "hls" || (strings.HasSuffix(ctx.Request.URL.Path, ".m3u8") && format != "mpd") {
		params := rewrite.EncodeHeaderParams(headers)
		if pw := ctx.Query("api_password"); pw != "" {
			params += "&api_password=" + url.QueryEscape(pw)
		}
		if clearkey != "" {
			params += "&clearkey=" + clearkey
		}

		var playlistText string
		var filename string
		if repID != "" {
			playlistText = c.converter.MediaPlaylist(string(body), repID, proxyBase(ctx), streamURL, params, clearkey)
			filename = "playlist.m3u8"
		} else {
			playlistText = c.converter.MasterPlaylist(string(body), proxyBase(ctx), streamURL, params)
			filename = "master.m3u8"
		}
		ctx.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
		ctx.Header("Access-Control-Allow-Origin", "*")
		ctx.Header("Cache-Control", "no-cache")
		ctx.Data(http.StatusOK, "application/vnd.apple.mpegurl", []byte(playlistText))
		return
	}

	rewritten := rewrite.MPD(string(body), rewrite.MPDOptions{
		ProxyBase:   proxyBase(ctx),
		ManifestURL: streamURL,
		Headers:     headers,
		ClearKey:    clearkey,
		APIPassword: ctx.Query("api_password"),
	})

	ctx.Header("Content-Disposition", `attachment; filename="stream.mpd"`)
	ctx.Header("Access-Control-Allow-Origin", "*")
	ctx.Header("Cache-Control", "no-cache")
	ctx.Data(http.StatusOK, "application/dash+xml", []byte(rewritten))
}

// relayBody streams a segment response to the client as-is, decoding
// any transport compression first.
func relayBody(ctx *gin.Context, resp *http.Response, streamURL string) {
	encoding := resp.Header.Get("Content-Encoding")
	for _, header := range []string{"Content-Type", "Content-Range", "Accept-Ranges", "Last-Modified", "Etag"} {
		if v := resp.Header.Get(header); v != "" {
			ctx.Header(header, v)
		}
	}
	// Length only survives when the body is not re-decoded.
	if encoding == "" || encoding == "identity" {
		if v := resp.Header.Get("Content-Length"); v != "" {
			ctx.Header("Content-Length", v)
		}
	}

	if (strings.HasSuffix(streamURL, ".ts") || strings.HasSuffix(ctx.Request.URL.Path, ".ts")) &&
		!strings.Contains(strings.ToLower(resp.Header.Get("Content-Type")), "video/mp2t") {
		ctx.Header("Content-Type", "video/MP2T")
	}

	ctx.Header("Access-Control-Allow-Origin", "*")
	ctx.Header("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
	ctx.Header("Access-Control-Allow-Headers", "Range, Content-Type")
	ctx.Status(resp.StatusCode)

	reader, err := httpclient.DecodeReader(resp.Body, encoding)
	if err != nil {
		utils.WarnLog("Failed to decode upstream body (%s): %v", encoding, err)
		return
	}
	defer reader.Close()

	if _, err := io.Copy(ctx.Writer, reader); err != nil {
		utils.InfoLog("Client disconnected from stream: %s (%v)", utils.MaskURL(streamURL), err)
	}
}

// getSegment proxies one media segment addressed relative to its
// base_url.
func (c *Config) getSegment(ctx *gin.Context) {
	segmentName := strings.TrimPrefix(ctx.Param("name"), "/")
	baseURL := ctx.Query("base_url")
	if baseURL == "" {
		ctx.String(http.StatusBadRequest, "Missing base_url for segment")
		return
	}
	baseURL = maybeUnquote(baseURL)

	var segmentURL string
	switch {
	case strings.HasSuffix(baseURL, "/"):
		segmentURL = baseURL + segmentName
	case containsAnyOf(baseURL, ".mp4", ".m4s", ".ts", ".m4i", ".m4a", ".m4v"):
		segmentURL = baseURL
	default:
		if idx := strings.LastIndex(baseURL, "/"); idx >= 0 {
			segmentURL = baseURL[:idx] + "/" + segmentName
		} else {
			segmentURL = baseURL + "/" + segmentName
		}
	}

	utils.DebugLog("Proxy segment: %s", segmentName)

	headers := map[string]string{
		"User-Agent": utils.GetStreamUserAgent(),
		"Referer":    baseURL,
	}
	for name, value := range queryHeaders(ctx, false) {
		headers[name] = value
	}
	c.proxyStream(ctx, segmentURL, headers)
}

// getKey proxies AES-128 key fetches, picking the proxy pool that
// matches the channel's origin.
func (c *Config) getKey(ctx *gin.Context) {
	if staticKey := ctx.Query("static_key"); staticKey != "" {
		keyBytes, err := hex.DecodeString(staticKey)
		if err != nil {
			utils.ErrorLog("Failed to decode static key: %v", err)
			ctx.String(http.StatusBadRequest, "Invalid static key")
			return
		}
		ctx.Header("Access-Control-Allow-Origin", "*")
		ctx.Data(http.StatusOK, "application/octet-stream", keyBytes)
		return
	}

	keyURL := ctx.Query("key_url")
	if keyURL == "" {
		ctx.String(http.StatusBadRequest, "Missing key_url or static_key parameter")
		return
	}
	keyURL = maybeUnquote(keyURL)

	headers := map[string]string{}
	for name, value := range queryHeaders(ctx, true) {
		if strings.EqualFold(name, "range") {
			continue
		}
		headers[name] = value
	}

	originalChannelURL := ctx.Query("original_channel_url")
	pool := c.GlobalProxies
	if strings.Contains(keyURL, "newkso.ru") ||
		(originalChannelURL != "" && containsAnyOf(originalChannelURL, "daddylive", "dlhd")) {
		pool = firstNonEmpty(c.DLHDProxies, c.GlobalProxies)
	} else if originalChannelURL != "" && strings.Contains(originalChannelURL, "vavoo.to") {
		pool = firstNonEmpty(c.VavooProxies, c.GlobalProxies)
	}

	client, err := httpclient.New(httpclient.Options{Proxies: pool, Timeout: 30 * time.Second})
	if err != nil {
		ctx.String(http.StatusInternalServerError, "Key error: %v", err)
		return
	}
	defer client.Close()

	utils.DebugLog("Fetching AES key from: %s", utils.MaskURL(keyURL))

	resp, err := client.Get(ctx.Request.Context(), keyURL, headers)
	if err != nil {
		utils.ErrorLog("Error fetching AES key: %v", err)
		ctx.String(http.StatusInternalServerError, "Key error: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		utils.ErrorLog("Key fetch failed with status: %d", resp.StatusCode)
		// A dead key URL usually means the cached handshake expired.
		if originalChannelURL != "" {
			c.registry.InvalidateCacheForURL(originalChannelURL)
		}
		ctx.String(resp.StatusCode, "Key fetch failed: %d", resp.StatusCode)
		return
	}

	keyData, err := httpclient.ReadBody(resp)
	if err != nil {
		ctx.String(http.StatusInternalServerError, "Key error: %v", err)
		return
	}
	if utils.IsDebugLogEnabled() {
		utils.DebugLog("AES key received: %s", utils.HexDump(keyData, 16))
	}

	ctx.Header("Access-Control-Allow-Origin", "*")
	ctx.Header("Access-Control-Allow-Headers", "*")
	ctx.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	ctx.Data(http.StatusOK, "application/octet-stream", keyData)
}

// getLicense serves static ClearKey licenses and proxies remote DRM
// license requests.
func (c *Config) getLicense(ctx *gin.Context) {
	if clearkey := ctx.Query("clearkey"); clearkey != "" {
		kidHex, keyHex, ok := strings.Cut(clearkey, ":")
		if !ok {
			ctx.String(http.StatusBadRequest, "Invalid ClearKey format")
			return
		}
		jwk, err := clearKeyLicense(kidHex, keyHex)
		if err != nil {
			utils.ErrorLog("Failed to build ClearKey license: %v", err)
			ctx.String(http.StatusBadRequest, "Invalid ClearKey format")
			return
		}
		utils.DebugLog("Serving static ClearKey license for KID: %s", kidHex)
		ctx.JSON(http.StatusOK, jwk)
		return
	}

	licenseURL := ctx.Query("url")
	if licenseURL == "" {
		ctx.String(http.StatusBadRequest, "Missing url parameter")
		return
	}
	licenseURL = maybeUnquote(licenseURL)

	headers := queryHeaders(ctx, true)
	if v := ctx.GetHeader("Content-Type"); v != "" {
		headers["Content-Type"] = v
	}

	utils.DebugLog("Proxying license request to: %s", utils.MaskURL(licenseURL))

	req, err := c.relay.NewRequest(ctx.Request.Context(), ctx.Request.Method, licenseURL, ctx.Request.Body, headers)
	if err != nil {
		ctx.String(http.StatusInternalServerError, "License error: %v", err)
		return
	}
	resp, err := c.relay.Do(req)
	if err != nil {
		ctx.String(http.StatusInternalServerError, "License error: %v", err)
		return
	}
	defer resp.Body.Close()

	body, err := httpclient.ReadBody(resp)
	if err != nil {
		ctx.String(http.StatusInternalServerError, "License error: %v", err)
		return
	}

	ctx.Header("Access-Control-Allow-Origin", "*")
	ctx.Header("Access-Control-Allow-Headers", "*")
	ctx.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	ctx.Data(resp.StatusCode, contentType, body)
}

// getDecryptSegment fetches an encrypted fMP4 segment and returns it
// decrypted, fused with its init segment.
func (c *Config) getDecryptSegment(ctx *gin.Context) {
	segURL := ctx.Query("url")
	initURL := ctx.Query("init_url")
	key := ctx.Query("key")
	keyID := ctx.Query("key_id")
	if segURL == "" || key == "" || keyID == "" {
		ctx.String(http.StatusBadRequest, "Missing url, key, or key_id")
		return
	}

	headers := queryHeaders(ctx, true)

	var initContent []byte
	if initURL != "" {
		if cached, ok := c.initCache.Get(initURL); ok {
			initContent = cached
		} else {
			resp, err := c.relay.Get(ctx.Request.Context(), initURL, headers)
			if err != nil {
				ctx.Status(http.StatusBadGateway)
				return
			}
			body, readErr := httpclient.ReadBody(resp)
			resp.Body.Close()
			if readErr != nil || resp.StatusCode != http.StatusOK {
				utils.ErrorLog("Failed to fetch init segment: status=%d err=%v", resp.StatusCode, readErr)
				ctx.Status(http.StatusBadGateway)
				return
			}
			initContent = body
			c.initCache.Add(initURL, body)
		}
	}

	resp, err := c.relay.Get(ctx.Request.Context(), segURL, headers)
	if err != nil {
		ctx.Status(http.StatusBadGateway)
		return
	}
	segContent, readErr := httpclient.ReadBody(resp)
	resp.Body.Close()
	if readErr != nil || resp.StatusCode != http.StatusOK {
		utils.ErrorLog("Failed to fetch segment: status=%d err=%v", resp.StatusCode, readErr)
		ctx.Status(http.StatusBadGateway)
		return
	}

	keyBytes, err := decrypt.ParseKey(key)
	if err != nil {
		ctx.String(http.StatusBadRequest, "Decryption failed: %v", err)
		return
	}

	decrypted, err := decrypt.Segment(initContent, segContent, keyBytes)
	if err != nil {
		utils.ErrorLog("Decryption error: %v", err)
		ctx.String(http.StatusInternalServerError, "Decryption failed: %v", err)
		return
	}

	ctx.Header("Access-Control-Allow-Origin", "*")
	ctx.Data(http.StatusOK, "video/mp4", decrypted)
}

// getPlaylist streams the combined playlist from the configured source
// definitions.
func (c *Config) getPlaylist(ctx *gin.Context) {
	urlParam := strings.TrimSpace(ctx.Query("url"))
	if urlParam == "" {
		ctx.String(http.StatusBadRequest, "Missing 'url' parameter")
		return
	}

	defs := playlist.ParseDefinitions(urlParam)
	if len(defs) == 0 {
		ctx.String(http.StatusBadRequest, "No valid playlist definition found")
		return
	}

	ctx.Header("Content-Type", "application/vnd.apple.mpegurl")
	ctx.Header("Content-Disposition", `attachment; filename="playlist.m3u"`)
	ctx.Header("Access-Control-Allow-Origin", "*")
	ctx.Status(http.StatusOK)

	if err := c.builder.Combine(ctx.Request.Context(), defs, proxyBase(ctx), ctx.Query("api_password"), ctx.Writer); err != nil {
		utils.ErrorLog("Playlist handler failed: %v", err)
	}
}

// getExtractor resolves a channel URL and returns the stream details
// without relaying the stream itself.
func (c *Config) getExtractor(ctx *gin.Context) {
	rawURL := ctx.Query("url")
	if rawURL == "" {
		rawURL = ctx.Query("d")
	}
	if rawURL == "" {
		c.extractorHelp(ctx)
		return
	}

	targetURL := decodeTargetURL(rawURL)
	hostParam := ctx.Query("host")
	redirectStream := strings.EqualFold(ctx.Query("redirect_stream"), "true")

	utils.InfoLog("Extracting: %s (host: %s, redirect: %v)", utils.MaskURL(targetURL), hostParam, redirectStream)

	ext := c.registry.Lookup(targetURL, clientHeaders(ctx), hostParam)
	result, err := ext.Extract(ctx.Request.Context(), targetURL, false)
	if err != nil {
		if isTemporaryError(err) {
			utils.WarnLog("Extractor request failed (expected error): %v", err)
		} else {
			utils.ErrorLog("Error in extractor request: %v", err)
		}
		ctx.String(http.StatusInternalServerError, "%v", err)
		return
	}

	endpoint := "/proxy/hls/manifest.m3u8"
	if result.EndpointType == extractor.EndpointStream ||
		containsAnyOf(result.DestinationURL, ".mp4", ".mkv", ".avi") {
		endpoint = "/proxy/stream"
	} else if strings.Contains(result.DestinationURL, ".mpd") {
		endpoint = "/proxy/mpd/manifest.m3u8"
	}

	headerParams := rewrite.EncodeHeaderParams(result.RequestHeaders)
	if pw := ctx.Query("api_password"); pw != "" {
		headerParams += "&api_password=" + url.QueryEscape(pw)
	}
	proxyURL := proxyBase(ctx) + endpoint + "?d=" + url.QueryEscape(result.DestinationURL) + headerParams

	if redirectStream {
		utils.DebugLog("Redirecting to: %s", utils.MaskURL(proxyURL))
		ctx.Redirect(http.StatusFound, proxyURL)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"destination_url": result.DestinationURL,
		"request_headers": result.RequestHeaders,
		"endpoint_type":   result.EndpointType,
		"proxy_url":       proxyURL,
		"query_params":    gin.H{},
	})
}

func (c *Config) extractorHelp(ctx *gin.Context) {
	base := proxyBase(ctx)
	ctx.JSON(http.StatusOK, gin.H{
		"message": "EasyProxy Extractor API",
		"usage": gin.H{
			"endpoint": "/extractor/video",
			"parameters": gin.H{
				"url":             "(Required) URL to extract. Supports plain text, URL encoded, or Base64.",
				"host":            "(Optional) Force specific extractor (bypass auto-detect).",
				"redirect_stream": "(Optional) 'true' to redirect to stream, 'false' for JSON.",
				"api_password":    "(Optional) API Password if configured.",
			},
		},
		"available_hosts": extractor.Names(),
		"examples": []string{
			base + "/extractor/video?url=https://vavoo.to/channel/123",
			base + "/extractor/video?host=vavoo&url=https://custom-link.com",
			base + "/extractor/video?url=BASE64_STRING",
		},
	})
}

func containsAnyOf(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func firstNonEmpty(pools ...[]string) []string {
	for _, p := range pools {
		if len(p) > 0 {
			return p
		}
	}
	return nil
}
