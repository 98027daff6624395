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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/lucasduport/easyproxy/pkg/config"
)

func testServer(t *testing.T, apiPassword string) (*Config, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	conf := &config.ProxyConfig{
		HostConfig:  &config.HostConfiguration{Hostname: "127.0.0.1", Port: 7860},
		APIPassword: config.CredentialString(apiPassword),
	}
	c, err := NewServer(conf)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.shutdown)

	router := gin.New()
	c.routes(router)
	return c, router
}

func doRequest(router *gin.Engine, method, target string, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestAuthenticate(t *testing.T) {
	_, router := testServer(t, "secret")

	w := doRequest(router, http.MethodGet, "/proxy/hls/manifest.m3u8", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing password: status = %d, want 401", w.Code)
	}

	w = doRequest(router, http.MethodGet, "/proxy/hls/manifest.m3u8?api_password=wrong", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", w.Code)
	}

	// A correct password passes auth and fails on the missing target URL.
	w = doRequest(router, http.MethodGet, "/proxy/hls/manifest.m3u8?api_password=secret", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("valid password: status = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/proxy/hls/manifest.m3u8", nil)
	req.Header.Set("x-api-password", "secret")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("header password: status = %d, want 400", rec.Code)
	}
}

func TestAuthDisabledWithoutPassword(t *testing.T) {
	_, router := testServer(t, "")
	w := doRequest(router, http.MethodGet, "/proxy/hls/manifest.m3u8", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 (auth disabled, missing url)", w.Code)
	}
}

func TestAPIInfoOpen(t *testing.T) {
	_, router := testServer(t, "secret")
	w := doRequest(router, http.MethodGet, "/api/info", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var info map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &info); err != nil {
		t.Fatal(err)
	}
	if info["proxy"] != "EasyProxy" {
		t.Errorf("proxy = %v", info["proxy"])
	}
	if _, ok := info["extractors_loaded"]; !ok {
		t.Error("missing extractors_loaded")
	}
	if id, ok := info["instance_id"].(string); !ok || id == "" {
		t.Errorf("instance_id = %v", info["instance_id"])
	}
}

func TestClearKeyLicenseEndpoint(t *testing.T) {
	_, router := testServer(t, "")
	w := doRequest(router, http.MethodGet,
		"/license?clearkey=00112233445566778899aabbccddeeff:ffeeddccbbaa99887766554433221100", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var jwk struct {
		Keys []struct {
			Kty  string `json:"kty"`
			K    string `json:"k"`
			Kid  string `json:"kid"`
			Type string `json:"type"`
		} `json:"keys"`
		Type string `json:"type"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &jwk); err != nil {
		t.Fatal(err)
	}
	if len(jwk.Keys) != 1 || jwk.Type != "temporary" {
		t.Fatalf("unexpected license shape: %s", w.Body.String())
	}
	if jwk.Keys[0].Kty != "oct" {
		t.Errorf("kty = %q", jwk.Keys[0].Kty)
	}
	if jwk.Keys[0].Kid != "ABEiM0RVZneImaq7zN3u_w" {
		t.Errorf("kid = %q", jwk.Keys[0].Kid)
	}
	if jwk.Keys[0].K != "_-7dzLuqmYh3ZlVEMyIRAA" {
		t.Errorf("k = %q", jwk.Keys[0].K)
	}
}

func TestClearKeyLicenseBadFormat(t *testing.T) {
	_, router := testServer(t, "")
	for _, q := range []string{
		"/license?clearkey=nocolon",
		"/license?clearkey=zz:zz",
	} {
		if w := doRequest(router, http.MethodGet, q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestGenerateURLs(t *testing.T) {
	_, router := testServer(t, "secret")

	body := `{"api_password":"secret","urls":[{"destination_url":"https://cdn.example.com/v.mp4","request_headers":{"referer":"https://site.example.com/"}}]}`
	w := doRequest(router, http.MethodPost, "/generate_urls", body)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		URLs []string `json:"urls"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.URLs) != 1 {
		t.Fatalf("urls = %v", resp.URLs)
	}
	u := resp.URLs[0]
	for _, want := range []string{
		"/proxy/stream?",
		"d=" + url.QueryEscape("https://cdn.example.com/v.mp4"),
		"h_referer=" + url.QueryEscape("https://site.example.com/"),
		"api_password=secret",
	} {
		if !strings.Contains(u, want) {
			t.Errorf("generated URL missing %q: %s", want, u)
		}
	}

	w = doRequest(router, http.MethodPost, "/generate_urls", `{"api_password":"wrong","urls":[]}`)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong body password: status = %d, want 401", w.Code)
	}
}

func TestProxyRewritesHLSManifest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:4.0,\nsegment1.ts\n#EXTINF:4.0,\nsegment2.ts\n")
	}))
	defer upstream.Close()

	_, router := testServer(t, "")
	target := "/proxy/hls/manifest.m3u8?url=" + url.QueryEscape(upstream.URL+"/live/index.m3u8")
	w := doRequest(router, http.MethodGet, target, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	got := w.Body.String()
	if !strings.Contains(got, "/proxy/hls/segment.ts?d=") {
		t.Errorf("segments not rewritten:\n%s", got)
	}
	if !strings.Contains(got, url.QueryEscape(upstream.URL+"/live/segment1.ts")) {
		t.Errorf("segment URL not resolved against the manifest:\n%s", got)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "mpegurl") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestSegmentRelay(t *testing.T) {
	payload := "SEGMENTDATA"
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/media/seg1.ts" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "video/mp2t")
		fmt.Fprint(w, payload)
	}))
	defer upstream.Close()

	_, router := testServer(t, "")
	target := "/segment/seg1.ts?base_url=" + url.QueryEscape(upstream.URL+"/media/seg1.ts")
	w := doRequest(router, http.MethodGet, target, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if w.Body.String() != payload {
		t.Errorf("body = %q, want %q", w.Body.String(), payload)
	}
}

func TestSegmentMissingBaseURL(t *testing.T) {
	_, router := testServer(t, "")
	if w := doRequest(router, http.MethodGet, "/segment/seg1.ts", ""); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestOptionsPreflights(t *testing.T) {
	_, router := testServer(t, "secret")
	w := doRequest(router, http.MethodOptions, "/proxy/hls/manifest.m3u8", "")
	if w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS allow origin")
	}
}
