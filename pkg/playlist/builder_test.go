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

package playlist

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
)

func TestParseDefinitions(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []Definition
	}{
		{
			name: "plain url",
			raw:  "http://a/list.m3u",
			want: []Definition{{URL: "http://a/list.m3u"}},
		},
		{
			name: "multiple with options",
			raw:  "http://a/x.m3u|sort=true;http://b/y.m3u|noproxy=true|sort=false",
			want: []Definition{
				{URL: "http://a/x.m3u", Sort: true},
				{URL: "http://b/y.m3u", NoProxy: true},
			},
		},
		{
			name: "legacy opaque form",
			raw:  "opaque&http://a/list.m3u",
			want: []Definition{{URL: "http://a/list.m3u"}},
		},
		{
			name: "empty entries skipped",
			raw:  ";;http://a/list.m3u;",
			want: []Definition{{URL: "http://a/list.m3u"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseDefinitions(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseDefinitions(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestRewriteLinesProxiesChannels(t *testing.T) {
	lines := []string{
		"#EXTINF:-1,Channel One",
		"https://cdn.example.com/one.m3u8",
	}
	out := rewriteLines(lines, "http://proxy.local", "secret")
	if len(out) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(out), out)
	}
	want := "http://proxy.local/proxy/manifest.m3u8?url=https%3A%2F%2Fcdn.example.com%2Fone.m3u8&api_password=secret"
	if out[1] != want {
		t.Errorf("rewritten URL = %q, want %q", out[1], want)
	}
}

func TestRewriteLinesKodipropClearkey(t *testing.T) {
	lines := []string{
		"#KODIPROP:inputstream.adaptive.license_type=org.w3.clearkey",
		"#KODIPROP:inputstream.adaptive.license_key=00112233445566778899aabbccddeeff:ffeeddccbbaa99887766554433221100",
		"#EXTINF:-1,DRM Channel",
		"https://cdn.example.com/drm.mpd",
		"#EXTINF:-1,Next Channel",
		"https://cdn.example.com/next.m3u8",
	}
	out := rewriteLines(lines, "http://proxy.local", "")

	for _, line := range out {
		if strings.HasPrefix(line, "#KODIPROP:") {
			t.Errorf("KODIPROP tags must be stripped, found %q", line)
		}
	}
	if !strings.Contains(out[1], "&clearkey=00112233445566778899aabbccddeeff:ffeeddccbbaa99887766554433221100") {
		t.Errorf("first channel missing clearkey parameter: %q", out[1])
	}
	if strings.Contains(out[3], "clearkey") {
		t.Errorf("clearkey must reset after use, leaked into %q", out[3])
	}
}

func TestRewriteLinesIgnoresPlaceholderKey(t *testing.T) {
	lines := []string{
		"#KODIPROP:inputstream.adaptive.license_key=0000",
		"#EXTINF:-1,Channel",
		"https://cdn.example.com/one.m3u8",
	}
	out := rewriteLines(lines, "http://proxy.local", "")
	for _, line := range out {
		if strings.Contains(line, "clearkey") {
			t.Errorf("placeholder key should not produce a clearkey parameter: %q", line)
		}
	}
}

func TestRewriteLinesVLCOptHeaders(t *testing.T) {
	lines := []string{
		"#EXTVLCOPT:http-user-agent=CustomAgent/1.0",
		"#EXTVLCOPT:http-header=Referer: https://ref.example.com/",
		"#EXTINF:-1,Channel",
		"https://cdn.example.com/one.m3u8",
	}
	out := rewriteLines(lines, "http://proxy.local", "")

	if out[0] != lines[0] || out[1] != lines[1] {
		t.Error("EXTVLCOPT tags must stay in the output")
	}
	channel := out[3]
	if !strings.Contains(channel, "&h_Referer=https%3A%2F%2Fref.example.com%2F") {
		t.Errorf("missing referer header param: %q", channel)
	}
	if !strings.Contains(channel, "&h_User-Agent=CustomAgent%2F1.0") {
		t.Errorf("missing user agent header param: %q", channel)
	}
}

func TestRewriteLinesEXTHTTPHeaders(t *testing.T) {
	lines := []string{
		`#EXTHTTP:{"Origin":"https://o.example.com"}`,
		"#EXTINF:-1,Channel",
		"https://cdn.example.com/one.m3u8",
	}
	out := rewriteLines(lines, "http://proxy.local", "")
	if out[0] != lines[0] {
		t.Error("EXTHTTP tag must stay in the output")
	}
	if !strings.Contains(out[2], "&h_Origin=https%3A%2F%2Fo.example.com") {
		t.Errorf("missing EXTHTTP header param: %q", out[2])
	}
}

func TestRewriteLinesPlutoPassthrough(t *testing.T) {
	lines := []string{
		"#EXTINF:-1,Pluto Channel",
		"https://service.pluto.tv/stitch/hls/channel/xyz/master.m3u8",
	}
	out := rewriteLines(lines, "http://proxy.local", "secret")
	if out[1] != lines[1] {
		t.Errorf("pluto.tv URLs must pass through untouched, got %q", out[1])
	}
}

func TestParseItemsAndNames(t *testing.T) {
	lines := []string{
		"#EXTM3U",
		"#EXTINF:-1 tvg-id=\"one\",Channel One",
		"http://a/one.m3u8",
		"#EXTVLCOPT:http-user-agent=X",
		"#EXTINF:-1,Channel Two",
		"http://a/two.m3u8",
	}
	items := parseItems(lines)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if got := itemName(items[0]); got != "Channel One" {
		t.Errorf("itemName = %q, want %q", got, "Channel One")
	}
	if len(items[1]) != 3 {
		t.Errorf("second item should carry its VLC option line, got %v", items[1])
	}
}

func TestCanonicalHeaderName(t *testing.T) {
	tests := map[string]string{
		"user-agent": "User-Agent",
		"referrer":   "Referrer",
		"ORIGIN":     "Origin",
	}
	for in, want := range tests {
		if got := canonicalHeaderName(in); got != want {
			t.Errorf("canonicalHeaderName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCombineSortsAndReportsErrors(t *testing.T) {
	sorted := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:-1,Zebra TV\nhttp://cdn/z.m3u8\n#EXTINF:-1,Alpha TV\nhttp://cdn/a.m3u8\n")
	}))
	defer sorted.Close()
	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:-1,Plain TV\nhttp://cdn/p.m3u8\n")
	}))
	defer plain.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer broken.Close()

	b, err := NewBuilder()
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	defs := []Definition{
		{URL: sorted.URL, Sort: true},
		{URL: plain.URL},
		{URL: broken.URL},
	}
	var out strings.Builder
	if err := b.Combine(context.Background(), defs, "http://proxy.local", "", &out); err != nil {
		t.Fatal(err)
	}
	got := out.String()

	alpha := strings.Index(got, "Alpha TV")
	zebra := strings.Index(got, "Zebra TV")
	plainIdx := strings.Index(got, "Plain TV")
	if alpha < 0 || zebra < 0 || plainIdx < 0 {
		t.Fatalf("missing channels in output:\n%s", got)
	}
	if !(alpha < zebra && zebra < plainIdx) {
		t.Errorf("sorted source must flush alphabetically before the next source:\n%s", got)
	}
	if !strings.HasPrefix(got, "#EXTM3U") {
		t.Errorf("combined output must start with the M3U header:\n%s", got)
	}
	if !strings.Contains(got, "# ERROR processing playlist "+broken.URL) {
		t.Errorf("failed source must leave an error marker:\n%s", got)
	}
	if !strings.Contains(got, "/proxy/manifest.m3u8?url=http%3A%2F%2Fcdn%2Fp.m3u8") {
		t.Errorf("channel URLs must route through the proxy:\n%s", got)
	}
}

func TestCombineNoProxyLeavesURLs(t *testing.T) {
	src := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:-1,Raw TV\nhttp://cdn/raw.m3u8\n")
	}))
	defer src.Close()

	b, err := NewBuilder()
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	var out strings.Builder
	err = b.Combine(context.Background(), []Definition{{URL: src.URL, NoProxy: true}}, "http://proxy.local", "", &out)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "\nhttp://cdn/raw.m3u8") {
		t.Errorf("noproxy source URLs must stay untouched:\n%s", out.String())
	}
}
