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
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/lucasduport/easyproxy/pkg/config"
)

func TestRegistryKeyFor(t *testing.T) {
	r := NewRegistry(&config.ProxyConfig{})
	tests := []struct {
		url  string
		host string
		want string
	}{
		{url: "https://vavoo.to/play/12345", want: "vavoo"},
		{url: "https://daddylive.sx/watch/stream-123.php", want: "dlhd"},
		{url: "https://some.mirror.com/cast/stream-55.php", want: "dlhd"},
		{url: "https://vixsrc.to/movie/786", want: "vixsrc"},
		{url: "https://vixsrc.to/about", want: "hls_generic"},
		{url: "https://sportzonline.st/channels/bra/br1.php", want: "sportsonline"},
		{url: "https://mixdrop.ps/e/abcdef", want: "mixdrop"},
		{url: "https://voe.sx/e/abcdef", want: "voe"},
		{url: "https://streamtape.com/e/abcdef", want: "streamtape"},
		{url: "https://orionoid.com/stream/xyz", want: "orion"},
		{url: "https://cdn.example.com/live/master.m3u8", want: "hls_generic"},
		{url: "https://anything.example.com/", host: "daddylive", want: "dlhd"},
		{url: "https://anything.example.com/", host: "sportzonline", want: "sportsonline"},
		{url: "https://anything.example.com/", host: "voe", want: "voe"},
	}
	for _, tt := range tests {
		if got := r.keyFor(tt.url, tt.host); got != tt.want {
			t.Errorf("keyFor(%q, %q) = %q, want %q", tt.url, tt.host, got, tt.want)
		}
	}
}

func TestRegistrySharesInstances(t *testing.T) {
	r := NewRegistry(&config.ProxyConfig{})
	defer r.CloseAll()

	a := r.Lookup("https://vavoo.to/play/1", nil, "")
	b := r.Lookup("https://vavoo.to/play/2", nil, "")
	if a != b {
		t.Error("extractors for the same host must be shared")
	}

	g1 := r.Lookup("https://cdn.example.com/a.m3u8", nil, "")
	g2 := r.Lookup("https://cdn.example.com/a.m3u8", nil, "")
	if g1 == g2 {
		t.Error("generic extractors carry per request headers and must be fresh")
	}
	g1.Close()
	g2.Close()
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != 8 {
		t.Fatalf("expected 8 selectable extractors, got %d: %v", len(names), names)
	}
	for _, want := range []string{"dlhd", "vavoo", "vixsrc", "orion"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("missing extractor name %q", want)
		}
	}
}

func TestNormalizeMixdropURL(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://mixdrop.club/e/abc/2xyz", "https://mixdrop.ps/e/abc"},
		{"https://mixdrop.ag/e/abc", "https://mixdrop.ps/e/abc"},
		{"https://mixdrop.to/e/abc", "https://mixdrop.ps/e/abc"},
		{"https://mixdrop.co/e/abc", "https://mixdrop.ps/e/abc"},
		{"https://mdy48tn97.com/e/abc", "https://mixdrop.ps/e/abc"},
		{"https://mixdrop.ps/e/abc", "https://mixdrop.ps/e/abc"},
	}
	for _, tt := range tests {
		if got := normalizeMixdropURL(tt.in); got != tt.want {
			t.Errorf("normalizeMixdropURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDLHDChannelID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://daddylive.sx/premium123/mono.m3u8", "123"},
		{"https://daddylive.sx/watch/stream-456.php", "456"},
		{"https://daddylive.sx/cast/stream-99.php", "99"},
		{"https://mirror.example.com/watch.php?id=789", "789"},
		{"https://example.com/embed/stream-12.php", "12"},
		{"https://example.com/video.mp4", ""},
	}
	for _, tt := range tests {
		if got := dlhdChannelID(tt.in); got != tt.want {
			t.Errorf("dlhdChannelID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnpackJS(t *testing.T) {
	packed := `eval(function(p,a,c,k,e,d){e=function(c){return c};if(!''.replace(/^/,String)){while(c--){d[c]=k[c]||c}k=[function(e){return d[e]}];e=function(){return'\\w+'};c=1};while(c--){if(k[c]){p=p.replace(new RegExp('\\b'+e(c)+'\\b','g'),k[c])}}return p}('0 1("2")',10,3,'var|alert|hello'.split('|'),0,{}))`
	got, err := unpackJS(packed)
	if err != nil {
		t.Fatal(err)
	}
	want := `var alert("hello")`
	if got != want {
		t.Errorf("unpackJS = %q, want %q", got, want)
	}
}

func TestUnpackJSRejectsPlainScript(t *testing.T) {
	if _, err := unpackJS(`var player = {file: "x.m3u8"};`); err == nil {
		t.Error("expected error for non packed input")
	}
}

func TestIntToBase(t *testing.T) {
	tests := []struct {
		x, base int
		want    string
	}{
		{0, 36, "0"},
		{10, 36, "a"},
		{35, 36, "z"},
		{36, 36, "10"},
		{255, 16, "ff"},
		{7, 8, "7"},
	}
	for _, tt := range tests {
		if got := intToBase(tt.x, tt.base); got != tt.want {
			t.Errorf("intToBase(%d, %d) = %q, want %q", tt.x, tt.base, got, tt.want)
		}
	}
}

// voeEncode builds the obfuscated payload the way the player does, so
// the decoder can be tested against a known cleartext.
func voeEncode(payload string, junk []string) string {
	rot := func(s string) string {
		var b strings.Builder
		for _, r := range s {
			switch {
			case r > 64 && r < 91:
				r = (r-52)%26 + 65
			case r > 96 && r < 123:
				r = (r-84)%26 + 97
			}
			b.WriteRune(r)
		}
		return b.String()
	}

	inner := base64.StdEncoding.EncodeToString([]byte(payload))
	rev := []byte(inner)
	for i, j := 0, len(rev)-1; i < j; i, j = i+1, j-1 {
		rev[i], rev[j] = rev[j], rev[i]
	}
	for i := range rev {
		rev[i] += 3
	}
	outer := base64.StdEncoding.EncodeToString(rev)

	// Sprinkle junk sequences through the text.
	mid := len(outer) / 2
	salted := junk[0] + outer[:mid] + junk[1] + outer[mid:] + junk[0]
	return rot(salted)
}

func TestVoeDecode(t *testing.T) {
	const payload = `{"source":"https://delivery.example.com/master.m3u8"}`
	ct := voeEncode(payload, []string{"@$", "~#"})
	got, err := voeDecode(ct, `['@$','~#']`)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != payload {
		t.Errorf("voeDecode = %q, want %q", got, payload)
	}
}

func TestStreamtapeExtract(t *testing.T) {
	token := "id=abcdef&expires=1700000000&ip=AbCd&token=xyz"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><script>
document.getElementById('norobotlink').innerHTML = '%s';
document.getElementById('robotlink').innerHTML = '%s';
</script></html>`, token, token)
	}))
	defer srv.Close()

	s := NewStreamtape(nil)
	defer s.Close()

	res, err := s.Extract(context.Background(), srv.URL, false)
	if err != nil {
		t.Fatal(err)
	}
	want := "https://streamtape.com/get_video?" + token
	if res.DestinationURL != want {
		t.Errorf("DestinationURL = %q, want %q", res.DestinationURL, want)
	}
	if res.EndpointType != EndpointStream {
		t.Errorf("EndpointType = %q, want %q", res.EndpointType, EndpointStream)
	}
	if res.RequestHeaders["referer"] != srv.URL {
		t.Errorf("referer = %q", res.RequestHeaders["referer"])
	}
}

// newDLHDTestSite serves the full daddylive page chain: channel page,
// player page, token iframe, auth endpoint and server lookup. Every
// iframe hit counts one handshake. When gate is non-nil the channel
// page blocks until it closes.
func newDLHDTestSite(t *testing.T, handshakes *int32, gate chan struct{}) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("/watch/stream-42.php", func(w http.ResponseWriter, r *http.Request) {
		if gate != nil {
			<-gate
		}
		fmt.Fprint(w, `<button data-url="/player/stream-42.php">Player 1</button>`)
	})
	mux.HandleFunc("/player/stream-42.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<iframe src="/embed/42"></iframe>`)
	})
	mux.HandleFunc("/embed/42", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(handshakes, 1)
		fmt.Fprint(w, `<script>
const CHANNEL_KEY = "premium42";
const AUTH_TOKEN = "tok123";
const AUTH_COUNTRY = "US";
const AUTH_TS = "1700000000";
const AUTH_EXPIRY = "1800000000";
</script>`)
	})
	mux.HandleFunc("/auth2.php", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"valid":true}`)
	})
	mux.HandleFunc("/server_lookup.js", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"server_key":"wind"}`)
	})
	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// newDLHDAgainst points the extractor's base domain and auth endpoint
// at the test site for the duration of the test.
func newDLHDAgainst(t *testing.T, srv *httptest.Server) *DLHD {
	t.Helper()
	oldBases, oldAuth := dlhdBaseDomains, dlhdAuthURL
	dlhdBaseDomains = []string{srv.URL + "/"}
	dlhdAuthURL = srv.URL + "/auth2.php"
	t.Cleanup(func() {
		dlhdBaseDomains, dlhdAuthURL = oldBases, oldAuth
	})
	d := NewDLHD(nil, t.TempDir())
	t.Cleanup(d.Close)
	return d
}

func TestDLHDConcurrentExtractionsCoalesce(t *testing.T) {
	var handshakes int32
	gate := make(chan struct{})
	srv := newDLHDTestSite(t, &handshakes, gate)
	d := newDLHDAgainst(t, srv)

	channelURL := srv.URL + "/watch/stream-42.php"
	var started, done sync.WaitGroup
	results := make([]*Result, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i], errs[i] = d.Extract(context.Background(), channelURL, false)
		}(i)
	}
	started.Wait()
	close(gate)
	done.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("extraction %d failed: %v", i, errs[i])
		}
	}
	if got := atomic.LoadInt32(&handshakes); got != 1 {
		t.Errorf("handshakes = %d, want 1", got)
	}
	want := "https://windnew.newkso.ru/wind/premium42/mono.css"
	for i, res := range results {
		if res.DestinationURL != want {
			t.Errorf("result %d DestinationURL = %q, want %q", i, res.DestinationURL, want)
		}
		if res.RequestHeaders["Authorization"] != "Bearer tok123" {
			t.Errorf("result %d Authorization = %q", i, res.RequestHeaders["Authorization"])
		}
	}
}

func TestDLHDStaleCacheEvictedAndReExtracted(t *testing.T) {
	var handshakes int32
	srv := newDLHDTestSite(t, &handshakes, nil)
	d := newDLHDAgainst(t, srv)

	stale := &Result{
		DestinationURL: srv.URL + "/gone/mono.m3u8",
		RequestHeaders: map[string]string{"User-Agent": dlhdUserAgent},
		EndpointType:   EndpointHLSManifest,
	}
	d.mu.Lock()
	d.cache["42"] = stale
	d.mu.Unlock()

	res, err := d.Extract(context.Background(), srv.URL+"/watch/stream-42.php", false)
	if err != nil {
		t.Fatal(err)
	}
	want := "https://windnew.newkso.ru/wind/premium42/mono.css"
	if res.DestinationURL != want {
		t.Errorf("DestinationURL = %q, want %q", res.DestinationURL, want)
	}
	if got := atomic.LoadInt32(&handshakes); got != 1 {
		t.Errorf("handshakes = %d, want 1", got)
	}
	if cached := d.cachedResult("42"); cached == nil || cached.DestinationURL != want {
		t.Errorf("cache not refreshed, got %+v", cached)
	}
}

func TestGenericDropsProxyRevealingHeaders(t *testing.T) {
	g := NewGeneric(map[string]string{
		"X-Forwarded-For": "203.0.113.7",
		"X-Real-IP":       "203.0.113.7",
		"Forwarded":       "for=203.0.113.7",
		"Via":             "1.1 cache",
		"Cookie":          "session=abc",
		"Authorization":   "Bearer tok",
	})
	res, err := g.Extract(context.Background(), "https://cdn.example.com/live/master.m3u8", false)
	if err != nil {
		t.Fatal(err)
	}
	for name := range res.RequestHeaders {
		switch strings.ToLower(name) {
		case "x-forwarded-for", "x-real-ip", "forwarded", "via":
			t.Errorf("header %s must not be forwarded", name)
		}
	}
	if res.RequestHeaders["Cookie"] != "session=abc" {
		t.Errorf("Cookie = %q", res.RequestHeaders["Cookie"])
	}
	if res.RequestHeaders["Authorization"] != "Bearer tok" {
		t.Errorf("Authorization = %q", res.RequestHeaders["Authorization"])
	}
}

func TestErrorTemporary(t *testing.T) {
	err := Errorf("upstream answered 403 forbidden")
	if !IsTemporary(err) {
		t.Error("403 errors should count as temporary")
	}
	if IsTemporary(Errorf("page layout changed")) {
		t.Error("parse failures are not temporary")
	}
}
