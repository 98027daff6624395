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

package rewrite

import (
	"strings"
	"testing"
)

const sampleMPD = `<?xml version="1.0" encoding="UTF-8"?>
<MPD type="static" mediaPresentationDuration="PT60S">
  <Period>
    <AdaptationSet mimeType="video/mp4">
      <ContentProtection schemeIdUri="urn:uuid:edef8ba9-79d6-4ace-a3c8-27dcd51d21ed"/>
      <SegmentTemplate timescale="90000" media="video_$Number$.m4s" initialization="video_init.mp4" startNumber="1" duration="360000"/>
      <Representation id="video1" bandwidth="2000000" width="1280" height="720"/>
    </AdaptationSet>
  </Period>
</MPD>`

func TestMPDSegmentTemplateRewrite(t *testing.T) {
	out := MPD(sampleMPD, MPDOptions{
		ProxyBase:   "http://proxy.local",
		ManifestURL: "https://cdn.example.com/dash/live.mpd",
	})

	if !strings.Contains(out, `media="http://proxy.local/proxy/mpd/manifest.m3u8?d=https%3A%2F%2Fcdn.example.com%2Fdash%2Fvideo_%24Number%24.m4s"`) {
		t.Errorf("media attribute not rewritten:\n%s", out)
	}
	if !strings.Contains(out, "video_init.mp4") || !strings.Contains(out, "initialization=\"http://proxy.local/proxy/mpd/manifest.m3u8?d=") {
		t.Errorf("initialization attribute not rewritten:\n%s", out)
	}
}

func TestMPDClearKeyInjection(t *testing.T) {
	out := MPD(sampleMPD, MPDOptions{
		ProxyBase:   "http://proxy.local",
		ManifestURL: "https://cdn.example.com/dash/live.mpd",
		ClearKey:    "00112233445566778899aabbccddeeff:ffeeddccbbaa99887766554433221100",
	})

	if !strings.Contains(out, `schemeIdUri="urn:uuid:e2719d58-a985-b3c9-781a-007147f192ec"`) {
		t.Errorf("ClearKey ContentProtection not injected:\n%s", out)
	}
	if !strings.Contains(out, `cenc:default_KID="00112233-4455-6677-8899-aabbccddeeff"`) {
		t.Errorf("default_KID not set in GUID form:\n%s", out)
	}
	if !strings.Contains(out, "http://proxy.local/license?clearkey=00112233445566778899aabbccddeeff:ffeeddccbbaa99887766554433221100") {
		t.Errorf("license URL not injected:\n%s", out)
	}
	// The Widevine system UUID must have been stripped.
	if strings.Contains(out, "edef8ba9-79d6-4ace-a3c8-27dcd51d21ed") {
		t.Errorf("competing DRM system survived:\n%s", out)
	}
}

func TestMPDMissingNamespaceIsAdded(t *testing.T) {
	bare := `<MPD type="static"><Period><AdaptationSet><Representation id="r1"/></AdaptationSet></Period></MPD>`
	out := MPD(bare, MPDOptions{ProxyBase: "http://p", ManifestURL: "https://h/x.mpd"})
	if !strings.Contains(out, `xmlns="urn:mpeg:dash:schema:mpd:2011"`) {
		t.Errorf("missing xmlns not injected:\n%s", out)
	}
}

func TestMPDInvalidManifestReturnedUnchanged(t *testing.T) {
	broken := "not xml at all"
	if out := MPD(broken, MPDOptions{ProxyBase: "http://p"}); out != broken {
		t.Errorf("broken manifest should pass through, got %q", out)
	}
}

func TestMPDBaseURLRewrite(t *testing.T) {
	manifest := `<MPD xmlns="urn:mpeg:dash:schema:mpd:2011" type="static">
  <BaseURL>https://media.example.com/content/</BaseURL>
  <Period><AdaptationSet><Representation id="r1"/></AdaptationSet></Period>
</MPD>`
	out := MPD(manifest, MPDOptions{
		ProxyBase:   "http://proxy.local",
		ManifestURL: "https://cdn.example.com/live.mpd",
	})
	if !strings.Contains(out, "http://proxy.local/proxy/mpd/manifest.m3u8?d=https%3A%2F%2Fmedia.example.com%2Fcontent%2F") {
		t.Errorf("BaseURL not rewritten:\n%s", out)
	}
}
