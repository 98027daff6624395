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
	"encoding/xml"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/lucasduport/easyproxy/pkg/utils"
)

// Converter translates DASH manifests into HLS playlists on the fly,
// so HLS-only players can consume DASH sources through the proxy. Now
// is swappable so live window math is testable.
type Converter struct {
	Now func() time.Time
}

// NewConverter builds a converter on the wall clock.
func NewConverter() *Converter {
	return &Converter{Now: time.Now}
}

type mpdManifest struct {
	Type                  string      `xml:"type,attr"`
	AvailabilityStartTime string      `xml:"availabilityStartTime,attr"`
	BaseURL               string      `xml:"BaseURL"`
	Periods               []mpdPeriod `xml:"Period"`
}

type mpdPeriod struct {
	AdaptationSets []mpdAdaptationSet `xml:"AdaptationSet"`
}

type mpdAdaptationSet struct {
	MimeType        string              `xml:"mimeType,attr"`
	ContentType     string              `xml:"contentType,attr"`
	Lang            string              `xml:"lang,attr"`
	BaseURL         string              `xml:"BaseURL"`
	SegmentTemplate *mpdSegmentTemplate `xml:"SegmentTemplate"`
	Representations []mpdRepresentation `xml:"Representation"`
}

type mpdRepresentation struct {
	ID              string              `xml:"id,attr"`
	Bandwidth       string              `xml:"bandwidth,attr"`
	Width           string              `xml:"width,attr"`
	Height          string              `xml:"height,attr"`
	FrameRate       string              `xml:"frameRate,attr"`
	Codecs          string              `xml:"codecs,attr"`
	MimeType        string              `xml:"mimeType,attr"`
	BaseURL         string              `xml:"BaseURL"`
	SegmentTemplate *mpdSegmentTemplate `xml:"SegmentTemplate"`
}

type mpdSegmentTemplate struct {
	Timescale      string              `xml:"timescale,attr"`
	Initialization string              `xml:"initialization,attr"`
	Media          string              `xml:"media,attr"`
	StartNumber    string              `xml:"startNumber,attr"`
	Duration       string              `xml:"duration,attr"`
	Timeline       *mpdSegmentTimeline `xml:"SegmentTimeline"`
}

type mpdSegmentTimeline struct {
	Segments []mpdTimelineS `xml:"S"`
}

type mpdTimelineS struct {
	T string `xml:"t,attr"`
	D string `xml:"d,attr"`
	R string `xml:"r,attr"`
}

func parseMPD(manifest string) (*mpdManifest, error) {
	var mpd mpdManifest
	if err := xml.Unmarshal([]byte(manifest), &mpd); err != nil {
		return nil, err
	}
	return &mpd, nil
}

func (m *mpdManifest) adaptationSets() []mpdAdaptationSet {
	var out []mpdAdaptationSet
	for _, p := range m.Periods {
		out = append(out, p.AdaptationSets...)
	}
	return out
}

func (a *mpdAdaptationSet) isVideo() bool {
	if strings.Contains(a.MimeType, "video") || strings.Contains(a.ContentType, "video") {
		return true
	}
	for _, r := range a.Representations {
		if r.MimeType == "video/mp4" {
			return true
		}
	}
	return false
}

func (a *mpdAdaptationSet) isAudio() bool {
	if strings.Contains(a.MimeType, "audio") || strings.Contains(a.ContentType, "audio") {
		return true
	}
	for _, r := range a.Representations {
		if r.MimeType == "audio/mp4" {
			return true
		}
	}
	return false
}

// MasterPlaylist renders an HLS master playlist listing every DASH
// representation, video as variants and audio as a rendition group.
func (c *Converter) MasterPlaylist(manifest, proxyBase, originalURL, params string) string {
	mpd, err := parseMPD(manifest)
	if err != nil {
		utils.ErrorLog("Master playlist conversion failed: %v", err)
		return "#EXTM3U\n#EXT-X-ERROR: " + err.Error()
	}

	lines := []string{"#EXTM3U", "#EXT-X-VERSION:3"}
	encodedURL := url.QueryEscape(originalURL)
	mediaURL := func(repID string) string {
		return proxyBase + "/proxy/hls/manifest.m3u8?d=" + encodedURL + "&format=hls&rep_id=" + url.QueryEscape(repID) + params
	}

	const audioGroupID = "audio"
	hasAudio := false
	sets := mpd.adaptationSets()

	for _, set := range sets {
		if !set.isAudio() || set.isVideo() {
			continue
		}
		for _, rep := range set.Representations {
			bandwidth := rep.Bandwidth
			if bandwidth == "" {
				bandwidth = "128000"
			}
			lang := set.Lang
			if lang == "" {
				lang = "und"
			}
			defaultAttr := "NO"
			if !hasAudio {
				defaultAttr = "YES"
			}
			lines = append(lines, fmt.Sprintf(
				`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="%s",NAME="Audio %s (%s)",LANGUAGE="%s",DEFAULT=%s,AUTOSELECT=YES,URI="%s"`,
				audioGroupID, lang, bandwidth, lang, defaultAttr, mediaURL(rep.ID)))
			hasAudio = true
		}
	}

	for _, set := range sets {
		if !set.isVideo() {
			continue
		}
		for _, rep := range set.Representations {
			inf := "#EXT-X-STREAM-INF:BANDWIDTH=" + rep.Bandwidth
			if rep.Width != "" && rep.Height != "" {
				inf += ",RESOLUTION=" + rep.Width + "x" + rep.Height
			}
			if rep.FrameRate != "" {
				inf += ",FRAME-RATE=" + rep.FrameRate
			}
			if rep.Codecs != "" {
				inf += `,CODECS="` + rep.Codecs + `"`
			}
			if hasAudio {
				inf += `,AUDIO="` + audioGroupID + `"`
			}
			lines = append(lines, inf, mediaURL(rep.ID))
		}
	}

	return strings.Join(lines, "\n")
}

// MediaPlaylist renders the HLS media playlist for one representation.
// Live manifests get a sliding window anchored on the wall clock; VOD
// manifests enumerate segments and close with ENDLIST.
func (c *Converter) MediaPlaylist(manifest, repID, proxyBase, originalURL, params, clearkey string) string {
	mpd, err := parseMPD(manifest)
	if err != nil {
		utils.ErrorLog("Media playlist conversion failed: %v", err)
		return "#EXTM3U\n#EXT-X-ERROR: " + err.Error()
	}

	isLive := strings.EqualFold(mpd.Type, "dynamic")

	var rep *mpdRepresentation
	var set *mpdAdaptationSet
	for i := range mpd.Periods {
		for j := range mpd.Periods[i].AdaptationSets {
			a := &mpd.Periods[i].AdaptationSets[j]
			for k := range a.Representations {
				if a.Representations[k].ID == repID {
					rep = &a.Representations[k]
					set = a
					break
				}
			}
			if rep != nil {
				break
			}
		}
		if rep != nil {
			break
		}
	}
	if rep == nil {
		utils.ErrorLog("Representation %s not found in manifest", repID)
		return "#EXTM3U\n#EXT-X-ERROR: Representation not found"
	}

	var lines []string
	if isLive {
		lines = []string{"#EXTM3U", "#EXT-X-VERSION:7", "#EXT-X-START:TIME-OFFSET=-18.0,PRECISE=YES"}
	} else {
		lines = []string{"#EXTM3U", "#EXT-X-VERSION:7", "#EXT-X-PLAYLIST-TYPE:VOD"}
	}

	serverSideDecryption := false
	decryptionParams := ""
	if clearkey != "" {
		parts := strings.SplitN(clearkey, ":", 2)
		if len(parts) == 2 {
			serverSideDecryption = true
			decryptionParams = "&key=" + parts[1] + "&key_id=" + parts[0]
		} else {
			utils.ErrorLog("Bad clearkey parameter, expected kid:key")
		}
	}

	tmpl := rep.SegmentTemplate
	if tmpl == nil {
		tmpl = set.SegmentTemplate
	}
	if tmpl == nil {
		if !isLive {
			lines = append(lines, "#EXT-X-ENDLIST")
		}
		return strings.Join(lines, "\n")
	}

	timescale := atoiDefault(tmpl.Timescale, 1)
	startNumber := atoiDefault(tmpl.StartNumber, 1)
	duration := atoiDefault(tmpl.Duration, 0)

	baseURL := resolveSegmentBase(originalURL, mpd.BaseURL, set.BaseURL, rep.BaseURL)

	encodedInitURL := ""
	if tmpl.Initialization != "" {
		initName := strings.ReplaceAll(tmpl.Initialization, "$RepresentationID$", repID)
		encodedInitURL = url.QueryEscape(resolveAgainst(baseURL, initName))
		if !serverSideDecryption {
			lines = append(lines, `#EXT-X-MAP:URI="`+proxyBase+"/segment/init.mp4?base_url="+encodedInitURL+params+`"`)
		}
	}

	segmentLine := func(segName string, dur float64) []string {
		encodedSegURL := url.QueryEscape(resolveAgainst(baseURL, segName))
		extinf := fmt.Sprintf("#EXTINF:%.3f,", dur)
		if serverSideDecryption {
			return []string{extinf, proxyBase + "/decrypt/segment.mp4?url=" + encodedSegURL +
				"&init_url=" + encodedInitURL + decryptionParams + params}
		}
		return []string{extinf, proxyBase + "/segment/" + segName + "?base_url=" + encodedSegURL + params}
	}

	substitute := func(num int, t int64) string {
		name := strings.ReplaceAll(tmpl.Media, "$RepresentationID$", repID)
		name = strings.ReplaceAll(name, "$Number$", strconv.Itoa(num))
		return strings.ReplaceAll(name, "$Time$", strconv.FormatInt(t, 10))
	}

	if tmpl.Timeline != nil {
		type seg struct {
			time     int64
			number   int
			duration float64
		}
		var all []seg
		var currentTime int64
		number := startNumber
		for _, s := range tmpl.Timeline.Segments {
			if s.T != "" {
				currentTime, _ = strconv.ParseInt(s.T, 10, 64)
			}
			d, _ := strconv.ParseInt(s.D, 10, 64)
			r := atoiDefault(s.R, 0)
			durSec := float64(d) / float64(timescale)
			for i := 0; i <= r; i++ {
				all = append(all, seg{time: currentTime, number: number, duration: durSec})
				currentTime += d
				number++
			}
		}

		if isLive {
			// Keep roughly the trailing minute of the timeline.
			var window []seg
			total := 0.0
			for i := len(all) - 1; i >= 0; i-- {
				window = append([]seg{all[i]}, window...)
				total += all[i].duration
				if total > 60 {
					break
				}
			}
			all = window
			if len(all) > 0 {
				lines = append(lines, "#EXT-X-MEDIA-SEQUENCE:"+strconv.Itoa(all[0].number))
			}
		} else {
			lines = append(lines, "#EXT-X-MEDIA-SEQUENCE:0")
		}

		if len(all) > 0 {
			maxDur := 0.0
			for _, s := range all {
				if s.duration > maxDur {
					maxDur = s.duration
				}
			}
			lines = insertAt(lines, 2, "#EXT-X-TARGETDURATION:"+strconv.Itoa(int(maxDur)+1))
		}

		for _, s := range all {
			lines = append(lines, segmentLine(substitute(s.number, s.time), s.duration)...)
		}
	} else {
		durationSec := float64(duration) / float64(timescale)
		lines = insertAt(lines, 2, "#EXT-X-TARGETDURATION:"+strconv.Itoa(int(durationSec)+1))

		var first, last int
		if isLive && mpd.AvailabilityStartTime != "" && durationSec > 0 {
			availStart := parseISODate(mpd.AvailabilityStartTime, c.Now)
			elapsed := c.Now().UTC().Sub(availStart).Seconds()

			// Stay a safe distance behind the live edge.
			const bufferSeconds = 20
			current := startNumber + int((elapsed-bufferSeconds)/durationSec)

			const windowSize = 10
			first = current - windowSize + 1
			if first < startNumber {
				first = startNumber
			}
			last = current
			lines = append(lines, "#EXT-X-MEDIA-SEQUENCE:"+strconv.Itoa(first))
		} else {
			first = startNumber
			last = startNumber + 99
			lines = append(lines, "#EXT-X-MEDIA-SEQUENCE:"+strconv.Itoa(startNumber))
		}

		for num := first; num <= last; num++ {
			segName := substitute(num, int64(num)*int64(duration))
			lines = append(lines, segmentLine(segName, durationSec)...)
		}
	}

	if !isLive {
		lines = append(lines, "#EXT-X-ENDLIST")
	}
	return strings.Join(lines, "\n")
}

// resolveSegmentBase layers the manifest directory with the BaseURL
// elements from MPD, AdaptationSet and Representation levels.
func resolveSegmentBase(originalURL string, bases ...string) string {
	current := originalURL
	if u, err := url.Parse(originalURL); err == nil {
		dir := path.Dir(u.Path)
		if !strings.HasSuffix(dir, "/") {
			dir += "/"
		}
		u.Path = dir
		u.RawQuery = ""
		current = u.String()
	}
	for _, b := range bases {
		if strings.TrimSpace(b) != "" {
			current = resolveAgainst(current, strings.TrimSpace(b))
		}
	}
	return current
}

func parseISODate(s string, now func() time.Time) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04:05.000Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return now().UTC()
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func insertAt(lines []string, idx int, line string) []string {
	if idx > len(lines) {
		idx = len(lines)
	}
	lines = append(lines, "")
	copy(lines[idx+1:], lines[idx:])
	lines[idx] = line
	return lines
}
