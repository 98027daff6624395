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
	"fmt"
	"net/url"
	"strings"

	"github.com/beevik/etree"

	"github.com/lucasduport/easyproxy/pkg/utils"
)

const (
	clearKeySchemeIDURI = "urn:uuid:e2719d58-a985-b3c9-781a-007147f192ec"
	clearKeyUUID        = "e2719d58-a985-b3c9-781a-007147f192ec"
	cencNamespace       = "urn:mpeg:cenc:2013"
	dashifNamespace     = "http://dashif.org/guidelines/clearKey"
	mpdNamespace        = "urn:mpeg:dash:schema:mpd:2011"
)

// MPDOptions parameterizes a DASH manifest rewrite.
type MPDOptions struct {
	ProxyBase   string
	ManifestURL string
	Headers     map[string]string
	// ClearKey is "kidhex:keyhex" and triggers ClearKey signaling
	// injection when set.
	ClearKey    string
	APIPassword string
}

// MPD rewrites a DASH manifest in place: segment templates, segment
// URLs and base URLs route through the proxy, license URLs through the
// license endpoint, and ClearKey protection is injected when a key is
// supplied. On parse failure the manifest is returned untouched.
func MPD(manifest string, opts MPDOptions) string {
	if !strings.Contains(manifest, "xmlns") {
		manifest = strings.Replace(manifest, "<MPD", `<MPD xmlns="`+mpdNamespace+`"`, 1)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromString(manifest); err != nil {
		utils.ErrorLog("MPD rewrite failed to parse manifest: %v", err)
		return manifest
	}
	root := doc.Root()
	if root == nil {
		return manifest
	}

	params := EncodeHeaderParams(opts.Headers)
	if opts.APIPassword != "" {
		params += "&api_password=" + url.QueryEscape(opts.APIPassword)
	}

	proxyURL := func(ref string) string {
		abs := resolveAgainst(opts.ManifestURL, strings.TrimSpace(ref))
		return opts.ProxyBase + "/proxy/mpd/manifest.m3u8?d=" + url.QueryEscape(abs) + params
	}

	if opts.ClearKey != "" {
		injectClearKey(root, opts, params)
	}

	// Route any remaining license URLs through the proxy.
	for _, cp := range findAll(root, "ContentProtection") {
		for _, child := range cp.ChildElements() {
			if strings.Contains(child.Tag, "Laurl") && strings.TrimSpace(child.Text()) != "" {
				if strings.HasPrefix(child.Text(), opts.ProxyBase+"/license?clearkey=") {
					continue
				}
				child.SetText(opts.ProxyBase + "/license?url=" + url.QueryEscape(child.Text()) + params)
			}
		}
	}

	for _, tmpl := range findAll(root, "SegmentTemplate") {
		for _, attr := range []string{"media", "initialization"} {
			if v := tmpl.SelectAttrValue(attr, ""); v != "" {
				tmpl.CreateAttr(attr, proxyURL(v))
			}
		}
	}
	for _, seg := range findAll(root, "SegmentURL") {
		if v := seg.SelectAttrValue("media", ""); v != "" {
			seg.CreateAttr("media", proxyURL(v))
		}
	}
	for _, base := range findAll(root, "BaseURL") {
		if strings.TrimSpace(base.Text()) != "" {
			base.SetText(proxyURL(base.Text()))
		}
	}

	out, err := doc.WriteToString()
	if err != nil {
		utils.ErrorLog("MPD rewrite failed to serialize manifest: %v", err)
		return manifest
	}
	return out
}

// injectClearKey adds a ClearKey ContentProtection element, complete
// with license URLs and the default KID, to every adaptation set, and
// strips competing DRM systems the player cannot use.
func injectClearKey(root *etree.Element, opts MPDOptions, params string) {
	parts := strings.SplitN(opts.ClearKey, ":", 2)
	if len(parts) != 2 {
		utils.ErrorLog("Bad clearkey parameter %q, expected kid:key", utils.MaskString(opts.ClearKey))
		return
	}
	kidHex := parts[0]

	if root.SelectAttr("xmlns:cenc") == nil {
		root.CreateAttr("xmlns:cenc", cencNamespace)
	}
	if root.SelectAttr("xmlns:dashif") == nil {
		root.CreateAttr("xmlns:dashif", dashifNamespace)
	}

	licenseURL := opts.ProxyBase + "/license?clearkey=" + opts.ClearKey
	if opts.APIPassword != "" {
		licenseURL += "&api_password=" + url.QueryEscape(opts.APIPassword)
	}

	for _, set := range findAll(root, "AdaptationSet") {
		for _, cp := range set.SelectElements("ContentProtection") {
			scheme := strings.ToLower(cp.SelectAttrValue("schemeIdUri", ""))
			if !strings.Contains(scheme, clearKeyUUID) {
				set.RemoveChild(cp)
			}
		}

		exists := false
		for _, cp := range set.SelectElements("ContentProtection") {
			if cp.SelectAttrValue("schemeIdUri", "") == clearKeySchemeIDURI {
				exists = true
				break
			}
		}
		if exists {
			continue
		}

		cp := etree.NewElement("ContentProtection")
		cp.CreateAttr("schemeIdUri", clearKeySchemeIDURI)
		cp.CreateAttr("value", "ClearKey")
		if len(kidHex) == 32 {
			cp.CreateAttr("cenc:default_KID", fmt.Sprintf("%s-%s-%s-%s-%s",
				kidHex[:8], kidHex[8:12], kidHex[12:16], kidHex[16:20], kidHex[20:]))
		}
		cp.CreateElement("Laurl").SetText(licenseURL)
		cp.CreateElement("dashif:Laurl").SetText(licenseURL)
		set.InsertChildAt(0, cp)
	}
}

// findAll walks the tree collecting elements by local tag name,
// whatever namespace prefix the document uses.
func findAll(el *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	var walk func(e *etree.Element)
	walk = func(e *etree.Element) {
		if e.Tag == tag {
			out = append(out, e)
		}
		for _, child := range e.ChildElements() {
			walk(child)
		}
	}
	walk(el)
	return out
}
