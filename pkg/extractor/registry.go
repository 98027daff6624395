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
	"regexp"
	"strings"
	"sync"

	"github.com/lucasduport/easyproxy/pkg/config"
	"github.com/lucasduport/easyproxy/pkg/utils"
)

var dlhdPHPPattern = regexp.MustCompile(`stream-\d+\.php`)

// Registry holds one instance of each extractor, created lazily. An
// extractor keeps its session and caches alive across requests, so
// instances are shared.
type Registry struct {
	cfg *config.ProxyConfig

	mu         sync.Mutex
	extractors map[string]Extractor
}

// NewRegistry builds an empty registry over the given configuration.
func NewRegistry(cfg *config.ProxyConfig) *Registry {
	return &Registry{
		cfg:        cfg,
		extractors: make(map[string]Extractor),
	}
}

// Names lists the extractors selectable through the host parameter.
func Names() []string {
	return []string{
		"dlhd", "vavoo", "vixsrc", "sportsonline",
		"mixdrop", "voe", "streamtape", "orion",
	}
}

// Lookup returns the extractor for rawURL. An explicit host name wins
// over URL detection; unknown URLs fall back to the generic one.
func (r *Registry) Lookup(rawURL string, clientHeaders map[string]string, host string) Extractor {
	key := r.keyFor(rawURL, strings.ToLower(host))

	// Generic and orion only shape headers for the current request, so
	// they are built fresh instead of shared.
	switch key {
	case "hls_generic":
		return NewGeneric(clientHeaders)
	case "orion":
		return NewOrion(clientHeaders)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if ex, ok := r.extractors[key]; ok {
		return ex
	}
	ex := r.build(key)
	r.extractors[key] = ex
	return ex
}

func (r *Registry) keyFor(rawURL, host string) string {
	switch host {
	case "vavoo", "vixsrc", "sportsonline", "mixdrop", "voe", "streamtape", "orion":
		return host
	case "dlhd", "daddylive":
		return "dlhd"
	case "sportzonline":
		return "sportsonline"
	}

	lower := strings.ToLower(rawURL)
	switch {
	case strings.Contains(lower, "vavoo.to"):
		return "vavoo"
	case strings.Contains(lower, "daddylive"), strings.Contains(lower, "dlhd"),
		dlhdPHPPattern.MatchString(rawURL):
		return "dlhd"
	case strings.Contains(lower, "vixsrc.to/") &&
		(strings.Contains(rawURL, "/movie/") || strings.Contains(rawURL, "/tv/") || strings.Contains(rawURL, "/iframe/")):
		return "vixsrc"
	case strings.Contains(lower, "sportzonline"), strings.Contains(lower, "sportsonline"):
		return "sportsonline"
	case strings.Contains(lower, "mixdrop"):
		return "mixdrop"
	case containsAny(lower, "voe.sx", "voe.to", "voe.st", "voe.eu", "voe.la", "voe-network.net"):
		return "voe"
	case containsAny(lower, "streamtape.com", "streamtape.to", "streamtape.net"):
		return "streamtape"
	case strings.Contains(lower, "orionoid.com"):
		return "orion"
	default:
		return "hls_generic"
	}
}

func (r *Registry) build(key string) Extractor {
	global := r.cfg.GlobalProxies
	switch key {
	case "vavoo":
		return NewVavoo(firstPool(r.cfg.VavooProxies, global))
	case "dlhd":
		return NewDLHD(firstPool(r.cfg.DLHDProxies, global), string(r.cfg.CacheFolder))
	case "vixsrc":
		return NewVixSrc(global)
	case "sportsonline":
		return NewSportsOnline(global)
	case "mixdrop":
		return NewMixDrop(global)
	case "voe":
		return NewVoe(global)
	default:
		return NewStreamtape(global)
	}
}

// InvalidateCacheForURL tells every cache-carrying extractor to drop
// entries derived from rawURL. Used when a cached stream starts
// answering errors.
func (r *Registry) InvalidateCacheForURL(rawURL string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, ex := range r.extractors {
		if inv, ok := ex.(interface{ InvalidateCacheForURL(string) bool }); ok {
			if inv.InvalidateCacheForURL(rawURL) {
				utils.InfoLog("Invalidated %s cache for %s", name, utils.MaskURL(rawURL))
			}
		}
	}
}

// CloseAll shuts down every instantiated extractor.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ex := range r.extractors {
		ex.Close()
	}
	r.extractors = make(map[string]Extractor)
}

func firstPool(pools ...[]string) []string {
	for _, p := range pools {
		if len(p) > 0 {
			return p
		}
	}
	return nil
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
