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

package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// CredentialString is a string that must never be printed verbatim in logs.
type CredentialString string

func (s CredentialString) String() string { return string(s) }

// PathString is a path on disk, resolved relative to the working directory.
type PathString string

func (s PathString) String() string { return string(s) }

// HostConfiguration holds the listen address of the proxy.
type HostConfiguration struct {
	Hostname string
	Port     int64
}

// ProxyConfig is the runtime configuration shared by every handler.
type ProxyConfig struct {
	HostConfig *HostConfiguration

	// APIPassword protects every endpoint when set. Empty disables auth.
	APIPassword CredentialString

	// CacheFolder is where extractor caches are persisted.
	CacheFolder PathString

	// Upstream proxy pools. One entry is picked at random per session.
	GlobalProxies []string
	VavooProxies  []string
	DLHDProxies   []string
}

// FromEnv fills the proxy pools and password from the environment.
// Flag values, when set, take precedence and are left untouched.
func (c *ProxyConfig) FromEnv() {
	if c.APIPassword == "" {
		c.APIPassword = CredentialString(os.Getenv("API_PASSWORD"))
	}
	if len(c.GlobalProxies) == 0 {
		c.GlobalProxies = ParseProxyList(os.Getenv("GLOBAL_PROXY"))
	}
	if len(c.VavooProxies) == 0 {
		c.VavooProxies = ParseProxyList(os.Getenv("VAVOO_PROXY"))
	}
	if len(c.DLHDProxies) == 0 {
		c.DLHDProxies = ParseProxyList(os.Getenv("DLHD_PROXY"))
	}
}

// ParseProxyList splits a comma separated proxy list and drops entries
// that do not parse as http, https or socks5 URLs.
func ParseProxyList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		u, err := url.Parse(entry)
		if err != nil || u.Host == "" {
			continue
		}
		switch u.Scheme {
		case "http", "https", "socks5", "socks5h":
			out = append(out, entry)
		}
	}
	return out
}

// Validate checks the listen configuration before the server starts.
func (c *ProxyConfig) Validate() error {
	if c.HostConfig == nil {
		return fmt.Errorf("config: missing host configuration")
	}
	if c.HostConfig.Port <= 0 || c.HostConfig.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.HostConfig.Port)
	}
	return nil
}
