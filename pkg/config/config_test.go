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
	"reflect"
	"testing"
)

func TestParseProxyList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: "", want: nil},
		{name: "whitespace only", raw: "  ,  ", want: nil},
		{
			name: "mixed schemes",
			raw:  "http://p1:8080, socks5://user:pass@p2:1080 ,https://p3:443,socks5h://p4:1080",
			want: []string{"http://p1:8080", "socks5://user:pass@p2:1080", "https://p3:443", "socks5h://p4:1080"},
		},
		{
			name: "invalid entries dropped",
			raw:  "ftp://p1:21,not a url,http://ok:8080",
			want: []string{"http://ok:8080"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseProxyList(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseProxyList(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		conf    ProxyConfig
		wantErr bool
	}{
		{name: "missing host config", conf: ProxyConfig{}, wantErr: true},
		{name: "zero port", conf: ProxyConfig{HostConfig: &HostConfiguration{Port: 0}}, wantErr: true},
		{name: "port too large", conf: ProxyConfig{HostConfig: &HostConfiguration{Port: 70000}}, wantErr: true},
		{name: "valid", conf: ProxyConfig{HostConfig: &HostConfiguration{Hostname: "0.0.0.0", Port: 7860}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.conf.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("API_PASSWORD", "envpass")
	t.Setenv("GLOBAL_PROXY", "http://env-proxy:8080")
	t.Setenv("VAVOO_PROXY", "")
	t.Setenv("DLHD_PROXY", "socks5://dlhd:1080")

	conf := &ProxyConfig{}
	conf.FromEnv()
	if conf.APIPassword != "envpass" {
		t.Errorf("APIPassword = %q", conf.APIPassword)
	}
	if !reflect.DeepEqual(conf.GlobalProxies, []string{"http://env-proxy:8080"}) {
		t.Errorf("GlobalProxies = %v", conf.GlobalProxies)
	}
	if conf.VavooProxies != nil {
		t.Errorf("VavooProxies = %v, want empty", conf.VavooProxies)
	}
	if !reflect.DeepEqual(conf.DLHDProxies, []string{"socks5://dlhd:1080"}) {
		t.Errorf("DLHDProxies = %v", conf.DLHDProxies)
	}

	// Flag provided values win over the environment.
	conf = &ProxyConfig{APIPassword: "flagpass", GlobalProxies: []string{"http://flag:1"}}
	conf.FromEnv()
	if conf.APIPassword != "flagpass" {
		t.Errorf("flag password overridden: %q", conf.APIPassword)
	}
	if !reflect.DeepEqual(conf.GlobalProxies, []string{"http://flag:1"}) {
		t.Errorf("flag proxies overridden: %v", conf.GlobalProxies)
	}
}
