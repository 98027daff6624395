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
	"fmt"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	uuid "github.com/satori/go.uuid"

	"github.com/lucasduport/easyproxy/pkg/config"
	"github.com/lucasduport/easyproxy/pkg/extractor"
	"github.com/lucasduport/easyproxy/pkg/httpclient"
	"github.com/lucasduport/easyproxy/pkg/playlist"
	"github.com/lucasduport/easyproxy/pkg/rewrite"
	"github.com/lucasduport/easyproxy/pkg/utils"
)

const serverVersion = "1.0.0"

// initCacheSize bounds the in-memory cache of fMP4 init segments used
// by the decrypt endpoint.
const initCacheSize = 128

var instanceID = uuid.NewV4().String()

// Config represents the server configuration and its shared components.
type Config struct {
	*config.ProxyConfig

	registry  *extractor.Registry
	builder   *playlist.Builder
	converter *rewrite.Converter

	// relay performs upstream requests for streams, keys and licenses.
	relay *httpclient.Client

	initCache *lru.Cache[string, []byte]
}

// NewServer initializes a new server configuration with all necessary
// components wired to the proxy pools.
func NewServer(cfg *config.ProxyConfig) (*Config, error) {
	if err := cfg.Validate(); err != nil {
		return nil, utils.PrintErrorAndReturn(err)
	}

	utils.Config.DebugLoggingEnabled = os.Getenv("DEBUG_LOGGING") == "true"

	relay, err := httpclient.New(httpclient.Options{
		Proxies:     cfg.GlobalProxies,
		Timeout:     60 * time.Second,
		InsecureTLS: true,
	})
	if err != nil {
		return nil, utils.PrintErrorAndReturn(err)
	}

	builder, err := playlist.NewBuilder()
	if err != nil {
		relay.Close()
		return nil, utils.PrintErrorAndReturn(err)
	}

	cache, err := lru.New[string, []byte](initCacheSize)
	if err != nil {
		relay.Close()
		builder.Close()
		return nil, utils.PrintErrorAndReturn(err)
	}

	serverConfig := &Config{
		ProxyConfig: cfg,
		registry:    extractor.NewRegistry(cfg),
		builder:     builder,
		converter:   rewrite.NewConverter(),
		relay:       relay,
		initCache:   cache,
	}

	utils.InfoLog("Server instance %s created", instanceID)
	utils.InfoLog("Proxy pools: global=%d vavoo=%d dlhd=%d",
		len(cfg.GlobalProxies), len(cfg.VavooProxies), len(cfg.DLHDProxies))
	if cfg.APIPassword != "" {
		utils.InfoLog("API password protection is enabled")
	} else {
		utils.WarnLog("No API password set, all endpoints are open")
	}

	return serverConfig, nil
}

// Serve runs the easyproxy api until the listener fails.
func (c *Config) Serve() error {
	utils.InfoLog("[easyproxy] Server is starting...")

	router := gin.Default()
	router.Use(cors.Default())

	c.routes(router)

	defer c.shutdown()

	utils.InfoLog("[easyproxy] Server is ready and listening on :%d", c.HostConfig.Port)
	if err := router.Run(fmt.Sprintf("%s:%d", c.HostConfig.Hostname, c.HostConfig.Port)); err != nil {
		return utils.ErrorWithLocation(err)
	}
	return nil
}

func (c *Config) shutdown() {
	c.registry.CloseAll()
	c.builder.Close()
	c.relay.Close()
	utils.Close()
}
