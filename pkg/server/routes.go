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
	"net/http"

	"github.com/gin-gonic/gin"
)

func (c *Config) routes(r *gin.Engine) {
	r.GET("/", c.getRoot)
	r.GET("/favicon.ico", func(ctx *gin.Context) { ctx.Status(http.StatusNotFound) })
	r.GET("/builder", c.getBuilderPage)
	r.GET("/info", c.getInfoPage)
	r.GET("/api/info", c.getAPIInfo)

	r.GET("/key", c.authenticate, c.getKey)

	// Every manifest and stream request funnels through the same
	// handler, the upstream content type decides the treatment.
	r.GET("/proxy/manifest.m3u8", c.authenticate, c.getProxy)
	r.GET("/proxy/hls/manifest.m3u8", c.authenticate, c.getProxy)
	r.GET("/proxy/mpd/manifest.m3u8", c.authenticate, c.getProxy)
	r.GET("/proxy/stream", c.authenticate, c.getProxy)

	r.GET("/extractor", c.authenticate, c.getExtractor)
	r.GET("/extractor/video", c.authenticate, c.getExtractor)

	r.GET("/proxy/hls/segment.ts", c.authenticate, c.getProxy)
	r.GET("/proxy/hls/segment.m4s", c.authenticate, c.getProxy)
	r.GET("/proxy/hls/segment.mp4", c.authenticate, c.getProxy)
	r.GET("/proxy/hls/segment.aac", c.authenticate, c.getProxy)
	r.GET("/proxy/hls/segment.m4a", c.authenticate, c.getProxy)

	r.GET("/playlist", c.getPlaylist)
	r.GET("/segment/*name", c.getSegment)
	r.GET("/decrypt/segment.mp4", c.authenticate, c.getDecryptSegment)

	r.GET("/license", c.getLicense)
	r.POST("/license", c.getLicense)

	r.POST("/generate_urls", c.postGenerateURLs)
	r.GET("/proxy/ip", c.authenticate, c.getProxyIP)

	r.OPTIONS("/*path", c.handleOptions)
}
