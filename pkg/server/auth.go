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

	"github.com/lucasduport/easyproxy/pkg/utils"
)

// checkPassword verifies the API password from the query string or the
// x-api-password header. An empty configured password disables auth.
func (c *Config) checkPassword(ctx *gin.Context) bool {
	if c.APIPassword == "" {
		return true
	}
	if ctx.Query("api_password") == c.APIPassword.String() {
		return true
	}
	return ctx.GetHeader("x-api-password") == c.APIPassword.String()
}

func (c *Config) authenticate(ctx *gin.Context) {
	if !c.checkPassword(ctx) {
		utils.WarnLog("Access denied, invalid or missing API password. IP: %s", ctx.ClientIP())
		ctx.String(http.StatusUnauthorized, "Unauthorized: Invalid API Password")
		ctx.Abort()
	}
}
