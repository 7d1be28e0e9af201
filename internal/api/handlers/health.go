// SPDX-License-Identifier: AGPL-3.0-only
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/fluffyriot/fbtracker/internal/config"
	"github.com/gin-gonic/gin"
)

func (h *Handler) HealthCheckHandler(c *gin.Context) {
	if h.Packages == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "failure", "details": "local store not initialized"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := h.Packages.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "failure", "details": "local store ping failed: " + err.Error()})
		return
	}

	cloud := "ok"
	if h.Config.DBInitErr != nil {
		cloud = "unavailable"
	}

	phoneIndex := "memory"
	if h.Redis != nil {
		phoneIndex = "redis"
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			phoneIndex = "redis unavailable"
		}
	}

	worker := "disabled"
	if h.Worker != nil && h.Worker.IsActive() {
		worker = "active"
	}

	resp := gin.H{
		"status":     "ok",
		"version":    config.AppVersion,
		"cloudStore": cloud,
		"phoneIndex": phoneIndex,
		"worker":     worker,
	}
	if h.Updater != nil {
		info, _ := h.Updater.GetUpdateInfo()
		resp["updateAvailable"] = h.Updater.IsUpdateAvailable()
		resp["latestVersion"] = info.Latest
	}
	c.JSON(http.StatusOK, resp)
}
