// SPDX-License-Identifier: AGPL-3.0-only
package handlers

import (
	"github.com/fluffyriot/fbtracker/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the HTTP API.
func (h *Handler) NewRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.SecurityHeadersMiddleware(), middleware.IdentityMiddleware(h.Config.DefaultUserID))

	r.GET("/health", h.HealthCheckHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")

	api.GET("/settings", h.GetSettingsHandler)
	api.PUT("/settings", h.PutSettingsHandler)
	api.PUT("/settings/token", h.PutTokenHandler)

	api.POST("/load", h.StartLoadHandler)
	api.GET("/load/progress", h.LoadProgressHandler)
	api.POST("/load/stop", h.StopLoadHandler)
	api.GET("/load/result", h.LoadResultHandler)
	api.POST("/load/save", h.SaveLoadHandler)

	api.POST("/feed/refresh", h.RefreshFeedHandler)
	api.POST("/feed/older", h.OlderFeedHandler)

	api.GET("/packages", h.ListPackagesHandler)
	api.DELETE("/packages", h.ClearPackagesHandler)
	api.POST("/packages/import", h.ImportPackageHandler)
	api.GET("/packages/:id", h.GetPackageHandler)
	api.DELETE("/packages/:id", h.DeletePackageHandler)
	api.POST("/packages/:id/refresh", h.RefreshPackageHandler)
	api.POST("/packages/:id/compact", h.CompactPackageHandler)
	api.GET("/packages/:id/export", h.ExportPackageHandler)
	api.GET("/packages/:id/export/csv", h.ExportPackageCSVHandler)

	api.POST("/phone/index", h.UploadPhoneIndexHandler)
	api.GET("/phone/records", h.PhoneRecordsHandler)
	api.GET("/phone/:userId", h.PhoneLookupHandler)

	return r
}
