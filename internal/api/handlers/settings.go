// SPDX-License-Identifier: AGPL-3.0-only
package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fluffyriot/fbtracker/internal/auth"
	"github.com/fluffyriot/fbtracker/internal/cloudstore"
	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/middleware"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type settingsView struct {
	APIVersion string          `json:"apiVersion"`
	Groups     []domain.Source `json:"groups"`
	Pages      []domain.Source `json:"pages"`
	PhoneFile  string          `json:"phoneFile,omitempty"`
	HasToken   bool            `json:"hasToken"`
}

func newSettingsView(s *cloudstore.Settings, defaultVersion string) settingsView {
	v := settingsView{
		APIVersion: s.APIVersion,
		Groups:     s.Groups,
		Pages:      s.Pages,
		PhoneFile:  s.PhoneFile,
		HasToken:   s.HasToken(),
	}
	if v.APIVersion == "" {
		v.APIVersion = defaultVersion
	}
	if v.Groups == nil {
		v.Groups = []domain.Source{}
	}
	if v.Pages == nil {
		v.Pages = []domain.Source{}
	}
	return v
}

func (h *Handler) GetSettingsHandler(c *gin.Context) {
	if h.cloudUnavailable(c) {
		return
	}

	settings, err := h.loadSettings(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSettingsView(settings, h.Config.GraphAPIVersion))
}

type settingsRequest struct {
	APIVersion string          `json:"apiVersion"`
	Groups     []domain.Source `json:"groups"`
	Pages      []domain.Source `json:"pages"`
}

func cleanSources(in []domain.Source, kind domain.SourceKind) ([]domain.Source, error) {
	out := make([]domain.Source, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		s.ID = strings.TrimSpace(s.ID)
		if s.ID == "" {
			return nil, fmt.Errorf("%w: %s id is empty", errBadRequest, kind)
		}
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		s.Kind = kind
		s.DisplayName = strings.TrimSpace(s.DisplayName)
		out = append(out, s)
	}
	return out, nil
}

// PutSettingsHandler replaces the source lists and API version. The stored
// token is kept.
func (h *Handler) PutSettingsHandler(c *gin.Context) {
	if h.cloudUnavailable(c) {
		return
	}

	var req settingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	groups, err := cleanSources(req.Groups, domain.KindGroup)
	if err != nil {
		respondError(c, err)
		return
	}
	pages, err := cleanSources(req.Pages, domain.KindPage)
	if err != nil {
		respondError(c, err)
		return
	}

	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	settings, err := h.loadSettings(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	settings.APIVersion = strings.TrimSpace(req.APIVersion)
	settings.Groups = groups
	settings.Pages = pages

	h.resolveNames(c, userID, settings)

	if err := h.Settings.PutSettings(ctx, userID, settings); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newSettingsView(settings, h.Config.GraphAPIVersion))
}

// resolveNames fills in missing display names when a token is stored.
func (h *Handler) resolveNames(c *gin.Context, userID string, settings *cloudstore.Settings) {
	namer, ok := h.Fetcher.(SourceNamer)
	if !ok || !settings.HasToken() {
		return
	}
	sess, err := auth.SessionFromSettings(userID, settings, h.Config.TokenEncryptionKey, h.Config.GraphAPIVersion)
	if err != nil {
		log.Printf("Settings: Cannot resolve source names for %s: %v", userID, err)
		return
	}

	resolve := func(list []domain.Source) {
		for i := range list {
			if list[i].DisplayName == "" {
				list[i].DisplayName = namer.ResolveSourceName(c.Request.Context(), sess, list[i])
			}
		}
	}
	resolve(settings.Groups)
	resolve(settings.Pages)
}

type tokenRequest struct {
	AccessToken string `json:"accessToken" binding:"required"`
}

func (h *Handler) PutTokenHandler(c *gin.Context) {
	if h.cloudUnavailable(c) {
		return
	}

	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "accessToken is required"})
		return
	}

	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	settings, err := h.loadSettings(ctx, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := auth.SealToken(settings, req.AccessToken, h.Config.TokenEncryptionKey); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	if err := h.Settings.PutSettings(ctx, userID, settings); err != nil {
		respondError(c, err)
		return
	}

	log.WithFields(log.Fields{"user": userID}).Info("Settings: Access token updated")
	c.JSON(http.StatusOK, newSettingsView(settings, h.Config.GraphAPIVersion))
}
