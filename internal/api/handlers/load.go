// SPDX-License-Identifier: AGPL-3.0-only
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/loader"
	"github.com/fluffyriot/fbtracker/internal/middleware"
	"github.com/fluffyriot/fbtracker/internal/stats"
	"github.com/gin-gonic/gin"
)

// StartLoadHandler validates the request and starts a bulk load in the
// background. Sources default to the user's configured groups and pages.
func (h *Handler) StartLoadHandler(c *gin.Context) {
	if h.cloudUnavailable(c) {
		return
	}

	var req loader.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	sess, settings, err := h.session(c)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(req.Sources) == 0 {
		req.Sources = settings.Sources()
	}
	if err := req.Validate(); err != nil {
		respondError(c, err)
		return
	}

	if err := h.state(sess.UserID).loader.Start(context.Background(), sess, req, nil); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":       domain.StatusLoading,
		"totalBatches": req.TotalBatches(),
	})
}

func (h *Handler) LoadProgressHandler(c *gin.Context) {
	st := h.state(middleware.UserID(c))
	c.JSON(http.StatusOK, gin.H{
		"progress":     st.loader.Progress(),
		"hasMorePosts": st.loader.HasMorePosts(),
	})
}

func (h *Handler) StopLoadHandler(c *gin.Context) {
	st := h.state(middleware.UserID(c))
	if !st.loader.Stop() {
		c.JSON(http.StatusConflict, ErrorResponse{Error: "no load is running"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "stopping"})
}

func (h *Handler) LoadResultHandler(c *gin.Context) {
	st := h.state(middleware.UserID(c))
	res := st.loader.Result()
	if res == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no finished load"})
		return
	}
	c.JSON(http.StatusOK, res)
}

type saveRequest struct {
	Name string `json:"name"`
}

// SaveLoadHandler stores the last finished load as a new data package.
func (h *Handler) SaveLoadHandler(c *gin.Context) {
	var req saveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	st := h.state(middleware.UserID(c))
	if st.loader.IsLoading() {
		respondError(c, loader.ErrAlreadyLoading)
		return
	}
	res := st.loader.Result()
	if res == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no finished load to save"})
		return
	}
	if len(res.Posts) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "the last load has no posts"})
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = fmt.Sprintf("Load of %d sources", len(res.Sources))
	}

	analytics, err := stats.Compute(res.Posts, res.Comments).JSON()
	if err != nil {
		respondError(c, err)
		return
	}

	id, err := h.Packages.SavePackage(c.Request.Context(), name, res.Sources, res.Posts, res.Comments, res.Users, analytics)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": id, "name": name})
}
