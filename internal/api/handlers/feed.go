// SPDX-License-Identifier: AGPL-3.0-only
package handlers

import (
	"net/http"

	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/loader"
	"github.com/gin-gonic/gin"
)

type feedRequest struct {
	Sources []domain.Source `json:"sources"`
}

// partialBatch carries the posts fetched before a source failed. Their
// cursors have already moved on, so they are not fetched again.
type partialBatch struct {
	*loader.Batch
	Error string `json:"error"`
}

func respondBatch(c *gin.Context, batch *loader.Batch, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, batch)
	case batch == nil:
		respondError(c, err)
	default:
		c.JSON(statusFor(err), partialBatch{Batch: batch, Error: err.Error()})
	}
}

// RefreshFeedHandler starts browsing from the newest posts.
func (h *Handler) RefreshFeedHandler(c *gin.Context) {
	if h.cloudUnavailable(c) {
		return
	}

	var req feedRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
			return
		}
	}

	sess, settings, err := h.session(c)
	if err != nil {
		respondError(c, err)
		return
	}
	sources := req.Sources
	if len(sources) == 0 {
		sources = settings.Sources()
	}

	batch, err := h.state(sess.UserID).pager.Refresh(c.Request.Context(), sess, sources)
	respondBatch(c, batch, err)
}

// OlderFeedHandler fetches the next page of every source that has one.
func (h *Handler) OlderFeedHandler(c *gin.Context) {
	if h.cloudUnavailable(c) {
		return
	}

	sess, _, err := h.session(c)
	if err != nil {
		respondError(c, err)
		return
	}

	batch, err := h.state(sess.UserID).pager.LoadOlder(c.Request.Context(), sess)
	respondBatch(c, batch, err)
}
