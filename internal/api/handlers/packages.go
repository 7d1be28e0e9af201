// SPDX-License-Identifier: AGPL-3.0-only
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/exports"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

type packageView struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	CreatedAt   time.Time                  `json:"createdAt"`
	UpdatedAt   time.Time                  `json:"updatedAt"`
	Sources     []domain.Source            `json:"sources"`
	Metadata    domain.PackageMetadata     `json:"metadata"`
	Analytics   json.RawMessage            `json:"analyticsSnapshot,omitempty"`
	Posts       []domain.Post              `json:"posts"`
	Comments    []domain.Comment           `json:"comments"`
	Users       []domain.User              `json:"users"`
	Updates     []domain.IncrementalUpdate `json:"updates"`
	UpdateCount int                        `json:"updateCount"`
}

func (h *Handler) ListPackagesHandler(c *gin.Context) {
	list, err := h.Packages.ListPackages(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	if list == nil {
		list = []domain.PackageSummary{}
	}
	c.JSON(http.StatusOK, list)
}

// GetPackageHandler returns the merged view of a package.
func (h *Handler) GetPackageHandler(c *gin.Context) {
	merged, err := h.Packages.GetPackageWithUpdates(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	pkg := merged.Package
	view := packageView{
		ID:          pkg.ID,
		Name:        pkg.Name,
		CreatedAt:   pkg.CreatedAt,
		UpdatedAt:   pkg.UpdatedAt,
		Sources:     pkg.Sources,
		Metadata:    pkg.Metadata,
		Posts:       merged.Posts,
		Comments:    merged.Comments,
		Users:       merged.Users,
		Updates:     merged.Updates,
		UpdateCount: len(merged.Updates),
		Analytics:   pkg.Analytics,
	}
	if view.Updates == nil {
		view.Updates = []domain.IncrementalUpdate{}
	}

	c.JSON(http.StatusOK, view)
}

func (h *Handler) DeletePackageHandler(c *gin.Context) {
	id := c.Param("id")
	if err := h.Packages.DeletePackage(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	if n, err := exports.DeleteExports(h.Config.OutputsDir, id); err != nil {
		log.Printf("Packages: Failed to delete exports of %s: %v", id, err)
	} else if n > 0 {
		log.Printf("Packages: Deleted %d export files of %s", n, id)
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) ClearPackagesHandler(c *gin.Context) {
	if err := h.Packages.ClearAll(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RefreshPackageHandler fetches what changed in the package's sources since
// its last fetch and records it as an incremental update.
func (h *Handler) RefreshPackageHandler(c *gin.Context) {
	if h.cloudUnavailable(c) {
		return
	}

	sess, _, err := h.session(c)
	if err != nil {
		respondError(c, err)
		return
	}

	update, delta, err := h.state(sess.UserID).loader.RefreshPackage(c.Request.Context(), sess, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"update": update,
		"delta":  delta,
	})
}

func (h *Handler) CompactPackageHandler(c *gin.Context) {
	id := c.Param("id")
	if err := h.Packages.Compact(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	pkg, err := h.Packages.GetPackage(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": pkg.ID, "metadata": pkg.Metadata})
}
