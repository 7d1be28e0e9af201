// SPDX-License-Identifier: AGPL-3.0-only
package handlers

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/fluffyriot/fbtracker/internal/exports"
	"github.com/gin-gonic/gin"
)

const maxImportBytes = 512 << 20

func attachment(c *gin.Context, filename string) {
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
}

// ExportPackageHandler returns the package as a JSON export file. With
// ?save=true the file is written to the outputs directory instead.
func (h *Handler) ExportPackageHandler(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if c.Query("save") == "true" {
		merged, err := h.Packages.GetPackageWithUpdates(ctx, id)
		if err != nil {
			respondError(c, err)
			return
		}
		path, err := exports.SaveExportFile(h.Config.OutputsDir, id, merged.Package.Name, exports.FormatJSON, func(w io.Writer) error {
			return h.Packages.ExportPackage(ctx, id, w)
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"file": filepath.Base(path)})
		return
	}

	var buf bytes.Buffer
	if err := h.Packages.ExportPackage(ctx, id, &buf); err != nil {
		respondError(c, err)
		return
	}

	attachment(c, "package_"+id+".json")
	c.Data(http.StatusOK, "application/json", buf.Bytes())
}

func (h *Handler) ExportPackageCSVHandler(c *gin.Context) {
	id := c.Param("id")
	merged, err := h.Packages.GetPackageWithUpdates(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := exports.WritePostsCSV(&buf, merged.Posts); err != nil {
		respondError(c, err)
		return
	}

	attachment(c, "package_"+id+"_posts.csv")
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// ImportPackageHandler accepts an export file as multipart field "file" or
// as the raw request body.
func (h *Handler) ImportPackageHandler(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxImportBytes)

	var r io.Reader = c.Request.Body
	if file, err := c.FormFile("file"); err == nil {
		f, err := file.Open()
		if err != nil {
			respondError(c, err)
			return
		}
		defer f.Close()
		r = f
	}

	id, err := h.Packages.ImportPackage(c.Request.Context(), r)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}
