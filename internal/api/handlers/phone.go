// SPDX-License-Identifier: AGPL-3.0-only
package handlers

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/middleware"
	"github.com/fluffyriot/fbtracker/internal/phone"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

func (h *Handler) redisIndex(userID string) *phone.RedisIndex {
	return phone.NewRedisIndex(h.Redis, h.Config.PhoneRedisKey+":"+userID)
}

// loadIndex builds an index from an uploaded phone file. Files above the
// memory limit go to Redis when it is configured.
func (h *Handler) loadIndex(ctx context.Context, userID string, file *multipart.FileHeader) (phone.Index, int64, error) {
	limit := h.Config.PhoneMaxFileBytes

	if file.Size <= limit {
		f, err := file.Open()
		if err != nil {
			return nil, 0, err
		}
		mem, err := phone.LoadMemoryIndex(f, limit)
		f.Close()
		if err == nil {
			return mem, int64(mem.Len()), nil
		}
		if !errors.Is(err, phone.ErrFileTooLarge) {
			return nil, 0, err
		}
	}

	if h.Redis == nil {
		return nil, 0, phone.ErrFileTooLarge
	}

	f, err := file.Open()
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	ri := h.redisIndex(userID)
	n, err := ri.Import(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	return ri, int64(n), nil
}

func (h *Handler) UploadPhoneIndexHandler(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "file is required"})
		return
	}

	ctx := c.Request.Context()
	userID := middleware.UserID(c)

	idx, entries, err := h.loadIndex(ctx, userID, file)
	if err != nil {
		respondError(c, err)
		return
	}

	h.state(userID).searcher.SetIndex(idx, file.Filename)

	if h.Config.DBInitErr == nil {
		settings, err := h.loadSettings(ctx, userID)
		if err == nil {
			settings.PhoneFile = file.Filename
			err = h.Settings.PutSettings(ctx, userID, settings)
		}
		if err != nil {
			log.Printf("Phone: Failed to record phone file for %s: %v", userID, err)
		}
	}

	log.WithFields(log.Fields{"user": userID, "backend": idx.Backend(), "entries": entries}).Info("Phone: Index loaded")
	c.JSON(http.StatusOK, gin.H{
		"file":    file.Filename,
		"backend": idx.Backend(),
		"entries": entries,
	})
}

// searcher returns the user's searcher, reattaching a Redis index left from
// an earlier upload when none is loaded.
func (h *Handler) searcher(ctx context.Context, userID string) *phone.Searcher {
	s := h.state(userID).searcher
	if s.HasIndex() || h.Redis == nil {
		return s
	}

	ri := h.redisIndex(userID)
	if n, err := ri.Len(ctx); err == nil && n > 0 {
		source := ""
		if h.Config.DBInitErr == nil {
			if settings, err := h.loadSettings(ctx, userID); err == nil {
				source = settings.PhoneFile
			}
		}
		s.SetIndex(ri, source)
	}
	return s
}

func (h *Handler) PhoneLookupHandler(c *gin.Context) {
	ctx := c.Request.Context()
	userID := middleware.UserID(c)
	target := c.Param("userId")

	rec, found, err := h.searcher(ctx, userID).Search(ctx, target)
	if err != nil {
		respondError(c, err)
		return
	}
	if !found {
		c.JSON(http.StatusOK, gin.H{"userId": target, "found": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": target, "found": true, "record": rec})
}

// PhoneRecordsHandler lists every number found for the user. Without a
// cloud store only this process's finds are returned.
func (h *Handler) PhoneRecordsHandler(c *gin.Context) {
	userID := middleware.UserID(c)

	var (
		records []domain.PhoneRecord
		err     error
	)
	if h.Config.DBInitErr != nil {
		records = h.state(userID).searcher.Cached()
	} else {
		records, err = h.Settings.ListPhoneRecords(c.Request.Context(), userID)
		if err != nil {
			respondError(c, err)
			return
		}
	}
	if records == nil {
		records = []domain.PhoneRecord{}
	}
	c.JSON(http.StatusOK, records)
}
