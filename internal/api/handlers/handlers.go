// SPDX-License-Identifier: AGPL-3.0-only
package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/fluffyriot/fbtracker/internal/auth"
	"github.com/fluffyriot/fbtracker/internal/cloudstore"
	"github.com/fluffyriot/fbtracker/internal/config"
	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/fetcher"
	"github.com/fluffyriot/fbtracker/internal/loader"
	"github.com/fluffyriot/fbtracker/internal/middleware"
	"github.com/fluffyriot/fbtracker/internal/packages"
	"github.com/fluffyriot/fbtracker/internal/phone"
	"github.com/fluffyriot/fbtracker/internal/updater"
	"github.com/fluffyriot/fbtracker/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// SettingsStore is implemented by *cloudstore.Store and
// *cloudstore.MemoryStore.
type SettingsStore interface {
	GetSettings(ctx context.Context, userID string) (*cloudstore.Settings, error)
	PutSettings(ctx context.Context, userID string, settings *cloudstore.Settings) error
	SavePhoneRecord(ctx context.Context, ownerID string, rec domain.PhoneRecord) error
	ListPhoneRecords(ctx context.Context, ownerID string) ([]domain.PhoneRecord, error)
}

// SourceNamer resolves display names of groups and pages.
type SourceNamer interface {
	ResolveSourceName(ctx context.Context, sess domain.Session, source domain.Source) string
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type Handler struct {
	Packages *packages.Store
	Settings SettingsStore
	Fetcher  loader.PageFetcher
	Redis    *redis.Client
	Config   *config.AppConfig
	Worker   *worker.Worker
	// Updater is optional.
	Updater *updater.Updater

	mu    sync.Mutex
	users map[string]*userState
}

// userState is what one user keeps between requests.
type userState struct {
	loader   *loader.Loader
	pager    *loader.Pager
	searcher *phone.Searcher
}

func NewHandler(cfg *config.AppConfig, pkgs *packages.Store, settings SettingsStore, f loader.PageFetcher, redisClient *redis.Client, w *worker.Worker) *Handler {
	return &Handler{
		Packages: pkgs,
		Settings: settings,
		Fetcher:  f,
		Redis:    redisClient,
		Config:   cfg,
		Worker:   w,
		users:    make(map[string]*userState),
	}
}

func (h *Handler) state(userID string) *userState {
	h.mu.Lock()
	defer h.mu.Unlock()

	st, ok := h.users[userID]
	if !ok {
		st = &userState{
			loader:   loader.New(h.Fetcher, nil, h.Packages, loader.Options{PageSize: h.Config.MaxPageSize}),
			pager:    loader.NewPager(h.Fetcher, h.Config.MaxPageSize, true),
			searcher: phone.NewSearcher(h.Settings, userID),
		}
		h.users[userID] = st
	}
	return st
}

// cloudUnavailable reports DBInitErr to the client when the settings store
// failed to open.
func (h *Handler) cloudUnavailable(c *gin.Context) bool {
	if h.Config.DBInitErr != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: h.Config.DBInitErr.Error()})
		return true
	}
	return false
}

func (h *Handler) loadSettings(ctx context.Context, userID string) (*cloudstore.Settings, error) {
	settings, err := h.Settings.GetSettings(ctx, userID)
	if errors.Is(err, cloudstore.ErrNotFound) {
		return &cloudstore.Settings{}, nil
	}
	return settings, err
}

// session builds the Graph API session of the calling user.
func (h *Handler) session(c *gin.Context) (domain.Session, *cloudstore.Settings, error) {
	userID := middleware.UserID(c)
	settings, err := h.loadSettings(c.Request.Context(), userID)
	if err != nil {
		return domain.Session{}, nil, err
	}
	sess, err := auth.SessionFromSettings(userID, settings, h.Config.TokenEncryptionKey, h.Config.GraphAPIVersion)
	if err != nil {
		return domain.Session{}, settings, err
	}
	return sess, settings, nil
}

var errBadRequest = errors.New("bad request")

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, loader.ErrNoSources),
		errors.Is(err, loader.ErrInvalidMaxItems),
		errors.Is(err, loader.ErrInvalidBatchSize),
		errors.Is(err, loader.ErrInvalidTimeRange),
		errors.Is(err, loader.ErrInvalidSort),
		errors.Is(err, domain.ErrMissingToken),
		errors.Is(err, auth.ErrTokenUnreadable),
		errors.Is(err, packages.ErrInvalidFile),
		errors.Is(err, phone.ErrInvalidFile),
		errors.Is(err, phone.ErrEmptyUserID),
		errors.Is(err, phone.ErrNoIndex):
		return http.StatusBadRequest
	case errors.Is(err, fetcher.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, packages.ErrPackageNotFound),
		errors.Is(err, cloudstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, loader.ErrAlreadyLoading),
		errors.Is(err, phone.ErrSearchInProgress):
		return http.StatusConflict
	case errors.Is(err, phone.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, new(*fetcher.TransportError)):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
}
