// SPDX-License-Identifier: AGPL-3.0-only
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fluffyriot/fbtracker/internal/cloudstore"
	"github.com/fluffyriot/fbtracker/internal/config"
	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/fetcher"
	"github.com/fluffyriot/fbtracker/internal/loader"
	"github.com/fluffyriot/fbtracker/internal/packages"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubFetcher serves posts per source id. Tokens are offsets into the list.
// Sources without posts are reported as restricted.
type stubFetcher struct {
	mu    sync.Mutex
	posts map[string][]domain.Post
	fail  map[string]error
}

func (f *stubFetcher) FetchPage(ctx context.Context, sess domain.Session, source domain.Source, opts fetcher.FetchOptions) (*fetcher.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.fail[source.ID]; err != nil {
		return nil, err
	}
	all, ok := f.posts[source.ID]
	if !ok {
		return &fetcher.Page{Restricted: &fetcher.Restriction{Kind: fetcher.RestrictedPermission, Reason: "private"}}, nil
	}
	if !opts.Since.IsZero() {
		var newer []domain.Post
		for _, p := range all {
			if p.CreatedAt.After(opts.Since) {
				newer = append(newer, p)
			}
		}
		all = newer
	}

	start := 0
	if opts.After != "" {
		start, _ = strconv.Atoi(opts.After)
	}
	size := opts.PageSize
	if size <= 0 {
		size = 10
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}

	page := &fetcher.Page{Items: append([]domain.Post(nil), all[start:end]...)}
	if end < len(all) {
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}

func (f *stubFetcher) failWith(sourceID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail == nil {
		f.fail = map[string]error{}
	}
	f.fail[sourceID] = err
}

func (f *stubFetcher) add(sourceID string, posts ...domain.Post) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts[sourceID] = append(f.posts[sourceID], posts...)
}

func makePosts(sourceID string, n int) []domain.Post {
	base := time.Now().UTC().Add(-48 * time.Hour)
	posts := make([]domain.Post, n)
	for i := range posts {
		id := fmt.Sprintf("%s_%d", sourceID, i)
		posts[i] = domain.Post{
			ID:         id,
			SourceID:   sourceID,
			SourceKind: domain.KindGroup,
			AuthorID:   fmt.Sprintf("a%d", i%3),
			AuthorName: fmt.Sprintf("Author %d", i%3),
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
			Message:    "post " + id,
		}
	}
	return posts
}

type testEnv struct {
	h       *Handler
	router  *gin.Engine
	fetcher *stubFetcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := packages.Open(context.Background(), filepath.Join(t.TempDir(), "api.db"), packages.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	key, err := config.DeriveTokenKey("handler-test-secret")
	require.NoError(t, err)

	cfg := &config.AppConfig{
		GraphAPIVersion:    "v24.0",
		MaxPageSize:        100,
		PhoneMaxFileBytes:  1 << 20,
		PhoneRedisKey:      "test:phones",
		OutputsDir:         t.TempDir(),
		DefaultUserID:      "local",
		TokenEncryptionKey: key,
	}

	f := &stubFetcher{posts: map[string][]domain.Post{}}
	h := NewHandler(cfg, store, cloudstore.NewMemoryStore(), f, nil, nil)
	return &testEnv{h: h, router: h.NewRouter(), fetcher: f}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) upload(t *testing.T, path, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// configure stores a token and one group for the default user.
func (e *testEnv) configure(t *testing.T) {
	t.Helper()
	w := e.do(t, http.MethodPut, "/api/settings/token", map[string]string{"accessToken": "EAAB"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = e.do(t, http.MethodPut, "/api/settings", map[string]any{
		"groups": []map[string]string{{"id": "g1", "displayName": "Makers"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func (e *testEnv) runLoad(t *testing.T, req map[string]any) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/load", req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	require.Eventually(t, func() bool {
		w := e.do(t, http.MethodGet, "/api/load/progress", nil)
		body := decode[map[string]any](t, w)
		progress := body["progress"].(map[string]any)
		return progress["status"] != string(domain.StatusLoading)
	}, 5*time.Second, 10*time.Millisecond)
}

func TestHealthCheck(t *testing.T) {
	e := newTestEnv(t)
	w := e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	body := decode[map[string]string](t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "memory", body["phoneIndex"])
	assert.Equal(t, "disabled", body["worker"])
}

func TestSettings(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/settings", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[settingsView](t, w)
	assert.False(t, view.HasToken)
	assert.Equal(t, "v24.0", view.APIVersion)
	assert.Empty(t, view.Groups)

	w = e.do(t, http.MethodPut, "/api/settings", map[string]any{"groups": []map[string]string{{"id": " "}}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPut, "/api/settings/token", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e.configure(t)
	w = e.do(t, http.MethodPut, "/api/settings", map[string]any{
		"apiVersion": "v23.0",
		"groups":     []map[string]string{{"id": "g1"}, {"id": "g1"}},
		"pages":      []map[string]string{{"id": "p1"}},
	})
	require.Equal(t, http.StatusOK, w.Code)

	view = decode[settingsView](t, e.do(t, http.MethodGet, "/api/settings", nil))
	assert.True(t, view.HasToken)
	assert.Equal(t, "v23.0", view.APIVersion)
	require.Len(t, view.Groups, 1)
	assert.Equal(t, domain.KindGroup, view.Groups[0].Kind)
	require.Len(t, view.Pages, 1)
	assert.Equal(t, domain.KindPage, view.Pages[0].Kind)

	other := decode[settingsView](t, e.do(t, http.MethodGet, "/api/settings", nil, "X-User-ID", "someone"))
	assert.False(t, other.HasToken)
}

func TestCloudStoreUnavailable(t *testing.T) {
	e := newTestEnv(t)
	e.h.Config.DBInitErr = fmt.Errorf("failed to connect to the DB")

	w := e.do(t, http.MethodGet, "/api/settings", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "failed to connect")

	w = e.do(t, http.MethodGet, "/api/phone/records", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLoadRequiresTokenAndValidRequest(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/load", map[string]any{"maxItems": 10, "batchSize": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e.configure(t)
	w = e.do(t, http.MethodPost, "/api/load", map[string]any{"maxItems": 0, "batchSize": 5})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/load", map[string]any{"maxItems": 10, "batchSize": 5, "sortBy": "random"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodGet, "/api/load/result", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodPost, "/api/load/stop", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLoadSaveAndPackageLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.configure(t)
	e.fetcher.add("g1", makePosts("g1", 25)...)

	e.runLoad(t, map[string]any{
		"maxItems":  20,
		"batchSize": 10,
		"sources": []map[string]string{
			{"id": "secret", "kind": "group"},
			{"id": "g1", "kind": "group"},
		},
	})

	w := e.do(t, http.MethodGet, "/api/load/result", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[map[string]any](t, w)
	assert.Equal(t, string(domain.StatusCompleted), res["status"])
	assert.Len(t, res["posts"], 20)
	assert.Len(t, res["restrictedSources"], 1)

	w = e.do(t, http.MethodPost, "/api/load/save", map[string]string{"name": "October"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode[map[string]string](t, w)["id"]
	require.NotEmpty(t, id)

	list := decode[[]domain.PackageSummary](t, e.do(t, http.MethodGet, "/api/packages", nil))
	require.Len(t, list, 1)
	assert.Equal(t, "October", list[0].Name)
	assert.Equal(t, 20, list[0].Metadata.TotalPosts)

	w = e.do(t, http.MethodGet, "/api/packages/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[packageView](t, w)
	assert.Len(t, view.Posts, 20)
	assert.Contains(t, string(view.Analytics), "topAuthors")

	fresh := makePosts("g1", 1)[0]
	fresh.ID = "g1_new"
	fresh.CreatedAt = time.Now().UTC().Add(time.Hour)
	e.fetcher.add("g1", fresh)

	w = e.do(t, http.MethodPost, "/api/packages/"+id+"/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	refresh := decode[map[string]map[string]any](t, w)
	require.NotNil(t, refresh["update"])
	assert.Len(t, refresh["delta"]["newPosts"], 1)

	view = decode[packageView](t, e.do(t, http.MethodGet, "/api/packages/"+id, nil))
	assert.Equal(t, 1, view.UpdateCount)
	assert.Len(t, view.Posts, 21)

	w = e.do(t, http.MethodPost, "/api/packages/"+id+"/compact", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view = decode[packageView](t, e.do(t, http.MethodGet, "/api/packages/"+id, nil))
	assert.Equal(t, 0, view.UpdateCount)
	assert.Len(t, view.Posts, 21)

	w = e.do(t, http.MethodGet, "/api/packages/"+id+"/export/csv", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")
	assert.Equal(t, 22, strings.Count(w.Body.String(), "\n"))

	w = e.do(t, http.MethodGet, "/api/packages/"+id+"/export?save=true", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "export_id_"+id)

	w = e.do(t, http.MethodGet, "/api/packages/"+id+"/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	exported := w.Body.String()

	w = e.do(t, http.MethodPost, "/api/packages/import", exported)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	importedID := decode[map[string]string](t, w)["id"]
	assert.NotEqual(t, id, importedID)

	w = e.do(t, http.MethodPost, "/api/packages/import", `{"package": null}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodDelete, "/api/packages/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = e.do(t, http.MethodGet, "/api/packages/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = e.do(t, http.MethodDelete, "/api/packages/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = e.do(t, http.MethodDelete, "/api/packages", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Empty(t, decode[[]domain.PackageSummary](t, e.do(t, http.MethodGet, "/api/packages", nil)))
}

func TestLoadStateIsPerUser(t *testing.T) {
	e := newTestEnv(t)
	e.configure(t)
	e.fetcher.add("g1", makePosts("g1", 3)...)

	e.runLoad(t, map[string]any{"maxItems": 10, "batchSize": 10})

	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/api/load/result", nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/load/result", nil, "X-User-ID", "bob").Code)
}

func TestFeedPaging(t *testing.T) {
	e := newTestEnv(t)
	e.configure(t)
	e.h.Config.MaxPageSize = 100
	e.fetcher.add("g1", makePosts("g1", 150)...)

	w := e.do(t, http.MethodPost, "/api/feed/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decode[map[string]any](t, w)
	assert.Len(t, first["posts"], 100)
	assert.Equal(t, true, first["hasMore"])

	w = e.do(t, http.MethodPost, "/api/feed/older", nil)
	require.Equal(t, http.StatusOK, w.Code)
	second := decode[map[string]any](t, w)
	assert.Len(t, second["posts"], 50)
	assert.Equal(t, false, second["hasMore"])

	w = e.do(t, http.MethodPost, "/api/feed/older", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[map[string]any](t, w)["posts"])
}

func TestFeedKeepsPostsFetchedBeforeAFailure(t *testing.T) {
	e := newTestEnv(t)
	e.configure(t)
	e.fetcher.add("g1", makePosts("g1", 150)...)
	e.fetcher.add("g2", makePosts("g2", 150)...)
	sources := map[string]any{"sources": []map[string]string{
		{"id": "g1", "kind": "group"},
		{"id": "g2", "kind": "group"},
	}}

	w := e.do(t, http.MethodPost, "/api/feed/refresh", sources)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, decode[map[string]any](t, w)["posts"], 200)

	e.fetcher.failWith("g2", &fetcher.TransportError{SourceID: "g2", Status: http.StatusServiceUnavailable, Err: io.ErrUnexpectedEOF})

	w = e.do(t, http.MethodPost, "/api/feed/older", nil)
	require.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())
	partial := decode[map[string]any](t, w)
	assert.Len(t, partial["posts"], 50)
	assert.Contains(t, partial["error"], "source g2")
	assert.Equal(t, true, partial["hasMore"])
	for _, p := range partial["posts"].([]any) {
		assert.Equal(t, "g1", p.(map[string]any)["sourceId"])
	}

	e.fetcher.failWith("g2", nil)
	w = e.do(t, http.MethodPost, "/api/feed/older", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	rest := decode[map[string]any](t, w)
	assert.Len(t, rest["posts"], 50)
	assert.Equal(t, false, rest["hasMore"])
}

func TestPhoneIndexInMemory(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/phone/100", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.upload(t, "/api/phone/index", "phones.json", []byte(`{"100": "+15550100", "200": "+15550200"}`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode[map[string]any](t, w)
	assert.Equal(t, "memory", body["backend"])
	assert.EqualValues(t, 2, body["entries"])

	w = e.do(t, http.MethodGet, "/api/phone/100", nil)
	require.Equal(t, http.StatusOK, w.Code)
	found := decode[map[string]any](t, w)
	assert.Equal(t, true, found["found"])
	assert.Equal(t, "+15550100", found["record"].(map[string]any)["phone"])

	w = e.do(t, http.MethodGet, "/api/phone/999", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decode[map[string]any](t, w)["found"])

	records := decode[[]domain.PhoneRecord](t, e.do(t, http.MethodGet, "/api/phone/records", nil))
	require.Len(t, records, 1)
	assert.Equal(t, "phones.json", records[0].Source)

	settings := decode[settingsView](t, e.do(t, http.MethodGet, "/api/settings", nil))
	assert.Equal(t, "phones.json", settings.PhoneFile)

	w = e.upload(t, "/api/phone/index", "bad.json", []byte(`[1, 2`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPhoneIndexTooLargeWithoutRedis(t *testing.T) {
	e := newTestEnv(t)
	e.h.Config.PhoneMaxFileBytes = 10

	w := e.upload(t, "/api/phone/index", "phones.json", []byte(`{"100": "+15550100"}`))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestPhoneIndexLargeFileGoesToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	e := newTestEnv(t)
	e.h.Redis = client
	e.h.Config.PhoneMaxFileBytes = 10

	w := e.upload(t, "/api/phone/index", "big.json", []byte(`[{"id": "100", "phone": "+15550100"}]`))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "redis", decode[map[string]any](t, w)["backend"])

	assert.Equal(t, "+15550100", mr.HGet("test:phones:local", "100"))

	// A fresh process reattaches the stored index.
	e2 := newTestEnv(t)
	e2.h.Redis = client
	w = e2.do(t, http.MethodGet, "/api/phone/100", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode[map[string]any](t, w)["found"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(packages.ErrPackageNotFound))
	assert.Equal(t, http.StatusConflict, statusFor(fmt.Errorf("wrap: %w", loader.ErrAlreadyLoading)))
	assert.Equal(t, http.StatusUnauthorized, statusFor(fmt.Errorf("x: %w", fetcher.ErrInvalidToken)))
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
	assert.Equal(t, http.StatusBadGateway, statusFor(&fetcher.TransportError{SourceID: "g1", Err: io.ErrUnexpectedEOF}))
}
