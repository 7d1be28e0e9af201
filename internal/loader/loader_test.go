// SPDX-License-Identifier: AGPL-3.0-only
package loader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/fetcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(f PageFetcher) *Loader {
	return New(f, nil, nil, Options{Now: func() time.Time { return testNow }})
}

func baseRequest(sources ...domain.Source) Request {
	return Request{
		Sources:   sources,
		TimeRange: RangeAll,
		MaxItems:  100,
		BatchSize: 25,
		SortBy:    SortNewest,
	}
}

func TestRunValidation(t *testing.T) {
	f := newFakeFetcher()
	l := newTestLoader(f)

	tests := []struct {
		name   string
		mutate func(r *Request)
		want   error
	}{
		{"no sources", func(r *Request) { r.Sources = nil }, ErrNoSources},
		{"source without id", func(r *Request) { r.Sources = []domain.Source{{Kind: domain.KindGroup}} }, ErrNoSources},
		{"zero max items", func(r *Request) { r.MaxItems = 0 }, ErrInvalidMaxItems},
		{"negative batch", func(r *Request) { r.BatchSize = -1 }, ErrInvalidBatchSize},
		{"unknown range", func(r *Request) { r.TimeRange = "year" }, ErrInvalidTimeRange},
		{"custom without bounds", func(r *Request) { r.TimeRange = RangeCustom }, ErrInvalidTimeRange},
		{"custom reversed", func(r *Request) {
			r.TimeRange = RangeCustom
			r.CustomStart = testNow
			r.CustomEnd = testNow.Add(-time.Hour)
		}, ErrInvalidTimeRange},
		{"unknown sort", func(r *Request) { r.SortBy = "random" }, ErrInvalidSort},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := baseRequest(group("g1"))
			tt.mutate(&req)

			res, err := l.Run(context.Background(), testSession, req, nil)
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, res)
		})
	}

	assert.Empty(t, f.calls, "validation must happen before any fetch")
}

func TestRunRequiresToken(t *testing.T) {
	l := newTestLoader(newFakeFetcher())
	_, err := l.Run(context.Background(), domain.Session{}, baseRequest(group("g1")), nil)
	assert.ErrorIs(t, err, domain.ErrMissingToken)
}

func TestRunExampleScenario(t *testing.T) {
	all := makePosts("g1", 35, testNow)
	f := newFakeFetcher()
	f.feed("g1", all[:25], all[25:])
	l := newTestLoader(f)

	var updates []domain.Progress
	res, err := l.Run(context.Background(), testSession, baseRequest(group("g1")), func(p domain.Progress) {
		updates = append(updates, p)
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Len(t, res.Posts, 35)
	assert.False(t, l.HasMorePosts())

	calls := f.callsFor("g1")
	require.Len(t, calls, 2)
	assert.Equal(t, "", calls[0].opts.After)
	assert.Equal(t, "g1-1", calls[1].opts.After)

	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, domain.StatusCompleted, last.Status)
	assert.Equal(t, 35, last.LoadedPosts)
	assert.Equal(t, 4, last.TotalBatches)
	assert.Equal(t, 2, last.CurrentBatch)
	assert.Equal(t, domain.StatusCompleted, l.Progress().Status)
}

func TestRunMaxItemsCap(t *testing.T) {
	a := makePosts("a", 30, testNow)
	b := makePosts("b", 30, testNow)
	f := newFakeFetcher()
	f.feed("a", a[:10], a[10:20], a[20:])
	f.feed("b", b[:10], b[10:20], b[20:])
	l := newTestLoader(f)

	req := baseRequest(group("a"), group("b"))
	req.MaxItems = 25
	req.BatchSize = 10

	res, err := l.Run(context.Background(), testSession, req, nil)
	require.NoError(t, err)

	assert.LessOrEqual(t, len(res.Posts), 25)
	assert.Len(t, res.Posts, 25)
	assert.Len(t, f.callsFor("b"), 0)

	calls := f.callsFor("a")
	require.Len(t, calls, 3)
	assert.Equal(t, 5, calls[2].opts.PageSize)
}

func TestRunRestrictedSourceIsolation(t *testing.T) {
	b := makePosts("b", 12, testNow)
	f := newFakeFetcher()
	f.restrict("a", fetcher.RestrictedPermission)
	f.feed("b", b)
	l := newTestLoader(f)

	res, err := l.Run(context.Background(), testSession, baseRequest(group("a"), group("b")), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Len(t, res.Posts, 12)
	for _, p := range res.Posts {
		assert.Equal(t, "b", p.SourceID)
	}
	require.Len(t, res.RestrictedSources, 1)
	assert.Equal(t, "a", res.RestrictedSources[0].Source.ID)
	assert.Equal(t, fetcher.RestrictedPermission, res.RestrictedSources[0].Kind)
	assert.False(t, res.RestrictedSources[0].Retryable)
	assert.Contains(t, res.Message, "1 source restricted")
}

func TestRunRateLimitedSourceIsSkipped(t *testing.T) {
	f := newFakeFetcher()
	f.restrict("a", fetcher.RestrictedRateLimit)
	f.feed("b", makePosts("b", 3, testNow))
	l := newTestLoader(f)

	res, err := l.Run(context.Background(), testSession, baseRequest(group("a"), group("b")), nil)
	require.NoError(t, err)
	assert.Len(t, res.Posts, 3)
	require.Len(t, res.RestrictedSources, 1)
	assert.Equal(t, fetcher.RestrictedRateLimit, res.RestrictedSources[0].Kind)
	assert.True(t, res.RestrictedSources[0].Retryable)
}

func TestRunWeekFilter(t *testing.T) {
	posts := []domain.Post{
		{ID: "p1", SourceID: "g1", CreatedAt: testNow.Add(-24 * time.Hour)},
		{ID: "p2", SourceID: "g1", CreatedAt: testNow.Add(-6 * 24 * time.Hour)},
		{ID: "p3", SourceID: "g1", CreatedAt: testNow.Add(-10 * 24 * time.Hour)},
		{ID: "p4", SourceID: "g1", CreatedAt: testNow.Add(-40 * 24 * time.Hour)},
	}
	f := newFakeFetcher()
	f.feed("g1", posts)
	l := newTestLoader(f)

	req := baseRequest(group("g1"))
	req.TimeRange = RangeWeek

	res, err := l.Run(context.Background(), testSession, req, nil)
	require.NoError(t, err)

	require.Len(t, res.Posts, 2)
	weekAgo := testNow.AddDate(0, 0, -7)
	for _, p := range res.Posts {
		assert.False(t, p.CreatedAt.Before(weekAgo))
	}
}

func TestRunKeywordAndSort(t *testing.T) {
	posts := []domain.Post{
		{ID: "p1", CreatedAt: testNow.Add(-3 * time.Hour), Message: "Bike for <b>sale</b>", CommentCount: 1},
		{ID: "p2", CreatedAt: testNow.Add(-1 * time.Hour), Message: "selling my BIKE", CommentCount: 9},
		{ID: "p3", CreatedAt: testNow.Add(-2 * time.Hour), Message: "car wanted", CommentCount: 20},
		{ID: "p4", CreatedAt: testNow.Add(-4 * time.Hour), Message: "old bike", CommentCount: 5},
	}
	f := newFakeFetcher()
	f.feed("g1", posts)
	l := newTestLoader(f)

	req := baseRequest(group("g1"))
	req.Keyword = "bike"

	req.SortBy = SortOldest
	res, err := l.Run(context.Background(), testSession, req, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"p4", "p1", "p2"}, postIDs(res.Posts))

	req.SortBy = SortMostComments
	res, err = l.Run(context.Background(), testSession, req, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p4", "p1"}, postIDs(res.Posts))

	req.SortBy = SortNewest
	res, err = l.Run(context.Background(), testSession, req, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2", "p1", "p4"}, postIDs(res.Posts))
}

func TestRunCustomRange(t *testing.T) {
	posts := makePosts("g1", 10, testNow)
	f := newFakeFetcher()
	f.feed("g1", posts)
	l := newTestLoader(f)

	req := baseRequest(group("g1"))
	req.TimeRange = RangeCustom
	req.CustomStart = testNow.Add(-5 * time.Hour)
	req.CustomEnd = testNow.Add(-2 * time.Hour)

	res, err := l.Run(context.Background(), testSession, req, nil)
	require.NoError(t, err)
	assert.Len(t, res.Posts, 4)
}

func TestRunCollectsCommentsAndUsers(t *testing.T) {
	posts := []domain.Post{{
		ID: "p1", AuthorID: "u1", AuthorName: "Ann", CreatedAt: testNow,
		Comments: []domain.Comment{
			{ID: "c1", PostID: "p1", AuthorID: "u2", AuthorName: "Bob"},
			{ID: "c2", PostID: "p1", AuthorID: "u2", AuthorName: "Bob"},
		},
		CommentCount: 2,
	}}
	f := newFakeFetcher()
	f.feed("g1", posts)
	l := newTestLoader(f)

	req := baseRequest(group("g1"))
	req.IncludeComments = true

	res, err := l.Run(context.Background(), testSession, req, nil)
	require.NoError(t, err)

	assert.True(t, f.callsFor("g1")[0].opts.IncludeComments)
	assert.Len(t, res.Comments, 2)
	require.Len(t, res.Users, 2)
	assert.Equal(t, "u2", res.Users[0].ID)
	assert.Equal(t, 2, res.Users[0].CommentCount)
}

func TestRunTransportErrorKeepsPartialResults(t *testing.T) {
	f := newFakeFetcher()
	f.feed("a", makePosts("a", 5, testNow))
	f.errs["b"] = &fetcher.TransportError{SourceID: "b", Status: 502, Err: errors.New("bad gateway")}
	f.feed("c", makePosts("c", 5, testNow))
	l := newTestLoader(f)

	res, err := l.Run(context.Background(), testSession, baseRequest(group("a"), group("b"), group("c")), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusError, res.Status)
	assert.Len(t, res.Posts, 5)
	var te *fetcher.TransportError
	assert.True(t, errors.As(res.Err, &te))
	assert.Contains(t, res.Message, "Loading failed")
	assert.Empty(t, f.callsFor("c"))
	assert.Equal(t, domain.StatusError, l.Progress().Status)
	assert.NotEmpty(t, l.Progress().Error)
}

func TestRunInvalidToken(t *testing.T) {
	f := newFakeFetcher()
	f.errs["a"] = fetcher.ErrInvalidToken
	l := newTestLoader(f)

	res, err := l.Run(context.Background(), testSession, baseRequest(group("a")), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusError, res.Status)
	assert.ErrorIs(t, res.Err, fetcher.ErrInvalidToken)
	assert.Contains(t, res.Message, "invalid or expired")
}

func TestRunStopKeepsPartialResults(t *testing.T) {
	all := makePosts("g1", 30, testNow)
	f := newFakeFetcher()
	f.feed("g1", all[:10], all[10:20], all[20:])
	l := newTestLoader(f)

	f.onFetch = func(call fetchCall) {
		if call.opts.After == "" {
			assert.True(t, l.Stop())
		}
	}

	req := baseRequest(group("g1"))
	req.BatchSize = 10

	res, err := l.Run(context.Background(), testSession, req, nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusStopped, res.Status)
	assert.Len(t, res.Posts, 10)
	assert.Len(t, f.callsFor("g1"), 1)
	assert.False(t, l.Stop(), "stop after finish reports no running load")
}

func TestRunContextCancelIsStopped(t *testing.T) {
	all := makePosts("g1", 20, testNow)
	f := newFakeFetcher()
	f.feed("g1", all[:10], all[10:])
	l := newTestLoader(f)

	ctx, cancel := context.WithCancel(context.Background())
	f.onFetch = func(fetchCall) { cancel() }

	res, err := l.Run(ctx, testSession, baseRequest(group("g1")), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, res.Status)
	assert.Len(t, res.Posts, 10)
}

func TestRunRepeatedTokenEndsSource(t *testing.T) {
	f := newFakeFetcher()
	f.pages["g1"] = map[string]*fetcher.Page{
		"":     {Items: makePosts("g1", 2, testNow), NextToken: "SAME"},
		"SAME": {Items: makePosts("g1", 2, testNow.Add(-48*time.Hour)), NextToken: "SAME"},
	}
	l := newTestLoader(f)

	res, err := l.Run(context.Background(), testSession, baseRequest(group("g1")), nil)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Len(t, f.callsFor("g1"), 2)
	assert.False(t, l.HasMorePosts())
}

func TestRunRejectsConcurrentLoad(t *testing.T) {
	f := newFakeFetcher()
	f.feed("g1", makePosts("g1", 3, testNow))
	l := newTestLoader(f)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.onFetch = func(fetchCall) {
		once.Do(func() { close(entered) })
		<-release
	}

	done := make(chan *Result)
	go func() {
		res, _ := l.Run(context.Background(), testSession, baseRequest(group("g1")), nil)
		done <- res
	}()

	<-entered
	assert.True(t, l.IsLoading())
	_, err := l.Run(context.Background(), testSession, baseRequest(group("g1")), nil)
	assert.ErrorIs(t, err, ErrAlreadyLoading)

	close(release)
	res := <-done
	require.NotNil(t, res)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Same(t, res, l.Result())
}

func TestStartRunsInBackground(t *testing.T) {
	f := newFakeFetcher()
	f.feed("g1", makePosts("g1", 3, testNow))
	l := newTestLoader(f)

	release := make(chan struct{})
	f.onFetch = func(fetchCall) { <-release }

	require.NoError(t, l.Start(context.Background(), testSession, baseRequest(group("g1")), nil))
	assert.True(t, l.IsLoading())
	assert.Nil(t, l.Result())
	assert.ErrorIs(t, l.Start(context.Background(), testSession, baseRequest(group("g1")), nil), ErrAlreadyLoading)

	close(release)
	require.Eventually(t, func() bool { return !l.IsLoading() }, time.Second, 5*time.Millisecond)
	require.NotNil(t, l.Result())
	assert.Equal(t, domain.StatusCompleted, l.Result().Status)

	assert.ErrorIs(t, l.Start(context.Background(), testSession, Request{}, nil), ErrNoSources)
}

func TestNewLoadForgetsEarlierCursors(t *testing.T) {
	f := newFakeFetcher()
	f.feed("gA", makePosts("gA", 10, testNow), makePosts("gA-older", 10, testNow.Add(-24*time.Hour)))
	f.feed("gB", makePosts("gB", 5, testNow))
	l := newTestLoader(f)

	req := baseRequest(group("gA"))
	req.MaxItems = 10
	res, err := l.Run(context.Background(), testSession, req, nil)
	require.NoError(t, err)
	require.Len(t, res.Posts, 10)
	assert.True(t, l.HasMorePosts())

	res, err = l.Run(context.Background(), testSession, baseRequest(group("gB")), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Len(t, res.Posts, 5)
	assert.False(t, l.HasMorePosts())
}

func postIDs(posts []domain.Post) []string {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	return ids
}
