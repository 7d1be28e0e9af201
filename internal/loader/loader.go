// SPDX-License-Identifier: AGPL-3.0-only
package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fluffyriot/fbtracker/internal/cursor"
	"github.com/fluffyriot/fbtracker/internal/domain"
	"github.com/fluffyriot/fbtracker/internal/fetcher"
	"github.com/fluffyriot/fbtracker/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// Result is the outcome of a bulk load. Posts fetched before a stop or an
// error are kept.
type Result struct {
	Sources           []domain.Source    `json:"sources"`
	Posts             []domain.Post      `json:"posts"`
	Comments          []domain.Comment   `json:"comments"`
	Users             []domain.User      `json:"users"`
	RestrictedSources []RestrictedSource `json:"restrictedSources"`
	Status            domain.LoadStatus  `json:"status"`
	Message           string             `json:"message"`
	Err               error              `json:"-"`
}

type Options struct {
	// IncrementalMaxItems caps how many posts one incremental pass fetches.
	IncrementalMaxItems int
	// PageSize is used by incremental passes.
	PageSize int
	Now      func() time.Time
}

// Loader runs bulk loads for a single user. At most one load runs at a time.
type Loader struct {
	fetcher PageFetcher
	tracker *cursor.Tracker
	store   PackageStore
	opts    Options

	mu       sync.Mutex
	progress domain.Progress
	result   *Result
	stop     bool
}

func New(f PageFetcher, tracker *cursor.Tracker, store PackageStore, opts Options) *Loader {
	if tracker == nil {
		tracker = cursor.NewTracker()
	}
	if opts.IncrementalMaxItems <= 0 {
		opts.IncrementalMaxItems = 500
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Loader{
		fetcher:  f,
		tracker:  tracker,
		store:    store,
		opts:     opts,
		progress: domain.Progress{Status: domain.StatusIdle},
	}
}

// Run performs a bulk load and blocks until it finishes. The returned error
// is only set when the request is rejected before loading starts. Failures
// during the load are reported through Result.Status and Result.Err.
func (l *Loader) Run(ctx context.Context, sess domain.Session, req Request, onProgress func(domain.Progress)) (*Result, error) {
	req, err := l.begin(sess, req, onProgress)
	if err != nil {
		return nil, err
	}
	return l.execute(ctx, sess, req, onProgress), nil
}

// Start is Run in the background. Once it returns nil the load is running
// and IsLoading reports true until it finishes.
func (l *Loader) Start(ctx context.Context, sess domain.Session, req Request, onProgress func(domain.Progress)) error {
	req, err := l.begin(sess, req, onProgress)
	if err != nil {
		return err
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("panic in background load: %v", r)
				l.updateProgress(func(pr *domain.Progress) {
					pr.Status = domain.StatusError
					pr.Error = fmt.Sprint(r)
				})
			}
		}()
		l.execute(ctx, sess, req, onProgress)
	}()
	return nil
}

// begin validates the request and marks the loader busy.
func (l *Loader) begin(sess domain.Session, req Request, onProgress func(domain.Progress)) (Request, error) {
	req.normalize()
	if err := req.Validate(); err != nil {
		return req, err
	}
	if err := sess.Validate(); err != nil {
		return req, err
	}

	l.mu.Lock()
	if l.progress.Status == domain.StatusLoading {
		l.mu.Unlock()
		return req, ErrAlreadyLoading
	}
	l.stop = false
	l.result = nil
	l.tracker.Reset()
	l.progress = domain.Progress{
		TotalBatches: req.TotalBatches(),
		Status:       domain.StatusLoading,
	}
	started := l.progress
	l.mu.Unlock()

	if onProgress != nil {
		onProgress(started)
	}
	return req, nil
}

func (l *Loader) execute(ctx context.Context, sess domain.Session, req Request, onProgress func(domain.Progress)) *Result {
	start := time.Now()
	log.WithFields(log.Fields{"user": sess.UserID, "sources": len(req.Sources), "maxItems": req.MaxItems}).
		Info("Loader: Starting bulk load")

	p := &pass{
		fetcher:   l.fetcher,
		tracker:   l.tracker,
		sess:      sess,
		opts:      fetcher.FetchOptions{IncludeComments: req.IncludeComments},
		maxItems:  req.MaxItems,
		batchSize: req.BatchSize,
		stopped:   l.stopRequested,
		onPage: func(source domain.Source, batch int, posts []domain.Post) {
			pr := l.updateProgress(func(pr *domain.Progress) {
				pr.CurrentSource = source.Name()
				pr.CurrentBatch = batch
				pr.LoadedPosts = len(posts)
				pr.LoadedComments = countComments(posts)
			})
			if onProgress != nil {
				onProgress(pr)
			}
		},
	}

	out := p.run(ctx, req.Sources)
	res := l.finish(req, out)

	final := l.updateProgress(func(pr *domain.Progress) {
		pr.Status = res.Status
		pr.LoadedPosts = len(out.posts)
		pr.LoadedComments = countComments(out.posts)
		if res.Err != nil {
			pr.Error = res.Message
		}
	})
	if onProgress != nil {
		onProgress(final)
	}

	metrics.ObserveLoad(string(res.Status), start)
	log.WithFields(log.Fields{"user": sess.UserID, "status": res.Status}).Infof("Loader: %s", res.Message)

	return res
}

func (l *Loader) finish(req Request, out outcome) *Result {
	posts := applyFilters(out.posts, req, l.opts.Now())
	comments := domain.FlattenComments(posts)

	res := &Result{
		Sources:           req.Sources,
		Posts:             posts,
		Comments:          comments,
		Users:             domain.CollectUsers(posts, comments),
		RestrictedSources: out.restricted,
	}

	switch {
	case out.stopped:
		res.Status = domain.StatusStopped
		res.Message = fmt.Sprintf("Loading stopped. Kept %d posts and %d comments", len(posts), len(comments))
	case out.err != nil:
		res.Status = domain.StatusError
		res.Err = out.err
		if isInvalidToken(out.err) {
			res.Message = fmt.Sprintf("Access token is invalid or expired. Kept %d posts and %d comments", len(posts), len(comments))
		} else {
			res.Message = fmt.Sprintf("Loading failed: %v. Kept %d posts and %d comments", out.err, len(posts), len(comments))
		}
	default:
		res.Status = domain.StatusCompleted
		res.Message = fmt.Sprintf("Loaded %d posts and %d comments from %d sources", len(posts), len(comments), len(req.Sources))
	}

	if n := len(out.restricted); n > 0 {
		res.Message += fmt.Sprintf(" (%d %s restricted)", n, plural(n, "source", "sources"))
		log.Infof("Loader: Restricted sources: %s", describeRestricted(out.restricted))
	}

	l.mu.Lock()
	l.result = res
	l.mu.Unlock()

	return res
}

func (l *Loader) updateProgress(fn func(*domain.Progress)) domain.Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(&l.progress)
	return l.progress
}

func (l *Loader) stopRequested() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stop
}

// Stop asks a running load to end after the page currently being fetched.
// It reports whether a load was running.
func (l *Loader) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.progress.Status != domain.StatusLoading {
		return false
	}
	l.stop = true
	return true
}

func (l *Loader) IsLoading() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.progress.Status == domain.StatusLoading
}

func (l *Loader) Progress() domain.Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.progress
}

// Result returns the outcome of the last finished load, or nil.
func (l *Loader) Result() *Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.result
}

// HasMorePosts reports whether any source of the last load still has pages.
func (l *Loader) HasMorePosts() bool {
	return l.tracker.HasMore()
}

func countComments(posts []domain.Post) int {
	n := 0
	for _, p := range posts {
		n += len(p.Comments)
	}
	return n
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// describeRestricted lists restricted sources by name for status messages.
func describeRestricted(rs []RestrictedSource) string {
	names := make([]string, 0, len(rs))
	for _, r := range rs {
		names = append(names, fmt.Sprintf("%s (%s)", r.Source.Name(), r.Kind))
	}
	return strings.Join(names, ", ")
}
