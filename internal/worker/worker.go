// SPDX-License-Identifier: AGPL-3.0-only
package worker

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

type Worker struct {
	Packages  PackageLister
	Refresher Refresher
	Sessions  SessionSource
	Ticker    *time.Ticker
	StopChan  chan bool
	mu        sync.Mutex
	running   bool
	active    bool
}

func NewWorker(packages PackageLister, refresher Refresher, sessions SessionSource) *Worker {
	return &Worker{
		Packages:  packages,
		Refresher: refresher,
		Sessions:  sessions,
		StopChan:  make(chan bool),
	}
}

func (w *Worker) Start(interval time.Duration) {
	if interval <= 0 {
		log.Println("Worker: Refresh interval is 0, scheduler disabled")
		return
	}

	w.mu.Lock()
	if w.active {
		w.mu.Unlock()
		log.Println("Worker: Scheduler already active, use Restart to change interval")
		return
	}
	w.active = true
	w.mu.Unlock()

	w.Ticker = time.NewTicker(interval)
	go func() {
		defer func() {
			w.mu.Lock()
			w.active = false
			w.mu.Unlock()
		}()
		for {
			select {
			case <-w.Ticker.C:
				w.RefreshAll(context.Background())
			case <-w.StopChan:
				w.Ticker.Stop()
				return
			}
		}
	}()
	log.Printf("Background worker started with interval: %v", interval)
}

func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.active {
		w.mu.Unlock()
		log.Println("Worker: Scheduler not active")
		return
	}
	w.mu.Unlock()

	w.StopChan <- true
	log.Println("Background worker stopped")
}

func (w *Worker) Restart(interval time.Duration) {
	w.mu.Lock()
	isActive := w.active
	w.mu.Unlock()

	if isActive {
		w.Stop()
		time.Sleep(100 * time.Millisecond)
	}
	w.Start(interval)
}

func (w *Worker) IsActive() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// RefreshAll runs one refresh pass unless one is already in progress. It
// reports whether a pass ran.
func (w *Worker) RefreshAll(ctx context.Context) (RunSummary, bool) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		log.Println("Worker: Refresh already in progress, skipping...")
		return RunSummary{}, false
	}
	w.running = true
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	summary, err := RunRefresh(ctx, w.Packages, w.Refresher, w.Sessions)
	if err != nil {
		log.Printf("Worker Refresh error: %v", err)
	}
	return summary, true
}
