// SPDX-License-Identifier: AGPL-3.0-only
package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const CheckInterval = 6 * time.Hour

// RemoteVersion is the document served at the update check URL.
type RemoteVersion struct {
	Latest string `json:"latest"`
	URL    string `json:"url,omitempty"`
}

// Updater polls a version document and remembers whether a newer release
// than the running one exists.
type Updater struct {
	mu              sync.RWMutex
	updateAvailable bool
	remoteVersion   RemoteVersion
	lastChecked     time.Time

	url            string
	currentVersion string
	checkInterval  time.Duration
	client         *http.Client
	stop           chan struct{}
}

func NewUpdater(url, currentVersion string, client *http.Client) *Updater {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Updater{
		url:            url,
		currentVersion: currentVersion,
		checkInterval:  CheckInterval,
		client:         client,
		stop:           make(chan struct{}),
	}
}

// Start checks once right away and then every CheckInterval until Stop.
func (u *Updater) Start() {
	go func() {
		_ = u.Check(context.Background())

		ticker := time.NewTicker(u.checkInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = u.Check(context.Background())
			case <-u.stop:
				return
			}
		}
	}()
}

func (u *Updater) Stop() {
	close(u.stop)
}

func (u *Updater) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.url, nil)
	if err != nil {
		return err
	}

	resp, err := u.client.Do(req)
	if err != nil {
		log.Printf("Updater: Failed to check for updates: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("Updater: Failed to check for updates: status code %d", resp.StatusCode)
		return fmt.Errorf("update check returned status %d", resp.StatusCode)
	}

	var rv RemoteVersion
	if err := json.NewDecoder(resp.Body).Decode(&rv); err != nil {
		log.Printf("Updater: Failed to decode update response: %v", err)
		return err
	}

	newer := isNewer(rv.Latest, u.currentVersion)

	u.mu.Lock()
	u.remoteVersion = rv
	u.updateAvailable = newer
	u.lastChecked = time.Now()
	u.mu.Unlock()

	if newer {
		log.WithFields(log.Fields{"current": u.currentVersion, "latest": rv.Latest}).Info("Updater: New version available")
	}
	return nil
}

// isNewer compares dotted numeric versions. A leading "v" is ignored and
// development builds never report updates.
func isNewer(remote, current string) bool {
	remote = strings.TrimPrefix(strings.TrimSpace(remote), "v")
	current = strings.TrimPrefix(strings.TrimSpace(current), "v")

	if remote == "" || remote == current || current == "dev" || current == "unknown" {
		return false
	}

	rParts := strings.Split(remote, ".")
	cParts := strings.Split(current, ".")

	maxLen := min(len(rParts), len(cParts))
	for i := 0; i < maxLen; i++ {
		var rVal, cVal int
		fmt.Sscanf(rParts[i], "%d", &rVal)
		fmt.Sscanf(cParts[i], "%d", &cVal)

		if rVal > cVal {
			return true
		}
		if rVal < cVal {
			return false
		}
	}

	return len(rParts) > len(cParts)
}

func (u *Updater) IsUpdateAvailable() bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.updateAvailable
}

func (u *Updater) GetUpdateInfo() (RemoteVersion, time.Time) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.remoteVersion, u.lastChecked
}
