// Package store owns the on-disk JSON state: the active and completed
// outcome stores, scraping progress, the dead-token blacklist and the
// historical-price cache. All files are UTF-8, pretty-printed with 2-space
// indent, written atomically via rename.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sawpanic/signalrun/internal/models"
	"github.com/sawpanic/signalrun/internal/prices"
)

// File layout under the data root.
const (
	activeFile    = "performance/tracking.json"
	completedFile = "completed_history.json"
	progressFile  = "scraped_channels.json"
	blacklistFile = "dead_tokens_blacklist.json"
	histCacheFile = "cache/historical_prices.json"
)

// Key builds the active-store key for a (channel, address) pair.
func Key(channelID, address string) string {
	return channelID + ":" + address
}

// Store is the single owner of the data-root files. Each file has its own
// lock; no operation holds two locks at once.
type Store struct {
	root string

	activeMu    sync.Mutex
	completedMu sync.Mutex
	progressMu  sync.Mutex
	blacklistMu sync.Mutex
	histMu      sync.Mutex
}

// New creates the store rooted at dataRoot, creating directories as needed.
func New(dataRoot string) (*Store, error) {
	for _, sub := range []string{"", "performance", "cache"} {
		if err := os.MkdirAll(filepath.Join(dataRoot, sub), 0755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return &Store{root: dataRoot}, nil
}

func (s *Store) path(rel string) string {
	return filepath.Join(s.root, rel)
}

// writeJSON writes v atomically: marshal, write temp file, rename.
func (s *Store) writeJSON(rel string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", rel, err)
	}
	data = append(data, '\n')

	path := s.path(rel)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", rel, err)
	}
	return nil
}

// readJSON loads rel into v. A missing file leaves v untouched.
func (s *Store) readJSON(rel string, v interface{}) error {
	data, err := os.ReadFile(s.path(rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", rel, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", rel, err)
	}
	return nil
}

// LoadActive returns the active outcomes keyed by (channel, address).
func (s *Store) LoadActive() (map[string]models.SignalOutcome, error) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	out := make(map[string]models.SignalOutcome)
	if err := s.readJSON(activeFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveActive overwrites the active store.
func (s *Store) SaveActive(active map[string]models.SignalOutcome) error {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return s.writeJSON(activeFile, active)
}

// LoadCompleted returns the completed outcome history in append order.
func (s *Store) LoadCompleted() ([]models.SignalOutcome, error) {
	s.completedMu.Lock()
	defer s.completedMu.Unlock()
	var out []models.SignalOutcome
	if err := s.readJSON(completedFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AppendCompleted appends one outcome to the completed history.
func (s *Store) AppendCompleted(o models.SignalOutcome) error {
	s.completedMu.Lock()
	defer s.completedMu.Unlock()
	var history []models.SignalOutcome
	if err := s.readJSON(completedFile, &history); err != nil {
		return err
	}
	history = append(history, o)
	return s.writeJSON(completedFile, history)
}

// LoadProgress returns per-channel scraping checkpoints.
func (s *Store) LoadProgress() (map[string]models.ScrapeProgress, error) {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	out := make(map[string]models.ScrapeProgress)
	if err := s.readJSON(progressFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveProgress overwrites the scraping-progress record.
func (s *Store) SaveProgress(progress map[string]models.ScrapeProgress) error {
	s.progressMu.Lock()
	defer s.progressMu.Unlock()
	return s.writeJSON(progressFile, progress)
}

// LoadBlacklist returns the persisted dead-token entries.
func (s *Store) LoadBlacklist() ([]models.BlacklistEntry, error) {
	s.blacklistMu.Lock()
	defer s.blacklistMu.Unlock()
	var out []models.BlacklistEntry
	if err := s.readJSON(blacklistFile, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveBlacklist overwrites the blacklist file.
func (s *Store) SaveBlacklist(entries []models.BlacklistEntry) error {
	s.blacklistMu.Lock()
	defer s.blacklistMu.Unlock()
	return s.writeJSON(blacklistFile, entries)
}

// GetWindow returns a cached forward-ATH window.
func (s *Store) GetWindow(key string) (*prices.ATHWindow, bool, error) {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	cache := make(map[string]*prices.ATHWindow)
	if err := s.readJSON(histCacheFile, &cache); err != nil {
		return nil, false, err
	}
	w, ok := cache[key]
	return w, ok, nil
}

// PutWindow stores a forward-ATH window. Windows are immutable: an existing
// key is never overwritten.
func (s *Store) PutWindow(key string, w *prices.ATHWindow) error {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	cache := make(map[string]*prices.ATHWindow)
	if err := s.readJSON(histCacheFile, &cache); err != nil {
		return err
	}
	if _, exists := cache[key]; exists {
		return nil
	}
	cache[key] = w
	return s.writeJSON(histCacheFile, cache)
}
