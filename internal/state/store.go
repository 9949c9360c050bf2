package state

import (
	"maps"
	"slices"
	"sync"

	"github.com/divy-sh/breve/internal/models"
)

// Change identifies the part of the Store an update touched.
type Change int

const (
	// ChangeSummaries is sent when the conversation summaries are replaced.
	ChangeSummaries Change = iota
	// ChangeCurrent is sent when the active conversation is replaced, cleared or appended to.
	ChangeCurrent
	// ChangeInventory is sent when a model inventory field is replaced.
	ChangeInventory
	// ChangeDownload is sent when the download flag or progress changes.
	ChangeDownload
)

// Inventory is the local mirror of the backend's model state.
type Inventory struct {
	Available  map[string]models.ModelInfo
	Downloaded []string
	Default    string
	Status     models.ModelStatus
}

// Store holds the state shared between the synchronizer and its readers. The synchronizer is the
// only writer; readers get copies and can watch for changes with Subscribe.
type Store struct {
	mu sync.RWMutex

	summaries []models.Summary
	current   *models.Conversation
	inventory Inventory

	downloading bool
	progress    float64

	listenersMu sync.Mutex
	listeners   map[int]func(Change)
	nextID      int
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		listeners: make(map[int]func(Change)),
	}
}

// Summaries returns the conversation summaries, in backend order.
func (s *Store) Summaries() []models.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.summaries)
}

// Current returns a copy of the active conversation, or nil if none is active.
func (s *Store) Current() *models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Clone()
}

// Inventory returns a copy of the model inventory.
func (s *Store) Inventory() Inventory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv := s.inventory
	inv.Available = maps.Clone(inv.Available)
	inv.Downloaded = slices.Clone(inv.Downloaded)
	return inv
}

// Downloading reports whether the backend last announced a model download in progress.
func (s *Store) Downloading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.downloading
}

// DownloadProgress returns the last reported download completion, in percent.
func (s *Store) DownloadProgress() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress
}

// Subscribe registers fn to be called after every change. fn runs on the goroutine that made the
// change, after the Store is unlocked, so it may read the Store. The returned func unregisters fn.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	id := s.nextID
	s.nextID++
	s.listeners[id] = fn

	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Store) notify(c Change) {
	s.listenersMu.Lock()
	fns := slices.Collect(maps.Values(s.listeners))
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (s *Store) update(c Change, fn func()) {
	s.mu.Lock()
	fn()
	s.mu.Unlock()
	s.notify(c)
}

func (s *Store) setSummaries(summaries []models.Summary) {
	s.update(ChangeSummaries, func() { s.summaries = summaries })
}

func (s *Store) setCurrent(conv *models.Conversation) {
	s.update(ChangeCurrent, func() { s.current = conv })
}

// appendToCurrent appends msg to the active conversation if its ID is id, and reports whether it
// did. The message slice is replaced, never grown in place, so copies handed out earlier stay
// untouched.
func (s *Store) appendToCurrent(id string, msg models.Message) bool {
	s.mu.Lock()
	if s.current == nil || s.current.ID != id {
		s.mu.Unlock()
		return false
	}
	conv := *s.current
	conv.Messages = append(slices.Clip(conv.Messages), msg)
	s.current = &conv
	s.mu.Unlock()

	s.notify(ChangeCurrent)
	return true
}

// clearCurrentIf clears the active conversation if its ID is id, and reports whether it did.
func (s *Store) clearCurrentIf(id string) bool {
	s.mu.Lock()
	if s.current == nil || s.current.ID != id {
		s.mu.Unlock()
		return false
	}
	s.current = nil
	s.mu.Unlock()

	s.notify(ChangeCurrent)
	return true
}

func (s *Store) setAvailable(available map[string]models.ModelInfo) {
	s.update(ChangeInventory, func() { s.inventory.Available = available })
}

func (s *Store) setDownloaded(names []string) {
	s.update(ChangeInventory, func() { s.inventory.Downloaded = names })
}

func (s *Store) setDefault(name string) {
	s.update(ChangeInventory, func() { s.inventory.Default = name })
}

func (s *Store) setStatus(status models.ModelStatus) {
	s.update(ChangeInventory, func() { s.inventory.Status = status })
}

func (s *Store) setDownloading(downloading bool) {
	s.update(ChangeDownload, func() { s.downloading = downloading })
}

func (s *Store) setProgress(pct float64) {
	s.update(ChangeDownload, func() { s.progress = pct })
}
