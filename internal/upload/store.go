package upload

import (
	"sync"

	"github.com/lgulliver/photoflow/pkg/types"
)

// Transition describes one item status change
type Transition struct {
	SessionID string
	Item      Item
	From      Status
	To        Status
	Progress  Progress
}

// Observer receives every transition the store applies. Observers run under
// the store lock, in transition order, so they must not block and must not
// call back into the store.
type Observer interface {
	OnTransition(t Transition)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(t Transition)

func (f ObserverFunc) OnTransition(t Transition) { f(t) }

// Store holds the items of the active session, indexed by id and kept in
// insertion order. Every mutation names the session token it belongs to and
// is dropped when that token is no longer current.
type Store struct {
	mu        sync.Mutex
	sessionID string
	items     map[string]*Item
	order     []string
	lastError string
	observers []Observer
}

// NewStore creates an empty store
func NewStore(observers ...Observer) *Store {
	return &Store{
		items:     make(map[string]*Item),
		observers: observers,
	}
}

// AddObserver registers an observer for subsequent transitions
func (s *Store) AddObserver(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Reset replaces the contents with items under a new token and reports each
// new item to the observers with an empty From. An empty token leaves the
// store empty with no current session.
func (s *Store) Reset(token string, items []Item) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessionID = token
	s.items = make(map[string]*Item, len(items))
	s.order = make([]string, 0, len(items))
	s.lastError = ""
	for i := range items {
		item := items[i]
		s.items[item.ID] = &item
		s.order = append(s.order, item.ID)
	}

	if token == "" || len(s.observers) == 0 {
		return
	}
	progress := s.progressLocked()
	for _, id := range s.order {
		t := Transition{SessionID: token, Item: *s.items[id], To: s.items[id].Status, Progress: progress}
		for _, o := range s.observers {
			o.OnTransition(t)
		}
	}
}

// SessionID returns the current token, empty when no session exists
func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Current reports whether token is the active session
func (s *Store) Current(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return token != "" && s.sessionID == token
}

// Get returns a copy of one item
func (s *Store) Get(id string) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[id]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Items returns copies of all items in insertion order
func (s *Store) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Item, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.items[id])
	}
	return out
}

// ItemsWithStatus returns copies of the items currently in status
func (s *Store) ItemsWithStatus(status Status) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Item
	for _, id := range s.order {
		if item := s.items[id]; item.Status == status {
			out = append(out, *item)
		}
	}
	return out
}

// Progress derives the counters from the current items
func (s *Store) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progressLocked()
}

// LastError is the message of the most recent storage failure in this session
func (s *Store) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

func (s *Store) progressLocked() Progress {
	items := make([]*Item, 0, len(s.order))
	for _, id := range s.order {
		items = append(items, s.items[id])
	}
	return computeProgress(items)
}

// MarkUploading claims a queued item that has no storage id yet
func (s *Store) MarkUploading(token, id string) bool {
	_, ok := s.apply(token, id, func(item *Item) bool {
		if item.Status != StatusQueued || item.StoragePublicID != "" {
			return false
		}
		item.Status = StatusUploadingToStorage
		return true
	})
	return ok
}

// MarkUploaded records the stored asset and moves the item past storage
func (s *Store) MarkUploaded(token, id string, asset *types.StoredAsset, contentType string) (Item, bool) {
	return s.apply(token, id, func(item *Item) bool {
		if item.Status != StatusUploadingToStorage || asset == nil || asset.PublicID == "" {
			return false
		}
		item.Status = StatusUploadedToStorage
		item.StoragePublicID = asset.PublicID
		item.StorageURL = asset.SecureURL
		item.SizeBytes = asset.Bytes
		item.ContentType = contentType
		item.Error = ""
		item.ErrorSource = ""
		return true
	})
}

// MarkStorageFailed records a storage failure for an uploading item
func (s *Store) MarkStorageFailed(token, id, message string) bool {
	_, ok := s.apply(token, id, func(item *Item) bool {
		if item.Status != StatusUploadingToStorage {
			return false
		}
		item.Status = StatusStorageUploadFailed
		item.Error = message
		item.ErrorSource = SourceStorage
		s.lastError = message
		return true
	})
	return ok
}

// MarkRegistering moves a stored item into REGISTERING. It reports true for
// an item that is already REGISTERING and false for REGISTERED items and for
// items without a storage id.
func (s *Store) MarkRegistering(token, id string) bool {
	_, ok := s.apply(token, id, func(item *Item) bool {
		if item.StoragePublicID == "" {
			return false
		}
		switch item.Status {
		case StatusRegistering:
			return true
		case StatusUploadedToStorage, StatusRegistrationFailed:
			item.Status = StatusRegistering
			item.Error = ""
			item.ErrorSource = ""
			return true
		}
		return false
	})
	return ok
}

// MarkRegistered records a successful registration. A late success for an
// item already forced to REGISTRATION_FAILED is still applied.
func (s *Store) MarkRegistered(token, id string) bool {
	_, ok := s.apply(token, id, func(item *Item) bool {
		if item.Status != StatusRegistering && item.Status != StatusRegistrationFailed {
			return false
		}
		item.Status = StatusRegistered
		item.Error = ""
		item.ErrorSource = ""
		return true
	})
	return ok
}

// MarkRegistrationFailed records a registry failure. Registered items are
// never demoted.
func (s *Store) MarkRegistrationFailed(token, id, message string) bool {
	_, ok := s.apply(token, id, func(item *Item) bool {
		switch item.Status {
		case StatusRegistering, StatusUploadedToStorage, StatusRegistrationFailed:
		default:
			return false
		}
		item.Status = StatusRegistrationFailed
		item.Error = message
		item.ErrorSource = SourceBackend
		return true
	})
	return ok
}

// ResetForRetry sends a storage failure back to QUEUED with its storage
// fields cleared
func (s *Store) ResetForRetry(token, id string) bool {
	_, ok := s.apply(token, id, func(item *Item) bool {
		if item.Status != StatusStorageUploadFailed {
			return false
		}
		item.Status = StatusQueued
		item.StoragePublicID = ""
		item.StorageURL = ""
		item.SizeBytes = 0
		item.ContentType = ""
		item.Error = ""
		item.ErrorSource = ""
		return true
	})
	return ok
}

// apply runs mutate on the item under the lock if token is current. mutate
// returns false to reject the change; a rejected mutate must leave the item
// untouched. Observers are notified only when the status actually changed.
func (s *Store) apply(token, id string, mutate func(*Item) bool) (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token == "" || token != s.sessionID {
		return Item{}, false
	}
	item, ok := s.items[id]
	if !ok {
		return Item{}, false
	}

	from := item.Status
	if !mutate(item) {
		return *item, false
	}

	if item.Status != from && len(s.observers) > 0 {
		t := Transition{
			SessionID: s.sessionID,
			Item:      *item,
			From:      from,
			To:        item.Status,
			Progress:  s.progressLocked(),
		}
		for _, o := range s.observers {
			o.OnTransition(t)
		}
	}
	return *item, true
}
