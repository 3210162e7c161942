package chat

import (
	"maps"
	"sync"
	"time"
)

// IndicatorKind identifies a UI indicator.
type IndicatorKind string

const (
	IndicatorSpinner      IndicatorKind = "spinner"
	IndicatorConfirmation IndicatorKind = "confirmation"
	IndicatorNotification IndicatorKind = "notification"
)

// Indicator keys used by the controller.
const (
	KeySpinner      = "spinner"
	KeyConfirmation = "confirmation"
	KeyNotification = "notification"
)

// Level is a notification severity.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Indicator is transient UI state such as a spinner label or a
// notification banner.
type Indicator struct {
	Kind    IndicatorKind
	Message string
	Level   Level
	Since   time.Time
}

// Store holds UI indicators keyed by name. Subscribers receive a snapshot
// after every change.
type Store interface {
	Set(key string, ind Indicator)
	Clear(key string)
	Get(key string) (Indicator, bool)
	Snapshot() map[string]Indicator
	Subscribe(fn func(map[string]Indicator)) (unsubscribe func())
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]Indicator
	subs   map[int]func(map[string]Indicator)
	nextID int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]Indicator),
		subs:   make(map[int]func(map[string]Indicator)),
	}
}

func (s *MemoryStore) Set(key string, ind Indicator) {
	if ind.Since.IsZero() {
		ind.Since = time.Now()
	}
	s.mu.Lock()
	s.values[key] = ind
	s.mu.Unlock()
	s.publish()
}

func (s *MemoryStore) Clear(key string) {
	s.mu.Lock()
	_, ok := s.values[key]
	delete(s.values, key)
	s.mu.Unlock()
	if ok {
		s.publish()
	}
}

func (s *MemoryStore) Get(key string) (Indicator, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ind, ok := s.values[key]
	return ind, ok
}

func (s *MemoryStore) Snapshot() map[string]Indicator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.values)
}

func (s *MemoryStore) Subscribe(fn func(map[string]Indicator)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *MemoryStore) publish() {
	s.mu.Lock()
	snap := maps.Clone(s.values)
	subs := make([]func(map[string]Indicator), 0, len(s.subs))
	for _, fn := range s.subs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}
