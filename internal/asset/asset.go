// Package asset stores the assets announced by adapters over SHDR: a
// bounded FIFO history plus the current state per asset id. Asset bodies
// are kept as parsed XML element trees.
package asset

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/beevik/etree"
)

const DefaultCapacity = 1024

var ErrNotFound = errors.New("asset not found")

// Asset is one asset state. Root is the parsed XML body; published values
// are never mutated in place, so readers may traverse Root without locking.
type Asset struct {
	AssetID    string
	Type       string
	DeviceUUID string
	Timestamp  string
	Removed    bool
	Root       *etree.Element
}

// Patch names a nested element to set the text of.
type Patch struct {
	Key   string
	Value string
}

type Config struct {
	Logger *slog.Logger

	// Capacity bounds the FIFO history buffer.
	Capacity int
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.Capacity < 1 {
		return errors.New("capacity must be >= 1")
	}
	return nil
}

// Store is safe for one writer and many concurrent readers.
type Store struct {
	log      *slog.Logger
	capacity int

	mu      sync.RWMutex
	buffer  []Asset
	current map[string]Asset
}

func New(cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Store{
		log:      cfg.Logger,
		capacity: cfg.Capacity,
		current:  make(map[string]Asset),
	}, nil
}

func (s *Store) Capacity() int { return s.capacity }

// Count returns the number of live (non-removed) assets.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.current {
		if !a.Removed {
			n++
		}
	}
	return n
}

func (s *Store) appendLocked(a Asset) {
	if len(s.buffer) >= s.capacity {
		evicted := s.buffer[0]
		s.buffer = append(s.buffer[1:len(s.buffer):len(s.buffer)], a)
		// The tombstone lives until its history record is evicted.
		if cur, ok := s.current[evicted.AssetID]; ok && cur.Removed && !s.retainedLocked(evicted.AssetID) {
			delete(s.current, evicted.AssetID)
		}
		return
	}
	s.buffer = append(s.buffer, a)
}

func (s *Store) retainedLocked(id string) bool {
	for _, a := range s.buffer {
		if a.AssetID == id {
			return true
		}
	}
	return false
}

// Upsert applies an @ASSET@ command: the XML body replaces any existing
// state for the id and a history record is appended.
func (s *Store) Upsert(deviceUUID, id, assetType, xmlBody, timestamp string) error {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(xmlBody); err != nil {
		return fmt.Errorf("failed to parse asset %s body: %w", id, err)
	}
	root := doc.Root()
	if root == nil {
		return fmt.Errorf("asset %s body has no root element", id)
	}

	a := Asset{
		AssetID:    id,
		Type:       assetType,
		DeviceUUID: deviceUUID,
		Timestamp:  timestamp,
		Root:       root.Copy(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[id] = a
	record := a
	record.Root = a.Root.Copy()
	s.appendLocked(record)
	return nil
}

// Update applies an @UPDATE_ASSET@ command: each patch sets the text of the
// innermost element with that name under the asset body, creating a
// top-level element when none exists. The mutated state replaces the
// current entry and is appended as a new history record.
func (s *Store) Update(id, timestamp string, patches []Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.current[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	root := cur.Root.Copy()
	for _, p := range patches {
		el := innermost(root, p.Key)
		if el == nil {
			el = root.CreateElement(p.Key)
		}
		el.SetText(p.Value)
	}

	updated := Asset{
		AssetID:    id,
		Type:       cur.Type,
		DeviceUUID: cur.DeviceUUID,
		Timestamp:  timestamp,
		Removed:    cur.Removed,
		Root:       root,
	}
	s.current[id] = updated
	record := updated
	record.Root = root.Copy()
	s.appendLocked(record)
	return nil
}

// innermost returns the deepest descendant of root with the given tag.
func innermost(root *etree.Element, tag string) *etree.Element {
	var best *etree.Element
	bestDepth := -1
	var walk func(el *etree.Element, depth int)
	walk = func(el *etree.Element, depth int) {
		if el.Tag == tag && depth > bestDepth {
			best, bestDepth = el, depth
		}
		for _, child := range el.ChildElements() {
			walk(child, depth+1)
		}
	}
	for _, child := range root.ChildElements() {
		walk(child, 0)
	}
	return best
}

// Remove applies an @REMOVE_ASSET@ command: the asset is tombstoned, not
// deleted, and one removal record is appended. Repeated removals are no-ops.
func (s *Store) Remove(id, timestamp string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.current[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if cur.Removed {
		return nil
	}

	cur.Removed = true
	cur.Timestamp = timestamp
	s.current[id] = cur
	record := cur
	record.Root = cur.Root.Copy()
	s.appendLocked(record)
	return nil
}

// Get returns the current state of an asset, including tombstones.
func (s *Store) Get(id string) (Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.current[id]
	return a, ok
}

// List returns live assets, newest first, optionally filtered by type and
// capped by count (0 means no cap).
func (s *Store) List(assetType string, count int) []Asset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool, len(s.current))
	var out []Asset
	for i := len(s.buffer) - 1; i >= 0; i-- {
		id := s.buffer[i].AssetID
		if seen[id] {
			continue
		}
		seen[id] = true
		cur, ok := s.current[id]
		if !ok || cur.Removed {
			continue
		}
		if assetType != "" && cur.Type != assetType {
			continue
		}
		out = append(out, cur)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out
}

// BufferLen reports how many history records are retained.
func (s *Store) BufferLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buffer)
}
