// Package state keeps the derived per-server display state across cycles.
package state

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"serverwatch/internal/query"
)

const (
	// RotationMinutes is the default map rotation length.
	RotationMinutes = 90
	// SkirmishRotationMinutes applies to maps whose name contains SkirmishMarker.
	SkirmishRotationMinutes = 30
	SkirmishMarker          = "SKM"

	// UnknownRemaining is shown when the map change time is unknown.
	UnknownRemaining = "90 min. ⌛"
)

// Entry is the last derived record for one server.
type Entry struct {
	Key          string    `json:"key"`
	Name         string    `json:"name"`
	Players      int       `json:"players"`
	Map          string    `json:"map"`
	MapChangedAt time.Time `json:"map_changed_at"`
	LastValidAt  time.Time `json:"last_valid_at"`
}

// Cache maps identity keys to their last Entry. Entries are overwritten in
// place and never removed. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Entry
	now     func() time.Time
}

type Option func(*Cache)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func NewCache(opts ...Option) *Cache {
	c := &Cache{entries: map[string]Entry{}, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Update derives and stores the entry for key from a fresh query result.
// The map change time is reset only for a new server or a different map.
func (c *Cache) Update(key string, info query.Info) Entry {
	now := c.now()
	name := Sanitize(info.Name)

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.entries[key]
	changedAt := now
	if ok && prev.Map == info.Map {
		changedAt = prev.MapChangedAt
	}
	e := Entry{
		Key:          key,
		Name:         name,
		Players:      info.Players,
		Map:          info.Map,
		MapChangedAt: changedAt,
		LastValidAt:  now,
	}
	c.entries[key] = e
	return e
}

func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Now returns the cache clock's current time.
func (c *Cache) Now() time.Time { return c.now() }

// RemainingTime renders the minutes left in the current map rotation.
func RemainingTime(changedAt time.Time, mapName string, now time.Time) string {
	if changedAt.IsZero() {
		return UnknownRemaining
	}
	elapsed := max(int(now.Sub(changedAt)/time.Minute), 0)
	rotation := RotationMinutes
	if strings.Contains(mapName, SkirmishMarker) {
		rotation = SkirmishRotationMinutes
	}
	remaining := max(rotation-elapsed, 0)
	return strconv.Itoa(remaining) + " min.⌛"
}
