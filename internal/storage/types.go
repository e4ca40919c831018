package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// DefaultKeep is how many cycle records a store retains.
const DefaultKeep = 10000

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines file
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Keep        int           // 0 means DefaultKeep
}

// CycleRecord summarizes one cycle. Keep it compact and schema-stable.
type CycleRecord struct {
	At        time.Time       `json:"at"`
	Roster    int             `json:"roster"`
	Responded int             `json:"responded"`
	Reported  int             `json:"reported"`
	Channels  []ChannelResult `json:"channels,omitempty"`
	TookMS    int64           `json:"took_ms"`
	Error     string          `json:"error,omitempty"`
}

// ChannelResult is the sync outcome for one channel.
type ChannelResult struct {
	Channel      string `json:"channel"`
	Messages     int    `json:"messages"`
	Edited       int    `json:"edited"`
	Created      int    `json:"created"`
	Deleted      int    `json:"deleted"`
	DeleteFailed int    `json:"delete_failed"`
	Error        string `json:"error,omitempty"`
}
