// Package registry reads and writes the roster of game servers to poll.
//
// The roster is a JSON array of {"address": string, "port": number}. The bot
// only reads it; the discovery job merges new servers into it.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"serverwatch/internal/task/deadline"
	logx "serverwatch/pkg/logx"
)

// DefaultLoadTimeout bounds a roster read.
const DefaultLoadTimeout = 200 * time.Millisecond

// Server is one roster entry.
type Server struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// Key is the identity key "address:port".
func (s Server) Key() string { return s.Address + ":" + strconv.Itoa(s.Port) }

// HostPort is Key with IPv6 literals bracketed.
func (s Server) HostPort() string { return net.JoinHostPort(s.Address, strconv.Itoa(s.Port)) }

// Loader reads the roster file under a timeout.
type Loader struct {
	Path    string
	Timeout time.Duration
	Log     logx.Logger
}

// Load returns the roster, or an empty slice when the file cannot be read or
// parsed in time. It never fails.
func (l *Loader) Load(ctx context.Context) []Server {
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = DefaultLoadTimeout
	}
	servers, err := deadline.Do(ctx, timeout, func(context.Context) ([]Server, error) {
		return ReadFile(l.Path)
	})
	if err != nil {
		l.Log.Error("registry load failed", logx.String("path", l.Path), logx.Err(err))
		return []Server{}
	}
	return servers
}

// ReadFile reads and parses the roster file. A missing file is an error.
func ReadFile(path string) ([]Server, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var servers []Server
	if err := json.Unmarshal(b, &servers); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if servers == nil {
		servers = []Server{}
	}
	return servers, nil
}

// Merge appends the entries of incoming whose key is not already present,
// preserving the order of existing followed by first appearance in incoming.
// The result never holds two entries with the same key. It reports how many
// entries were added.
func Merge(existing, incoming []Server) ([]Server, int) {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]Server, 0, len(existing)+len(incoming))
	for _, s := range existing {
		if _, ok := seen[s.Key()]; ok {
			continue
		}
		seen[s.Key()] = struct{}{}
		out = append(out, s)
	}
	added := 0
	for _, s := range incoming {
		if _, ok := seen[s.Key()]; ok {
			continue
		}
		seen[s.Key()] = struct{}{}
		out = append(out, s)
		added++
	}
	return out, added
}

// Save writes the roster atomically (temp file + rename) so a concurrent
// Load never observes a partial file.
func Save(path string, servers []Server) error {
	if servers == nil {
		servers = []Server{}
	}
	b, err := json.MarshalIndent(servers, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("open temp registry file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp registry file: %w", err)
	}
	_ = tmp.Sync()
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp registry file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace registry file: %w", err)
	}
	return nil
}
