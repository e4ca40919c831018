package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "serverwatch/pkg/logx"
)

// fileStore appends cycle records to <path> as JSON Lines and keeps the
// newest records in memory for reads. When the file holds twice the retention
// it is rewritten (temp file + rename) with the newest records only.
type fileStore struct {
	log  logx.Logger
	path string
	keep int

	mu      sync.Mutex
	f       *os.File
	recent  []CycleRecord // oldest first, at most keep
	onDisk  int
	skipped int
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{log: log, path: path, keep: cfg.Keep}
	if err := s.load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if s.skipped > 0 {
		log.Warn("skipped unreadable cycle records", logx.String("path", path), logx.Int("count", s.skipped))
	}
	if s.onDisk > s.keep {
		if err := s.compactLocked(); err != nil {
			return nil, err
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.f = f
	return s, nil
}

func (s *fileStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		s.onDisk++
		var r CycleRecord
		if err := json.Unmarshal(line, &r); err != nil {
			s.skipped++
			continue
		}
		s.pushLocked(r)
	}
	return sc.Err()
}

func (s *fileStore) pushLocked(r CycleRecord) {
	s.recent = append(s.recent, r)
	if over := len(s.recent) - s.keep; over > 0 {
		s.recent = append(s.recent[:0:0], s.recent[over:]...)
	}
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

func (s *fileStore) AppendCycle(ctx context.Context, r CycleRecord) error {
	_ = ctx
	if r.At.IsZero() {
		r.At = time.Now()
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return errors.New("cycle file closed")
	}
	if _, err := s.f.Write(append(b, '\n')); err != nil {
		return err
	}
	s.onDisk++
	s.pushLocked(r)

	if s.onDisk >= 2*s.keep {
		// Best-effort compact.
		if err := s.compactLocked(); err != nil {
			s.log.Debug("cycle file compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentCycles(ctx context.Context, n int) ([]CycleRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	n = min(max(n, 0), len(s.recent))
	out := make([]CycleRecord, 0, n)
	for i := len(s.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.recent[i])
	}
	return out, nil
}

// compactLocked rewrites the file with the in-memory records and reopens it for appends.
func (s *fileStore) compactLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	enc := json.NewEncoder(bw)
	for _, r := range s.recent {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := bw.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	s.onDisk = len(s.recent)

	if s.f != nil {
		_ = s.f.Close()
		nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			s.f = nil
			return err
		}
		s.f = nf
	}
	return nil
}
