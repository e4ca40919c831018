package chansync

import (
	"slices"
	"sync"

	kit "serverwatch/internal/transport"
)

// Sets holds, per channel, the ordered messages that currently show the
// report. Index i carries chunk i. It lives for the whole process.
type Sets struct {
	mu   sync.Mutex
	sets map[kit.ChatTarget][]kit.MessageRef
}

func NewSets() *Sets {
	return &Sets{sets: map[kit.ChatTarget][]kit.MessageRef{}}
}

// Get returns a copy of the channel's message set.
func (s *Sets) Get(to kit.ChatTarget) []kit.MessageRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.sets[to])
}

func (s *Sets) Put(to kit.ChatTarget, refs []kit.MessageRef) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[to] = slices.Clone(refs)
}

// Len reports the number of messages tracked for a channel.
func (s *Sets) Len(to kit.ChatTarget) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sets[to])
}
