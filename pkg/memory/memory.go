package memory

import (
	"fmt"
	"strings"
	"sync"
)

// Entry is one remembered decision, tagged with the timestep it was made at.
type Entry struct {
	Step int
	Text string
}

func (e Entry) String() string {
	return fmt.Sprintf("[step %d] %s", e.Step, e.Text)
}

// Memory is a bounded, oldest-first history of controller decisions.
type Memory struct {
	entries  []Entry
	capacity int
	mu       sync.RWMutex
}

// NewMemory creates a memory keeping at most capacity entries. A capacity
// below 1 keeps one entry.
func NewMemory(capacity int) *Memory {
	if capacity < 1 {
		capacity = 1
	}
	return &Memory{
		entries:  make([]Entry, 0, capacity),
		capacity: capacity,
	}
}

// Entries returns a copy of all entries in memory
func (m *Memory) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := make([]Entry, len(m.entries))
	copy(entries, m.entries)
	return entries
}

// Store appends an entry, evicting the oldest once capacity is reached.
func (m *Memory) Store(step int, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, Entry{Step: step, Text: text})
	if len(m.entries) > m.capacity {
		m.entries = m.entries[len(m.entries)-m.capacity:]
	}
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Render formats the entries one per line for inclusion in a prompt.
func (m *Memory) Render() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var b strings.Builder
	for _, e := range m.entries {
		b.WriteString(e.String())
		b.WriteByte('\n')
	}
	return b.String()
}

func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = m.entries[:0]
}
