// Package locator reads and writes the shareable room fragment of the host
// environment (a URL fragment in a browser, a bookmark file for the agent).
package locator

import "sync"

// Locator carries one opaque fragment. Clearing it is SetFragment("").
type Locator interface {
	Fragment() (string, error)
	SetFragment(fragment string) error
}

// Memory holds the fragment in process.
type Memory struct {
	mu       sync.Mutex
	fragment string
	history  []string
}

func NewMemory(fragment string) *Memory {
	return &Memory{fragment: fragment}
}

func (l *Memory) Fragment() (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fragment, nil
}

func (l *Memory) SetFragment(fragment string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fragment = fragment
	l.history = append(l.history, fragment)
	return nil
}

// History lists every value written with SetFragment.
func (l *Memory) History() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.history...)
}
