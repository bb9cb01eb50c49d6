package sysproxy

import (
	"context"
	"sync"
)

// Memory keeps the setting in process. It backs tests and hosts where the
// OS setting must not be touched.
type Memory struct {
	mu      sync.Mutex
	s       Settings
	commits int
	getErr  error
	setErr  error
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Get(_ context.Context) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return Settings{}, m.getErr
	}
	s := m.s
	s.Bypass = append([]string(nil), m.s.Bypass...)
	return s, nil
}

func (m *Memory) Set(_ context.Context, s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return m.setErr
	}
	m.s = s
	m.s.Bypass = append([]string(nil), s.Bypass...)
	m.commits++
	return nil
}

// Commits is the number of successful Set calls.
func (m *Memory) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// Fail makes subsequent Get/Set calls return the given errors (nil clears).
func (m *Memory) Fail(getErr, setErr error) {
	m.mu.Lock()
	m.getErr, m.setErr = getErr, setErr
	m.mu.Unlock()
}

// Toggle flips the enabled flag without counting a commit, mimicking
// another program changing the OS setting.
func (m *Memory) Toggle(enabled bool) {
	m.mu.Lock()
	m.s.Enabled = enabled
	m.mu.Unlock()
}
