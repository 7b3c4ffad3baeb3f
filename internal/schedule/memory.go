package schedule

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileMemory emulates RTC memory with a small file. Writes go through a
// temporary file and a rename so a crash never leaves a half-written record.
type FileMemory struct {
	Path string
}

func (m FileMemory) Read() ([]byte, error) {
	b, err := os.ReadFile(m.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", m.Path, err)
	}
	return b, nil
}

func (m FileMemory) Write(b []byte) error {
	dir := filepath.Dir(m.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp := m.Path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, m.Path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Erase drops the record, as a power loss would.
func (m FileMemory) Erase() error {
	err := os.Remove(m.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// InMemory is a process-local RTC memory, used by simulated boots and tests.
type InMemory struct {
	mu  sync.Mutex
	buf []byte
}

func (m *InMemory) Read() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buf...), nil
}

func (m *InMemory) Write(b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buf = append(m.buf[:0], b...)
	return nil
}
