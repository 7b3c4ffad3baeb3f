// Package clock wraps the real-time clock. Epoch seconds are the only
// representation the rest of the node compares.
package clock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RTC is the hardware real-time clock. It keeps running through deep sleep.
type RTC interface {
	Now() time.Time
	Set(t time.Time) error
}

// HostRTC models the RTC on a host as the system clock plus an offset that is
// persisted next to the RTC memory, so the node can be set to the controller's
// time without privileges to change the system clock.
type HostRTC struct {
	path string
	now  func() time.Time

	mu     sync.Mutex
	offset time.Duration
}

// OpenHostRTC loads the persisted offset. A missing or unreadable offset file
// starts the clock at system time.
func OpenHostRTC(path string) *HostRTC {
	r := &HostRTC{path: path, now: time.Now}
	b, err := os.ReadFile(path)
	if err != nil {
		return r
	}
	ns, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return r
	}
	r.offset = time.Duration(ns)
	return r
}

func (r *HostRTC) Now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now().Add(r.offset).UTC()
}

func (r *HostRTC) Set(t time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	offset := t.Sub(r.now())
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", filepath.Dir(r.path), err)
	}
	if err := os.WriteFile(r.path, []byte(strconv.FormatInt(int64(offset), 10)), 0o600); err != nil {
		return fmt.Errorf("write rtc offset: %w", err)
	}
	r.offset = offset
	return nil
}

// Reset drops the persisted offset.
func (r *HostRTC) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset = 0
	err := os.Remove(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// ManualRTC only moves when told to. Simulated boots and tests use it.
type ManualRTC struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualRTC(epoch int64) *ManualRTC {
	return &ManualRTC{now: time.Unix(epoch, 0).UTC()}
}

func (m *ManualRTC) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *ManualRTC) Set(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t.UTC()
	return nil
}

// Advance moves the clock forward by d.
func (m *ManualRTC) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
}
