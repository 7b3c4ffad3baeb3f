// Package identity keeps the node's advertised name and the address of the
// controller it was registered to.
package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"

	"cloudpico-node/internal/utils"
)

const (
	nameFile = "name.txt"
	macFile  = "mac.txt"

	maxNameLen = 29 // longest local name that fits a legacy advertising packet
)

var ErrInvalidIdentity = errors.New("invalid identity")

type Identity struct {
	Name          string
	RegisteredMAC string // empty until a controller registers
}

// DefaultName derives "Sensor" plus the last four hex digits of the device UID.
func DefaultName(uid []byte) string {
	h := utils.BytesToHex(uid)
	if len(h) > 4 {
		h = h[len(h)-4:]
	}
	return "Sensor" + h
}

// Store persists the identity as two small text files in dir.
type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{dir: dir, logger: logger}
}

// Load reads the stored identity; a missing name falls back to defaultName.
func (s *Store) Load(defaultName string) Identity {
	id := Identity{Name: defaultName}
	if v, ok := s.read(nameFile); ok && v != "" {
		id.Name = v
	}
	if v, ok := s.read(macFile); ok {
		id.RegisteredMAC = v
	}
	return id
}

// Merge applies the non-empty name and mac over cur without persisting
// anything.
func Merge(cur Identity, name, mac string) (Identity, error) {
	next := cur
	if name != "" {
		name = strings.TrimSpace(name)
		if name == "" || len(name) > maxNameLen {
			return cur, fmt.Errorf("%w: name must be 1..%d bytes", ErrInvalidIdentity, maxNameLen)
		}
		next.Name = name
	}
	if mac != "" {
		hw, err := net.ParseMAC(strings.TrimSpace(mac))
		if err != nil || len(hw) != 6 {
			return cur, fmt.Errorf("%w: registered_mac %q", ErrInvalidIdentity, mac)
		}
		next.RegisteredMAC = strings.ToUpper(hw.String())
	}
	return next, nil
}

// Update validates and persists the non-empty fields of next over cur.
func (s *Store) Update(cur Identity, name, mac string) (Identity, error) {
	next, err := Merge(cur, name, mac)
	if err != nil {
		return cur, err
	}

	if next.Name != cur.Name {
		if err := s.write(nameFile, next.Name); err != nil {
			return cur, err
		}
	}
	if next.RegisteredMAC != cur.RegisteredMAC {
		if err := s.write(macFile, next.RegisteredMAC); err != nil {
			return cur, err
		}
	}
	if next != cur {
		s.logger.Info("identity updated", "name", next.Name, "registered_mac", next.RegisteredMAC)
	}
	return next, nil
}

func (s *Store) read(file string) (string, bool) {
	b, err := os.ReadFile(filepath.Join(s.dir, file))
	if errors.Is(err, fs.ErrNotExist) {
		return "", false
	}
	if err != nil {
		s.logger.Warn("identity read failed", "file", file, "error", err)
		return "", false
	}
	return strings.TrimSpace(string(b)), true
}

func (s *Store) write(file, v string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", s.dir, err)
	}
	path := filepath.Join(s.dir, file)
	if err := os.WriteFile(path, []byte(v), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
