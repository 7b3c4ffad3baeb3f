package identity

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultName(t *testing.T) {
	assert.Equal(t, "Sensor1A2B", DefaultName([]byte{0xde, 0xad, 0x1a, 0x2b}))
	assert.Equal(t, "Sensor0F", DefaultName([]byte{0x0f}))
}

func TestStore_LoadDefaults(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	id := s.Load("Sensor0001")
	assert.Equal(t, Identity{Name: "Sensor0001"}, id)
}

func TestStore_UpdatePersists(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, nil)
	cur := s.Load("Sensor0001")

	next, err := s.Update(cur, "greenhouse", "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, Identity{Name: "greenhouse", RegisteredMAC: "AA:BB:CC:DD:EE:FF"}, next)

	assert.Equal(t, next, NewStore(dir, nil).Load("Sensor0001"), "identity survives a reboot")
}

func TestStore_UpdateKeepsUnsetFields(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	cur := Identity{Name: "greenhouse", RegisteredMAC: "AA:BB:CC:DD:EE:FF"}

	next, err := s.Update(cur, "", "")
	require.NoError(t, err)
	assert.Equal(t, cur, next)
}

func TestStore_UpdateRejectsInvalid(t *testing.T) {
	s := NewStore(t.TempDir(), nil)
	cur := Identity{Name: "Sensor0001"}

	for _, tc := range []struct{ name, mac string }{
		{name: "   "},
		{name: "a-name-that-is-far-too-long-for-adv"},
		{mac: "not-a-mac"},
		{mac: "00:00:5e:00:53:01:aa:bb"},
	} {
		got, err := s.Update(cur, tc.name, tc.mac)
		assert.True(t, errors.Is(err, ErrInvalidIdentity), "%+v: %v", tc, err)
		assert.Equal(t, cur, got)
	}
	assert.Equal(t, cur, s.Load("Sensor0001"), "nothing persisted on rejection")
}

func TestMerge_DoesNotPersist(t *testing.T) {
	dir := t.TempDir()
	cur := Identity{Name: "Sensor0001"}

	next, err := Merge(cur, "porch", "")
	require.NoError(t, err)
	assert.Equal(t, "porch", next.Name)
	assert.Equal(t, cur, NewStore(dir, nil).Load("Sensor0001"))

	_, err = Merge(cur, "porch", "nope")
	assert.True(t, errors.Is(err, ErrInvalidIdentity))
}
