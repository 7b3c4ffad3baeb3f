package schedule

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	pairs := []struct {
		epoch  int64
		period uint32
	}{
		{0, 1},
		{1700000000, 3600},
		{1700000000, 1},
		{4102444800, 86400},
		{1, 4294967295},
	}
	for _, p := range pairs {
		st := State{LastLog: p.epoch, Period: p.period, LastAdvertise: p.epoch}
		b, err := Encode(st)
		require.NoError(t, err)

		got, err := Decode(b)
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}
}

func TestEncode_Format(t *testing.T) {
	b, err := Encode(State{LastLog: 1700000000, Period: 3600, LastAdvertise: 1699999000})
	require.NoError(t, err)
	assert.Equal(t, "v2:1700000000,3600,1699999000", string(b))
}

func TestDecode_Corrupt(t *testing.T) {
	inputs := map[string][]byte{
		"empty":           nil,
		"nul padding":     make([]byte, 16),
		"legacy 3 field":  []byte("1700000000,3600,1700000000"),
		"legacy 2 field":  []byte("1700000000,3600"),
		"truncated":       []byte("v2:1700000000,36"),
		"non numeric":     []byte("v2:abc,3600,1"),
		"zero period":     []byte("v2:1700000000,0,1700000000"),
		"negative epoch":  []byte("v2:-5,60,0"),
		"period overflow": []byte("v2:1,4294967296,1"),
		"garbage":         {0xff, 0xfe, 0x00, 0x13},
		"oversized":       []byte("v2:" + strings.Repeat("9", 100) + ",60,0"),
	}
	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			st, err := Decode(in)
			assert.True(t, errors.Is(err, ErrPersistenceCorrupt), "err = %v", err)
			assert.False(t, st.Established())
		})
	}
}

func TestDecode_TrailingPadding(t *testing.T) {
	b := append([]byte("v2:10,20,30\n"), 0, 0, 0)
	st, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, State{LastLog: 10, Period: 20, LastAdvertise: 30}, st)
}

func TestStore_SaveThenLoad(t *testing.T) {
	store := NewStore(&InMemory{}, nil)

	want := State{LastLog: 1700000000, Period: 3600, LastAdvertise: 1700000000}
	require.NoError(t, store.Save(want))
	assert.Equal(t, want, store.Load())
}

func TestStore_LoadFailsSoft(t *testing.T) {
	mem := &InMemory{}
	store := NewStore(mem, nil)

	assert.Equal(t, Unestablished, store.Load(), "empty memory")

	require.NoError(t, mem.Write([]byte("not,a,schedule")))
	assert.Equal(t, Unestablished, store.Load(), "garbage memory")

	store = NewStore(failingMemory{}, nil)
	assert.Equal(t, Unestablished, store.Load(), "read error")
}

func TestStore_SaveRejectsPartialState(t *testing.T) {
	mem := &InMemory{}
	store := NewStore(mem, nil)

	err := store.Save(State{LastLog: 1700000000})
	assert.True(t, errors.Is(err, ErrInvalidState))

	b, _ := mem.Read()
	assert.Empty(t, b, "nothing written for a partial state")
}

func TestFileMemory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "rtc.mem")
	mem := FileMemory{Path: path}

	b, err := mem.Read()
	require.NoError(t, err)
	assert.Nil(t, b, "missing file reads as empty memory")

	store := NewStore(mem, nil)
	st := State{LastLog: 42, Period: 60, LastAdvertise: 40}
	require.NoError(t, store.Save(st))
	assert.Equal(t, st, store.Load())

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file removed by rename")

	require.NoError(t, mem.Erase())
	require.NoError(t, mem.Erase(), "erase is idempotent")
	assert.Equal(t, Unestablished, store.Load())
}

type failingMemory struct{}

func (failingMemory) Read() ([]byte, error) { return nil, errors.New("i/o error") }
func (failingMemory) Write([]byte) error    { return errors.New("i/o error") }
