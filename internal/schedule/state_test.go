package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_IsLogTime(t *testing.T) {
	st := State{LastLog: 1000, Period: 3600, LastAdvertise: 1000}

	assert.False(t, st.IsLogTime(4599))
	assert.True(t, st.IsLogTime(4600))
	assert.True(t, st.IsLogTime(5000))
	assert.False(t, Unestablished.IsLogTime(1<<40), "unestablished schedule never logs")
}

func TestState_IsLogTimeMonotonic(t *testing.T) {
	states := []State{
		{LastLog: 0, Period: 1, LastAdvertise: 0},
		{LastLog: 1000, Period: 3600, LastAdvertise: 1000},
		{LastLog: 1700000000, Period: 86400, LastAdvertise: 1699999000},
	}
	for _, st := range states {
		seen := false
		for now := st.LastLog - 10; now < st.NextLog()+10; now++ {
			got := st.IsLogTime(now)
			if seen {
				require.True(t, got, "IsLogTime flipped back to false at now=%d for %+v", now, st)
			}
			seen = seen || got
		}
		require.True(t, seen)
	}
}

func TestState_LogAdvancesToNow(t *testing.T) {
	st := State{LastLog: 1000, Period: 3600, LastAdvertise: 1000}
	now := int64(5000)

	require.True(t, st.IsLogTime(now))
	st = st.WithLog(now)

	assert.Equal(t, int64(5000), st.LastLog, "last log moves to the capture time, not LastLog+Period")
	assert.Equal(t, uint32(3600), st.Period)
}

func TestState_Validate(t *testing.T) {
	assert.NoError(t, State{LastLog: 1, Period: 1, LastAdvertise: 1}.Validate())

	for _, st := range []State{
		Unestablished,
		{LastLog: 10, Period: 0, LastAdvertise: 10},
		{LastLog: -1, Period: 60, LastAdvertise: 0},
		{LastLog: 0, Period: 60, LastAdvertise: -5},
	} {
		err := st.Validate()
		assert.True(t, errors.Is(err, ErrInvalidState), "state %+v: %v", st, err)
	}
}

func TestIntervalPolicy(t *testing.T) {
	p := IntervalPolicy{Interval: 30 * time.Minute}
	st := State{LastLog: 0, Period: 3600, LastAdvertise: 10000}

	assert.False(t, p.IsAdvertiseTime(st, 10000+1799))
	assert.True(t, p.IsAdvertiseTime(st, 10000+1800))
	assert.False(t, p.IsAdvertiseTime(Unestablished, 1<<40))
}

func TestGapFillPolicy(t *testing.T) {
	p := GapFillPolicy{}
	st := State{LastLog: 1000, Period: 600, LastAdvertise: 0}

	assert.True(t, p.IsAdvertiseTime(st, 1200), "woke before next log: fill the gap")
	assert.False(t, p.IsAdvertiseTime(st, 1600), "log is due: no gap to fill")
	assert.False(t, p.IsAdvertiseTime(Unestablished, 0))
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("interval", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "interval", p.Name())

	p, err = PolicyByName("gapfill", 0)
	require.NoError(t, err)
	assert.Equal(t, "gapfill", p.Name())

	_, err = PolicyByName("interval", 0)
	assert.Error(t, err)
	_, err = PolicyByName("sometimes", time.Minute)
	assert.Error(t, err)
}

func TestNextSleep(t *testing.T) {
	ceiling := 30 * time.Minute

	tests := []struct {
		name string
		st   State
		now  int64
		want time.Duration
	}{
		{name: "unestablished sleeps the ceiling", st: Unestablished, now: 0, want: ceiling},
		{name: "due now", st: State{LastLog: 1000, Period: 600}, now: 1600, want: 0},
		{name: "overdue", st: State{LastLog: 1000, Period: 600}, now: 9999, want: 0},
		{name: "short period sleeps remaining", st: State{LastLog: 1000, Period: 600}, now: 1100, want: 500 * time.Second},
		{name: "period at ceiling", st: State{LastLog: 1000, Period: 1800}, now: 2000, want: ceiling},
		{name: "long period capped", st: State{LastLog: 1000, Period: 86400}, now: 1001, want: ceiling},
		{name: "long period near due still ceiling", st: State{LastLog: 1000, Period: 7200}, now: 8000, want: ceiling},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextSleep(tt.st, tt.now, ceiling))
		})
	}
}
