package ble

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cloudpico-node/internal/clock"
	"cloudpico-node/internal/identity"
	"cloudpico-node/internal/recordlog"
	"cloudpico-node/internal/schedule"
)

// fakeConn is a scripted central.
type fakeConn struct {
	peer     string
	settings chan []byte
	data     chan []byte
	done     chan struct{}
	once     sync.Once

	mu       sync.Mutex
	notified [][]byte
	// failAt makes the n-th notify (1-based) fail.
	failAt int
	// disconnectAfter closes the connection after n successful notifies.
	disconnectAfter int
	// onNotify runs after each successful notify with its 1-based index.
	onNotify func(n int)
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		peer:     "AA:BB:CC:DD:EE:FF",
		settings: make(chan []byte, 8),
		data:     make(chan []byte, 8),
		done:     make(chan struct{}),
	}
}

func (c *fakeConn) Peer() string            { return c.peer }
func (c *fakeConn) Settings() <-chan []byte { return c.settings }
func (c *fakeConn) Data() <-chan []byte     { return c.data }
func (c *fakeConn) Done() <-chan struct{}   { return c.done }
func (c *fakeConn) Close() error            { c.disconnect(); return nil }

func (c *fakeConn) disconnect() { c.once.Do(func() { close(c.done) }) }

func (c *fakeConn) Notify(ctx context.Context, p []byte) error {
	c.mu.Lock()
	n := len(c.notified) + 1
	if c.failAt == n {
		c.mu.Unlock()
		return errors.New("radio busy")
	}
	c.notified = append(c.notified, append([]byte(nil), p...))
	hook := c.onNotify
	c.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if c.disconnectAfter == n {
		c.disconnect()
	}
	return nil
}

func (c *fakeConn) sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.notified...)
}

// fakeTransport hands out queued connections.
type fakeTransport struct {
	conns chan *fakeConn
	err   error
	calls int
}

func newFakeTransport(conns ...*fakeConn) *fakeTransport {
	t := &fakeTransport{conns: make(chan *fakeConn, len(conns)+1)}
	for _, c := range conns {
		t.conns <- c
	}
	return t
}

func (t *fakeTransport) Advertise(ctx context.Context) (Conn, error) {
	t.calls++
	if t.err != nil {
		return nil, t.err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case c := <-t.conns:
		return c, nil
	}
}

// memLog is an in-memory record log.
type memLog struct {
	records  []recordlog.Record
	clears   int
	clearErr error
}

func (l *memLog) Append(r recordlog.Record) error {
	l.records = append(l.records, r)
	return nil
}

func (l *memLog) ReadAll() ([]recordlog.Record, error) {
	return append([]recordlog.Record(nil), l.records...), nil
}

func (l *memLog) Clear() error {
	if l.clearErr != nil {
		return l.clearErr
	}
	l.clears++
	l.records = nil
	return nil
}

func (l *memLog) Close() error { return nil }

func sampleRecords(n int) []recordlog.Record {
	out := make([]recordlog.Record, n)
	for i := range out {
		out[i] = recordlog.Record{
			Timestamp:   time.Unix(1700000000+int64(i)*600, 0).UTC(),
			Temperature: 20 + float32(i)/4,
			Humidity:    40 + float32(i)/2,
		}
	}
	return out
}

type harness struct {
	store    *schedule.Store
	rtc      *clock.ManualRTC
	log      *memLog
	protocol *Protocol
	idDir    string
}

func testOptions() Options {
	return Options{
		ChunkSize:    5,
		ChunkDelay:   time.Millisecond,
		MaxWriteLen:  64,
		MaxNotifyLen: 244,
		PollInterval: 5 * time.Millisecond,
		ClearPolicy:  ClearOnSend,
		AckTimeout:   200 * time.Millisecond,
	}
}

func newHarness(t *testing.T, opts Options, records int) *harness {
	t.Helper()
	h := &harness{
		store: schedule.NewStore(&schedule.InMemory{}, nil),
		rtc:   clock.NewManualRTC(1600000000),
		log:   &memLog{records: sampleRecords(records)},
		idDir: filepath.Join(t.TempDir(), "identity"),
	}
	ids := identity.NewStore(h.idDir, nil)
	h.protocol = NewProtocol(Deps{
		Schedule:   h.store,
		Clock:      clock.NewService(h.rtc, nil),
		Records:    h.log,
		Identities: ids,
		Identity:   ids.Load("Sensor1234"),
	}, opts, nil)
	return h
}

func (h *harness) serve(t *testing.T, conn *fakeConn) Outcome {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	out := h.protocol.Serve(ctx, conn, nil)
	require.NotEqual(t, ReasonTimeout, out.Reason, "session should end before the test deadline")
	return out
}
