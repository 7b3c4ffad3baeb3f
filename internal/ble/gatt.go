package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"cloudpico-node/internal/utils"
)

const writeQueueLen = 8

type GATTOptions struct {
	Adapter   string // "hci0" by default
	LocalName string
	Interval  time.Duration
}

// GATT is the BlueZ peripheral: one service with the settings and data
// characteristics. Radio callbacks only feed channels; the session reads them.
type GATT struct {
	adapter *bluetooth.Adapter
	adv     *bluetooth.Advertisement
	data    bluetooth.Characteristic
	opts    GATTOptions
	logger  *slog.Logger

	settings chan []byte
	dataw    chan []byte
	activity chan string

	enableOnce sync.Once
	enableErr  error

	mu   sync.Mutex
	conn *gattConn
}

func NewGATT(opts GATTOptions, logger *slog.Logger) *GATT {
	if opts.Adapter == "" {
		opts.Adapter = "hci0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GATT{
		adapter:  bluetooth.NewAdapter(opts.Adapter),
		opts:     opts,
		logger:   logger,
		settings: make(chan []byte, writeQueueLen),
		dataw:    make(chan []byte, writeQueueLen),
		activity: make(chan string, 1),
	}
}

// Enable powers the adapter, registers the service and configures the
// advertisement. Only the first call does any work.
func (g *GATT) Enable() error {
	g.enableOnce.Do(func() { g.enableErr = g.enable() })
	return g.enableErr
}

func (g *GATT) enable() error {
	g.logger.Info("ble: enabling adapter", "adapter", g.opts.Adapter)
	if err := g.adapter.Enable(); err != nil {
		return fmt.Errorf("%w: enable (%s): %w", ErrTransport, g.opts.Adapter, err)
	}

	g.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		g.onConnect(device.Address.String(), connected)
	})

	err := g.adapter.AddService(&bluetooth.Service{
		UUID: bluetooth.NewUUID(ServiceUUID),
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				UUID:  bluetooth.NewUUID(SettingsCharUUID),
				Flags: bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					g.onWrite(g.settings, "settings", offset, value)
				},
			},
			{
				Handle: &g.data,
				UUID:   bluetooth.NewUUID(DataCharUUID),
				Flags: bluetooth.CharacteristicWritePermission |
					bluetooth.CharacteristicWriteWithoutResponsePermission |
					bluetooth.CharacteristicNotifyPermission |
					bluetooth.CharacteristicIndicatePermission |
					bluetooth.CharacteristicReadPermission,
				WriteEvent: func(client bluetooth.Connection, offset int, value []byte) {
					g.onWrite(g.dataw, "data", offset, value)
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: add service: %w", ErrTransport, err)
	}

	g.adv = g.adapter.DefaultAdvertisement()
	err = g.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    g.opts.LocalName,
		ServiceUUIDs: []bluetooth.UUID{bluetooth.NewUUID(ServiceUUID)},
		Interval:     bluetooth.NewDuration(g.opts.Interval),
	})
	if err != nil {
		return fmt.Errorf("%w: configure advertisement: %w", ErrTransport, err)
	}
	g.logger.Info("ble: adapter enabled", "adapter", g.opts.Adapter, "name", g.opts.LocalName)
	return nil
}

// Advertise enables the adapter on first use, starts advertising and returns
// once a central connected. BlueZ does not always report peripheral-side
// connects, so the first write also counts as one.
func (g *GATT) Advertise(ctx context.Context) (Conn, error) {
	if err := g.Enable(); err != nil {
		return nil, err
	}
	if err := g.adv.Start(); err != nil {
		return nil, fmt.Errorf("%w: start advertising: %w", ErrTransport, err)
	}
	defer func() { _ = g.adv.Stop() }()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case peer := <-g.activity:
		return g.open(peer), nil
	}
}

func (g *GATT) open(peer string) *gattConn {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn != nil && !g.conn.closed() {
		return g.conn
	}
	g.conn = &gattConn{g: g, peer: peer, done: make(chan struct{})}
	g.logger.Info("ble: central connected", "peer", peer)
	return g.conn
}

func (g *GATT) onConnect(addr string, connected bool) {
	if connected {
		g.signal(addr)
		return
	}
	g.mu.Lock()
	c := g.conn
	g.mu.Unlock()
	if c != nil {
		g.logger.Info("ble: central disconnected", "peer", addr)
		c.disconnect()
	}
}

func (g *GATT) onWrite(ch chan []byte, char string, offset int, value []byte) {
	if offset != 0 {
		g.logger.Warn("ble: offset write ignored", "char", char, "offset", offset)
		return
	}
	// The stack reuses value after the callback returns.
	b := append([]byte(nil), value...)
	select {
	case ch <- b:
	default:
		g.logger.Warn("ble: write queue full, dropping", "char", char, "data", utils.Preview(b, 16))
	}
	g.signal("")
}

func (g *GATT) signal(peer string) {
	select {
	case g.activity <- peer:
	default:
	}
}

type gattConn struct {
	g    *GATT
	peer string
	done chan struct{}
	once sync.Once
}

func (c *gattConn) Peer() string {
	if c.peer == "" {
		return "unknown"
	}
	return c.peer
}

func (c *gattConn) Settings() <-chan []byte { return c.g.settings }
func (c *gattConn) Data() <-chan []byte     { return c.g.dataw }
func (c *gattConn) Done() <-chan struct{}   { return c.done }

func (c *gattConn) Notify(ctx context.Context, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return fmt.Errorf("%w: disconnected", ErrTransport)
	default:
	}
	if _, err := c.g.data.Write(p); err != nil {
		return fmt.Errorf("%w: notify: %w", ErrTransport, err)
	}
	return nil
}

func (c *gattConn) Close() error {
	c.disconnect()
	// Writes left over from this central must not leak into the next session.
	for {
		select {
		case <-c.g.settings:
		case <-c.g.dataw:
		case <-c.g.activity:
		default:
			return nil
		}
	}
}

func (c *gattConn) disconnect() {
	c.once.Do(func() { close(c.done) })
}

func (c *gattConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}
