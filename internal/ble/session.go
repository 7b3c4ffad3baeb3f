package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-node/internal/identity"
	"cloudpico-node/internal/recordlog"
	"cloudpico-node/internal/schedule"
	"cloudpico-node/internal/utils"
)

// SessionState is the per-connection protocol state.
type SessionState int

const (
	Idle SessionState = iota
	AwaitingWrite
	Processing
	TransferInFlight
	Closed
)

func (s SessionState) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingWrite:
		return "awaiting_write"
	case Processing:
		return "processing"
	case TransferInFlight:
		return "transfer_in_flight"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

// Close reasons reported in Outcome.
const (
	ReasonDisconnect = "disconnect"
	ReasonTimeout    = "timeout"
	ReasonRegistered = "registered"
	ReasonFailed     = "transfer failed"
)

// Clear policies.
const (
	ClearOnSend = "send"
	ClearOnAck  = "ack"
)

// Outcome summarizes one session for the scheduler.
type Outcome struct {
	Peer            string
	Reason          string
	SettingsApplied int
	Transfers       int
	RecordsSent     int
	Cleared         bool
	Err             error
}

type Options struct {
	ChunkSize    int
	ChunkDelay   time.Duration
	MaxWriteLen  int
	MaxNotifyLen int
	PollInterval time.Duration
	ClearPolicy  string
	AckTimeout   time.Duration
}

// ScheduleStore is the persisted schedule as the protocol sees it.
type ScheduleStore interface {
	Load() schedule.State
	Save(schedule.State) error
}

// Clock is the time source and the single time-sync step.
type Clock interface {
	Now() int64
	Sync(epoch int64) error
}

type IdentityStore interface {
	Update(cur identity.Identity, name, mac string) (identity.Identity, error)
}

// Deps are the collaborators a Protocol serves sessions against.
type Deps struct {
	Schedule   ScheduleStore
	Clock      Clock
	Records    recordlog.Log
	Identities IdentityStore
	Identity   identity.Identity
}

// Protocol serves GATT sessions: settings writes, time sync and chunked
// record transfer.
type Protocol struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
}

func NewProtocol(deps Deps, opts Options, logger *slog.Logger) *Protocol {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.ClearPolicy == "" {
		opts.ClearPolicy = ClearOnSend
	}
	return &Protocol{deps: deps, opts: opts, logger: logger}
}

// Identity returns the identity as last updated by a settings write.
func (p *Protocol) Identity() identity.Identity {
	return p.deps.Identity
}

type session struct {
	peer  string
	state SessionState
	out   Outcome
}

func (s *session) close(reason string, err error) Outcome {
	s.state = Closed
	s.out.Reason = reason
	s.out.Err = err
	return s.out
}

// Serve runs one session on conn until the central disconnects, ctx ends,
// or done reports true. done may be nil.
func (p *Protocol) Serve(ctx context.Context, conn Conn, done func() bool) Outcome {
	s := &session{peer: conn.Peer(), state: Idle}
	s.out.Peer = s.peer
	log := p.logger.With("peer", s.peer)
	log.Info("ble: session opened")

	s.state = AwaitingWrite
	for {
		if done != nil && done() {
			log.Info("ble: session closed", "reason", ReasonRegistered)
			return s.close(ReasonRegistered, nil)
		}

		b, reason := p.poll(ctx, conn, conn.Settings())
		if reason != "" {
			log.Info("ble: session closed", "reason", reason)
			return s.close(reason, nil)
		}
		if b != nil {
			p.handleSettings(s, b, log)
			if done != nil && done() {
				log.Info("ble: session closed", "reason", ReasonRegistered)
				return s.close(ReasonRegistered, nil)
			}
		}

		b, reason = p.poll(ctx, conn, conn.Data())
		if reason != "" {
			log.Info("ble: session closed", "reason", reason)
			return s.close(reason, nil)
		}
		if b != nil {
			if err := p.handleData(ctx, s, conn, b, log); err != nil {
				log.Warn("ble: session closed", "reason", ReasonFailed, "error", err)
				return s.close(ReasonFailed, err)
			}
		}
	}
}

// poll waits up to PollInterval for one write on ch. A non-empty reason
// means the session is over.
func (p *Protocol) poll(ctx context.Context, conn Conn, ch <-chan []byte) ([]byte, string) {
	t := time.NewTimer(p.opts.PollInterval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return nil, ReasonTimeout
	case <-conn.Done():
		return nil, ReasonDisconnect
	case b, ok := <-ch:
		if !ok {
			return nil, ReasonDisconnect
		}
		return b, ""
	case <-t.C:
		return nil, ""
	}
}

func (p *Protocol) handleSettings(s *session, b []byte, log *slog.Logger) {
	s.state = Processing
	defer func() { s.state = AwaitingWrite }()

	if err := p.ApplySettings(b); err != nil {
		log.Warn("ble: settings write ignored", "error", err, "payload", utils.Preview(b, 32))
		return
	}
	s.out.SettingsApplied++
}

// ApplySettings validates a settings write and applies it: time sync, the new
// schedule, then the identity. Everything is validated before the first
// mutation, so a rejected write mutates nothing.
func (p *Protocol) ApplySettings(b []byte) error {
	st, err := DecodeSettings(b, p.opts.MaxWriteLen)
	if err != nil {
		return err
	}

	id, err := identity.Merge(p.deps.Identity, st.Name, st.RegisteredMAC)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	cur := p.deps.Schedule.Load()
	next := schedule.State{
		LastLog:       st.Time,
		Period:        st.Period,
		LastAdvertise: st.Time,
	}
	if cur.Established() {
		next.LastAdvertise = cur.LastAdvertise
	}
	if err := next.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	if err := p.deps.Clock.Sync(st.Time); err != nil {
		return err
	}
	if err := p.deps.Schedule.Save(next); err != nil {
		return err
	}

	if id != p.deps.Identity {
		saved, err := p.deps.Identities.Update(p.deps.Identity, st.Name, st.RegisteredMAC)
		if err != nil {
			// The schedule is already saved; the old identity stays in use.
			p.logger.Error("ble: identity update failed", "error", err)
		} else {
			p.deps.Identity = saved
		}
	}

	p.logger.Info("ble: schedule configured",
		"last_log", next.LastLog,
		"period_s", next.Period,
		"last_advertise", next.LastAdvertise,
	)
	return nil
}

func (p *Protocol) handleData(ctx context.Context, s *session, conn Conn, b []byte, log *slog.Logger) error {
	s.state = Processing

	w, err := DecodeDataWrite(b, p.opts.MaxWriteLen)
	if err != nil {
		log.Warn("ble: data write ignored", "error", err, "payload", utils.Preview(b, 32))
		s.state = AwaitingWrite
		return nil
	}
	if !w.Trigger {
		log.Debug("ble: ack outside transfer ignored", "ack", w.Ack)
		s.state = AwaitingWrite
		return nil
	}

	if w.HasTime {
		if err := p.deps.Clock.Sync(w.Time); err != nil {
			log.Warn("ble: time sync failed", "error", err)
		}
	}

	if err := p.transfer(ctx, s, conn, log); err != nil {
		return err
	}
	s.state = AwaitingWrite
	return nil
}

func (p *Protocol) transfer(ctx context.Context, s *session, conn Conn, log *slog.Logger) error {
	s.state = TransferInFlight

	records, err := p.deps.Records.ReadAll()
	if err != nil {
		return fmt.Errorf("read records: %w", err)
	}

	payloads, err := p.encode(records)
	if err != nil {
		return err
	}

	for i, pl := range payloads {
		if i > 0 {
			if err := sleepCtx(ctx, p.opts.ChunkDelay); err != nil {
				return fmt.Errorf("%w: batch %d/%d: %w", ErrTransport, i+1, len(payloads), err)
			}
		}
		if err := conn.Notify(ctx, pl); err != nil {
			if errors.Is(err, ErrTransport) {
				return fmt.Errorf("batch %d/%d: %w", i+1, len(payloads), err)
			}
			return fmt.Errorf("%w: batch %d/%d: %w", ErrTransport, i+1, len(payloads), err)
		}
		log.Debug("ble: batch sent", "batch", i+1, "of", len(payloads), "bytes", len(pl))
	}

	s.out.Transfers++
	s.out.RecordsSent += len(records)
	log.Info("ble: transfer complete", "records", len(records), "batches", len(payloads))

	ack, acked := p.drainQueued(conn, log)

	if len(records) == 0 {
		return nil
	}

	if p.opts.ClearPolicy == ClearOnAck {
		if !acked {
			ack, acked = p.awaitAck(ctx, conn, log)
		}
		if !acked {
			return nil
		}
		if ack != len(records) {
			log.Warn("ble: ack count mismatch, keeping records", "ack", ack, "sent", len(records))
			return nil
		}
	}
	if err := p.deps.Records.Clear(); err != nil {
		log.Error("ble: record log clear failed", "error", err)
		return nil
	}
	s.out.Cleared = true
	log.Info("ble: record log cleared", "records", len(records))
	return nil
}

// encode renders every batch before anything is sent, so an oversized batch
// aborts the transfer without a partial delivery.
func (p *Protocol) encode(records []recordlog.Record) ([][]byte, error) {
	batches := Chunk(records, p.opts.ChunkSize)
	if len(batches) == 0 {
		batches = [][]recordlog.Record{nil}
	}

	payloads := make([][]byte, 0, len(batches))
	for i, batch := range batches {
		pl, err := EncodeBatch(batch)
		if err != nil {
			return nil, fmt.Errorf("encode batch %d: %w", i+1, err)
		}
		if p.opts.MaxNotifyLen > 0 && len(pl) > p.opts.MaxNotifyLen {
			return nil, fmt.Errorf("%w: batch %d is %d bytes, limit %d", ErrChunkTooLarge, i+1, len(pl), p.opts.MaxNotifyLen)
		}
		payloads = append(payloads, pl)
	}
	return payloads, nil
}

// drainQueued empties the data queue once the batches are out. Triggers
// written during the transfer are rejected; the first ack is returned.
func (p *Protocol) drainQueued(conn Conn, log *slog.Logger) (int, bool) {
	ack, acked := 0, false
	for {
		select {
		case b, ok := <-conn.Data():
			if !ok {
				return ack, acked
			}
			w, err := DecodeDataWrite(b, p.opts.MaxWriteLen)
			switch {
			case err != nil:
				log.Warn("ble: data write ignored", "error", err)
			case w.Trigger:
				log.Warn("ble: trigger rejected", "error", ErrTransferInProgress)
			case !acked:
				ack, acked = w.Ack, true
			}
		default:
			return ack, acked
		}
	}
}

// awaitAck waits up to AckTimeout for an ack on the data characteristic.
// Triggers that arrive meanwhile are rejected.
func (p *Protocol) awaitAck(ctx context.Context, conn Conn, log *slog.Logger) (int, bool) {
	t := time.NewTimer(p.opts.AckTimeout)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Warn("ble: no ack before session end, keeping records")
			return 0, false
		case <-conn.Done():
			log.Warn("ble: disconnected before ack, keeping records")
			return 0, false
		case <-t.C:
			log.Warn("ble: ack timeout, keeping records", "timeout", p.opts.AckTimeout)
			return 0, false
		case b, ok := <-conn.Data():
			if !ok {
				return 0, false
			}
			w, err := DecodeDataWrite(b, p.opts.MaxWriteLen)
			if err != nil {
				log.Warn("ble: data write ignored", "error", err)
				continue
			}
			if w.Trigger {
				log.Warn("ble: trigger rejected", "error", ErrTransferInProgress)
				continue
			}
			return w.Ack, true
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
