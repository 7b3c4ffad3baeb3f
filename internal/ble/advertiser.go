package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Advertiser runs the two advertising modes over a Transport.
type Advertiser struct {
	transport  Transport
	protocol   *Protocol
	logger     *slog.Logger
	retryDelay time.Duration
}

func NewAdvertiser(t Transport, p *Protocol, logger *slog.Logger) *Advertiser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Advertiser{transport: t, protocol: p, logger: logger, retryDelay: time.Second}
}

// UntilRegistered advertises and serves sessions until registered reports
// true. It has no deadline of its own; only ctx can stop it early.
func (a *Advertiser) UntilRegistered(ctx context.Context, registered func() bool) error {
	a.logger.Info("ble: advertising until registered")
	for !registered() {
		conn, err := a.transport.Advertise(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("ble: advertise failed, retrying", "error", err, "retry_in", a.retryDelay)
			if err := sleepCtx(ctx, a.retryDelay); err != nil {
				return err
			}
			continue
		}

		out := a.protocol.Serve(ctx, conn, registered)
		_ = conn.Close()
		if out.Err != nil {
			a.logger.Warn("ble: registration session failed", "peer", out.Peer, "error", out.Err)
		}
	}
	a.logger.Info("ble: registered")
	return nil
}

// Window advertises for at most d. It returns early when a session completes.
// No central within d is not an error.
func (a *Advertiser) Window(ctx context.Context, d time.Duration) (Outcome, error) {
	wctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	a.logger.Info("ble: advertising window", "duration", d)
	conn, err := a.transport.Advertise(wctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			a.logger.Info("ble: advertising window elapsed without connection")
			return Outcome{Reason: ReasonTimeout}, nil
		}
		if errors.Is(err, ErrTransport) {
			return Outcome{}, err
		}
		return Outcome{}, fmt.Errorf("%w: advertise: %w", ErrTransport, err)
	}
	defer conn.Close()

	out := a.protocol.Serve(wctx, conn, nil)
	return out, out.Err
}
