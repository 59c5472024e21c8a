package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/alexjbarnes/devicelink/devicelink"
	"github.com/fatih/color"
)

const (
	initialBackoff = time.Second
	maxBackoff     = time.Minute
)

// listener polls the push channel and writes each payload to out. It
// restarts the push service with exponential backoff whenever the
// connection drops.
type listener struct {
	client       *devicelink.Client
	logger       *slog.Logger
	pollInterval time.Duration
	readTimeout  time.Duration
	out          io.Writer

	received   atomic.Int64
	truncated  atomic.Int64
	reconnects atomic.Int64
}

func (l *listener) run(ctx context.Context) error {
	backoff := initialBackoff

	for {
		if !l.client.PushConnected() {
			if err := l.restart(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}

				l.logger.Warn("push service unavailable",
					slog.String("error", err.Error()),
					slog.Duration("retry_in", backoff),
				)

				if !sleep(ctx, backoff) {
					return nil
				}

				backoff = min(backoff*2, maxBackoff)

				continue
			}

			backoff = initialBackoff
		}

		if !l.client.PushAvailable() {
			if !sleep(ctx, l.pollInterval) {
				return nil
			}

			continue
		}

		if err := l.readOne(ctx); err != nil {
			return err
		}
	}
}

func (l *listener) restart(ctx context.Context) error {
	l.reconnects.Add(1)

	if l.client.PushState() != devicelink.PushIdle {
		if err := l.client.StopPushService(); err != nil {
			l.logger.Debug("closing push connection", slog.String("error", err.Error()))
		}
	}

	return l.client.StartPushService(ctx)
}

// readOne reads a single payload. Connection loss is left for the next
// iteration of run to notice.
func (l *listener) readOne(ctx context.Context) error {
	readCtx, cancel := context.WithTimeout(ctx, l.readTimeout)
	defer cancel()

	push := l.client.NextPush()
	defer push.Close()

	payload, err := push.Read(readCtx)

	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		l.logger.Debug("push read timed out, will resume")
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		l.logger.Info("push connection closed", slog.Int("partial_bytes", len(payload)))
		return nil
	default:
		return fmt.Errorf("reading push: %w", err)
	}

	l.received.Add(1)

	if push.Truncated() {
		l.truncated.Add(1)
		l.logger.Warn("push payload truncated", slog.Int("kept_bytes", len(payload)))
	}

	_, err = fmt.Fprintf(l.out, "%s %s\n", color.CyanString(time.Now().Format(time.RFC3339)), payload)

	return err
}

// watchStatus logs the listener counters each time a signal arrives on
// sig. It reads only the counters, so it may run beside run.
func (l *listener) watchStatus(ctx context.Context, sig <-chan os.Signal) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sig:
			l.logger.Info("listener status",
				slog.Int64("received", l.received.Load()),
				slog.Int64("truncated", l.truncated.Load()),
				slog.Int64("reconnects", l.reconnects.Load()),
			)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
