// Package retry wraps remote operations with a bounded number of attempts,
// exponential delays with jitter, and transient/terminal failure
// classification.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff"
)

type Class string

const (
	Transient Class = "transient"
	Terminal  Class = "terminal"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 8 * time.Second
	DefaultJitter      = 0.2
)

type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      DefaultJitter,
	}
}

func (p Policy) normalized() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = d.Jitter
	}
	return p
}

// Error is the terminal report of a wrapped operation for one cycle.
type Error struct {
	Op        string
	Attempts  int
	Class     Class
	Exhausted bool
	Err       error
}

func (e *Error) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Op, e.Class, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type terminalError struct{ err error }

func (e terminalError) Error() string { return e.err.Error() }
func (e terminalError) Unwrap() error { return e.err }

// MarkTerminal flags err as not worth retrying.
func MarkTerminal(err error) error {
	if err == nil {
		return nil
	}
	return terminalError{err: err}
}

// Classify sorts a failure into transient or terminal. Errors that carry
// their own classification (Transient() bool) decide for themselves;
// timeouts and connection errors are transient; unknown errors default to
// transient because the attempt budget is bounded anyway.
func Classify(err error) Class {
	if err == nil {
		return ""
	}
	var te terminalError
	if errors.As(err, &te) {
		return Terminal
	}
	var classified interface{ Transient() bool }
	if errors.As(err, &classified) {
		if classified.Transient() {
			return Transient
		}
		return Terminal
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Terminal
	case errors.Is(err, context.DeadlineExceeded):
		return Transient
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return Terminal
	case errors.Is(err, io.ErrUnexpectedEOF):
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient
	}
	return Transient
}

type Manager struct {
	Policy Policy
	Sleep  func(ctx context.Context, d time.Duration) error
	Logger *slog.Logger
}

func New(policy Policy, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{Policy: policy.normalized(), Sleep: sleepContext, Logger: logger}
}

// Do runs fn until it succeeds, fails terminally, or the attempt budget is
// spent. Every call starts with a fresh budget. The returned attempt count
// includes the successful attempt.
func (m *Manager) Do(ctx context.Context, op string, fn func(ctx context.Context) error) (int, error) {
	p := m.Policy.normalized()
	sleep := m.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := newBackOff(p)
	var last error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := b.NextBackOff()
			if delay == backoff.Stop {
				break
			}
			logger.Debug("retrying", "op", op, "attempt", attempt, "delay", delay, "err", last)
			if err := sleep(ctx, delay); err != nil {
				return attempt - 1, &Error{Op: op, Attempts: attempt - 1, Class: Terminal, Err: errors.Join(last, err)}
			}
		}
		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}
		last = err
		if Classify(err) == Terminal {
			return attempt, &Error{Op: op, Attempts: attempt, Class: Terminal, Err: err}
		}
	}
	return p.MaxAttempts, &Error{Op: op, Attempts: p.MaxAttempts, Class: Transient, Exhausted: true, Err: last}
}

func newBackOff(p Policy) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
