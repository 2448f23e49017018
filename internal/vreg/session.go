// Package vreg implements the AS726x virtual register protocol: a handshake
// over three physical registers that addresses the device's larger virtual
// register file.
//
// Every wait is an explicit loop of at most ceil(Timeout/PollDelay) status
// reads with a PollDelay sleep after each miss, so the bound holds with any
// Clock, including a mock one.
package vreg

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/picron-io/picron-agent/internal/as7263"
	"github.com/picron-io/picron-agent/internal/bus"
	"github.com/picron-io/picron-agent/internal/fault"
	"github.com/picron-io/picron-agent/internal/monitoring"
	"github.com/picron-io/picron-agent/internal/timeutil"
)

// Options bounds the handshake.
type Options struct {
	PollDelay  time.Duration
	Timeout    time.Duration
	MaxRetries int
}

// DefaultOptions returns the stock 5ms poll delay, 1s timeout and 3 retries.
func DefaultOptions() Options {
	return Options{
		PollDelay:  5 * time.Millisecond,
		Timeout:    time.Second,
		MaxRetries: 3,
	}
}

// PollLimit returns the number of status reads a single wait may make.
func (o Options) PollLimit() int {
	if o.PollDelay <= 0 {
		return 1
	}
	n := int((o.Timeout + o.PollDelay - 1) / o.PollDelay)
	if n < 1 {
		n = 1
	}
	return n
}

// Session runs the protocol over a borrowed transport. It holds no state
// between calls.
type Session struct {
	tr    bus.Transport
	clock timeutil.Clock
	opts  Options
	log   zerolog.Logger
}

// NewSession returns a Session over tr. A nil clock uses the real clock.
func NewSession(tr bus.Transport, clock timeutil.Clock, opts Options) *Session {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Session{
		tr:    tr,
		clock: clock,
		opts:  opts,
		log:   monitoring.Stage("vreg"),
	}
}

// Options returns the bounds the session was built with.
func (s *Session) Options() Options { return s.opts }

// Clock returns the clock used for poll sleeps.
func (s *Session) Clock() timeutil.Clock { return s.clock }

// Read returns the value of virtual register vaddr. After MaxRetries+1
// failed attempts it returns bus.Sentinel and a classified error; callers
// that only look at the byte must compare it with bus.Sentinel.
func (s *Session) Read(vaddr byte) (byte, error) {
	var lastErr error
	attempts := s.opts.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		v, err := s.readOnce(vaddr, time.Time{})
		if err == nil {
			return v, nil
		}
		lastErr = err
		s.log.Debug().Err(err).Int("attempt", attempt).Msgf("virtual read %#02x failed", vaddr)
	}
	return bus.Sentinel, s.exhausted("vreg.read", vaddr, attempts, lastErr)
}

// readOnce makes a single read attempt. A non-zero deadline cuts the status
// waits short.
func (s *Session) readOnce(vaddr byte, deadline time.Time) (byte, error) {
	s.drain()
	if err := s.waitFor(as7263.TxValid, false, deadline); err != nil {
		return bus.Sentinel, err
	}
	if !s.tr.WriteRegister(as7263.WriteReg, vaddr&^as7263.WriteBit) {
		return bus.Sentinel, fmt.Errorf("address write failed")
	}
	if err := s.waitFor(as7263.RxValid, true, deadline); err != nil {
		return bus.Sentinel, err
	}
	v := s.tr.ReadRegister(as7263.ReadReg)
	if v == bus.Sentinel {
		return v, fault.ErrSentinel
	}
	return v, nil
}

// Write stores value in virtual register vaddr. The whole sequence is
// retried up to MaxRetries more times; success means the final data write
// was accepted by the bus.
func (s *Session) Write(vaddr, value byte) error {
	var lastErr error
	attempts := s.opts.MaxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.writeOnce(vaddr, value)
		if err == nil {
			return nil
		}
		lastErr = err
		s.log.Debug().Err(err).Int("attempt", attempt).Msgf("virtual write %#02x failed", vaddr)
	}
	return s.exhausted("vreg.write", vaddr, attempts, lastErr)
}

func (s *Session) writeOnce(vaddr, value byte) error {
	s.drain()
	if err := s.waitFor(as7263.TxValid, false, time.Time{}); err != nil {
		return err
	}
	if !s.tr.WriteRegister(as7263.WriteReg, vaddr|as7263.WriteBit) {
		return fmt.Errorf("address write failed")
	}
	if err := s.waitFor(as7263.TxValid, false, time.Time{}); err != nil {
		return err
	}
	if !s.tr.WriteRegister(as7263.WriteReg, value) {
		return fmt.Errorf("data write failed")
	}
	return nil
}

// drain discards a stale response left by an earlier interrupted read.
func (s *Session) drain() {
	st := s.tr.ReadRegister(as7263.StatusReg)
	if st != bus.Sentinel && st&as7263.RxValid != 0 {
		s.tr.ReadRegister(as7263.ReadReg)
	}
}

// waitFor polls the status register until flag is set (or clear). A sentinel
// status counts as not ready. The wait ends after PollLimit reads or, when
// deadline is non-zero, once the deadline has passed.
func (s *Session) waitFor(flag byte, set bool, deadline time.Time) error {
	limit := s.opts.PollLimit()
	for i := 0; i < limit; i++ {
		st := s.tr.ReadRegister(as7263.StatusReg)
		if st != bus.Sentinel && (st&flag != 0) == set {
			return nil
		}
		if !s.sleepUntil(deadline) {
			break
		}
	}
	return fault.ErrTimeout
}

// sleepUntil sleeps one PollDelay, clipped to deadline. It reports false
// without sleeping when the deadline has already passed.
func (s *Session) sleepUntil(deadline time.Time) bool {
	d := s.opts.PollDelay
	if !deadline.IsZero() {
		left := deadline.Sub(s.clock.Now())
		if left <= 0 {
			return false
		}
		if left < d {
			d = left
		}
	}
	s.clock.Sleep(d)
	return true
}

// Poll re-reads vaddr until cond accepts its value. The whole poll, including
// the handshake waits of every read, shares one Timeout budget.
func (s *Session) Poll(vaddr byte, cond func(byte) bool) (byte, error) {
	deadline := s.clock.Now().Add(s.opts.Timeout)
	var last byte = bus.Sentinel
	var lastErr error
	for {
		v, err := s.readOnce(vaddr, deadline)
		if err == nil {
			last = v
			if cond(v) {
				return v, nil
			}
		} else {
			lastErr = err
		}
		if !s.sleepUntil(deadline) {
			break
		}
	}
	err := fmt.Errorf("register %#02x: %w", vaddr, fault.ErrTimeout)
	if lastErr != nil && !errors.Is(lastErr, fault.ErrTimeout) {
		err = fmt.Errorf("%w: %w", err, lastErr)
	}
	return last, fault.New(fault.Timeout, "vreg.poll", err)
}

func (s *Session) exhausted(op string, vaddr byte, attempts int, lastErr error) error {
	class := fault.Transient
	if fault.IsTimeout(lastErr) {
		class = fault.Timeout
	}
	return fault.New(class, op, fmt.Errorf("register %#02x: %w after %d attempts: %w",
		vaddr, fault.ErrRetriesExhausted, attempts, lastErr))
}
