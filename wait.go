package spinor

import (
	"time"

	"go.uber.org/zap"
)

// WaitPolicy bounds a busy-wait. Polling stops when the device is idle, after
// MaxPolls status reads, or once Timeout has elapsed, whichever comes first.
// Interval is the pause between polls; zero polls back to back.
type WaitPolicy struct {
	Interval time.Duration
	Timeout  time.Duration
	MaxPolls int
}

// DefaultWaitTimeout applies when a policy has neither Timeout nor MaxPolls.
const DefaultWaitTimeout = 5 * time.Second

func (p WaitPolicy) bounded() WaitPolicy {
	if p.Timeout <= 0 && p.MaxPolls <= 0 {
		p.Timeout = DefaultWaitTimeout
	}
	return p
}

// policy returns the wait bound for an operation: the WithWaitPolicy override
// if any, otherwise interval and the chip's maximum cycle time.
func (f *Flash) policy(interval, timeout time.Duration) WaitPolicy {
	if f.wait != nil {
		return *f.wait
	}
	return WaitPolicy{Interval: interval, Timeout: timeout}
}

// waitIdle polls the status register until BUSY clears.
func (f *Flash) waitIdle(op string, p WaitPolicy) error {
	p = p.bounded()
	start := f.clk.Now()
	for polls := 1; ; polls++ {
		sr, err := f.readStatus()
		if err != nil {
			return err
		}
		if !sr.Busy() {
			f.state = Idle
			return nil
		}

		elapsed := f.clk.Since(start)
		if (p.MaxPolls > 0 && polls >= p.MaxPolls) || (p.Timeout > 0 && elapsed >= p.Timeout) {
			f.log.Warn("flash busy wait timed out",
				zap.String("op", op),
				zap.Int("polls", polls),
				zap.Duration("elapsed", elapsed),
				zap.Stringer("status", sr))
			return &TimeoutError{Op: op, Polls: polls, Elapsed: elapsed, Status: sr}
		}
		if p.Interval > 0 {
			f.clk.Sleep(p.Interval)
		}
	}
}

// settle finishes a wait left over from a timed-out operation.
func (f *Flash) settle() error {
	if f.state != Busy {
		return nil
	}
	return f.waitIdle("settle", f.policy(time.Millisecond, f.timing(flashCmdEraseChip)))
}
