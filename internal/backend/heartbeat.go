package backend

import (
	"context"
	"time"
)

// Heartbeat probes an established link at a fixed interval and declares it dead
// when no acknowledgment arrives within the deadline. One monitor serves one
// link; after firing onDead (or after ctx cancellation) it stops for good and a
// fresh monitor must be created for the next connection.
type Heartbeat struct {
	interval time.Duration
	deadline time.Duration
	probe    func() error
	acks     <-chan struct{}
	onDead   func()
}

func NewHeartbeat(interval, deadline time.Duration, probe func() error, acks <-chan struct{}, onDead func()) *Heartbeat {
	return &Heartbeat{
		interval: interval,
		deadline: deadline,
		probe:    probe,
		acks:     acks,
		onDead:   onDead,
	}
}

// Run blocks until the link is declared dead or ctx is cancelled.
func (h *Heartbeat) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Discard acks from earlier probes so the deadline below only accepts
		// a response to this probe.
		for {
			select {
			case <-h.acks:
				continue
			default:
			}
			break
		}

		if err := h.probe(); err != nil {
			h.onDead()
			return
		}

		timer := time.NewTimer(h.deadline)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-h.acks:
			timer.Stop()
		case <-timer.C:
			h.onDead()
			return
		}
	}
}
