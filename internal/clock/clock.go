// Package clock centralizes the time source and tunable timers used by
// the offline handshake and session layers. Production code runs on
// clockwork.NewRealClock(); tests inject a clockwork.FakeClock so RTO
// and keepalive behavior can be driven deterministically without
// sleeping.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Timers collects every tunable interval raknet-go's reliability layer
// depends on. Values mirror the original implementation's defaults;
// callers may override individual fields before passing a Timers into
// the session or offline packages.
type Timers struct {
	// Tick is the endpoint's scheduler cadence: how often pending sends,
	// retransmissions, and keepalives are evaluated.
	Tick time.Duration

	// HandshakeRetry is the interval between retransmitted offline
	// handshake packets, and HandshakeMaxRetries bounds how many times
	// a client resends before giving up.
	HandshakeRetry      time.Duration
	HandshakeMaxRetries uint64

	// RTOMin and RTOMax bound the retransmission timeout computed from
	// the smoothed RTT estimate.
	RTOMin time.Duration
	RTOMax time.Duration

	// KeepAliveInterval is how long a session may go without sending
	// before it sends an unreliable ping; after twice that without
	// receiving, it sends a reliable ping. SessionTimeout is how long
	// a session may go without receiving anything before it is
	// considered dead. StaleHandshakeTimeout is carried in the
	// configuration but is not read by any package in raknet-go.
	KeepAliveInterval     time.Duration
	SessionTimeout        time.Duration
	StaleHandshakeTimeout time.Duration
}

// DefaultTimers returns the tunables raknet-go ships with out of the box.
func DefaultTimers() Timers {
	return Timers{
		Tick:                  10 * time.Millisecond,
		HandshakeRetry:        500 * time.Millisecond,
		HandshakeMaxRetries:   5,
		RTOMin:                50 * time.Millisecond,
		RTOMax:                3 * time.Second,
		KeepAliveInterval:     5 * time.Second,
		SessionTimeout:        30 * time.Second,
		StaleHandshakeTimeout: 10 * time.Second,
	}
}

// Clock is the narrow time-source surface the rest of raknet-go depends
// on, satisfied by both clockwork.Clock and clockwork.FakeClock.
type Clock = clockwork.Clock

// Real returns the production clock.
func Real() Clock { return clockwork.NewRealClock() }

// NewFake returns a fake clock for tests, pinned to a fixed instant.
func NewFake() clockwork.FakeClock { return clockwork.NewFakeClock() }
