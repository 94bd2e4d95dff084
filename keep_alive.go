package mqttclient

import (
	"time"
)

const defaultPingSafetyMargin = 100 * time.Millisecond

type keepAliveAction int

const (
	keepAliveIdle keepAliveAction = iota
	keepAlivePing
	keepAliveTimeout
)

// keepAliveMonitor decides when to send PINGREQ and when the server is
// considered gone. It holds no timers; the connection loop feeds it the
// clock and the time of the last flushed write, which keeps it testable
// with synthetic time.
type keepAliveMonitor struct {
	interval         time.Duration
	margin           time.Duration
	pingRespRequired bool

	pingOutstanding bool
	pingSentAt      time.Time
}

// newKeepAliveMonitor creates a monitor for a keep alive in seconds. Zero
// disables it.
func newKeepAliveMonitor(keepAlive uint16, margin time.Duration, pingRespRequired bool) *keepAliveMonitor {
	return &keepAliveMonitor{
		interval:         time.Duration(keepAlive) * time.Second,
		margin:           margin,
		pingRespRequired: pingRespRequired,
	}
}

func (k *keepAliveMonitor) enabled() bool {
	return k.interval > 0
}

// period is how long the connection may stay quiet before a PINGREQ.
func (k *keepAliveMonitor) period() time.Duration {
	if k.margin <= 0 || k.margin >= k.interval {
		return k.interval
	}
	return k.interval - k.margin
}

// check evaluates the state at now.
func (k *keepAliveMonitor) check(now, lastFlush time.Time) keepAliveAction {
	if !k.enabled() {
		return keepAliveIdle
	}
	if k.pingOutstanding {
		if !now.Before(k.pingSentAt.Add(k.interval)) {
			return keepAliveTimeout
		}
		return keepAliveIdle
	}
	if now.Sub(lastFlush) >= k.period() {
		return keepAlivePing
	}
	return keepAliveIdle
}

// pingSent arms the response deadline.
func (k *keepAliveMonitor) pingSent(now time.Time) {
	k.pingOutstanding = true
	k.pingSentAt = now
}

// onInbound records a packet from the server. Only PINGRESP clears the
// outstanding ping unless any traffic is accepted as a response.
func (k *keepAliveMonitor) onInbound(isPingresp bool) {
	if isPingresp || !k.pingRespRequired {
		k.pingOutstanding = false
	}
}

// next returns when check should run again.
func (k *keepAliveMonitor) next(lastFlush time.Time) time.Time {
	if k.pingOutstanding {
		return k.pingSentAt.Add(k.interval)
	}
	return lastFlush.Add(k.period())
}
