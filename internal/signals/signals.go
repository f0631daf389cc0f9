// Package signals abstracts the host events that drive revalidation: a clock,
// timers, foreground focus and network reconnects.
package signals

import (
	"time"
)

type Timer interface {
	// Stop prevents the timer from firing. Returns false if it already fired or was stopped.
	Stop() bool
}

type Environment interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
	// Go runs f in the background.
	Go(f func())
	OnFocus(f func()) (unsubscribe func())
	OnReconnect(f func()) (unsubscribe func())
}
