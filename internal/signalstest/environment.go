// Package signalstest provides a deterministic signals.Environment for tests.
package signalstest

import (
	"sync"
	"testing"
	"time"

	"github.com/Amund211/marketcache/internal/signals"
)

type mockedTimer struct {
	env       *Environment
	expiresAt time.Time
	f         func()
	done      bool
}

func (m *mockedTimer) Stop() bool {
	m.env.lock.Lock()
	defer m.env.lock.Unlock()

	if m.done {
		return false
	}
	m.done = true
	return true
}

// Environment is a manually driven clock. Timers only fire from Advance, and
// Go runs work inline, so every trigger completes before the call returns.
type Environment struct {
	t *testing.T

	lock        sync.Mutex
	currentTime time.Time
	timers      []*mockedTimer

	focus     *signals.Broadcaster
	reconnect *signals.Broadcaster
}

func New(t *testing.T, start time.Time) *Environment {
	return &Environment{
		t:           t,
		currentTime: start,
		focus:       signals.NewBroadcaster(),
		reconnect:   signals.NewBroadcaster(),
	}
}

func (e *Environment) Now() time.Time {
	e.lock.Lock()
	defer e.lock.Unlock()

	return e.currentTime
}

func (e *Environment) AfterFunc(d time.Duration, f func()) signals.Timer {
	e.lock.Lock()
	defer e.lock.Unlock()

	timer := &mockedTimer{
		env:       e,
		expiresAt: e.currentTime.Add(d),
		f:         f,
	}
	e.timers = append(e.timers, timer)
	return timer
}

func (e *Environment) Go(f func()) {
	f()
}

func (e *Environment) OnFocus(f func()) func() {
	return e.focus.Subscribe(f)
}

func (e *Environment) OnReconnect(f func()) func() {
	return e.reconnect.Subscribe(f)
}

func (e *Environment) Focus() {
	e.t.Helper()
	e.focus.Emit()
}

func (e *Environment) Reconnect() {
	e.t.Helper()
	e.reconnect.Emit()
}

// Advance moves the clock forward by d, firing due timers in expiry order.
// Timers scheduled by a firing timer also fire if they fall within the window.
func (e *Environment) Advance(d time.Duration) {
	e.t.Helper()

	e.lock.Lock()
	target := e.currentTime.Add(d)
	e.lock.Unlock()

	for {
		timer := e.popDueTimer(target)
		if timer == nil {
			break
		}
		timer.f()
	}

	e.lock.Lock()
	e.currentTime = target
	e.lock.Unlock()
}

func (e *Environment) popDueTimer(target time.Time) *mockedTimer {
	e.lock.Lock()
	defer e.lock.Unlock()

	var due *mockedTimer
	remaining := e.timers[:0]
	for _, timer := range e.timers {
		if timer.done {
			continue
		}
		remaining = append(remaining, timer)
		if timer.expiresAt.After(target) {
			continue
		}
		if due == nil || timer.expiresAt.Before(due.expiresAt) {
			due = timer
		}
	}
	e.timers = remaining

	if due == nil {
		return nil
	}

	due.done = true
	if due.expiresAt.After(e.currentTime) {
		e.currentTime = due.expiresAt
	}
	return due
}

// PendingTimers returns the number of timers that have neither fired nor been stopped.
func (e *Environment) PendingTimers() int {
	e.lock.Lock()
	defer e.lock.Unlock()

	pending := 0
	for _, timer := range e.timers {
		if !timer.done {
			pending++
		}
	}
	return pending
}

func (e *Environment) Listeners() (focus int, reconnect int) {
	return e.focus.Len(), e.reconnect.Len()
}

var _ signals.Environment = (*Environment)(nil)
