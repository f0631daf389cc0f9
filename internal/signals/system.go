package signals

import (
	"sync"
	"time"
)

// System is the Environment backed by the wall clock and goroutines.
// Focus and connectivity changes are reported to it by the host.
type System struct {
	focus     *Broadcaster
	reconnect *Broadcaster

	mu     sync.Mutex
	online bool
}

func NewSystem() *System {
	return &System{
		focus:     NewBroadcaster(),
		reconnect: NewBroadcaster(),
		online:    true,
	}
}

func (s *System) Now() time.Time {
	return time.Now()
}

func (s *System) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

func (s *System) Go(f func()) {
	go f()
}

func (s *System) OnFocus(f func()) func() {
	return s.focus.Subscribe(f)
}

func (s *System) OnReconnect(f func()) func() {
	return s.reconnect.Subscribe(f)
}

// Focus reports that the host regained foreground focus.
func (s *System) Focus() {
	s.focus.Emit()
}

// SetOnline records the connectivity state. Listeners are notified on the
// transition from offline to online only.
func (s *System) SetOnline(online bool) {
	s.mu.Lock()
	wasOnline := s.online
	s.online = online
	s.mu.Unlock()

	if online && !wasOnline {
		s.reconnect.Emit()
	}
}

func (s *System) Online() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online
}

var _ Environment = (*System)(nil)
