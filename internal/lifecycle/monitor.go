// Package lifecycle tracks whether the host process is in active use.
// Polling only runs while foregrounded; the host app (or the dev HTTP hook)
// drives the transitions.
package lifecycle

import (
	"sync"

	"github.com/rs/zerolog"
)

type State string

const (
	StateForeground State = "foreground"
	StateBackground State = "background"
)

// Monitor holds the current foreground flag and fans transitions out to
// subscribers. It starts foregrounded: a freshly launched client is in use.
type Monitor struct {
	mu         sync.RWMutex
	foreground bool
	subs       map[int]chan State
	nextID     int
	logger     zerolog.Logger
}

func NewMonitor(logger zerolog.Logger) *Monitor {
	return &Monitor{
		foreground: true,
		subs:       make(map[int]chan State),
		logger:     logger.With().Str("component", "lifecycle_monitor").Logger(),
	}
}

func (m *Monitor) IsForeground() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.foreground
}

func (m *Monitor) Foreground() { m.setState(true) }

func (m *Monitor) Background() { m.setState(false) }

func (m *Monitor) setState(foreground bool) {
	m.mu.Lock()
	if m.foreground == foreground {
		m.mu.Unlock()
		return
	}
	m.foreground = foreground
	state := StateBackground
	if foreground {
		state = StateForeground
	}
	subs := make([]chan State, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	m.logger.Debug().Str("state", string(state)).Msg("lifecycle transition")
	for _, sub := range subs {
		select {
		case sub <- state:
		default:
			// Subscriber lagging behind a burst of transitions only needs
			// the latest state; drop the stale one.
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- state:
			default:
			}
		}
	}
}

// Subscribe returns a stream of transitions and a cancel function.
func (m *Monitor) Subscribe() (<-chan State, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	sub := make(chan State, 4)
	m.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.subs, id)
			close(sub)
		})
	}
	return sub, cancel
}
