package control

import (
	"time"

	"github.com/picron-io/picron-agent/internal/remote"
	"github.com/picron-io/picron-agent/internal/sampling"
)

// State is a snapshot of what the loop is doing, served by the local API.
type State struct {
	Subject      string             `json:"subject"`
	Phase        string             `json:"phase"`
	Presence     bool               `json:"presence"`
	RemoteStatus int                `json:"remote_status"`
	Cycle        string             `json:"cycle,omitempty"`
	Countdown    int                `json:"countdown,omitempty"`
	Last         *sampling.Sample   `json:"last,omitempty"`
	Prediction   *remote.Prediction `json:"prediction,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
	Updated      time.Time          `json:"updated"`
}

// State returns a copy of the current state.
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.state
	if s.Last != nil {
		last := *s.Last
		s.Last = &last
	}
	if s.Prediction != nil {
		p := *s.Prediction
		s.Prediction = &p
	}
	return s
}

// ObservePhase records a sampling phase change. It is meant to be installed
// as the pipeline's OnState hook.
func (l *Loop) ObservePhase(s sampling.State) {
	l.setPhase(s.String())
}

func (l *Loop) setPhase(phase string) {
	l.update(func(s *State) { s.Phase = phase })
}

func (l *Loop) update(f func(*State)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f(&l.state)
	l.state.Updated = l.clock.Now()
}
