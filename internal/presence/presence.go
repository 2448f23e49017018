// Package presence reads the sample-present trigger and the access-control
// input through a debouncer.
package presence

import (
	"sync/atomic"
	"time"

	"github.com/picron-io/picron-agent/internal/timeutil"
)

// Input is a raw digital input. Read reports the active level.
type Input interface {
	Read() bool
}

// Sensor reports a debounced state.
type Sensor interface {
	Present() bool
}

// InputFunc adapts a function to Input.
type InputFunc func() bool

func (f InputFunc) Read() bool { return f() }

// Debouncer turns a bouncy Input into a stable Sensor. A level is accepted
// once Samples consecutive reads agree; if the input does not settle within
// 4*Samples reads the previously accepted level is kept.
type Debouncer struct {
	in       Input
	samples  int
	interval time.Duration
	clock    timeutil.Clock
	stable   bool
}

// NewDebouncer returns a Debouncer starting in the inactive state.
func NewDebouncer(in Input, samples int, interval time.Duration, clock timeutil.Clock) *Debouncer {
	if samples < 1 {
		samples = 1
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Debouncer{in: in, samples: samples, interval: interval, clock: clock}
}

// Present reads the input until it settles and returns the accepted level.
func (d *Debouncer) Present() bool {
	level := d.in.Read()
	run := 1
	for reads := 1; run < d.samples && reads < 4*d.samples; reads++ {
		d.clock.Sleep(d.interval)
		v := d.in.Read()
		if v == level {
			run++
			continue
		}
		level, run = v, 1
	}
	if run >= d.samples {
		d.stable = level
	}
	return d.stable
}

// Always is a Sensor with a fixed state. It stands in for an unconfigured
// access-control input.
type Always bool

func (a Always) Present() bool { return bool(a) }

// Manual is an Input driven from software, used in dev mode where the
// trigger is toggled through the local API.
type Manual struct {
	v atomic.Bool
}

// Set changes the level.
func (m *Manual) Set(active bool) { m.v.Store(active) }

// Read returns the current level.
func (m *Manual) Read() bool { return m.v.Load() }
