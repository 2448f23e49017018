// Package sampling runs one acquisition cycle: wait for a sample, let it
// settle, take a fixed number of readings and smooth them, abandoning the
// cycle as soon as the sample is removed.
package sampling

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/picron-io/picron-agent/internal/analog"
	"github.com/picron-io/picron-agent/internal/monitoring"
	"github.com/picron-io/picron-agent/internal/presence"
	"github.com/picron-io/picron-agent/internal/spectral"
	"github.com/picron-io/picron-agent/internal/timeutil"
)

var (
	// ErrAborted means presence was lost before the cycle completed.
	ErrAborted = errors.New("sample removed during acquisition")
	// ErrNoPresence means WaitTimeout expired before a sample was placed.
	ErrNoPresence = errors.New("no sample placed before wait timeout")
)

// State is the phase of an acquisition cycle.
type State int

const (
	WaitForPresence State = iota
	Settling
	Sampling
	Complete
	Aborted
)

func (s State) String() string {
	switch s {
	case WaitForPresence:
		return "wait_for_presence"
	case Settling:
		return "settling"
	case Sampling:
		return "sampling"
	case Complete:
		return "complete"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Sample is the smoothed result of one cycle. Spread is the per-channel
// sample standard deviation over the valid readings only; sentinel readings
// are left out and a channel with fewer than two valid readings has zero
// spread.
type Sample struct {
	Channels    spectral.Channels `json:"channels"`
	Aux         float64           `json:"aux"`
	Temperature float64           `json:"temperature"`
	Readings    int               `json:"readings"`
	Spread      spectral.Channels `json:"spread"`
	Completed   time.Time         `json:"completed"`
}

// Options configures a Pipeline.
type Options struct {
	NumReadings       int
	ReadingInterval   time.Duration
	DelayAfterTrigger time.Duration
	PresencePoll      time.Duration
	WaitTimeout       time.Duration // zero waits forever
	Alpha             float64
}

// Pipeline owns no hardware; it borrows the bound inputs for each Run.
type Pipeline struct {
	source   spectral.Source
	aux      analog.Channel
	presence presence.Sensor
	clock    timeutil.Clock
	opts     Options
	log      zerolog.Logger

	// OnState, if set, is called on every phase change.
	OnState func(State)
}

// New returns a Pipeline. A nil aux is treated as a disabled channel.
func New(source spectral.Source, aux analog.Channel, sensor presence.Sensor, clock timeutil.Clock, opts Options) *Pipeline {
	if aux == nil {
		aux = analog.Disabled{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if opts.NumReadings < 1 {
		opts.NumReadings = 1
	}
	return &Pipeline{
		source:   source,
		aux:      aux,
		presence: sensor,
		clock:    clock,
		opts:     opts,
		log:      monitoring.Stage("sampling"),
	}
}

func (p *Pipeline) enter(s State) {
	if p.OnState != nil {
		p.OnState(s)
	}
}

// Run executes one cycle. It returns ErrAborted if presence is lost,
// ErrNoPresence if the wait times out, or ctx.Err() on cancellation.
func (p *Pipeline) Run(ctx context.Context) (Sample, error) {
	if err := p.waitForPresence(ctx); err != nil {
		return Sample{}, err
	}

	p.enter(Settling)
	if err := timeutil.SleepContext(ctx, p.clock, p.opts.DelayAfterTrigger); err != nil {
		return Sample{}, err
	}
	if !p.presence.Present() {
		p.log.Info().Msg("sample removed while settling")
		p.enter(Aborted)
		return Sample{}, ErrAborted
	}

	p.enter(Sampling)
	smoother := NewSmoother(spectral.NumChannels+1, p.opts.Alpha)
	raw := make([][]float64, spectral.NumChannels)
	for i := 0; i < p.opts.NumReadings; i++ {
		if !p.presence.Present() {
			p.log.Info().Int("reading", i).Msg("sample removed, discarding partial readings")
			p.enter(Aborted)
			return Sample{}, ErrAborted
		}

		channels := spectral.SentinelChannels()
		if err := p.source.TriggerMeasurement(); err != nil {
			p.log.Warn().Err(err).Int("reading", i).Msg("measurement trigger failed")
		} else {
			channels = p.source.ReadCalibratedChannels()
		}

		aux, err := p.aux.Read()
		if err != nil && p.aux.Available() {
			p.log.Warn().Err(err).Int("reading", i).Msg("auxiliary read failed")
		}
		if err != nil {
			aux = analog.Sentinel
		}

		vec := append(channels[:], aux)
		smoother.Add(vec)
		for c := range raw {
			if channels[c] != spectral.Sentinel {
				raw[c] = append(raw[c], channels[c])
			}
		}
		p.log.Debug().Int("reading", i).Floats64("values", vec).Msg("reading folded")

		if i < p.opts.NumReadings-1 {
			if err := timeutil.SleepContext(ctx, p.clock, p.opts.ReadingInterval); err != nil {
				return Sample{}, err
			}
		}
	}
	if !p.presence.Present() {
		p.log.Info().Msg("sample removed during final reading")
		p.enter(Aborted)
		return Sample{}, ErrAborted
	}

	avg := smoother.Value()
	var s Sample
	copy(s.Channels[:], avg[:spectral.NumChannels])
	s.Aux = avg[spectral.NumChannels]
	s.Readings = smoother.Count()
	for c := range raw {
		if len(raw[c]) > 1 {
			s.Spread[c] = stat.StdDev(raw[c], nil)
		}
	}
	if t, err := p.source.ReadTemperature(); err == nil {
		s.Temperature = t
	} else {
		p.log.Warn().Err(err).Msg("device temperature unavailable")
		s.Temperature = spectral.Sentinel
	}
	s.Completed = p.clock.Now()

	p.enter(Complete)
	p.log.Info().Int("readings", s.Readings).Floats64("channels", s.Channels[:]).Float64("aux", s.Aux).Msg("acquisition complete")
	return s, nil
}

func (p *Pipeline) waitForPresence(ctx context.Context) error {
	p.enter(WaitForPresence)
	start := p.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.presence.Present() {
			return nil
		}
		if p.opts.WaitTimeout > 0 && p.clock.Since(start) >= p.opts.WaitTimeout {
			return ErrNoPresence
		}
		if err := timeutil.SleepContext(ctx, p.clock, p.opts.PresencePoll); err != nil {
			return err
		}
	}
}
