// Package control runs the remote-status driven acquisition loop: it polls
// the backend for the subject's status row, acquires a sample when asked,
// submits it and returns the row to idle once the sample has been removed.
package control

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/picron-io/picron-agent/internal/history"
	"github.com/picron-io/picron-agent/internal/monitoring"
	"github.com/picron-io/picron-agent/internal/presence"
	"github.com/picron-io/picron-agent/internal/remote"
	"github.com/picron-io/picron-agent/internal/sampling"
	"github.com/picron-io/picron-agent/internal/timeutil"
)

// Backend is the subset of the backend API the loop consumes.
type Backend interface {
	FetchRow(ctx context.Context, subject string) (remote.Row, error)
	SubmitReading(ctx context.Context, data remote.SensorData) error
	SubmitPrediction(ctx context.Context, subject string, in remote.SensorInput) (remote.Prediction, error)
	SubmitStatusReset(ctx context.Context, subject string, data remote.PicronData) error
	PublishLive(ctx context.Context, data remote.LiveSensorData) error
}

// Sampler runs one acquisition cycle.
type Sampler interface {
	Run(ctx context.Context) (sampling.Sample, error)
}

// Recorder persists cycle and reset outcomes. Recording failures are logged
// and never stop the loop.
type Recorder interface {
	RecordCycle(ctx context.Context, c history.Cycle) error
	RecordReset(ctx context.Context, r history.Reset) error
}

// Options configures a Loop.
type Options struct {
	Subject        string
	PollInterval   time.Duration
	ResetCountdown time.Duration
	PresencePoll   time.Duration
	PublishLive    bool
}

// Loop phases reported in State.
const (
	PhaseIdle      = "idle"
	PhaseLocked    = "access_locked"
	PhaseRemoval   = "awaiting_removal"
	PhaseCountdown = "countdown"
)

// Loop owns the control goroutine. Only State may be called concurrently
// with Run.
type Loop struct {
	backend  Backend
	sampler  Sampler
	presence presence.Sensor
	access   presence.Sensor
	clock    timeutil.Clock
	opts     Options
	recorder Recorder
	log      zerolog.Logger

	mu    sync.Mutex
	state State
}

// New returns a Loop. A nil access sensor grants access unconditionally.
func New(backend Backend, sampler Sampler, sensor, access presence.Sensor, clock timeutil.Clock, opts Options) *Loop {
	if access == nil {
		access = presence.Always(true)
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.ResetCountdown < time.Second {
		opts.ResetCountdown = 15 * time.Second
	}
	if opts.PresencePoll <= 0 {
		opts.PresencePoll = 100 * time.Millisecond
	}
	return &Loop{
		backend:  backend,
		sampler:  sampler,
		presence: sensor,
		access:   access,
		clock:    clock,
		opts:     opts,
		log:      monitoring.Stage("control").With().Str("subject", opts.Subject).Logger(),
		state:    State{Subject: opts.Subject, Phase: PhaseIdle, RemoteStatus: -1},
	}
}

// SetRecorder attaches a journal. It must be called before Run.
func (l *Loop) SetRecorder(r Recorder) { l.recorder = r }

// Run polls until ctx is cancelled and returns ctx.Err(). Remote and
// acquisition failures are logged and never end the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info().Dur("poll_interval", l.opts.PollInterval).Msg("control loop started")
	for {
		l.Poll(ctx)
		if err := timeutil.SleepContext(ctx, l.clock, l.opts.PollInterval); err != nil {
			l.log.Info().Msg("control loop stopped")
			return err
		}
	}
}

// Poll performs one iteration: fetch the status row and act on it.
func (l *Loop) Poll(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	present := l.presence.Present()
	l.update(func(s *State) { s.Presence = present })

	row, err := l.backend.FetchRow(ctx, l.opts.Subject)
	if errors.Is(err, remote.ErrNoRow) {
		l.log.Info().Msg("no status row for subject")
		l.update(func(s *State) { s.RemoteStatus = -1 })
		return
	}
	if err != nil {
		l.log.Warn().Err(err).Msg("failed to fetch status row")
		l.update(func(s *State) { s.LastError = err.Error() })
		return
	}
	l.update(func(s *State) { s.RemoteStatus = row.Status })

	switch row.Status {
	case remote.StatusDataset, remote.StatusPredict:
	default:
		l.setPhase(PhaseIdle)
		return
	}

	if !l.access.Present() {
		l.log.Warn().Int("status", row.Status).Msg("access locked, skipping request")
		l.setPhase(PhaseLocked)
		return
	}

	cycleID := l.acquire(ctx, row)
	if ctx.Err() != nil {
		return
	}
	l.resetAfterRemoval(ctx, cycleID)
	l.setPhase(PhaseIdle)
}

// acquire runs one sampling cycle for row and submits the result. It
// returns the cycle ID.
func (l *Loop) acquire(ctx context.Context, row remote.Row) string {
	id := uuid.NewString()
	log := l.log.With().Str("cycle", id).Int("status", row.Status).Logger()
	cycle := history.Cycle{ID: id, Subject: l.opts.Subject, Status: row.Status, Started: l.clock.Now()}
	l.update(func(s *State) { s.Cycle = id })
	log.Info().Msg("acquisition requested")

	sample, err := l.sampler.Run(ctx)
	switch {
	case err != nil && ctx.Err() != nil:
		return id
	case errors.Is(err, sampling.ErrAborted):
		log.Info().Msg("sample removed, cycle aborted without submitting")
		cycle.Outcome = history.OutcomeAborted
		cycle.Error = err.Error()
	case err != nil:
		log.Warn().Err(err).Msg("acquisition failed")
		cycle.Outcome = history.OutcomeFailed
		cycle.Error = err.Error()
	default:
		cycle.Sample = &sample
		l.update(func(s *State) { s.Last = &sample })
		if err := l.submit(ctx, log, row, sample); err != nil {
			cycle.Outcome = history.OutcomeSubmitFailed
			cycle.Error = err.Error()
		} else {
			cycle.Outcome = history.OutcomeSubmitted
		}
	}

	cycle.Finished = l.clock.Now()
	if cycle.Error != "" {
		l.update(func(s *State) { s.LastError = cycle.Error })
	}
	if l.recorder != nil {
		if err := l.recorder.RecordCycle(ctx, cycle); err != nil {
			log.Warn().Err(err).Msg("failed to journal cycle")
		}
	}
	return id
}

func (l *Loop) submit(ctx context.Context, log zerolog.Logger, row remote.Row, sample sampling.Sample) error {
	if l.opts.PublishLive {
		if err := l.backend.PublishLive(ctx, remote.NewLiveSensorData(l.opts.Subject, sample)); err != nil {
			log.Warn().Err(err).Msg("failed to publish live reading")
		}
	}

	switch row.Status {
	case remote.StatusDataset:
		if err := l.backend.SubmitReading(ctx, remote.NewSensorData(l.opts.Subject, row, sample)); err != nil {
			log.Warn().Err(err).Msg("failed to submit reading")
			return err
		}
		log.Info().Msg("reading submitted")
	case remote.StatusPredict:
		p, err := l.backend.SubmitPrediction(ctx, l.opts.Subject, remote.NewSensorInput(sample))
		if err != nil {
			log.Warn().Err(err).Msg("failed to submit prediction request")
			return err
		}
		l.update(func(s *State) { s.Prediction = &p })
		log.Info().
			Float64("sweet", p.Taste.Sweet).
			Float64("salty", p.Taste.Salty).
			Float64("bitter", p.Taste.Bitter).
			Float64("sour", p.Taste.Sour).
			Float64("umami", p.Taste.Umami).
			Float64("quality", p.Quality).
			Float64("dilution", p.Dilution).
			Msg("prediction received")
	}
	return nil
}

// resetAfterRemoval waits for the sample to be taken away, counts down and
// then returns the remote row to idle. A sample placed again during the
// countdown leaves the row untouched.
func (l *Loop) resetAfterRemoval(ctx context.Context, cycleID string) {
	outcome := l.countdownReset(ctx)
	if outcome == history.ResetCancelled || l.recorder == nil {
		return
	}
	r := history.Reset{CycleID: cycleID, Subject: l.opts.Subject, Outcome: outcome, At: l.clock.Now()}
	if err := l.recorder.RecordReset(ctx, r); err != nil {
		l.log.Warn().Err(err).Msg("failed to journal reset")
	}
}

func (l *Loop) countdownReset(ctx context.Context) history.Outcome {
	l.setPhase(PhaseRemoval)
	for l.presence.Present() {
		if err := timeutil.SleepContext(ctx, l.clock, l.opts.PresencePoll); err != nil {
			return history.ResetCancelled
		}
	}
	l.update(func(s *State) { s.Presence = false })

	l.setPhase(PhaseCountdown)
	seconds := int(l.opts.ResetCountdown / time.Second)
	for remaining := seconds; remaining > 0; remaining-- {
		l.update(func(s *State) { s.Countdown = remaining })
		l.log.Info().Int("remaining", remaining).Msg("resetting status")
		if err := timeutil.SleepContext(ctx, l.clock, time.Second); err != nil {
			return history.ResetCancelled
		}
		if l.presence.Present() {
			l.log.Info().Int("remaining", remaining-1).Msg("sample placed again, reset aborted")
			l.update(func(s *State) { s.Countdown = 0; s.Presence = true })
			return history.ResetAborted
		}
	}
	l.update(func(s *State) { s.Countdown = 0 })

	row, err := l.backend.FetchRow(ctx, l.opts.Subject)
	if err != nil {
		l.log.Warn().Err(err).Msg("failed to fetch status row for reset")
		return history.ResetFailed
	}
	if err := l.backend.SubmitStatusReset(ctx, l.opts.Subject, remote.ResetFrom(row)); err != nil {
		l.log.Warn().Err(err).Msg("failed to reset status")
		return history.ResetFailed
	}
	l.update(func(s *State) { s.RemoteStatus = remote.StatusIdle })
	l.log.Info().Msg("status reset to idle")
	return history.ResetDone
}
