// Package device binds the agent's hardware at startup and releases it at
// shutdown. A Rig is built once by the process and handed to the sampling
// pipeline and control loop; nothing else opens hardware.
package device

import (
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/picron-io/picron-agent/internal/analog"
	"github.com/picron-io/picron-agent/internal/as7263"
	"github.com/picron-io/picron-agent/internal/bus"
	"github.com/picron-io/picron-agent/internal/config"
	"github.com/picron-io/picron-agent/internal/fault"
	"github.com/picron-io/picron-agent/internal/monitoring"
	"github.com/picron-io/picron-agent/internal/presence"
	"github.com/picron-io/picron-agent/internal/sampling"
	"github.com/picron-io/picron-agent/internal/spectral"
	"github.com/picron-io/picron-agent/internal/timeutil"
	"github.com/picron-io/picron-agent/internal/uart"
	"github.com/picron-io/picron-agent/internal/vreg"
)

// Options adjusts how Open binds hardware.
type Options struct {
	// Dev replaces the GPIO inputs with a software switch and defaults the
	// spectral bus to the register simulator.
	Dev bool
	// Clock drives every wait on the hardware path. Nil uses the real clock.
	Clock timeutil.Clock
	// Sim, if set, is used as the simulated device instead of a fresh one.
	Sim *as7263.Sim
}

// Rig owns every hardware binding for the life of the process.
type Rig struct {
	Spectral spectral.Source
	Aux      analog.Channel
	Presence presence.Sensor
	Access   presence.Sensor

	// Switch drives the presence input in dev mode; nil otherwise.
	Switch *presence.Manual
	// Sim is the simulated spectral device when the sim driver is in use.
	Sim *as7263.Sim

	clock     timeutil.Clock
	closers   []namedCloser
	closeOnce sync.Once
	closeErr  error
	log       zerolog.Logger
}

type namedCloser struct {
	name string
	c    io.Closer
}

// SimChannels are the calibrated values reported by a fresh simulator.
var SimChannels = [6]float32{612.5, 684.25, 731, 760.5, 812.75, 861}

// Open binds the inputs, the optional analog sensor and the spectral sensor.
// A failure to bind an input or to initialize the spectral sensor is fatal
// and releases whatever was already bound; the analog sensor degrades to a
// disabled channel.
func Open(cfg *config.AgentConfig, opts Options) (*Rig, error) {
	r := &Rig{clock: opts.Clock, log: monitoring.Stage("device")}
	if r.clock == nil {
		r.clock = timeutil.RealClock{}
	}

	if err := r.bindInputs(cfg.Presence, opts.Dev); err != nil {
		r.Close()
		return nil, fault.New(fault.Fatal, "device.open", err)
	}
	r.bindAnalog(cfg.Analog)
	if err := r.bindSpectral(cfg, opts); err != nil {
		r.Close()
		return nil, fault.New(fault.Fatal, "device.open", err)
	}
	return r, nil
}

func (r *Rig) own(name string, c io.Closer) {
	if c != nil {
		r.closers = append(r.closers, namedCloser{name: name, c: c})
	}
}

func (r *Rig) bindInputs(pc config.PresenceConfig, dev bool) error {
	samples, interval := pc.GetDebounceSamples(), pc.GetDebounceInterval()

	if dev {
		r.Switch = &presence.Manual{}
		r.Presence = presence.NewDebouncer(r.Switch, samples, interval, r.clock)
		r.Access = presence.Always(true)
		r.log.Info().Msg("dev mode: presence is driven through the local API")
		return nil
	}

	pin, err := presence.OpenPin(pc.GetPin(), pc.GetActiveLow())
	if err != nil {
		return fmt.Errorf("failed to bind presence input: %w", err)
	}
	r.own("presence", pin)
	r.Presence = presence.NewDebouncer(pin, samples, interval, r.clock)
	r.log.Info().Str("pin", pin.String()).Msg("presence input bound")

	r.Access = presence.Always(true)
	if name := pc.GetAccessPin(); name != "" {
		access, err := presence.OpenPin(name, pc.GetActiveLow())
		if err != nil {
			return fmt.Errorf("failed to bind access-control input: %w", err)
		}
		r.own("access", access)
		r.Access = presence.NewDebouncer(access, samples, interval, r.clock)
		r.log.Info().Str("pin", access.String()).Msg("access-control input bound")
	}
	return nil
}

func (r *Rig) bindAnalog(ac config.AnalogConfig) {
	r.Aux = analog.Disabled{}
	if !ac.GetEnabled() {
		r.log.Info().Msg("auxiliary analog sensor disabled by config")
		return
	}
	a, err := analog.Open(ac.GetBusName(), ac.GetAddress(), ac.GetChannel(), ac.GetScale())
	if err != nil {
		r.log.Warn().Err(err).Msg("auxiliary analog sensor unavailable, readings will be -1")
		return
	}
	r.own("analog", a)
	r.Aux = a
	r.log.Info().Uint16("address", ac.GetAddress()).Msg("auxiliary analog sensor bound")
}

func (r *Rig) bindSpectral(cfg *config.AgentConfig, opts Options) error {
	sc := cfg.Spectral

	var src spectral.Source
	if sc.GetTransport() == "uart" && !opts.Dev {
		port, err := uart.Open(sc.UART.GetPort(), uart.PortOptions{BaudRate: sc.UART.GetBaudRate()})
		if err != nil {
			return err
		}
		conn, err := uart.NewConn(port, cfg.VReg.GetTimeout())
		if err != nil {
			port.Close()
			return err
		}
		u := spectral.NewUART(conn, sc.GetIntegration())
		r.own("spectral", u)
		src = u
	} else {
		h, err := r.openBus(cfg.Bus, opts)
		if err != nil {
			return err
		}
		r.own("bus", h)
		session := vreg.NewSession(h, r.clock, vreg.Options{
			PollDelay:  cfg.VReg.GetPollDelay(),
			Timeout:    cfg.VReg.GetTimeout(),
			MaxRetries: cfg.VReg.GetMaxRetries(),
		})
		src = spectral.NewAS7263(session, byte(sc.GetIntegration()))
	}

	if err := src.Initialize(sc.GetGain(), sc.GetMode()); err != nil {
		return fmt.Errorf("failed to initialize spectral sensor: %w", err)
	}
	r.Spectral = src
	r.log.Info().Str("transport", sc.GetTransport()).Bool("sim", r.Sim != nil).Msg("spectral sensor bound")
	return nil
}

func (r *Rig) openBus(bc config.BusConfig, opts Options) (*bus.Handle, error) {
	driver := bc.GetDriver()
	if opts.Dev || opts.Sim != nil {
		driver = "sim"
	}
	switch driver {
	case "sim":
		r.Sim = opts.Sim
		if r.Sim == nil {
			r.Sim = as7263.NewSim(SimChannels)
			r.Sim.Measure = drift
		}
		return bus.NewHandle("sim", r.Sim, nil), nil
	case "reefpi":
		return bus.OpenReefPi(byte(bc.GetAddress()))
	default:
		return bus.OpenPeriph(bc.GetName(), bc.GetAddress())
	}
}

// drift varies simulated readings slightly between measurements.
func drift(n int) [6]float32 {
	var ch [6]float32
	for i, v := range SimChannels {
		ch[i] = v * float32(1+0.01*math.Sin(float64(n+i)))
	}
	return ch
}

// Pipeline returns a sampling pipeline over the rig's inputs.
func (r *Rig) Pipeline(sc config.SamplingConfig) *sampling.Pipeline {
	return sampling.New(r.Spectral, r.Aux, r.Presence, r.clock, sampling.Options{
		NumReadings:       sc.GetNumReadings(),
		ReadingInterval:   sc.GetReadingInterval(),
		DelayAfterTrigger: sc.GetDelayAfterTrigger(),
		PresencePoll:      sc.GetPresencePoll(),
		WaitTimeout:       sc.GetWaitTimeout(),
		Alpha:             sc.GetAlpha(),
	})
}

// Clock returns the clock the rig was opened with.
func (r *Rig) Clock() timeutil.Clock { return r.clock }

// Close releases every binding in reverse order. It is safe to call more
// than once; later calls return the first result.
func (r *Rig) Close() error {
	r.closeOnce.Do(func() {
		var errs []error
		for i := len(r.closers) - 1; i >= 0; i-- {
			nc := r.closers[i]
			if err := nc.c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close %s: %w", nc.name, err))
			}
		}
		r.closeErr = errors.Join(errs...)
		if r.closeErr != nil {
			r.log.Warn().Err(r.closeErr).Msg("hardware release incomplete")
		} else {
			r.log.Info().Int("bindings", len(r.closers)).Msg("hardware released")
		}
	})
	return r.closeErr
}

