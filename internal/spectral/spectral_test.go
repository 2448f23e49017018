package spectral

import (
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picron-io/picron-agent/internal/as7263"
	"github.com/picron-io/picron-agent/internal/bus"
	"github.com/picron-io/picron-agent/internal/fault"
	"github.com/picron-io/picron-agent/internal/monitoring"
	"github.com/picron-io/picron-agent/internal/timeutil"
	"github.com/picron-io/picron-agent/internal/uart"
	"github.com/picron-io/picron-agent/internal/vreg"
)

func init() {
	monitoring.Mute()
}

var testChannels = [6]float32{610.5, 680.25, 730, 760.125, 810, 860.5}

func newDriver(t *testing.T, tr bus.Transport) *AS7263 {
	t.Helper()
	opts := vreg.Options{PollDelay: 5 * time.Millisecond, Timeout: 100 * time.Millisecond, MaxRetries: 2}
	return NewAS7263(vreg.NewSession(tr, timeutil.NewMockClock(time.Unix(0, 0)), opts), 0x20)
}

func TestFloatRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10000; i++ {
		var b [4]byte
		rng.Read(b[:])
		if got := EncodeFloat(DecodeFloat(b)); got != b {
			t.Fatalf("round trip of % x gave % x", b, got)
		}
	}
	assert.Equal(t, float32(1.0), DecodeFloat([4]byte{0x3F, 0x80, 0x00, 0x00}))
	assert.Equal(t, [4]byte{0x44, 0x18, 0x60, 0x00}, EncodeFloat(609.5))
}

func TestSentinelChannels(t *testing.T) {
	c := SentinelChannels()
	assert.Equal(t, 0, c.Valid())
	c[2] = 12
	assert.Equal(t, 1, c.Valid())
}

func TestInitialize(t *testing.T) {
	sim := as7263.NewSim(testChannels)
	d := newDriver(t, bus.NewHandle("sim", sim, nil))

	require.NoError(t, d.Initialize(2, 3))

	assert.Equal(t, byte(0x20), sim.Register(as7263.IntTime))
	ctrl := sim.Register(as7263.ControlSetup)
	assert.Equal(t, byte(2), (ctrl&as7263.GainMask)>>as7263.GainShift)
	assert.Equal(t, byte(3), (ctrl&as7263.ModeMask)>>as7263.ModeShift)
	assert.Zero(t, sim.Register(as7263.LEDControl)&as7263.LEDIndicator)
}

func TestInitializeWrongDevice(t *testing.T) {
	sim := as7263.NewSim(testChannels)
	sim.SetHWVersion(as7263.HWVersionAS7262)
	d := newDriver(t, bus.NewHandle("sim", sim, nil))

	err := d.Initialize(3, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrWrongDevice)
	assert.True(t, fault.IsFatal(err))
	assert.Contains(t, err.Error(), "0x3e")
}

func TestInitializeDeadBus(t *testing.T) {
	sim := as7263.NewSim(testChannels)
	sim.Dead = true
	d := newDriver(t, bus.NewHandle("sim", sim, nil))

	err := d.Initialize(3, 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrWrongDevice)
	assert.ErrorIs(t, err, fault.ErrRetriesExhausted)
}

func TestTriggerAndRead(t *testing.T) {
	sim := as7263.NewSim([6]float32{})
	sim.Measure = func(n int) [6]float32 { return testChannels }
	d := newDriver(t, bus.NewHandle("sim", sim, nil))
	require.NoError(t, d.Initialize(3, 3))

	require.NoError(t, d.TriggerMeasurement())
	assert.NotZero(t, sim.Measurements())

	got := d.ReadCalibratedChannels()
	for i, want := range testChannels {
		assert.Equal(t, float64(want), got[i], "channel %s", as7263.ChannelNames[i])
	}
}

func TestTriggerTimeout(t *testing.T) {
	sim := as7263.NewSim(testChannels)
	sim.NeverReady = true
	d := newDriver(t, bus.NewHandle("sim", sim, nil))

	err := d.TriggerMeasurement()
	require.Error(t, err)
	assert.True(t, fault.IsTimeout(err), "got %v", err)
}

// wedgeAfter holds TX_VALID on the simulator once a given number of
// CONTROL_SETUP writes have gone through.
type wedgeAfter struct {
	bus.Transport
	sim    *as7263.Sim
	after  int
	armed  bool
	writes int
}

func (w *wedgeAfter) WriteRegister(reg, value byte) bool {
	ok := w.Transport.WriteRegister(reg, value)
	if reg != as7263.WriteReg {
		return ok
	}
	if w.armed {
		w.armed = false
		w.writes++
		if w.writes >= w.after {
			w.sim.Stuck = true
		}
	} else if value == as7263.ControlSetup|as7263.WriteBit {
		w.armed = true
	}
	return ok
}

func TestTriggerWaitBoundedWhenDeviceWedges(t *testing.T) {
	sim := as7263.NewSim(testChannels)
	opts := vreg.DefaultOptions()
	clock := timeutil.NewMockClock(time.Unix(0, 0))
	// one write from Initialize, then the clear and the one-shot start
	tr := &wedgeAfter{Transport: bus.NewHandle("sim", sim, nil), sim: sim, after: 3}
	d := NewAS7263(vreg.NewSession(tr, clock, opts), 0x20)
	require.NoError(t, d.Initialize(3, 3))

	start := clock.Now()
	err := d.TriggerMeasurement()

	require.Error(t, err)
	assert.True(t, sim.Stuck)
	assert.True(t, fault.IsTimeout(err), "got %v", err)
	assert.LessOrEqual(t, clock.Since(start), opts.Timeout+opts.PollDelay)
}

// poisonChannel returns the sentinel for data reads of one channel's bytes.
type poisonChannel struct {
	bus.Transport
	base     byte
	poisoned bool
}

func (p *poisonChannel) WriteRegister(reg, value byte) bool {
	if reg == as7263.WriteReg && value&as7263.WriteBit == 0 {
		p.poisoned = value >= p.base && value < p.base+4
	}
	return p.Transport.WriteRegister(reg, value)
}

func (p *poisonChannel) ReadRegister(reg byte) byte {
	v := p.Transport.ReadRegister(reg)
	if reg == as7263.ReadReg && p.poisoned {
		return bus.Sentinel
	}
	return v
}

func TestChannelFailureIsIsolated(t *testing.T) {
	sim := as7263.NewSim(testChannels)
	tr := &poisonChannel{Transport: bus.NewHandle("sim", sim, nil), base: as7263.CalT}
	d := newDriver(t, tr)

	got := d.ReadCalibratedChannels()

	assert.Equal(t, Sentinel, got[2])
	assert.Equal(t, 5, got.Valid())
	assert.Equal(t, float64(testChannels[0]), got[0])
	assert.Equal(t, float64(testChannels[5]), got[5])
}

func TestReadTemperature(t *testing.T) {
	sim := as7263.NewSim(testChannels)
	sim.SetTemperature(31)
	d := newDriver(t, bus.NewHandle("sim", sim, nil))

	temp, err := d.ReadTemperature()
	require.NoError(t, err)
	assert.Equal(t, 31.0, temp)

	sim.Dead = true
	temp, err = d.ReadTemperature()
	assert.Error(t, err)
	assert.Equal(t, Sentinel, temp)
}

func atResponder(hw string) func(string) string {
	return func(cmd string) string {
		switch {
		case cmd == "ATVERHW":
			return hw + " OK\r\n"
		case cmd == "ATCDATA":
			return "610.5, 680.25, bad, 760.125, 810\r\nOK\r\n"
		case cmd == "ATTEMP":
			return "29 OK\r\n"
		case strings.HasPrefix(cmd, "AT"):
			return "OK\r\n"
		}
		return "ERROR\r\n"
	}
}

func uartConn(t *testing.T, port uart.Port) *uart.Conn {
	t.Helper()
	c, err := uart.NewConn(port, time.Second)
	require.NoError(t, err)
	return c
}

func TestUARTSource(t *testing.T) {
	port := uart.NewTestablePort(atResponder("0x3F"))
	d := NewUART(uartConn(t, port), 40)

	require.NoError(t, d.Initialize(3, 2))
	assert.Equal(t, []string{"AT", "ATVERHW", "ATINTTIME=40", "ATGAIN=3", "ATTCSMD=2", "ATLED0=0"}, port.Commands)

	require.NoError(t, d.TriggerMeasurement())
	got := d.ReadCalibratedChannels()
	assert.Equal(t, 610.5, got[0])
	assert.Equal(t, Sentinel, got[2], "unparseable field")
	assert.Equal(t, Sentinel, got[5], "missing field")
	assert.Equal(t, 4, got.Valid())

	temp, err := d.ReadTemperature()
	require.NoError(t, err)
	assert.Equal(t, 29.0, temp)

	require.NoError(t, d.Close())
	assert.True(t, port.Closed)
}

func TestUARTWrongDevice(t *testing.T) {
	for _, hw := range []string{"3E", "0x3E01", "zz"} {
		d := NewUART(uartConn(t, uart.NewTestablePort(atResponder(hw))), 40)
		err := d.Initialize(3, 3)
		assert.ErrorIs(t, err, fault.ErrWrongDevice, "hw=%s", hw)
	}
	d := NewUART(uartConn(t, uart.NewTestablePort(atResponder("3F01"))), 40)
	assert.NoError(t, d.Initialize(3, 3))
}
