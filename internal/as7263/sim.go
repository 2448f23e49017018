package as7263

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
)

// ErrSimIO is returned by the simulator for injected bus failures.
var ErrSimIO = errors.New("simulated i2c failure")

// Sim emulates the AS7263 I2C slave, including the physical/virtual register
// handshake, so the protocol stack can run without hardware. It satisfies the
// byte-level Tx contract used by bus.Handle.
type Sim struct {
	mu sync.Mutex

	regs [0x40]byte

	pendingWrite bool
	writeAddr    byte
	rx           byte
	rxValid      bool

	measuring  bool
	readyPolls int

	// ReadyAfter is the number of CONTROL_SETUP reads a triggered
	// measurement takes before DATA_RDY is raised.
	ReadyAfter int

	// Measure returns the calibrated values for the n-th measurement.
	// Nil keeps the last values set with SetChannels.
	Measure func(n int) [6]float32

	// Dead makes every transaction fail, as if the device were unplugged.
	Dead bool

	// Stuck keeps TX_VALID raised forever.
	Stuck bool

	// NeverReady suppresses DATA_RDY after a trigger.
	NeverReady bool

	failNext     int
	measurements int
	transactions int
}

// NewSim returns a simulator reporting itself as an AS7263 with the given
// channel values.
func NewSim(channels [6]float32) *Sim {
	s := &Sim{ReadyAfter: 2}
	s.reset()
	s.SetChannels(channels)
	return s
}

func (s *Sim) reset() {
	s.regs = [0x40]byte{}
	s.regs[HWVersion] = HWVersionAS7263
	s.regs[FWVersionLo] = 0x12
	s.regs[FWVersionHi] = 0x01
	s.regs[ControlSetup] = ModeContinuous << ModeShift
	s.regs[IntTime] = 0xFF
	s.regs[DeviceTemp] = 25
	s.regs[LEDControl] = LEDIndicator
	s.pendingWrite = false
	s.rxValid = false
}

// SetHWVersion overrides the identity byte.
func (s *Sim) SetHWVersion(v byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[HWVersion] = v
}

// SetTemperature sets DEVICE_TEMP in degrees Celsius.
func (s *Sim) SetTemperature(c byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.regs[DeviceTemp] = c
}

// SetChannels stores calibrated values in the channel registers.
func (s *Sim) SetChannels(ch [6]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.storeChannels(ch)
}

func (s *Sim) storeChannels(ch [6]float32) {
	for i, base := range CalibratedBases {
		binary.BigEndian.PutUint32(s.regs[base:base+4], math.Float32bits(ch[i]))
	}
}

// FailNext makes the next n transactions return ErrSimIO.
func (s *Sim) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// Register returns the current value of a virtual register.
func (s *Sim) Register(vaddr byte) byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regs[vaddr&0x3F]
}

// Measurements returns how many measurements were triggered.
func (s *Sim) Measurements() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.measurements
}

// Transactions returns the number of bus transactions attempted.
func (s *Sim) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transactions
}

// Tx performs one register transaction: a one-byte write followed by a
// one-byte read selects and reads a physical register, and a two-byte write
// stores a value in a physical register.
func (s *Sim) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions++
	if s.Dead {
		return ErrSimIO
	}
	if s.failNext > 0 {
		s.failNext--
		return ErrSimIO
	}

	switch {
	case len(w) == 1 && len(r) == 1:
		r[0] = s.readPhysical(w[0])
		return nil
	case len(w) == 2 && len(r) == 0:
		return s.writePhysical(w[0], w[1])
	default:
		return errors.New("unsupported transaction shape")
	}
}

func (s *Sim) readPhysical(reg byte) byte {
	switch reg {
	case StatusReg:
		var st byte
		if s.Stuck {
			st |= TxValid
		}
		if s.rxValid {
			st |= RxValid
		}
		return st
	case ReadReg:
		s.rxValid = false
		return s.rx
	default:
		return 0
	}
}

func (s *Sim) writePhysical(reg, value byte) error {
	if reg != WriteReg {
		return errors.New("write to read-only register")
	}
	if s.pendingWrite {
		s.pendingWrite = false
		s.writeVirtual(s.writeAddr, value)
		return nil
	}
	if value&WriteBit != 0 {
		s.pendingWrite = true
		s.writeAddr = value &^ WriteBit
		return nil
	}
	s.rx = s.readVirtual(value)
	s.rxValid = true
	return nil
}

func (s *Sim) readVirtual(vaddr byte) byte {
	vaddr &= 0x3F
	if vaddr == ControlSetup && s.measuring {
		s.readyPolls++
		if !s.NeverReady && s.readyPolls >= s.ReadyAfter {
			s.completeMeasurement()
		}
	}
	return s.regs[vaddr]
}

func (s *Sim) writeVirtual(vaddr, value byte) {
	vaddr &= 0x3F
	switch vaddr {
	case HWVersion, FWVersionLo, FWVersionHi, DeviceTemp:
		return
	case ControlSetup:
		if value&ControlReset != 0 {
			s.reset()
			return
		}
		s.regs[ControlSetup] = value
		mode := (value & ModeMask) >> ModeShift
		if value&ControlDataRdy == 0 && (mode == ModeOneShot || mode == ModeContinuous) {
			s.measuring = true
			s.readyPolls = 0
		}
		return
	}
	if int(vaddr) < len(s.regs) {
		s.regs[vaddr] = value
	}
}

func (s *Sim) completeMeasurement() {
	s.measuring = false
	s.measurements++
	if s.Measure != nil {
		s.storeChannels(s.Measure(s.measurements))
	}
	s.regs[ControlSetup] |= ControlDataRdy
}
