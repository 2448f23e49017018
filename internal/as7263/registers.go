// Package as7263 holds the register map of the AS7263 NIR spectral sensor and
// an in-memory simulator of its I2C virtual register interface.
package as7263

// Address is the fixed 7-bit I2C address of the AS726x family.
const Address = 0x49

// Physical registers exposed on the I2C bus.
const (
	StatusReg = 0x00
	WriteReg  = 0x01
	ReadReg   = 0x02
)

// Status register flags.
const (
	RxValid = 0x01 // a response byte is waiting in ReadReg
	TxValid = 0x02 // the device has not consumed the last WriteReg byte
)

// WriteBit marks a virtual address as the target of a write.
const WriteBit = 0x80

// Virtual registers.
const (
	HWVersion    = 0x00
	FWVersionLo  = 0x01
	FWVersionHi  = 0x02
	ControlSetup = 0x04
	IntTime      = 0x05
	DeviceTemp   = 0x06
	LEDControl   = 0x07
)

// HWVersionAS7263 identifies the NIR part. 0x3E is the visible AS7262.
const (
	HWVersionAS7263 = 0x3F
	HWVersionAS7262 = 0x3E
)

// Calibrated channel bases. Each channel is four bytes, most significant first.
const (
	CalR = 0x14
	CalS = 0x18
	CalT = 0x1C
	CalU = 0x20
	CalV = 0x24
	CalW = 0x28
)

// CalibratedBases lists the channel base registers in R, S, T, U, V, W order.
var CalibratedBases = [6]byte{CalR, CalS, CalT, CalU, CalV, CalW}

// ChannelNames lists the channel labels in register order.
var ChannelNames = [6]string{"r", "s", "t", "u", "v", "w"}

// CONTROL_SETUP fields.
const (
	ControlReset   = 0x80
	ControlIntEn   = 0x40
	GainMask       = 0x30
	GainShift      = 4
	ModeMask       = 0x0C
	ModeShift      = 2
	ControlDataRdy = 0x02
)

// Bank modes.
const (
	ModeBank4      = 0 // S, T, U, V continuously
	ModeBank5      = 1 // R, T, U, W continuously
	ModeContinuous = 2 // all six channels continuously
	ModeOneShot    = 3 // all six channels once
)

// LED_CONTROL fields.
const (
	LEDIndicator = 0x01
	LEDBulb      = 0x08
)
