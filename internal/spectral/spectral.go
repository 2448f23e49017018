// Package spectral drives the AS7263 six-channel NIR sensor: initialization,
// one-shot measurement and calibrated channel decoding.
package spectral

import (
	"encoding/binary"
	"math"
)

// Sentinel marks a channel that could not be read.
const Sentinel = -1.0

// NumChannels is the number of calibrated channels (R, S, T, U, V, W).
const NumChannels = 6

// Channels holds one calibrated reading per channel in R..W order.
type Channels [NumChannels]float64

// SentinelChannels returns a set with every channel marked unreadable.
func SentinelChannels() Channels {
	var c Channels
	for i := range c {
		c[i] = Sentinel
	}
	return c
}

// Valid reports how many channels hold a real reading.
func (c Channels) Valid() int {
	n := 0
	for _, v := range c {
		if v != Sentinel {
			n++
		}
	}
	return n
}

// Source is an initialized spectral sensor.
type Source interface {
	// Initialize checks the device identity and applies gain and bank mode.
	Initialize(gain, mode int) error
	// TriggerMeasurement starts a one-shot measurement and waits for it.
	TriggerMeasurement() error
	// ReadCalibratedChannels reads all channels; unreadable ones are Sentinel.
	ReadCalibratedChannels() Channels
	// ReadTemperature returns the die temperature in degrees Celsius.
	ReadTemperature() (float64, error)
}

// DecodeFloat converts a big-endian register group to its float value.
func DecodeFloat(b [4]byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b[:]))
}

// EncodeFloat is the inverse of DecodeFloat.
func EncodeFloat(f float32) [4]byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], math.Float32bits(f))
	return b
}
