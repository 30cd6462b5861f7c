package hvc20

import (
	"encoding/binary"
	"time"

	"github.com/tarm/serial"

	"github.com/speem-lab/gosupply/supply"
)

// default ramp periods in hardware ticks
const (
	defaultHVRamp  = 0xFFFF
	defaultDACRamp = 0
)

// Settings is the crate's persistent configuration.  It round trips through
// an opaque sized block; the size doubles as the only cross-version
// compatibility check, so a layout change between driver versions is a hard
// break, not a migration.
type Settings struct {
	// HVRamp and DACRamp are the default ramp periods in hardware ticks.
	HVRamp  uint16
	DACRamp uint16

	// Floodgun is true when the crate has the floodgun option fitted.
	Floodgun bool
}

// block layout, little endian:
// [0:2] HVRamp  [2:4] DACRamp  [4] floodgun flag  [5] unit count  [6:] unit ids
const settingsHeader = 6

// settingsSize is the exact block size this driver produces and accepts.
func (s *Supply) settingsSize() int {
	return settingsHeader + len(s.units)
}

// GetSettings writes the crate configuration into buf.  A buffer of the
// wrong size gets nothing written and ConfigMismatch along with the
// required size.
func (s *Supply) GetSettings(buf []byte) (int, int, supply.Status) {
	required := s.settingsSize()
	if len(buf) != required {
		return 0, required, supply.ConfigMismatch
	}
	binary.LittleEndian.PutUint16(buf[0:2], s.settings.HVRamp)
	binary.LittleEndian.PutUint16(buf[2:4], s.settings.DACRamp)
	buf[4] = 0
	if s.settings.Floodgun {
		buf[4] = 1
	}
	buf[5] = byte(len(s.units))
	copy(buf[settingsHeader:], s.units)
	return required, required, supply.OK
}

// SetSettings replaces the crate configuration wholesale.  A block of the
// wrong size, or one whose embedded unit count disagrees with its size, is
// rejected without applying any of it.
func (s *Supply) SetSettings(buf []byte) supply.Status {
	if len(buf) != s.settingsSize() {
		return supply.ConfigMismatch
	}
	if int(buf[5]) != len(buf)-settingsHeader {
		return supply.ConfigMismatch
	}
	s.settings.HVRamp = binary.LittleEndian.Uint16(buf[0:2])
	s.settings.DACRamp = binary.LittleEndian.Uint16(buf[2:4])
	s.settings.Floodgun = buf[4] == 1
	s.units = append(s.units[:0], buf[settingsHeader:]...)
	return supply.OK
}

// per the HVC20 crate manual, the controller serial interface is 9600 baud
// 8N1 with a one second read timeout
func makeSerConf(addr string) *serial.Config {
	return &serial.Config{
		Name:        addr,
		Baud:        9600,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: 1 * time.Second,
	}
}
