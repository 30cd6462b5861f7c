package rudi

import (
	"encoding/binary"

	"github.com/speem-lab/gosupply/supply"
)

// Settings is the chassis's persistent configuration.  Like every driver's
// settings block, it round trips through an opaque sized block with the size
// as the only compatibility check.
type Settings struct {
	// TimeoutMS is the Modbus request timeout in milliseconds.
	TimeoutMS uint16

	// Modes holds the last commanded working mode per HV card, in ascending
	// card address order.
	Modes []byte
}

// block layout, little endian: [0:2] timeout ms, [2:] one mode byte per HV
// card.
const settingsHeader = 2

func (s *Supply) settingsSize() int {
	return settingsHeader + len(s.hv)
}

// GetSettings writes the chassis configuration into buf.  A buffer of the
// wrong size gets nothing written and ConfigMismatch along with the
// required size.
func (s *Supply) GetSettings(buf []byte) (int, int, supply.Status) {
	required := s.settingsSize()
	if len(buf) != required {
		return 0, required, supply.ConfigMismatch
	}
	binary.LittleEndian.PutUint16(buf[0:2], s.settings.TimeoutMS)
	copy(buf[settingsHeader:], s.settings.Modes)
	return required, required, supply.OK
}

// SetSettings replaces the chassis configuration wholesale, rejecting a
// block of the wrong size without applying any of it.
func (s *Supply) SetSettings(buf []byte) supply.Status {
	if len(buf) != s.settingsSize() {
		return supply.ConfigMismatch
	}
	s.settings.TimeoutMS = binary.LittleEndian.Uint16(buf[0:2])
	s.settings.Modes = append(s.settings.Modes[:0], buf[settingsHeader:]...)
	return supply.OK
}
