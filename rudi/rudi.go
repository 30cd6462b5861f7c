/*Package rudi drives Rudi modular supply chassis over Modbus TCP: HV cards
producing up to ±6 kV and 20-bit precision DAC cards producing ±12 V, one
Modbus slave per card.

The cards have no hardware latch, so burst coherence is approximated by
writing all staged setpoints back to back on one connection.  The chassis
processes them within a single scan cycle, which is coherent at the
timescales the optics care about.

It implements supply.Driver; wrap it in a supply.Session before use.
*/
package rudi

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/goburrow/modbus"

	"github.com/speem-lab/gosupply/lenstable"
	"github.com/speem-lab/gosupply/supply"
)

// HV card holding register map.
const (
	hvSetpointMV  = 2 // R/W, µV resolution is not available on HV cards
	hvOperate     = 4 // R/W
	hvWorkingMode = 5 // R/W
	hvStatus      = 6 // R/W
	hvVoltage     = 7 // R
	hvCardVersion = 9 // R
)

// DAC card holding register map.
const (
	dacSetpointUV  = 2 // R/W
	dacStatus      = 4 // R/W
	dacCardVersion = 5 // R
)

// HV card working modes.
const (
	modePositiveHigh = 3
	modeNegativeHigh = 4
	modeShortOutput  = 7
)

const defaultTimeout = 500 * time.Millisecond

// Supply is one Rudi chassis.  A single TCP connection is shared by every
// card; the handler's slave id is switched per request, so requests are
// serialized with a mutex.
type Supply struct {
	addr    string
	handler *modbus.TCPClientHandler
	client  modbus.Client
	table   *lenstable.Table
	batch   *supply.Batch

	// hv and dac list card addresses (== Modbus slave ids) in ascending
	// order; their concatenation is the communication test enumeration.
	hv  []int
	dac []int

	settings Settings

	mu      sync.Mutex
	lastErr error
}

// New creates a Supply for the chassis at addr (host:port).  Card addresses
// are taken from the table: HV descriptors become HV cards, DAC20
// descriptors become DAC cards.
func New(addr string, table *lenstable.Table) *Supply {
	s := &Supply{
		addr:  addr,
		table: table,
		settings: Settings{
			TimeoutMS: uint16(defaultTimeout / time.Millisecond),
		},
	}
	for _, d := range table.Defs {
		if d.HV {
			s.hv = append(s.hv, d.Address)
		} else {
			s.dac = append(s.dac, d.Address)
		}
	}
	sort.Ints(s.hv)
	sort.Ints(s.dac)
	s.settings.Modes = make([]byte, len(s.hv))
	for i := range s.settings.Modes {
		s.settings.Modes[i] = modeShortOutput
	}
	s.batch = supply.NewBatch(table.Known)
	return s
}

// LastError returns the detail behind the most recent non-OK status, or nil.
func (s *Supply) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Supply) fail(st supply.Status, err error) supply.Status {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return st
}

// Initialize connects to the chassis.  Failure is fatal; the host must
// discard the driver.
func (s *Supply) Initialize(handle uint32) supply.Status {
	h := modbus.NewTCPClientHandler(s.addr)
	h.Timeout = time.Duration(s.settings.TimeoutMS) * time.Millisecond
	if err := h.Connect(); err != nil {
		return s.fail(supply.FatalInit, err)
	}
	s.handler = h
	s.client = modbus.NewClient(h)
	return supply.OK
}

// Finalize closes the connection.
func (s *Supply) Finalize() {
	if s.handler != nil {
		s.handler.Close()
		s.handler = nil
		s.client = nil
	}
}

// Setup is a no-op; chassis options are edited through the settings block.
func (s *Supply) Setup() bool {
	return false
}

// Reset shorts every HV output and zeroes every DAC, the chassis power-on
// state.
func (s *Supply) Reset() supply.Status {
	var firstErr error
	for _, addr := range s.hv {
		if err := s.writeSingle(addr, hvWorkingMode, modeShortOutput); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, addr := range s.dac {
		if err := s.writeWords(addr, dacSetpointUV, 0); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return s.fail(supply.CommunicationFailure, firstErr)
	}
	return supply.OK
}

// LibInfo reads the first card's version register and formats the hardware
// and firmware versions.
func (s *Supply) LibInfo() string {
	cards := s.cards()
	if len(cards) == 0 || s.client == nil {
		return ""
	}
	reg := uint16(hvCardVersion)
	if len(s.hv) == 0 {
		reg = dacCardVersion
	}
	raw, err := s.readWord(cards[0], reg)
	if err != nil {
		return ""
	}
	hw, fw := versionConvert(raw)
	return fmt.Sprintf("Rudi chassis at %s: hardware %s firmware %s", s.addr, hw, fw)
}

// cards returns every card address, HV first, in enumeration order.
func (s *Supply) cards() []int {
	out := make([]int, 0, len(s.hv)+len(s.dac))
	out = append(out, s.hv...)
	out = append(out, s.dac...)
	return out
}

// TestCommunication reads the status register of the card at position id in
// the enumeration order and reports the id to test next, or supply.EnumDone
// when every card has been visited.
func (s *Supply) TestCommunication(id int) (int, supply.Status) {
	cards := s.cards()
	if id < 0 || id >= len(cards) {
		return supply.EnumDone, supply.InvalidAddress
	}
	next := id + 1
	if next >= len(cards) {
		next = supply.EnumDone
	}
	reg := uint16(hvStatus)
	if id >= len(s.hv) {
		reg = dacStatus
	}
	if _, err := s.readWord(cards[id], reg); err != nil {
		return next, s.fail(supply.CommunicationFailure, err)
	}
	return next, supply.OK
}

// SetHV stages a calibrated 16-bit code on an HV card.
func (s *Supply) SetHV(address, value, period int) supply.Status {
	return s.batch.StageHV(address, value, period)
}

// SetDAC6 always fails; Rudi chassis carry no 6-bit DAC cards.
func (s *Supply) SetDAC6(address, value int) supply.Status {
	return supply.InvalidAddress
}

// SetDAC20 stages a 20-bit code on a DAC card.
func (s *Supply) SetDAC20(address, value int) supply.Status {
	return s.batch.StageDAC20(address, value)
}

// SetRegister stages a raw write to a card's operate register.
func (s *Supply) SetRegister(address int, value byte) supply.Status {
	return s.batch.StageRegister(address, value)
}

// Burst writes every staged setpoint to the chassis back to back, then
// clears the staged set.  Failures are aggregated into one
// CommunicationFailure.
func (s *Supply) Burst() supply.Status {
	if err := s.batch.Commit(s.apply); err != nil {
		return s.fail(supply.CommunicationFailure, err)
	}
	return supply.OK
}

// apply writes one staged command to its card.
func (s *Supply) apply(cmd supply.Command) error {
	switch cmd.Kind {
	case supply.HV:
		return s.applyHV(cmd)
	case supply.DAC20:
		return s.applyDAC(cmd)
	case supply.Register:
		return s.writeSingle(cmd.Address, hvOperate, uint16(cmd.Value))
	default:
		return fmt.Errorf("unsupported command kind %v on rudi chassis", cmd.Kind)
	}
}

// applyHV converts the calibrated code back to volts, selects the card's
// working mode from the sign, and writes the millivolt setpoint.
func (s *Supply) applyHV(cmd supply.Command) error {
	p, ok := s.table.Cal[cmd.Address]
	if !ok {
		return fmt.Errorf("no calibration for address %d", cmd.Address)
	}
	volts := float64(cmd.Value)/65535*p.Maximum + p.Offset
	mode := uint16(modePositiveHigh)
	switch {
	case volts == 0:
		return s.writeSingle(cmd.Address, hvWorkingMode, modeShortOutput)
	case volts < 0:
		mode = modeNegativeHigh
		volts = -volts
	}
	if err := s.writeSingle(cmd.Address, hvWorkingMode, mode); err != nil {
		return err
	}
	return s.writeWords(cmd.Address, hvSetpointMV, int32(volts*1e3))
}

// applyDAC converts the 20-bit code to volts on the low voltage scale and
// writes the microvolt setpoint.
func (s *Supply) applyDAC(cmd supply.Command) error {
	volts := float64(cmd.Value) * s.table.LVScale
	return s.writeWords(cmd.Address, dacSetpointUV, int32(volts*1e6))
}

// writeWords writes a 32-bit two's complement value as two big endian
// holding registers.
func (s *Supply) writeWords(slave int, reg uint16, value int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return fmt.Errorf("chassis %s not connected", s.addr)
	}
	u := uint32(value)
	payload := []byte{byte(u >> 24), byte(u >> 16), byte(u >> 8), byte(u)}
	s.handler.SlaveId = byte(slave)
	_, err := s.client.WriteMultipleRegisters(reg, 2, payload)
	return err
}

// writeSingle writes one holding register.
func (s *Supply) writeSingle(slave int, reg, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return fmt.Errorf("chassis %s not connected", s.addr)
	}
	s.handler.SlaveId = byte(slave)
	_, err := s.client.WriteSingleRegister(reg, value)
	return err
}

// readWord reads one holding register.
func (s *Supply) readWord(slave int, reg uint16) (uint16, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return 0, fmt.Errorf("chassis %s not connected", s.addr)
	}
	s.handler.SlaveId = byte(slave)
	resp, err := s.client.ReadHoldingRegisters(reg, 1)
	if err != nil {
		return 0, err
	}
	if len(resp) < 2 {
		return 0, fmt.Errorf("short register read from slave %d", slave)
	}
	return uint16(resp[0])<<8 | uint16(resp[1]), nil
}

// versionConvert splits a raw version register into hardware and firmware
// strings; the low five bits are the firmware revision.
func versionConvert(raw uint16) (hardware, firmware string) {
	fw := strconv.Itoa(int(raw & 0x1F))
	h := strconv.Itoa(int(raw >> 5))
	if len(h) >= 3 {
		return fmt.Sprintf("%c.%c.%s", h[0], h[1], h[2:]), fw
	}
	return h, fw
}
