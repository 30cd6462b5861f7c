/*Package hvc20 drives an HVC20-style high voltage crate: up to twenty
programmable HV channels plus 6-bit and 20-bit DAC cards behind a single
crate controller, reached over RS232 or a TCP serial server.

The crate's outputs are double buffered.  Set calls stage values in the
driver; Burst writes every staged value to the crate and then strobes the
latch so all outputs move together.  This is what lets interdependent lens
voltages change as one coherent update instead of sweeping through transient
field configurations.

The wire protocol is a CRC-framed binary exchange, one frame per command,
described in frame.go.
*/
package hvc20

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/speem-lab/gosupply/comm"
	"github.com/speem-lab/gosupply/lenstable"
	"github.com/speem-lab/gosupply/supply"
	"github.com/speem-lab/gosupply/util"
)

// maxFrameRate is the frame rate the crate controller tolerates before its
// input queue overruns, in frames per second.
const maxFrameRate = 200

// Supply is one HVC20 crate.  It implements supply.Driver and
// supply.Floodgunner; wrap it in a supply.Session before use.
type Supply struct {
	dev      *comm.RemoteDevice
	table    *lenstable.Table
	batch    *supply.Batch
	units    []byte
	settings Settings
	limiter  *rate.Limiter

	mu      sync.Mutex
	open    bool
	lastErr error
}

// New creates a Supply for the crate at addr.  isSerial selects RS232; the
// default port configuration (9600 8N1) can be adjusted on Dev before
// Initialize.  units lists the crate positions holding supply modules, in
// the order communication tests walk them; an empty list means a fully
// populated crate.  table supplies the legal address space.
func New(addr string, isSerial bool, table *lenstable.Table, units []byte) *Supply {
	if len(units) == 0 {
		units = util.ArangeByte(20)
	}
	s := &Supply{
		dev:     comm.NewRemoteDevice(addr, isSerial, frameEnd, frameEnd),
		table:   table,
		units:   units,
		limiter: rate.NewLimiter(rate.Limit(maxFrameRate), maxFrameRate/10),
		settings: Settings{
			HVRamp:  defaultHVRamp,
			DACRamp: defaultDACRamp,
		},
	}
	s.batch = supply.NewBatch(table.Known)
	if isSerial {
		s.dev.SerialConf = makeSerConf(addr)
	}
	return s
}

// Dev exposes the underlying link for port reconfiguration before
// Initialize.
func (s *Supply) Dev() *comm.RemoteDevice {
	return s.dev
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

// Initialize opens the link to the crate.  Failure is fatal; the host must
// discard the driver.
func (s *Supply) Initialize(handle uint32) supply.Status {
	if err := s.dev.Open(); err != nil {
		return s.fail(supply.FatalInit, err)
	}
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	return supply.OK
}

// Finalize closes the link.
func (s *Supply) Finalize() {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	s.dev.Close()
}

// Setup is a no-op; crate options are edited through the settings block.
func (s *Supply) Setup() bool {
	return false
}

// Reset returns the crate to its power-on state, dropping every output to
// zero.
func (s *Supply) Reset() supply.Status {
	if _, err := s.exchange(message{Unit: 0, Op: opReset}); err != nil {
		return s.fail(supply.CommunicationFailure, err)
	}
	return supply.OK
}

// LibInfo queries the crate controller's identity string.
func (s *Supply) LibInfo() string {
	resp, err := s.exchange(message{Unit: 0, Op: opInfo})
	if err != nil {
		return ""
	}
	return fmt.Sprintf("HVC20 crate at %s: %s", s.dev.Addr, string(resp.Data))
}

// TestCommunication pings the unit at position id in the configured unit
// list and reports the id to test next, or supply.EnumDone when the list is
// exhausted.
func (s *Supply) TestCommunication(id int) (int, supply.Status) {
	if id < 0 || id >= len(s.units) {
		return supply.EnumDone, supply.InvalidAddress
	}
	next := id + 1
	if next >= len(s.units) {
		next = supply.EnumDone
	}
	if _, err := s.exchange(message{Unit: s.units[id], Op: opPing}); err != nil {
		return next, s.fail(supply.CommunicationFailure, err)
	}
	return next, supply.OK
}

// SetHV stages a calibrated 16-bit code on a high voltage channel.
func (s *Supply) SetHV(address, value, period int) supply.Status {
	return s.batch.StageHV(address, value, period)
}

// SetDAC6 stages a 6-bit DAC value.
func (s *Supply) SetDAC6(address, value int) supply.Status {
	return s.batch.StageDAC6(address, value)
}

// SetDAC20 stages a 20-bit DAC value.
func (s *Supply) SetDAC20(address, value int) supply.Status {
	return s.batch.StageDAC20(address, value)
}

// SetRegister stages a byte register write.
func (s *Supply) SetRegister(address int, value byte) supply.Status {
	return s.batch.StageRegister(address, value)
}

// SetFloodgun writes one indexed floodgun parameter.  Floodgun parameters
// are not double buffered by the crate, so the write is immediate rather
// than staged.  The crate must have the floodgun option enabled in its
// settings.
func (s *Supply) SetFloodgun(address int, index, value byte) supply.Status {
	if !s.settings.Floodgun {
		return supply.InvalidAddress
	}
	if !s.table.Known(address) {
		return supply.InvalidAddress
	}
	m := message{
		Unit: unitFor(address),
		Op:   opFlood,
		Data: []byte{byte(address), index, value},
	}
	if _, err := s.exchange(m); err != nil {
		return s.fail(supply.CommunicationFailure, err)
	}
	return supply.OK
}

// Burst writes every staged value to the crate, then strobes the latch so
// all outputs move together.  The staged set is cleared whether or not each
// frame succeeded; failures are aggregated into one CommunicationFailure.
func (s *Supply) Burst() supply.Status {
	err := s.batch.Commit(s.apply)
	if _, lerr := s.exchange(message{Unit: 0, Op: opLatch}); lerr != nil && err == nil {
		err = lerr
	}
	if err != nil {
		return s.fail(supply.CommunicationFailure, err)
	}
	return supply.OK
}

// apply writes one staged command to the crate.  Frames are paced so the
// controller's input queue is never overrun.
func (s *Supply) apply(cmd supply.Command) error {
	if d := s.limiter.Reserve().Delay(); d > 0 {
		time.Sleep(d)
	}
	m := message{Unit: unitFor(cmd.Address)}
	switch cmd.Kind {
	case supply.HV:
		period := cmd.Period
		if period < 0 {
			period = 0
		}
		if period > 0xFFFF {
			period = 0xFFFF
		}
		m.Op = opSetHV
		m.Data = make([]byte, 5)
		m.Data[0] = byte(cmd.Address)
		binary.LittleEndian.PutUint16(m.Data[1:3], uint16(cmd.Value))
		binary.LittleEndian.PutUint16(m.Data[3:5], uint16(period))
	case supply.DAC6:
		m.Op = opSetDAC6
		m.Data = []byte{byte(cmd.Address), byte(cmd.Value)}
	case supply.DAC20:
		m.Op = opSetDAC20
		m.Data = []byte{
			byte(cmd.Address),
			byte(cmd.Value),
			byte(cmd.Value >> 8),
			byte(cmd.Value >> 16),
		}
	case supply.Register:
		m.Op = opSetReg
		m.Data = []byte{byte(cmd.Address), byte(cmd.Value)}
	default:
		return fmt.Errorf("unsupported command kind %v", cmd.Kind)
	}
	_, err := s.exchange(m)
	return err
}

// exchange sends one frame and decodes the acknowledgement.
func (s *Supply) exchange(m message) (message, error) {
	raw, err := s.dev.SendRecv(makeFrame(m))
	if err != nil {
		return message{}, err
	}
	resp, err := decodeFrame(raw)
	if err != nil {
		return message{}, err
	}
	if len(resp.Data) == 0 {
		return resp, fmt.Errorf("%w: empty response body", ErrBadFrame)
	}
	if resp.Data[0] != ack {
		return resp, fmt.Errorf("unit %d rejected op %#02x (NAK)", m.Unit, m.Op)
	}
	resp.Data = resp.Data[1:]
	return resp, nil
}

// unitFor maps an address to the crate position owning it; each module owns
// a block of sixteen addresses.
func unitFor(address int) byte {
	return byte(address >> 4)
}
