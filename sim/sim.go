/*Package sim provides an in-memory supply driver implementing the whole
host/driver contract with no hardware attached.  It backs the package tests
and lets the HTTP and CLI layers run on a bench with nothing connected.

The simulator is deliberately strict: it behaves exactly like a conformant
crate, and can be configured to misbehave in the specific ways the host must
defend against (failing initialization, dead units, an enumerator that never
terminates).
*/
package sim

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/speem-lab/gosupply/lenstable"
	"github.com/speem-lab/gosupply/supply"
)

// Supply is a simulated supply crate.  The zero value is not usable; create
// one with New.
type Supply struct {
	// FailInit makes Initialize return FatalInit.
	FailInit bool

	// NeverTerminate makes TestCommunication never return the EnumDone
	// sentinel, for exercising the host's defensive iteration cap.
	NeverTerminate bool

	// BadUnits marks unit ids whose link test fails.
	BadUnits map[int]bool

	// FailBurst makes every apply during Burst fail, for exercising
	// aggregate burst errors.
	FailBurst bool

	table *lenstable.Table
	batch *supply.Batch
	units int

	mu        sync.Mutex
	applied   map[int]supply.Command
	floodgun  map[int]map[byte]byte
	settings  [settingsSize]byte
	bursts    int
	open      bool
	finalized bool
}

// settings block layout, little endian: HV ramp u16, DAC ramp u16, flags u32.
const settingsSize = 8

// New creates a simulated crate with the given address table and unit count.
func New(table *lenstable.Table, units int) *Supply {
	s := &Supply{
		table:    table,
		units:    units,
		applied:  make(map[int]supply.Command),
		floodgun: make(map[int]map[byte]byte),
	}
	s.batch = supply.NewBatch(table.Known)
	binary.LittleEndian.PutUint16(s.settings[0:2], 0xFFFF)
	return s
}

// Initialize brings the simulated crate up.
func (s *Supply) Initialize(handle uint32) supply.Status {
	if s.FailInit {
		return supply.FatalInit
	}
	s.mu.Lock()
	s.open = true
	s.mu.Unlock()
	return supply.OK
}

// Finalize shuts the simulated crate down.
func (s *Supply) Finalize() {
	s.mu.Lock()
	s.open = false
	s.finalized = true
	s.mu.Unlock()
}

// Setup is a no-op.
func (s *Supply) Setup() bool {
	return false
}

// Reset clears every applied output.
func (s *Supply) Reset() supply.Status {
	s.mu.Lock()
	s.applied = make(map[int]supply.Command)
	s.mu.Unlock()
	return supply.OK
}

// LibInfo identifies the simulator.
func (s *Supply) LibInfo() string {
	return fmt.Sprintf("simulated supply crate, %d unit(s)", s.units)
}

// TestCommunication walks the simulated units.
func (s *Supply) TestCommunication(id int) (int, supply.Status) {
	if s.NeverTerminate {
		return id + 1, supply.OK
	}
	if id < 0 || id >= s.units {
		return supply.EnumDone, supply.InvalidAddress
	}
	next := id + 1
	if next >= s.units {
		next = supply.EnumDone
	}
	if s.BadUnits[id] {
		return next, supply.CommunicationFailure
	}
	return next, supply.OK
}

// GetSettings writes the settings block into buf, negotiating by size.
func (s *Supply) GetSettings(buf []byte) (int, int, supply.Status) {
	if len(buf) != settingsSize {
		return 0, settingsSize, supply.ConfigMismatch
	}
	s.mu.Lock()
	copy(buf, s.settings[:])
	s.mu.Unlock()
	return settingsSize, settingsSize, supply.OK
}

// SetSettings replaces the settings block, rejecting a wrong-size block.
func (s *Supply) SetSettings(buf []byte) supply.Status {
	if len(buf) != settingsSize {
		return supply.ConfigMismatch
	}
	s.mu.Lock()
	copy(s.settings[:], buf)
	s.mu.Unlock()
	return supply.OK
}

// SetHV stages a 16-bit code.
func (s *Supply) SetHV(address, value, period int) supply.Status {
	return s.batch.StageHV(address, value, period)
}

// SetDAC6 stages a 6-bit value.
func (s *Supply) SetDAC6(address, value int) supply.Status {
	return s.batch.StageDAC6(address, value)
}

// SetDAC20 stages a 20-bit value.
func (s *Supply) SetDAC20(address, value int) supply.Status {
	return s.batch.StageDAC20(address, value)
}

// SetRegister stages a byte register write.
func (s *Supply) SetRegister(address int, value byte) supply.Status {
	return s.batch.StageRegister(address, value)
}

// SetFloodgun records an indexed floodgun parameter immediately.
func (s *Supply) SetFloodgun(address int, index, value byte) supply.Status {
	if !s.table.Known(address) {
		return supply.InvalidAddress
	}
	s.mu.Lock()
	if s.floodgun[address] == nil {
		s.floodgun[address] = make(map[byte]byte)
	}
	s.floodgun[address][index] = value
	s.mu.Unlock()
	return supply.OK
}

// Burst applies every staged command to the in-memory outputs, then clears
// the staged set.
func (s *Supply) Burst() supply.Status {
	err := s.batch.Commit(func(cmd supply.Command) error {
		if s.FailBurst {
			return fmt.Errorf("simulated failure")
		}
		s.mu.Lock()
		s.applied[cmd.Address] = cmd
		s.mu.Unlock()
		return nil
	})
	s.mu.Lock()
	s.bursts++
	s.mu.Unlock()
	if err != nil {
		return supply.CommunicationFailure
	}
	return supply.OK
}

// Applied returns the last command applied to an address, if any.
func (s *Supply) Applied(address int) (supply.Command, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.applied[address]
	return cmd, ok
}

// AppliedCount returns the number of addresses with an applied output.
func (s *Supply) AppliedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.applied)
}

// Pending returns the number of currently staged commands.
func (s *Supply) Pending() int {
	return s.batch.Len()
}

// Bursts returns the number of Burst calls seen.
func (s *Supply) Bursts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bursts
}

// Floodgun returns a recorded floodgun parameter.
func (s *Supply) Floodgun(address int, index byte) (byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.floodgun[address]
	if !ok {
		return 0, false
	}
	v, ok := m[index]
	return v, ok
}

// Finalized reports whether Finalize has been called.
func (s *Supply) Finalized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalized
}
