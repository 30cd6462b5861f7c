package supply

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of a Session.
type State int

const (
	// Uninitialized is the state before Initialize succeeds.
	Uninitialized State = iota
	// Ready is the state in which staging and burst calls are legal.
	Ready
	// Finalized is terminal; the session must be discarded.
	Finalized
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Ready:
		return "ready"
	case Finalized:
		return "finalized"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MaxUnits caps the communication test enumeration.  Unit IDs are byte-sized
// in both supported hardware families, so a conformant driver exhausts its
// units well inside this bound; a driver that never returns the EnumDone
// sentinel trips the cap and surfaces ProtocolViolation.
const MaxUnits = 256

var (
	// ErrFatalInit is returned for every call after Initialize fails.
	ErrFatalInit = errors.New("driver failed to initialize and must be unloaded")

	// ErrFinalized is returned for calls after Finalize.
	ErrFinalized = errors.New("driver is finalized")

	// ErrNotReady is returned for calls before Initialize.
	ErrNotReady = errors.New("driver is not initialized")
)

// UnitResult is one physical unit's outcome from a communication test
// enumeration.
type UnitResult struct {
	// ID is the unit id presented to the driver.
	ID int

	// OK is true when the unit's link test passed.
	OK bool
}

// A Session owns one driver instance and enforces the lifecycle contract on
// it: Uninitialized -> Ready -> Finalized, with an exclusive lock
// serializing every call so staging and burst keep their last-write-wins
// and at-most-one-concurrent-burst guarantees.  Independent sessions over
// independent drivers may run concurrently.
type Session struct {
	mu    sync.Mutex
	drv   Driver
	state State
	fatal bool
}

// NewSession wraps a driver.  The driver must not be used directly once
// wrapped.
func NewSession(d Driver) *Session {
	return &Session{drv: d}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Initialize transitions the driver to Ready.  A driver failure here is
// fatal: the session is poisoned and every later call returns ErrFatalInit.
func (s *Session) Initialize(handle uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal {
		return ErrFatalInit
	}
	if s.state == Finalized {
		return ErrFinalized
	}
	if s.state == Ready {
		return nil
	}
	if st := s.drv.Initialize(handle); st != OK {
		s.fatal = true
		return fmt.Errorf("%w: %v", ErrFatalInit, Enrich(st, "Initialize"))
	}
	s.state = Ready
	return nil
}

// ready must be called with the lock held.
func (s *Session) ready() error {
	if s.fatal {
		return ErrFatalInit
	}
	switch s.state {
	case Ready:
		return nil
	case Finalized:
		return ErrFinalized
	default:
		return ErrNotReady
	}
}

// Setup runs the driver's interactive configuration.  The changed flag
// reports whether settings were modified and should be re-persisted.
func (s *Session) Setup() (changed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return false, err
	}
	return s.drv.Setup(), nil
}

// Reset returns the hardware to its power-on state.  Failure leaves the
// session Ready; the host may retry.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	return Enrich(s.drv.Reset(), "Reset")
}

// LibInfo returns the driver's description string, or "".
func (s *Session) LibInfo() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return "", err
	}
	return s.drv.LibInfo(), nil
}

// TestAllUnits walks the driver's unit enumeration from id 0 until the
// driver returns the EnumDone sentinel, collecting one result per unit.  The
// sequence is lazy, finite and non-restartable; calling TestAllUnits again
// begins a fresh enumeration at 0.  A driver that fails to terminate within
// MaxUnits steps yields a ProtocolViolation error along with the results
// gathered so far.
func (s *Session) TestAllUnits() ([]UnitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	var results []UnitResult
	id := 0
	for steps := 0; steps < MaxUnits; steps++ {
		next, st := s.drv.TestCommunication(id)
		results = append(results, UnitResult{ID: id, OK: st == OK})
		if next == EnumDone {
			return results, nil
		}
		id = next
	}
	return results, Enrich(ProtocolViolation, "TestCommunication")
}

// SaveSettings fetches the driver's opaque settings block, negotiating the
// size: a first probe with an empty buffer learns the required size, then a
// correctly sized fetch retrieves the block.  The host stores the block
// verbatim; it is only meaningful to the driver version that produced it.
func (s *Session) SaveSettings() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return nil, err
	}
	_, required, st := s.drv.GetSettings(nil)
	if st == OK {
		if required != 0 {
			// OK from an empty probe with a nonzero size is nonsense
			return nil, Enrich(ProtocolViolation, "GetSettings")
		}
		return []byte{}, nil
	}
	if st != ConfigMismatch {
		return nil, Enrich(st, "GetSettings")
	}
	buf := make([]byte, required)
	n, req2, st := s.drv.GetSettings(buf)
	if st != OK {
		return nil, fmt.Errorf("settings size renegotiated twice (%d then %d): %v",
			required, req2, Enrich(st, "GetSettings"))
	}
	return buf[:n], nil
}

// RestoreSettings hands a previously saved block back to the driver.  A
// block of the wrong size is rejected wholesale; the caller gets
// ConfigMismatch and the driver keeps its current configuration.
func (s *Session) RestoreSettings(block []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	return Enrich(s.drv.SetSettings(block), "SetSettings")
}

// SetHV stages a calibrated code on a high voltage channel.
func (s *Session) SetHV(address, value, period int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	return Enrich(s.drv.SetHV(address, value, period), "SetHV")
}

// SetDAC6 stages a 6-bit DAC value.
func (s *Session) SetDAC6(address, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	return Enrich(s.drv.SetDAC6(address, value), "SetDAC6")
}

// SetDAC20 stages a 20-bit DAC value.
func (s *Session) SetDAC20(address, value int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	return Enrich(s.drv.SetDAC20(address, value), "SetDAC20")
}

// SetRegister stages a byte register write.
func (s *Session) SetRegister(address int, value byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	return Enrich(s.drv.SetRegister(address, value), "SetRegister")
}

// SetFloodgun stages a floodgun parameter write.  It returns an error if
// the driver has no floodgun capability.
func (s *Session) SetFloodgun(address int, index, value byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	fg, ok := s.drv.(Floodgunner)
	if !ok {
		return errors.New("driver has no floodgun capability")
	}
	return Enrich(fg.SetFloodgun(address, index, value), "SetFloodgun")
}

// Burst commits every staged command.  Failure is reported but does not
// change state; the staged set is cleared either way.
func (s *Session) Burst() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ready(); err != nil {
		return err
	}
	return Enrich(s.drv.Burst(), "Burst")
}

// Finalize shuts the driver down and makes the session terminal.  It is a
// no-op on an already finalized session, and is not issued to a driver that
// failed Initialize.
func (s *Session) Finalize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fatal {
		return ErrFatalInit
	}
	if s.state == Finalized {
		return nil
	}
	if s.state == Ready {
		s.drv.Finalize()
	}
	s.state = Finalized
	return nil
}
