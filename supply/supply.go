/*Package supply defines the contract between a host control application and
programmable supply drivers for an electron spectrometer lens stack and
detector.

A driver translates address/value pairs into physical voltages on real
hardware.  The host drives it through a fixed lifecycle:

	drv := hvc20.New(...)
	sess := supply.NewSession(drv)
	err := sess.Initialize(0)   // fatal on failure, discard the driver
	sess.RestoreSettings(block) // optional
	sess.TestAllUnits()         // optional
	sess.SetHV(addr, code, period)
	sess.SetDAC20(addr, code)
	sess.Burst()                // applies everything staged since last burst
	sess.Finalize()

Set calls never touch hardware; they stage values.  Burst commits every
staged command as one coherent update so interdependent lens voltages change
together.
*/
package supply

import "fmt"

// Status is a driver status code.  Zero is success; failures are offset from
// a base of 12000.
type Status int

// Status codes returned by drivers.  Only FatalInit is unrecoverable; the
// host must unload the driver and issue no further calls after receiving it.
const (
	OK Status = 0

	// StatusBase is the offset all failure codes share.
	StatusBase = 12000

	// FatalInit means Initialize failed and the driver must be discarded.
	FatalInit Status = StatusBase + 1

	// ConfigMismatch means a settings block had the wrong size.  The caller
	// should retry with the size the driver reported.
	ConfigMismatch Status = StatusBase + 2

	// InvalidAddress means a stage/set/test call used an address the driver
	// does not know.  Other staged commands are unaffected.
	InvalidAddress Status = StatusBase + 3

	// InvalidValue means a value did not fit the target encoding's bit width
	// and was rejected before staging.
	InvalidValue Status = StatusBase + 4

	// InvalidCalibration means degenerate calibration parameters (maximum of
	// zero) were encountered.
	InvalidCalibration Status = StatusBase + 5

	// CommunicationFailure means a hardware unit failed its link test or a
	// burst failed to apply.
	CommunicationFailure Status = StatusBase + 6

	// ProtocolViolation means a driver broke the enumeration protocol by
	// never returning the -1 sentinel; the host's defensive cap tripped.
	ProtocolViolation Status = StatusBase + 7

	// NotReady means a call was made outside the Ready lifecycle state.
	NotReady Status = StatusBase + 8
)

// StatusCodes maps status codes to human-readable strings.
var StatusCodes = map[Status]string{
	OK:                   "OK",
	FatalInit:            "INITIALIZE FAILED",
	ConfigMismatch:       "SETTINGS SIZE MISMATCH",
	InvalidAddress:       "UNKNOWN ADDRESS",
	InvalidValue:         "VALUE OUT OF RANGE",
	InvalidCalibration:   "DEGENERATE CALIBRATION",
	CommunicationFailure: "COMMUNICATION FAILURE",
	ProtocolViolation:    "ENUMERATION PROTOCOL VIOLATION",
	NotReady:             "DRIVER NOT READY",
}

func (s Status) String() string {
	v, ok := StatusCodes[s]
	if !ok {
		return fmt.Sprintf("UNKNOWN STATUS %d", int(s))
	}
	return v
}

// Enrich converts a status to an error and decorates it with the procedure
// called.  If the status is OK, nil is returned.
func Enrich(s Status, procedure string) error {
	if s == OK {
		return nil
	}
	return fmt.Errorf("%d: %s encountered at call to %s", int(s), s, procedure)
}

// EnumDone is the sentinel next-unit value a driver returns from
// TestCommunication when it has no more units to test.
const EnumDone = -1

// A Driver is one loaded supply module.  Implementations are not safe for
// concurrent use; wrap them in a Session, which serializes calls.
//
// Every Set call stages a value and the next Burst applies all staged values
// atomically, clearing the staged set whether or not each command succeeded.
type Driver interface {
	// Initialize brings the hardware up.  A nonzero return is fatal; the
	// host must discard the driver without calling anything else on it.
	Initialize(handle uint32) Status

	// Finalize shuts the driver down.  No call is legal afterward.
	Finalize()

	// Setup runs the driver's interactive configuration, returning true if
	// the settings changed.  Drivers with no UI return false.
	Setup() bool

	// Reset returns the hardware to its power-on state.
	Reset() Status

	// TestCommunication tests the link to one unit.  The first call passes
	// id 0; each call returns the id to pass next, or EnumDone when the
	// unit set is exhausted.  A nonzero status reports that unit's failure
	// without ending the enumeration.
	TestCommunication(id int) (next int, s Status)

	// LibInfo returns a human-readable driver description, or "".
	LibInfo() string

	// GetSettings writes the driver's persistent configuration into buf.
	// If len(buf) does not equal the driver's required size, nothing is
	// written and ConfigMismatch is returned along with the required size.
	GetSettings(buf []byte) (written, required int, s Status)

	// SetSettings replaces the driver's persistent configuration wholesale.
	// A block of the wrong size is rejected without applying any of it.
	SetSettings(buf []byte) Status

	// SetHV stages a calibrated 16-bit code on a high voltage channel.
	// period is the ramp duration in hardware ticks; zero applies
	// immediately.
	SetHV(address, value, period int) Status

	// SetDAC6 stages a 6-bit value on a DAC channel.
	SetDAC6(address, value int) Status

	// SetDAC20 stages a 20-bit value on a DAC channel.
	SetDAC20(address, value int) Status

	// SetRegister stages a byte write to a hardware register.
	SetRegister(address int, value byte) Status

	// Burst applies every staged command to hardware as one coherent
	// update, then clears the staged set.  Partial failure is reported as
	// CommunicationFailure; there is no automatic retry.
	Burst() Status
}

// A Floodgunner is a driver with an attached floodgun capability.  The host
// discovers it by type assertion.
type Floodgunner interface {
	Driver

	// SetFloodgun stages a write to one indexed floodgun parameter.
	SetFloodgun(address int, index, value byte) Status
}
