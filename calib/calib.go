/*Package calib implements the affine calibration between physical voltages
and the fixed-width integer codes the supply DACs expect.

The forward transform is

	code = round((voltage - offset) / maximum * 65535)

clamped to [0, 65535], using round-half-away-from-zero (math.Round).  The
inverse maps a code back to volts.  Round tripping a code through ToVoltage
and ToCode reproduces it exactly; round tripping a voltage lands within one
code step (~15 ppm of full scale), which is the DAC's quantization floor.
*/
package calib

import (
	"errors"
	"math"

	"github.com/speem-lab/gosupply/util"
)

// MaxCode is the largest 16-bit DAC code.
const MaxCode = 1<<16 - 1

// ErrInvalidCalibration is generated when calibration parameters are
// degenerate (maximum or scale of zero), which would otherwise divide by
// zero and silently overvolt hardware.
var ErrInvalidCalibration = errors.New("calibration maximum must be nonzero")

// Params is the per-address affine calibration for a high voltage channel.
type Params struct {
	// Offset is the voltage producing code zero.
	Offset float64

	// Maximum is the full-scale span in volts.
	Maximum float64
}

// Map holds calibration parameters keyed by supply address.
type Map map[int]Params

// ToCode converts a desired physical voltage to the 16-bit code the hardware
// expects, clamping out-of-range voltages to the ends of the scale.
func ToCode(voltage float64, p Params) (uint16, error) {
	if p.Maximum == 0 {
		return 0, ErrInvalidCalibration
	}
	code := math.Round((voltage - p.Offset) / p.Maximum * MaxCode)
	return uint16(util.Clamp(code, 0, MaxCode)), nil
}

// ToVoltage converts a 16-bit code back to the physical voltage it produces.
func ToVoltage(code uint16, p Params) (float64, error) {
	if p.Maximum == 0 {
		return 0, ErrInvalidCalibration
	}
	return float64(code)/MaxCode*p.Maximum + p.Offset, nil
}

// maxDAC20 is the largest 20-bit DAC code.
const maxDAC20 = 1<<20 - 1

// LVCode converts a low voltage to a 20-bit DAC code using the instrument's
// linear low-voltage scale (volts per code), clamping to the DAC's range.
func LVCode(voltage, scale float64) (int, error) {
	if scale == 0 {
		return 0, ErrInvalidCalibration
	}
	code := math.Round(voltage / scale)
	return int(util.Clamp(code, 0, maxDAC20)), nil
}

// LVVoltage is the inverse of LVCode.
func LVVoltage(code int, scale float64) (float64, error) {
	if scale == 0 {
		return 0, ErrInvalidCalibration
	}
	return float64(code) * scale, nil
}
