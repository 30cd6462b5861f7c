package calib_test

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/speem-lab/gosupply/calib"
)

func ExampleToCode() {
	code, _ := calib.ToCode(500, calib.Params{Offset: 0, Maximum: 1000})
	fmt.Println(code)
	// Output: 32768
}

func TestToCodeClampsOutOfRange(t *testing.T) {
	p := calib.Params{Offset: 0, Maximum: 1000}
	high, err := calib.ToCode(2000, p)
	if err != nil || high != calib.MaxCode {
		t.Errorf("overrange voltage: expected %d, got %d err %v", calib.MaxCode, high, err)
	}
	low, err := calib.ToCode(-5, p)
	if err != nil || low != 0 {
		t.Errorf("underrange voltage: expected 0, got %d err %v", low, err)
	}
}

func TestToCodeHonorsOffset(t *testing.T) {
	// a bipolar channel spanning -500..+500 V
	p := calib.Params{Offset: -500, Maximum: 1000}
	code, err := calib.ToCode(0, p)
	if err != nil {
		t.Fatal(err)
	}
	if code != 32768 {
		t.Errorf("midscale of a bipolar channel: expected 32768, got %d", code)
	}
}

func TestDegenerateCalibrationRejected(t *testing.T) {
	if _, err := calib.ToCode(1, calib.Params{}); !errors.Is(err, calib.ErrInvalidCalibration) {
		t.Errorf("ToCode: expected ErrInvalidCalibration, got %v", err)
	}
	if _, err := calib.ToVoltage(1, calib.Params{}); !errors.Is(err, calib.ErrInvalidCalibration) {
		t.Errorf("ToVoltage: expected ErrInvalidCalibration, got %v", err)
	}
	if _, err := calib.LVCode(1, 0); !errors.Is(err, calib.ErrInvalidCalibration) {
		t.Errorf("LVCode: expected ErrInvalidCalibration, got %v", err)
	}
	if _, err := calib.LVVoltage(1, 0); !errors.Is(err, calib.ErrInvalidCalibration) {
		t.Errorf("LVVoltage: expected ErrInvalidCalibration, got %v", err)
	}
}

func TestCodeRoundTripExact(t *testing.T) {
	p := calib.Params{Offset: -150, Maximum: 6000}
	for _, code := range []uint16{0, 1, 255, 32767, 32768, 65534, 65535} {
		v, err := calib.ToVoltage(code, p)
		if err != nil {
			t.Fatal(err)
		}
		back, err := calib.ToCode(v, p)
		if err != nil {
			t.Fatal(err)
		}
		if back != code {
			t.Errorf("code %d round tripped to %d via %f V", code, back, v)
		}
	}
}

func TestVoltageRoundTripWithinOneStep(t *testing.T) {
	p := calib.Params{Offset: 0, Maximum: 1000}
	step := p.Maximum / calib.MaxCode
	for _, v := range []float64{0, 0.01, 123.456, 500, 999.99, 1000} {
		code, err := calib.ToCode(v, p)
		if err != nil {
			t.Fatal(err)
		}
		back, err := calib.ToVoltage(code, p)
		if err != nil {
			t.Fatal(err)
		}
		if math.Abs(back-v) > step/2+1e-9 {
			t.Errorf("voltage %f round tripped to %f, off by more than half a code step", v, back)
		}
	}
}

func TestLVCode(t *testing.T) {
	// 10 µV per code
	scale := 1e-5
	code, err := calib.LVCode(1.0, scale)
	if err != nil || code != 100000 {
		t.Errorf("expected code 100000, got %d err %v", code, err)
	}
	// clamped to the 20-bit range
	code, err = calib.LVCode(10000, scale)
	if err != nil || code != 1<<20-1 {
		t.Errorf("overrange: expected %d, got %d err %v", 1<<20-1, code, err)
	}
	code, err = calib.LVCode(-1, scale)
	if err != nil || code != 0 {
		t.Errorf("underrange: expected 0, got %d err %v", code, err)
	}
	v, err := calib.LVVoltage(100000, scale)
	if err != nil || math.Abs(v-1.0) > 1e-12 {
		t.Errorf("inverse: expected 1.0 V, got %f err %v", v, err)
	}
}
