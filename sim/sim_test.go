package sim_test

import (
	"encoding/binary"
	"testing"

	"github.com/speem-lab/gosupply/calib"
	"github.com/speem-lab/gosupply/lenstable"
	"github.com/speem-lab/gosupply/sim"
	"github.com/speem-lab/gosupply/supply"
)

func benchTable() *lenstable.Table {
	return &lenstable.Table{
		Defs: map[string]lenstable.Descriptor{
			"V01": {Name: "V01", Address: 1, HV: true},
			"D07": {Name: "D07", Address: 7, HV: false},
		},
		Cal:     calib.Map{1: {Offset: 0, Maximum: 1000}},
		LVScale: 1e-5,
	}
}

func TestDefaultSettingsBlock(t *testing.T) {
	s := sim.New(benchTable(), 1)
	_, required, st := s.GetSettings(nil)
	if st != supply.ConfigMismatch || required != 8 {
		t.Fatalf("probe: required=%d st=%v", required, st)
	}
	buf := make([]byte, required)
	if _, _, st := s.GetSettings(buf); st != supply.OK {
		t.Fatalf("fetch: %v", st)
	}
	if ramp := binary.LittleEndian.Uint16(buf[0:2]); ramp != 0xFFFF {
		t.Errorf("default HV ramp %#04x, want 0xFFFF", ramp)
	}
}

func TestResetClearsOutputs(t *testing.T) {
	s := sim.New(benchTable(), 1)
	s.Initialize(0)
	s.SetDAC20(7, 500)
	s.Burst()
	if s.AppliedCount() != 1 {
		t.Fatalf("expected one applied output, got %d", s.AppliedCount())
	}
	if st := s.Reset(); st != supply.OK {
		t.Fatalf("reset: %v", st)
	}
	if s.AppliedCount() != 0 {
		t.Errorf("reset must clear outputs, %d left", s.AppliedCount())
	}
}

func TestBadUnitReportsFailureWithoutEndingEnumeration(t *testing.T) {
	s := sim.New(benchTable(), 3)
	s.BadUnits = map[int]bool{1: true}
	next, st := s.TestCommunication(1)
	if next != 2 {
		t.Errorf("a failed unit must not end the enumeration, next=%d", next)
	}
	if st != supply.CommunicationFailure {
		t.Errorf("expected CommunicationFailure, got %v", st)
	}
}

func TestStageValidatesAgainstTable(t *testing.T) {
	s := sim.New(benchTable(), 1)
	if st := s.SetHV(99, 0, 0); st != supply.InvalidAddress {
		t.Errorf("unknown address: expected InvalidAddress, got %v", st)
	}
	if st := s.SetDAC6(7, 64); st != supply.InvalidValue {
		t.Errorf("oversized DAC6 value: expected InvalidValue, got %v", st)
	}
}
