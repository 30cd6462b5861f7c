package lenstable_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/speem-lab/gosupply/calib"
	"github.com/speem-lab/gosupply/lenstable"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		in      string
		address int
		hv      bool
		wantErr bool
	}{
		{"33", 33, true, false},
		{"0", 0, true, false},
		{"D7", 7, false, false},
		{" D12 ", 12, false, false},
		{"x", 0, true, true},
		{"D", 0, false, true},
	}
	for _, tc := range cases {
		address, hv, err := lenstable.ParseAddress(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("%q: unexpected error state %v", tc.in, err)
			continue
		}
		if err != nil {
			continue
		}
		if address != tc.address || hv != tc.hv {
			t.Errorf("%q: got (%d, %v), want (%d, %v)", tc.in, address, hv, tc.address, tc.hv)
		}
	}
}

const defsCSV = `name,address,ramp,description
V01,1,50,extractor
V02,2,-1,focus
D07,D7,-1,deflector
`

func TestReadDefinitions(t *testing.T) {
	defs, err := lenstable.ReadDefinitions(strings.NewReader(defsCSV))
	if err != nil {
		t.Fatal(err)
	}
	expected := map[string]lenstable.Descriptor{
		"V01": {Name: "V01", Description: "extractor", Address: 1, Ramp: 50, HV: true},
		"V02": {Name: "V02", Description: "focus", Address: 2, Ramp: -1, HV: true},
		"D07": {Name: "D07", Description: "deflector", Address: 7, Ramp: -1, HV: false},
	}
	if diff := cmp.Diff(expected, defs); diff != "" {
		t.Errorf("definitions mismatch (-want +got):\n%s", diff)
	}
	if !defs["V01"].ShouldRamp() {
		t.Error("V01 has a positive ramp rate and should ramp")
	}
	if defs["V02"].ShouldRamp() {
		t.Error("V02 has the no-ramp sentinel and should not ramp")
	}
}

func TestReadDefinitionsRejectsBadHeader(t *testing.T) {
	_, err := lenstable.ReadDefinitions(strings.NewReader("name,addr\nV01,1\n"))
	if err == nil {
		t.Error("expected a header mismatch error")
	}
}

func TestReadCalibrations(t *testing.T) {
	defs, err := lenstable.ReadDefinitions(strings.NewReader(defsCSV))
	if err != nil {
		t.Fatal(err)
	}
	csv := `name,offset,maximum
V01,0,1000
----,0,0
V02,-500,1000
`
	cal, err := lenstable.ReadCalibrations(strings.NewReader(csv), defs)
	if err != nil {
		t.Fatal(err)
	}
	expected := calib.Map{
		1: {Offset: 0, Maximum: 1000},
		2: {Offset: -500, Maximum: 1000},
	}
	if diff := cmp.Diff(expected, cal); diff != "" {
		t.Errorf("calibrations mismatch (-want +got):\n%s", diff)
	}
}

func TestReadCalibrationsRejectsUnknownName(t *testing.T) {
	defs, _ := lenstable.ReadDefinitions(strings.NewReader(defsCSV))
	csv := "name,offset,maximum\nV99,0,1000\n"
	if _, err := lenstable.ReadCalibrations(strings.NewReader(csv), defs); err == nil {
		t.Error("expected an error for a calibration naming an undefined electrode")
	}
}

func TestReadLensTables(t *testing.T) {
	defs, _ := lenstable.ReadDefinitions(strings.NewReader(defsCSV))
	csv := `name,V01,V02,D07
imaging,1500,-200,0.5
diffraction,800,-150,0
`
	tables, err := lenstable.ReadLensTables(strings.NewReader(csv), defs)
	if err != nil {
		t.Fatal(err)
	}
	expected := map[string]map[string]float64{
		"imaging":     {"V01": 1500, "V02": -200, "D07": 0.5},
		"diffraction": {"V01": 800, "V02": -150, "D07": 0},
	}
	if diff := cmp.Diff(expected, tables); diff != "" {
		t.Errorf("lens tables mismatch (-want +got):\n%s", diff)
	}
}

func TestReadLensTablesRejectsElectrodeMismatch(t *testing.T) {
	defs, _ := lenstable.ReadDefinitions(strings.NewReader(defsCSV))
	// missing D07 column
	csv := "name,V01,V02\nimaging,1500,-200\n"
	if _, err := lenstable.ReadLensTables(strings.NewReader(csv), defs); err == nil {
		t.Error("expected an error when the lens table covers a different electrode set")
	}
	// undefined electrode column
	csv = "name,V01,V02,V99\nimaging,1500,-200,0\n"
	if _, err := lenstable.ReadLensTables(strings.NewReader(csv), defs); err == nil {
		t.Error("expected an error for an undefined electrode column")
	}
}

func TestTableKnownAndAddresses(t *testing.T) {
	defs, _ := lenstable.ReadDefinitions(strings.NewReader(defsCSV))
	table := &lenstable.Table{Defs: defs}
	if !table.Known(1) || !table.Known(7) {
		t.Error("defined addresses must be known")
	}
	if table.Known(99) {
		t.Error("address 99 is not defined")
	}
	if diff := cmp.Diff([]int{1, 2, 7}, table.Addresses()); diff != "" {
		t.Errorf("addresses mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"D07", "V01", "V02"}, table.Names()); diff != "" {
		t.Errorf("names mismatch (-want +got):\n%s", diff)
	}
}
