/*Package lenstable holds the static address table for a spectrometer supply:
which electrode names exist, where they live in the driver's address space,
how fast they may ramp, and the calibration attached to each high voltage
channel.  The table is configuration supplied by the host at startup; the
drivers consume it for address validation and routing but never compute it.

Addresses come in two spellings.  A bare number ("33") is a high voltage
channel; a "D" prefix ("D7") is a 20-bit DAC channel.  Both map into the same
integer address space on the wire.
*/
package lenstable

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/speem-lab/gosupply/calib"
)

// NoRamp is the ramp sentinel meaning "apply immediately".
const NoRamp = -1

// A Descriptor names one electrode and locates it in the address space.
type Descriptor struct {
	// Name is the symbolic electrode name, e.g. "V02" or "MCP".
	Name string

	// Description is free text for operators.
	Description string

	// Address is the integer address the driver routes on.
	Address int

	// Ramp is the ramp rate in volts per second, or NoRamp to apply
	// immediately.
	Ramp float64

	// HV is true for high voltage channels, false for DAC20 channels.
	HV bool
}

// ShouldRamp reports whether writes to this electrode are ramped.
func (d Descriptor) ShouldRamp() bool {
	return d.Ramp > 0
}

// ParseAddress splits an address spelling into its integer address and
// channel class.  "D<n>" is a DAC20 channel at address n; a bare integer is
// a high voltage channel.
func ParseAddress(s string) (address int, hv bool, err error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "D") {
		address, err = strconv.Atoi(s[1:])
		return address, false, err
	}
	address, err = strconv.Atoi(s)
	return address, true, err
}

// A Table is the full static configuration of one supply instance:
// electrode definitions, high voltage calibrations, the low-voltage scale,
// and named lens tables (coherent voltage sets applied in one burst).
type Table struct {
	// Defs maps electrode name to its descriptor.
	Defs map[string]Descriptor

	// Cal maps high voltage addresses to calibration parameters.
	Cal calib.Map

	// LVScale is the volts-per-code scale for DAC20 channels.
	LVScale float64

	// Lens maps lens table name to electrode name to volts.
	Lens map[string]map[string]float64
}

// ZeroTable is the name of the always-present lens table holding zero volts
// on every electrode.
const ZeroTable = "ZERO_EVERYTHING"

// Known reports whether an address belongs to the table.  Drivers use it to
// validate stage calls.
func (t *Table) Known(address int) bool {
	for _, d := range t.Defs {
		if d.Address == address {
			return true
		}
	}
	return false
}

// Addresses returns every address in the table in ascending order.
func (t *Table) Addresses() []int {
	out := make([]int, 0, len(t.Defs))
	for _, d := range t.Defs {
		out = append(out, d.Address)
	}
	sort.Ints(out)
	return out
}

// Names returns every electrode name in sorted order.
func (t *Table) Names() []string {
	out := make([]string, 0, len(t.Defs))
	for k := range t.Defs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ReadDefinitions parses an electrode definitions CSV with the header
// name,address,ramp,description.
func ReadDefinitions(r io.Reader) (map[string]Descriptor, error) {
	records, err := readHeadered(r, []string{"name", "address", "ramp", "description"})
	if err != nil {
		return nil, err
	}
	defs := make(map[string]Descriptor, len(records))
	for _, rec := range records {
		addr, hv, err := ParseAddress(rec["address"])
		if err != nil {
			return nil, fmt.Errorf("definitions: bad address %q for %s: %v", rec["address"], rec["name"], err)
		}
		ramp, err := strconv.ParseFloat(rec["ramp"], 64)
		if err != nil {
			return nil, fmt.Errorf("definitions: bad ramp %q for %s: %v", rec["ramp"], rec["name"], err)
		}
		defs[rec["name"]] = Descriptor{
			Name:        rec["name"],
			Description: rec["description"],
			Address:     addr,
			Ramp:        ramp,
			HV:          hv,
		}
	}
	return defs, nil
}

// ReadCalibrations parses a high voltage calibration CSV with the header
// name,offset,maximum.  Placeholder rows whose name is all dashes are
// skipped; the calibration bench emits them for unpopulated slots.
func ReadCalibrations(r io.Reader, defs map[string]Descriptor) (calib.Map, error) {
	records, err := readHeadered(r, []string{"name", "offset", "maximum"})
	if err != nil {
		return nil, err
	}
	cal := make(calib.Map)
	for _, rec := range records {
		if strings.Trim(rec["name"], "-") == "" {
			continue
		}
		d, ok := defs[rec["name"]]
		if !ok {
			return nil, fmt.Errorf("calibration names electrode %q not in definitions", rec["name"])
		}
		offset, err := strconv.ParseFloat(rec["offset"], 64)
		if err != nil {
			return nil, fmt.Errorf("calibration: bad offset for %s: %v", rec["name"], err)
		}
		maximum, err := strconv.ParseFloat(rec["maximum"], 64)
		if err != nil {
			return nil, fmt.Errorf("calibration: bad maximum for %s: %v", rec["name"], err)
		}
		cal[d.Address] = calib.Params{Offset: offset, Maximum: maximum}
	}
	return cal, nil
}

// ReadLensTables parses a lens table CSV.  The header is name followed by
// one column per electrode; every row is one named table.  Each table must
// key exactly the defined electrode set.
func ReadLensTables(r io.Reader, defs map[string]Descriptor) (map[string]map[string]float64, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, err
	}
	if len(header) < 2 || strings.TrimSpace(header[0]) != "name" {
		return nil, fmt.Errorf("lens tables: header must begin with name, got %v", header)
	}
	electrodes := make([]string, len(header)-1)
	for i, h := range header[1:] {
		electrodes[i] = strings.TrimSpace(h)
	}
	if len(electrodes) != len(defs) {
		return nil, fmt.Errorf("lens tables and definitions refer to different lenses: %d columns, %d defined", len(electrodes), len(defs))
	}
	for _, e := range electrodes {
		if _, ok := defs[e]; !ok {
			return nil, fmt.Errorf("lens tables and definitions refer to different lenses: %q undefined", e)
		}
	}
	tables := make(map[string]map[string]float64)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		table := make(map[string]float64, len(electrodes))
		for i, e := range electrodes {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("lens table %s: bad value for %s: %v", rec[0], e, err)
			}
			table[e] = v
		}
		tables[strings.TrimSpace(rec[0])] = table
	}
	return tables, nil
}

// readHeadered reads a CSV with the given expected header columns into
// per-row maps keyed by column name.
func readHeadered(r io.Reader, cols []string) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if err != nil {
		return nil, err
	}
	if len(header) != len(cols) {
		return nil, fmt.Errorf("expected columns %v, got %v", cols, header)
	}
	for i := range cols {
		if strings.TrimSpace(header[i]) != cols[i] {
			return nil, fmt.Errorf("expected columns %v, got %v", cols, header)
		}
	}
	var out []map[string]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		m := make(map[string]string, len(cols))
		for i, c := range cols {
			m[c] = strings.TrimSpace(rec[i])
		}
		out = append(out, m)
	}
	return out, nil
}
