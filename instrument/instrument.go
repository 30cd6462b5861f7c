/*Package instrument is the host-level view of a spectrometer supply: it
speaks in electrode names and physical volts, converting through the
calibration engine and the address table into the staged codes the driver
protocol understands.

Setting a single electrode stages and bursts immediately; applying a lens
table stages the whole electrode set and commits it in one burst, so the
optics never pass through a transient field configuration.
*/
package instrument

import (
	"fmt"
	"sync"

	"github.com/speem-lab/gosupply/calib"
	"github.com/speem-lab/gosupply/lenstable"
	"github.com/speem-lab/gosupply/supply"
)

// hvRampPeriod is the ramp period handed to the driver for electrodes that
// ramp; the hardware interprets it in its own tick units.
const hvRampPeriod = 0xFFFF

// Supply pairs one driver session with its address table.
type Supply struct {
	sess  *supply.Session
	table *lenstable.Table

	mu    sync.Mutex
	cache map[string]float64
	lens  string
}

// New creates an instrument-level supply over an initialized session.
func New(sess *supply.Session, table *lenstable.Table) *Supply {
	return &Supply{
		sess:  sess,
		table: table,
		cache: make(map[string]float64),
	}
}

// Table returns the address table.
func (s *Supply) Table() *lenstable.Table {
	return s.table
}

// Session returns the underlying driver session.
func (s *Supply) Session() *supply.Session {
	return s.sess
}

// Stage converts volts for the named electrode and stages it without
// applying.  High voltage electrodes go through their affine calibration;
// DAC electrodes go through the linear low voltage scale.
func (s *Supply) Stage(name string, volts float64) error {
	d, ok := s.table.Defs[name]
	if !ok {
		return fmt.Errorf("unknown electrode %q", name)
	}
	if d.HV {
		p, ok := s.table.Cal[d.Address]
		if !ok {
			return fmt.Errorf("no calibration for electrode %q (address %d)", name, d.Address)
		}
		code, err := calib.ToCode(volts, p)
		if err != nil {
			return err
		}
		period := 0
		if d.ShouldRamp() {
			period = hvRampPeriod
		}
		if err := s.sess.SetHV(d.Address, int(code), period); err != nil {
			return err
		}
	} else {
		code, err := calib.LVCode(volts, s.table.LVScale)
		if err != nil {
			return err
		}
		if err := s.sess.SetDAC20(d.Address, code); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.cache[name] = volts
	s.mu.Unlock()
	return nil
}

// SetVoltage stages one electrode and bursts immediately.
func (s *Supply) SetVoltage(name string, volts float64) error {
	if err := s.Stage(name, volts); err != nil {
		return err
	}
	return s.sess.Burst()
}

// ApplyLensTable stages every electrode of the named lens table and commits
// the whole set in one burst.
func (s *Supply) ApplyLensTable(name string) error {
	table, ok := s.table.Lens[name]
	if !ok {
		return fmt.Errorf("unknown lens table %q among %v", name, s.lensNames())
	}
	for electrode, volts := range table {
		if err := s.Stage(electrode, volts); err != nil {
			return err
		}
	}
	if err := s.sess.Burst(); err != nil {
		return err
	}
	s.mu.Lock()
	s.lens = name
	s.mu.Unlock()
	return nil
}

// ZeroAll drives every electrode to zero volts in one burst.
func (s *Supply) ZeroAll() error {
	return s.ApplyLensTable(lenstable.ZeroTable)
}

// LensTable returns the name of the lens table applied last, or "".
func (s *Supply) LensTable() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lens
}

// Voltages returns the last commanded volts per electrode.  Electrodes never
// commanded are absent; the instrument is operational once every electrode
// is present.
func (s *Supply) Voltages() map[string]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]float64, len(s.cache))
	for k, v := range s.cache {
		out[k] = v
	}
	return out
}

// Operational reports whether every defined electrode has been commanded.
func (s *Supply) Operational() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache) == len(s.table.Defs)
}

func (s *Supply) lensNames() []string {
	out := make([]string, 0, len(s.table.Lens))
	for k := range s.table.Lens {
		out = append(out, k)
	}
	return out
}
