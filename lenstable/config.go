package lenstable

import (
	"os"
	"path/filepath"

	"github.com/go-yaml/yaml"
)

// Config is the on-disk description of one supply instance, pointing at the
// CSV files holding the electrode definitions, high voltage calibrations and
// lens tables.  It is to be populated by a yaml unmarshal call.
type Config struct {
	// Name identifies the instrument configuration.
	Name string `yaml:"name"`

	// Author and Date record who produced the calibration and when.
	Author string `yaml:"author"`
	Date   string `yaml:"date"`

	// Notes is free text.
	Notes string `yaml:"notes"`

	// LVCalibration is the volts-per-code scale for DAC20 channels.
	LVCalibration float64 `yaml:"lv_calibration"`

	// DefinitionsFile, HVCalibrationFile and LensTableFile locate the CSVs,
	// absolute or relative to the config file itself.
	DefinitionsFile   string `yaml:"definitions_file"`
	HVCalibrationFile string `yaml:"hv_calibration_file"`
	LensTableFile     string `yaml:"lens_table_file"`

	dir string
}

// LoadYaml converts a (path to a) yaml file into a Config struct.
func LoadYaml(path string) (Config, error) {
	cfg := Config{}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(&cfg)
	cfg.dir = filepath.Dir(path)
	return cfg, err
}

// resolve locates a referenced file; relative paths that do not exist from
// the working directory are taken relative to the config file.
func (c Config) resolve(p string) string {
	if filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return filepath.Join(c.dir, p)
}

// Build reads the three CSV files and assembles the validated Table.  The
// ZERO_EVERYTHING lens table is always added.
func (c Config) Build() (*Table, error) {
	t := &Table{LVScale: c.LVCalibration}

	f, err := os.Open(c.resolve(c.DefinitionsFile))
	if err != nil {
		return nil, err
	}
	t.Defs, err = ReadDefinitions(f)
	f.Close()
	if err != nil {
		return nil, err
	}

	f, err = os.Open(c.resolve(c.HVCalibrationFile))
	if err != nil {
		return nil, err
	}
	t.Cal, err = ReadCalibrations(f, t.Defs)
	f.Close()
	if err != nil {
		return nil, err
	}

	f, err = os.Open(c.resolve(c.LensTableFile))
	if err != nil {
		return nil, err
	}
	t.Lens, err = ReadLensTables(f, t.Defs)
	f.Close()
	if err != nil {
		return nil, err
	}

	zero := make(map[string]float64, len(t.Defs))
	for name := range t.Defs {
		zero[name] = 0
	}
	t.Lens[ZeroTable] = zero
	return t, nil
}
