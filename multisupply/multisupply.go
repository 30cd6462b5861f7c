// Package multisupply builds a single HTTP mux serving any number of supply
// crates, each mounted under its own URL stem.  The set of crates comes from
// a yaml config file, so one server process can front every supply in the
// chamber.
package multisupply

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-yaml/yaml"
	"goji.io"
	"goji.io/pat"

	"github.com/speem-lab/gosupply/httpsupply"
	"github.com/speem-lab/gosupply/hvc20"
	"github.com/speem-lab/gosupply/instrument"
	"github.com/speem-lab/gosupply/lenstable"
	"github.com/speem-lab/gosupply/rudi"
	"github.com/speem-lab/gosupply/sim"
	"github.com/speem-lab/gosupply/supply"
)

// ObjSetup holds the args needed to bring up one supply crate.
type ObjSetup struct {
	// Addr holds the network or filesystem address of the crate,
	// e.g. 192.168.100.123:2006 for a crate behind a terminal server,
	// or /dev/ttyS4 for an RS232 link.  The simulator ignores it.
	Addr string `yaml:"addr"`

	// URL is the stem the routes from this crate will be served on,
	// ex. URL="/speem/main" produces routes of /speem/main/burst, etc.
	URL string `yaml:"endpoint"`

	// Serial determines if the connection is serial/RS232 (true) or TCP (false)
	Serial bool `yaml:"serial"`

	// Family selects the driver: "hvc20", "rudi", or "sim"
	Family string `yaml:"family"`

	// Table is the path to the supply description yaml (electrode
	// definitions, calibrations, lens tables)
	Table string `yaml:"table"`

	// Units lists the crate unit ids to address.  hvc20 defaults to a
	// fully populated crate when empty; the simulator uses its length as
	// the unit count; rudi ignores it and derives cards from the electrode
	// definitions.
	Units []int `yaml:"units"`
}

// Config holds the initialization parameters for every supply served by one
// process.  It is to be populated by a yaml unmarshal call.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"addr"`

	// Supplies is the list of crates to bring up and serve
	Supplies []ObjSetup `yaml:"supplies"`
}

// LoadYaml converts a (path to a) yaml file into a Config struct
func LoadYaml(path string) (Config, error) {
	cfg := Config{}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(&cfg)
	return cfg, err
}

// Group is a set of initialized supply sessions behind one mux.
type Group struct {
	// Mux routes requests to the crates.  It serves a special route,
	// /endpoints, which returns a map of stem to route list as JSON.
	Mux *goji.Mux

	sessions []*supply.Session
}

// FinalizeAll releases every crate in the group.  Safe to call more than
// once.
func (g *Group) FinalizeAll() {
	for _, sess := range g.sessions {
		sess.Finalize()
	}
}

// Build brings up every configured crate and mounts its routes on a fresh
// mux.  A crate that fails to initialize aborts the build; the crates
// already up are finalized before returning.
func (c Config) Build() (*Group, error) {
	g := &Group{Mux: goji.NewMux()}
	supergraph := map[string][]string{}

	for idx, setup := range c.Supplies {
		inst, err := BuildSupply(setup, uint32(idx))
		if err != nil {
			g.FinalizeAll()
			return nil, fmt.Errorf("supply %q: %w", setup.URL, err)
		}
		httper := httpsupply.NewHTTPInstrument(inst)
		g.sessions = append(g.sessions, inst.Session())

		stem := setup.URL
		if !strings.HasPrefix(stem, "/") {
			stem = "/" + stem
		}
		stem = strings.TrimSuffix(stem, "/")
		supergraph[stem] = httper.RT().Endpoints()

		r := chi.NewRouter()
		httper.RT().Bind(r)
		g.Mux.Handle(pat.New(stem+"/*"), http.StripPrefix(stem, r))
	}

	g.Mux.HandleFunc(pat.Get("/endpoints"), func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return g, nil
}

// BuildSupply brings up one crate: load its description table, construct the
// driver for its family, initialize a session over it and wrap the pair in
// an instrument-level supply.
func BuildSupply(setup ObjSetup, handle uint32) (*instrument.Supply, error) {
	tcfg, err := lenstable.LoadYaml(setup.Table)
	if err != nil {
		return nil, err
	}
	table, err := tcfg.Build()
	if err != nil {
		return nil, err
	}

	var drv supply.Driver
	switch setup.Family {
	case "hvc20":
		units := make([]byte, len(setup.Units))
		for i, u := range setup.Units {
			units[i] = byte(u)
		}
		drv = hvc20.New(setup.Addr, setup.Serial, table, units)
	case "rudi":
		drv = rudi.New(setup.Addr, table)
	case "sim":
		n := len(setup.Units)
		if n == 0 {
			n = 1
		}
		drv = sim.New(table, n)
	default:
		return nil, fmt.Errorf("unknown supply family %q", setup.Family)
	}

	sess := supply.NewSession(drv)
	if err := sess.Initialize(handle); err != nil {
		return nil, err
	}
	return instrument.New(sess, table), nil
}
