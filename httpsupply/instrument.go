package httpsupply

import (
	"encoding/json"
	"net/http"

	"github.com/speem-lab/gosupply/instrument"
)

type namedVoltage struct {
	Name string `json:"name"`

	Voltage float64 `json:"voltage"`
}

type namedTable struct {
	Name string `json:"name"`
}

// HTTPInstrument exposes the instrument-level (electrode name and volts)
// interface over HTTP, alongside the raw driver routes.
type HTTPInstrument struct {
	RouteTable RouteTable

	inst *instrument.Supply
}

// NewHTTPInstrument builds routes for an instrument-level supply, including
// the raw driver routes of its session.
func NewHTTPInstrument(inst *instrument.Supply) *HTTPInstrument {
	h := &HTTPInstrument{inst: inst}
	rt := NewHTTPSupply(inst.Session()).RouteTable
	rt[MethodPath{http.MethodPost, "/voltage"}] = h.SetVoltage
	rt[MethodPath{http.MethodPost, "/lens-table"}] = h.ApplyLensTable
	rt[MethodPath{http.MethodGet, "/lens-table"}] = h.LensTable
	rt[MethodPath{http.MethodPost, "/zero"}] = h.Zero
	rt[MethodPath{http.MethodGet, "/voltages"}] = h.Voltages
	h.RouteTable = rt
	return h
}

// RT satisfies the HTTPer interface.
func (h *HTTPInstrument) RT() RouteTable {
	return h.RouteTable
}

// SetVoltage drives one electrode, by name, to a physical voltage.
func (h *HTTPInstrument) SetVoltage(w http.ResponseWriter, r *http.Request) {
	var input namedVoltage
	err := json.NewDecoder(r.Body).Decode(&input)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.inst.SetVoltage(input.Name, input.Voltage); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// ApplyLensTable commits a named lens table in one burst.
func (h *HTTPInstrument) ApplyLensTable(w http.ResponseWriter, r *http.Request) {
	var input namedTable
	err := json.NewDecoder(r.Body).Decode(&input)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.inst.ApplyLensTable(input.Name); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// LensTable returns the name of the last applied lens table.
func (h *HTTPInstrument) LensTable(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Str string `json:"str"`
	}{h.inst.LensTable()})
}

// Zero drives every electrode to zero volts in one burst.
func (h *HTTPInstrument) Zero(w http.ResponseWriter, r *http.Request) {
	if err := h.inst.ZeroAll(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Voltages returns the last commanded volts per electrode.
func (h *HTTPInstrument) Voltages(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.inst.Voltages())
}
