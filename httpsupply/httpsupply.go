// Package httpsupply wraps a supply driver session in an HTTP interface.
//
// This is not the last word in speed, but a server-client architecture lets
// the notebook and scripting front ends drive the supplies from any language
// with a decent HTTP library.
package httpsupply

import (
	"encoding/json"
	"io"
	"net/http"
	"sort"

	"github.com/go-chi/chi"

	"github.com/speem-lab/gosupply/supply"
)

// MethodPath is an HTTP method and path pair, the key of a RouteTable.
type MethodPath struct {
	Method string
	Path   string
}

// RouteTable maps method/path pairs to handlers.
type RouteTable map[MethodPath]http.HandlerFunc

// Bind attaches every route in the table to a chi router.
func (rt RouteTable) Bind(r chi.Router) {
	for mp, handler := range rt {
		r.Method(mp.Method, mp.Path, handler)
	}
}

// Endpoints lists the routes in the table, sorted.
func (rt RouteTable) Endpoints() []string {
	out := make([]string, 0, len(rt))
	for mp := range rt {
		out = append(out, mp.Method+" "+mp.Path)
	}
	sort.Strings(out)
	return out
}

// An HTTPer has a route table to mount on a server.
type HTTPer interface {
	RT() RouteTable
}

type addressValue struct {
	Address int `json:"address"`

	Value int `json:"value"`

	// Period is only meaningful for HV channels
	Period int `json:"period,omitempty"`
}

type floodgunValue struct {
	Address int `json:"address"`

	Index byte `json:"index"`

	Value byte `json:"value"`
}

type unitResult struct {
	ID int `json:"id"`

	OK bool `json:"ok"`
}

// HTTPSupply exposes one driver session over HTTP.
type HTTPSupply struct {
	RouteTable RouteTable

	sess *supply.Session
}

// NewHTTPSupply builds the route table for a session.
func NewHTTPSupply(sess *supply.Session) *HTTPSupply {
	h := &HTTPSupply{sess: sess}
	rt := RouteTable{}
	rt[MethodPath{http.MethodPost, "/hv"}] = h.SetHV
	rt[MethodPath{http.MethodPost, "/dac6"}] = h.SetDAC6
	rt[MethodPath{http.MethodPost, "/dac20"}] = h.SetDAC20
	rt[MethodPath{http.MethodPost, "/register"}] = h.SetRegister
	rt[MethodPath{http.MethodPost, "/floodgun"}] = h.SetFloodgun
	rt[MethodPath{http.MethodPost, "/burst"}] = h.Burst
	rt[MethodPath{http.MethodPost, "/reset"}] = h.Reset
	rt[MethodPath{http.MethodGet, "/lib-info"}] = h.LibInfo
	rt[MethodPath{http.MethodGet, "/communication-test"}] = h.CommunicationTest
	rt[MethodPath{http.MethodGet, "/settings"}] = h.GetSettings
	rt[MethodPath{http.MethodPost, "/settings"}] = h.SetSettings
	h.RouteTable = rt
	return h
}

// RT satisfies the HTTPer interface.
func (h *HTTPSupply) RT() RouteTable {
	return h.RouteTable
}

func (h *HTTPSupply) stage(w http.ResponseWriter, r *http.Request, stage func(addressValue) error) {
	var input addressValue
	err := json.NewDecoder(r.Body).Decode(&input)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := stage(input); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// SetHV stages a calibrated code on a high voltage channel.
func (h *HTTPSupply) SetHV(w http.ResponseWriter, r *http.Request) {
	h.stage(w, r, func(in addressValue) error {
		return h.sess.SetHV(in.Address, in.Value, in.Period)
	})
}

// SetDAC6 stages a 6-bit DAC value.
func (h *HTTPSupply) SetDAC6(w http.ResponseWriter, r *http.Request) {
	h.stage(w, r, func(in addressValue) error {
		return h.sess.SetDAC6(in.Address, in.Value)
	})
}

// SetDAC20 stages a 20-bit DAC value.
func (h *HTTPSupply) SetDAC20(w http.ResponseWriter, r *http.Request) {
	h.stage(w, r, func(in addressValue) error {
		return h.sess.SetDAC20(in.Address, in.Value)
	})
}

// SetRegister stages a byte register write.
func (h *HTTPSupply) SetRegister(w http.ResponseWriter, r *http.Request) {
	h.stage(w, r, func(in addressValue) error {
		return h.sess.SetRegister(in.Address, byte(in.Value))
	})
}

// SetFloodgun writes one floodgun parameter.
func (h *HTTPSupply) SetFloodgun(w http.ResponseWriter, r *http.Request) {
	var input floodgunValue
	err := json.NewDecoder(r.Body).Decode(&input)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.sess.SetFloodgun(input.Address, input.Index, input.Value); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Burst commits every staged command.
func (h *HTTPSupply) Burst(w http.ResponseWriter, r *http.Request) {
	if err := h.sess.Burst(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Reset returns the hardware to its power-on state.
func (h *HTTPSupply) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.sess.Reset(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// LibInfo returns the driver description as json {"str": ...}.
func (h *HTTPSupply) LibInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.sess.LibInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Str string `json:"str"`
	}{info})
}

// CommunicationTest enumerates the driver's units and returns one result per
// unit as json.
func (h *HTTPSupply) CommunicationTest(w http.ResponseWriter, r *http.Request) {
	results, err := h.sess.TestAllUnits()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]unitResult, len(results))
	for i, res := range results {
		out[i] = unitResult{ID: res.ID, OK: res.OK}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

// GetSettings returns the driver's opaque settings block verbatim.
func (h *HTTPSupply) GetSettings(w http.ResponseWriter, r *http.Request) {
	block, err := h.sess.SaveSettings()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(block)
}

// SetSettings hands a previously saved settings block back to the driver.
func (h *HTTPSupply) SetSettings(w http.ResponseWriter, r *http.Request) {
	block, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.sess.RestoreSettings(block); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
