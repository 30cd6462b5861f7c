package supply_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/speem-lab/gosupply/calib"
	"github.com/speem-lab/gosupply/lenstable"
	"github.com/speem-lab/gosupply/sim"
	"github.com/speem-lab/gosupply/supply"
)

func simTable() *lenstable.Table {
	return &lenstable.Table{
		Defs: map[string]lenstable.Descriptor{
			"V01": {Name: "V01", Address: 1, Ramp: 50, HV: true},
			"V02": {Name: "V02", Address: 2, Ramp: lenstable.NoRamp, HV: true},
			"D07": {Name: "D07", Address: 7, Ramp: lenstable.NoRamp, HV: false},
		},
		Cal: calib.Map{
			1: {Offset: 0, Maximum: 1000},
			2: {Offset: -500, Maximum: 1000},
		},
		LVScale: 1e-5,
	}
}

func readySession(t *testing.T, drv supply.Driver) *supply.Session {
	t.Helper()
	sess := supply.NewSession(drv)
	if err := sess.Initialize(0); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	return sess
}

func TestSessionLifecycle(t *testing.T) {
	drv := sim.New(simTable(), 3)
	sess := supply.NewSession(drv)

	if err := sess.Burst(); !errors.Is(err, supply.ErrNotReady) {
		t.Errorf("burst before initialize: expected ErrNotReady, got %v", err)
	}
	if sess.State() != supply.Uninitialized {
		t.Errorf("expected Uninitialized, got %v", sess.State())
	}

	if err := sess.Initialize(0); err != nil {
		t.Fatalf("initialize failed: %v", err)
	}
	if sess.State() != supply.Ready {
		t.Errorf("expected Ready, got %v", sess.State())
	}
	// idempotent while Ready
	if err := sess.Initialize(0); err != nil {
		t.Errorf("re-initialize while ready should be a no-op, got %v", err)
	}

	if err := sess.SetHV(1, 32768, 0); err != nil {
		t.Errorf("stage failed: %v", err)
	}
	if drv.AppliedCount() != 0 {
		t.Error("stage must not touch hardware before burst")
	}
	if err := sess.Burst(); err != nil {
		t.Errorf("burst failed: %v", err)
	}
	if cmd, ok := drv.Applied(1); !ok || cmd.Value != 32768 {
		t.Errorf("expected 32768 applied at address 1, got %+v ok=%v", cmd, ok)
	}

	if err := sess.Finalize(); err != nil {
		t.Errorf("finalize failed: %v", err)
	}
	if !drv.Finalized() {
		t.Error("driver was not finalized")
	}
	if err := sess.Finalize(); err != nil {
		t.Errorf("finalize must be idempotent, got %v", err)
	}
	if err := sess.Burst(); !errors.Is(err, supply.ErrFinalized) {
		t.Errorf("burst after finalize: expected ErrFinalized, got %v", err)
	}
}

func TestSessionFatalInitPoisons(t *testing.T) {
	drv := sim.New(simTable(), 1)
	drv.FailInit = true
	sess := supply.NewSession(drv)

	if err := sess.Initialize(0); err == nil {
		t.Fatal("expected initialize to fail")
	}
	// every later call, including a retried Initialize, reports the fatal
	drv.FailInit = false
	if err := sess.Initialize(0); !errors.Is(err, supply.ErrFatalInit) {
		t.Errorf("retried initialize: expected ErrFatalInit, got %v", err)
	}
	if err := sess.Burst(); !errors.Is(err, supply.ErrFatalInit) {
		t.Errorf("burst: expected ErrFatalInit, got %v", err)
	}
	if err := sess.Finalize(); !errors.Is(err, supply.ErrFatalInit) {
		t.Errorf("finalize: expected ErrFatalInit, got %v", err)
	}
	if drv.Finalized() {
		t.Error("finalize must not be issued to a driver that failed initialize")
	}
}

func TestTestAllUnits(t *testing.T) {
	drv := sim.New(simTable(), 4)
	drv.BadUnits = map[int]bool{2: true}
	sess := readySession(t, drv)

	results, err := sess.TestAllUnits()
	if err != nil {
		t.Fatalf("enumeration failed: %v", err)
	}
	expected := []supply.UnitResult{
		{ID: 0, OK: true},
		{ID: 1, OK: true},
		{ID: 2, OK: false},
		{ID: 3, OK: true},
	}
	if diff := cmp.Diff(expected, results); diff != "" {
		t.Errorf("unit results mismatch (-want +got):\n%s", diff)
	}

	// the enumeration restarts from scratch on each call
	results, err = sess.TestAllUnits()
	if err != nil || len(results) != 4 {
		t.Errorf("second enumeration: got %d results, err %v", len(results), err)
	}
}

func TestTestAllUnitsCapsRunawayEnumeration(t *testing.T) {
	drv := sim.New(simTable(), 4)
	drv.NeverTerminate = true
	sess := readySession(t, drv)

	results, err := sess.TestAllUnits()
	if err == nil {
		t.Fatal("expected a protocol violation error")
	}
	if len(results) != supply.MaxUnits {
		t.Errorf("expected %d results before the cap, got %d", supply.MaxUnits, len(results))
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	drv := sim.New(simTable(), 2)
	sess := readySession(t, drv)

	block, err := sess.SaveSettings()
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if len(block) == 0 {
		t.Fatal("expected a nonempty settings block")
	}

	if err := sess.RestoreSettings(block); err != nil {
		t.Errorf("restore of a saved block failed: %v", err)
	}

	// wrong-size blocks are rejected wholesale
	if err := sess.RestoreSettings(block[:len(block)-1]); err == nil {
		t.Error("expected a short block to be rejected")
	}
	if err := sess.RestoreSettings(append(block, 0)); err == nil {
		t.Error("expected a long block to be rejected")
	}
}

// noFlood hides the simulator's floodgun capability behind the plain Driver
// interface.
type noFlood struct {
	supply.Driver
}

func TestFloodgunCapabilityDiscovery(t *testing.T) {
	drv := sim.New(simTable(), 1)
	sess := readySession(t, drv)
	if err := sess.SetFloodgun(1, 0, 42); err != nil {
		t.Errorf("floodgun write on a capable driver failed: %v", err)
	}
	if v, ok := drv.Floodgun(1, 0); !ok || v != 42 {
		t.Errorf("expected floodgun parameter 42, got %d ok=%v", v, ok)
	}

	bare := readySession(t, noFlood{sim.New(simTable(), 1)})
	if err := bare.SetFloodgun(1, 0, 42); err == nil {
		t.Error("expected an error from a driver without floodgun capability")
	}
}

func TestBurstFailureLeavesSessionReady(t *testing.T) {
	drv := sim.New(simTable(), 1)
	drv.FailBurst = true
	sess := readySession(t, drv)

	if err := sess.SetDAC20(7, 1000); err != nil {
		t.Fatalf("stage failed: %v", err)
	}
	if err := sess.Burst(); err == nil {
		t.Fatal("expected burst to fail")
	}
	if sess.State() != supply.Ready {
		t.Errorf("burst failure must leave the session Ready, got %v", sess.State())
	}
	// the staged set cleared; a retry bursts nothing
	drv.FailBurst = false
	if err := sess.Burst(); err != nil {
		t.Errorf("empty burst after failure should succeed, got %v", err)
	}
	if drv.AppliedCount() != 0 {
		t.Error("failed commands must not replay on the next burst")
	}
}
