package supply_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/speem-lab/gosupply/supply"
)

func collect(t *testing.T, b *supply.Batch) []supply.Command {
	t.Helper()
	var out []supply.Command
	err := b.Commit(func(cmd supply.Command) error {
		out = append(out, cmd)
		return nil
	})
	if err != nil {
		t.Fatalf("commit failed: %v", err)
	}
	return out
}

func TestStageLastWriteWins(t *testing.T) {
	b := supply.NewBatch(nil)
	b.StageHV(3, 100, 0)
	b.StageHV(3, 200, 5)
	if b.Len() != 1 {
		t.Errorf("expected 1 staged command, got %d", b.Len())
	}
	cmds := collect(t, b)
	expected := []supply.Command{{Address: 3, Kind: supply.HV, Value: 200, Period: 5}}
	if diff := cmp.Diff(expected, cmds); diff != "" {
		t.Errorf("staged command mismatch (-want +got):\n%s", diff)
	}
}

func TestStageRejectsOutOfRange(t *testing.T) {
	b := supply.NewBatch(nil)
	cases := []struct {
		label string
		st    supply.Status
	}{
		{"HV too big", b.StageHV(0, 1<<16, 0)},
		{"HV negative", b.StageHV(0, -1, 0)},
		{"DAC6 too big", b.StageDAC6(0, 64)},
		{"DAC20 too big", b.StageDAC20(0, 1<<20)},
		{"DAC20 negative", b.StageDAC20(0, -5)},
	}
	for _, tc := range cases {
		if tc.st != supply.InvalidValue {
			t.Errorf("%s: expected InvalidValue, got %v", tc.label, tc.st)
		}
	}
	if b.Len() != 0 {
		t.Errorf("rejected values must not stage, %d staged", b.Len())
	}
}

func TestStageRejectsUnknownAddress(t *testing.T) {
	b := supply.NewBatch(func(addr int) bool { return addr == 7 })
	if st := b.StageDAC20(8, 100); st != supply.InvalidAddress {
		t.Errorf("expected InvalidAddress, got %v", st)
	}
	if st := b.StageDAC20(7, 100); st != supply.OK {
		t.Errorf("expected OK for known address, got %v", st)
	}
	if b.Len() != 1 {
		t.Errorf("expected only the known address staged, got %d", b.Len())
	}
}

func TestCommitEmptySucceeds(t *testing.T) {
	b := supply.NewBatch(nil)
	calls := 0
	err := b.Commit(func(supply.Command) error {
		calls++
		return nil
	})
	if err != nil {
		t.Errorf("empty commit errored: %v", err)
	}
	if calls != 0 {
		t.Errorf("empty commit must not apply anything, applied %d", calls)
	}
}

func TestCommitAscendingAddressOrder(t *testing.T) {
	b := supply.NewBatch(nil)
	b.StageHV(9, 1, 0)
	b.StageHV(1, 2, 0)
	b.StageHV(5, 3, 0)
	var order []int
	b.Commit(func(cmd supply.Command) error {
		order = append(order, cmd.Address)
		return nil
	})
	if diff := cmp.Diff([]int{1, 5, 9}, order); diff != "" {
		t.Errorf("apply order mismatch (-want +got):\n%s", diff)
	}
}

func TestFailedCommitDoesNotReplay(t *testing.T) {
	b := supply.NewBatch(nil)
	b.StageHV(1, 10, 0)
	b.StageHV(2, 20, 0)
	err := b.Commit(func(cmd supply.Command) error {
		if cmd.Address == 2 {
			return errors.New("unit offline")
		}
		return nil
	})
	if err == nil {
		t.Fatal("expected an aggregate error")
	}
	if !strings.Contains(err.Error(), "1 failure(s)") {
		t.Errorf("aggregate error should count failures, got %q", err)
	}
	if b.Len() != 0 {
		t.Errorf("staged set must clear even on failure, %d left", b.Len())
	}
	if cmds := collect(t, b); len(cmds) != 0 {
		t.Errorf("next commit must not replay, applied %v", cmds)
	}
}

func TestCommitPartialFailureAppliesRest(t *testing.T) {
	b := supply.NewBatch(nil)
	b.StageHV(1, 10, 0)
	b.StageHV(2, 20, 0)
	b.StageHV(3, 30, 0)
	var applied []int
	b.Commit(func(cmd supply.Command) error {
		if cmd.Address == 2 {
			return errors.New("unit offline")
		}
		applied = append(applied, cmd.Address)
		return nil
	})
	if diff := cmp.Diff([]int{1, 3}, applied); diff != "" {
		t.Errorf("surviving commands mismatch (-want +got):\n%s", diff)
	}
}
