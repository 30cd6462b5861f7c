package supply

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Kind discriminates the hardware encoding a staged command targets.
type Kind int

const (
	// HV is a high voltage channel taking a 16-bit calibrated code.
	HV Kind = iota
	// DAC6 is a 6-bit DAC channel.
	DAC6
	// DAC20 is a 20-bit DAC channel.
	DAC20
	// Register is a byte-wide hardware register.
	Register
)

// bit widths of the target encodings
const (
	maxHV    = 1<<16 - 1
	maxDAC6  = 1<<6 - 1
	maxDAC20 = 1<<20 - 1
	maxReg   = 1<<8 - 1
)

func (k Kind) String() string {
	switch k {
	case HV:
		return "HV"
	case DAC6:
		return "DAC6"
	case DAC20:
		return "DAC20"
	case Register:
		return "Register"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// A Command is one staged per-address assignment, produced by a Stage call
// and consumed by the next Commit.
type Command struct {
	// Address routes the command to one physical output.
	Address int

	// Kind selects the target encoding.
	Kind Kind

	// Value is the raw code to write, already within Kind's bit width.
	Value int

	// Period is the ramp duration for HV commands, zero for immediate.
	// It is unused by the other kinds.
	Period int
}

// Batch accumulates staged commands and commits them atomically.  At most
// one staged command per address is held; a later stage for the same address
// before a commit supersedes the earlier one.  Batch is safe for concurrent
// use, though the driver protocol itself is serialized by Session.
type Batch struct {
	mu     sync.Mutex
	known  func(address int) bool
	staged map[int]Command
}

// NewBatch creates a Batch.  known reports whether an address belongs to the
// driver's address table; nil accepts every address.
func NewBatch(known func(address int) bool) *Batch {
	return &Batch{
		known:  known,
		staged: make(map[int]Command),
	}
}

// StageHV stages a 16-bit code on a high voltage channel.
func (b *Batch) StageHV(address, value, period int) Status {
	return b.stage(Command{Address: address, Kind: HV, Value: value, Period: period}, maxHV)
}

// StageDAC6 stages a 6-bit value.
func (b *Batch) StageDAC6(address, value int) Status {
	return b.stage(Command{Address: address, Kind: DAC6, Value: value}, maxDAC6)
}

// StageDAC20 stages a 20-bit value.
func (b *Batch) StageDAC20(address, value int) Status {
	return b.stage(Command{Address: address, Kind: DAC20, Value: value}, maxDAC20)
}

// StageRegister stages a byte register write.
func (b *Batch) StageRegister(address int, value byte) Status {
	return b.stage(Command{Address: address, Kind: Register, Value: int(value)}, maxReg)
}

func (b *Batch) stage(cmd Command, max int) Status {
	if b.known != nil && !b.known(cmd.Address) {
		return InvalidAddress
	}
	if cmd.Value < 0 || cmd.Value > max {
		return InvalidValue
	}
	b.mu.Lock()
	b.staged[cmd.Address] = cmd
	b.mu.Unlock()
	return OK
}

// Len returns the number of currently staged commands.
func (b *Batch) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.staged)
}

// Commit applies every staged command through apply in ascending address
// order, then returns an aggregate error if any failed.  The staged set is
// cleared before apply runs, so each command gets at most one apply attempt
// per commit and a failed commit never replays on the next one.  Committing
// an empty set succeeds trivially.
func (b *Batch) Commit(apply func(Command) error) error {
	b.mu.Lock()
	cmds := make([]Command, 0, len(b.staged))
	for _, cmd := range b.staged {
		cmds = append(cmds, cmd)
	}
	b.staged = make(map[int]Command)
	b.mu.Unlock()

	sort.Slice(cmds, func(i, j int) bool { return cmds[i].Address < cmds[j].Address })

	var failures []string
	for _, cmd := range cmds {
		if err := apply(cmd); err != nil {
			failures = append(failures, fmt.Sprintf("%s address %d: %v", cmd.Kind, cmd.Address, err))
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("burst applied with %d failure(s): %s", len(failures), strings.Join(failures, "; "))
	}
	return nil
}
