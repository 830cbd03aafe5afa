// Package ksession holds the memory-budget type and the state machines that
// drive a single create or extract run. The public option records
// (katana.CreateOptions, katana.ExtractOptions) live in the root package;
// this package only holds the pieces that are not plain configuration, such
// as the paranoid/skip-check resolution rule reused by both sides.
package ksession

import (
	"fmt"
)

// MemoryBudgetKind tags how a MemoryBudget value should be interpreted.
type MemoryBudgetKind int

const (
	// BudgetUnlimited lets the scheduler use all worker threads at full
	// per-shard cost with no memory-based clamp.
	BudgetUnlimited MemoryBudgetKind = iota
	// BudgetAbsoluteMiB bounds total shard working-set memory to a fixed
	// number of mebibytes.
	BudgetAbsoluteMiB
	// BudgetPercent bounds total shard working-set memory to a percentage
	// of system RAM.
	BudgetPercent
)

// MemoryBudget is a tagged union: unlimited, an absolute MiB ceiling, or a
// percentage of total system RAM.
type MemoryBudget struct {
	Kind         MemoryBudgetKind
	AbsoluteMiB  uint64
	PercentOfRAM uint8
}

// Unlimited returns a MemoryBudget that imposes no memory-based clamp.
func Unlimited() MemoryBudget { return MemoryBudget{Kind: BudgetUnlimited} }

// AbsoluteMiB returns a MemoryBudget capped at mib mebibytes.
func AbsoluteMiB(mib uint64) MemoryBudget {
	return MemoryBudget{Kind: BudgetAbsoluteMiB, AbsoluteMiB: mib}
}

// Percent returns a MemoryBudget capped at pct percent of total system RAM.
func Percent(pct uint8) MemoryBudget {
	return MemoryBudget{Kind: BudgetPercent, PercentOfRAM: pct}
}

// ExtractOptions is the subset of katana.ExtractOptions needed to resolve
// the paranoid/skip-check rule without importing the root package (which
// would create an import cycle, since the root package imports ksession for
// the state machines).
type ExtractOptions struct {
	Paranoid  bool
	SkipCheck bool
}

// ResolveParanoid reconciles the paranoid-verification toggle against the
// faster --skip-check escape hatch: an explicit SkipCheck always wins,
// otherwise Paranoid defaults the behavior.
func (o ExtractOptions) ResolveParanoid() bool {
	if o.SkipCheck {
		return false
	}
	return o.Paranoid
}

// CreateState is the lifecycle of a create session.
type CreateState int

const (
	CreateDraft CreateState = iota
	CreateShardsWritten
	CreateIndexWritten
	CreateVerified
	CreateCommitted
	CreateFailed
)

func (s CreateState) String() string {
	switch s {
	case CreateDraft:
		return "draft"
	case CreateShardsWritten:
		return "shards_written"
	case CreateIndexWritten:
		return "index_written"
	case CreateVerified:
		return "verified"
	case CreateCommitted:
		return "committed"
	case CreateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ExtractState is the lifecycle of an extract/list session.
type ExtractState int

const (
	ExtractOpened ExtractState = iota
	ExtractFooterVerified
	ExtractIndexLoaded
	ExtractShardsInFlight
	ExtractDone
	ExtractFailed
)

func (s ExtractState) String() string {
	switch s {
	case ExtractOpened:
		return "opened"
	case ExtractFooterVerified:
		return "footer_verified"
	case ExtractIndexLoaded:
		return "index_loaded"
	case ExtractShardsInFlight:
		return "shards_in_flight"
	case ExtractDone:
		return "done"
	case ExtractFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// transitionError reports an attempt to advance a session state machine out
// of order; it should never occur in normal operation and indicates an
// orchestration bug.
type transitionError struct {
	From, To fmt.Stringer
}

func (e *transitionError) Error() string {
	return fmt.Sprintf("invalid session transition: %s -> %s", e.From, e.To)
}

// CreateMachine tracks and validates a create session's forward progress.
type CreateMachine struct {
	state CreateState
}

// NewCreateMachine returns a machine positioned at CreateDraft.
func NewCreateMachine() *CreateMachine { return &CreateMachine{state: CreateDraft} }

// State returns the current state.
func (m *CreateMachine) State() CreateState { return m.state }

// Advance moves the machine to next, rejecting any transition that skips a
// stage or moves backward (except into CreateFailed, which is reachable from
// any state).
func (m *CreateMachine) Advance(next CreateState) error {
	if next == CreateFailed {
		m.state = CreateFailed
		return nil
	}
	if next != m.state+1 {
		return &transitionError{From: stringerState(m.state), To: stringerState(next)}
	}
	m.state = next
	return nil
}

// ExtractMachine tracks and validates an extract/list session's forward
// progress.
type ExtractMachine struct {
	state ExtractState
}

// NewExtractMachine returns a machine positioned at ExtractOpened.
func NewExtractMachine() *ExtractMachine { return &ExtractMachine{state: ExtractOpened} }

// State returns the current state.
func (m *ExtractMachine) State() ExtractState { return m.state }

// Advance moves the machine to next, with the same forward-only semantics
// as CreateMachine.Advance.
func (m *ExtractMachine) Advance(next ExtractState) error {
	if next == ExtractFailed {
		m.state = ExtractFailed
		return nil
	}
	if next != m.state+1 {
		return &transitionError{From: stringerState2(m.state), To: stringerState2(next)}
	}
	m.state = next
	return nil
}

type stringerState CreateState

func (s stringerState) String() string { return CreateState(s).String() }

type stringerState2 ExtractState

func (s stringerState2) String() string { return ExtractState(s).String() }
