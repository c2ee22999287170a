package apply

import (
	"fmt"
	"time"
)

// State is the position of a transaction in the apply state machine:
//
//	Pending -> Written -> Validated -> Committed
//	Pending -> Written -> Failed -> RolledBack
type State int

const (
	StatePending State = iota
	StateWritten
	StateValidated
	StateCommitted
	StateFailed
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateWritten:
		return "written"
	case StateValidated:
		return "validated"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	case StateRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var transitions = map[State][]State{
	StatePending:   {StateWritten},
	StateWritten:   {StateValidated, StateFailed},
	StateValidated: {StateCommitted, StateFailed},
	StateFailed:    {StateRolledBack},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition records one state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

// Transaction is one write-validate-activate cycle against a target file.
// It owns BackupPath for its lifetime and deletes it on commit and after
// rollback.
type Transaction struct {
	ID         string
	TargetPath string
	Content    []byte
	// Remove is set when the transaction deletes the target instead of
	// writing Content.
	Remove     bool
	BackupPath string
	State      State
	History    []Transition

	previous []byte
	existed  bool
	// createdDirs are the parent directories the write had to create,
	// deepest first. Rolling back a new file removes them again.
	createdDirs []string
}

// HadPrevious reports whether the target existed before the transaction.
func (t *Transaction) HadPrevious() bool {
	return t.existed
}

func (t *Transaction) moveTo(to State, at time.Time) error {
	if !CanTransition(t.State, to) {
		return fmt.Errorf("illegal transition %s -> %s", t.State, to)
	}
	t.History = append(t.History, Transition{From: t.State, To: to, At: at})
	t.State = to
	return nil
}
