// Package migration moves a generated project between stages through an
// explicit, persisted state machine with snapshot-based rollback.
package migration

import (
	"errors"
	"fmt"
	"time"

	"github.com/vibebiz/premium/internal/divergence"
)

// State is a migration lifecycle state.
type State string

const (
	StatePlanning         State = "PLANNING"
	StateAnalyzed         State = "ANALYZED"
	StateConfirmed        State = "CONFIRMED"
	StateExecuting        State = "EXECUTING"
	StateCompleted        State = "COMPLETED"
	StateFailedRolledBack State = "FAILED_ROLLED_BACK"
	StateAborted          State = "ABORTED"
)

var transitions = map[State][]State{
	StatePlanning:  {StateAnalyzed, StateAborted},
	StateAnalyzed:  {StateConfirmed, StateAborted},
	StateConfirmed: {StateExecuting},
	StateExecuting: {StateCompleted, StateFailedRolledBack},
}

// IsTerminal reports whether no further transitions are possible.
func (s State) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether s may move to next.
func (s State) CanTransition(next State) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

var (
	// ErrReportRequired is returned when analysis is recorded without a report.
	ErrReportRequired = errors.New("a divergence report is required to complete analysis")
	// ErrAcknowledgementRequired is returned when confirming a migration that
	// would touch modified files without operator acknowledgement.
	ErrAcknowledgementRequired = errors.New("modified files detected; acknowledge them to confirm the migration")
	// ErrMigrationActive is returned when planning while another migration is unfinished.
	ErrMigrationActive = errors.New("another migration is already in progress for this project")
	// ErrNoSteps is returned when executing a migration with no steps.
	ErrNoSteps = errors.New("migration has no steps")
	// ErrMigrationNotFound indicates a migration id with no stored record.
	ErrMigrationNotFound = errors.New("migration not found")
)

// TransitionError reports a state change the lifecycle does not allow.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move migration from %s to %s", e.From, e.To)
}

// StepError reports the step that failed during execution and the outcome
// of the rollback that followed.
type StepError struct {
	Step        string
	Err         error
	RollbackErr error
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("migration step %q failed: %v; project restored to its pre-migration snapshot", e.Step, e.Err)
	if e.RollbackErr != nil {
		msg = fmt.Sprintf("migration step %q failed: %v; rollback incomplete: %v", e.Step, e.Err, e.RollbackErr)
	}
	return msg
}

func (e *StepError) Unwrap() error { return e.Err }

// Transition is one recorded state change.
type Transition struct {
	From State     `yaml:"from" json:"from"`
	To   State     `yaml:"to" json:"to"`
	At   time.Time `yaml:"at" json:"at"`
	Note string    `yaml:"note,omitempty" json:"note,omitempty"`
}

// Migration is the persisted record of one stage migration.
type Migration struct {
	ID           string             `yaml:"id" json:"id"`
	ProjectID    string             `yaml:"project_id" json:"project_id"`
	FromStage    string             `yaml:"from_stage" json:"from_stage"`
	ToStage      string             `yaml:"to_stage" json:"to_stage"`
	State        State              `yaml:"state" json:"state"`
	Report       *divergence.Report `yaml:"report,omitempty" json:"report,omitempty"`
	Acknowledged bool               `yaml:"acknowledged" json:"acknowledged"`
	Steps        []string           `yaml:"steps,omitempty" json:"steps,omitempty"`
	FailedStep   string             `yaml:"failed_step,omitempty" json:"failed_step,omitempty"`
	Error        string             `yaml:"error,omitempty" json:"error,omitempty"`
	// RollbackIncomplete is set when a snapshot could not be fully restored.
	RollbackIncomplete bool         `yaml:"rollback_incomplete,omitempty" json:"rollback_incomplete,omitempty"`
	History            []Transition `yaml:"history" json:"history"`
	CreatedAt          time.Time    `yaml:"created_at" json:"created_at"`
	UpdatedAt          time.Time    `yaml:"updated_at" json:"updated_at"`
}

func (m *Migration) transition(to State, at time.Time, note string) error {
	if !m.State.CanTransition(to) {
		return &TransitionError{From: m.State, To: to}
	}
	m.History = append(m.History, Transition{From: m.State, To: to, At: at, Note: note})
	m.State = to
	m.UpdatedAt = at
	return nil
}
