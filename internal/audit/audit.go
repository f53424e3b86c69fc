// Package audit records what the engine did with each question: the SQL it
// produced, how it ran, and changes to the training data.
package audit

import "time"

// Action describes what was done.
type Action string

const (
	ActionSQLGenerated     Action = "sql_generated"
	ActionExactMatch       Action = "exact_match"
	ActionSQLExecuted      Action = "sql_executed"
	ActionSQLCorrected     Action = "sql_corrected"
	ActionExecutionFailed  Action = "execution_failed"
	ActionTrainingAdded    Action = "training_added"
	ActionTrainingRemoved  Action = "training_removed"
	ActionCollectionReset  Action = "collection_reset"
	ActionInjectionFlagged Action = "injection_flagged"
)

// Entry is a single audit trail record.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Action    Action    `json:"action"`
	Question  string    `json:"question,omitempty"`
	SQL       string    `json:"sql,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Attempts  int       `json:"attempts"`
	Success   bool      `json:"success"`
}
