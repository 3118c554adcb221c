package domain

import "time"

// tokenPrefix namespaces trigger tokens so they can share a keyspace with
// other hook kinds.
const tokenPrefix = "signals:"

// TriggerToken derives the stable dedup token for a recipient.
func TriggerToken(recipientID string) string {
	return tokenPrefix + recipientID
}

// TriggerRecord tracks one dispatched unit of work. Nonce distinguishes two
// successive dispatches to the same recipient so that removal is exact.
type TriggerRecord struct {
	Token       string    `json:"token"`
	RecipientID string    `json:"recipient_id"`
	SignalID    string    `json:"signal_id"`
	Nonce       string    `json:"nonce"`
	StartedAt   time.Time `json:"started_at"`
}

// TriggerRequest is the payload sent to the external start-work endpoint.
type TriggerRequest struct {
	Token       string `json:"token"`
	RecipientID string `json:"recipient_id"`
	Signal      Signal `json:"signal"`
}

// DispatchOutcome is the per-recipient result of a dispatch.
type DispatchOutcome string

const (
	OutcomeStarted        DispatchOutcome = "started"
	OutcomeAlreadyRunning DispatchOutcome = "already_running"
	OutcomeFailed         DispatchOutcome = "failed"
)

// RecipientResult records what happened to one recipient in a dispatch.
type RecipientResult struct {
	RecipientID string          `json:"recipient_id"`
	Token       string          `json:"token"`
	Outcome     DispatchOutcome `json:"outcome"`
	Error       string          `json:"error,omitempty"`
}

// DispatchResult aggregates a batch dispatch. It always reports counts; a
// partial failure is never surfaced as an error.
type DispatchResult struct {
	SignalID       string            `json:"signal_id"`
	Ticker         string            `json:"ticker"`
	Started        int               `json:"started"`
	AlreadyRunning int               `json:"already_running"`
	Failed         int               `json:"failed"`
	Results        []RecipientResult `json:"results"`
}

// PollStatus is the state of a trigger as observed by the completion poller.
type PollStatus string

const (
	PollRunning   PollStatus = "running"
	PollCompleted PollStatus = "completed"
	PollFailed    PollStatus = "failed"
	PollNotFound  PollStatus = "not_found"
)

// Terminal reports whether the status ends a trigger's lifecycle.
func (s PollStatus) Terminal() bool {
	return s == PollCompleted || s == PollFailed
}

// PollResult is the outcome of a single poll.
type PollResult struct {
	Token       string        `json:"token"`
	RecipientID string        `json:"recipient_id,omitempty"`
	Status      PollStatus    `json:"status"`
	Reason      string        `json:"reason,omitempty"`
	StartedAt   time.Time     `json:"started_at,omitzero"`
	Elapsed     time.Duration `json:"elapsed_ns,omitempty"`
}
