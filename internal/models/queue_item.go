package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// OperationType is the kind of calendar operation a queue item replays.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// Valid reports whether t is one of the replayable operation types.
func (t OperationType) Valid() bool {
	switch t {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	default:
		return false
	}
}

// Operation is a request to perform work against the ride calendar.
// It becomes a QueueItem once accepted by the retry queue.
type Operation struct {
	Type       OperationType   `json:"type"`
	CalendarID string          `json:"calendarId,omitempty"`
	RideURL    string          `json:"rideUrl"`
	RideTitle  string          `json:"rideTitle,omitempty"`
	RowNum     int             `json:"rowNum,omitempty"`
	UserEmail  string          `json:"userEmail,omitempty"`
	Params     json.RawMessage `json:"params,omitempty"`
}

// QueueItem is one pending asynchronous operation.
type QueueItem struct {
	ID           string          `json:"id"`
	Type         OperationType   `json:"type"`
	CalendarID   string          `json:"calendarId,omitempty"`
	RideURL      string          `json:"rideUrl"`
	RideTitle    string          `json:"rideTitle,omitempty"`
	RowNum       int             `json:"rowNum,omitempty"`
	UserEmail    string          `json:"userEmail,omitempty"`
	Params       json.RawMessage `json:"params,omitempty"`
	EnqueuedAt   time.Time       `json:"enqueuedAt"`
	AttemptCount int             `json:"attemptCount"`
	NextRetryAt  *time.Time      `json:"nextRetryAt"`
	LastError    string          `json:"lastError,omitempty"`
}

// Clone returns a deep copy of the item; the copy shares no memory with i.
func (i QueueItem) Clone() QueueItem {
	out := i
	if i.Params != nil {
		out.Params = bytes.Clone(i.Params)
	}
	if i.NextRetryAt != nil {
		next := *i.NextRetryAt
		out.NextRetryAt = &next
	}
	return out
}

// Status is the derived lifecycle state of a queue item.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRetrying Status = "retrying"
	StatusFailed   Status = "failed"
)

// AgeBuckets counts items under cumulative age thresholds.
// An item younger than one hour counts in both LessThan1Hour and LessThan24Hours.
type AgeBuckets struct {
	LessThan1Hour   int `json:"lessThan1Hour"`
	LessThan24Hours int `json:"lessThan24Hours"`
	MoreThan24Hours int `json:"moreThan24Hours"`
}

// Statistics aggregates a queue snapshot for operators.
type Statistics struct {
	TotalItems int        `json:"totalItems"`
	DueNow     int        `json:"dueNow"`
	ByAge      AgeBuckets `json:"byAge"`
}

// DisplayItem is the operator-facing view of a queue item.
type DisplayItem struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	RideTitle    string `json:"rideTitle"`
	RowNum       string `json:"rowNum"`
	UserEmail    string `json:"userEmail"`
	AgeMinutes   int    `json:"ageMinutes"`
	AttemptCount int    `json:"attemptCount"`
	NextRetryAt  string `json:"nextRetryAt"`
	LastError    string `json:"lastError"`
	Status       Status `json:"status"`
}
