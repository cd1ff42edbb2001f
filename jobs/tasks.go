package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskGLIntegrityScan verifies that every posted journal entry still
	// balances at the row level.
	TaskGLIntegrityScan = "ledger:integrity_scan"
	// TaskIdempotencyCleanup drops expired idempotency keys.
	TaskIdempotencyCleanup = "ledger:idempotency_cleanup"
)

// GLIntegrityScanPayload controls the scope of an integrity scan.
type GLIntegrityScanPayload struct {
	// FiscalYear limits the scan to one year; zero scans everything.
	FiscalYear int `json:"fiscal_year,omitempty"`
}

// NewGLIntegrityScanTask constructs an Asynq task.
func NewGLIntegrityScanTask(payload GLIntegrityScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskGLIntegrityScan, data), nil
}

// IdempotencyCleanupPayload controls the retention window of the cleanup.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

// NewIdempotencyCleanupTask constructs an Asynq task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data), nil
}
