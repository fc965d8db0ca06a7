package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSLAScan is the task type for the periodic SLA deadline sweep.
	TaskSLAScan = "tickets:sla_scan"
)

// SLAScanPayload tunes a single SLA sweep. The zero value scans every
// overdue ticket.
type SLAScanPayload struct {
	// Limit caps how many tickets a single sweep marks. Zero means no cap.
	Limit int `json:"limit,omitempty"`
}

// NewSLAScanTask constructs an Asynq task for an SLA sweep.
func NewSLAScanTask(payload SLAScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSLAScan, data), nil
}
