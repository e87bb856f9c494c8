package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDocumentFollowUp re-checks a sale whose documents were still pending
	// when the register stopped watching it.
	TaskDocumentFollowUp = "pos:document_followup"
)

// DocumentFollowUpPayload identifies the sale and the tenant it belongs to.
type DocumentFollowUpPayload struct {
	SaleID      string    `json:"sale_id"`
	CompanyID   string    `json:"company_id"`
	SiteID      string    `json:"site_id"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// NewDocumentFollowUpTask constructs an Asynq task.
func NewDocumentFollowUpTask(payload DocumentFollowUpPayload) (*asynq.Task, error) {
	if payload.SaleID == "" {
		return nil, errors.New("jobs: sale id required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDocumentFollowUp, data), nil
}
