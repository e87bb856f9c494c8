// Package cli holds operator helpers for the follow-up queue.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-pos/jobs"
)

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewJobsCLI initialises the CLI helpers against the given Redis.
func NewJobsCLI(redisOpts asynq.RedisClientOpt) (*JobsCLI, error) {
	client, err := jobs.NewClient(redisOpts, jobs.ClientConfig{})
	if err != nil {
		return nil, err
	}
	return &JobsCLI{client: client, inspector: asynq.NewInspector(redisOpts)}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// Schedule queues a document follow-up for a sale. The tenant headers are
// left empty, so the API falls back to the token's defaults.
func (c *JobsCLI) Schedule(ctx context.Context, saleID string) error {
	if c == nil || c.client == nil {
		return errors.New("jobs cli: client not configured")
	}
	return c.client.ScheduleDocumentFollowUp(ctx, saleID)
}

// RunNow moves a scheduled or retrying follow-up to the front of the queue.
func (c *JobsCLI) RunNow(saleID string) error {
	if c == nil || c.inspector == nil {
		return errors.New("jobs cli: inspector not configured")
	}
	return c.inspector.RunTask(jobs.QueueDefault, "followup:"+saleID)
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue() (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// ScheduledFollowUp is one waiting follow-up.
type ScheduledFollowUp struct {
	TaskID  string `json:"taskId"`
	SaleID  string `json:"saleId"`
	NextRun string `json:"nextRun"`
}

// ListScheduled returns the follow-ups waiting for their first run.
func (c *JobsCLI) ListScheduled(size int) ([]ScheduledFollowUp, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("jobs cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	tasks, err := c.inspector.ListScheduledTasks(jobs.QueueDefault, asynq.PageSize(size), asynq.Page(1))
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return []ScheduledFollowUp{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]ScheduledFollowUp, 0, len(tasks))
	for _, task := range tasks {
		if task.Type != jobs.TaskDocumentFollowUp {
			continue
		}
		var payload jobs.DocumentFollowUpPayload
		if err := json.Unmarshal(task.Payload, &payload); err != nil {
			continue
		}
		out = append(out, ScheduledFollowUp{
			TaskID:  task.ID,
			SaleID:  payload.SaleID,
			NextRun: task.NextProcessAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return out, nil
}

// RunJobs executes `jobs <command>` and returns the process exit code.
// Commands: stats, scheduled, schedule <saleID>, run <saleID>.
func RunJobs(ctx context.Context, redisOpts asynq.RedisClientOpt, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, "usage: jobs stats|scheduled|schedule <saleID>|run <saleID>")
		return 2
	}
	c, err := NewJobsCLI(redisOpts)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer c.Close()
	return c.run(ctx, args, stdout, stderr)
}

func (c *JobsCLI) run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var (
		result any
		err    error
	)
	switch args[0] {
	case "stats":
		result, err = c.InspectQueue()
	case "scheduled":
		result, err = c.ListScheduled(50)
	case "schedule", "run":
		if len(args) < 2 || args[1] == "" {
			fmt.Fprintf(stderr, "usage: jobs %s <saleID>\n", args[0])
			return 2
		}
		if args[0] == "schedule" {
			err = c.Schedule(ctx, args[1])
		} else {
			err = c.RunNow(args[1])
		}
		result = map[string]string{"saleId": args[1], "status": "ok"}
	default:
		fmt.Fprintf(stderr, "unknown jobs command %q\n", args[0])
		return 2
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
