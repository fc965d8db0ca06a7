package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/opsdeck/opsdeck/internal/audit"
	jobmetrics "github.com/opsdeck/opsdeck/internal/jobs"
	"github.com/opsdeck/opsdeck/internal/tickets"
)

// TicketSweeper is the slice of the ticket service the SLA sweep needs.
type TicketSweeper interface {
	ListOverdue(ctx context.Context) ([]tickets.Ticket, error)
	MarkSLABreached(ctx context.Context, id int64) ([]audit.Record, error)
}

// SLAScanJob walks overdue tickets and marks each breach. Every mark
// runs in its own transaction so one failing ticket never blocks the
// rest of the sweep.
type SLAScanJob struct {
	Tickets TicketSweeper
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSLAScanJob initialises the SLA sweep handler.
func NewSLAScanJob(sweeper TicketSweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *SLAScanJob {
	return &SLAScanJob{
		Tickets: sweeper,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one SLA sweep.
func (j *SLAScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Tickets == nil {
		return errors.New("sla scan: handler not configured")
	}
	var payload SLAScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	tracker := j.metrics().Track(TaskSLAScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting sla sweep")

	overdue, err := j.Tickets.ListOverdue(ctx)
	if err != nil {
		resultErr = err
		logger.Error("sweep failed", slog.Any("error", err))
		return resultErr
	}
	if payload.Limit > 0 && len(overdue) > payload.Limit {
		overdue = overdue[:payload.Limit]
	}

	var marked, escalated, failed int
	for _, ticket := range overdue {
		records, err := j.Tickets.MarkSLABreached(ctx, ticket.ID)
		if err != nil {
			failed++
			logger.Error("mark breach failed",
				slog.Int64("ticket_id", ticket.ID),
				slog.Any("error", err),
			)
			continue
		}
		marked++
		j.metrics().AddBreaches(string(ticket.Priority), 1)
		if len(records) > 1 {
			escalated++
		}
		logger.Warn("sla breached",
			slog.Int64("ticket_id", ticket.ID),
			slog.String("priority", string(ticket.Priority)),
			slog.Int("audit_records", len(records)),
		)
	}

	logger.Info("completed sla sweep",
		slog.Int("overdue", len(overdue)),
		slog.Int("marked", marked),
		slog.Int("escalated", escalated),
		slog.Int("failed", failed),
		slog.Duration("duration", time.Since(start)),
	)
	if failed > 0 && marked == 0 {
		resultErr = errors.New("sla scan: every mark failed")
	}
	return resultErr
}

func (j *SLAScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *SLAScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSLAScan))
	}
	return slog.Default().With(slog.String("job", TaskSLAScan))
}

func (j *SLAScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
