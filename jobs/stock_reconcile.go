package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tradeledger/tradeledger/internal/inventory"
	jobmetrics "github.com/tradeledger/tradeledger/internal/jobs"
)

// DriftSource reports stock items whose quantity disagrees with bill history.
type DriftSource interface {
	Drifts(ctx context.Context) ([]inventory.Drift, error)
}

// StockReconcileJob logs drift between stock quantities and the bills that
// moved them. It never rewrites quantities.
type StockReconcileJob struct {
	Source  DriftSource
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewStockReconcileJob initialises the reconciliation handler.
func NewStockReconcileJob(source DriftSource, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockReconcileJob {
	return &StockReconcileJob{
		Source:  source,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one reconciliation pass.
func (j *StockReconcileJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Source == nil {
		return errors.New("stock reconcile: handler not configured")
	}
	var payload StockReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := j.now()
	tracker := j.Metrics.Track(TaskStockReconcile)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("reason", payload.Reason))
	logger.Info("starting stock reconcile")

	drifts, err := j.Source.Drifts(ctx)
	if err != nil {
		logger.Error("drift query failed", slog.Any("error", err))
		return err
	}
	for _, d := range drifts {
		logger.Warn("stock drift detected",
			slog.Int64("stock_id", d.StockID),
			slog.String("name", d.Name),
			slog.Int64("expected", d.Expected),
			slog.Int64("actual", d.Actual),
			slog.Int64("delta", d.Delta()),
		)
	}
	j.Metrics.SetStockDrift(len(drifts))

	logger.Info("completed stock reconcile",
		slog.Int("drifted", len(drifts)),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return nil
}

func (j *StockReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *StockReconcileJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
