package jobs

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskStockReconcile compares on-hand quantities against bill history.
	TaskStockReconcile = "stock:reconcile"
	// TaskIdempotencyCleanup prunes expired submission keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// StockReconcilePayload records why a reconciliation was requested.
type StockReconcilePayload struct {
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewStockReconcileTask constructs a reconciliation task. An empty reason is
// recorded as "scheduled".
func NewStockReconcileTask(reason string, at time.Time) (*asynq.Task, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "scheduled"
	}
	body, err := json.Marshal(StockReconcilePayload{Reason: reason, RequestedAt: at.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskStockReconcile, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// IdempotencyCleanupPayload configures key retention.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs a cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
