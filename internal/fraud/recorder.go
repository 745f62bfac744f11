// Package fraud implements the append-only fraud-signal sink.
package fraud

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"rollcall/internal/attendance"
	"rollcall/internal/metrics"
	"rollcall/internal/queue"
)

// MessageType tags fraud-signal notifications on the queue.
const MessageType = "fraud_signal"

// Store is the slice of persistence the recorder needs.
type Store interface {
	InsertSignal(ctx context.Context, sig attendance.Signal) error
}

// Recorder persists fraud signals best-effort. Record returns nothing: a
// failed write is logged and dropped, and must never change the outcome of
// the submission that produced the signal. This trades completeness of the
// fraud trail for availability of the attendance path.
type Recorder struct {
	store Store
	q     queue.Queue
	log   *slog.Logger
}

// NewRecorder creates a recorder; q may be nil when no queue is wired.
func NewRecorder(store Store, q queue.Queue, log *slog.Logger) *Recorder {
	return &Recorder{store: store, q: q, log: log}
}

// Record appends one signal.
func (r *Recorder) Record(ctx context.Context, sig attendance.Signal) {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = time.Now().UTC()
	}
	metrics.FraudSignals.WithLabelValues(string(sig.Type)).Inc()

	if err := r.store.InsertSignal(ctx, sig); err != nil {
		r.log.Error("fraud signal write failed",
			"error", err, "type", sig.Type, "session_id", sig.SessionID)
	}

	if r.q == nil {
		return
	}
	body, err := json.Marshal(sig)
	if err != nil {
		return
	}
	if err := r.q.Publish(ctx, queue.Message{Type: MessageType, Body: body}); err != nil {
		r.log.Warn("fraud signal publish failed", "error", err, "type", sig.Type)
	}
}
