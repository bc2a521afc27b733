// Package sender implements the delivery worker: it claims pending
// messages, pushes them through the email provider, and records the
// outcome. It never renders or routes anything; messages arrive fully
// rendered with their recipients frozen.
package sender

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"lightalert/internal/external"
	"lightalert/internal/types"
)

// MessageQueue is the claim side of the messages table. Failure recording
// stays here too: a failed attempt touches only the message row.
type MessageQueue interface {
	ClaimPending(ctx context.Context, limit, maxAttempts int) ([]*types.Message, error)
	MarkFailed(ctx context.Context, id int64, lastError string, exhausted bool) (bool, error)
	ReleaseAbandoned(ctx context.Context, claimedBefore time.Time) (int64, error)
}

// SentAckStore is the transactional message acknowledgment surface.
type SentAckStore interface {
	MarkSent(ctx context.Context, id int64, providerMessageID string) (bool, error)
}

// AlertMarker flips alerts to Enviada once their message is delivered.
type AlertMarker interface {
	MarkSentByMessage(ctx context.Context, messageID int64) error
}

// TxManager abstracts transactional execution for the Worker. The callback
// receives transaction-scoped stores, so the message acknowledgment and the
// alert state change commit or roll back together. That single transaction
// is what keeps a delivered message from stranding its alerts in Pendiente.
type TxManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, messages SentAckStore, alerts AlertMarker) error) error
}

// Worker drains the message queue. Multiple workers may run concurrently
// against the same database; the claim query keeps them from colliding.
type Worker struct {
	queue    MessageQueue
	sentTx   TxManager
	provider external.EmailProvider

	fromAddress    string
	fromName       string
	maxAttempts    int
	claimBatch     int
	abandonedAfter time.Duration
	concurrency    int

	clock  types.Clock
	logger *slog.Logger
}

// WorkerConfig holds the dependencies and tuning for creating a Worker.
type WorkerConfig struct {
	Queue    MessageQueue
	SentTx   TxManager
	Provider external.EmailProvider

	FromAddress    string
	FromName       string
	MaxAttempts    int
	ClaimBatch     int
	AbandonedAfter time.Duration
	Concurrency    int

	Clock  types.Clock
	Logger *slog.Logger
}

// NewWorker creates a Worker. Zero tuning values fall back to safe
// defaults; nil Clock and Logger fall back to RealClock and slog.Default.
func NewWorker(cfg WorkerConfig) *Worker {
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	claimBatch := cfg.ClaimBatch
	if claimBatch <= 0 {
		claimBatch = 20
	}
	abandonedAfter := cfg.AbandonedAfter
	if abandonedAfter <= 0 {
		abandonedAfter = 15 * time.Minute
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Worker{
		queue:          cfg.Queue,
		sentTx:         cfg.SentTx,
		provider:       cfg.Provider,
		fromAddress:    cfg.FromAddress,
		fromName:       cfg.FromName,
		maxAttempts:    maxAttempts,
		claimBatch:     claimBatch,
		abandonedAfter: abandonedAfter,
		concurrency:    concurrency,
		clock:          clock,
		logger:         logger,
	}
}

// RunOnce executes one delivery pass: sweep abandoned claims back to
// Pendiente, claim a batch, and send the claimed messages with bounded
// parallelism. Per-message failures are recorded, not propagated; the
// returned error covers only claim/sweep infrastructure failures.
func (w *Worker) RunOnce(ctx context.Context) (*types.SendReport, error) {
	cutoff := w.clock.Now().Add(-w.abandonedAfter)
	released, err := w.queue.ReleaseAbandoned(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	if released > 0 {
		w.logger.Warn("released abandoned messages back to queue", "count", released)
	}

	claimed, err := w.queue.ClaimPending(ctx, w.claimBatch, w.maxAttempts)
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		return &types.SendReport{}, nil
	}

	var sent, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.concurrency)
	for _, msg := range claimed {
		msg := msg
		g.Go(func() error {
			if w.sendOne(gctx, msg) {
				sent.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := &types.SendReport{Sent: int(sent.Load()), Failed: int(failed.Load())}
	w.logger.Info("send pass finished", "claimed", len(claimed), "sent", report.Sent, "failed", report.Failed)
	return report, nil
}

// sendOne delivers a single claimed message and records the outcome.
// Returns true when the provider accepted the message.
func (w *Worker) sendOne(ctx context.Context, msg *types.Message) bool {
	providerID, err := w.provider.Send(ctx, external.SendInput{
		FromAddress: w.fromAddress,
		FromName:    w.fromName,
		To:          msg.Recipients,
		CC:          msg.RecipientsCC,
		Subject:     msg.Subject,
		BodyHTML:    msg.BodyHTML,
		BodyText:    msg.BodyText,
		ReferenceID: fmt.Sprintf("msg-%d", msg.ID),
	})
	if err != nil {
		// Attempts was already incremented by the claim.
		exhausted := msg.Attempts >= w.maxAttempts
		w.logger.Error("message delivery failed",
			"message_id", msg.ID,
			"attempt", msg.Attempts,
			"exhausted", exhausted,
			"error", err,
		)
		if _, markErr := w.queue.MarkFailed(ctx, msg.ID, err.Error(), exhausted); markErr != nil {
			w.logger.Error("failed to record delivery failure", "message_id", msg.ID, "error", markErr)
		}
		return false
	}

	// The message ack and the alert state change land in one transaction.
	// If marking the alerts fails the ack rolls back too, so the message
	// stays claimed and the next sweep retries the whole acknowledgment.
	var acked bool
	err = w.sentTx.RunInTx(ctx, func(ctx context.Context, messages SentAckStore, alerts AlertMarker) error {
		ok, err := messages.MarkSent(ctx, msg.ID, providerID)
		if err != nil {
			return err
		}
		acked = ok
		if !ok {
			return nil
		}
		return alerts.MarkSentByMessage(ctx, msg.ID)
	})
	if err != nil {
		w.logger.Error("failed to record delivery success", "message_id", msg.ID, "error", err)
		return false
	}
	if !acked {
		// The claim was swept while the send was in flight. The email went
		// out; a second copy may follow from the requeued message. Logged
		// loudly because it means AbandonedAfter is too short for real
		// provider latency.
		w.logger.Warn("sent message lost its claim before ack", "message_id", msg.ID)
		return true
	}

	w.logger.Info("message delivered",
		"message_id", msg.ID,
		"provider_message_id", providerID,
		"recipients", len(msg.Recipients),
	)
	return true
}
