// Package jobs provides background job definitions and handlers using Asynq.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"

	"github.com/openctemio/membership/internal/metrics"
	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/logger"
)

// Task types for mail jobs
const (
	TypeMailInviteBatch = "mail:invite_batch"
	TypeMailSeatNotice  = "mail:seat_notice"
)

// QueueMail is the queue mail tasks are enqueued on.
const QueueMail = "mail"

const (
	defaultMaxRetry = 5
	mailTaskTimeout = 2 * time.Minute
)

// NewInviteBatchTask creates a task that sends one invite email batch.
func NewInviteBatchTask(batch organization.InviteEmailBatch, maxRetry int) (*asynq.Task, error) {
	data, err := json.Marshal(batch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invite batch payload: %w", err)
	}
	return asynq.NewTask(
		TypeMailInviteBatch,
		data,
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(mailTaskTimeout),
		asynq.Queue(QueueMail),
	), nil
}

// NewSeatNoticeTask creates a task that sends a seat notice to owners.
func NewSeatNoticeTask(notice organization.SeatNotice, maxRetry int) (*asynq.Task, error) {
	data, err := json.Marshal(notice)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal seat notice payload: %w", err)
	}
	return asynq.NewTask(
		TypeMailSeatNotice,
		data,
		asynq.MaxRetry(maxRetry),
		asynq.Timeout(mailTaskTimeout),
		asynq.Queue(QueueMail),
	), nil
}

// MailSender delivers the mail a task carries.
type MailSender interface {
	SendInviteEmails(ctx context.Context, batch organization.InviteEmailBatch) error
	SendSeatNotice(ctx context.Context, notice organization.SeatNotice) error
}

// MailTaskHandler handles mail task processing.
type MailTaskHandler struct {
	sender  MailSender
	limiter *rate.Limiter
	logger  *logger.Logger
}

// NewMailTaskHandler creates a new mail task handler. A nil limiter disables
// throttling.
func NewMailTaskHandler(sender MailSender, limiter *rate.Limiter, log *logger.Logger) *MailTaskHandler {
	return &MailTaskHandler{
		sender:  sender,
		limiter: limiter,
		logger:  log.With("handler", "mail_tasks"),
	}
}

// RegisterHandlers registers the mail handlers on the mux.
func (h *MailTaskHandler) RegisterHandlers(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeMailInviteBatch, h.HandleInviteBatch)
	mux.HandleFunc(TypeMailSeatNotice, h.HandleSeatNotice)
}

// HandleInviteBatch processes invite batch tasks.
func (h *MailTaskHandler) HandleInviteBatch(ctx context.Context, t *asynq.Task) error {
	var batch organization.InviteEmailBatch
	if err := json.Unmarshal(t.Payload(), &batch); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if len(batch.Invites) == 0 {
		return nil
	}

	h.logger.Info("processing invite batch",
		"organization_id", batch.OrganizationID.String(),
		"invites", len(batch.Invites),
	)

	if err := h.wait(ctx, len(batch.Invites)); err != nil {
		return err
	}
	if err := h.sender.SendInviteEmails(ctx, batch); err != nil {
		metrics.EmailTasksTotal.WithLabelValues(TypeMailInviteBatch, metrics.ResultFailure).Inc()
		h.logger.Error("failed to send invite batch",
			"organization_id", batch.OrganizationID.String(),
			"error", err,
		)
		return err
	}

	metrics.EmailTasksTotal.WithLabelValues(TypeMailInviteBatch, metrics.ResultSuccess).Inc()
	h.logger.Info("invite batch sent",
		"organization_id", batch.OrganizationID.String(),
		"invites", len(batch.Invites),
	)
	return nil
}

// HandleSeatNotice processes seat notice tasks.
func (h *MailTaskHandler) HandleSeatNotice(ctx context.Context, t *asynq.Task) error {
	var notice organization.SeatNotice
	if err := json.Unmarshal(t.Payload(), &notice); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if len(notice.Recipients) == 0 {
		return nil
	}

	if err := h.wait(ctx, len(notice.Recipients)); err != nil {
		return err
	}
	if err := h.sender.SendSeatNotice(ctx, notice); err != nil {
		metrics.EmailTasksTotal.WithLabelValues(TypeMailSeatNotice, metrics.ResultFailure).Inc()
		h.logger.Error("failed to send seat notice",
			"organization_id", notice.OrganizationID.String(),
			"kind", string(notice.Kind),
			"error", err,
		)
		return err
	}

	metrics.EmailTasksTotal.WithLabelValues(TypeMailSeatNotice, metrics.ResultSuccess).Inc()
	h.logger.Info("seat notice sent",
		"organization_id", notice.OrganizationID.String(),
		"kind", string(notice.Kind),
		"recipients", len(notice.Recipients),
	)
	return nil
}

// wait reserves n messages from the limiter, capped at its burst.
func (h *MailTaskHandler) wait(ctx context.Context, n int) error {
	if h.limiter == nil {
		return nil
	}
	if burst := h.limiter.Burst(); n > burst {
		n = burst
	}
	if err := h.limiter.WaitN(ctx, n); err != nil {
		return fmt.Errorf("mail rate limit: %w", err)
	}
	return nil
}
