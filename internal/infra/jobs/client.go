package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/openctemio/membership/internal/config"
	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
	"github.com/openctemio/membership/pkg/logger"
)

// enqueuer is the part of asynq.Client the job client uses.
type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client enqueues mail jobs using Asynq. It satisfies the invitation
// service's mailer port, so sending an invite only queues the email.
type Client struct {
	client   enqueuer
	maxRetry int
	logger   *logger.Logger
}

// NewClient creates a new job client for enqueueing tasks.
func NewClient(cfg *config.RedisConfig, maxRetry int, log *logger.Logger) *Client {
	return newClient(asynq.NewClient(RedisOpt(cfg)), maxRetry, log)
}

func newClient(e enqueuer, maxRetry int, log *logger.Logger) *Client {
	if maxRetry <= 0 {
		maxRetry = defaultMaxRetry
	}
	return &Client{
		client:   e,
		maxRetry: maxRetry,
		logger:   log.With("component", "job_client"),
	}
}

// RedisOpt builds the Asynq connection options from the Redis config.
func RedisOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	}
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.client.Close()
}

// SendInviteEmails enqueues one task per invite so a failed delivery is
// retried alone. Tasks are keyed by membership; an invite that is already
// queued is not enqueued twice. Empty batches are dropped.
func (c *Client) SendInviteEmails(ctx context.Context, batch organization.InviteEmailBatch) error {
	if len(batch.Invites) == 0 {
		return nil
	}

	queued := 0
	for _, inv := range batch.Invites {
		single := batch
		single.Invites = []organization.InviteToken{inv}
		task, err := NewInviteBatchTask(single, c.maxRetry)
		if err != nil {
			return fmt.Errorf("failed to create task: %w", err)
		}

		_, err = c.client.EnqueueContext(ctx, task, asynq.TaskID(InviteTaskID(inv.MembershipID)))
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			c.logger.Debug("invite already queued", "membership_id", inv.MembershipID.String())
			continue
		}
		if err != nil {
			c.logger.Error("failed to enqueue invite",
				"organization_id", batch.OrganizationID.String(),
				"membership_id", inv.MembershipID.String(),
				"queued", queued,
				"error", err,
			)
			return fmt.Errorf("failed to enqueue task: %w", err)
		}
		queued++
	}

	c.logger.Info("invites queued",
		"organization_id", batch.OrganizationID.String(),
		"invites", queued,
		"queue", QueueMail,
	)
	return nil
}

// InviteTaskID is the task id of the invite mail for a membership.
func InviteTaskID(membershipID shared.ID) string {
	return "invite:" + membershipID.String()
}

// SendSeatNotice enqueues a seat notice. Notices without recipients are dropped.
func (c *Client) SendSeatNotice(ctx context.Context, notice organization.SeatNotice) error {
	if len(notice.Recipients) == 0 {
		return nil
	}
	task, err := NewSeatNoticeTask(notice, c.maxRetry)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx, task)
	if err != nil {
		c.logger.Error("failed to enqueue seat notice",
			"organization_id", notice.OrganizationID.String(),
			"kind", string(notice.Kind),
			"error", err,
		)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	c.logger.Info("seat notice queued",
		"task_id", info.ID,
		"organization_id", notice.OrganizationID.String(),
		"kind", string(notice.Kind),
		"queue", info.Queue,
	)
	return nil
}
