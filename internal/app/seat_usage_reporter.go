package app

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/openctemio/membership/internal/metrics"
	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
	"github.com/openctemio/membership/pkg/logger"
)

// SeatUsageReporter publishes purchased and occupied seats of every
// organization as gauges.
type SeatUsageReporter struct {
	orgs        organization.Repository
	memberships organization.MembershipRepository
	timeout     time.Duration
	logger      *logger.Logger
}

// NewSeatUsageReporter creates a new SeatUsageReporter. timeout bounds one scheduled run.
func NewSeatUsageReporter(orgs organization.Repository, memberships organization.MembershipRepository, timeout time.Duration, log *logger.Logger) *SeatUsageReporter {
	return &SeatUsageReporter{
		orgs:        orgs,
		memberships: memberships,
		timeout:     timeout,
		logger:      log.With("service", "seat_usage_reporter"),
	}
}

// Schedule registers the reporter on c with a standard five field cron spec.
func (r *SeatUsageReporter) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(spec); err != nil {
		return 0, fmt.Errorf("%w: invalid seat usage schedule %q: %v", shared.ErrValidation, spec, err)
	}
	return c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.Report(ctx); err != nil {
			r.logger.Error("seat usage report failed", "error", err)
		}
	})
}

// Report scans every organization once. An organization that fails to load
// is skipped; the scan continues.
func (r *SeatUsageReporter) Report(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.SeatUsageReportDuration.Observe(time.Since(start).Seconds())
	}()

	ids, err := r.orgs.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list organizations: %w", err)
	}

	var failed int
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.reportOne(ctx, id); err != nil {
			failed++
			r.logger.Warn("failed to report seat usage", "organization_id", id.String(), "error", err)
		}
	}

	r.logger.Info("seat usage reported", "organizations", len(ids), "failed", failed)
	return nil
}

func (r *SeatUsageReporter) reportOne(ctx context.Context, id shared.ID) error {
	org, err := r.orgs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	occupied, err := r.memberships.CountOccupiedSeats(ctx, id)
	if err != nil {
		return err
	}

	orgID := id.String()
	set := func(kind, measure string, v *int) {
		if v != nil {
			metrics.OrganizationSeats.WithLabelValues(orgID, kind, measure).Set(float64(*v))
		}
	}
	set("password_manager", "purchased", org.Seats())
	set("password_manager", "max_autoscale", org.MaxAutoscaleSeats())
	set("password_manager", "occupied", &occupied.PasswordManager)
	if org.UseSecretsManager() {
		set("secrets_manager", "purchased", org.SmSeats())
		set("secrets_manager", "max_autoscale", org.MaxAutoscaleSmSeats())
		set("secrets_manager", "occupied", &occupied.SecretsManager)
	}
	r.logger.Debug("seat usage", "organization_id", orgID, "occupied", occupied.PasswordManager)
	return nil
}
