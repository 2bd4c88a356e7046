package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Invitation metrics
var (
	// InvitesTotal tracks invite outcomes per email: created, skipped (already known) or failed.
	InvitesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_invites_total",
			Help: "Total number of invited emails by outcome",
		},
		[]string{"outcome"},
	)

	// InviteBatchDuration tracks InviteMany latency
	InviteBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "membership_invite_batch_duration_seconds",
			Help:    "Invite batch processing duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)
)

// Membership transition metrics
var (
	// TransitionsTotal tracks status transitions by kind and result
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_transitions_total",
			Help: "Total number of membership transitions by kind and result",
		},
		[]string{"transition", "result"},
	)

	// PolicyViolationsTotal tracks transitions blocked by organization policies
	PolicyViolationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_policy_violations_total",
			Help: "Total number of transitions blocked by a policy",
		},
		[]string{"policy"},
	)

	// KeySyncPushesTotal tracks key-sync push notifications
	KeySyncPushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_key_sync_pushes_total",
			Help: "Total number of organization key sync pushes by result",
		},
		[]string{"result"},
	)
)

// Seat metrics
var (
	// SeatAutoscaleTotal tracks subscription seat updates
	SeatAutoscaleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seat_autoscale_total",
			Help: "Total number of seat subscription updates by operation and result",
		},
		[]string{"operation", "result"},
	)

	// SeatsAutoscaled tracks the number of seats added by autoscaling
	SeatsAutoscaled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "seats_autoscaled_total",
			Help: "Total number of seats added by autoscaling",
		},
		[]string{"seat_kind"},
	)

	// CompensationsTotal tracks invite batch rollbacks
	CompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_compensations_total",
			Help: "Total number of invite batch compensations by result",
		},
		[]string{"result"},
	)

	// OrganizationSeats tracks seat usage per organization
	OrganizationSeats = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "organization_seats",
			Help: "Seats of an organization by seat kind and measure (purchased, occupied, max_autoscale)",
		},
		[]string{"organization_id", "seat_kind", "measure"},
	)

	// SeatUsageReportDuration tracks the scheduled seat usage scan
	SeatUsageReportDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "seat_usage_report_duration_seconds",
			Help:    "Seat usage report duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)
)

// Email metrics
var (
	// EmailTasksTotal tracks processed email tasks
	EmailTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "membership_email_tasks_total",
			Help: "Total number of email tasks by type and result",
		},
		[]string{"task", "result"},
	)
)

// Result label values
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)
