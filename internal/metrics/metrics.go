// Package metrics exposes the orchestrator's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles all collectors so wiring stays explicit and tests
// can use an isolated registry.
type Metrics struct {
	InvoicesByState    *prometheus.GaugeVec
	Transitions        *prometheus.CounterVec
	ProcessingDuration *prometheus.HistogramVec
	BusDeliveries      *prometheus.CounterVec
	BusDeadLetters     prometheus.Counter
	SLABreaches        *prometheus.CounterVec
	Escalations        *prometheus.CounterVec
	DuplicatesFlagged  prometheus.Counter
	AutoApprovals      prometheus.Counter
}

// New creates and registers all collectors on the given registerer
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InvoicesByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "invoice_orchestrator",
			Name:      "invoices_by_state",
			Help:      "Number of invoices currently in each workflow state",
		}, []string{"tenant", "state"}),

		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invoice_orchestrator",
			Name:      "workflow_transitions_total",
			Help:      "Workflow transitions by action and outcome",
		}, []string{"action", "outcome"}),

		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "invoice_orchestrator",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each processing stage",
			Buckets:   prometheus.ExponentialBuckets(0.1, 3, 10),
		}, []string{"stage"}),

		BusDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invoice_orchestrator",
			Name:      "bus_deliveries_total",
			Help:      "Event bus deliveries by event type and outcome",
		}, []string{"event_type", "outcome"}),

		BusDeadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "invoice_orchestrator",
			Name:      "bus_dead_letters_total",
			Help:      "Messages parked on the dead letter queue",
		}),

		SLABreaches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invoice_orchestrator",
			Name:      "sla_breaches_total",
			Help:      "SLA deadline breaches by stage",
		}, []string{"stage"}),

		Escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "invoice_orchestrator",
			Name:      "sla_escalations_total",
			Help:      "Escalation actions fired by level",
		}, []string{"level"}),

		DuplicatesFlagged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "invoice_orchestrator",
			Name:      "duplicates_flagged_total",
			Help:      "Invoices flagged as suspected duplicates",
		}),

		AutoApprovals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "invoice_orchestrator",
			Name:      "auto_approvals_total",
			Help:      "Invoices approved without human review",
		}),
	}

	reg.MustRegister(
		m.InvoicesByState,
		m.Transitions,
		m.ProcessingDuration,
		m.BusDeliveries,
		m.BusDeadLetters,
		m.SLABreaches,
		m.Escalations,
		m.DuplicatesFlagged,
		m.AutoApprovals,
	)
	return m
}

// NewNop returns collectors backed by a throwaway registry, for tests
// and callers that do not scrape.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
