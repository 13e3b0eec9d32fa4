package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "ticketnotes"

const (
	NameTicketsAllocated       = "tickets_allocated_total"
	NameTicketAllocationErrors = "ticket_allocation_errors_total"
	NameIntegrityRejections    = "integrity_rejections_total"
	NameOwnerLookupFailures    = "owner_lookup_failures_total"
	NameRateLimited            = "rate_limited_total"
	NameRateLimitClients       = "rate_limit_clients"
)

// Label values for IntegrityRejections' "layer" label.
const (
	LayerGuard      = "guard"
	LayerConstraint = "constraint"
)

var TicketsAllocated = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name:      NameTicketsAllocated,
		Help:      "Sequence values handed out, by namespace",
		Namespace: Namespace,
	},
	[]string{"namespace"},
)

var TicketAllocationErrors = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name:      NameTicketAllocationErrors,
		Help:      "Failed sequence allocations, by namespace",
		Namespace: Namespace,
	},
	[]string{"namespace"},
)

// IntegrityRejections counts writes refused for breaking a uniqueness or
// referential rule. A rising "constraint" layer means the pre-checks are
// losing races.
var IntegrityRejections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name:      NameIntegrityRejections,
		Help:      "Writes rejected by integrity rules, by rule and enforcing layer",
		Namespace: Namespace,
	},
	[]string{"rule", "layer"},
)

var RateLimited = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name:      NameRateLimited,
		Help:      "Requests rejected by the per-client rate limiter, by path",
		Namespace: Namespace,
	},
	[]string{"path"},
)

// RateLimitClients is the number of client buckets the limiter holds.
var RateLimitClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name:      NameRateLimitClients,
		Help:      "Client token buckets currently tracked by the rate limiter",
		Namespace: Namespace,
	},
)

var OwnerLookupFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Name:      NameOwnerLookupFailures,
		Help:      "Note owners that could not be resolved while listing notes",
		Namespace: Namespace,
	},
)
