package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AllocationPicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_allocation_picks_total",
		Help: "Booking targets picked, by effective routing mode.",
	}, []string{"mode"})

	DestinationResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_destination_resolutions_total",
		Help: "Booking destination lookups, by resolving tier.",
	}, []string{"tier"})

	WebhookEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_webhook_events_total",
		Help: "Payment processor events, by type and outcome.",
	}, []string{"type", "outcome"})

	PaymentLinks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_payment_links_total",
		Help: "Payment link requests, by plan and outcome.",
	}, []string{"plan", "outcome"})

	Linkages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "booking_linkages_total",
		Help: "Purchase to booking linkage attempts, by outcome.",
	}, []string{"outcome"})
)
