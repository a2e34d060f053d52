package subscription

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the billing collectors. A nil *Metrics is valid and records
// nothing, so tests can leave it out.
type Metrics struct {
	webhookEvents *prometheus.CounterVec
	discountSyncs *prometheus.CounterVec
	checkouts     *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	outOfSync     prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "webhook_events_total",
			Help:      "Webhook events received, by event type and outcome.",
		}, []string{"type", "outcome"}),
		discountSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "discount_sync_total",
			Help:      "Coupon pushes to the billing provider, by result.",
		}, []string{"result"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "checkout_sessions_total",
			Help:      "Checkout sessions created, by plan and interval.",
		}, []string{"plan", "interval"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "billing",
			Name:      "subscription_transitions_total",
			Help:      "Subscription status transitions, by source and target status.",
		}, []string{"from", "to"}),
		outOfSync: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "billing",
			Name:      "subscriptions_discount_out_of_sync",
			Help:      "Subscriptions whose provider coupon does not match the local phase.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.webhookEvents, m.discountSyncs, m.checkouts, m.transitions, m.outOfSync)
	}
	return m
}

func (m *Metrics) webhook(eventType EventType, outcome string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(string(eventType), outcome).Inc()
}

func (m *Metrics) discountSync(result string) {
	if m == nil {
		return
	}
	m.discountSyncs.WithLabelValues(result).Inc()
}

func (m *Metrics) checkout(plan string, interval BillingInterval) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(plan, string(interval)).Inc()
}

func (m *Metrics) transition(t Transition) {
	if m == nil || !t.Changed || t.From == t.To {
		return
	}
	m.transitions.WithLabelValues(string(t.From), string(t.To)).Inc()
}

func (m *Metrics) setOutOfSync(n int) {
	if m == nil {
		return
	}
	m.outOfSync.Set(float64(n))
}
