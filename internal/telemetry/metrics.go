package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus collectors the control plane exposes on
// /metrics. All components receive it by reference so they share a single
// registry rather than constructing their own global collectors.
type Metrics struct {
	Registry *prometheus.Registry

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	WorkspaceTransitionsTotal *prometheus.CounterVec
	EngineCallDuration        *prometheus.HistogramVec
	EngineErrorsTotal         *prometheus.CounterVec

	WebhookEventsTotal        *prometheus.CounterVec
	WebhookDuplicatesTotal    prometheus.Counter
	SubscriptionTransitions   *prometheus.CounterVec

	ProxyRequestsTotal *prometheus.CounterVec
}

// NewMetrics constructs and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "controlplane_http_requests_total",
			Help: "Total HTTP requests handled, by route and status class.",
		}, []string{"route", "status_class"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "controlplane_http_request_duration_seconds",
			Help: "HTTP request latency in seconds.",
		}, []string{"route"}),
		WorkspaceTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "controlplane_workspace_transitions_total",
			Help: "Workspace lifecycle transitions, by source and target state.",
		}, []string{"from_state", "to_state"}),
		EngineCallDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "controlplane_engine_call_duration_seconds",
			Help: "Container engine call latency, by operation.",
		}, []string{"operation"}),
		EngineErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "controlplane_engine_errors_total",
			Help: "Container engine call failures, by operation.",
		}, []string{"operation"}),
		WebhookEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "controlplane_webhook_events_total",
			Help: "Inbound payment webhook events, by event type.",
		}, []string{"event_type"}),
		WebhookDuplicatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "controlplane_webhook_duplicates_total",
			Help: "Inbound webhook events rejected as duplicates of an already-recorded event.",
		}),
		SubscriptionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "controlplane_subscription_transitions_total",
			Help: "Subscription state transitions applied, by source and resulting state.",
		}, []string{"from_state", "to_state"}),
		ProxyRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "controlplane_proxy_requests_total",
			Help: "Reverse proxy requests, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WorkspaceTransitionsTotal,
		m.EngineCallDuration,
		m.EngineErrorsTotal,
		m.WebhookEventsTotal,
		m.WebhookDuplicatesTotal,
		m.SubscriptionTransitions,
		m.ProxyRequestsTotal,
	)

	return m
}
