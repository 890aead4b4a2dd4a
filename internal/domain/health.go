package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
	Error       string `json:"error,omitempty"`
}

// BillingMetrics is returned by GET /v1/metrics/billing.
type BillingMetrics struct {
	Transitions      map[string]float64 `json:"transitions"`
	FailedActions    float64            `json:"failedActions"`
	Conflicts        float64            `json:"conflicts"`
	Rollbacks        float64            `json:"rollbacks"`
	ReconcileDrifts  float64            `json:"reconcileDrifts"`
	BalanceCASRetry  float64            `json:"balanceCasRetries"`
	ExternalErrors   float64            `json:"externalErrors"`
	CategoryCacheHit float64            `json:"categoryCacheHitRate"`
	Period           string             `json:"period"`
}
