// Package metrics provides Prometheus metrics for license validation.
package metrics

import (
	"fmt"
	"net/http"

	"github.com/MacJediWizard/ocaquery/internal/license"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// LicenseMetrics exposes the outcome of license validation passes.
type LicenseMetrics struct {
	ValidationCounter *prometheus.CounterVec
	DaysRemaining     prometheus.Gauge
	ExpiringSoon      prometheus.Gauge
	Info              *prometheus.GaugeVec
}

var _ license.ValidationObserver = (*LicenseMetrics)(nil)

// NewLicenseMetrics creates the license metrics and registers them on reg.
func NewLicenseMetrics(reg prometheus.Registerer) (*LicenseMetrics, error) {
	m := &LicenseMetrics{
		ValidationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "license_validations_total",
			Help: "License validation passes by result (valid or failure reason).",
		}, []string{"result"}),
		DaysRemaining: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "license_days_remaining",
			Help: "Whole days until the current license expires, 0 when invalid.",
		}),
		ExpiringSoon: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "license_expiring_soon",
			Help: "0 when not expiring soon, 1 within the first warning window, 2 within the final window.",
		}),
		Info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "license_info",
			Help: "Type and tier of the currently valid license.",
		}, []string{"type", "tier"}),
	}

	for _, c := range []prometheus.Collector{m.ValidationCounter, m.DaysRemaining, m.ExpiringSoon, m.Info} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register license metric: %w", err)
		}
	}
	return m, nil
}

// ObserveValidation implements license.ValidationObserver.
func (m *LicenseMetrics) ObserveValidation(res license.ValidationResult) {
	m.ValidationCounter.WithLabelValues(res.ResultLabel()).Inc()

	m.Info.Reset()
	if !res.Valid {
		m.DaysRemaining.Set(0)
		m.ExpiringSoon.Set(0)
		return
	}

	m.DaysRemaining.Set(float64(res.DaysRemaining))
	switch {
	case res.IsExpiringSoonFinal:
		m.ExpiringSoon.Set(2)
	case res.IsExpiringSoon:
		m.ExpiringSoon.Set(1)
	default:
		m.ExpiringSoon.Set(0)
	}
	if res.License != nil {
		m.Info.WithLabelValues(string(res.License.Type), string(res.License.Tier)).Set(1)
	}
}

// Handler returns an HTTP handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
