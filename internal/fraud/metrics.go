package fraud

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	assessmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraud_assessments_total",
		Help: "Risk assessments completed, by decision",
	}, []string{"decision"})

	assessmentScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fraud_assessment_score",
		Help:    "Distribution of final risk scores",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	subCheckDegradedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraud_subcheck_degraded_total",
		Help: "Sub-checks that failed and were excluded from scoring",
	}, []string{"check"})

	velocityTriggeredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fraud_velocity_triggered_total",
		Help: "Velocity rules that exceeded their window ceiling",
	})

	alertsCreatedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fraud_alerts_created_total",
		Help: "Fraud alerts raised, by severity",
	}, []string{"severity"})
)

func recordAssessment(decision Decision, score float64) {
	assessmentsTotal.WithLabelValues(string(decision)).Inc()
	assessmentScore.Observe(score)
}

func recordDegradation(check string) {
	subCheckDegradedTotal.WithLabelValues(check).Inc()
}

func recordAlertCreated(severity AlertSeverity) {
	alertsCreatedTotal.WithLabelValues(string(severity)).Inc()
}
