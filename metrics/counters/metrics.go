package counters

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var connectionsGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "server",
	Name:      "connections_active",
	Help:      "Number of active ws connections",
})

var activeTransactionsGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "server",
	Name:      "transactions_active",
	Help:      "Number of active transactions",
}, []string{"charge_point_id"})

var errorCounts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "vendor_error_count",
	Help:      "Total number of errors by vendor code.",
}, []string{"code", "charge_point_id"})

var errorGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "ocpp",
	Name:      "errors_today",
	Help:      "Number of errors reported today by error code.",
}, []string{"code", "charge_point_id"})

var transactionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "transaction_count",
	Help:      "Total number of transactions.",
}, []string{"charge_point_id"})

var powerCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "consumed_energy_kwh",
	Help:      "Energy consumed by finished transactions.",
}, []string{"charge_point_id"})

var remoteCommandCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "ocpp",
	Name:      "remote_command_count",
	Help:      "Server initiated commands by result.",
}, []string{"feature", "result"})

var billingDecisionCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billing",
	Name:      "decision_count",
	Help:      "Billing evaluations by decision.",
}, []string{"decision"})

var billedAmountCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "billing",
	Name:      "billed_amount",
	Help:      "Amount deducted from tag balances.",
}, []string{"charge_point_id"})

var consistencyCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "server",
	Name:      "consistency_violation_count",
	Help:      "Detected violations of the one active transaction per connector rule.",
}, []string{"kind"})

func ObserveConnections(count int) {
	connectionsGauge.Set(float64(count))
}

func TransactionStarted(chargePointId string) {
	if len(chargePointId) == 0 {
		return
	}
	activeTransactionsGauge.With(prometheus.Labels{"charge_point_id": chargePointId}).Inc()
	transactionCounter.With(prometheus.Labels{"charge_point_id": chargePointId}).Inc()
}

func TransactionFinished(chargePointId string, consumed float64) {
	if len(chargePointId) == 0 {
		return
	}
	activeTransactionsGauge.With(prometheus.Labels{"charge_point_id": chargePointId}).Dec()
	if consumed > 0 {
		powerCounter.With(prometheus.Labels{"charge_point_id": chargePointId}).Add(consumed)
	}
}

func ObserveError(chargePointId, code string) {
	if len(code) == 0 || len(chargePointId) == 0 {
		return
	}
	errorCounts.With(prometheus.Labels{"code": code, "charge_point_id": chargePointId}).Inc()
}

func ErrorsToday(chargePointId, code string, count int) {
	if len(code) == 0 || len(chargePointId) == 0 {
		return
	}
	errorGauge.With(prometheus.Labels{"code": code, "charge_point_id": chargePointId}).Set(float64(count))
}

func CountRemoteCommand(feature, result string) {
	remoteCommandCounter.With(prometheus.Labels{"feature": feature, "result": result}).Inc()
}

func CountBillingDecision(decision string) {
	billingDecisionCounter.With(prometheus.Labels{"decision": decision}).Inc()
}

func CountBilledAmount(chargePointId string, amount float64) {
	if len(chargePointId) == 0 || amount <= 0 {
		return
	}
	billedAmountCounter.With(prometheus.Labels{"charge_point_id": chargePointId}).Add(amount)
}

func CountConsistencyViolation(kind string) {
	consistencyCounter.With(prometheus.Labels{"kind": kind}).Inc()
}
