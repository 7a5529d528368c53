package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evcs/internal"
	"evcs/metrics/counters"
	"evcs/models"
	"evcs/ocpp/core"
)

const featureName = "Billing"

type Decision string

const (
	UnknownTransaction Decision = "unknown_transaction"
	TransactionClosed  Decision = "transaction_closed"
	NotEnoughReadings  Decision = "not_enough_readings"
	MeterRollback      Decision = "meter_rollback"
	Unpriced           Decision = "unpriced"
	KeepCharging       Decision = "keep_charging"
	StopCharging       Decision = "stop_charging"
)

// Result outcome of one evaluation; Cost and BalanceBefore are set only when the balance was charged
type Result struct {
	Decision      Decision
	Delta         float64
	Price         float64
	Cost          float64
	BalanceBefore float64
}

// Evaluator charges the session tag for the energy delivered since the previous
// meter reading and stops the session when the balance is exhausted
type Evaluator struct {
	stations   internal.StationDirectory
	sessions   internal.SessionLedger
	balances   internal.BalanceStore
	dispatcher internal.RemoteCommandDispatcher
	events     internal.EventHandler
	log        internal.LogHandler
}

func NewEvaluator(
	stations internal.StationDirectory,
	sessions internal.SessionLedger,
	balances internal.BalanceStore,
	dispatcher internal.RemoteCommandDispatcher,
	events internal.EventHandler,
	log internal.LogHandler,
) *Evaluator {
	return &Evaluator{
		stations:   stations,
		sessions:   sessions,
		balances:   balances,
		dispatcher: dispatcher,
		events:     events,
		log:        log,
	}
}

// Evaluate runs after the meter values of a message were appended to the transaction.
// Callers serialize evaluations of the same transaction.
func (e *Evaluator) Evaluate(ctx context.Context, transactionId int) (*Result, error) {
	result, err := e.evaluate(ctx, transactionId)
	if err != nil {
		return nil, err
	}
	counters.CountBillingDecision(string(result.Decision))
	return result, nil
}

func (e *Evaluator) evaluate(ctx context.Context, transactionId int) (*Result, error) {
	transaction, err := e.sessions.GetTransaction(ctx, transactionId)
	if errors.Is(err, internal.ErrNotFound) {
		return &Result{Decision: UnknownTransaction}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %d: %w", transactionId, err)
	}
	if transaction.IsFinished {
		return &Result{Decision: TransactionClosed}, nil
	}

	samples, err := e.sessions.GetMeterValues(ctx, transactionId)
	if err != nil {
		return nil, fmt.Errorf("get meter values of %d: %w", transactionId, err)
	}
	current, previous, ok := lastTwo(energyReadings(samples))
	if !ok {
		return &Result{Decision: NotEnoughReadings}, nil
	}

	result := &Result{Delta: (current - previous) / 1000}
	if result.Delta < 0 {
		e.log.FeatureEvent(featureName, transaction.ChargePointId,
			fmt.Sprintf("transaction #%d: meter went back from %0.0f to %0.0f Wh", transactionId, previous, current))
		result.Decision = MeterRollback
		return result, nil
	}

	result.Price, err = e.connectorPrice(ctx, transaction)
	if err != nil {
		return nil, err
	}
	if result.Price <= 0 {
		result.Decision = Unpriced
		return result, nil
	}
	result.Cost = result.Delta * result.Price

	result.BalanceBefore, err = e.balances.DecreaseBalance(ctx, transaction.IdTag, result.Cost)
	if err != nil && !errors.Is(err, internal.ErrNotFound) {
		return nil, fmt.Errorf("decrease balance of %s: %w", transaction.IdTag, err)
	}
	if err == nil {
		counters.CountBilledAmount(transaction.ChargePointId, result.Cost)
	}

	if err == nil && result.Cost < result.BalanceBefore {
		result.Decision = KeepCharging
		e.events.OnSessionProgress(&internal.EventMessage{
			ChargePointId: transaction.ChargePointId,
			ConnectorId:   transaction.ConnectorId,
			Time:          time.Now(),
			IdTag:         transaction.IdTag,
			TransactionId: transaction.Id,
			MeterValue:    current,
			Consumed:      (current - float64(transaction.MeterStart)) / 1000,
			Price:         result.Price,
			Amount:        result.Cost,
			Balance:       result.BalanceBefore - result.Cost,
		})
		return result, nil
	}

	result.Decision = StopCharging
	if err != nil {
		e.log.Warn(fmt.Sprintf("transaction #%d: id tag %s has no balance record", transactionId, transaction.IdTag))
	}
	e.log.FeatureEvent(featureName, transaction.ChargePointId,
		fmt.Sprintf("transaction #%d: insufficient balance %0.3f for %0.3f, requesting stop", transactionId, result.BalanceBefore, result.Cost))
	if err = e.dispatcher.SendRemoteStop(ctx, transaction.ChargePointId, transaction.Id); err != nil {
		e.log.Error(fmt.Sprintf("%s for transaction #%d", core.RemoteStopTransactionFeatureName, transaction.Id), err)
	}
	return result, nil
}

func (e *Evaluator) connectorPrice(ctx context.Context, transaction *models.Transaction) (float64, error) {
	chargePoint, err := e.stations.GetChargePoint(ctx, transaction.ChargePointId)
	if errors.Is(err, internal.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get charge point %s: %w", transaction.ChargePointId, err)
	}
	return chargePoint.ConnectorPrice(transaction.ConnectorId), nil
}
