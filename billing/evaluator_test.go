package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"evcs/internal"
	"evcs/internal/memory"
	"evcs/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const energy = "Energy.Active.Import.Register"

type dispatcherMock struct {
	mux   sync.Mutex
	stops []int
	err   error
}

func (d *dispatcherMock) SendRemoteStart(_ context.Context, _ string, _ int, _ string) error {
	return nil
}

func (d *dispatcherMock) SendRemoteStop(_ context.Context, _ string, transactionId int) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	d.stops = append(d.stops, transactionId)
	return d.err
}

type eventsMock struct {
	internal.EventHandler
	progress []*internal.EventMessage
}

func (e *eventsMock) OnSessionProgress(event *internal.EventMessage) {
	e.progress = append(e.progress, event)
}

type fixture struct {
	stations   *memory.StationDirectory
	sessions   *memory.SessionLedger
	balances   *memory.BalanceStore
	dispatcher *dispatcherMock
	events     *eventsMock
	evaluator  *Evaluator
	txId       int
}

func newFixture(t *testing.T, price, balance float64) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := internal.NewLogger(zap.NewNop(), nil)
	t.Cleanup(logger.Close)

	f := &fixture{
		stations:   memory.NewStationDirectory(),
		sessions:   memory.NewSessionLedger(),
		balances:   memory.NewBalanceStore(),
		dispatcher: &dispatcherMock{},
		events:     &eventsMock{},
	}
	require.NoError(t, f.stations.AddChargePoint(ctx, &models.ChargePoint{Id: "CP01", RegistrationStatus: "Accepted", Prices: []float64{price}}))
	require.NoError(t, f.balances.AddUserTag(ctx, &models.UserTag{IdTag: "TAG01", Status: "Accepted", Balance: balance}))
	id, err := f.sessions.AddTransaction(ctx, &models.Transaction{
		ChargePointId: "CP01",
		ConnectorId:   1,
		IdTag:         "TAG01",
		MeterStart:    100,
		TimeStart:     time.Now(),
	})
	require.NoError(t, err)
	f.txId = id
	f.evaluator = NewEvaluator(f.stations, f.sessions, f.balances, f.dispatcher, f.events, logger)
	return f
}

func (f *fixture) appendSamples(t *testing.T, samples ...models.TransactionMeter) {
	t.Helper()
	require.NoError(t, f.sessions.AddMeterValues(context.Background(), f.txId, samples))
}

func (f *fixture) balance(t *testing.T) float64 {
	t.Helper()
	tag, err := f.balances.GetUserTag(context.Background(), "TAG01")
	require.NoError(t, err)
	return tag.Balance
}

func wh(value string) models.TransactionMeter {
	return models.TransactionMeter{Measurand: energy, Value: value, Unit: "Wh"}
}

func TestEvaluateChargesDelta(t *testing.T) {
	f := newFixture(t, 0.30, 10)
	f.appendSamples(t, wh("100"), wh("100"), wh("250"))

	result, err := f.evaluator.Evaluate(context.Background(), f.txId)
	require.NoError(t, err)
	assert.Equal(t, KeepCharging, result.Decision)
	assert.InDelta(t, 0.15, result.Delta, 1e-9)
	assert.InDelta(t, 0.045, result.Cost, 1e-9)
	assert.InDelta(t, 10-0.045, f.balance(t), 1e-9)
	assert.Empty(t, f.dispatcher.stops)

	require.Len(t, f.events.progress, 1)
	progress := f.events.progress[0]
	assert.Equal(t, "TAG01", progress.IdTag)
	assert.Equal(t, "CP01", progress.ChargePointId)
	assert.Equal(t, 1, progress.ConnectorId)
	assert.InDelta(t, 0.15, progress.Consumed, 1e-9)
}

func TestEvaluateInsufficientFunds(t *testing.T) {
	f := newFixture(t, 0.30, 0.02)
	f.appendSamples(t, wh("100"), wh("100"), wh("250"))

	result, err := f.evaluator.Evaluate(context.Background(), f.txId)
	require.NoError(t, err)
	assert.Equal(t, StopCharging, result.Decision)
	assert.InDelta(t, 0.02, result.BalanceBefore, 1e-9)
	assert.InDelta(t, -0.025, f.balance(t), 1e-9)
	assert.Equal(t, []int{f.txId}, f.dispatcher.stops)
	assert.Empty(t, f.events.progress)

	// the transaction stays open until the station reports the stop
	transaction, err := f.sessions.GetTransaction(context.Background(), f.txId)
	require.NoError(t, err)
	assert.False(t, transaction.IsFinished)
}

func TestEvaluateCostEqualToBalanceStops(t *testing.T) {
	f := newFixture(t, 1, 0.5)
	f.appendSamples(t, wh("1000"), wh("1500"))

	result, err := f.evaluator.Evaluate(context.Background(), f.txId)
	require.NoError(t, err)
	assert.Equal(t, StopCharging, result.Decision)
	assert.InDelta(t, 0, f.balance(t), 1e-9)
}

func TestEvaluateDispatchFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, 0.30, 0)
	f.dispatcher.err = errors.New("not connected")
	f.appendSamples(t, wh("100"), wh("250"))

	result, err := f.evaluator.Evaluate(context.Background(), f.txId)
	require.NoError(t, err)
	assert.Equal(t, StopCharging, result.Decision)
	assert.Len(t, f.dispatcher.stops, 1)
}

func TestEvaluateNotEnoughReadings(t *testing.T) {
	tests := []struct {
		name    string
		samples []models.TransactionMeter
	}{
		{"no samples", nil},
		{"single reading", []models.TransactionMeter{wh("100")}},
		{"other measurands", []models.TransactionMeter{
			{Measurand: "Power.Active.Import", Value: "7000", Unit: "W"},
			wh("120"),
			{Measurand: "Current.Import", Value: "16", Unit: "A"},
		}},
		{"unparsable value", []models.TransactionMeter{wh("100"), wh("n/a")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0.30, 10)
			if len(tt.samples) > 0 {
				f.appendSamples(t, tt.samples...)
			}
			result, err := f.evaluator.Evaluate(context.Background(), f.txId)
			require.NoError(t, err)
			assert.Equal(t, NotEnoughReadings, result.Decision)
			assert.Equal(t, 10.0, f.balance(t))
			assert.Empty(t, f.dispatcher.stops)
		})
	}
}

func TestEvaluateSkipsForeignSamples(t *testing.T) {
	f := newFixture(t, 0.5, 10)
	f.appendSamples(t,
		wh("1000"),
		models.TransactionMeter{Measurand: "Power.Active.Import", Value: "7400", Unit: "W"},
		models.TransactionMeter{Measurand: energy, Value: "1.5", Unit: "kWh"},
		models.TransactionMeter{Measurand: "SoC", Value: "40", Unit: "Percent"},
	)

	result, err := f.evaluator.Evaluate(context.Background(), f.txId)
	require.NoError(t, err)
	assert.Equal(t, KeepCharging, result.Decision)
	assert.InDelta(t, 0.5, result.Delta, 1e-9)
	assert.InDelta(t, 0.25, result.Cost, 1e-9)
}

func TestEvaluateUnpricedConnector(t *testing.T) {
	f := newFixture(t, 0, 10)
	f.appendSamples(t, wh("100"), wh("250"))

	result, err := f.evaluator.Evaluate(context.Background(), f.txId)
	require.NoError(t, err)
	assert.Equal(t, Unpriced, result.Decision)
	assert.Equal(t, 10.0, f.balance(t))
}

func TestEvaluateMeterRollback(t *testing.T) {
	f := newFixture(t, 0.3, 10)
	f.appendSamples(t, wh("500"), wh("400"))

	result, err := f.evaluator.Evaluate(context.Background(), f.txId)
	require.NoError(t, err)
	assert.Equal(t, MeterRollback, result.Decision)
	assert.Equal(t, 10.0, f.balance(t))
}

func TestEvaluateUnknownTransaction(t *testing.T) {
	f := newFixture(t, 0.3, 10)

	result, err := f.evaluator.Evaluate(context.Background(), f.txId+100)
	require.NoError(t, err)
	assert.Equal(t, UnknownTransaction, result.Decision)
	assert.Empty(t, f.dispatcher.stops)
}

func TestEvaluateUnknownTagStops(t *testing.T) {
	f := newFixture(t, 0.3, 10)
	id, err := f.sessions.AddTransaction(context.Background(), &models.Transaction{ChargePointId: "CP01", ConnectorId: 1, IdTag: "UNKNOWN"})
	require.NoError(t, err)
	require.NoError(t, f.sessions.AddMeterValues(context.Background(), id, []models.TransactionMeter{wh("0"), wh("10")}))

	result, err := f.evaluator.Evaluate(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StopCharging, result.Decision)
	assert.Equal(t, []int{id}, f.dispatcher.stops)
}

func TestLastTwoStopsEarly(t *testing.T) {
	consumed := 0
	readings := func(yield func(float64) bool) {
		for _, v := range []float64{300, 200, 100} {
			consumed++
			if !yield(v) {
				return
			}
		}
	}
	current, previous, ok := lastTwo(readings)
	require.True(t, ok)
	assert.Equal(t, 300.0, current)
	assert.Equal(t, 200.0, previous)
	assert.Equal(t, 2, consumed)
}

func TestEvaluateClosedTransaction(t *testing.T) {
	f := newFixture(t, 0.5, 10)
	f.appendSamples(t, wh("0"), wh("500000"))
	_, err := f.sessions.CloseTransaction(context.Background(), f.txId, models.TransactionStop{
		MeterStop: 500000,
		TimeStop:  time.Now(),
		StopActor: models.StopActorStation,
	})
	require.NoError(t, err)

	result, err := f.evaluator.Evaluate(context.Background(), f.txId)
	require.NoError(t, err)
	assert.Equal(t, TransactionClosed, result.Decision)
	assert.Equal(t, 10.0, f.balance(t))
	assert.Empty(t, f.dispatcher.stops)
	assert.Empty(t, f.events.progress)
}

func TestHasEnergyReading(t *testing.T) {
	tests := []struct {
		name     string
		samples  []models.TransactionMeter
		expected bool
	}{
		{"empty", nil, false},
		{"voltage only", []models.TransactionMeter{{Measurand: "Voltage", Value: "230", Unit: "V"}}, false},
		{"unparsable energy", []models.TransactionMeter{wh("n/a")}, false},
		{"energy among others", []models.TransactionMeter{{Measurand: "SoC", Value: "40"}, wh("120")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, HasEnergyReading(tt.samples))
		})
	}
}
