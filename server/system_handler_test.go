package server

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"evcs/billing"
	"evcs/internal"
	"evcs/internal/memory"
	"evcs/models"
	"evcs/ocpp/core"
	"evcs/ocpp/firmware"
	"evcs/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type eventRecorder struct {
	mux    sync.Mutex
	events []*internal.EventMessage
}

func (r *eventRecorder) record(eventType internal.EventType, event *internal.EventMessage) {
	r.mux.Lock()
	defer r.mux.Unlock()
	event.Type = eventType
	r.events = append(r.events, event)
}

func (r *eventRecorder) ofType(eventType internal.EventType) []*internal.EventMessage {
	r.mux.Lock()
	defer r.mux.Unlock()
	var found []*internal.EventMessage
	for _, event := range r.events {
		if event.Type == eventType {
			found = append(found, event)
		}
	}
	return found
}

func (r *eventRecorder) OnStationBooted(event *internal.EventMessage) {
	r.record(internal.StationBooted, event)
}

func (r *eventRecorder) OnStationFailure(event *internal.EventMessage) {
	r.record(internal.StationFailure, event)
}

func (r *eventRecorder) OnTransactionStart(event *internal.EventMessage) {
	r.record(internal.TransactionStarted, event)
}

func (r *eventRecorder) OnTransactionStop(event *internal.EventMessage) {
	r.record(internal.TransactionEnded, event)
}

func (r *eventRecorder) OnSessionProgress(event *internal.EventMessage) {
	r.record(internal.SessionProgress, event)
}

func (r *eventRecorder) OnConsistencyViolation(event *internal.EventMessage) {
	r.record(internal.ConsistencyViolation, event)
}

type commandRecorder struct {
	mux    sync.Mutex
	starts []string
	stops  []int
}

func (c *commandRecorder) SendRemoteStart(_ context.Context, chargePointId string, _ int, _ string) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.starts = append(c.starts, chargePointId)
	return nil
}

func (c *commandRecorder) SendRemoteStop(_ context.Context, _ string, transactionId int) error {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.stops = append(c.stops, transactionId)
	return nil
}

type startListenerMock struct {
	started []string
}

func (s *startListenerMock) OnTransactionStarted(chargePointId string, _ int) {
	s.started = append(s.started, chargePointId)
}

type handlerFixture struct {
	stations *memory.StationDirectory
	sessions *memory.SessionLedger
	balances *memory.BalanceStore
	events   *eventRecorder
	commands *commandRecorder
	starts   *startListenerMock
	handler  *SystemHandler
	now      time.Time
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	ctx := context.Background()
	logger := internal.NewLogger(zap.NewNop(), nil)
	t.Cleanup(logger.Close)

	f := &handlerFixture{
		stations: memory.NewStationDirectory(),
		sessions: memory.NewSessionLedger(),
		balances: memory.NewBalanceStore(),
		events:   &eventRecorder{},
		commands: &commandRecorder{},
		starts:   &startListenerMock{},
		now:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, f.stations.AddChargePoint(ctx, &models.ChargePoint{Id: "CP01", RegistrationStatus: "Accepted", Prices: []float64{0.5}}))
	require.NoError(t, f.stations.AddChargePoint(ctx, &models.ChargePoint{Id: "CP02", RegistrationStatus: "Rejected"}))
	require.NoError(t, f.balances.AddUserTag(ctx, &models.UserTag{IdTag: "TAG01", Status: "Accepted", Balance: 100}))
	require.NoError(t, f.balances.AddUserTag(ctx, &models.UserTag{IdTag: "TAG02", Status: "Blocked", Balance: 100}))

	f.handler = NewSystemHandler(f.stations, f.sessions, f.balances)
	f.handler.SetLogger(logger)
	f.handler.SetEventHandler(f.events)
	f.handler.SetBillingService(billing.NewEvaluator(f.stations, f.sessions, f.balances, f.commands, f.events, logger))
	f.handler.SetTransactionStartListener(f.starts)
	f.handler.SetHeartbeatInterval(300)
	f.handler.now = func() time.Time { return f.now }
	return f
}

func (f *handlerFixture) startTransaction(t *testing.T, idTag string, meterStart int) int {
	t.Helper()
	resp, err := f.handler.OnStartTransaction("CP01", &core.StartTransactionRequest{
		ConnectorId: 1,
		IdTag:       idTag,
		MeterStart:  meterStart,
		Timestamp:   types.NewDateTime(f.now),
	})
	require.NoError(t, err)
	require.NotZero(t, resp.TransactionId)
	return resp.TransactionId
}

func energyValue(at time.Time, wh string) types.MeterValue {
	return types.MeterValue{
		Timestamp: types.NewDateTime(at),
		SampledValue: []types.SampledValue{
			{Value: wh, Measurand: types.MeasurandEnergyActiveImportRegister, Unit: types.UnitOfMeasureWh},
			{Value: "230", Measurand: types.MeasurandVoltage, Unit: types.UnitOfMeasureV},
		},
	}
}

func TestBootNotification(t *testing.T) {
	f := newHandlerFixture(t)
	request := &core.BootNotificationRequest{ChargePointVendor: "Vendor", ChargePointModel: "Model", FirmwareVersion: "1.0"}

	tests := []struct {
		name   string
		id     string
		status core.RegistrationStatus
	}{
		{"registered", "CP01", core.RegistrationStatusAccepted},
		{"rejected by operator", "CP02", core.RegistrationStatusRejected},
		{"unknown", "CP99", core.RegistrationStatusRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := f.handler.OnBootNotification(tt.id, request)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.Status)
			assert.Equal(t, 300, resp.Interval)
			assert.Equal(t, f.now, resp.CurrentTime.Time)
		})
	}

	cp, err := f.stations.GetChargePoint(context.Background(), "CP01")
	require.NoError(t, err)
	assert.Equal(t, "Vendor", cp.Vendor)
	assert.Equal(t, "1.0", cp.FirmwareVersion)
	require.NotNil(t, cp.LastHeartbeat)
	assert.Equal(t, f.now, *cp.LastHeartbeat)

	_, err = f.stations.GetChargePoint(context.Background(), "CP99")
	assert.ErrorIs(t, err, internal.ErrNotFound)

	booted := f.events.ofType(internal.StationBooted)
	require.Len(t, booted, 3)
	assert.Equal(t, "Rejected", booted[2].Status)
}

func TestHeartbeat(t *testing.T) {
	f := newHandlerFixture(t)

	resp, err := f.handler.OnHeartbeat("CP01", &core.HeartbeatRequest{})
	require.NoError(t, err)
	assert.Equal(t, f.now, resp.CurrentTime.Time)
	cp, err := f.stations.GetChargePoint(context.Background(), "CP01")
	require.NoError(t, err)
	assert.Equal(t, f.now, *cp.LastHeartbeat)

	// unknown stations get the time but nothing is stored
	resp, err = f.handler.OnHeartbeat("CP99", &core.HeartbeatRequest{})
	require.NoError(t, err)
	assert.NotNil(t, resp.CurrentTime)
}

func TestAuthorize(t *testing.T) {
	f := newHandlerFixture(t)
	expired := f.now.Add(-time.Hour)
	require.NoError(t, f.balances.AddUserTag(context.Background(), &models.UserTag{IdTag: "TAG03", Status: "Accepted", ExpiryDate: &expired}))

	tests := []struct {
		idTag  string
		status types.AuthorizationStatus
	}{
		{"TAG01", types.AuthorizationStatusAccepted},
		{"TAG02", types.AuthorizationStatusBlocked},
		{"TAG03", types.AuthorizationStatusExpired},
		{"UNKNOWN", types.AuthorizationStatusInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.idTag, func(t *testing.T) {
			resp, err := f.handler.OnAuthorize("CP01", &core.AuthorizeRequest{IdTag: tt.idTag})
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.IdTagInfo.Status)
		})
	}
}

func TestStatusNotification(t *testing.T) {
	f := newHandlerFixture(t)

	_, err := f.handler.OnStatusNotification("CP01", &core.StatusNotificationRequest{
		ConnectorId: 1,
		ErrorCode:   core.NoError,
		Status:      core.ChargePointStatusAvailable,
		Timestamp:   types.NewDateTime(f.now),
	})
	require.NoError(t, err)
	connector, err := f.stations.GetConnector(context.Background(), "CP01", 1)
	require.NoError(t, err)
	assert.Equal(t, "Available", connector.Status)
	assert.Empty(t, f.events.ofType(internal.StationFailure))

	// repeating the notification leaves the connector as it was
	_, err = f.handler.OnStatusNotification("CP01", &core.StatusNotificationRequest{
		ConnectorId: 1,
		ErrorCode:   core.NoError,
		Status:      core.ChargePointStatusAvailable,
		Timestamp:   types.NewDateTime(f.now),
	})
	require.NoError(t, err)
	repeated, err := f.stations.GetConnector(context.Background(), "CP01", 1)
	require.NoError(t, err)
	assert.Equal(t, connector, repeated)

	_, err = f.handler.OnStatusNotification("CP01", &core.StatusNotificationRequest{
		ConnectorId: 1,
		ErrorCode:   core.InternalError,
		Status:      core.ChargePointStatusFaulted,
		Info:        "relay",
	})
	require.NoError(t, err)
	failures := f.events.ofType(internal.StationFailure)
	require.Len(t, failures, 1)
	assert.Equal(t, "InternalError", failures[0].ErrorCode)
	assert.Equal(t, 1, failures[0].ConnectorId)
}

func TestStartStopTransaction(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()

	transactionId := f.startTransaction(t, "TAG01", 1000)
	assert.Equal(t, []string{"CP01"}, f.starts.started)
	require.Len(t, f.events.ofType(internal.TransactionStarted), 1)

	active, err := f.sessions.GetActiveTransactions(ctx, "CP01", 1)
	require.NoError(t, err)
	require.Len(t, active, 1)

	resp, err := f.handler.OnStopTransaction("CP01", &core.StopTransactionRequest{
		IdTag:         "TAG01",
		MeterStop:     5000,
		Timestamp:     types.NewDateTime(f.now.Add(time.Hour)),
		TransactionId: transactionId,
		Reason:        core.ReasonLocal,
		TransactionData: []types.MeterValue{
			energyValue(f.now.Add(time.Hour), "5000"),
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.IdTagInfo)
	assert.Equal(t, types.AuthorizationStatusAccepted, resp.IdTagInfo.Status)

	transaction, err := f.sessions.GetTransaction(ctx, transactionId)
	require.NoError(t, err)
	assert.True(t, transaction.IsFinished)
	assert.Equal(t, 5000, transaction.MeterStop)
	assert.Equal(t, models.StopActorStation, transaction.StopActor)

	meters, err := f.sessions.GetMeterValues(ctx, transactionId)
	require.NoError(t, err)
	assert.Len(t, meters, 2)

	stops := f.events.ofType(internal.TransactionEnded)
	require.Len(t, stops, 1)
	assert.InDelta(t, 4.0, stops[0].Consumed, 1e-9)
	assert.InDelta(t, 0.5, stops[0].Price, 1e-9)
	assert.InDelta(t, 2.0, stops[0].Amount, 1e-9)

	// stopping is not billing, balance only moves on meter values
	tag, err := f.balances.GetUserTag(ctx, "TAG01")
	require.NoError(t, err)
	assert.Equal(t, 100.0, tag.Balance)

	active, err = f.sessions.GetActiveTransactions(ctx, "CP01", 1)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestStopTransactionIdempotent(t *testing.T) {
	f := newHandlerFixture(t)
	transactionId := f.startTransaction(t, "TAG01", 0)
	request := &core.StopTransactionRequest{
		MeterStop:     2000,
		Timestamp:     types.NewDateTime(f.now),
		TransactionId: transactionId,
	}

	resp, err := f.handler.OnStopTransaction("CP01", request)
	require.NoError(t, err)
	assert.Nil(t, resp.IdTagInfo)

	request.MeterStop = 9000
	_, err = f.handler.OnStopTransaction("CP01", request)
	require.NoError(t, err)

	transaction, err := f.sessions.GetTransaction(context.Background(), transactionId)
	require.NoError(t, err)
	assert.Equal(t, 2000, transaction.MeterStop)
	assert.Len(t, f.events.ofType(internal.TransactionEnded), 1)
}

func TestStopUnknownTransaction(t *testing.T) {
	f := newHandlerFixture(t)
	resp, err := f.handler.OnStopTransaction("CP01", &core.StopTransactionRequest{
		IdTag:         "TAG02",
		MeterStop:     100,
		Timestamp:     types.NewDateTime(f.now),
		TransactionId: 42,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.IdTagInfo)
	assert.Equal(t, types.AuthorizationStatusBlocked, resp.IdTagInfo.Status)
	assert.Empty(t, f.events.ofType(internal.TransactionEnded))
}

func TestStartOnBusyConnector(t *testing.T) {
	f := newHandlerFixture(t)
	first := f.startTransaction(t, "TAG01", 0)
	second := f.startTransaction(t, "TAG01", 0)
	assert.NotEqual(t, first, second)

	violations := f.events.ofType(internal.ConsistencyViolation)
	require.Len(t, violations, 1)
	assert.Equal(t, first, violations[0].TransactionId)
}

func TestStartTransactionUnknownTag(t *testing.T) {
	f := newHandlerFixture(t)
	resp, err := f.handler.OnStartTransaction("CP01", &core.StartTransactionRequest{
		ConnectorId: 1,
		IdTag:       "UNKNOWN",
		Timestamp:   types.NewDateTime(f.now),
	})
	require.NoError(t, err)
	assert.Equal(t, types.AuthorizationStatusInvalid, resp.IdTagInfo.Status)
	// the station already started; the transaction is recorded anyway
	assert.NotZero(t, resp.TransactionId)
}

func TestMeterValuesBilling(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	transactionId := f.startTransaction(t, "TAG01", 1000)

	_, err := f.handler.OnMeterValues("CP01", &core.MeterValuesRequest{
		ConnectorId:   1,
		TransactionId: &transactionId,
		MeterValue:    []types.MeterValue{energyValue(f.now, "1000")},
	})
	require.NoError(t, err)
	tag, err := f.balances.GetUserTag(ctx, "TAG01")
	require.NoError(t, err)
	assert.Equal(t, 100.0, tag.Balance)

	_, err = f.handler.OnMeterValues("CP01", &core.MeterValuesRequest{
		ConnectorId:   1,
		TransactionId: &transactionId,
		MeterValue:    []types.MeterValue{energyValue(f.now.Add(time.Minute), "11000")},
	})
	require.NoError(t, err)
	tag, err = f.balances.GetUserTag(ctx, "TAG01")
	require.NoError(t, err)
	assert.InDelta(t, 95.0, tag.Balance, 1e-9)

	progress := f.events.ofType(internal.SessionProgress)
	require.Len(t, progress, 1)
	assert.InDelta(t, 10.0, progress[0].Consumed, 1e-9)
	assert.Empty(t, f.commands.stops)

	meters, err := f.sessions.GetMeterValues(ctx, transactionId)
	require.NoError(t, err)
	assert.Len(t, meters, 4)
}

func TestMeterValuesStopOnExhaustedBalance(t *testing.T) {
	f := newHandlerFixture(t)
	transactionId := f.startTransaction(t, "TAG01", 0)

	_, err := f.handler.OnMeterValues("CP01", &core.MeterValuesRequest{
		ConnectorId:   1,
		TransactionId: &transactionId,
		MeterValue: []types.MeterValue{
			energyValue(f.now, "0"),
			energyValue(f.now.Add(time.Hour), "200000"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{transactionId}, f.commands.stops)
}

func TestMeterValuesOutsideTransaction(t *testing.T) {
	f := newHandlerFixture(t)
	missing := 77

	_, err := f.handler.OnMeterValues("CP01", &core.MeterValuesRequest{
		ConnectorId: 1,
		MeterValue:  []types.MeterValue{energyValue(f.now, "100")},
	})
	require.NoError(t, err)

	_, err = f.handler.OnMeterValues("CP01", &core.MeterValuesRequest{
		ConnectorId:   1,
		TransactionId: &missing,
		MeterValue:    []types.MeterValue{energyValue(f.now, "100")},
	})
	require.NoError(t, err)
	assert.Empty(t, f.events.ofType(internal.SessionProgress))
	assert.Empty(t, f.commands.stops)
}

func TestDataTransferAndFirmware(t *testing.T) {
	f := newHandlerFixture(t)

	resp, err := f.handler.OnDataTransfer("CP01", &core.DataTransferRequest{VendorId: "vendor"})
	require.NoError(t, err)
	assert.Equal(t, core.DataTransferStatusAccepted, resp.Status)

	_, err = f.handler.OnFirmwareStatusNotification("CP01", &firmware.StatusNotificationRequest{Status: "Installed"})
	require.NoError(t, err)
	_, err = f.handler.OnDiagnosticsStatusNotification("CP01", &firmware.DiagnosticsStatusNotificationRequest{Status: "Uploaded"})
	require.NoError(t, err)

	cp, err := f.stations.GetChargePoint(context.Background(), "CP01")
	require.NoError(t, err)
	assert.Equal(t, "Installed", cp.FirmwareStatus)
	assert.Equal(t, "Uploaded", cp.DiagnosticsStatus)
}

func voltageValue(at time.Time) types.MeterValue {
	return types.MeterValue{
		Timestamp:    types.NewDateTime(at),
		SampledValue: []types.SampledValue{{Value: "231", Measurand: types.MeasurandVoltage, Unit: types.UnitOfMeasureV}},
	}
}

func TestMeterValuesWithoutEnergyNotBilled(t *testing.T) {
	f := newHandlerFixture(t)
	ctx := context.Background()
	transactionId := f.startTransaction(t, "TAG01", 0)

	_, err := f.handler.OnMeterValues("CP01", &core.MeterValuesRequest{
		ConnectorId:   1,
		TransactionId: &transactionId,
		MeterValue:    []types.MeterValue{energyValue(f.now, "0"), energyValue(f.now.Add(time.Minute), "10000")},
	})
	require.NoError(t, err)
	tag, err := f.balances.GetUserTag(ctx, "TAG01")
	require.NoError(t, err)
	require.InDelta(t, 95.0, tag.Balance, 1e-9)

	_, err = f.handler.OnMeterValues("CP01", &core.MeterValuesRequest{
		ConnectorId:   1,
		TransactionId: &transactionId,
		MeterValue:    []types.MeterValue{voltageValue(f.now.Add(2 * time.Minute))},
	})
	require.NoError(t, err)

	tag, err = f.balances.GetUserTag(ctx, "TAG01")
	require.NoError(t, err)
	assert.InDelta(t, 95.0, tag.Balance, 1e-9)
	assert.Len(t, f.events.ofType(internal.SessionProgress), 1)

	// the samples are still recorded
	meters, err := f.sessions.GetMeterValues(ctx, transactionId)
	require.NoError(t, err)
	assert.Len(t, meters, 5)
}

func TestMeterValuesAfterStopNotBilled(t *testing.T) {
	f := newHandlerFixture(t)
	transactionId := f.startTransaction(t, "TAG01", 0)
	_, err := f.handler.OnStopTransaction("CP01", &core.StopTransactionRequest{
		MeterStop:     0,
		Timestamp:     types.NewDateTime(f.now),
		TransactionId: transactionId,
	})
	require.NoError(t, err)

	_, err = f.handler.OnMeterValues("CP01", &core.MeterValuesRequest{
		ConnectorId:   1,
		TransactionId: &transactionId,
		MeterValue:    []types.MeterValue{energyValue(f.now, "0"), energyValue(f.now.Add(time.Hour), "500000")},
	})
	require.NoError(t, err)

	tag, err := f.balances.GetUserTag(context.Background(), "TAG01")
	require.NoError(t, err)
	assert.Equal(t, 100.0, tag.Balance)
	assert.Empty(t, f.commands.stops)
}

func TestConcurrentMeterValuesSerialized(t *testing.T) {
	f := newHandlerFixture(t)
	transactionId := f.startTransaction(t, "TAG01", 0)

	// every batch carries its own 1 kWh step; billed one at a time each step costs 0.5
	const batches = 20
	var wg sync.WaitGroup
	for i := 0; i < batches; i++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			_, err := f.handler.OnMeterValues("CP01", &core.MeterValuesRequest{
				ConnectorId:   1,
				TransactionId: &transactionId,
				MeterValue: []types.MeterValue{
					energyValue(f.now, strconv.Itoa(base)),
					energyValue(f.now.Add(time.Minute), strconv.Itoa(base+1000)),
				},
			})
			assert.NoError(t, err)
		}(i * 10000)
	}
	wg.Wait()

	tag, err := f.balances.GetUserTag(context.Background(), "TAG01")
	require.NoError(t, err)
	assert.InDelta(t, 100.0-batches*0.5, tag.Balance, 1e-9)
	assert.Len(t, f.events.ofType(internal.SessionProgress), batches)
	assert.Empty(t, f.commands.stops)

	meters, err := f.sessions.GetMeterValues(context.Background(), transactionId)
	require.NoError(t, err)
	assert.Len(t, meters, batches*4)
}
