package server

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"evcs/billing"
	"evcs/internal"
	"evcs/metrics/counters"
	"evcs/models"
	"evcs/ocpp/core"
	"evcs/ocpp/firmware"
	"evcs/types"
	"evcs/utility"
)

const (
	defaultHeartbeatInterval = 600
	// bounds storage work and billing dispatch of a single station request
	handlerTimeout = 30 * time.Second
)

type meterEvaluator interface {
	Evaluate(ctx context.Context, transactionId int) (*billing.Result, error)
}

type transactionStartListener interface {
	OnTransactionStarted(chargePointId string, connectorId int)
}

// SystemHandler answers charge point requests; it never fails a request because
// of an unknown entity, a safe default is answered instead
type SystemHandler struct {
	stations          internal.StationDirectory
	sessions          internal.SessionLedger
	balances          internal.BalanceStore
	billing           meterEvaluator
	startListener     transactionStartListener
	eventHandler      internal.EventHandler
	logger            internal.LogHandler
	heartbeatInterval int
	transactionLocks  *utility.KeyedMutex
	now               func() time.Time
}

func NewSystemHandler(stations internal.StationDirectory, sessions internal.SessionLedger, balances internal.BalanceStore) *SystemHandler {
	return &SystemHandler{
		stations:          stations,
		sessions:          sessions,
		balances:          balances,
		heartbeatInterval: defaultHeartbeatInterval,
		transactionLocks:  utility.NewKeyedMutex(),
		now:               time.Now,
	}
}

func (h *SystemHandler) SetLogger(logger internal.LogHandler) {
	h.logger = logger
}

func (h *SystemHandler) SetEventHandler(eventHandler internal.EventHandler) {
	h.eventHandler = eventHandler
}

func (h *SystemHandler) SetBillingService(evaluator meterEvaluator) {
	h.billing = evaluator
}

func (h *SystemHandler) SetTransactionStartListener(listener transactionStartListener) {
	h.startListener = listener
}

func (h *SystemHandler) SetHeartbeatInterval(seconds int) {
	if seconds > 0 {
		h.heartbeatInterval = seconds
	}
}

func (h *SystemHandler) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), handlerTimeout)
}

// idTagInfo authorization of a tag at the current time, Invalid when the tag is not known
func (h *SystemHandler) idTagInfo(ctx context.Context, feature, chargePointId, idTag string) *types.IdTagInfo {
	if idTag == "" {
		return types.NewIdTagInfo(types.AuthorizationStatusInvalid)
	}
	userTag, err := h.balances.GetUserTag(ctx, idTag)
	if err != nil {
		if !errors.Is(err, internal.ErrNotFound) {
			h.logger.Error("get user tag", err)
		}
		h.logger.FeatureEvent(feature, chargePointId, fmt.Sprintf("unknown id tag %s", idTag))
		return types.NewIdTagInfo(types.AuthorizationStatusInvalid)
	}
	return userTag.IdTagInfo(h.now())
}

func (h *SystemHandler) OnBootNotification(chargePointId string, request *core.BootNotificationRequest) (confirmation *core.BootNotificationResponse, err error) {
	ctx, cancel := h.context()
	defer cancel()
	now := h.now()

	regStatus := core.RegistrationStatusRejected
	chargePoint, err := h.stations.GetChargePoint(ctx, chargePointId)
	switch {
	case errors.Is(err, internal.ErrNotFound):
		h.logger.Warn(fmt.Sprintf("[%s] %s: charge point not registered", chargePointId, request.GetFeatureName()))
	case err != nil:
		// the station retries a pending registration
		h.logger.Error("get charge point", err)
		regStatus = core.RegistrationStatusPending
	default:
		regStatus = core.GetRegistrationStatus(chargePoint.RegistrationStatus)
		info := models.BootInfo{
			Vendor:                request.ChargePointVendor,
			Model:                 request.ChargePointModel,
			SerialNumber:          request.ChargePointSerialNumber,
			ChargeBoxSerialNumber: request.ChargeBoxSerialNumber,
			FirmwareVersion:       request.FirmwareVersion,
			Iccid:                 request.Iccid,
			Imsi:                  request.Imsi,
			MeterType:             request.MeterType,
			MeterSerialNumber:     request.MeterSerialNumber,
		}
		if err = h.stations.UpdateBootInfo(ctx, chargePointId, info, now); err != nil {
			h.logger.Error("update boot info", err)
		}
	}

	if h.eventHandler != nil {
		h.eventHandler.OnStationBooted(&internal.EventMessage{
			ChargePointId: chargePointId,
			Time:          now,
			Status:        string(regStatus),
			Info:          fmt.Sprintf("%s %s, firmware %s", request.ChargePointVendor, request.ChargePointModel, request.FirmwareVersion),
		})
	}

	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, string(regStatus))
	return core.NewBootNotificationResponse(types.NewDateTime(now), h.heartbeatInterval, regStatus), nil
}

func (h *SystemHandler) OnAuthorize(chargePointId string, request *core.AuthorizeRequest) (confirmation *core.AuthorizeResponse, err error) {
	ctx, cancel := h.context()
	defer cancel()

	idTagInfo := h.idTagInfo(ctx, request.GetFeatureName(), chargePointId, request.IdTag)
	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("id tag: %s; authorization status: %s", request.IdTag, idTagInfo.Status))
	return core.NewAuthorizationResponse(idTagInfo), nil
}

func (h *SystemHandler) OnHeartbeat(chargePointId string, request *core.HeartbeatRequest) (confirmation *core.HeartbeatResponse, err error) {
	ctx, cancel := h.context()
	defer cancel()
	now := h.now()

	err = h.stations.UpdateHeartbeat(ctx, chargePointId, now)
	switch {
	case errors.Is(err, internal.ErrNotFound):
		h.logger.Debug(fmt.Sprintf("heartbeat from unknown charge point %s", chargePointId))
	case err != nil:
		h.logger.Error("update heartbeat", err)
	default:
		h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, "")
	}
	return core.NewHeartbeatResponse(types.NewDateTime(now)), nil
}

func (h *SystemHandler) OnStatusNotification(chargePointId string, request *core.StatusNotificationRequest) (confirmation *core.StatusNotificationResponse, err error) {
	ctx, cancel := h.context()
	defer cancel()

	connector := &models.Connector{
		Id:              request.ConnectorId,
		ChargePointId:   chargePointId,
		Status:          string(request.Status),
		ErrorCode:       string(request.ErrorCode),
		Info:            request.Info,
		VendorId:        request.VendorId,
		VendorErrorCode: request.VendorErrorCode,
		Timestamp:       request.Timestamp.TimeOrNow(),
	}
	if err = h.stations.UpdateConnector(ctx, connector); err != nil {
		h.logger.Error("update connector", err)
	}

	if request.Status == core.ChargePointStatusFaulted && h.eventHandler != nil {
		h.eventHandler.OnStationFailure(&internal.EventMessage{
			ChargePointId: chargePointId,
			ConnectorId:   request.ConnectorId,
			Time:          connector.Timestamp,
			Status:        connector.Status,
			ErrorCode:     connector.ErrorCode,
			Info:          request.Info,
		})
	}

	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("connector #%d status %s, error %s", request.ConnectorId, request.Status, request.ErrorCode))
	return core.NewStatusNotificationResponse(), nil
}

func (h *SystemHandler) OnStartTransaction(chargePointId string, request *core.StartTransactionRequest) (confirmation *core.StartTransactionResponse, err error) {
	ctx, cancel := h.context()
	defer cancel()

	// authorization reflects the state before the transaction exists
	idTagInfo := h.idTagInfo(ctx, request.GetFeatureName(), chargePointId, request.IdTag)

	active, err := h.sessions.GetActiveTransactions(ctx, chargePointId, request.ConnectorId)
	if err != nil {
		h.logger.Error("get active transactions", err)
	}
	if len(active) > 0 {
		info := fmt.Sprintf("connector %d is busy with transaction #%d", request.ConnectorId, active[0].Id)
		h.logger.Warn(fmt.Sprintf("[%s] %s: %s", chargePointId, request.GetFeatureName(), info))
		counters.CountConsistencyViolation("start_on_busy_connector")
		if h.eventHandler != nil {
			h.eventHandler.OnConsistencyViolation(&internal.EventMessage{
				ChargePointId: chargePointId,
				ConnectorId:   request.ConnectorId,
				Time:          h.now(),
				IdTag:         request.IdTag,
				TransactionId: active[0].Id,
				Info:          info,
			})
		}
	}

	transaction := &models.Transaction{
		ChargePointId: chargePointId,
		ConnectorId:   request.ConnectorId,
		IdTag:         request.IdTag,
		ReservationId: request.ReservationId,
		MeterStart:    request.MeterStart,
		TimeStart:     request.Timestamp.TimeOrNow(),
	}
	transactionId, err := h.sessions.AddTransaction(ctx, transaction)
	if err != nil {
		h.logger.Error("add transaction", err)
		return core.NewStartTransactionResponse(idTagInfo, 0), nil
	}

	if h.startListener != nil {
		h.startListener.OnTransactionStarted(chargePointId, request.ConnectorId)
	}
	counters.TransactionStarted(chargePointId)
	if h.eventHandler != nil {
		h.eventHandler.OnTransactionStart(&internal.EventMessage{
			ChargePointId: chargePointId,
			ConnectorId:   transaction.ConnectorId,
			Time:          transaction.TimeStart,
			IdTag:         transaction.IdTag,
			TransactionId: transactionId,
			Status:        string(idTagInfo.Status),
			MeterValue:    float64(transaction.MeterStart),
		})
	}

	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("started transaction #%d for connector %d, id tag %s is %s", transactionId, transaction.ConnectorId, request.IdTag, idTagInfo.Status))
	return core.NewStartTransactionResponse(idTagInfo, transactionId), nil
}

func (h *SystemHandler) OnStopTransaction(chargePointId string, request *core.StopTransactionRequest) (confirmation *core.StopTransactionResponse, err error) {
	ctx, cancel := h.context()
	defer cancel()

	var idTagInfo *types.IdTagInfo
	if request.IdTag != "" {
		idTagInfo = h.idTagInfo(ctx, request.GetFeatureName(), chargePointId, request.IdTag)
	}

	unlock := h.transactionLocks.Lock(strconv.Itoa(request.TransactionId))
	defer unlock()

	transaction, err := h.sessions.CloseTransaction(ctx, request.TransactionId, models.TransactionStop{
		MeterStop: request.MeterStop,
		TimeStop:  request.Timestamp.TimeOrNow(),
		Reason:    string(request.Reason),
		StopActor: models.StopActorStation,
	})
	switch {
	case errors.Is(err, internal.ErrNotFound):
		h.logger.Warn(fmt.Sprintf("[%s] %s: transaction #%d not found", chargePointId, request.GetFeatureName(), request.TransactionId))
		return core.NewStopTransactionResponse(idTagInfo), nil
	case errors.Is(err, internal.ErrTransactionClosed):
		h.logger.Warn(fmt.Sprintf("[%s] %s: transaction #%d is already finished", chargePointId, request.GetFeatureName(), request.TransactionId))
		return core.NewStopTransactionResponse(idTagInfo), nil
	case err != nil:
		h.logger.Error("close transaction", err)
		return core.NewStopTransactionResponse(idTagInfo), nil
	}

	// transaction data may carry the readings of begin and end of the transaction
	if meters := models.NewTransactionMeters(request.TransactionData); len(meters) > 0 {
		if err = h.sessions.AddMeterValues(ctx, transaction.Id, meters); err != nil {
			h.logger.Error("add transaction data", err)
		}
	}

	consumed := transaction.Consumed()
	price := 0.0
	if chargePoint, err := h.stations.GetChargePoint(ctx, transaction.ChargePointId); err == nil {
		price = chargePoint.ConnectorPrice(transaction.ConnectorId)
	}
	counters.TransactionFinished(chargePointId, consumed)
	if h.eventHandler != nil {
		h.eventHandler.OnTransactionStop(&internal.EventMessage{
			ChargePointId: transaction.ChargePointId,
			ConnectorId:   transaction.ConnectorId,
			Time:          transaction.TimeStop,
			IdTag:         transaction.IdTag,
			TransactionId: transaction.Id,
			Status:        transaction.Reason,
			MeterValue:    float64(transaction.MeterStop),
			Consumed:      consumed,
			Price:         price,
			Amount:        consumed * price,
			Info:          fmt.Sprintf("consumed %s", utility.FormatEnergy(consumed)),
		})
	}

	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("stopped transaction #%d %s, consumed %s", transaction.Id, request.Reason, utility.FormatEnergy(consumed)))
	return core.NewStopTransactionResponse(idTagInfo), nil
}

func (h *SystemHandler) OnMeterValues(chargePointId string, request *core.MeterValuesRequest) (confirmation *core.MeterValuesResponse, err error) {
	if request.TransactionId == nil {
		h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("connector #%d: meter values outside of a transaction", request.ConnectorId))
		return core.NewMeterValuesResponse(), nil
	}
	transactionId := *request.TransactionId
	meters := models.NewTransactionMeters(request.MeterValue)
	if len(meters) == 0 {
		return core.NewMeterValuesResponse(), nil
	}

	ctx, cancel := h.context()
	defer cancel()

	// appending and billing of one transaction run one at a time
	unlock := h.transactionLocks.Lock(strconv.Itoa(transactionId))
	defer unlock()

	err = h.sessions.AddMeterValues(ctx, transactionId, meters)
	switch {
	case errors.Is(err, internal.ErrNotFound):
		h.logger.Warn(fmt.Sprintf("[%s] %s: transaction #%d not found", chargePointId, request.GetFeatureName(), transactionId))
		return core.NewMeterValuesResponse(), nil
	case err != nil:
		h.logger.Error("add meter values", err)
		return core.NewMeterValuesResponse(), nil
	}
	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("transaction #%d: %d samples on connector #%d", transactionId, len(meters), request.ConnectorId))

	// a batch without an energy reading would bill the previous delta again
	if h.billing != nil && billing.HasEnergyReading(meters) {
		result, err := h.billing.Evaluate(ctx, transactionId)
		if err != nil {
			h.logger.Error(fmt.Sprintf("billing of transaction #%d", transactionId), err)
		} else {
			h.logger.Debug(fmt.Sprintf("transaction #%d billing: %s", transactionId, result.Decision))
		}
	}
	return core.NewMeterValuesResponse(), nil
}

func (h *SystemHandler) OnDataTransfer(chargePointId string, request *core.DataTransferRequest) (confirmation *core.DataTransferResponse, err error) {
	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("vendor %s message %s: %v", request.VendorId, request.MessageId, request.Data))
	return core.NewDataTransferResponse(core.DataTransferStatusAccepted), nil
}

func (h *SystemHandler) OnDiagnosticsStatusNotification(chargePointId string, request *firmware.DiagnosticsStatusNotificationRequest) (confirmation *firmware.DiagnosticsStatusNotificationResponse, err error) {
	ctx, cancel := h.context()
	defer cancel()
	if err = h.stations.UpdateDiagnosticsStatus(ctx, chargePointId, string(request.Status)); err != nil && !errors.Is(err, internal.ErrNotFound) {
		h.logger.Error("update diagnostics status", err)
	}
	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("diagnostics status %s", request.Status))
	return firmware.NewDiagnosticsStatusNotificationResponse(), nil
}

func (h *SystemHandler) OnFirmwareStatusNotification(chargePointId string, request *firmware.StatusNotificationRequest) (confirmation *firmware.StatusNotificationResponse, err error) {
	ctx, cancel := h.context()
	defer cancel()
	if err = h.stations.UpdateFirmwareStatus(ctx, chargePointId, string(request.Status)); err != nil && !errors.Is(err, internal.ErrNotFound) {
		h.logger.Error("update firmware status", err)
	}
	h.logger.FeatureEvent(request.GetFeatureName(), chargePointId, fmt.Sprintf("firmware status %s", request.Status))
	return firmware.NewStatusNotificationResponse(), nil
}
