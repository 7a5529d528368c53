package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"evcs/internal"
	"evcs/metrics/counters"
	"evcs/ocpp"
	"evcs/ocpp/core"
	"evcs/types"
)

// pending requests older than this many command timeouts are forgotten
const pendingRetention = 10

type requestSender interface {
	SendRequest(ctx context.Context, chargePointId string, request ocpp.Request) (string, error)
}

type pendingCommand struct {
	chargePointId string
	feature       string
	sent          time.Time
}

// Dispatcher sends remote commands without waiting for the station answer;
// answers are matched by unique id and only logged and counted
type Dispatcher struct {
	sender  requestSender
	timeout time.Duration
	logger  internal.LogHandler
	pending map[string]pendingCommand
	mux     sync.Mutex
}

func NewDispatcher(sender requestSender, timeout time.Duration, logger internal.LogHandler) *Dispatcher {
	return &Dispatcher{
		sender:  sender,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]pendingCommand),
	}
}

func (d *Dispatcher) SendRemoteStart(ctx context.Context, chargePointId string, connectorId int, idTag string) error {
	return d.send(ctx, chargePointId, core.NewRemoteStartTransactionRequest(idTag, connectorId))
}

func (d *Dispatcher) SendRemoteStop(ctx context.Context, chargePointId string, transactionId int) error {
	return d.send(ctx, chargePointId, core.NewRemoteStopTransactionRequest(transactionId))
}

func (d *Dispatcher) send(ctx context.Context, chargePointId string, request ocpp.Request) error {
	feature := request.GetFeatureName()
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	uniqueId, err := d.sender.SendRequest(ctx, chargePointId, request)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = internal.ErrCommandTimeout
		}
		counters.CountRemoteCommand(feature, sendResult(err))
		return fmt.Errorf("%s to %s: %w", feature, chargePointId, err)
	}
	counters.CountRemoteCommand(feature, "sent")

	now := time.Now()
	d.mux.Lock()
	defer d.mux.Unlock()
	for id, command := range d.pending {
		if now.Sub(command.sent) > pendingRetention*d.timeout {
			delete(d.pending, id)
		}
	}
	d.pending[uniqueId] = pendingCommand{chargePointId: chargePointId, feature: feature, sent: now}
	d.logger.FeatureEvent(feature, chargePointId, fmt.Sprintf("sent request %s", uniqueId))
	return nil
}

func sendResult(err error) string {
	switch {
	case errors.Is(err, internal.ErrNotConnected):
		return "not_connected"
	case errors.Is(err, internal.ErrCommandTimeout):
		return "timeout"
	default:
		return "failed"
	}
}

func (d *Dispatcher) take(uniqueId string) (pendingCommand, bool) {
	d.mux.Lock()
	defer d.mux.Unlock()
	command, ok := d.pending[uniqueId]
	if ok {
		delete(d.pending, uniqueId)
	}
	return command, ok
}

// OnCallResult records the station answer to a dispatched command
func (d *Dispatcher) OnCallResult(chargePointId string, result *RawResult) {
	command, ok := d.take(result.UniqueId)
	if !ok {
		d.logger.Debug(fmt.Sprintf("result from %s for unknown request %s", chargePointId, result.UniqueId))
		return
	}
	status := "unknown"
	responseType, err := getResponseType(command.feature)
	if err == nil {
		var response ocpp.Response
		response, err = ParseRawJsonResponse(result.Payload, responseType)
		if err == nil {
			status = string(remoteStatus(response))
		}
	}
	if err != nil {
		d.logger.Warn(fmt.Sprintf("[%s] %s: unreadable result %s: %s", chargePointId, command.feature, string(result.Payload), err))
	}
	counters.CountRemoteCommand(command.feature, status)
	d.logger.FeatureEvent(command.feature, chargePointId, fmt.Sprintf("station answered %s", status))
}

// OnCallError records a station error answer to a dispatched command
func (d *Dispatcher) OnCallError(chargePointId string, callError *CallError) {
	command, ok := d.take(callError.UniqueId)
	if !ok {
		d.logger.Warn(fmt.Sprintf("error from %s for unknown request %s: %s", chargePointId, callError.UniqueId, callError))
		return
	}
	counters.CountRemoteCommand(command.feature, "error")
	d.logger.Warn(fmt.Sprintf("[%s] %s: station error %s", chargePointId, command.feature, callError))
}

func (d *Dispatcher) pendingCount() int {
	d.mux.Lock()
	defer d.mux.Unlock()
	return len(d.pending)
}

func remoteStatus(response ocpp.Response) types.RemoteStartStopStatus {
	switch r := response.(type) {
	case *core.RemoteStartTransactionResponse:
		return r.Status
	case *core.RemoteStopTransactionResponse:
		return r.Status
	}
	return ""
}
