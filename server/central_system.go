package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evcs/admission"
	"evcs/billing"
	"evcs/internal"
	"evcs/internal/config"
	"evcs/internal/errorlistener"
	"evcs/internal/memory"
	"evcs/metrics"
	"evcs/ocpp"
	"evcs/ocpp/core"
	"evcs/ocpp/firmware"
	"evcs/pusher"
	"evcs/telegram"
	"evcs/types"
	"evcs/utility"
)

const shutdownTimeout = 10 * time.Second

type CentralSystem struct {
	server          *Server
	api             *Api
	metrics         *metrics.Server
	logger          internal.LogHandler
	coreHandler     core.SystemHandler
	firmwareHandler firmware.SystemHandler
	dispatcher      *Dispatcher
	database        *internal.MongoDB
	bot             *telegram.TgBot
	pusher          *pusher.MessagePusher
}

func (cs *CentralSystem) SetCoreHandler(handler core.SystemHandler) {
	cs.coreHandler = handler
}

func (cs *CentralSystem) SetFirmwareHandler(handler firmware.SystemHandler) {
	cs.firmwareHandler = handler
}

func (cs *CentralSystem) handleIncomingMessage(ws *WebSocket, data []byte) error {
	chargePointId := ws.ID()
	message, err := utility.ParseJson(data)
	if err != nil {
		return utility.Wrap("parsing message", err)
	}
	callType, err := MessageType(message)
	if err != nil {
		return err
	}
	switch callType {
	case CallTypeResult:
		result, err := ParseResult(message)
		if err != nil {
			cs.logger.Warn(fmt.Sprintf("invalid result received from charge point %s: %s", chargePointId, string(data)))
			return nil
		}
		cs.dispatcher.OnCallResult(chargePointId, result)
		return nil
	case CallTypeError:
		callError, err := ParseError(message)
		if err != nil {
			cs.logger.Warn(fmt.Sprintf("invalid error received from charge point %s: %s", chargePointId, string(data)))
			return nil
		}
		cs.dispatcher.OnCallError(chargePointId, callError)
		return nil
	case CallTypeRequest:
	default:
		return utility.Err(fmt.Sprintf("unsupported message type %d", callType))
	}

	callRequest, err := ParseRequest(message)
	if err != nil {
		var callError *CallError
		if errors.As(err, &callError) && callError.UniqueId != "" {
			cs.logger.Warn(fmt.Sprintf("[%s] rejected request: %s", chargePointId, callError))
			return cs.server.SendError(ws, callError)
		}
		return err
	}

	confirmation, err := cs.handleRequest(chargePointId, callRequest.Payload)
	if err != nil {
		return cs.server.SendError(ws, CreateCallError(callRequest.UniqueId, types.InternalError, err.Error()))
	}
	return cs.server.SendResponse(ws, callRequest.UniqueId, confirmation)
}

// handleRequest routes a charge point request to its handler
func (cs *CentralSystem) handleRequest(chargePointId string, request ocpp.Request) (confirmation ocpp.Response, err error) {
	action := request.GetFeatureName()
	switch action {
	case core.BootNotificationFeatureName:
		confirmation, err = cs.coreHandler.OnBootNotification(chargePointId, request.(*core.BootNotificationRequest))
	case core.AuthorizeFeatureName:
		confirmation, err = cs.coreHandler.OnAuthorize(chargePointId, request.(*core.AuthorizeRequest))
	case core.HeartbeatFeatureName:
		confirmation, err = cs.coreHandler.OnHeartbeat(chargePointId, request.(*core.HeartbeatRequest))
	case core.StartTransactionFeatureName:
		confirmation, err = cs.coreHandler.OnStartTransaction(chargePointId, request.(*core.StartTransactionRequest))
	case core.StopTransactionFeatureName:
		confirmation, err = cs.coreHandler.OnStopTransaction(chargePointId, request.(*core.StopTransactionRequest))
	case core.MeterValuesFeatureName:
		confirmation, err = cs.coreHandler.OnMeterValues(chargePointId, request.(*core.MeterValuesRequest))
	case core.StatusNotificationFeatureName:
		confirmation, err = cs.coreHandler.OnStatusNotification(chargePointId, request.(*core.StatusNotificationRequest))
	case core.DataTransferFeatureName:
		confirmation, err = cs.coreHandler.OnDataTransfer(chargePointId, request.(*core.DataTransferRequest))
	case firmware.DiagnosticsStatusNotificationFeatureName:
		confirmation, err = cs.firmwareHandler.OnDiagnosticsStatusNotification(chargePointId, request.(*firmware.DiagnosticsStatusNotificationRequest))
	case firmware.StatusNotificationFeatureName:
		confirmation, err = cs.firmwareHandler.OnFirmwareStatusNotification(chargePointId, request.(*firmware.StatusNotificationRequest))
	default:
		err = fmt.Errorf("feature not supported: %s", action)
	}
	return confirmation, err
}

// Start runs the listeners until the context is cancelled or one of them fails
func (cs *CentralSystem) Start(ctx context.Context) error {
	errs := make(chan error, 3)
	run := func(name string, start func() error) {
		go func() {
			if err := start(); err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
			}
		}()
	}
	run("websocket server", cs.server.Start)
	run("api server", cs.api.Start)
	if cs.metrics != nil {
		run("metrics server", cs.metrics.Start)
	}
	if cs.bot != nil {
		cs.bot.Start()
	}
	if cs.pusher != nil {
		cs.pusher.Start()
	}

	var err error
	select {
	case <-ctx.Done():
		cs.logger.Debug("shutting down")
	case err = <-errs:
		cs.logger.Error("listener failed", err)
	}
	cs.Shutdown()
	return err
}

func (cs *CentralSystem) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := cs.server.Shutdown(ctx); err != nil {
		cs.logger.Error("websocket server shutdown", err)
	}
	if err := cs.api.Shutdown(ctx); err != nil {
		cs.logger.Error("api server shutdown", err)
	}
	if cs.metrics != nil {
		if err := cs.metrics.Shutdown(ctx); err != nil {
			cs.logger.Error("metrics server shutdown", err)
		}
	}
	if cs.bot != nil {
		cs.bot.Stop()
	}
	if cs.pusher != nil {
		cs.pusher.Stop()
	}
	if cs.database != nil {
		if err := cs.database.Close(ctx); err != nil {
			cs.logger.Error("mongodb disconnect", err)
		}
	}
}

func NewCentralSystem(conf *config.Config, logger *internal.Logger) (*CentralSystem, error) {
	cs := &CentralSystem{logger: logger}

	var (
		stations internal.StationDirectory
		sessions internal.SessionLedger
		balances internal.BalanceStore
		errorDb  errorlistener.Database
	)
	if conf.Mongo.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		database, err := internal.NewMongoClient(ctx, conf)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("mongodb setup failed: %w", err)
		}
		cs.database = database
		stations, sessions, balances, errorDb = database, database, database, database
		logger.SetDatabase(database)
		logger.Debug("mongodb is configured and enabled")
	} else {
		stations = memory.NewStationDirectory()
		sessions = memory.NewSessionLedger()
		balances = memory.NewBalanceStore()
		logger.Debug("database is disabled, using in-memory storage")
	}

	events := internal.NewEventBus()
	events.AddEventListener(errorlistener.NewErrorListener(errorDb, logger))

	if conf.Telegram.Enabled {
		bot, err := telegram.NewBot(conf.Telegram.ApiKey, logger)
		if err != nil {
			return nil, fmt.Errorf("telegram bot setup failed: %w", err)
		}
		bot.SetStations(stations)
		if cs.database != nil {
			bot.SetDatabase(cs.database)
		}
		events.AddEventListener(bot)
		cs.bot = bot
		logger.Debug("telegram bot is configured and enabled")
	}

	messagePusher, err := pusher.NewPusher(conf, logger)
	if err != nil {
		return nil, fmt.Errorf("pusher setup failed: %w", err)
	}
	if messagePusher != nil {
		events.AddEventListener(messagePusher)
		cs.pusher = messagePusher
		logger.Debug("pusher service is configured and enabled")
	}

	// websocket listener
	wsServer := NewServer(conf, logger)
	wsServer.AddSupportedSupProtocol(types.SubProtocol16)
	wsServer.SetMessageHandler(cs.handleIncomingMessage)
	cs.server = wsServer

	cs.dispatcher = NewDispatcher(wsServer, conf.CommandTimeoutDuration(), logger)
	evaluator := billing.NewEvaluator(stations, sessions, balances, cs.dispatcher, events, logger)
	controller := admission.NewController(stations, sessions, balances, cs.dispatcher, events, logger, conf.StartPendingDuration())

	// charge point requests handler
	systemHandler := NewSystemHandler(stations, sessions, balances)
	systemHandler.SetLogger(logger)
	systemHandler.SetEventHandler(events)
	systemHandler.SetBillingService(evaluator)
	systemHandler.SetTransactionStartListener(controller)
	systemHandler.SetHeartbeatInterval(conf.HeartbeatInterval)
	cs.SetCoreHandler(systemHandler)
	cs.SetFirmwareHandler(systemHandler)

	// operator api
	api := NewServerApi(conf, logger, logger.Zap())
	api.SetAdmissionController(controller)
	api.SetRepositories(stations, balances)
	cs.api = api

	cs.metrics = metrics.NewServer(conf, logger)
	return cs, nil
}
