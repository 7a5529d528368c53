package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"evcs/internal"
	"evcs/metrics/counters"
	"evcs/utility"
)

const (
	featureName = "Admission"

	// LivenessThreshold a station silent for longer is not offered new sessions
	LivenessThreshold = 2 * time.Hour
	// MinStartBalance the tag balance must exceed it to start a session
	MinStartBalance = 20.0
)

// Controller checks operator start and stop requests against the station
// liveness, the active sessions of the connector and the tag balance
type Controller struct {
	stations   internal.StationDirectory
	sessions   internal.SessionLedger
	balances   internal.BalanceStore
	dispatcher internal.RemoteCommandDispatcher
	events     internal.EventHandler
	log        internal.LogHandler
	locks      *utility.KeyedMutex
	pendingTTL time.Duration
	pending    map[string]time.Time
	mux        sync.Mutex
	now        func() time.Time
}

func NewController(
	stations internal.StationDirectory,
	sessions internal.SessionLedger,
	balances internal.BalanceStore,
	dispatcher internal.RemoteCommandDispatcher,
	events internal.EventHandler,
	log internal.LogHandler,
	pendingTTL time.Duration,
) *Controller {
	return &Controller{
		stations:   stations,
		sessions:   sessions,
		balances:   balances,
		dispatcher: dispatcher,
		events:     events,
		log:        log,
		locks:      utility.NewKeyedMutex(),
		pendingTTL: pendingTTL,
		pending:    make(map[string]time.Time),
		now:        time.Now,
	}
}

func (c *Controller) RemoteStart(ctx context.Context, chargePointId string, connectorId int, idTag string) (Outcome, error) {
	key := utility.ConnectorKey(chargePointId, connectorId)
	outcome, err := c.reserveConnector(ctx, key, chargePointId, connectorId, idTag)
	if err != nil || outcome != Dispatched {
		return outcome, err
	}

	// dispatch runs outside the connector lock; the reservation keeps other starts out
	// while a stop on the same connector is not held up by the station round trip
	c.log.FeatureEvent(featureName, chargePointId, fmt.Sprintf("remote start on connector %d for %s", connectorId, idTag))
	if err = c.dispatcher.SendRemoteStart(ctx, chargePointId, connectorId, idTag); err != nil {
		c.log.Error(fmt.Sprintf("remote start on %s", key), err)
		if errors.Is(err, internal.ErrNotConnected) {
			c.release(key)
		}
		return DispatchUnconfirmed, nil
	}
	return Dispatched, nil
}

// reserveConnector runs the admission checks under the connector lock and reserves
// the connector when all of them pass, reported as Dispatched
func (c *Controller) reserveConnector(ctx context.Context, key, chargePointId string, connectorId int, idTag string) (Outcome, error) {
	unlock := c.locks.Lock(key)
	defer unlock()

	chargePoint, err := c.stations.GetChargePoint(ctx, chargePointId)
	if errors.Is(err, internal.ErrNotFound) {
		return LivenessUnknown, nil
	}
	if err != nil {
		return "", fmt.Errorf("get charge point %s: %w", chargePointId, err)
	}
	if chargePoint.LastHeartbeat == nil {
		return LivenessUnknown, nil
	}
	if c.now().Sub(*chargePoint.LastHeartbeat) > LivenessThreshold {
		return LivenessStale, nil
	}

	active, err := c.sessions.GetActiveTransactions(ctx, chargePointId, connectorId)
	if err != nil {
		return "", fmt.Errorf("get active transactions on %s: %w", key, err)
	}
	if len(active) > 0 || c.isReserved(key) {
		return AlreadyActive, nil
	}

	balance := 0.0
	userTag, err := c.balances.GetUserTag(ctx, idTag)
	switch {
	case err == nil:
		balance = userTag.Balance
	case !errors.Is(err, internal.ErrNotFound):
		return "", fmt.Errorf("get user tag %s: %w", idTag, err)
	}
	if balance <= MinStartBalance {
		return InsufficientBalance, nil
	}

	c.reserve(key)
	return Dispatched, nil
}

func (c *Controller) RemoteStop(ctx context.Context, chargePointId string, connectorId int) (Outcome, error) {
	key := utility.ConnectorKey(chargePointId, connectorId)
	unlock := c.locks.Lock(key)
	defer unlock()

	active, err := c.sessions.GetActiveTransactions(ctx, chargePointId, connectorId)
	if err != nil {
		return "", fmt.Errorf("get active transactions on %s: %w", key, err)
	}
	switch len(active) {
	case 0:
		return NotActive, nil
	case 1:
	default:
		ids := make([]int, 0, len(active))
		for _, transaction := range active {
			ids = append(ids, transaction.Id)
		}
		info := fmt.Sprintf("%d active transactions on connector %d: %v", len(active), connectorId, ids)
		c.log.Warn(fmt.Sprintf("[%s] %s: %s", chargePointId, featureName, info))
		counters.CountConsistencyViolation("multiple_active_transactions")
		c.events.OnConsistencyViolation(&internal.EventMessage{
			ChargePointId: chargePointId,
			ConnectorId:   connectorId,
			Time:          c.now(),
			Info:          info,
		})
		return Ambiguous, nil
	}

	transaction := active[0]
	c.log.FeatureEvent(featureName, chargePointId, fmt.Sprintf("remote stop of transaction #%d", transaction.Id))
	if err = c.dispatcher.SendRemoteStop(ctx, chargePointId, transaction.Id); err != nil {
		c.log.Error(fmt.Sprintf("remote stop of #%d", transaction.Id), err)
		return DispatchUnconfirmed, nil
	}
	return Dispatched, nil
}

// OnTransactionStarted releases the reservation made by a remote start;
// from now on the active transaction itself blocks further starts
func (c *Controller) OnTransactionStarted(chargePointId string, connectorId int) {
	c.release(utility.ConnectorKey(chargePointId, connectorId))
}

func (c *Controller) reserve(key string) {
	c.mux.Lock()
	defer c.mux.Unlock()
	c.pending[key] = c.now().Add(c.pendingTTL)
}

func (c *Controller) release(key string) {
	c.mux.Lock()
	defer c.mux.Unlock()
	delete(c.pending, key)
}

func (c *Controller) isReserved(key string) bool {
	c.mux.Lock()
	defer c.mux.Unlock()
	expires, ok := c.pending[key]
	if !ok {
		return false
	}
	if !c.now().Before(expires) {
		delete(c.pending, key)
		return false
	}
	return true
}
