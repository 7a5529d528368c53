package errorlistener

import (
	"context"
	"fmt"
	"time"

	"evcs/internal"
	"evcs/metrics/counters"
	"evcs/models"
)

const (
	featureName    = "ErrorListener"
	storageTimeout = 5 * time.Second
)

type Database interface {
	WriteError(ctx context.Context, data *models.ErrorData) error
	GetTodayErrorCount(ctx context.Context) ([]*models.ErrorCounter, error)
}

// ErrorListener records station failures and keeps the error counters current
type ErrorListener struct {
	db  Database
	log internal.LogHandler
}

func NewErrorListener(db Database, log internal.LogHandler) *ErrorListener {
	return &ErrorListener{db: db, log: log}
}

func (e *ErrorListener) OnStationFailure(event *internal.EventMessage) {
	counters.ObserveError(event.ChargePointId, event.ErrorCode)
	if e.db == nil {
		return
	}
	data := &models.ErrorData{
		ChargePointID: event.ChargePointId,
		ConnectorID:   event.ConnectorId,
		ErrorCode:     event.ErrorCode,
		Info:          event.Info,
		Status:        event.Status,
		Timestamp:     event.Time,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), storageTimeout)
		defer cancel()
		if err := e.db.WriteError(ctx, data); err != nil {
			e.log.Error("writing error data to database", err)
			return
		}
		e.observeErrors(ctx)
	}()
}

func (e *ErrorListener) observeErrors(ctx context.Context) {
	counter, err := e.db.GetTodayErrorCount(ctx)
	if err != nil {
		e.log.Error("getting today's error count", err)
		return
	}
	for _, c := range counter {
		e.log.FeatureEvent(featureName, c.ChargePointID, fmt.Sprintf("updating counter: %v -- %d", c.ErrorCode, c.Count))
		counters.ErrorsToday(c.ChargePointID, c.ErrorCode, c.Count)
	}
}

func (e *ErrorListener) OnStationBooted(_ *internal.EventMessage)        {}
func (e *ErrorListener) OnTransactionStart(_ *internal.EventMessage)     {}
func (e *ErrorListener) OnTransactionStop(_ *internal.EventMessage)      {}
func (e *ErrorListener) OnSessionProgress(_ *internal.EventMessage)      {}
func (e *ErrorListener) OnConsistencyViolation(_ *internal.EventMessage) {}
