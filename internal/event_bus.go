package internal

import "sync"

// EventBus fans every event out to the registered listeners
type EventBus struct {
	listeners []EventHandler
	mux       sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{}
}

func (b *EventBus) AddEventListener(listener EventHandler) {
	if listener == nil {
		return
	}
	b.mux.Lock()
	defer b.mux.Unlock()
	b.listeners = append(b.listeners, listener)
}

func (b *EventBus) notify(event *EventMessage, send func(EventHandler, *EventMessage)) {
	b.mux.RLock()
	defer b.mux.RUnlock()
	for _, listener := range b.listeners {
		copied := *event
		send(listener, &copied)
	}
}

func (b *EventBus) OnStationBooted(event *EventMessage) {
	event.Type = StationBooted
	b.notify(event, EventHandler.OnStationBooted)
}

func (b *EventBus) OnStationFailure(event *EventMessage) {
	event.Type = StationFailure
	b.notify(event, EventHandler.OnStationFailure)
}

func (b *EventBus) OnTransactionStart(event *EventMessage) {
	event.Type = TransactionStarted
	b.notify(event, EventHandler.OnTransactionStart)
}

func (b *EventBus) OnTransactionStop(event *EventMessage) {
	event.Type = TransactionEnded
	b.notify(event, EventHandler.OnTransactionStop)
}

func (b *EventBus) OnSessionProgress(event *EventMessage) {
	event.Type = SessionProgress
	b.notify(event, EventHandler.OnSessionProgress)
}

func (b *EventBus) OnConsistencyViolation(event *EventMessage) {
	event.Type = ConsistencyViolation
	b.notify(event, EventHandler.OnConsistencyViolation)
}
