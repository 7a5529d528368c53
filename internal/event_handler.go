package internal

import "time"

type EventType string

const (
	StationBooted        EventType = "station_booted"
	StationFailure       EventType = "station_failure"
	TransactionStarted   EventType = "transaction_started"
	TransactionEnded     EventType = "transaction_ended"
	SessionProgress      EventType = "session_progress"
	ConsistencyViolation EventType = "consistency_violation"
)

// EventHandler receives notifications; implementations must not block the caller
type EventHandler interface {
	OnStationBooted(event *EventMessage)
	OnStationFailure(event *EventMessage)
	OnTransactionStart(event *EventMessage)
	OnTransactionStop(event *EventMessage)
	OnSessionProgress(event *EventMessage)
	OnConsistencyViolation(event *EventMessage)
}

type EventMessage struct {
	Type          EventType `json:"type" bson:"type"`
	ChargePointId string    `json:"charge_point_id" bson:"charge_point_id"`
	ConnectorId   int       `json:"connector_id" bson:"connector_id"`
	Time          time.Time `json:"time" bson:"time"`
	IdTag         string    `json:"id_tag" bson:"id_tag"`
	TransactionId int       `json:"transaction_id" bson:"transaction_id"`
	Status        string    `json:"status" bson:"status"`
	ErrorCode     string    `json:"error_code,omitempty" bson:"error_code,omitempty"`
	Info          string    `json:"info" bson:"info"`
	// MeterValue last energy register reading, Wh
	MeterValue float64 `json:"meter_value,omitempty" bson:"meter_value,omitempty"`
	// Consumed energy of the session so far, kWh
	Consumed float64 `json:"consumed,omitempty" bson:"consumed,omitempty"`
	Price    float64 `json:"price,omitempty" bson:"price,omitempty"`
	Amount   float64 `json:"amount,omitempty" bson:"amount,omitempty"`
	Balance  float64 `json:"balance,omitempty" bson:"balance,omitempty"`
}
