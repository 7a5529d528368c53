package pusher

import (
	"time"

	"evcs/internal"
	"evcs/utility"
)

type Channel string
type Event string

const (
	ActiveTransactions Channel = "active_transactions"

	TransactionStart    Event = "transaction_start"
	TransactionProgress Event = "transaction_progress"
	TransactionStop     Event = "transaction_stop"
)

type Message struct {
	Channel Channel
	Event   Event
	Data    *TransactionMessage
}

// TransactionMessage state of a charging session for the realtime view
type TransactionMessage struct {
	Key           string    `json:"key"`
	ChargePointId string    `json:"charge_point_id"`
	ConnectorId   int       `json:"connector_id"`
	TransactionId int       `json:"transaction_id"`
	IdTag         string    `json:"id_tag"`
	Time          time.Time `json:"time"`
	MeterValue    float64   `json:"meter_value"`
	Consumed      float64   `json:"consumed"`
	Price         float64   `json:"price"`
	Amount        float64   `json:"amount"`
	Balance       float64   `json:"balance,omitempty"`
	Finished      bool      `json:"finished"`
}

func newTransactionMessage(event *internal.EventMessage) *TransactionMessage {
	return &TransactionMessage{
		Key:           utility.ConnectorKey(event.ChargePointId, event.ConnectorId),
		ChargePointId: event.ChargePointId,
		ConnectorId:   event.ConnectorId,
		TransactionId: event.TransactionId,
		IdTag:         event.IdTag,
		Time:          event.Time,
		MeterValue:    event.MeterValue,
		Consumed:      event.Consumed,
		Price:         event.Price,
		Amount:        event.Amount,
		Balance:       event.Balance,
	}
}
