package models

import "time"

type StopActor string

const (
	StopActorStation     StopActor = "station"
	StopActorOperatorApi StopActor = "operator_api"
	StopActorBilling     StopActor = "billing"
)

type Transaction struct {
	Id            int                `json:"transaction_id" bson:"transaction_id"`
	IsFinished    bool               `json:"is_finished" bson:"is_finished"`
	ConnectorId   int                `json:"connector_id" bson:"connector_id"`
	ChargePointId string             `json:"charge_point_id" bson:"charge_point_id"`
	IdTag         string             `json:"id_tag" bson:"id_tag"`
	ReservationId *int               `json:"reservation_id,omitempty" bson:"reservation_id,omitempty"`
	MeterStart    int                `json:"meter_start" bson:"meter_start"`
	MeterStop     int                `json:"meter_stop" bson:"meter_stop"`
	TimeStart     time.Time          `json:"time_start" bson:"time_start"`
	TimeStop      time.Time          `json:"time_stop" bson:"time_stop"`
	Reason        string             `json:"reason" bson:"reason"`
	StopActor     StopActor          `json:"stop_actor,omitempty" bson:"stop_actor,omitempty"`
	MeterValues   []TransactionMeter `json:"meter_values" bson:"meter_values"`
}

// TransactionStop fields written once when a transaction is closed
type TransactionStop struct {
	MeterStop int       `json:"meter_stop" bson:"meter_stop"`
	TimeStop  time.Time `json:"time_stop" bson:"time_stop"`
	Reason    string    `json:"reason" bson:"reason"`
	StopActor StopActor `json:"stop_actor" bson:"stop_actor"`
}

func (t *Transaction) Close(stop TransactionStop) {
	t.IsFinished = true
	t.MeterStop = stop.MeterStop
	t.TimeStop = stop.TimeStop
	t.Reason = stop.Reason
	t.StopActor = stop.StopActor
}

// Consumed energy in kWh between start and stop meter readings
func (t *Transaction) Consumed() float64 {
	if !t.IsFinished || t.MeterStop < t.MeterStart {
		return 0
	}
	return float64(t.MeterStop-t.MeterStart) / 1000
}
