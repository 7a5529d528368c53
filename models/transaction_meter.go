package models

import (
	"evcs/types"
	"strconv"
	"strings"
	"time"
)

// TransactionMeter one sampled value attached to a transaction, in arrival order
type TransactionMeter struct {
	Time      time.Time `json:"time" bson:"time"`
	Measurand string    `json:"measurand" bson:"measurand"`
	Value     string    `json:"value" bson:"value"`
	Unit      string    `json:"unit" bson:"unit"`
	Context   string    `json:"context,omitempty" bson:"context,omitempty"`
	Phase     string    `json:"phase,omitempty" bson:"phase,omitempty"`
	Location  string    `json:"location,omitempty" bson:"location,omitempty"`
}

// NewTransactionMeters flattens the protocol meter values keeping the order of the batch
func NewTransactionMeters(values []types.MeterValue) []TransactionMeter {
	var meters []TransactionMeter
	for _, value := range values {
		timestamp := value.Timestamp.TimeOrNow()
		for _, sample := range value.SampledValue {
			meters = append(meters, TransactionMeter{
				Time:      timestamp,
				Measurand: string(sample.GetMeasurand()),
				Value:     sample.Value,
				Unit:      string(sample.Unit),
				Context:   string(sample.Context),
				Phase:     string(sample.Phase),
				Location:  string(sample.Location),
			})
		}
	}
	return meters
}

// EnergyWh returns the energy import register reading in Wh; false if the sample
// is of another measurand or its value does not parse
func (m *TransactionMeter) EnergyWh() (float64, bool) {
	if m.Measurand != string(types.MeasurandEnergyActiveImportRegister) {
		return 0, false
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(m.Value), 64)
	if err != nil {
		return 0, false
	}
	if m.Unit == string(types.UnitOfMeasureKWh) {
		value *= 1000
	}
	return value, true
}
