package models

import "time"

type ChargePoint struct {
	Id                    string     `json:"charge_point_id" bson:"charge_point_id"`
	RegistrationStatus    string     `json:"registration_status" bson:"registration_status"`
	Title                 string     `json:"title" bson:"title"`
	Description           string     `json:"description" bson:"description"`
	Vendor                string     `json:"vendor" bson:"vendor"`
	Model                 string     `json:"model" bson:"model"`
	SerialNumber          string     `json:"serial_number" bson:"serial_number"`
	ChargeBoxSerialNumber string     `json:"charge_box_serial_number" bson:"charge_box_serial_number"`
	FirmwareVersion       string     `json:"firmware_version" bson:"firmware_version"`
	Iccid                 string     `json:"iccid" bson:"iccid"`
	Imsi                  string     `json:"imsi" bson:"imsi"`
	MeterType             string     `json:"meter_type" bson:"meter_type"`
	MeterSerialNumber     string     `json:"meter_serial_number" bson:"meter_serial_number"`
	FirmwareStatus        string     `json:"firmware_status" bson:"firmware_status"`
	DiagnosticsStatus     string     `json:"diagnostics_status" bson:"diagnostics_status"`
	Prices                []float64  `json:"prices" bson:"prices"`
	LastHeartbeat         *time.Time `json:"last_heartbeat,omitempty" bson:"last_heartbeat,omitempty"`
}

// ConnectorPrice price per kWh for a 1-based connector number, zero if not priced
func (cp *ChargePoint) ConnectorPrice(connectorId int) float64 {
	if connectorId < 1 || connectorId > len(cp.Prices) {
		return 0
	}
	return cp.Prices[connectorId-1]
}

// BootInfo station metadata reported in a boot notification
type BootInfo struct {
	Vendor                string `json:"vendor" bson:"vendor"`
	Model                 string `json:"model" bson:"model"`
	SerialNumber          string `json:"serial_number" bson:"serial_number"`
	ChargeBoxSerialNumber string `json:"charge_box_serial_number" bson:"charge_box_serial_number"`
	FirmwareVersion       string `json:"firmware_version" bson:"firmware_version"`
	Iccid                 string `json:"iccid" bson:"iccid"`
	Imsi                  string `json:"imsi" bson:"imsi"`
	MeterType             string `json:"meter_type" bson:"meter_type"`
	MeterSerialNumber     string `json:"meter_serial_number" bson:"meter_serial_number"`
}

func (cp *ChargePoint) ApplyBootInfo(info BootInfo) {
	cp.Vendor = info.Vendor
	cp.Model = info.Model
	cp.SerialNumber = info.SerialNumber
	cp.ChargeBoxSerialNumber = info.ChargeBoxSerialNumber
	cp.FirmwareVersion = info.FirmwareVersion
	cp.Iccid = info.Iccid
	cp.Imsi = info.Imsi
	cp.MeterType = info.MeterType
	cp.MeterSerialNumber = info.MeterSerialNumber
}
