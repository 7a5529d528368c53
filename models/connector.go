package models

import "time"

// Connector connector 0 stands for the whole charge point
type Connector struct {
	Id              int       `json:"connector_id" bson:"connector_id"`
	ChargePointId   string    `json:"charge_point_id" bson:"charge_point_id"`
	Status          string    `json:"status" bson:"status"`
	ErrorCode       string    `json:"error_code" bson:"error_code"`
	Info            string    `json:"info" bson:"info"`
	VendorId        string    `json:"vendor_id" bson:"vendor_id"`
	VendorErrorCode string    `json:"vendor_error_code" bson:"vendor_error_code"`
	Timestamp       time.Time `json:"timestamp" bson:"timestamp"`
}
