package utility

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

func NewUUID() string {
	return uuid.New().String()
}

// ConnectorKey key of a charge point connector, like "CP01_2"
func ConnectorKey(chargePointId string, connectorId int) string {
	return chargePointId + "_" + strconv.Itoa(connectorId)
}

// FormatAmount formats money amounts like 102.3 to "102.30"
func FormatAmount(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

// FormatEnergy formats kWh values with one decimal
func FormatEnergy(kwh float64) string {
	return fmt.Sprintf("%0.1f kWh", kwh)
}
