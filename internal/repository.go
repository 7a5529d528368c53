package internal

import (
	"context"
	"errors"
	"time"

	"evcs/models"
)

var (
	// ErrNotFound lookup result for an absent entity
	ErrNotFound = errors.New("not found")
	// ErrTransactionClosed the transaction already has its stop fields set
	ErrTransactionClosed = errors.New("transaction already closed")
	// ErrNotConnected the charge point has no open websocket session
	ErrNotConnected = errors.New("charge point not connected")
	// ErrCommandTimeout the command was not written within the command timeout
	ErrCommandTimeout = errors.New("command send timed out")
)

// StationDirectory known charge points, their connectors and liveness
type StationDirectory interface {
	GetChargePoint(ctx context.Context, id string) (*models.ChargePoint, error)
	GetChargePoints(ctx context.Context) ([]*models.ChargePoint, error)
	AddChargePoint(ctx context.Context, chargePoint *models.ChargePoint) error
	UpdateBootInfo(ctx context.Context, id string, info models.BootInfo, heartbeat time.Time) error
	UpdateHeartbeat(ctx context.Context, id string, heartbeat time.Time) error
	UpdateFirmwareStatus(ctx context.Context, id string, status string) error
	UpdateDiagnosticsStatus(ctx context.Context, id string, status string) error
	UpdateConnector(ctx context.Context, connector *models.Connector) error
	GetConnector(ctx context.Context, chargePointId string, connectorId int) (*models.Connector, error)
}

// SessionLedger transactions with their meter values, append only
type SessionLedger interface {
	// AddTransaction assigns a new transaction id and stores the transaction
	AddTransaction(ctx context.Context, transaction *models.Transaction) (int, error)
	GetTransaction(ctx context.Context, id int) (*models.Transaction, error)
	// CloseTransaction sets the stop fields once; ErrTransactionClosed if already closed
	CloseTransaction(ctx context.Context, id int, stop models.TransactionStop) (*models.Transaction, error)
	AddMeterValues(ctx context.Context, id int, values []models.TransactionMeter) error
	GetMeterValues(ctx context.Context, id int) ([]models.TransactionMeter, error)
	GetActiveTransactions(ctx context.Context, chargePointId string, connectorId int) ([]*models.Transaction, error)
}

// BalanceStore authorization tags with prepaid balances
type BalanceStore interface {
	GetUserTag(ctx context.Context, idTag string) (*models.UserTag, error)
	AddUserTag(ctx context.Context, userTag *models.UserTag) error
	// DecreaseBalance atomically subtracts amount and returns the balance before the change
	DecreaseBalance(ctx context.Context, idTag string, amount float64) (float64, error)
	// IncreaseBalance atomically adds amount and returns the new balance
	IncreaseBalance(ctx context.Context, idTag string, amount float64) (float64, error)
}

// RemoteCommandDispatcher sends server initiated commands to a charge point;
// a nil error means the command was written, not that the station complied
type RemoteCommandDispatcher interface {
	SendRemoteStart(ctx context.Context, chargePointId string, connectorId int, idTag string) error
	SendRemoteStop(ctx context.Context, chargePointId string, transactionId int) error
}
