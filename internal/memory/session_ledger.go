package memory

import (
	"context"
	"sync"

	"evcs/internal"
	"evcs/models"
	"evcs/utility"
)

type SessionLedger struct {
	lastId       int
	transactions map[int]*models.Transaction
	byConnector  map[string][]int
	mux          sync.RWMutex
}

func NewSessionLedger() *SessionLedger {
	return &SessionLedger{
		transactions: make(map[int]*models.Transaction),
		byConnector:  make(map[string][]int),
	}
}

func copyTransaction(t *models.Transaction) *models.Transaction {
	copied := *t
	copied.MeterValues = append([]models.TransactionMeter(nil), t.MeterValues...)
	return &copied
}

func (l *SessionLedger) AddTransaction(_ context.Context, transaction *models.Transaction) (int, error) {
	l.mux.Lock()
	defer l.mux.Unlock()
	l.lastId++
	transaction.Id = l.lastId
	l.transactions[transaction.Id] = copyTransaction(transaction)
	key := utility.ConnectorKey(transaction.ChargePointId, transaction.ConnectorId)
	l.byConnector[key] = append(l.byConnector[key], transaction.Id)
	return transaction.Id, nil
}

func (l *SessionLedger) GetTransaction(_ context.Context, id int) (*models.Transaction, error) {
	l.mux.RLock()
	defer l.mux.RUnlock()
	transaction, ok := l.transactions[id]
	if !ok {
		return nil, internal.ErrNotFound
	}
	return copyTransaction(transaction), nil
}

func (l *SessionLedger) CloseTransaction(_ context.Context, id int, stop models.TransactionStop) (*models.Transaction, error) {
	l.mux.Lock()
	defer l.mux.Unlock()
	transaction, ok := l.transactions[id]
	if !ok {
		return nil, internal.ErrNotFound
	}
	if transaction.IsFinished {
		return copyTransaction(transaction), internal.ErrTransactionClosed
	}
	transaction.Close(stop)
	return copyTransaction(transaction), nil
}

func (l *SessionLedger) AddMeterValues(_ context.Context, id int, values []models.TransactionMeter) error {
	l.mux.Lock()
	defer l.mux.Unlock()
	transaction, ok := l.transactions[id]
	if !ok {
		return internal.ErrNotFound
	}
	transaction.MeterValues = append(transaction.MeterValues, values...)
	return nil
}

func (l *SessionLedger) GetMeterValues(_ context.Context, id int) ([]models.TransactionMeter, error) {
	l.mux.RLock()
	defer l.mux.RUnlock()
	transaction, ok := l.transactions[id]
	if !ok {
		return nil, internal.ErrNotFound
	}
	return append([]models.TransactionMeter(nil), transaction.MeterValues...), nil
}

func (l *SessionLedger) GetActiveTransactions(_ context.Context, chargePointId string, connectorId int) ([]*models.Transaction, error) {
	l.mux.RLock()
	defer l.mux.RUnlock()
	var active []*models.Transaction
	for _, id := range l.byConnector[utility.ConnectorKey(chargePointId, connectorId)] {
		transaction := l.transactions[id]
		if !transaction.IsFinished {
			active = append(active, copyTransaction(transaction))
		}
	}
	return active, nil
}
