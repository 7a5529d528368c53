package errorlistener

import (
	"context"
	"sync"
	"testing"
	"time"

	"evcs/internal"
	"evcs/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type databaseMock struct {
	written []*models.ErrorData
	counted chan struct{}
	mux     sync.Mutex
}

func (d *databaseMock) WriteError(_ context.Context, data *models.ErrorData) error {
	d.mux.Lock()
	defer d.mux.Unlock()
	d.written = append(d.written, data)
	return nil
}

func (d *databaseMock) GetTodayErrorCount(_ context.Context) ([]*models.ErrorCounter, error) {
	defer close(d.counted)
	return []*models.ErrorCounter{{ChargePointID: "CP01", ErrorCode: "GroundFailure", Count: 1}}, nil
}

func TestErrorListenerStoresFailure(t *testing.T) {
	logger := internal.NewLogger(zap.NewNop(), nil)
	defer logger.Close()
	db := &databaseMock{counted: make(chan struct{})}
	listener := NewErrorListener(db, logger)

	listener.OnStationFailure(&internal.EventMessage{
		ChargePointId: "CP01",
		ConnectorId:   2,
		ErrorCode:     "GroundFailure",
		Status:        "Faulted",
		Time:          time.Now(),
	})

	select {
	case <-db.counted:
	case <-time.After(time.Second):
		t.Fatal("error counter was not refreshed")
	}
	db.mux.Lock()
	defer db.mux.Unlock()
	require.Len(t, db.written, 1)
	assert.Equal(t, 2, db.written[0].ConnectorID)
	assert.Equal(t, "GroundFailure", db.written[0].ErrorCode)
}

func TestErrorListenerWithoutDatabase(t *testing.T) {
	logger := internal.NewLogger(zap.NewNop(), nil)
	defer logger.Close()
	listener := NewErrorListener(nil, logger)
	assert.NotPanics(t, func() {
		listener.OnStationFailure(&internal.EventMessage{ChargePointId: "CP01", ErrorCode: "OtherError"})
	})
}
