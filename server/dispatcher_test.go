package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"evcs/internal"
	"evcs/ocpp"
	"evcs/ocpp/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type senderMock struct {
	requests []ocpp.Request
	err      error
	block    bool
	nextId   string
}

func (s *senderMock) SendRequest(ctx context.Context, _ string, request ocpp.Request) (string, error) {
	if s.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if s.err != nil {
		return "", s.err
	}
	s.requests = append(s.requests, request)
	return s.nextId, nil
}

func newTestDispatcher(t *testing.T, sender *senderMock, timeout time.Duration) *Dispatcher {
	t.Helper()
	logger := internal.NewLogger(zap.NewNop(), nil)
	t.Cleanup(logger.Close)
	return NewDispatcher(sender, timeout, logger)
}

func TestDispatcherSend(t *testing.T) {
	sender := &senderMock{nextId: "u1"}
	d := newTestDispatcher(t, sender, time.Second)

	require.NoError(t, d.SendRemoteStart(context.Background(), "CP01", 2, "TAG01"))
	require.Len(t, sender.requests, 1)
	start, ok := sender.requests[0].(*core.RemoteStartTransactionRequest)
	require.True(t, ok)
	assert.Equal(t, "TAG01", start.IdTag)
	require.NotNil(t, start.ConnectorId)
	assert.Equal(t, 2, *start.ConnectorId)
	assert.Equal(t, 1, d.pendingCount())

	d.OnCallResult("CP01", &RawResult{UniqueId: "u1", Payload: json.RawMessage(`{"status":"Accepted"}`)})
	assert.Equal(t, 0, d.pendingCount())

	// late or foreign answers are ignored
	d.OnCallResult("CP01", &RawResult{UniqueId: "u1", Payload: json.RawMessage(`{"status":"Accepted"}`)})
	assert.Equal(t, 0, d.pendingCount())
}

func TestDispatcherCallError(t *testing.T) {
	sender := &senderMock{nextId: "u2"}
	d := newTestDispatcher(t, sender, time.Second)

	require.NoError(t, d.SendRemoteStop(context.Background(), "CP01", 9))
	stop, ok := sender.requests[0].(*core.RemoteStopTransactionRequest)
	require.True(t, ok)
	assert.Equal(t, 9, stop.TransactionId)

	d.OnCallError("CP01", CreateCallError("u2", "NotSupported", "busy"))
	assert.Equal(t, 0, d.pendingCount())
}

func TestDispatcherErrors(t *testing.T) {
	d := newTestDispatcher(t, &senderMock{err: internal.ErrNotConnected}, time.Second)
	err := d.SendRemoteStop(context.Background(), "CP01", 1)
	assert.ErrorIs(t, err, internal.ErrNotConnected)
	assert.Equal(t, 0, d.pendingCount())

	d = newTestDispatcher(t, &senderMock{block: true}, 20*time.Millisecond)
	started := time.Now()
	err = d.SendRemoteStart(context.Background(), "CP01", 1, "TAG01")
	assert.ErrorIs(t, err, internal.ErrCommandTimeout)
	assert.Less(t, time.Since(started), time.Second)

	d = newTestDispatcher(t, &senderMock{err: errors.New("broken pipe")}, time.Second)
	err = d.SendRemoteStart(context.Background(), "CP01", 1, "TAG01")
	require.Error(t, err)
	assert.Equal(t, "failed", sendResult(err))
}

func TestDispatcherPrunesStalePending(t *testing.T) {
	sender := &senderMock{nextId: "old"}
	d := newTestDispatcher(t, sender, time.Millisecond)
	require.NoError(t, d.SendRemoteStop(context.Background(), "CP01", 1))

	time.Sleep(20 * time.Millisecond)
	sender.nextId = "new"
	require.NoError(t, d.SendRemoteStop(context.Background(), "CP01", 2))
	assert.Equal(t, 1, d.pendingCount())
}
