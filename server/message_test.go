package server

import (
	"encoding/json"
	"errors"
	"testing"

	"evcs/ocpp/core"
	"evcs/types"
	"evcs/utility"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, frame string) []interface{} {
	t.Helper()
	message, err := utility.ParseJson([]byte(frame))
	require.NoError(t, err)
	return message
}

func TestParseRequest(t *testing.T) {
	message := parse(t, `[2,"19223201","BootNotification",{"chargePointVendor":"VendorX","chargePointModel":"SingleSocketCharger"}]`)

	callType, err := MessageType(message)
	require.NoError(t, err)
	assert.Equal(t, CallTypeRequest, callType)

	request, err := ParseRequest(message)
	require.NoError(t, err)
	assert.Equal(t, "19223201", request.UniqueId)
	assert.Equal(t, core.BootNotificationFeatureName, request.GetFeatureName())
	boot, ok := request.Payload.(*core.BootNotificationRequest)
	require.True(t, ok)
	assert.Equal(t, "VendorX", boot.ChargePointVendor)
}

func TestParseRequestEmptyPayload(t *testing.T) {
	request, err := ParseRequest(parse(t, `[2,"1","Heartbeat",{}]`))
	require.NoError(t, err)
	_, ok := request.Payload.(*core.HeartbeatRequest)
	assert.True(t, ok)
}

func TestParseRequestErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		id    string
		code  types.ErrorCode
	}{
		{"unknown action", `[2,"a1","Reset",{}]`, "a1", types.NotImplemented},
		{"missing payload", `[2,"a2","Heartbeat"]`, "a2", types.FormationViolation},
		{"bad payload", `[2,"a3","StartTransaction",{"connectorId":"one"}]`, "a3", types.FormationViolation},
		{"no unique id", `[2,"","Heartbeat",{}]`, "", types.FormationViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest(parse(t, tt.frame))
			var callError *CallError
			require.True(t, errors.As(err, &callError))
			assert.Equal(t, tt.id, callError.UniqueId)
			assert.Equal(t, tt.code, callError.ErrorCode)
		})
	}
}

func TestParseResultAndError(t *testing.T) {
	result, err := ParseResult(parse(t, `[3,"r1",{"status":"Accepted"}]`))
	require.NoError(t, err)
	assert.Equal(t, "r1", result.UniqueId)
	assert.JSONEq(t, `{"status":"Accepted"}`, string(result.Payload))

	callError, err := ParseError(parse(t, `[4,"r2","NotSupported","no remote start",{}]`))
	require.NoError(t, err)
	assert.Equal(t, "r2", callError.UniqueId)
	assert.Equal(t, types.ErrorCode("NotSupported"), callError.ErrorCode)
	assert.Equal(t, "no remote start", callError.ErrorDescription)

	_, err = ParseResult(parse(t, `[3,"r3"]`))
	assert.Error(t, err)
}

func TestMessageTypeInvalid(t *testing.T) {
	_, err := MessageType(parse(t, `["2","x","Heartbeat",{}]`))
	assert.Error(t, err)
	_, err = MessageType(parse(t, `[2]`))
	assert.Error(t, err)
}

func TestCallFramesMarshal(t *testing.T) {
	request := CreateCallRequest(core.NewRemoteStopTransactionRequest(7))
	data, err := json.Marshal(request)
	require.NoError(t, err)
	assert.JSONEq(t, `[2,"`+request.UniqueId+`","RemoteStopTransaction",{"transactionId":7}]`, string(data))

	data, err = json.Marshal(CreateCallResult(core.NewMeterValuesResponse(), "m1"))
	require.NoError(t, err)
	assert.JSONEq(t, `[3,"m1",{}]`, string(data))

	data, err = json.Marshal(CreateCallError("e1", types.InternalError, "storage"))
	require.NoError(t, err)
	assert.JSONEq(t, `[4,"e1","InternalError","storage",{}]`, string(data))
}

func TestParseRawJsonResponse(t *testing.T) {
	responseType, err := getResponseType(core.RemoteStartTransactionFeatureName)
	require.NoError(t, err)
	response, err := ParseRawJsonResponse(json.RawMessage(`{"status":"Rejected"}`), responseType)
	require.NoError(t, err)
	assert.Equal(t, types.RemoteStartStopStatusRejected, remoteStatus(response))

	_, err = getResponseType(core.HeartbeatFeatureName)
	assert.Error(t, err)
}
