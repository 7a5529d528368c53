package server

import (
	"encoding/json"
	"fmt"
	"reflect"

	"evcs/ocpp"
	"evcs/ocpp/core"
	"evcs/ocpp/firmware"
	"evcs/types"
	"evcs/utility"
)

type CallType int

const (
	CallTypeRequest CallType = 2
	CallTypeResult  CallType = 3
	CallTypeError   CallType = 4
)

// CallRequest An OCPP-J Call message, containing an OCPP Request.
type CallRequest struct {
	TypeId   CallType
	UniqueId string
	feature  string
	Payload  ocpp.Request
}

func (callRequest *CallRequest) GetFeatureName() string {
	return callRequest.feature
}

func (callRequest *CallRequest) MarshalJSON() ([]byte, error) {
	fields := make([]interface{}, 4)
	fields[0] = int(callRequest.TypeId)
	fields[1] = callRequest.UniqueId
	fields[2] = callRequest.feature
	fields[3] = callRequest.Payload
	return json.Marshal(fields)
}

// CreateCallRequest wraps a server initiated request with a fresh unique id
func CreateCallRequest(request ocpp.Request) *CallRequest {
	return &CallRequest{
		TypeId:   CallTypeRequest,
		UniqueId: utility.NewUUID(),
		feature:  request.GetFeatureName(),
		Payload:  request,
	}
}

// CallResult An OCPP-J CallResult message, containing an OCPP Response.
type CallResult struct {
	TypeId   CallType
	UniqueId string
	Payload  ocpp.Response
}

func (callResult *CallResult) MarshalJSON() ([]byte, error) {
	fields := make([]interface{}, 3)
	fields[0] = int(callResult.TypeId)
	fields[1] = callResult.UniqueId
	fields[2] = callResult.Payload
	return json.Marshal(fields)
}

func CreateCallResult(confirmation ocpp.Response, uniqueId string) *CallResult {
	return &CallResult{
		TypeId:   CallTypeResult,
		UniqueId: uniqueId,
		Payload:  confirmation,
	}
}

// CallError An OCPP-J CallError message.
type CallError struct {
	TypeId           CallType
	UniqueId         string
	ErrorCode        types.ErrorCode
	ErrorDescription string
	ErrorDetails     interface{}
}

func (callError *CallError) Error() string {
	return fmt.Sprintf("%s: %s", callError.ErrorCode, callError.ErrorDescription)
}

func (callError *CallError) MarshalJSON() ([]byte, error) {
	details := callError.ErrorDetails
	if details == nil {
		details = struct{}{}
	}
	fields := make([]interface{}, 5)
	fields[0] = int(callError.TypeId)
	fields[1] = callError.UniqueId
	fields[2] = callError.ErrorCode
	fields[3] = callError.ErrorDescription
	fields[4] = details
	return json.Marshal(fields)
}

func CreateCallError(uniqueId string, code types.ErrorCode, description string) *CallError {
	return &CallError{
		TypeId:           CallTypeError,
		UniqueId:         uniqueId,
		ErrorCode:        code,
		ErrorDescription: description,
	}
}

// RawResult a CallResult whose payload is decoded later, once the request it answers is known
type RawResult struct {
	UniqueId string
	Payload  json.RawMessage
}

func MessageType(data []interface{}) (CallType, error) {
	if len(data) < 3 {
		return 0, utility.Err("message is too short")
	}
	rawTypeId, ok := data[0].(float64)
	if !ok {
		return 0, utility.Err(fmt.Sprintf("invalid message type: %v", data[0]))
	}
	return CallType(rawTypeId), nil
}

func uniqueIdOf(data []interface{}) string {
	if len(data) < 2 {
		return ""
	}
	id, _ := data[1].(string)
	return id
}

// ParseRequest decodes a Call frame; errors are *CallError ready to be sent back
func ParseRequest(data []interface{}) (*CallRequest, error) {
	uniqueId := uniqueIdOf(data)
	if len(data) != 4 {
		return nil, CreateCallError(uniqueId, types.FormationViolation, "unsupported request format; expected length: 4 elements")
	}
	if uniqueId == "" {
		return nil, CreateCallError(uniqueId, types.FormationViolation, "invalid message unique id in request")
	}
	action, ok := data[2].(string)
	if !ok {
		return nil, CreateCallError(uniqueId, types.FormationViolation, "invalid action in request")
	}
	requestType, err := getRequestType(action)
	if err != nil {
		return nil, CreateCallError(uniqueId, types.NotImplemented, err.Error())
	}
	request, err := ParseRawJsonRequest(data[3], requestType)
	if err != nil {
		return nil, CreateCallError(uniqueId, types.FormationViolation, err.Error())
	}
	return &CallRequest{
		TypeId:   CallTypeRequest,
		UniqueId: uniqueId,
		feature:  action,
		Payload:  request,
	}, nil
}

func ParseResult(data []interface{}) (*RawResult, error) {
	if len(data) != 3 {
		return nil, utility.Err("unsupported result format; expected length: 3 elements")
	}
	uniqueId := uniqueIdOf(data)
	if uniqueId == "" {
		return nil, utility.Err("invalid message unique id in result")
	}
	payload, err := json.Marshal(data[2])
	if err != nil {
		return nil, err
	}
	return &RawResult{UniqueId: uniqueId, Payload: payload}, nil
}

func ParseError(data []interface{}) (*CallError, error) {
	if len(data) < 4 {
		return nil, utility.Err("unsupported error format; expected at least 4 elements")
	}
	uniqueId := uniqueIdOf(data)
	if uniqueId == "" {
		return nil, utility.Err("invalid message unique id in error")
	}
	code, _ := data[2].(string)
	description, _ := data[3].(string)
	callError := CreateCallError(uniqueId, types.ErrorCode(code), description)
	if len(data) > 4 {
		callError.ErrorDetails = data[4]
	}
	return callError, nil
}

func getRequestType(action string) (requestType reflect.Type, err error) {
	switch action {
	case core.BootNotificationFeatureName:
		requestType = reflect.TypeOf(core.BootNotificationRequest{})
	case core.AuthorizeFeatureName:
		requestType = reflect.TypeOf(core.AuthorizeRequest{})
	case core.HeartbeatFeatureName:
		requestType = reflect.TypeOf(core.HeartbeatRequest{})
	case core.StartTransactionFeatureName:
		requestType = reflect.TypeOf(core.StartTransactionRequest{})
	case core.StopTransactionFeatureName:
		requestType = reflect.TypeOf(core.StopTransactionRequest{})
	case core.MeterValuesFeatureName:
		requestType = reflect.TypeOf(core.MeterValuesRequest{})
	case core.StatusNotificationFeatureName:
		requestType = reflect.TypeOf(core.StatusNotificationRequest{})
	case core.DataTransferFeatureName:
		requestType = reflect.TypeOf(core.DataTransferRequest{})
	case firmware.DiagnosticsStatusNotificationFeatureName:
		requestType = reflect.TypeOf(firmware.DiagnosticsStatusNotificationRequest{})
	case firmware.StatusNotificationFeatureName:
		requestType = reflect.TypeOf(firmware.StatusNotificationRequest{})
	default:
		return nil, utility.Err(fmt.Sprintf("unsupported action requested: %s", action))
	}
	return requestType, nil
}

func getResponseType(feature string) (responseType reflect.Type, err error) {
	switch feature {
	case core.RemoteStartTransactionFeatureName:
		responseType = reflect.TypeOf(core.RemoteStartTransactionResponse{})
	case core.RemoteStopTransactionFeatureName:
		responseType = reflect.TypeOf(core.RemoteStopTransactionResponse{})
	default:
		return nil, utility.Err(fmt.Sprintf("unsupported response feature: %s", feature))
	}
	return responseType, nil
}

func ParseRawJsonRequest(raw interface{}, requestType reflect.Type) (ocpp.Request, error) {
	if raw == nil {
		raw = &struct{}{}
	}
	bytes, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	request := reflect.New(requestType).Interface()
	if err = json.Unmarshal(bytes, request); err != nil {
		return nil, err
	}
	return request.(ocpp.Request), nil
}

func ParseRawJsonResponse(raw json.RawMessage, responseType reflect.Type) (ocpp.Response, error) {
	response := reflect.New(responseType).Interface()
	if err := json.Unmarshal(raw, response); err != nil {
		return nil, err
	}
	return response.(ocpp.Response), nil
}
